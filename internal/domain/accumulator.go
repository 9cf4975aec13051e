package domain

// Accumulator builds a running weighted composite for one merge round.
// Sums and Wgts hold one slot per month across the full year span of
// the station group. An accumulator is created fresh when a seed is
// chosen and belongs exclusively to that seed's fold loop.
type Accumulator struct {
	Begin int // calendar year of slot 0
	Sums  []float64
	Wgts  []float64
}

// NewAccumulator allocates sums/weights arrays spanning years starting
// at the seed's first year and pre-loads them with the seed's own data
// at weight 1 where valid. The seed's series must not be longer than
// the span.
func NewAccumulator(seed *Record, years int) *Accumulator {
	nmonths := years * 12
	acc := &Accumulator{
		Begin: seed.FirstYear,
		Sums:  make([]float64, nmonths),
		Wgts:  make([]float64, nmonths),
	}
	for i, v := range seed.Series {
		if Valid(v) {
			acc.Sums[i] = v
			acc.Wgts[i] = 1
		}
	}
	return acc
}

// Add folds a record into the accumulator, shifting each datum by
// subtracting diff and adding it at weight 1. The record is assumed to
// start in the same year as the accumulator.
func (a *Accumulator) Add(rec *Record, diff float64) {
	for i, v := range rec.Series {
		if Invalid(v) {
			continue
		}
		a.Sums[i] += v - diff
		a.Wgts[i]++
	}
}

// Average returns the current weighted-average series, Missing where
// no data has been accumulated.
func (a *Accumulator) Average() []float64 {
	return Average(a.Sums, a.Wgts)
}

// Endpoints returns the first and last calendar years that carry any
// weight, i.e. contain at least one accumulated month.
func (a *Accumulator) Endpoints() (first, last int) {
	yMin, yMax := -1, 0
	for i := 0; i < len(a.Wgts); i += 12 {
		total := 0.0
		for _, w := range a.Wgts[i : i+12] {
			total += w
		}
		if total > 0 {
			y := i / 12
			if yMin < 0 {
				yMin = y
			}
			yMax = y
		}
	}
	if yMin < 0 {
		return 0, 0
	}
	return a.Begin + yMin, a.Begin + yMax
}

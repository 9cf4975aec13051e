package domain

import "math"

// RefPeriod is an inclusive calendar-year range used as the baseline
// for anomaly computation, e.g. {1951, 1980}.
type RefPeriod struct {
	First int
	Last  int
}

// ValidMean computes the mean of the valid values in seq. If fewer
// than min values are valid the result is Missing.
func ValidMean(seq []float64, min int) float64 {
	count := 0
	sum := 0.0
	for _, v := range seq {
		if Valid(v) {
			sum += v
			count++
		}
	}
	if count >= min {
		return sum / float64(count)
	}
	return Missing
}

// MonthlyAnomalies splits a flat monthly series into 12 per-calendar-
// month rows, computes each month's mean over the reference period,
// and subtracts it from every valid datum of that month.
//
// When ref is nil, or a month has no valid data inside the reference
// period (which is clamped to the series), the mean for that month is
// taken over the whole series instead. Missing inputs stay Missing.
// baseYear is the calendar year of the first datum.
func MonthlyAnomalies(data []float64, ref *RefPeriod, baseYear int) ([12]float64, [12][]float64) {
	years := len(data) / 12
	lo, hi := 0, 0
	if ref != nil {
		lo = ref.First - baseYear
		hi = ref.Last - baseYear + 1
		if lo < 0 {
			lo = 0
		}
		if hi > years {
			hi = years
		}
		if hi < lo {
			hi = lo
		}
	}

	var means [12]float64
	var anoms [12][]float64
	for m := 0; m < 12; m++ {
		row := make([]float64, years)
		for y := 0; y < years; y++ {
			row[y] = data[y*12+m]
		}
		mean := ValidMean(row[lo:hi], 1)
		if Invalid(mean) {
			// Fall back to the whole series.
			mean = ValidMean(row, 1)
		}
		means[m] = mean
		if Invalid(mean) {
			for y := range row {
				row[y] = Missing
			}
		} else {
			for y, v := range row {
				if Valid(v) {
					row[y] = v - mean
				}
			}
		}
		anoms[m] = row
	}
	return means, anoms
}

// seasons groups calendar months (0-based) into the four standard
// meteorological seasons, December-first.
var seasons = [4][3]int{
	{11, 0, 1}, // Dec, Jan, Feb
	{2, 3, 4},  // Mar, Apr, May
	{5, 6, 7},  // Jun, Jul, Aug
	{8, 9, 10}, // Sep, Oct, Nov
}

// MonthlyAnnual computes an annual mean and a per-year sequence of
// annual anomalies from a flat monthly series, going via seasonal
// means and anomalies.
//
// December counts toward the following year's DJF season, so the
// December anomaly row is shifted forward by one year and the first
// year's slot becomes invalid. A season needs at least 2 of its 3
// months valid; a year needs at least 3 of its 4 seasons valid.
func MonthlyAnnual(data []float64) (float64, []float64) {
	years := len(data) / 12
	monthlyMean, monthlyAnom := MonthlyAnomalies(data, nil, 0)

	var seasonalMean [4]float64
	var seasonalAnom [4][]float64
	for s, months := range seasons {
		seasonalMean[s] = ValidMean([]float64{
			monthlyMean[months[0]],
			monthlyMean[months[1]],
			monthlyMean[months[2]],
		}, 2)

		monthInSeason := make([][]float64, 0, 3)
		for _, m := range months {
			row := monthlyAnom[m]
			if m == 11 {
				// Use the previous year's December.
				shifted := make([]float64, years)
				shifted[0] = Missing
				copy(shifted[1:], row[:len(row)-1])
				row = shifted
			}
			monthInSeason = append(monthInSeason, row)
		}
		seasonRow := make([]float64, years)
		for y := 0; y < years; y++ {
			seasonRow[y] = ValidMean([]float64{
				monthInSeason[0][y],
				monthInSeason[1][y],
				monthInSeason[2][y],
			}, 2)
		}
		seasonalAnom[s] = seasonRow
	}

	annualMean := ValidMean(seasonalMean[:], 3)
	annualAnoms := make([]float64, years)
	for y := 0; y < years; y++ {
		annualAnoms[y] = ValidMean([]float64{
			seasonalAnom[0][y],
			seasonalAnom[1][y],
			seasonalAnom[2][y],
			seasonalAnom[3][y],
		}, 3)
	}
	return annualMean, annualAnoms
}

// Sigma computes the population standard deviation of the valid values
// in seq, or Missing when there are none. Two-pass form keeps the
// sqrt argument non-negative.
func Sigma(seq []float64) float64 {
	count := 0
	sum := 0.0
	for _, v := range seq {
		if Valid(v) {
			sum += v
			count++
		}
	}
	if count == 0 {
		return Missing
	}
	mean := sum / float64(count)
	ss := 0.0
	for _, v := range seq {
		if Valid(v) {
			d := v - mean
			ss += d * d
		}
	}
	return math.Sqrt(ss / float64(count))
}

// Average divides sums by wgts elementwise, producing Missing wherever
// the weight is zero.
func Average(sums, wgts []float64) []float64 {
	data := make([]float64, len(sums))
	for i := range sums {
		if wgts[i] != 0 {
			data[i] = sums[i] / wgts[i]
		} else {
			data[i] = Missing
		}
	}
	return data
}

// UniformWeights returns a weight array of length n with w at every
// slot, for callers that want a scalar weight broadcast.
func UniformWeights(n int, w float64) []float64 {
	wgts := make([]float64, n)
	for i := range wgts {
		wgts[i] = w
	}
	return wgts
}

// Combine merges newData into composite in place, one calendar month
// at a time.
//
// For each month the bias between the two series is estimated as the
// mean difference over the years where both are valid; months with
// fewer than minOverlap such years are left untouched. Elsewhere every
// valid newData value, shifted by the bias, is blended into composite
// according to the existing weights and newWeight, and weight[i] is
// increased accordingly. Mutating composite and weight in place is the
// contract: callers thread the same arrays through successive merges.
//
// The returned array counts, per calendar month, how many values were
// newly combined.
func Combine(composite, weight, newData, newWeight []float64, minOverlap int) [12]int {
	var dataCombined [12]int
	for m := 0; m < 12; m++ {
		sum := 0.0
		sumNew := 0.0
		count := 0
		for i := m; i < len(composite) && i < len(newData); i += 12 {
			if Invalid(composite[i]) || Invalid(newData[i]) {
				continue
			}
			count++
			sum += composite[i]
			sumNew += newData[i]
		}
		if count < minOverlap {
			continue
		}
		bias := 0.0
		if count > 0 {
			bias = (sum - sumNew) / float64(count)
		}

		for i := m; i < len(newData); i += 12 {
			if Invalid(newData[i]) {
				continue
			}
			monthWeight := weight[i] + newWeight[i]
			composite[i] = (weight[i]*composite[i] + newWeight[i]*(newData[i]+bias)) / monthWeight
			weight[i] = monthWeight
			dataCombined[m]++
		}
	}
	return dataCombined
}

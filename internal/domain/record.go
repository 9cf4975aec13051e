package domain

import "fmt"

// Missing is the sentinel for "no observation" in a monthly series.
// It is carried on the wire as-is and excluded from every statistic.
const Missing = 9999.0

// Valid reports whether a monthly datum is a real observation.
func Valid(v float64) bool { return v != Missing }

// Invalid reports whether a monthly datum is the Missing sentinel.
func Invalid(v float64) bool { return v == Missing }

// stationKeyLen is the length of the UID prefix identifying the
// physical station, independent of which network observed it.
const stationKeyLen = 11

// Source identifies the observing network a record came from.
type Source string

const (
	SourceMCDW     Source = "MCDW"
	SourceUSHCN    Source = "USHCN2"
	SourceSumOfDay Source = "SUMOFDAY"
	SourceUnknown  Source = "UNKNOWN"
)

// sourceRanks orders networks by data quality. Higher is better.
var sourceRanks = map[Source]int{
	SourceMCDW:     4,
	SourceUSHCN:    3,
	SourceSumOfDay: 2,
	SourceUnknown:  1,
}

// Rank returns the quality rank of the source, or an error for an
// unrecognized network. An unknown-but-recognized source ranks lowest.
func (s Source) Rank() (int, error) {
	r, ok := sourceRanks[s]
	if !ok {
		return 0, fmt.Errorf("unrecognized record source %q", string(s))
	}
	return r, nil
}

// Record is one station-observation monthly temperature series.
//
// Series holds one slot per month starting in January of FirstYear;
// its length is always an exact multiple of 12. AnnMean and AnnAnoms
// are derived from Series by ComputeAnnual and must be refreshed
// whenever the series changes.
type Record struct {
	UID       string    `json:"uid"`
	Source    Source    `json:"source"`
	FirstYear int       `json:"first_year"`
	Series    []float64 `json:"series"`

	AnnMean  float64   `json:"-"`
	AnnAnoms []float64 `json:"-"`
}

// StationKey returns the physical-station grouping key: the first 11
// bytes of the UID, shared by duplicate records from different networks.
func (r *Record) StationKey() string {
	if len(r.UID) < stationKeyLen {
		return r.UID
	}
	return r.UID[:stationKeyLen]
}

// Years returns the number of calendar years the series spans.
func (r *Record) Years() int { return len(r.Series) / 12 }

// LastYear returns the final calendar year covered by the series.
func (r *Record) LastYear() int { return r.FirstYear + r.Years() - 1 }

// FirstValidYear returns the first calendar year containing any valid
// observation, or 0 when the series is entirely missing.
func (r *Record) FirstValidYear() int {
	for i, v := range r.Series {
		if Valid(v) {
			return r.FirstYear + i/12
		}
	}
	return 0
}

// LastValidYear returns the last calendar year containing any valid
// observation, or 0 when the series is entirely missing.
func (r *Record) LastValidYear() int {
	for i := len(r.Series) - 1; i >= 0; i-- {
		if Valid(r.Series[i]) {
			return r.FirstYear + i/12
		}
	}
	return 0
}

// AnnAnomsGoodCount returns the number of valid annual anomalies. This
// is the "length" used when ranking records of equal source quality.
func (r *Record) AnnAnomsGoodCount() int {
	n := 0
	for _, a := range r.AnnAnoms {
		if Valid(a) {
			n++
		}
	}
	return n
}

// SetSeries replaces the record's series and start year. Derived
// annual statistics are stale until ComputeAnnual is called again.
func (r *Record) SetSeries(firstYear int, series []float64) {
	r.FirstYear = firstYear
	r.Series = series
}

// ComputeAnnual refreshes the derived annual mean and annual anomaly
// sequence from the current series.
func (r *Record) ComputeAnnual() {
	r.AnnMean, r.AnnAnoms = MonthlyAnnual(r.Series)
}

// Validate checks the structural invariants every record on the wire
// must satisfy before it can enter reconciliation.
func (r *Record) Validate() error {
	if r.UID == "" {
		return fmt.Errorf("record has no uid")
	}
	if len(r.Series) == 0 || len(r.Series)%12 != 0 {
		return fmt.Errorf("record %s: series length %d is not a positive multiple of 12", r.UID, len(r.Series))
	}
	if _, err := r.Source.Rank(); err != nil {
		return fmt.Errorf("record %s: %w", r.UID, err)
	}
	return nil
}

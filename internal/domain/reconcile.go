package domain

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/couchcryptid/station-data-recon/internal/auditlog"
)

// Params holds the read-only merge thresholds. They arrive from
// configuration and are threaded through explicitly, never ambient.
type Params struct {
	// MinOverlapYears is the minimum annual-anomaly overlap for the
	// strict pass to fold a candidate into the running composite.
	MinOverlapYears int
	// BucketRadius is the maximum half-width, in years, of the window
	// grown around the common middle year in the loose pass.
	BucketRadius int
	// MinMidYears is the minimum count of valid annual anomalies each
	// side must have inside the window for a loose-pass overlap.
	MinMidYears int
}

// Stats counts merge decisions across one group's reconciliation, for
// metrics. Rejections end a fold loop, so there is at most one per
// seed per pass.
type Stats struct {
	StrictFolds   int
	StrictRejects int
	LooseFolds    int
	LooseRejects  int
}

// Reconciler merges duplicate records for the same physical station:
// a strict bias-adjusted pass, a one-shot discontinuity adjustment,
// then a loose windowed-acceptance pass over whatever the strict pass
// could not absorb.
type Reconciler struct {
	params      Params
	adjustments map[string]Adjustment
	combLog     *auditlog.Log
	piecesLog   *auditlog.Log
	logger      *slog.Logger
}

// NewReconciler creates a Reconciler. adjustments may be nil; it is
// consumed entry by entry as matching records flow through.
func NewReconciler(params Params, adjustments map[string]Adjustment, combLog, piecesLog *auditlog.Log, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		params:      params,
		adjustments: adjustments,
		combLog:     combLog,
		piecesLog:   piecesLog,
		logger:      logger,
	}
}

// ReconcileGroup merges one station group. The group must be non-empty
// and every record must share the same first calendar year; a mismatch
// is a contract violation from the upstream reader and aborts the run.
func (r *Reconciler) ReconcileGroup(group []*Record) ([]*Record, Stats, error) {
	var stats Stats
	if len(group) == 0 {
		return nil, stats, nil
	}

	merged, err := r.combineRecords(group, &stats)
	if err != nil {
		return nil, stats, err
	}
	for _, rec := range merged {
		r.applyAdjustment(rec)
	}
	final, err := r.combinePieces(merged, &stats)
	if err != nil {
		return nil, stats, err
	}

	r.logger.Debug("reconciled station group",
		"station", group[0].StationKey(),
		"records_in", len(group),
		"records_out", len(final),
		"strict_folds", stats.StrictFolds,
		"loose_folds", stats.LooseFolds,
	)
	return final, stats, nil
}

// combineRecords is the strict pass: seeds are chosen by source
// quality, candidates fold in while their annual-anomaly overlap meets
// the configured minimum, each shifted by the mean bias against the
// running composite.
func (r *Reconciler) combineRecords(group []*Record, stats *Stats) ([]*Record, error) {
	return r.runPass(group, r.combLog, GetBest, r.strictFold(stats))
}

// combinePieces is the loose pass: seeds are chosen by valid-data
// length, candidates fold in unshifted when the windowed comparison in
// findQuintuples accepts them.
func (r *Reconciler) combinePieces(group []*Record, stats *Stats) ([]*Record, error) {
	return r.runPass(group, r.piecesLog, func(pool []*Record) (*Record, error) {
		return GetLongest(pool), nil
	}, r.looseFold(stats))
}

// selectFunc picks the next seed from a non-empty working set.
type selectFunc func(pool []*Record) (*Record, error)

// foldFunc folds compatible candidates from pool into acc, returning
// whatever it could not absorb.
type foldFunc func(acc *Accumulator, pool []*Record, seedUID string, log *auditlog.Log) []*Record

// runPass drives one reconciliation pass over one station group:
// select a seed, fold the best-matching candidates into a fresh
// accumulator until the acceptance test fails, finalize the seed from
// the accumulator average, repeat until the working set is empty.
func (r *Reconciler) runPass(group []*Record, log *auditlog.Log, sel selectFunc, fold foldFunc) ([]*Record, error) {
	log.Printf("%s\n", group[0].StationKey())

	for _, rec := range group {
		rec.ComputeAnnual()
	}
	begin, end, err := groupSpan(group)
	if err != nil {
		return nil, err
	}
	years := end - begin + 1

	working := append([]*Record(nil), group...)
	out := make([]*Record, 0, len(group))
	for len(working) > 0 {
		if len(working) == 1 {
			out = append(out, working[0])
			break
		}
		seed, err := sel(working)
		if err != nil {
			return nil, err
		}
		working = removeRecord(working, seed)
		acc := NewAccumulator(seed, years)
		log.Printf("\t%s %d %d -- %s\n", seed.UID, seed.FirstValidYear(), seed.LastValidYear(), seed.Source)
		working = fold(acc, working, seed.UID, log)
		seed.SetSeries(begin, acc.Average())
		out = append(out, seed)
	}
	return out, nil
}

// strictFold folds candidates while their overlap meets the strict
// minimum, shifting each by the mean bias against the composite. The
// composite average is refreshed after every fold because the next
// overlap comparison runs against the updated series.
func (r *Reconciler) strictFold(stats *Stats) foldFunc {
	return func(acc *Accumulator, pool []*Record, seedUID string, log *auditlog.Log) []*Record {
		for len(pool) > 0 {
			rec, diff, overlap := LongestOverlap(acc.Average(), acc.Begin, pool)
			if overlap < r.params.MinOverlapYears {
				log.Printf("\tno other records okay\n")
				stats.StrictRejects++
				return pool
			}
			pool = removeRecord(pool, rec)
			acc.Add(rec, diff)
			stats.StrictFolds++
			log.Printf("\t %s %d %d %f\n", rec.UID, rec.FirstValidYear(), rec.LastValidYear(), diff)
		}
		return pool
	}
}

// looseFold folds candidates accepted by the windowed comparison, with
// no bias shift. The first rejection ends the loop.
func (r *Reconciler) looseFold(stats *Stats) foldFunc {
	return func(acc *Accumulator, pool []*Record, seedUID string, log *auditlog.Log) []*Record {
		for len(pool) > 0 {
			rec, _, _ := LongestOverlap(acc.Average(), acc.Begin, pool)
			log.Printf("\t %s %d %d\n", rec.UID, rec.FirstValidYear(), rec.LastValidYear())
			if !r.findQuintuples(acc, rec, seedUID, log) {
				log.Printf("\t***no other pieces okay***\n")
				stats.LooseRejects++
				return pool
			}
			pool = removeRecord(pool, rec)
			acc.Add(rec, 0)
			stats.LooseFolds++
		}
		return pool
	}
}

// findQuintuples decides whether a candidate whose strict overlap was
// too short may still fold into the composite. It grows a window
// around the middle of the two series' common span until both sides
// have enough valid annual anomalies inside it, then accepts the fold
// iff the absolute difference of the two window means is below the
// composite's own annual variability.
func (r *Reconciler) findQuintuples(acc *Accumulator, rec *Record, seedUID string, log *auditlog.Log) bool {
	logid := seedUID + " " + rec.UID

	recBegin := rec.FirstValidYear()
	recEnd := rec.LastValidYear()
	actualBegin, actualEnd := acc.Endpoints()

	maxBegin := max(actualBegin, recBegin)
	minEnd := min(actualEnd, recEnd)
	// Fractional middle years round up.
	middleYear := int(0.5*float64(maxBegin+minEnd) + 0.5)
	offset := middleYear - rec.FirstYear
	log.Printf("max begin: %d\tmin end: %d\n", maxBegin, minEnd)

	newAnnMean, newAnnAnoms := MonthlyAnnual(acc.Average())
	annStdDev := Sigma(newAnnAnoms)
	log.Printf("ann_std_dev = %v\n", annStdDev)

	okay := false
	ovSuccess := false
	newCount, recCount := 0, 0
	for rad := 1; rad <= r.params.BucketRadius; rad++ {
		base := max(offset-rad, 0)
		limit := offset + rad + 1
		newMiddle := validWindow(newAnnAnoms, base, limit)
		recMiddle := validWindow(rec.AnnAnoms, base, limit)
		newCount, recCount = len(newMiddle), len(recMiddle)
		if newCount < r.params.MinMidYears || recCount < r.params.MinMidYears {
			continue
		}
		log.Printf("overlap success: %s\n", logid)
		ovSuccess = true
		avg1 := shiftedMean(newMiddle, newAnnMean)
		avg2 := shiftedMean(recMiddle, rec.AnnMean)
		diff := math.Abs(avg1 - avg2)
		log.Printf("diff = %v\n", diff)
		if diff < annStdDev {
			okay = true
			log.Printf("combination success: %s\n", logid)
		} else {
			log.Printf("combination failure: %s\n", logid)
		}
		break
	}
	if !ovSuccess {
		log.Printf("overlap failure: %s\n", logid)
	}
	log.Printf("counts: %d %d\n", newCount, recCount)
	return okay
}

// validWindow extracts the valid values of anoms[base:limit], clamping
// the bounds to the sequence.
func validWindow(anoms []float64, base, limit int) []float64 {
	if base > len(anoms) {
		base = len(anoms)
	}
	if limit > len(anoms) {
		limit = len(anoms)
	}
	window := make([]float64, 0, limit-base)
	for _, v := range anoms[base:limit] {
		if Valid(v) {
			window = append(window, v)
		}
	}
	return window
}

// shiftedMean averages anomalies re-centered on the series mean.
func shiftedMean(anoms []float64, mean float64) float64 {
	sum := 0.0
	for _, v := range anoms {
		sum += v + mean
	}
	return sum / float64(len(anoms))
}

// applyAdjustment applies at most one discontinuity correction per
// record identifier, consuming the table entry. Re-running the table
// on its own output would double-apply, so consumption is part of the
// contract.
func (r *Reconciler) applyAdjustment(rec *Record) {
	adj, ok := r.adjustments[rec.UID]
	if !ok {
		return
	}
	ApplyAdjustment(rec, adj)
	delete(r.adjustments, rec.UID)
	r.logger.Info("applied discontinuity adjustment",
		"uid", rec.UID, "year", adj.Year, "month", adj.Month, "summand", adj.Summand)
}

// GetBest picks the seed for a strict merge round: the record from
// the strictly highest-quality network, falling back to the record
// with the most valid annual anomalies when no network beats UNKNOWN.
// Iteration is sorted by UID so ties resolve reproducibly.
func GetBest(pool []*Record) (*Record, error) {
	best := 1
	longest := -1
	var bestRec, longestRec *Record
	for _, rec := range sortedByUID(pool) {
		rank, err := rec.Source.Rank()
		if err != nil {
			return nil, err
		}
		if rank > best {
			best = rank
			bestRec = rec
		} else if n := rec.AnnAnomsGoodCount(); n > longest {
			longest = n
			longestRec = rec
		}
	}
	if best > 1 {
		return bestRec, nil
	}
	return longestRec, nil
}

// GetLongest picks the record with the most valid annual anomalies,
// ties going to the lexicographically smallest UID.
func GetLongest(pool []*Record) *Record {
	longest := -1
	var best *Record
	for _, rec := range sortedByUID(pool) {
		if n := rec.AnnAnomsGoodCount(); n > longest {
			longest = n
			best = rec
		}
	}
	return best
}

// LongestOverlap finds the candidate whose annual anomalies overlap
// the target composite over the most years. target is a monthly series
// starting in year begin; candidates are consulted sorted by UID and
// ties go to the last consulted.
//
// diff is the mean difference (candidate minus composite, both
// re-centered on their annual means) over the common years. Some
// record is returned even with no overlap at all; callers must treat
// overlap == 0 as "no usable match" and never read diff then.
func LongestOverlap(target []float64, begin int, pool []*Record) (*Record, float64, int) {
	mean, anoms := MonthlyAnnual(target)
	overlap := 0
	diff := 0.0
	var best *Record
	for _, rec := range sortedByUID(pool) {
		common := 0
		sum := 0.0
		n := min(len(rec.AnnAnoms), len(anoms))
		for y := 0; y < n; y++ {
			recAnom, anom := rec.AnnAnoms[y], anoms[y]
			if Invalid(recAnom) || Invalid(anom) {
				continue
			}
			common++
			sum += (rec.AnnMean + recAnom) - (mean + anom)
		}
		if best != nil && common < overlap {
			continue
		}
		overlap = common
		best = rec
		if common > 0 {
			diff = sum / float64(common)
		}
	}
	return best, diff, overlap
}

// groupSpan returns the calendar span of a station group. Every record
// must share the same first year; the reader guarantees this, so a
// mismatch is fatal rather than recoverable.
func groupSpan(group []*Record) (first, last int, err error) {
	first = group[0].FirstYear
	last = group[0].LastYear()
	for _, rec := range group[1:] {
		if rec.FirstYear != first {
			return 0, 0, fmt.Errorf("station group %s: record %s starts in %d, group starts in %d",
				group[0].StationKey(), rec.UID, rec.FirstYear, first)
		}
		if y := rec.LastYear(); y > last {
			last = y
		}
	}
	return first, last, nil
}

func sortedByUID(pool []*Record) []*Record {
	s := append([]*Record(nil), pool...)
	sort.Slice(s, func(i, j int) bool { return s[i].UID < s[j].UID })
	return s
}

func removeRecord(pool []*Record, rec *Record) []*Record {
	out := pool[:0]
	for _, r := range pool {
		if r != rec {
			out = append(out, r)
		}
	}
	return out
}

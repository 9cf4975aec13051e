package domain

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/station-data-recon/internal/auditlog"
)

var testParams = Params{MinOverlapYears: 4, BucketRadius: 10, MinMidYears: 5}

// makeRecord builds a record with derived annual stats computed.
func makeRecord(uid string, source Source, firstYear int, series []float64) *Record {
	rec := &Record{UID: uid, Source: source, FirstYear: firstYear, Series: series}
	rec.ComputeAnnual()
	return rec
}

// windowSeries builds a span-years series valid (constant value) only
// inside [fromYear, toYear], missing elsewhere. Years are 0-based
// offsets from the start of the series.
func windowSeries(value float64, spanYears, fromYear, toYear int) []float64 {
	s := missingSeries(spanYears)
	for y := fromYear; y <= toYear; y++ {
		for m := 0; m < 12; m++ {
			s[y*12+m] = value
		}
	}
	return s
}

// sawtoothSeries alternates between lo (even years) and hi (odd years)
// inside [fromYear, toYear], missing elsewhere. The year-to-year
// variability keeps annual sigma well away from zero, which the loose
// pass needs.
func sawtoothSeries(lo, hi float64, spanYears, fromYear, toYear int) []float64 {
	s := missingSeries(spanYears)
	for y := fromYear; y <= toYear; y++ {
		v := lo
		if y%2 == 1 {
			v = hi
		}
		for m := 0; m < 12; m++ {
			s[y*12+m] = v
		}
	}
	return s
}

func newTestReconciler(params Params, adjustments map[string]Adjustment) (*Reconciler, *bytes.Buffer, *bytes.Buffer) {
	combBuf := &bytes.Buffer{}
	piecesBuf := &bytes.Buffer{}
	r := NewReconciler(params, adjustments, auditlog.New(combBuf), auditlog.New(piecesBuf), slog.Default())
	return r, combBuf, piecesBuf
}

func TestGetBest(t *testing.T) {
	t.Run("highest quality network wins regardless of length", func(t *testing.T) {
		long := makeRecord("425727930002", SourceUSHCN, 1951, constantSeries(10, 30))
		short := makeRecord("425727930001", SourceMCDW, 1951, windowSeries(10, 30, 0, 4))
		unknown := makeRecord("425727930003", SourceUnknown, 1951, constantSeries(10, 30))

		best, err := GetBest([]*Record{long, short, unknown})
		require.NoError(t, err)
		assert.Same(t, short, best)
	})

	t.Run("all unknown falls back to longest", func(t *testing.T) {
		a := makeRecord("425727930001", SourceUnknown, 1951, windowSeries(10, 30, 0, 9))
		b := makeRecord("425727930002", SourceUnknown, 1951, constantSeries(10, 30))

		best, err := GetBest([]*Record{a, b})
		require.NoError(t, err)
		assert.Same(t, b, best)
	})

	t.Run("unrecognized source is an error", func(t *testing.T) {
		bad := makeRecord("425727930001", Source("GHCNv4"), 1951, constantSeries(10, 5))
		_, err := GetBest([]*Record{bad})
		assert.ErrorContains(t, err, "unrecognized record source")
	})
}

func TestGetLongest(t *testing.T) {
	a := makeRecord("425727930001", SourceUnknown, 1951, windowSeries(10, 30, 0, 9))
	b := makeRecord("425727930002", SourceUnknown, 1951, windowSeries(10, 30, 0, 19))
	assert.Same(t, b, GetLongest([]*Record{a, b}))

	t.Run("ties break on smallest uid", func(t *testing.T) {
		c := makeRecord("425727930003", SourceUnknown, 1951, windowSeries(10, 30, 10, 29))
		assert.Same(t, b, GetLongest([]*Record{c, b}))
	})
}

func TestLongestOverlap(t *testing.T) {
	span := 20
	target := windowSeries(10, span, 0, 14)

	t.Run("picks the candidate with the most common years", func(t *testing.T) {
		shortOverlap := makeRecord("425727930001", SourceUnknown, 1951, windowSeries(12, span, 12, 19))
		longOverlap := makeRecord("425727930002", SourceUnknown, 1951, windowSeries(12, span, 2, 13))

		best, diff, overlap := LongestOverlap(target, 1951, []*Record{shortOverlap, longOverlap})
		assert.Same(t, longOverlap, best)
		assert.Equal(t, 12, overlap)
		assert.InDelta(t, 2.0, diff, 1e-9)
	})

	t.Run("no overlap still returns a record with overlap zero", func(t *testing.T) {
		disjoint := makeRecord("425727930001", SourceUnknown, 1951, windowSeries(12, span, 16, 19))
		best, _, overlap := LongestOverlap(target, 1951, []*Record{disjoint})
		assert.Same(t, disjoint, best)
		assert.Equal(t, 0, overlap)
	})

	t.Run("ties go to the last consulted uid", func(t *testing.T) {
		a := makeRecord("425727930001", SourceUnknown, 1951, windowSeries(12, span, 0, 9))
		b := makeRecord("425727930002", SourceUnknown, 1951, windowSeries(12, span, 0, 9))
		best, _, _ := LongestOverlap(target, 1951, []*Record{a, b})
		assert.Same(t, b, best)
	})
}

func TestReconcileGroup_StrictFold(t *testing.T) {
	// Seed covers years 0-5, candidate years 2-7 with a constant +2
	// offset; their 4-year overlap exactly meets the threshold, so the
	// candidate folds in and, bias removed, the composite is flat.
	span := 8
	seed := makeRecord("425727930001", SourceMCDW, 1951, windowSeries(10, span, 0, 5))
	cand := makeRecord("425727930002", SourceUnknown, 1951, windowSeries(12, span, 2, 7))

	r, _, _ := newTestReconciler(testParams, nil)
	out, stats, err := r.ReconcileGroup([]*Record{seed, cand})
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "425727930001", out[0].UID)
	assert.Equal(t, 1951, out[0].FirstYear)
	require.Len(t, out[0].Series, span*12)
	for i, v := range out[0].Series {
		assert.InDeltaf(t, 10.0, v, 1e-9, "month %d", i)
	}
	assert.Equal(t, 1, stats.StrictFolds)
	assert.Equal(t, 0, stats.LooseFolds)
}

func TestReconcileGroup_BestQualitySeedsTheMerge(t *testing.T) {
	// Full mutual overlap; the MCDW record must seed the merge even
	// though it is the shortest, and both others fold in.
	span := 20
	best := makeRecord("425727930002", SourceMCDW, 1951, windowSeries(10, span, 4, 15))
	secondary := makeRecord("425727930001", SourceUSHCN, 1951, windowSeries(11, span, 0, 19))
	unknown := makeRecord("425727930003", SourceUnknown, 1951, windowSeries(9, span, 0, 19))

	r, combBuf, _ := newTestReconciler(testParams, nil)
	out, stats, err := r.ReconcileGroup([]*Record{secondary, best, unknown})
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "425727930002", out[0].UID, "seed keeps its own identity")
	assert.Equal(t, 2, stats.StrictFolds)
	assert.Contains(t, combBuf.String(), "\t425727930002 1955 1966 -- MCDW\n")
}

func TestReconcileGroup_SingleRecordPassesThrough(t *testing.T) {
	rec := makeRecord("425727930001", SourceMCDW, 1951, constantSeries(10, 5))
	series := append([]float64(nil), rec.Series...)

	r, _, _ := newTestReconciler(testParams, nil)
	out, stats, err := r.ReconcileGroup([]*Record{rec})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, series, out[0].Series, "lone record is emitted unchanged")
	assert.Zero(t, stats.StrictFolds)
}

func TestReconcileGroup_LoosePassAcceptsCloseDisjointPieces(t *testing.T) {
	// Short 4-year overlap with a strict threshold of 15 forces both
	// records through to the loose pass. Their window means differ by
	// 0.5 while the composite's annual sigma is well above that, so
	// the loose pass folds them.
	span := 20
	params := Params{MinOverlapYears: 15, BucketRadius: 10, MinMidYears: 2}
	a := makeRecord("425727930001", SourceUnknown, 1951, sawtoothSeries(10, 12, span, 0, 11))
	b := makeRecord("425727930002", SourceUnknown, 1951, sawtoothSeries(10.5, 12.5, span, 8, 19))

	r, _, piecesBuf := newTestReconciler(params, nil)
	out, stats, err := r.ReconcileGroup([]*Record{a, b})
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, 1, stats.LooseFolds)
	assert.Equal(t, 1, stats.StrictRejects)
	assert.Contains(t, piecesBuf.String(), "overlap success")
	assert.Contains(t, piecesBuf.String(), "combination success")
}

func TestReconcileGroup_LoosePassRejectsDistantPieces(t *testing.T) {
	// Same shape, but the candidate runs 5 degrees warm: the window
	// disagreement dwarfs the composite's variability.
	span := 20
	params := Params{MinOverlapYears: 15, BucketRadius: 10, MinMidYears: 2}
	a := makeRecord("425727930001", SourceUnknown, 1951, sawtoothSeries(10, 12, span, 0, 11))
	b := makeRecord("425727930002", SourceUnknown, 1951, sawtoothSeries(15, 17, span, 8, 19))

	r, _, piecesBuf := newTestReconciler(params, nil)
	out, stats, err := r.ReconcileGroup([]*Record{a, b})
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Zero(t, stats.LooseFolds)
	assert.Equal(t, 1, stats.LooseRejects)
	assert.Contains(t, piecesBuf.String(), "combination failure")
	assert.Contains(t, piecesBuf.String(), "***no other pieces okay***")
}

func TestReconcileGroup_LoosePassNoUsableOverlap(t *testing.T) {
	// Disjoint records whose common middle window never collects the
	// required valid years on both sides: overlap failure, both kept.
	span := 30
	params := Params{MinOverlapYears: 15, BucketRadius: 2, MinMidYears: 5}
	a := makeRecord("425727930001", SourceUnknown, 1951, sawtoothSeries(10, 12, span, 0, 9))
	b := makeRecord("425727930002", SourceUnknown, 1951, sawtoothSeries(10, 12, span, 20, 29))

	r, _, piecesBuf := newTestReconciler(params, nil)
	out, _, err := r.ReconcileGroup([]*Record{a, b})
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Contains(t, piecesBuf.String(), "overlap failure")
}

func TestReconcileGroup_FirstYearMismatchIsFatal(t *testing.T) {
	a := makeRecord("425727930001", SourceMCDW, 1951, constantSeries(10, 5))
	b := makeRecord("425727930002", SourceUnknown, 1952, constantSeries(10, 5))

	r, _, _ := newTestReconciler(testParams, nil)
	_, _, err := r.ReconcileGroup([]*Record{a, b})
	require.Error(t, err)
	assert.ErrorContains(t, err, "starts in 1952")
}

func TestReconcileGroup_AppliesAdjustmentOnce(t *testing.T) {
	// Two disjoint short records survive the strict pass separately;
	// the adjustment hits one of them in between, exactly once.
	span := 6
	a := makeRecord("425727930001", SourceUnknown, 1951, windowSeries(10, span, 0, 2))
	b := makeRecord("425727930002", SourceUnknown, 1951, windowSeries(10, span, 4, 5))
	adjustments := map[string]Adjustment{
		"425727930002": {Year: 1955, Month: 12, Summand: 1.5},
	}
	params := Params{MinOverlapYears: 4, BucketRadius: 1, MinMidYears: 5}

	r, _, _ := newTestReconciler(params, adjustments)
	out, _, err := r.ReconcileGroup([]*Record{a, b})
	require.NoError(t, err)

	require.Len(t, out, 2)
	var adjusted *Record
	for _, rec := range out {
		if rec.UID == "425727930002" {
			adjusted = rec
		}
	}
	require.NotNil(t, adjusted)
	assert.InDelta(t, 11.5, adjusted.Series[4*12], 1e-12, "early valid months shifted")
	assert.Empty(t, adjustments, "table entry consumed")
}

func TestReconcileGroup_EmptyGroup(t *testing.T) {
	r, _, _ := newTestReconciler(testParams, nil)
	out, _, err := r.ReconcileGroup(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGroupSpan(t *testing.T) {
	a := makeRecord("425727930001", SourceMCDW, 1951, constantSeries(10, 5))
	b := makeRecord("425727930002", SourceUnknown, 1951, constantSeries(10, 9))
	first, last, err := groupSpan([]*Record{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1951, first)
	assert.Equal(t, 1959, last)
}

func ExampleLongestOverlap() {
	target := windowSeries(10, 10, 0, 9)
	cand := makeRecord("425727930002", SourceUnknown, 1951, windowSeries(12, 10, 0, 9))
	_, diff, overlap := LongestOverlap(target, 1951, []*Record{cand})
	fmt.Printf("overlap=%d diff=%.1f\n", overlap, diff)
	// Output: overlap=10 diff=2.0
}

// Command validate runs the full reconciliation offline against a
// station-records fixture and checks the structural invariants every
// run must preserve: series lengths stay a multiple of 12, a group
// never emits more records than it consumed, merged spans stay inside
// the group span, and no UID is emitted twice. It exits non-zero on
// the first failing phase.
//
// Usage:
//
//	go run ./cmd/validate -in data/mock/station_records.json \
//	  -adjust config/adjustments \
//	  -comb-log log/comb.log -pieces-log log/pieces.log
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/station-data-recon/internal/auditlog"
	"github.com/couchcryptid/station-data-recon/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	in := flag.String("in", "", "station records JSON fixture")
	adjustPath := flag.String("adjust", "", "optional discontinuity adjustment table")
	combLogPath := flag.String("comb-log", "log/comb.log", "strict-pass audit log output")
	piecesLogPath := flag.String("pieces-log", "log/pieces.log", "loose-pass audit log output")
	minOverlap := flag.Int("min-overlap", 4, "strict-pass minimum overlap in years")
	bucketRadius := flag.Int("bucket-radius", 10, "loose-pass bucket radius in years")
	minMidYears := flag.Int("min-mid-years", 5, "loose-pass minimum valid years per window side")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	phases, err := runValidation(*in, *adjustPath, *combLogPath, *piecesLogPath, domain.Params{
		MinOverlapYears: *minOverlap,
		BucketRadius:    *bucketRadius,
		MinMidYears:     *minMidYears,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		os.Exit(1)
	}

	failed := false
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = "FAIL"
			failed = true
		}
		fmt.Printf("%s  %s\n", status, p.name)
		for _, e := range p.errors {
			fmt.Printf("      %s\n", e)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func runValidation(in, adjustPath, combLogPath, piecesLogPath string, params domain.Params) ([]*phase, error) {
	decode := &phase{name: "decode fixture"}
	reconcile := &phase{name: "reconcile groups"}
	invariants := &phase{name: "output invariants"}

	records, err := loadRecords(in)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			decode.errorf("%v", err)
		}
	}
	if !decode.passed() {
		return []*phase{decode}, nil
	}

	var adjustments map[string]domain.Adjustment
	if adjustPath != "" {
		f, err := os.Open(adjustPath)
		if err != nil {
			return nil, err
		}
		adjustments, err = domain.LoadAdjustments(f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}

	combLog, err := auditlog.Open(combLogPath)
	if err != nil {
		return nil, err
	}
	defer combLog.Close()
	piecesLog, err := auditlog.Open(piecesLogPath)
	if err != nil {
		return nil, err
	}
	defer piecesLog.Close()

	rec := domain.NewReconciler(params, adjustments, combLog, piecesLog, slog.Default())

	seen := make(map[string]bool)
	for _, group := range groupByStation(records) {
		begin := group[0].FirstYear
		end := group[0].LastYear()
		for _, r := range group {
			if r.LastYear() > end {
				end = r.LastYear()
			}
		}

		merged, _, err := rec.ReconcileGroup(group)
		if err != nil {
			reconcile.errorf("station %s: %v", group[0].StationKey(), err)
			continue
		}
		if len(merged) > len(group) {
			invariants.errorf("station %s: %d records in, %d out", group[0].StationKey(), len(group), len(merged))
		}
		for _, m := range merged {
			if len(m.Series)%12 != 0 || len(m.Series) == 0 {
				invariants.errorf("record %s: series length %d", m.UID, len(m.Series))
			}
			if m.FirstYear < begin || m.LastYear() > end {
				invariants.errorf("record %s: span %d-%d outside group span %d-%d",
					m.UID, m.FirstYear, m.LastYear(), begin, end)
			}
			if seen[m.UID] {
				invariants.errorf("record %s emitted twice", m.UID)
			}
			seen[m.UID] = true
		}
	}

	return []*phase{decode, reconcile, invariants}, nil
}

func loadRecords(path string) ([]*domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []*domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// groupByStation splits the fixture into station groups, preserving
// the fixture's group order.
func groupByStation(records []*domain.Record) [][]*domain.Record {
	var groups [][]*domain.Record
	var current []*domain.Record
	for _, rec := range records {
		if len(current) > 0 && rec.StationKey() != current[0].StationKey() {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, rec)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// Command genstations generates a deterministic synthetic fixture of
// duplicate station records for the reconciliation test suites and for
// local pipeline runs. It uses the actual domain package constants so
// fixtures stay in sync with wire expectations.
//
// Usage:
//
//	go run ./cmd/genstations -out data/mock/station_records.json \
//	  -stations 5 -first-year 1931 -years 60 -seed 1
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/couchcryptid/station-data-recon/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the station records JSON fixture")
	stations := flag.Int("stations", 5, "number of physical stations")
	firstYear := flag.Int("first-year", 1931, "first calendar year of every record")
	years := flag.Int("years", 60, "year span of each station group")
	seed := flag.Int64("seed", 1, "PRNG seed; same seed, same fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	rng := rand.New(rand.NewSource(*seed))
	var records []*domain.Record
	for i := 0; i < *stations; i++ {
		records = append(records, genStation(rng, i, *firstYear, *years)...)
	}

	if err := writeJSON(*out, records); err != nil {
		return err
	}
	log.Printf("%d stations, %d records -> %s", *stations, len(records), *out)
	return nil
}

// sourcesByRecord mimics real station groups: one good network record,
// then progressively patchier duplicates.
var sourcesByRecord = []domain.Source{
	domain.SourceMCDW,
	domain.SourceUSHCN,
	domain.SourceSumOfDay,
	domain.SourceUnknown,
}

// genStation builds 2-4 duplicate records for one synthetic station.
// Each duplicate observes the same underlying seasonal climate with its
// own constant instrument bias, noise, and a contiguous observed window
// so both the strict and loose passes get exercised.
func genStation(rng *rand.Rand, n, firstYear, years int) []*domain.Record {
	stationKey := fmt.Sprintf("612%08d", n)
	baseTemp := 2.0 + rng.Float64()*20.0
	dupes := 2 + rng.Intn(3)

	var records []*domain.Record
	for d := 0; d < dupes; d++ {
		bias := rng.NormFloat64() * 0.5
		// Observed window inside the group span.
		startYr := rng.Intn(years / 3)
		endYr := years - rng.Intn(years/3) - 1

		series := make([]float64, years*12)
		for i := range series {
			series[i] = domain.Missing
		}
		for y := startYr; y <= endYr; y++ {
			for m := 0; m < 12; m++ {
				if rng.Float64() < 0.02 {
					continue // drop ~2% of months
				}
				seasonal := 8.0 * seasonCurve(m)
				noise := rng.NormFloat64() * 0.8
				series[y*12+m] = baseTemp + bias + seasonal + noise
			}
		}

		records = append(records, &domain.Record{
			UID:       fmt.Sprintf("%s%d", stationKey, d),
			Source:    sourcesByRecord[d%len(sourcesByRecord)],
			FirstYear: firstYear,
			Series:    series,
		})
	}
	return records
}

// seasonCurve approximates a northern-hemisphere annual cycle in [-1, 1].
func seasonCurve(month int) float64 {
	curve := []float64{-1, -0.9, -0.5, 0.1, 0.6, 0.9, 1, 0.9, 0.5, -0.1, -0.6, -0.9}
	return curve[month]
}

func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

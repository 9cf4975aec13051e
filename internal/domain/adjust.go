package domain

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Adjustment is one discontinuity correction: add Summand to every
// valid monthly value from the start of the record through Month
// (1-based) of Year, inclusive.
type Adjustment struct {
	Year    int
	Month   int
	Summand float64
}

// LoadAdjustments parses the discontinuity table. Each non-comment,
// non-blank line holds five whitespace-separated fields:
//
//	identifier ignored year month summand
//
// with '#' starting a comment to end of line. Any malformed line is an
// error; the table is rejected wholesale before any record flows.
func LoadAdjustments(r io.Reader) (map[string]Adjustment, error) {
	adjust := make(map[string]Adjustment)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 {
			return nil, fmt.Errorf("adjustments line %d: want 5 fields, got %d", lineNo, len(fields))
		}
		year, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("adjustments line %d: bad year %q", lineNo, fields[2])
		}
		month, err := strconv.Atoi(fields[3])
		if err != nil || month < 1 || month > 12 {
			return nil, fmt.Errorf("adjustments line %d: bad month %q", lineNo, fields[3])
		}
		summand, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, fmt.Errorf("adjustments line %d: bad summand %q", lineNo, fields[4])
		}
		adjust[fields[0]] = Adjustment{Year: year, Month: month, Summand: summand}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read adjustments: %w", err)
	}
	return adjust, nil
}

// ApplyAdjustment adds the correction to every valid monthly value
// from the record's start up to and including the adjustment's
// (year, month). Later months are untouched. This transform is
// one-shot, not idempotent.
func ApplyAdjustment(rec *Record, adj Adjustment) {
	last := (adj.Year-rec.FirstYear)*12 + adj.Month - 1
	for i := 0; i <= last && i < len(rec.Series); i++ {
		if Valid(rec.Series[i]) {
			rec.Series[i] += adj.Summand
		}
	}
}

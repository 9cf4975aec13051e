package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// wireRecord is the flat JSON structure published by the upstream
// station reader, one message per station record. Missing monthly
// slots carry the 9999 sentinel verbatim.
type wireRecord struct {
	UID       string    `json:"uid"`
	Source    string    `json:"source"`
	FirstYear int       `json:"first_year"`
	Series    []float64 `json:"series"`
}

// ParseRawRecord deserializes a RawEvent's value into a Record and
// checks the wire invariants. An unparseable payload, a series whose
// length is not a multiple of 12, or an unrecognized source is a
// contract violation by the upstream reader, not a skippable message.
func ParseRawRecord(raw RawEvent) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw.Value, &w); err != nil {
		return nil, fmt.Errorf("parse raw record: %w", err)
	}
	rec := &Record{
		UID:       w.UID,
		Source:    Source(w.Source),
		FirstYear: w.FirstYear,
		Series:    w.Series,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("parse raw record: %w", err)
	}
	return rec, nil
}

// MarshalWire serializes a record back to the flat JSON wire form.
func MarshalWire(rec *Record) ([]byte, error) {
	data, err := json.Marshal(wireRecord{
		UID:       rec.UID,
		Source:    string(rec.Source),
		FirstYear: rec.FirstYear,
		Series:    rec.Series,
	})
	if err != nil {
		return nil, fmt.Errorf("serialize record %s: %w", rec.UID, err)
	}
	return data, nil
}

// Now returns the current time from the package clock. Tests and the
// fixture generator freeze it for deterministic merged_at stamps.
func Now() time.Time {
	return clock.Now()
}

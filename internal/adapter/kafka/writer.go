package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/station-data-recon/internal/config"
	"github.com/couchcryptid/station-data-recon/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces merged records to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes one station group's merged records
// in a single WriteMessages call, keeping the group contiguous on the
// sink topic.
func (w *Writer) LoadBatch(ctx context.Context, records []*domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i, rec := range records {
		msg, err := serializeToMessage(rec)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a merged record into a Kafka message,
// keyed by UID so replays of the same station land in one partition.
func serializeToMessage(rec *domain.Record) (kafkago.Message, error) {
	data, err := domain.MarshalWire(rec)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(rec.UID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "station_key", Value: []byte(rec.StationKey())},
			{Key: "source", Value: []byte(rec.Source)},
			{Key: "merged_at", Value: []byte(domain.Now().Format(time.RFC3339))},
		},
	}, nil
}

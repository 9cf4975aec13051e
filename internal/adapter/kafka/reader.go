package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/station-data-recon/internal/config"
	"github.com/couchcryptid/station-data-recon/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes station records from the source topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	logger        *slog.Logger
	flushInterval time.Duration
}

// NewReader creates a consumer-group reader for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaSourceTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, logger: logger, flushInterval: cfg.BatchFlushInterval}
}

// ExtractBatch fetches up to batchSize messages, waiting at most the
// flush interval. A short read on a quiet stream is not an error: the
// pipeline uses the empty batch as its cue to flush the pending
// station group.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	batchCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	events := make([]domain.RawEvent, 0, batchSize)
	for len(events) < batchSize {
		msg, err := r.reader.FetchMessage(batchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return events, nil
			}
			return events, err
		}
		events = append(events, r.mapMessageToRawEvent(msg))
	}
	return events, nil
}

// Close shuts down the underlying Kafka consumer.
func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawEvent converts a Kafka message into the transport-
// agnostic RawEvent, wiring the offset commit back to the consumer group.
func (r *Reader) mapMessageToRawEvent(msg kafkago.Message) domain.RawEvent {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawEvent{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Commit: func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, msg)
		},
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/station-data-recon/internal/domain"
	"github.com/couchcryptid/station-data-recon/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// GroupReconciler merges one station group into its final records.
type GroupReconciler interface {
	ReconcileGroup(group []*domain.Record) ([]*domain.Record, domain.Stats, error)
}

// BatchLoader writes merged records to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, records []*domain.Record) error
}

// Pipeline orchestrates the extract-group-reconcile-load loop.
//
// Records arrive grouped consecutively by station key. The pipeline
// buffers records until the key changes (or the stream goes quiet),
// reconciles the buffered group, loads the merged records, and only
// then commits the group's offsets — a crash replays whole groups,
// never half of one.
type Pipeline struct {
	extractor  BatchExtractor
	reconciler GroupReconciler
	loader     BatchLoader
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	batchSize  int

	pendingKey  string
	pending     []*domain.Record
	pendingRaws []domain.RawEvent
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, r GroupReconciler, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:  e,
		reconciler: r,
		loader:     l,
		logger:     logger,
		metrics:    metrics,
		batchSize:  batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has emitted at least one
// station group, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not reconciled any station groups yet")
	}
	return nil
}

// Run executes the reconciliation loop until the context is cancelled
// or a contract violation in the input stream makes continuing unsafe.
// An uncommitted pending group is simply replayed on the next run.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		cont, err := p.processBatch(ctx, &backoff, maxBackoff)
		if err != nil {
			p.logger.Error("pipeline aborting", "error", err)
			return err
		}
		if !cont {
			return nil
		}
	}
}

// processBatch runs one extract-group-reconcile cycle. The bool result
// is false when the pipeline should stop; a non-nil error is fatal.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) (bool, error) {
	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff), nil
	}

	if len(rawBatch) == 0 {
		// Quiet stream: the current station group is as complete as it
		// is going to get.
		return p.flushPending(ctx, backoff, maxBackoff)
	}

	p.metrics.RecordsConsumed.Add(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	for _, raw := range rawBatch {
		rec, err := domain.ParseRawRecord(raw)
		if err != nil {
			p.metrics.PreconditionFailures.Inc()
			return false, err
		}
		if p.pendingKey != "" && rec.StationKey() != p.pendingKey {
			cont, err := p.flushPending(ctx, backoff, maxBackoff)
			if err != nil || !cont {
				return cont, err
			}
		}
		p.pendingKey = rec.StationKey()
		p.pending = append(p.pending, rec)
		p.pendingRaws = append(p.pendingRaws, raw)
	}
	return true, nil
}

// flushPending reconciles the buffered station group, loads the merged
// records, and commits the group's offsets. Load failures retry with
// backoff; reconciliation failures are fatal.
func (p *Pipeline) flushPending(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) (bool, error) {
	if len(p.pending) == 0 {
		return ctx.Err() == nil, nil
	}
	start := time.Now()

	group, raws := p.pending, p.pendingRaws
	p.pending, p.pendingRaws, p.pendingKey = nil, nil, ""

	merged, stats, err := p.reconciler.ReconcileGroup(group)
	if err != nil {
		p.metrics.PreconditionFailures.Inc()
		return false, fmt.Errorf("reconcile station group %s: %w", group[0].StationKey(), err)
	}

	for {
		if err := p.loader.LoadBatch(ctx, merged); err != nil {
			p.logger.Error("load batch failed", "error", err, "station", group[0].StationKey())
			if !p.backoffOrStop(ctx, backoff, maxBackoff) {
				return false, nil
			}
			continue
		}
		break
	}

	for _, raw := range raws {
		p.commitOffset(ctx, raw)
	}

	p.metrics.GroupsProcessed.Inc()
	p.metrics.GroupSize.Observe(float64(len(group)))
	p.metrics.RecordsEmitted.Add(float64(len(merged)))
	p.metrics.Folds.WithLabelValues("strict", "fold").Add(float64(stats.StrictFolds))
	p.metrics.Folds.WithLabelValues("strict", "reject").Add(float64(stats.StrictRejects))
	p.metrics.Folds.WithLabelValues("loose", "fold").Add(float64(stats.LooseFolds))
	p.metrics.Folds.WithLabelValues("loose", "reject").Add(float64(stats.LooseRejects))
	p.metrics.GroupDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)

	return ctx.Err() == nil, nil
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

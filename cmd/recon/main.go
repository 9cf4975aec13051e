package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/station-data-recon/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/station-data-recon/internal/adapter/kafka"
	"github.com/couchcryptid/station-data-recon/internal/auditlog"
	"github.com/couchcryptid/station-data-recon/internal/config"
	"github.com/couchcryptid/station-data-recon/internal/domain"
	"github.com/couchcryptid/station-data-recon/internal/observability"
	"github.com/couchcryptid/station-data-recon/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// A malformed adjustment table is fatal before any record flows.
	adjustments, err := loadAdjustments(cfg)
	if err != nil {
		logger.Error("failed to load adjustments", "error", err)
		os.Exit(1)
	}
	if len(adjustments) > 0 {
		logger.Info("discontinuity adjustments loaded", "count", len(adjustments), "file", cfg.AdjustmentsFile)
	}

	combLog, err := auditlog.Open(cfg.CombLogPath)
	if err != nil {
		logger.Error("failed to open strict-pass audit log", "error", err)
		os.Exit(1)
	}
	piecesLog, err := auditlog.Open(cfg.PiecesLogPath)
	if err != nil {
		logger.Error("failed to open loose-pass audit log", "error", err)
		os.Exit(1)
	}

	params := domain.Params{
		MinOverlapYears: cfg.CombineMinOverlap,
		BucketRadius:    cfg.CombineBucketRadius,
		MinMidYears:     cfg.CombineMinMidYears,
	}
	reconciler := domain.NewReconciler(params, adjustments, combLog, piecesLog, logger)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, reconciler, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start reconciliation pipeline. A contract violation in the input
	// stream stops the run rather than silently coercing the data.
	exitCode := 0
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
			exitCode = 1
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	<-pipelineDone
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := combLog.Close(); err != nil {
		logger.Error("audit log close error", "error", err)
	}
	if err := piecesLog.Close(); err != nil {
		logger.Error("audit log close error", "error", err)
	}

	logger.Info("shutdown complete")
	os.Exit(exitCode)
}

// loadAdjustments reads the optional discontinuity table from disk.
func loadAdjustments(cfg *config.Config) (map[string]domain.Adjustment, error) {
	if cfg.AdjustmentsFile == "" {
		return nil, nil
	}
	f, err := os.Open(cfg.AdjustmentsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return domain.LoadAdjustments(f)
}

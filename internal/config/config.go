package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Record-combination thresholds.
	CombineMinOverlap   int
	CombineBucketRadius int
	CombineMinMidYears  int

	// Discontinuity adjustment table; empty disables the step.
	AdjustmentsFile string

	// Merge-decision trace files.
	CombLogPath   string
	PiecesLogPath string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDuration("BATCH_FLUSH_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	batchSize, err := parsePositiveInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	minOverlap, err := parsePositiveInt("COMBINE_MIN_OVERLAP", 4)
	if err != nil {
		return nil, err
	}
	bucketRadius, err := parsePositiveInt("COMBINE_BUCKET_RADIUS", 10)
	if err != nil {
		return nil, err
	}
	minMidYears, err := parsePositiveInt("COMBINE_MIN_MID_YEARS", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "station-records"),
		KafkaSinkTopic:     envOrDefault("KAFKA_SINK_TOPIC", "reconciled-station-records"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "station-data-recon"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		CombineMinOverlap:   minOverlap,
		CombineBucketRadius: bucketRadius,
		CombineMinMidYears:  minMidYears,

		AdjustmentsFile: os.Getenv("ADJUSTMENTS_FILE"),
		CombLogPath:     envOrDefault("COMB_LOG_PATH", "log/comb.log"),
		PiecesLogPath:   envOrDefault("PIECES_LOG_PATH", "log/pieces.log"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	return cfg, nil
}

// envOrDefault returns the environment value for key, or def when unset.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseBrokers splits a comma-separated broker list, dropping empty entries.
func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

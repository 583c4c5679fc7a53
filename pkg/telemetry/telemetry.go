package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Telemetry bundles the logger, tracer and metrics of one process.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics

	config *Config
}

// New builds all telemetry components from cfg.
func New(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return newTelemetry(cfg, logger)
}

// NewWithLogger builds tracer and metrics from cfg around an existing logger.
func NewWithLogger(cfg *Config, logger zerolog.Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger zerolog.Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		config:  cfg,
	}, nil
}

// Shutdown flushes spans and writes the metrics textfile, if configured.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if err := t.Metrics.WriteTextfile(t.config.Metrics.TextfilePath); err != nil {
		errs = append(errs, err)
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
	}

	return errors.Join(errs...)
}

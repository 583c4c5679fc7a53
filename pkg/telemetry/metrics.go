package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wpinstructions/wpinstructions/pkg/engine"
	"github.com/wpinstructions/wpinstructions/pkg/runner"
)

// Metrics counts runs, instructions and runner commands. It implements
// engine.Observer; ObserveCommand can be passed as runner.Config.OnCommand.
// A disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	instructions        *prometheus.CounterVec
	instructionDuration *prometheus.HistogramVec

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// errors counts failed instructions by engine error class and code.
	errors *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry. Every name is
// prefixed with cfg.Namespace.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{Namespace: cfg.Namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		config:   cfg,
		registry: reg,

		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Name: "runs_started_total", Help: "Script runs started.",
		}),
		runsCompleted: counter("runs_completed_total", "Script runs finished, by final status.", "status"),
		runDuration:   histogram("run_duration_seconds", "Wall time of script runs.", "status"),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Name: "active_runs", Help: "Script runs in progress.",
		}),

		instructions:        counter("instructions_total", "Instructions executed, by action and status.", "action", "status"),
		instructionDuration: histogram("instruction_duration_seconds", "Wall time of single instructions.", "action"),

		commands:        counter("commands_total", "wp-cli and helper commands run, by outcome.", "kind", "outcome"),
		commandDuration: histogram("command_duration_seconds", "Wall time of runner commands.", "kind"),

		errors: counter("errors_total", "Failed instructions by error class and code.", "class", "code"),
	}, nil
}

// Enabled reports whether metrics are being collected.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// RunStarted implements engine.Observer.
func (m *Metrics) RunStarted(_ context.Context, _ engine.RunInfo) {
	if m.registry == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// StepFinished implements engine.Observer.
func (m *Metrics) StepFinished(_ context.Context, _ string, step engine.Step) {
	if m.registry == nil {
		return
	}
	m.instructions.WithLabelValues(step.Action, step.Status.String()).Inc()
	m.instructionDuration.WithLabelValues(step.Action).Observe(step.Duration.Seconds())

	if step.Err != nil {
		class, code := "unknown", ""
		var engErr *engine.EngineError
		if errors.As(step.Err, &engErr) {
			class, code = string(engErr.Class), engErr.Code
		}
		m.errors.WithLabelValues(class, code).Inc()
	}
}

// RunFinished implements engine.Observer.
func (m *Metrics) RunFinished(_ context.Context, report *engine.Report) {
	if m.registry == nil {
		return
	}
	status := string(report.Status)
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(report.Duration().Seconds())
	m.activeRuns.Dec()
}

// ObserveCommand records one runner command. Its signature matches
// runner.Config.OnCommand.
func (m *Metrics) ObserveCommand(kind string, result *runner.Result, err error) {
	if m.registry == nil {
		return
	}

	outcome := "ok"
	var exitErr *runner.ExitError
	switch {
	case errors.As(err, &exitErr):
		outcome = "exit_error"
	case err != nil:
		outcome = "error"
	}
	m.commands.WithLabelValues(kind, outcome).Inc()

	if result != nil {
		m.commandDuration.WithLabelValues(kind).Observe(result.Duration.Seconds())
	}
}

// Gatherer returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the current metrics to path in the node_exporter
// textfile collector format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

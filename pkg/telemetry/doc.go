// Package telemetry provides the observability stack of wpinstructions.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind one Config:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Tracing.Enabled = true
//	cfg.Metrics.Enabled = true
//	cfg.Metrics.TextfilePath = "/var/lib/node_exporter/wpinstructions.prom"
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Logging
//
// NewLogger returns a zerolog.Logger writing console or JSON lines to
// stdout, stderr or a file. Components derive child loggers carrying a
// "component" field:
//
//	logger := telemetry.ComponentLogger(tel.Logger, "engine")
//
// # Tracing
//
// The engine opens a "script.run" span per run and an "instruction.run"
// span per instruction. Spans are exported over OTLP/gRPC to a collector or
// pretty-printed for debugging:
//
//	eng := engine.New(reg, engine.WithTracer(tel.Tracer))
//
// # Metrics
//
// Metrics is an engine.Observer counting runs and instructions, and its
// ObserveCommand method counts the wp-cli and shell commands issued by the
// runner:
//
//	eng := engine.New(reg, engine.WithObserver(tel.Metrics))
//	run := runner.NewLocal(runner.Config{OnCommand: tel.Metrics.ObserveCommand})
//
// A CLI process is short-lived, so metrics are not served over HTTP.
// Shutdown writes them in the node_exporter textfile format instead.
//
// Exported metrics (namespace "wpinstructions" by default):
//
//	runs_started_total
//	runs_completed_total{status}
//	run_duration_seconds{status}
//	active_runs
//	instructions_total{action,status}
//	instruction_duration_seconds{action}
//	commands_total{kind,outcome}
//	command_duration_seconds{kind}
//	errors_total{class,code}
package telemetry

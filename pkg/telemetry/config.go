package telemetry

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Config selects where logs, spans and metrics of a run go.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string // trace, debug, info, warn, error, fatal
	Format string // console or json
	Output string // stderr, stdout or a file path

	EnableCaller bool
	NoColor      bool
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string
	Insecure bool
	Headers  map[string]string

	SamplingRate  float64
	ExportTimeout time.Duration

	// Output receives spans from the stdout exporter. Defaults to stderr.
	Output io.Writer
}

// MetricsConfig configures the prometheus registry.
type MetricsConfig struct {
	Enabled   bool
	Namespace string

	// TextfilePath receives the metrics in node_exporter textfile format
	// when telemetry shuts down. Empty writes nothing.
	TextfilePath string

	// DefaultHistogramBuckets are latency buckets in seconds. Instructions
	// that download core or plugins take minutes.
	DefaultHistogramBuckets []float64
}

// DefaultConfig logs to stderr at info level with tracing and metrics off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "wpinstructions",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "stdout",
			Insecure:      true,
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Namespace:               "wpinstructions",
			DefaultHistogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	}
}

// Validate reports every problem of c at once.
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q: want console or json", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp":
			if c.Tracing.Endpoint == "" {
				errs = append(errs, errors.New("otlp exporter requires an endpoint"))
			}
		case "stdout", "none":
		default:
			errs = append(errs, fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter))
		}
	}
	if r := c.Tracing.SamplingRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", r))
	}

	return errors.Join(errs...)
}

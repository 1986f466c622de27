package instrumentation

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("INSTRUMENTATION_ENABLED", "")
	t.Setenv("METRICS_EXPORTER", "")
	t.Setenv("TRACING_EXPORTER", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "")

	config := DefaultConfig()

	if config.ServiceName != "slotfinder" {
		t.Errorf("expected ServiceName 'slotfinder', got %q", config.ServiceName)
	}
	if !config.Enabled {
		t.Error("expected Enabled to be true by default")
	}
	if config.MetricsExporter != ExporterPrometheus {
		t.Errorf("expected MetricsExporter 'prometheus', got %q", config.MetricsExporter)
	}
	if config.TracingExporter != ExporterNone {
		t.Errorf("expected TracingExporter 'none', got %q", config.TracingExporter)
	}
	if config.TraceSamplingRate != 0.1 {
		t.Errorf("expected TraceSamplingRate 0.1, got %f", config.TraceSamplingRate)
	}
}

func TestDefaultConfig_FromEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "test-service")
	t.Setenv("INSTRUMENTATION_ENABLED", "false")
	t.Setenv("METRICS_EXPORTER", "stdout")
	t.Setenv("TRACING_EXPORTER", "stdout")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("METRICS_DETAILED_LABELS", "not-a-bool")

	config := DefaultConfig()

	if config.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got %q", config.ServiceName)
	}
	if config.Enabled {
		t.Error("expected Enabled to be false")
	}
	if config.MetricsExporter != "stdout" || config.TracingExporter != "stdout" {
		t.Errorf("unexpected exporters %q/%q", config.MetricsExporter, config.TracingExporter)
	}
	if config.TraceSamplingRate != 0.5 {
		t.Errorf("expected TraceSamplingRate 0.5, got %f", config.TraceSamplingRate)
	}
	if config.DetailedLabels {
		t.Error("unparseable bool should fall back to the default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid prometheus", Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone, TraceSamplingRate: 0.1}, false},
		{"valid otlp", Config{MetricsExporter: ExporterOTLP, TracingExporter: ExporterOTLP, OTLPEndpoint: "localhost:4318"}, false},
		{"sampling rate too high", Config{TraceSamplingRate: 1.5}, true},
		{"sampling rate negative", Config{TraceSamplingRate: -0.1}, true},
		{"unknown metrics exporter", Config{MetricsExporter: "graphite"}, true},
		{"unknown tracing exporter", Config{TracingExporter: "zipkin"}, true},
		{"otlp metrics without endpoint", Config{MetricsExporter: ExporterOTLP}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

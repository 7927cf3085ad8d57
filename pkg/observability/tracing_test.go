package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracingNone(t *testing.T) {
	for _, exporter := range []string{"", "none", " NONE "} {
		shutdown, err := InitTracing(context.Background(), TracingConfig{Exporter: exporter})
		if err != nil {
			t.Fatalf("InitTracing(%q) error = %v", exporter, err)
		}
		_, span := StartSpan(context.Background(), "noop")
		if span.SpanContext().IsValid() {
			t.Errorf("exporter %q produced a recording span", exporter)
		}
		span.End()
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		ServiceName: "iris-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}

	_, span := StartSpan(context.Background(), "predict", attribute.Int("class", 2))
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"predict"`) || !strings.Contains(out, "iris-test") {
		t.Errorf("exported spans missing name or service:\n%s", out)
	}

	// leave a no-op provider behind for other tests
	if _, err := InitTracing(context.Background(), TracingConfig{}); err != nil {
		t.Fatal(err)
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Exporter: "zipkin"}); err == nil {
		t.Error("InitTracing() accepted an unknown exporter")
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{-1, "AlwaysOffSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased"},
		{1, "AlwaysOnSampler"},
		{3, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).Description(); !strings.Contains(got, tt.want) {
			t.Errorf("sampler(%v) = %s, want %s", tt.ratio, got, tt.want)
		}
	}
}

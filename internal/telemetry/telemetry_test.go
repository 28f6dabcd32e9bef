package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric"
)

// Setup installs global providers, so these tests do not run in parallel.

func TestSetup_TraceStdout(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(Options{Version: "1.2.3", TraceStdout: true, Writer: &buf})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	_, span := p.Tracer.Tracer("test").Start(context.Background(), "sync.policies")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"sync.policies", ServiceName, "1.2.3"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output missing %q:\n%s", want, out)
		}
	}
}

func TestSetup_MetricsStdout(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(Options{MetricsStdout: true, Writer: &buf})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	counter, err := p.Meter.Meter("test").Int64Counter("agent.test.events")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 3, metric.WithAttributes())

	// Shutdown runs a final collection.
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if !strings.Contains(buf.String(), "agent.test.events") {
		t.Errorf("metric output missing counter:\n%s", buf.String())
	}
}

func TestSetup_NoExporters(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(Options{Writer: &buf})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	_, span := p.Tracer.Tracer("test").Start(context.Background(), "quiet")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

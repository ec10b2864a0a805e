package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider globally for the duration
// of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default slog logger to a JSON buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	exp := useTracer(t)

	ctx, parent := StartSpan(context.Background(), "pipeline.create_profile")
	_, child := StartSpan(ctx, "embeddings.register")
	child.End()
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "embeddings.register" || spans[1].Name != "pipeline.create_profile" {
		t.Fatalf("span order = [%s %s]", spans[0].Name, spans[1].Name)
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("child span started a new trace")
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	useTracer(t)
	seen := map[string]bool{}
	for range 20 {
		ctx, span := StartSpan(context.Background(), "narrate")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 {
			t.Fatalf("CorrelationID = %q, want 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("trace ID %s reused across root spans", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(context.Background(), "narrate")
	Logger(ctx).Info("inside span")
	span.End()
	Logger(context.Background()).Info("outside span")

	dec := json.NewDecoder(buf)
	var inside, outside map[string]any
	if err := dec.Decode(&inside); err != nil {
		t.Fatalf("decode first record: %v", err)
	}
	if err := dec.Decode(&outside); err != nil {
		t.Fatalf("decode second record: %v", err)
	}

	if inside["trace_id"] != CorrelationID(ctx) {
		t.Errorf("trace_id = %v, want %s", inside["trace_id"], CorrelationID(ctx))
	}
	if inside["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v, want %s", inside["span_id"], span.SpanContext().SpanID())
	}
	if _, ok := outside["trace_id"]; ok {
		t.Errorf("record outside a span carries trace_id: %v", outside)
	}
}

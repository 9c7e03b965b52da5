package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects slog.Default to a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestSessionID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID(background) = %q", got)
	}
	if WithSessionID(ctx, "") != ctx {
		t.Error("empty id should leave ctx unchanged")
	}
	if got := SessionID(WithSessionID(ctx, "s-1")); got != "s-1" {
		t.Errorf("SessionID = %q, want s-1", got)
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	tests := []struct {
		name    string
		ctx     context.Context
		session string
	}{
		{"plain", context.Background(), ""},
		{"session", WithSessionID(context.Background(), "s-42"), "s-42"},
	}
	for _, tt := range tests {
		exp.Reset()
		ctx, span := StartSpan(tt.ctx, "dictation.apply")
		if len(CorrelationID(ctx)) != 32 {
			t.Errorf("%s: correlation id = %q", tt.name, CorrelationID(ctx))
		}
		span.End()

		spans := exp.GetSpans()
		if len(spans) != 1 || spans[0].Name != "dictation.apply" {
			t.Fatalf("%s: spans = %+v", tt.name, spans)
		}
		got := ""
		for _, a := range spans[0].Attributes {
			if a.Key == SessionIDKey {
				got = a.Value.AsString()
			}
		}
		if got != tt.session {
			t.Errorf("%s: session attribute = %q, want %q", tt.name, got, tt.session)
		}
	}
}

func TestCorrelationID_WithoutSpan(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	spanCtx, span := StartSpan(context.Background(), "log")
	defer span.End()

	tests := []struct {
		name     string
		ctx      context.Context
		want     []string
		unwanted []string
	}{
		{"bare", context.Background(), nil, []string{"trace_id", "session_id"}},
		{"session only", WithSessionID(context.Background(), "s-7"), []string{"session_id=s-7"}, []string{"trace_id"}},
		{"span and session", WithSessionID(spanCtx, "s-8"), []string{"session_id=s-8", "trace_id=" + CorrelationID(spanCtx), "span_id="}, nil},
	}
	for _, tt := range tests {
		buf := captureLog(t)
		Logger(tt.ctx).Info("utterance applied")
		out := buf.String()
		for _, w := range tt.want {
			if !strings.Contains(out, w) {
				t.Errorf("%s: log %q lacks %q", tt.name, out, w)
			}
		}
		for _, u := range tt.unwanted {
			if strings.Contains(out, u) {
				t.Errorf("%s: log %q contains %q", tt.name, out, u)
			}
		}
	}
}

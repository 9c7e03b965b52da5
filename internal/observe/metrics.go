// Package observe provides the observability primitives of formvox:
// OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API. [InitProvider] bridges
// them to a Prometheus registry so they can be scraped on /metrics. A
// package-level [DefaultMetrics] instance serves production code; tests use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every formvox metric.
const meterName = "github.com/MrWong99/formvox"

// Metrics holds the OpenTelemetry instruments of the application.
type Metrics struct {
	// --- Dictation ---

	// Utterances counts interpreted final utterances. Attribute: outcome.
	Utterances metric.Int64Counter

	// ApplyDuration tracks how long interpreting one utterance takes.
	ApplyDuration metric.Float64Histogram

	// ModeSwitches counts recognizer listening mode changes. Attribute: mode.
	ModeSwitches metric.Int64Counter

	// ActiveSessions tracks live dictation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// RecordsSaved counts persisted records. Attributes: status, result.
	RecordsSaved metric.Int64Counter

	// --- Recognition ---

	// RecognizerStates counts recognizer state reports. Attribute: state.
	RecognizerStates metric.Int64Counter

	// StreamStarts counts STT stream opens. Attributes: mode, result.
	StreamStarts metric.Int64Counter

	// BreakerTransitions counts circuit breaker transitions.
	// Attributes: name, to.
	BreakerTransitions metric.Int64Counter

	// --- Surfaces ---

	// ToolCalls counts MCP tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request time. Attributes: method,
	// path (route pattern), code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Utterances, err = m.Int64Counter("formvox.dictation.utterances",
		metric.WithDescription("Interpreted final utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ApplyDuration, err = m.Float64Histogram("formvox.dictation.apply.duration",
		metric.WithDescription("Time spent interpreting one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModeSwitches, err = m.Int64Counter("formvox.recognizer.mode_switches",
		metric.WithDescription("Recognizer listening mode changes by target mode."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("formvox.dictation.active_sessions",
		metric.WithDescription("Number of live dictation sessions."),
	); err != nil {
		return nil, err
	}
	if met.RecordsSaved, err = m.Int64Counter("formvox.records.saved",
		metric.WithDescription("Persisted form records by status and result."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerStates, err = m.Int64Counter("formvox.recognizer.states",
		metric.WithDescription("Recognizer state reports by state."),
	); err != nil {
		return nil, err
	}
	if met.StreamStarts, err = m.Int64Counter("formvox.recognizer.stream_starts",
		metric.WithDescription("STT stream opens by mode and result."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("formvox.breaker.transitions",
		metric.WithDescription("Circuit breaker transitions by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("formvox.tool.calls",
		metric.WithDescription("MCP tool invocations by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("formvox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance counts one interpreted utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	m.ApplyDuration.Record(ctx, seconds)
}

// RecordModeSwitch counts a listening mode change.
func (m *Metrics) RecordModeSwitch(ctx context.Context, mode string) {
	m.ModeSwitches.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode)))
}

// RecordRecognizerState counts a recognizer state report.
func (m *Metrics) RecordRecognizerState(ctx context.Context, state string) {
	m.RecognizerStates.Add(ctx, 1, metric.WithAttributes(Attr("state", state)))
}

// RecordStreamStart counts an STT stream open attempt.
func (m *Metrics) RecordStreamStart(ctx context.Context, mode string, err error) {
	m.StreamStarts.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode), Attr("result", result(err))))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("name", name), Attr("to", to)))
}

// RecordSave counts a record persistence attempt.
func (m *Metrics) RecordSave(ctx context.Context, status string, err error) {
	m.RecordsSaved.Add(ctx, 1, metric.WithAttributes(Attr("status", status), Attr("result", result(err))))
}

// RecordToolCall counts an MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

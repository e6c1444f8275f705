package observer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/archonlabs/archon"
)

// engineTracer adapts the global OTEL TracerProvider to the engine's tracing
// facade.
type engineTracer struct {
	tr trace.Tracer
}

// NewTracer returns an archon.Tracer backed by the global OTEL
// TracerProvider. Call Init first to configure the provider; otherwise spans
// go to a no-op backend.
func NewTracer() archon.Tracer {
	return engineTracer{tr: otel.Tracer(scopeName)}
}

func (t engineTracer) Start(ctx context.Context, name string, attrs ...archon.SpanAttr) (context.Context, archon.Span) {
	ctx, span := t.tr.Start(ctx, name, trace.WithAttributes(attrKVs(attrs)...))
	return ctx, engineSpan{span}
}

// engineSpan wraps an OTEL span behind the engine's Span facade.
type engineSpan struct {
	trace.Span
}

func (s engineSpan) SetAttr(attrs ...archon.SpanAttr) {
	s.Span.SetAttributes(attrKVs(attrs)...)
}

func (s engineSpan) Event(name string, attrs ...archon.SpanAttr) {
	s.Span.AddEvent(name, trace.WithAttributes(attrKVs(attrs)...))
}

func (s engineSpan) Error(err error) {
	s.Span.RecordError(err)
	s.Span.SetStatus(codes.Error, err.Error())
}

func (s engineSpan) End() {
	s.Span.End()
}

// attrKVs converts the engine's span attributes to OTEL key-values.
func attrKVs(attrs []archon.SpanAttr) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		key := attribute.Key(a.Key)
		switch v := a.Value.(type) {
		case string:
			kvs[i] = key.String(v)
		case int:
			kvs[i] = key.Int(v)
		case int64:
			kvs[i] = key.Int64(v)
		case float64:
			kvs[i] = key.Float64(v)
		case bool:
			kvs[i] = key.Bool(v)
		default:
			kvs[i] = key.String(fmt.Sprint(a.Value))
		}
	}
	return kvs
}

// engineMetrics feeds the engine's measurement facade into the OTEL
// instruments created by Init.
type engineMetrics struct {
	inst *Instruments
}

// NewMetrics returns an archon.Metrics recording into inst. Wire it into the
// plan executor, agents, and the parallel dispatcher so the counters and
// histograms of Init actually move.
func NewMetrics(inst *Instruments) archon.Metrics {
	return engineMetrics{inst: inst}
}

func (m engineMetrics) PlanStarted(ctx context.Context, subPlan bool) {
	m.inst.PlansStarted.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("sub_plan", subPlan)))
}

func (m engineMetrics) PlanCompleted(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.inst.PlansCompleted.Add(ctx, 1, attrs)
	m.inst.PlanDuration.Record(ctx, seconds, attrs)
}

func (m engineMetrics) ThinkActCycle(ctx context.Context, agent string) {
	m.inst.ThinkActCycles.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent", agent)))
}

func (m engineMetrics) LLMCall(ctx context.Context, usage archon.Usage, seconds float64) {
	m.inst.TokenUsage.Add(ctx, int64(usage.InputTokens),
		metric.WithAttributes(attribute.String("direction", "input")))
	m.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens),
		metric.WithAttributes(attribute.String("direction", "output")))
	m.inst.LLMDuration.Record(ctx, seconds)
}

func (m engineMetrics) ToolExecution(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status))
	m.inst.ToolExecutions.Add(ctx, 1, attrs)
	m.inst.ToolDuration.Record(ctx, seconds, attrs)
}

// compile-time checks
var (
	_ archon.Tracer  = engineTracer{}
	_ archon.Span    = engineSpan{}
	_ archon.Metrics = engineMetrics{}
)

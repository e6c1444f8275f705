// Package observer provides OTEL-based observability for the execution
// engine. Init configures trace, metric, and log providers with OTLP HTTP
// exporters; users export to any OTEL-compatible backend by setting the
// standard OTEL env vars. NewTracer returns the archon.Tracer the engine
// components accept.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/archonlabs/archon/observer"

// Instruments holds the OTEL instruments used across the engine.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	PlansStarted   metric.Int64Counter
	PlansCompleted metric.Int64Counter
	ThinkActCycles metric.Int64Counter
	ToolExecutions metric.Int64Counter
	TokenUsage     metric.Int64Counter

	// Histograms
	PlanDuration metric.Float64Histogram
	ToolDuration metric.Float64Histogram
	LLMDuration  metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that must
// be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("archon")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	plansStarted, err := meter.Int64Counter("engine.plans.started",
		metric.WithDescription("Plans started, root and sub-plan"),
		metric.WithUnit("{plan}"))
	if err != nil {
		return nil, err
	}
	plansCompleted, err := meter.Int64Counter("engine.plans.completed",
		metric.WithDescription("Plans completed, by outcome"),
		metric.WithUnit("{plan}"))
	if err != nil {
		return nil, err
	}
	thinkActCycles, err := meter.Int64Counter("engine.thinkact.cycles",
		metric.WithDescription("Think-act iterations executed"),
		metric.WithUnit("{cycle}"))
	if err != nil {
		return nil, err
	}
	toolExecutions, err := meter.Int64Counter("engine.tool.executions",
		metric.WithDescription("Tool invocations dispatched"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}
	planDuration, err := meter.Float64Histogram("engine.plan.duration",
		metric.WithDescription("Plan wall time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("engine.tool.duration",
		metric.WithDescription("Tool invocation wall time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("LLM call wall time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         tracer,
		Meter:          meter,
		Logger:         logger,
		PlansStarted:   plansStarted,
		PlansCompleted: plansCompleted,
		ThinkActCycles: thinkActCycles,
		ToolExecutions: toolExecutions,
		TokenUsage:     tokenUsage,
		PlanDuration:   planDuration,
		ToolDuration:   toolDuration,
		LLMDuration:    llmDuration,
	}, nil
}

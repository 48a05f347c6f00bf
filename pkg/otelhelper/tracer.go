// Package otelhelper wires OpenTelemetry tracing for workflow executions.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	WorkflowIDKey   = "autoflow.workflow.id"
	WorkflowNameKey = "autoflow.workflow.name"
	TriggerIDKey    = "autoflow.trigger.id"
	ExecutionIDKey  = "autoflow.execution.id"
	StatusKey       = "autoflow.execution.status"
	StepIDKey       = "autoflow.step.id"
	StepNameKey     = "autoflow.step.name"
	ActionTypeKey   = "autoflow.action.type"
	RetryCountKey   = "autoflow.action.retries"
)

// Tracer returns the named tracer of the global provider. It is a no-op until Setup runs.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Setup installs an OTLP/HTTP exporting provider as the global one and returns its shutdown.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return provider.Shutdown, nil
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}

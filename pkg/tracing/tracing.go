// Package tracing installs and exposes the process-wide OpenTelemetry
// tracer used to pair a span with the Prometheus metrics
// pkg/executor/metrics.go already records, mirroring the teacher's
// pkg/agent/instrumentation.go pattern of starting a span and recording a
// metric at the same call site.
//
// Grounded on kadirpekel-hector's pkg/observability/tracer.go
// (InitGlobalTracer: enabled flag, otel.SetTracerProvider, a TracerProvider
// backed by an exporter chosen by name), scaled down from the teacher's
// full manager/recorder/debug-exporter system to the single concern this
// core needs: a span around each task dispatch and each layer's fan-out.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/dagrunner/config"
)

// Span and attribute names, mirroring the naming convention of the
// teacher's pkg/observability/constants.go (dotted span names, dotted
// attribute keys).
const (
	SpanTaskRun  = "executor.task_run"
	SpanLayerRun = "executor.layer_run"

	AttrTaskID     = "dagrunner.task.id"
	AttrTaskKind   = "dagrunner.task.kind"
	AttrTaskStatus = "dagrunner.task.status"
	AttrLayerIndex = "dagrunner.layer.index"
	AttrLayerSize  = "dagrunner.layer.size"

	tracerName = "dagrunner.executor"
)

// Init installs the process-wide TracerProvider from cfg (config.TracingConfig,
// populated by config.Load the way every other engine config is). When
// cfg.Enabled is false it installs nothing and returns a no-op shutdown,
// matching the teacher's InitGlobalTracer disabled-returns-noop-provider
// branch — an Executor that never calls Init, or is configured with tracing
// disabled, still gets a valid no-op TracerProvider from otel's own global
// default, so tracing is always safe to wire unconditionally into
// Executor.runTask/runLayer.
//
// The only exporter wired here is stdouttrace (the teacher's own debug/local
// exporter, see pkg/observability/debug_exporter.go) — dagrunner has no
// gateway to ship an OTLP collector endpoint through (spec.md §1's gateway
// Non-goal), so the network exporters the teacher also carries
// (otlptracegrpc) are not wired; see DESIGN.md.
func Init(ctx context.Context, cfg config.TracingConfig) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("tracing: failed to create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: failed to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the process-wide tracer used by pkg/executor. Calling
// this before Init (or with tracing disabled) is always safe: it returns
// otel's global no-op tracer, the same fallback the teacher's GetTracer
// relies on.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

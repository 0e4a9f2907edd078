package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/astro/internal/config"
)

const defaultServiceName = "astro"

// Resource attribute keys describing the crew behind the exported spans.
const (
	AttrCrewName    = attribute.Key("astro.crew.name")
	AttrCrewProcess = attribute.Key("astro.crew.process")
	AttrCrewAgents  = attribute.Key("astro.crew.agents")
	AttrLLMProvider = attribute.Key("astro.llm.provider")
	AttrLLMModel    = attribute.Key("astro.llm.model")
)

// ServiceInfo describes the running crew. It is attached to every span as
// resource attributes, so traces from different crews can be told apart.
type ServiceInfo struct {
	Version  string
	Crew     string
	Process  string
	Agents   []string
	Provider string
	Model    string
}

func (s ServiceInfo) attributes(serviceName string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}
	if s.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(s.Version))
	}
	for _, kv := range []struct {
		key attribute.Key
		val string
	}{
		{AttrCrewName, s.Crew},
		{AttrCrewProcess, s.Process},
		{AttrLLMProvider, s.Provider},
		{AttrLLMModel, s.Model},
	} {
		if kv.val != "" {
			attrs = append(attrs, kv.key.String(kv.val))
		}
	}
	if len(s.Agents) > 0 {
		attrs = append(attrs, AttrCrewAgents.StringSlice(s.Agents))
	}
	return attrs
}

// TracerSetup owns the span pipeline for one crew service. It is injected,
// never installed as the global provider.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerSetup exports spans over OTLP to cfg.Endpoint. Kickoff, task and
// tool spans share the resource built from info.
func NewTracerSetup(cfg *config.TracingConfig, info ServiceInfo) (*TracerSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	ctx := context.Background()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(info.attributes(serviceName)...))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	return &TracerSetup{
		provider: tp,
		tracer:   tp.Tracer(serviceName),
	}, nil
}

func newSpanExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// newSampler samples whole kickoffs: task and tool spans follow the
// decision made for their kickoff span.
func newSampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the crew tracer, or nil when tracing is off.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}
	return t.tracer
}

// Shutdown flushes pending spans.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/astro/internal/llm"
	"github.com/jkaninda/astro/internal/tools"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics and tracing.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{inner: inner, metrics: metrics, tracer: tracer}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

// Ping checks the wrapped provider.
func (p *InstrumentedProvider) Ping(ctx context.Context) error { return llm.Ping(ctx, p.inner) }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
				attribute.String("llm.model", req.Model),
				attribute.Int("llm.tools", len(req.Tools)),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	model := req.Model
	if resp != nil && resp.Model != "" {
		model = resp.Model
	}

	status := "success"
	if err != nil {
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetAttributes(
			attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
			attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
			attribute.String("llm.stop_reason", resp.StopReason),
		)
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration)
		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

// --- InstrumentedTool ---

// InstrumentedTool wraps a tools.Tool with metrics and tracing.
type InstrumentedTool struct {
	tools.Tool
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// InstrumentTools wraps every tool. With metrics and tracing both off the
// tools are returned unchanged.
func InstrumentTools(ts []tools.Tool, metrics *MetricsCollector, tracer *TracerSetup) []tools.Tool {
	if metrics == nil && tracer == nil {
		return ts
	}
	out := make([]tools.Tool, len(ts))
	for i, t := range ts {
		it := &InstrumentedTool{Tool: t, metrics: metrics}
		if tracer != nil {
			it.tracer = tracer.Tracer()
		}
		out[i] = it
	}
	return out
}

func (t *InstrumentedTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	name := t.Name()

	var span trace.Span
	if t.tracer != nil {
		ctx, span = t.tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(attribute.String("tool.name", name)))
		defer span.End()
	}

	start := time.Now()
	res, err := t.Tool.Execute(ctx, params)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case res != nil && !res.Success:
		status = "failed"
	}

	if t.metrics != nil {
		t.metrics.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		t.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(duration)
	}
	return res, err
}

var (
	_ llm.Provider = (*InstrumentedProvider)(nil)
	_ tools.Tool   = (*InstrumentedTool)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}

package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jkaninda/astro/internal/config"
	"github.com/jkaninda/astro/internal/llm"
	"github.com/jkaninda/astro/internal/tools"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, ServiceInfo{}, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
	if obs.MetricsOrNil() != nil || obs.TracerOrNil() != nil || obs.SpanTracer() != nil {
		t.Error("nil Observability accessors should return nil")
	}
	obs.Shutdown(context.Background())
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, ServiceInfo{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestNew_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{Metrics: &config.MetricsConfig{Enabled: true}}, ServiceInfo{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.MetricsOrNil() == nil {
		t.Fatal("metrics should be created when enabled")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Registered(t *testing.T) {
	m := NewMetricsCollector()

	// Vectors only appear in Gather after first use.
	m.LLMRequestsTotal.WithLabelValues("openai", "gpt-4o", "success").Inc()
	m.CrewKickoffsTotal.WithLabelValues("space", "sequential", "success").Inc()
	m.TaskDuration.WithLabelValues("Mission Planner").Observe(1.2)
	m.DelegationsTotal.WithLabelValues("Mission Planner", "Space Data Analyst", "delegate").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"astro_llm_requests_total",
		"astro_crew_kickoffs_total",
		"astro_crew_task_duration_seconds",
		"astro_crew_delegations_total",
		"astro_http_requests_total",
		"astro_active_requests",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != StatusOK || !status.Ready() {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_RequiredFailure(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("database", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddOptionalCheck("llm", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != StatusUnavailable || status.Ready() {
		t.Errorf("status = %q, want unavailable", status.Status)
	}
	if got := status.Checks["database"]; got.Status != "fail" || got.Message != "connection refused" || !got.Required {
		t.Errorf("database check = %+v", got)
	}
	if got := status.Checks["llm"]; got.Status != StatusOK || got.Required {
		t.Errorf("llm check = %+v", got)
	}
}

func TestHealthChecker_OptionalFailureDegrades(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("database", func(ctx context.Context) error { return nil })
	h.AddOptionalCheck("search", func(ctx context.Context) error { return errors.New("not configured") })

	status := h.CheckReady(context.Background())
	if status.Status != StatusDegraded {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if !status.Ready() {
		t.Error("an optional failure must not take the service out of rotation")
	}
}

func TestHealthChecker_CachesResults(t *testing.T) {
	h := NewHealthChecker(nil)
	var calls atomic.Int32
	h.AddOptionalCheck("llm", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	h.CheckReady(context.Background())
	h.CheckReady(context.Background())
	if n := calls.Load(); n != 1 {
		t.Errorf("check ran %d times within the cache window, want 1", n)
	}

	h.cacheTTL = 0
	h.CheckReady(context.Background())
	if n := calls.Load(); n != 2 {
		t.Errorf("check ran %d times after expiry, want 2", n)
	}
}

// --- Tracing ---

func TestServiceInfoAttributes(t *testing.T) {
	info := ServiceInfo{
		Version:  "1.2.0",
		Crew:     "space-agents",
		Process:  "hierarchical",
		Agents:   []string{"Mission Planner", "QA Expert"},
		Provider: "openai",
		Model:    "gpt-4o",
	}
	got := make(map[attribute.Key]attribute.Value)
	for _, kv := range info.attributes("astro") {
		got[kv.Key] = kv.Value
	}
	want := map[attribute.Key]string{
		semconv.ServiceNameKey:    "astro",
		semconv.ServiceVersionKey: "1.2.0",
		AttrCrewName:              "space-agents",
		AttrCrewProcess:           "hierarchical",
		AttrLLMProvider:           "openai",
		AttrLLMModel:              "gpt-4o",
	}
	for k, v := range want {
		if got[k].AsString() != v {
			t.Errorf("%s = %q, want %q", k, got[k].AsString(), v)
		}
	}
	if agents := got[AttrCrewAgents].AsStringSlice(); len(agents) != 2 || agents[1] != "QA Expert" {
		t.Errorf("agents = %v", agents)
	}

	if attrs := (ServiceInfo{}).attributes("astro"); len(attrs) != 1 {
		t.Errorf("empty info should only name the service, got %v", attrs)
	}
}

func TestNewSampler(t *testing.T) {
	for rate, want := range map[float64]string{
		0:    "ParentBased{root:AlwaysOnSampler,",
		1:    "ParentBased{root:AlwaysOnSampler,",
		0.25: "ParentBased{root:TraceIDRatioBased{0.25},",
	} {
		if got := newSampler(rate).Description(); !strings.HasPrefix(got, want) {
			t.Errorf("newSampler(%v) = %s, want %s", rate, got, want)
		}
	}
}

func TestTracerSetupDisabled(t *testing.T) {
	ts, err := NewTracerSetup(&config.TracingConfig{}, ServiceInfo{Crew: "space-agents"})
	if err != nil || ts != nil {
		t.Fatalf("NewTracerSetup(disabled) = %v, %v", ts, err)
	}
	if ts.Tracer() != nil {
		t.Error("nil setup should have no tracer")
	}
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

// --- InstrumentedProvider ---

type mockProvider struct {
	name   string
	resp   *llm.Response
	err    error
	called int
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.called++
	return m.resp, m.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{
		name: "openai",
		resp: &llm.Response{
			Content: "hello",
			Model:   "gpt-4o",
			Usage:   llm.Usage{InputTokens: 10, OutputTokens: 20},
		},
	}

	p := NewInstrumentedProvider(inner, metrics, nil)
	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" || inner.called != 1 {
		t.Errorf("content = %q, called = %d", resp.Content, inner.called)
	}

	if val := counterValue(t, metrics.Registry, "astro_llm_requests_total", prometheus.Labels{"provider": "openai", "model": "gpt-4o", "status": "success"}); val != 1 {
		t.Errorf("requests_total = %v, want 1", val)
	}
	if val := counterValue(t, metrics.Registry, "astro_llm_tokens_used_total", prometheus.Labels{"direction": "output"}); val != 20 {
		t.Errorf("output tokens = %v, want 20", val)
	}
}

func TestInstrumentedProvider_ErrorUsesRequestModel(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{name: "openai", err: errors.New("api error")}

	p := NewInstrumentedProvider(inner, metrics, nil)
	if _, err := p.SendMessage(context.Background(), &llm.Request{Model: "gpt-4"}); err == nil {
		t.Fatal("expected error")
	}
	if val := counterValue(t, metrics.Registry, "astro_llm_requests_total", prometheus.Labels{"model": "gpt-4", "status": "error"}); val != 1 {
		t.Errorf("error requests_total = %v, want 1", val)
	}
}

func TestInstrumentedProvider_NilMetrics(t *testing.T) {
	p := NewInstrumentedProvider(&mockProvider{name: "test", resp: &llm.Response{Content: "ok"}}, nil, nil)
	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("resp = %+v, err = %v", resp, err)
	}
}

// --- InstrumentedTool ---

type stubTool struct {
	res *tools.Result
	err error
}

func (s *stubTool) Name() string                      { return "search_internet" }
func (s *stubTool) Description() string               { return "" }
func (s *stubTool) InputSchema() map[string]any       { return nil }
func (s *stubTool) Validate(map[string]any) error     { return nil }
func (s *stubTool) Execute(context.Context, map[string]any) (*tools.Result, error) {
	return s.res, s.err
}

func TestInstrumentTools(t *testing.T) {
	metrics := NewMetricsCollector()
	wrapped := InstrumentTools([]tools.Tool{
		&stubTool{res: &tools.Result{Output: "ok", Success: true}},
		&stubTool{err: errors.New("boom")},
	}, metrics, nil)

	for _, tool := range wrapped {
		_, _ = tool.Execute(context.Background(), nil)
	}
	if val := counterValue(t, metrics.Registry, "astro_tool_executions_total", prometheus.Labels{"tool": "search_internet", "status": "success"}); val != 1 {
		t.Errorf("success executions = %v, want 1", val)
	}
	if val := counterValue(t, metrics.Registry, "astro_tool_executions_total", prometheus.Labels{"tool": "search_internet", "status": "error"}); val != 1 {
		t.Errorf("error executions = %v, want 1", val)
	}

	plain := []tools.Tool{&stubTool{}}
	if got := InstrumentTools(plain, nil, nil); got[0] != plain[0] {
		t.Error("tools should be returned unchanged with observability off")
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if val := counterValue(t, metrics.Registry, "astro_http_requests_total", prometheus.Labels{"method": "GET", "path": "/", "status_code": "202"}); val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

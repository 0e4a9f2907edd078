package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	readinessTimeout  = 3 * time.Second
	readinessCacheTTL = 15 * time.Second
)

// Readiness states. A failing required dependency (the run store) makes
// the service unavailable. A failing optional one (the LLM API, internet
// search) only degrades it: the crew can still answer, perhaps worse.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// HealthChecker reports whether the crew can take queries. Results are
// cached briefly so that frequent /readyz polling does not spend LLM API quota.
type HealthChecker struct {
	logger   *slog.Logger
	cacheTTL time.Duration

	mu       sync.Mutex
	checks   []HealthCheck
	last     HealthStatus
	lastTime time.Time
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Required bool
}

// HealthStatus is the /readyz body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

// Ready reports whether the service should receive traffic.
func (s HealthStatus) Ready() bool {
	return s.Status != StatusUnavailable
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"` // "ok" or "fail"
	Required  bool   `json:"required"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HealthChecker{logger: logger, cacheTTL: readinessCacheTTL}
}

// AddCheck registers a dependency the service cannot run without.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.add(HealthCheck{Name: name, Check: check, Required: true})
}

// AddOptionalCheck registers a dependency whose failure degrades answers
// without making the service unavailable.
func (h *HealthChecker) AddOptionalCheck(name string, check func(ctx context.Context) error) {
	h.add(HealthCheck{Name: name, Check: check})
}

func (h *HealthChecker) add(c HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
	h.lastTime = time.Time{}
}

// CheckReady runs every check concurrently, or returns the cached status
// when it is fresh.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if !h.lastTime.IsZero() && now.Sub(h.lastTime) < h.cacheTTL {
		return h.last
	}

	status := HealthStatus{Status: StatusOK, CheckedAt: now.UTC()}
	if len(h.checks) > 0 {
		status.Checks = h.run(ctx)
	}
	for name, r := range status.Checks {
		if r.Status == StatusOK {
			continue
		}
		h.logger.Warn("readiness check failed",
			slog.String("check", name),
			slog.Bool("required", r.Required),
			slog.String("error", r.Message),
		)
		switch {
		case r.Required:
			status.Status = StatusUnavailable
		case status.Status == StatusOK:
			status.Status = StatusDegraded
		}
	}

	h.last, h.lastTime = status, now
	return status
}

func (h *HealthChecker) run(ctx context.Context) map[string]CheckResult {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	results := make([]CheckResult, len(h.checks))
	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			r := CheckResult{Status: StatusOK, Required: c.Required, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				r.Status, r.Message = "fail", err.Error()
			}
			results[i] = r
		}()
	}
	wg.Wait()

	out := make(map[string]CheckResult, len(h.checks))
	for i, c := range h.checks {
		out[c.Name] = results[i]
	}
	return out
}

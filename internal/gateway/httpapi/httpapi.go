// Package httpapi serves the Space Agents web page and the JSON API.
//
// Security:
//   - Optional API key authentication on /v1 (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/astro/internal/crew"
	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/observability"
	"github.com/jkaninda/astro/internal/ratelimit"
	"github.com/jkaninda/astro/internal/storage"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	EnableSSE      bool
	APIKeys        map[string]string // API key to user ID. Empty = /v1 is open and clients are keyed by address.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Registry for /metrics. nil = endpoint disabled.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Checks behind /readyz.
	Metrics         *observability.MetricsCollector // HTTP request metrics.
	Tracer          trace.Tracer                    // HTTP request spans.
}

func (c Config) maxRequestSize() int64 {
	if c.MaxRequestSize > 0 {
		return c.MaxRequestSize
	}
	return defaultMaxRequestSize
}

// Gateway serves the web UI and the JSON API.
type Gateway struct {
	config   Config
	missions *mission.Service
	crewDef  *crew.Crew
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	page     *pageRenderer

	// Extra handlers mounted on the HTTP mux (e.g., the websocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates the HTTP gateway. def is served on GET /v1/crew.
func NewGateway(cfg Config, svc *mission.Service, def *crew.Crew, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		config:   cfg,
		missions: svc,
		crewDef:  def,
		limiter:  rl,
		logger:   logger,
		page:     newPageRenderer(),
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(cfg.maxRequestSize())),
	}
}

// WithOpenAPIDocs serves the generated OpenAPI documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Space Agents",
			Version: "v1",
		},
	)
	return g
}

// WithHandler mounts an additional GET handler at the given pattern.
// Used for the websocket endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // crew runs take minutes
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

func (g *Gateway) routes() {
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Web UI.
	g.okapi.HandleStd("GET", "/", g.handlePage)
	g.okapi.HandleStd("POST", "/", g.handlePageSubmit)

	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/query", g.handleQuery,
		okapi.DocSummary("Run the crew on a query"),
		okapi.DocTags("Query"),
		okapi.DocRequestBody(QueryRequest{}),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
	)
	if g.config.EnableSSE {
		g.group.Post("/query/stream", g.handleQueryStream,
			okapi.DocSummary("Run the crew and stream task events via SSE"),
			okapi.DocTags("Query"),
			okapi.DocRequestBody(QueryRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		)
	}
	g.group.Get("/runs", g.handleRunList,
		okapi.DocSummary("List recent runs"),
		okapi.DocTags("Runs"),
		okapi.DocResponse([]RunResponse{}),
	)
	g.group.Get("/runs/{id}", g.handleRunGet,
		okapi.DocSummary("Get a run with its task outputs"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/crew", g.handleCrew,
		okapi.DocSummary("Get the crew definition"),
		okapi.DocTags("Crew"),
		okapi.DocResponse(crew.Crew{}),
	)

	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// --- Handlers ---

// QueryRequest is the JSON body for POST /v1/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// RunResponse is a crew run as returned by the API.
type RunResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Query         string            `json:"query"`
	Source        string            `json:"source"`
	Result        string            `json:"result,omitempty"`
	Error         string            `json:"error,omitempty"`
	InputTokens   int               `json:"input_tokens"`
	OutputTokens  int               `json:"output_tokens"`
	DurationMS    int64             `json:"duration_ms"`
	CreatedAt     time.Time         `json:"created_at"`
	Tasks         []storage.TaskRun `json:"tasks,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

func toRunResponse(r *storage.Run) RunResponse {
	return RunResponse{
		ID:           r.ID.String(),
		Status:       string(r.Status),
		Query:        r.Query,
		Source:       r.Source,
		Result:       r.Result,
		Error:        r.Error,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		DurationMS:   r.DurationMS,
		CreatedAt:    r.CreatedAt,
		Tasks:        r.Tasks,
	}
}

func (g *Gateway) handleQuery(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("query is required")
	}
	if req.Query == "" {
		return c.AbortBadRequest("query is required")
	}
	// Empty submissions never reach the limiter.
	if err := g.allow(userID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http query",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
	)

	run, err := g.missions.Ask(c.Context(), mission.AskRequest{
		Query:  req.Query,
		Source: storage.SourceAPI,
		UserID: userID,
	})
	if err != nil {
		if errors.Is(err, mission.ErrEmptyQuery) {
			return c.AbortBadRequest("query is required")
		}
		g.logger.Error("crew run failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		body := ErrorBody{Error: "crew run failed"}
		if run != nil {
			body.RunID = run.ID.String()
		}
		return c.JSON(http.StatusBadGateway, body)
	}

	resp := toRunResponse(run)
	resp.CorrelationID = correlationID
	return c.OK(resp)
}

func (g *Gateway) handleRunList(c *okapi.Context) error {
	limit := 0
	if v := c.Request().URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}
	runs, err := g.missions.Runs(c.Context(), limit)
	if err != nil {
		g.logger.Error("listing runs failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing runs failed")
	}
	resp := make([]RunResponse, len(runs))
	for i := range runs {
		resp[i] = toRunResponse(&runs[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleRunGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}
	run, err := g.missions.Run(c.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "run not found"})
	}
	if err != nil {
		return c.AbortInternalServerError("loading run failed")
	}
	return c.OK(toRunResponse(run))
}

func (g *Gateway) handleCrew(c *okapi.Context) error {
	if g.crewDef == nil {
		return c.AbortServiceUnavailable("crew not configured")
	}
	return c.OK(g.crewDef)
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness returns 503 only when a required dependency fails.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if !status.Ready() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate maps the bearer API key to a user ID. With no keys
// configured the API is open and the client address is the user ID.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("userID", clientIP(c.Request()))
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, user := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = user
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// --- Helpers ---

func (g *Gateway) allow(key string) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Allow(key)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/astro/internal/config"
	"github.com/jkaninda/astro/internal/gateway"
	"github.com/jkaninda/astro/internal/gateway/httpapi"
	"github.com/jkaninda/astro/internal/gateway/ws"
	"github.com/jkaninda/astro/internal/ratelimit"
	"github.com/jkaninda/astro/internal/scheduler"
)

var (
	configPath string
	servePort  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web UI, JSON API and websocket endpoint",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file")
	// Register --port on both root and serve so that
	// `astro --port :9090` and `astro serve --port :9090` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// loadConfig loads the config file, falling back to built-in defaults when
// it does not exist.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(goutils.Env("ASTRO_CONFIG", configPath))
}

// runServe starts every enabled gateway and the scheduler.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" && cfg.Gateways.HTTP != nil {
		cfg.Gateways.HTTP.ListenAddr = servePort
	}
	if err := scheduler.Validate(cfg.Scheduler); err != nil {
		return fmt.Errorf("invalid config: scheduler: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting astro", slog.String("version", version), slog.String("config", configPath))

	c, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	var limiter *ratelimit.Limiter
	if httpCfg := cfg.Gateways.HTTP; httpCfg != nil && httpCfg.RateLimit.RequestsPerMinute > 0 {
		rl := httpCfg.RateLimit
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.BurstSize,
		})
		go pruneLimiter(ctx, limiter)
	}

	// Scheduled briefings.
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		var metrics *scheduler.Metrics
		if m := c.Obs.MetricsOrNil(); m != nil {
			metrics = scheduler.NewMetrics(m.Registry)
		}
		sched, err := scheduler.New(c.Missions, cfg.Scheduler, metrics, logger)
		if err != nil {
			return err
		}
		stopScheduler := sched.Start(ctx)
		defer stopScheduler()
	}

	gateways := buildGateways(cfg, c, limiter)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	return nil
}

// buildGateways creates the HTTP gateway with the websocket endpoint
// mounted on it, or a standalone websocket listener when HTTP is disabled.
func buildGateways(cfg *config.Config, c *Components, limiter *ratelimit.Limiter) []gateway.Gateway {
	var gws []gateway.Gateway

	var wsServer *ws.Server
	if wsCfg := cfg.Gateways.WebSocket; wsCfg != nil && wsCfg.Enabled {
		wsServer = ws.NewServer(c.Missions, wsCfg, limiter, c.Logger)
		if m := c.Obs.MetricsOrNil(); m != nil {
			if err := wsServer.RegisterMetrics(m.Registry); err != nil {
				c.Logger.Warn("registering websocket metrics", slog.String("error", err.Error()))
			}
		}
	}

	httpCfg := cfg.Gateways.HTTP
	if httpCfg == nil || !httpCfg.Enabled {
		if wsServer != nil {
			gws = append(gws, newStandaloneWSGateway(wsServer, config.DefaultListenAddr, cfg.Gateways.WebSocket.WSPath(), c.Logger))
		}
		return gws
	}

	apiCfg := httpapi.Config{
		ListenAddr:     httpCfg.ListenAddr,
		EnableDocs:     httpCfg.EnableDocs,
		EnableSSE:      httpCfg.SSE,
		APIKeys:        httpCfg.APIKeyUserMapping,
		MaxRequestSize: httpCfg.MaxRequestSizeBytes,
	}
	if c.Obs != nil {
		apiCfg.HealthChecker = c.Obs.Health
		apiCfg.Metrics = c.Obs.Metrics
		apiCfg.Tracer = c.Obs.SpanTracer()
		if c.Obs.Metrics != nil {
			apiCfg.MetricsRegistry = c.Obs.Metrics.Registry
			if m := cfg.Observability.Metrics; m != nil {
				apiCfg.MetricsPath = m.Path
			}
		}
	}

	gw := httpapi.NewGateway(apiCfg, c.Missions, c.Runner.Definition(), limiter, c.Logger)
	if wsServer != nil {
		gw.WithHandler(cfg.Gateways.WebSocket.WSPath(), wsServer.Handler())
	}
	gws = append(gws, gw)
	return gws
}

func pruneLimiter(ctx context.Context, l *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune(time.Hour)
		}
	}
}

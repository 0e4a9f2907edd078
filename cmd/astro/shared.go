package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/astro/internal/config"
	"github.com/jkaninda/astro/internal/crew"
	"github.com/jkaninda/astro/internal/llm"
	"github.com/jkaninda/astro/internal/llm/openai"
	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/observability"
	"github.com/jkaninda/astro/internal/secrets"
	"github.com/jkaninda/astro/internal/storage"
	pgstore "github.com/jkaninda/astro/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/astro/internal/storage/sqlite"
	"github.com/jkaninda/astro/internal/tools"
	"github.com/jkaninda/astro/internal/tools/database"
	mcptools "github.com/jkaninda/astro/internal/tools/mcp"
	"github.com/jkaninda/astro/internal/tools/search"
	"github.com/jkaninda/astro/internal/tools/web"
)

// Components holds every subsystem the serve, ask and mcp commands need.
// Built once by initShared, torn down by Cleanup.
type Components struct {
	Config   *config.Config
	Logger   *slog.Logger
	Obs      *observability.Observability
	Store    storage.Store
	Provider llm.Provider
	Tools    *tools.Registry
	Runner   *crew.Runner
	Missions *mission.Service

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *Components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *Components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// initShared wires config into a ready-to-run crew. Callers must call
// Cleanup when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Cleanup()
		}
	}()

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Crew definition.
	def, err := loadCrew(cfg)
	if err != nil {
		return nil, err
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, serviceInfo(cfg, def), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	c.Obs = obs
	c.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})

	// Secrets.
	resolver := newSecretResolver(cfg, logger)

	// LLM provider.
	provider, err := newLLMProvider(ctx, cfg, resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	if obs != nil && (obs.Metrics != nil || obs.Tracer != nil) {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.Tracer)
	}
	c.Provider = provider
	if obs != nil && obs.Health != nil {
		obs.Health.AddOptionalCheck("llm", func(ctx context.Context) error { return llm.Ping(ctx, provider) })
	}
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	// Tool registry.
	reg, err := buildTools(ctx, c, def, resolver)
	if err != nil {
		return nil, err
	}
	c.Tools = reg
	logger.Debug("tools registered", slog.Any("tools", reg.Names()))

	runnerOpts := []crew.Option{
		crew.WithLogger(logger),
		crew.WithMaxIterations(cfg.Crew.MaxIterations),
	}
	if obs != nil {
		runnerOpts = append(runnerOpts, crew.WithObservability(obs))
	}
	runner, err := crew.New(def, provider, reg, runnerOpts...)
	if err != nil {
		return nil, fmt.Errorf("building crew: %w", err)
	}
	c.Runner = runner

	// Storage.
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Store = store
	c.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	c.Missions = mission.NewService(runner, store.Runs(),
		mission.WithLogger(logger),
		mission.WithCrewName(def.Name),
		mission.WithTimeout(cfg.Crew.Timeout()),
	)
	return c, nil
}

// loadCrew returns the crew from crew.definition_path, or the built-in
// space crew tuned by the crew config section.
func loadCrew(cfg *config.Config) (*crew.Crew, error) {
	if cfg.Crew.DefinitionPath != "" {
		def, err := crew.LoadFile(cfg.Crew.DefinitionPath)
		if err != nil {
			return nil, fmt.Errorf("loading crew definition: %w", err)
		}
		def.Verbose = def.Verbose || cfg.Crew.Verbose
		return def, nil
	}

	def := crew.SpaceCrew()
	def.Process = crew.Process(cfg.Crew.Process)
	def.ManagerModel = cfg.Crew.ManagerModel
	def.ManagerTemperature = llm.Float(cfg.Crew.ManagerTemp())
	def.Verbose = cfg.Crew.Verbose
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// serviceInfo labels exported spans with the crew and model in use.
func serviceInfo(cfg *config.Config, def *crew.Crew) observability.ServiceInfo {
	info := observability.ServiceInfo{
		Version:  version,
		Crew:     def.Name,
		Process:  string(def.Process),
		Provider: cfg.Providers.Default,
		Model:    cfg.Providers.OpenAI.Model,
	}
	if info.Provider == "ollama" {
		info.Model = cfg.Providers.Ollama.Model
	}
	for _, a := range def.Agents {
		info.Agents = append(info.Agents, a.Role)
	}
	return info
}

// newSecretResolver registers the YAML secrets file and any configured
// vault providers next to the env provider.
func newSecretResolver(cfg *config.Config, logger *slog.Logger) *secrets.Resolver {
	r := secrets.NewResolver()
	r.Register("file", secrets.NewFileProvider(cfg.SecretsFilePath()))
	if cfg.Secrets == nil {
		return r
	}
	for _, sp := range cfg.Secrets.Providers {
		switch sp.Type {
		case "env", "file":
		case "vault":
			vp, err := secrets.NewVaultProvider(sp.Config)
			if err != nil {
				logger.Error("failed to create vault secret provider", slog.String("error", err.Error()))
				continue
			}
			r.Register("vault", vp)
		default:
			logger.Warn("unknown secret provider type, skipping", slog.String("type", sp.Type))
		}
	}
	return r
}

// newLLMProvider creates the default provider and its fallback chain.
func newLLMProvider(ctx context.Context, cfg *config.Config, resolver secrets.Provider, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(ctx, cfg.Providers.Default, cfg, resolver, logger)
	if err != nil {
		return nil, err
	}

	providers := []llm.Provider{primary}
	for _, name := range cfg.Providers.Fallback {
		fb, err := buildProvider(ctx, name, cfg, resolver, logger)
		if err != nil {
			logger.Warn("skipping fallback provider",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		providers = append(providers, fb)
	}
	return llm.NewFallbackProvider(providers, logger)
}

// buildProvider creates a single LLM provider by name.
func buildProvider(ctx context.Context, name string, cfg *config.Config, resolver secrets.Provider, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "openai", "":
		apiKey := cfg.Providers.OpenAI.APIKey
		if apiKey == "" {
			var err error
			apiKey, err = secrets.Lookup(ctx, resolver, cfg.Providers.OpenAI.APIKeyRef, "env://OPENAI_API_KEY")
			if err != nil {
				return nil, fmt.Errorf("OpenAI API key not found (set OPENAI_API_KEY or %s in %s): %w",
					cfg.Providers.OpenAI.APIKeyRef, cfg.SecretsFilePath(), err)
			}
		}
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(apiKey, cfg.Providers.OpenAI.Model, logger, opts...), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// buildTools registers the search and scrape tools plus the optional mission
// database and MCP tools, and binds the optional ones to the crew.
func buildTools(ctx context.Context, c *Components, def *crew.Crew, resolver secrets.Provider) (*tools.Registry, error) {
	cfg, logger := c.Config, c.Logger

	searchCfg := search.Config{}
	if sc := cfg.Tools.Search; sc != nil {
		searchCfg.APIKey = sc.APIKey
		searchCfg.Endpoint = sc.Endpoint
		searchCfg.MaxResults = sc.MaxResults
		searchCfg.Timeout = time.Duration(sc.TimeoutSeconds) * time.Second
		if searchCfg.APIKey == "" && sc.APIKeyRef != "" {
			if key, err := secrets.Lookup(ctx, resolver, sc.APIKeyRef); err == nil {
				searchCfg.APIKey = key
			}
		}
	}
	if searchCfg.APIKey == "" {
		logger.Warn("SERPER_API_KEY is not set, internet search will fail until it is configured")
	}

	scrapeCfg := web.Config{}
	if sc := cfg.Tools.Scrape; sc != nil {
		scrapeCfg = web.Config{
			AllowedDomains:   sc.AllowedDomains,
			MaxResponseBytes: sc.MaxResponseBytes,
			TimeoutSeconds:   sc.TimeoutSeconds,
		}
	}

	searchTool := search.NewTool(searchCfg, logger)
	if c.Obs != nil && c.Obs.Health != nil {
		c.Obs.Health.AddOptionalCheck("search", searchTool.Ready)
	}
	all := []tools.Tool{
		searchTool,
		web.NewTool(scrapeCfg, logger),
	}

	if dbCfg := cfg.Tools.Database; dbCfg != nil && dbCfg.DSN != "" {
		missionDB := database.Open(database.Config{
			DSN:            dbCfg.DSN,
			MaxRows:        dbCfg.MaxRows,
			TimeoutSeconds: dbCfg.TimeoutSeconds,
			Schema:         dbCfg.Schema,
		}, logger)
		c.addCleanup(func() { _ = missionDB.Close() })
		all = append(all, missionDB.Tools()...)
		def.AddTools(crew.RoleDataAnalyst, database.QueryToolName, database.SchemaToolName)
		logger.Debug("mission database tools enabled")
	}

	if len(cfg.Tools.MCPServers) > 0 {
		bridge := mcptools.NewBridge(version, logger)
		mcpCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		discovered := bridge.ConnectAll(mcpCtx, cfg.Tools.MCPServers)
		cancel()
		c.addCleanup(bridge.Close)

		names := make([]string, 0, len(discovered))
		for _, t := range discovered {
			names = append(names, t.Name())
		}
		// MCP tools go to every agent that already researches with tools.
		for _, a := range def.Agents {
			if len(a.Tools) > 0 {
				def.AddTools(a.Role, names...)
			}
		}
		all = append(all, discovered...)
	}

	if ttl := cfg.Tools.CacheTTL(); ttl > 0 {
		cache := tools.NewCache(ttl)
		for i, t := range all {
			all[i] = tools.WithCache(t, cache)
		}
	}
	all = observability.InstrumentTools(all, c.Obs.MetricsOrNil(), c.Obs.TracerOrNil())

	reg := tools.NewRegistry()
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("registering tool: %w", err)
		}
	}
	return reg, nil
}

// openStore opens and migrates the configured run store.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		store, err = openPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		store, err = openSQLiteStore(cfg, logger)
	default:
		err = fmt.Errorf("unknown storage driver: %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("run store initialized", slog.String("driver", store.Driver()))
	return store, nil
}

func openSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}
	store, err := sqlitestore.Open(sqlitestore.Config{
		Path:        cfg.DatabasePath(),
		JournalMode: journalMode,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	return store, nil
}

func openPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pc := cfg.Storage.Postgres
	if pc == nil || pc.DSN == "" {
		return nil, errors.New("postgres DSN is required (set storage.postgres.dsn or ASTRO_DB_DSN)")
	}
	pgDB, err := pgstore.Open(pgstore.Config{
		DSN:             pc.DSN,
		MaxOpenConns:    pc.MaxOpenConns,
		MaxIdleConns:    pc.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pc.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(pgDB), nil
}

// Package config handles loading and validating astro configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Defaults for the space crew. The agent model matches OPENAI_MODEL_NAME of the
// hosted demo; the manager model is only used by the hierarchical process.
const (
	DefaultAgentModel         = "gpt-4o"
	DefaultManagerModel       = "gpt-4"
	DefaultManagerTemperature = 0.7
	DefaultMaxIterations      = 25
	DefaultListenAddr         = ":8080"
	DefaultAPIKeyRef          = "file://openai.api_key"
)

// Config is the root configuration for astro.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Default: ~/.astro/data. Override: ASTRO_DATA_DIR.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite under DataDir
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Crew          CrewConfig           `json:"crew" yaml:"crew"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = no scheduled briefings
	Secrets       *SecretsConfig       `json:"secrets,omitempty" yaml:"secrets,omitempty"`             // nil = secrets file + env
}

// StorageConfig configures the run history backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/astro.db
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", ...
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: ASTRO_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800
}

// ProvidersConfig selects the LLM backend.
type ProvidersConfig struct {
	Default  string       `json:"default" yaml:"default"`                       // "openai" (default) or "ollama".
	Fallback []string     `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Tried in order when the default fails.
	OpenAI   OpenAIConfig `json:"openai" yaml:"openai"`
	Ollama   OllamaConfig `json:"ollama" yaml:"ollama"`
}

// OpenAIConfig configures the OpenAI chat completions client.
// The key is normally resolved from APIKeyRef through the secrets providers.
type OpenAIConfig struct {
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`         // Override: OPENAI_API_KEY.
	APIKeyRef string `json:"api_key_ref,omitempty" yaml:"api_key_ref,omitempty"` // Default: file://openai.api_key
	Model     string `json:"model" yaml:"model"`                                 // Override: OPENAI_MODEL_NAME. Default: gpt-4o.
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`       // Default: https://api.openai.com
}

// OllamaConfig configures a local Ollama server through its OpenAI-compatible API.
type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Default: http://localhost:11434
}

// CrewConfig tunes the crew runtime.
type CrewConfig struct {
	DefinitionPath     string   `json:"definition_path,omitempty" yaml:"definition_path,omitempty"` // YAML crew file. Empty = built-in space crew.
	Process            string   `json:"process,omitempty" yaml:"process,omitempty"`                 // "sequential" (default) or "hierarchical".
	ManagerModel       string   `json:"manager_model,omitempty" yaml:"manager_model,omitempty"`     // Default: gpt-4
	ManagerTemperature *float64 `json:"manager_temperature,omitempty" yaml:"manager_temperature,omitempty"`
	MaxIterations      int      `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"` // Per agent tool loop. Default: 25
	Verbose            bool     `json:"verbose" yaml:"verbose"`
	TimeoutSeconds     int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"` // Whole kickoff. 0 = no limit.
}

// ManagerTemp returns the manager temperature with the 0.7 default.
func (c CrewConfig) ManagerTemp() float64 {
	if c.ManagerTemperature != nil {
		return *c.ManagerTemperature
	}
	return DefaultManagerTemperature
}

// Timeout returns the kickoff timeout, zero meaning none.
func (c CrewConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ToolsConfig configures the tools agents can use.
type ToolsConfig struct {
	Search          *SearchToolConfig   `json:"search,omitempty" yaml:"search,omitempty"`
	Scrape          *ScrapeToolConfig   `json:"scrape,omitempty" yaml:"scrape,omitempty"`
	Database        *DatabaseToolConfig `json:"database,omitempty" yaml:"database,omitempty"` // nil = mission DB tools disabled
	CacheTTLSeconds int                 `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`   // 0 = 60s, negative disables caching
	MCPServers      []MCPServerConfig   `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`
}

// CacheTTL returns the tool result cache TTL. Zero disables the cache.
func (t ToolsConfig) CacheTTL() time.Duration {
	switch {
	case t.CacheTTLSeconds < 0:
		return 0
	case t.CacheTTLSeconds == 0:
		return 60 * time.Second
	default:
		return time.Duration(t.CacheTTLSeconds) * time.Second
	}
}

// SearchToolConfig configures the internet search tool (Serper).
type SearchToolConfig struct {
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty"`         // Override: SERPER_API_KEY.
	APIKeyRef      string `json:"api_key_ref,omitempty" yaml:"api_key_ref,omitempty"` // e.g. file://serper.api_key
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`       // Default: https://google.serper.dev/search
	MaxResults     int    `json:"max_results" yaml:"max_results"`                     // Default: 10
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`             // Default: 15
}

// ScrapeToolConfig restricts the website scraping tool.
type ScrapeToolConfig struct {
	AllowedDomains   []string `json:"allowed_domains" yaml:"allowed_domains"` // Empty = any public host.
	MaxResponseBytes int64    `json:"max_response_bytes" yaml:"max_response_bytes"`
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// DatabaseToolConfig configures the read-only mission database tools.
type DatabaseToolConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"` // Override: ASTRO_MISSION_DB_DSN.
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	Schema         string `json:"schema,omitempty" yaml:"schema,omitempty"` // Postgres schema to describe. Default: public
}

// MCPServerConfig configures an external MCP server whose tools are added to the registry.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"` // "stdio", "sse", or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"` // Values support ${VAR} expansion.
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// GatewaysConfig configures the network surfaces.
type GatewaysConfig struct {
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// HTTPGatewayConfig configures the web UI and JSON API.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping,omitempty" yaml:"api_key_user_mapping,omitempty"` // Empty = /v1 is open.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	SSE                 bool              `json:"sse" yaml:"sse"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// WebSocketGatewayConfig configures the live progress endpoint.
type WebSocketGatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`   // Default: "/ws"
	Token   string `json:"token" yaml:"token"` // Optional shared token.
}

// WSPath returns the websocket path with a default of "/ws".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws"
}

// ObservabilityConfig configures metrics, tracing and health checks.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" (default) or "http"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "astro"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// SchedulerConfig configures recurring mission briefings.
type SchedulerConfig struct {
	Enabled          bool                 `json:"enabled" yaml:"enabled"`
	MaxConcurrentRun int                  `json:"max_concurrent" yaml:"max_concurrent"` // Default: 1
	Jobs             []ScheduledJobConfig `json:"jobs" yaml:"jobs"`
}

// MaxConcurrent returns how many scheduled runs may execute at once.
func (s *SchedulerConfig) MaxConcurrent() int {
	if s != nil && s.MaxConcurrentRun > 0 {
		return s.MaxConcurrentRun
	}
	return 1
}

// ScheduledJobConfig is one recurring crew run.
type ScheduledJobConfig struct {
	Name     string `json:"name" yaml:"name"`
	Schedule string `json:"schedule" yaml:"schedule"` // Standard 5-field cron expression or @every/@daily descriptor.
	Query    string `json:"query" yaml:"query"`
}

// SecretsConfig configures secret resolution.
type SecretsConfig struct {
	File      string                 `json:"file,omitempty" yaml:"file,omitempty"` // Default: ~/.astro/secrets.yaml
	Providers []SecretProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// SecretProviderConfig configures an additional secret provider (e.g. vault).
type SecretProviderConfig struct {
	Type   string            `json:"type" yaml:"type"`
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// DefaultConfigPath returns the default config file path (~/.astro/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/astro.yaml"
	}
	return filepath.Join(home, ".astro", "config.yaml")
}

// Default returns a configuration with every default applied and the
// environment overrides read. Used when no config file exists.
func Default() (*Config, error) {
	cfg := &Config{}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL_NAME"); v != "" {
		cfg.Providers.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Providers.OpenAI.BaseURL = v
	}
	if v := os.Getenv("SERPER_API_KEY"); v != "" {
		if cfg.Tools.Search == nil {
			cfg.Tools.Search = &SearchToolConfig{}
		}
		cfg.Tools.Search.APIKey = v
	}
	if v := os.Getenv("ASTRO_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ASTRO_DB_DSN"); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Driver = "postgres"
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("ASTRO_MISSION_DB_DSN"); v != "" {
		if cfg.Tools.Database == nil {
			cfg.Tools.Database = &DatabaseToolConfig{}
		}
		cfg.Tools.Database.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, ".astro", "data")
		}
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "openai"
	}
	if cfg.Providers.OpenAI.Model == "" {
		cfg.Providers.OpenAI.Model = DefaultAgentModel
	}
	if cfg.Providers.OpenAI.APIKeyRef == "" {
		cfg.Providers.OpenAI.APIKeyRef = DefaultAPIKeyRef
	}
	if cfg.Crew.Process == "" {
		cfg.Crew.Process = "sequential"
	}
	if cfg.Crew.ManagerModel == "" {
		cfg.Crew.ManagerModel = DefaultManagerModel
	}
	if cfg.Crew.MaxIterations <= 0 {
		cfg.Crew.MaxIterations = DefaultMaxIterations
	}
	if cfg.Gateways.HTTP == nil {
		cfg.Gateways.HTTP = &HTTPGatewayConfig{Enabled: true, SSE: true}
	}
	if cfg.Gateways.HTTP.ListenAddr == "" {
		cfg.Gateways.HTTP.ListenAddr = DefaultListenAddr
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		return "data"
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if p, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return p
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "astro.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

// SecretsFilePath returns the YAML secrets file location.
func (c *Config) SecretsFilePath() string {
	if c.Secrets != nil && c.Secrets.File != "" {
		if p, err := resolvePath(c.Secrets.File); err == nil {
			return p
		}
		return c.Secrets.File
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".astro", "secrets.yaml")
	}
	return filepath.Join(home, ".astro", "secrets.yaml")
}

func (c *Config) validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	switch c.Crew.Process {
	case "sequential", "hierarchical":
	default:
		return fmt.Errorf("crew.process %q is not supported (use sequential or hierarchical)", c.Crew.Process)
	}
	if t := c.Crew.ManagerTemp(); t < 0 || t > 2 {
		return fmt.Errorf("crew.manager_temperature must be between 0 and 2, got %v", t)
	}
	switch c.StorageDriverName() {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required (set ASTRO_DB_DSN env var)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
	}
	if c.Scheduler != nil && c.Scheduler.Enabled {
		seen := make(map[string]bool, len(c.Scheduler.Jobs))
		for i, j := range c.Scheduler.Jobs {
			if j.Name == "" {
				return fmt.Errorf("scheduler.jobs[%d].name is required", i)
			}
			if seen[j.Name] {
				return fmt.Errorf("scheduler.jobs[%d]: duplicate name %q", i, j.Name)
			}
			seen[j.Name] = true
			if j.Schedule == "" {
				return fmt.Errorf("scheduler.jobs[%d].schedule is required", i)
			}
			if strings.TrimSpace(j.Query) == "" {
				return fmt.Errorf("scheduler.jobs[%d].query is required", i)
			}
		}
	}
	for i, s := range c.Tools.MCPServers {
		if s.Name == "" {
			return fmt.Errorf("tools.mcp_servers[%d].name is required", i)
		}
	}
	return nil
}

func (c *Config) validateProvider() error {
	for _, name := range append([]string{c.Providers.Default}, c.Providers.Fallback...) {
		switch name {
		case "openai":
			if c.Providers.OpenAI.Model == "" {
				return fmt.Errorf("providers.openai.model is required")
			}
		case "ollama":
			if c.Providers.Ollama.Model == "" {
				return fmt.Errorf("providers.ollama.model is required")
			}
		default:
			return fmt.Errorf("provider %q is not supported (use openai or ollama)", name)
		}
	}
	return nil
}

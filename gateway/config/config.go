package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers understood by the gateway.
const (
	DriverMemory   = "memory"
	DriverLevelDB  = "leveldb"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Environment variables that override file values.
const (
	EnvEnvironment = "WHISTLE_ENV"
	EnvHMACSecret  = "WHISTLE_GATEWAY_HMAC_SECRET"
	EnvDSN         = "WHISTLE_GATEWAY_DSN"
	EnvListen      = "WHISTLE_GATEWAY_LISTEN"
	EnvAdmin       = "WHISTLE_GATEWAY_ADMIN"
)

type RateLimitConfig struct {
	ID                string         `yaml:"id"`
	RequestsPerMinute float64        `yaml:"requestsPerMinute"`
	RatePerSecond     float64        `yaml:"ratePerSecond"`
	Burst             int            `yaml:"burst"`
	DefaultTokens     int            `yaml:"defaultTokens"`
	Tokens            map[string]int `yaml:"tokens"`
}

type ObservabilityConfig struct {
	ServiceName   string            `yaml:"serviceName"`
	Metrics       bool              `yaml:"metrics"`
	Tracing       bool              `yaml:"tracing"`
	LogRequests   bool              `yaml:"logRequests"`
	MetricsPrefix string            `yaml:"metricsPrefix"`
	OTLPEndpoint  string            `yaml:"otlpEndpoint"`
	OTLPInsecure  bool              `yaml:"otlpInsecure"`
	OTLPHeaders   map[string]string `yaml:"otlpHeaders"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig selects the bounty record store. Path is used by leveldb and
// sqlite, DSN by postgres (and by sqlite when set).
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// AuditConfig points at the sqlite file holding idempotency keys and the
// request audit log. An empty path disables both.
type AuditConfig struct {
	Path string `yaml:"path"`
}

type EvidenceConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"maxBytes"`
}

type FeedConfig struct {
	Buffer int `yaml:"buffer"`
}

type ExportConfig struct {
	MaxRows int `yaml:"maxRows"`
}

// RailClient is an external funding rail allowed to post signed deposit
// notifications.
type RailClient struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

type RailConfig struct {
	Clients   []RailClient  `yaml:"clients"`
	ClockSkew time.Duration `yaml:"clockSkew"`
	NonceTTL  time.Duration `yaml:"nonceTTL"`
}

// Enabled reports whether any rail client is configured.
func (r RailConfig) Enabled() bool { return len(r.Clients) > 0 }

// WebhookConfig forwards committed bounty events to an operator endpoint.
// Events filters by event type; empty forwards everything.
type WebhookConfig struct {
	URL         string        `yaml:"url"`
	Secret      string        `yaml:"secret"`
	Events      []string      `yaml:"events"`
	MaxAttempts int           `yaml:"maxAttempts"`
	MinBackoff  time.Duration `yaml:"minBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
	QueueSize   int           `yaml:"queueSize"`
}

type Config struct {
	Environment   string              `yaml:"environment"`
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
	Auth          AuthConfig          `yaml:"auth"`
	Security      SecurityConfig      `yaml:"security"`
	Storage       StorageConfig       `yaml:"storage"`
	Audit         AuditConfig         `yaml:"audit"`
	Evidence      EvidenceConfig      `yaml:"evidence"`
	Feed          FeedConfig          `yaml:"feed"`
	Export        ExportConfig        `yaml:"export"`
	Rail          RailConfig          `yaml:"rail"`
	Webhooks      []WebhookConfig     `yaml:"webhooks"`
	CORSOrigins   []string            `yaml:"corsOrigins"`

	// MaxConnections caps concurrently accepted connections; 0 means no cap.
	MaxConnections int `yaml:"maxConnections"`
}

type AuthConfig struct {
	Enabled           bool          `yaml:"enabled"`
	HMACSecret        string        `yaml:"hmacSecret"`
	Issuer            string        `yaml:"issuer"`
	Audience          string        `yaml:"audience"`
	Admin             string        `yaml:"admin"`
	RequireAddress    bool          `yaml:"requireAddress"`
	OptionalPaths     []string      `yaml:"optionalPaths"`
	AllowAnonymous    bool          `yaml:"allowAnonymous"`
	ClockSkew         time.Duration `yaml:"clockSkew"`
	allowAnonymousSet bool          `yaml:"-"`
	enabledSet        bool          `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled        *bool         `yaml:"enabled"`
		HMACSecret     string        `yaml:"hmacSecret"`
		Issuer         string        `yaml:"issuer"`
		Audience       string        `yaml:"audience"`
		Admin          string        `yaml:"admin"`
		RequireAddress bool          `yaml:"requireAddress"`
		OptionalPaths  []string      `yaml:"optionalPaths"`
		AllowAnonymous *bool         `yaml:"allowAnonymous"`
		ClockSkew      time.Duration `yaml:"clockSkew"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Enabled, a.enabledSet = false, false
	if raw.Enabled != nil {
		a.Enabled = *raw.Enabled
		a.enabledSet = true
	}
	a.HMACSecret = raw.HMACSecret
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.Admin = raw.Admin
	a.RequireAddress = raw.RequireAddress
	a.OptionalPaths = raw.OptionalPaths
	a.AllowAnonymous, a.allowAnonymousSet = false, false
	if raw.AllowAnonymous != nil {
		a.AllowAnonymous = *raw.AllowAnonymous
		a.allowAnonymousSet = true
	}
	a.ClockSkew = raw.ClockSkew
	return nil
}

type SecurityConfig struct {
	TLSCertFile string `yaml:"tlsCertFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Environment:   "dev",
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Observability: ObservabilityConfig{
			ServiceName:   "whistle-gateway",
			Metrics:       true,
			Tracing:       false,
			LogRequests:   true,
			MetricsPrefix: "whistle",
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Auth: AuthConfig{
			Enabled:        true,
			AllowAnonymous: false,
			OptionalPaths:  []string{"/healthz", "/metrics"},
			ClockSkew:      2 * time.Minute,
			enabledSet:     true,
		},
		Storage:  StorageConfig{Driver: DriverMemory},
		Evidence: EvidenceConfig{MaxBytes: 8 << 20},
		Feed:     FeedConfig{Buffer: 64},
		Export:   ExportConfig{MaxRows: 10000},
		Rail:     RailConfig{ClockSkew: 2 * time.Minute, NonceTTL: 10 * time.Minute},
	}
}

// Load reads the YAML file at path (if any) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if lookup != nil {
		cfg.applyEnv(lookup)
	}
	cfg.applyAuthDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvEnvironment); ok && strings.TrimSpace(v) != "" {
		cfg.Environment = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvHMACSecret); ok && strings.TrimSpace(v) != "" {
		cfg.Auth.HMACSecret = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDSN); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.DSN = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvListen); ok && strings.TrimSpace(v) != "" {
		cfg.ListenAddress = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAdmin); ok && strings.TrimSpace(v) != "" {
		cfg.Auth.Admin = strings.TrimSpace(v)
	}
}

func (cfg *Config) applyAuthDefaults() {
	if cfg == nil {
		return
	}
	if !cfg.Auth.enabledSet && !cfg.isSensitiveDeployment() {
		cfg.Auth.Enabled = true
		cfg.Auth.enabledSet = true
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if !cfg.Auth.allowAnonymousSet {
		cfg.Auth.AllowAnonymous = false
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Feed.Buffer <= 0 {
		cfg.Feed.Buffer = 64
	}
	if cfg.Evidence.MaxBytes <= 0 {
		cfg.Evidence.MaxBytes = 8 << 20
	}
}

var (
	ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set for sensitive deployments")
	ErrAuthSecretMissing        = errors.New("auth.hmacSecret is required when auth is enabled outside dev")
)

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.Enabled && !IsDevEnv(cfg.Environment) && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return ErrAuthSecretMissing
	}
	if cfg.Auth.AllowAnonymous && !cfg.Auth.allowAnonymousSet {
		return fmt.Errorf("auth.allowAnonymous must be explicitly set to true to enable anonymous access")
	}
	trimmed := make([]string, len(cfg.Auth.OptionalPaths))
	for i, path := range cfg.Auth.OptionalPaths {
		trimmedPath := strings.TrimSpace(path)
		if trimmedPath == "" {
			return fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		}
		if !strings.HasPrefix(trimmedPath, "/") {
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		trimmed[i] = trimmedPath
	}
	cfg.Auth.OptionalPaths = trimmed
	if cfg.Auth.Enabled && cfg.Auth.AllowAnonymous && len(cfg.Auth.OptionalPaths) == 0 {
		return fmt.Errorf("auth.optionalPaths must list at least one entry when auth.allowAnonymous is true")
	}

	if cfg.MaxConnections < 0 {
		return fmt.Errorf("maxConnections cannot be negative")
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverLevelDB, DriverBolt:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %s", cfg.Storage.Driver)
		}
	case DriverSQLite:
		if strings.TrimSpace(cfg.Storage.Path) == "" && strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.path or storage.dsn is required for driver %s", cfg.Storage.Driver)
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}

	seenLimits := make(map[string]struct{}, len(cfg.RateLimits))
	for i, limit := range cfg.RateLimits {
		id := strings.TrimSpace(limit.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if _, dup := seenLimits[id]; dup {
			return fmt.Errorf("rateLimits[%d].id %q is duplicated", i, id)
		}
		seenLimits[id] = struct{}{}
		if limit.RequestsPerMinute < 0 || limit.RatePerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("rateLimits[%d] values must be non-negative", i)
		}
	}

	seenRails := make(map[string]struct{}, len(cfg.Rail.Clients))
	for i, client := range cfg.Rail.Clients {
		id := strings.TrimSpace(client.ID)
		if id == "" || strings.TrimSpace(client.Secret) == "" {
			return fmt.Errorf("rail.clients[%d] requires id and secret", i)
		}
		if _, dup := seenRails[id]; dup {
			return fmt.Errorf("rail.clients[%d].id %q is duplicated", i, id)
		}
		seenRails[id] = struct{}{}
	}
	for i, hook := range cfg.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
		if strings.TrimSpace(hook.Secret) == "" {
			return fmt.Errorf("webhooks[%d]: secret is required", i)
		}
	}
	if cfg.Rail.Enabled() && strings.TrimSpace(cfg.Auth.Admin) == "" {
		return fmt.Errorf("auth.admin is required when rail clients are configured")
	}
	return nil
}

func (cfg *Config) isSensitiveDeployment() bool {
	if cfg == nil {
		return false
	}
	if strings.TrimSpace(cfg.Security.TLSCertFile) != "" {
		return true
	}
	if strings.TrimSpace(cfg.Security.TLSKeyFile) != "" {
		return true
	}
	return !IsDevEnv(cfg.Environment)
}

// RateLimitByID returns the limit with the given identifier.
func (cfg Config) RateLimitByID(id string) (RateLimitConfig, bool) {
	for _, limit := range cfg.RateLimits {
		if limit.ID == id {
			return limit, true
		}
	}
	return RateLimitConfig{}, false
}

// IsDevEnv reports whether env names a development deployment.
func IsDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "local", "test":
		return true
	default:
		return false
	}
}

// Package config provides unified configuration for the modelgate gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults (including the full provider table)
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (MODELGATE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the modelgate gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     []ProviderConfig    `yaml:"providers"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	Usage         UsageConfig         `yaml:"usage"`
	Observability ObservabilityConfig `yaml:"observability"`

	// DefaultProvider is used when a request names no provider and no
	// higher-priority provider is available. Must be a known provider name.
	DefaultProvider string `yaml:"default_provider"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 120s
}

// ProviderConfig describes one member of the provider enumeration. The set
// of names is closed; configuration adjusts credentials and defaults but
// cannot introduce new providers.
type ProviderConfig struct {
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key

	// Model is the default model forwarded when a request names none.
	Model string `yaml:"model"`

	// Priority orders provider selection; lower wins. Unique per provider.
	Priority int `yaml:"priority"`

	// CostPerCall is the flat per-request cost charged for stats buckets.
	CostPerCall float64 `yaml:"cost_per_call"`

	// CostPerToken is the per-token rate used for request-log billing.
	CostPerToken float64 `yaml:"cost_per_token"`

	// AccountID is required by the cloudflare provider only.
	AccountID string `yaml:"account_id"`

	// Referer and Title are forwarded as attribution headers by the
	// openrouter provider only.
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
}

// AuthConfig holds authentication and rate limiting settings.
type AuthConfig struct {
	// RateLimitPerMinute caps requests per user per minute. default: 60
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// EnableTestKey accepts the fixed development credential. default: true
	EnableTestKey bool `yaml:"enable_test_key"`

	// AdminJWTSecret signs and verifies admin session tokens. When empty,
	// admin endpoints only accept admin-role API keys.
	AdminJWTSecret     string `yaml:"admin_jwt_secret"`
	AdminJWTSecretFile string `yaml:"admin_jwt_secret_file"` // _file variant
}

// StorageConfig holds state management settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// UsageConfig holds usage accounting settings.
type UsageConfig struct {
	// LogRequests enables per-request log rows in addition to the
	// aggregate stats buckets. default: true
	LogRequests bool `yaml:"log_requests"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// ProviderNames is the closed provider enumeration in priority order.
var ProviderNames = []string{
	"openai", "deepseek", "gemini", "openrouter", "siliconflow", "cloudflare", "grok",
}

// FallbackProvider is available even without a credential.
const FallbackProvider = "cloudflare"

// Defaults returns a Config with all default values filled in, including
// the complete provider table with standard endpoints, models, priorities,
// and billing rates.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Providers: []ProviderConfig{
			{
				Name:         "openai",
				BaseURL:      "https://api.openai.com/v1",
				Model:        "gpt-3.5-turbo",
				Priority:     1,
				CostPerCall:  0.002,
				CostPerToken: 0.00001,
			},
			{
				Name:         "deepseek",
				BaseURL:      "https://api.deepseek.com/v1",
				Model:        "deepseek-chat",
				Priority:     2,
				CostPerCall:  0.0001,
				CostPerToken: 0.000001,
			},
			{
				Name:         "gemini",
				BaseURL:      "https://generativelanguage.googleapis.com/v1beta",
				Model:        "gemini-pro",
				Priority:     3,
				CostPerCall:  0.001,
				CostPerToken: 0.000005,
			},
			{
				Name:         "openrouter",
				BaseURL:      "https://openrouter.ai/api/v1",
				Model:        "openai/gpt-3.5-turbo",
				Priority:     4,
				CostPerCall:  0.002,
				CostPerToken: 0.00002,
				Referer:      "https://modelgate.example.com",
				Title:        "ModelGate",
			},
			{
				Name:         "siliconflow",
				BaseURL:      "https://api.siliconflow.cn/v1",
				Model:        "deepseek-ai/deepseek-chat",
				Priority:     5,
				CostPerCall:  0.0002,
				CostPerToken: 0.000001,
			},
			{
				Name:         "cloudflare",
				BaseURL:      "https://api.cloudflare.com/client/v4",
				Model:        "@cf/meta/llama-2-7b-chat-fp16",
				Priority:     6,
				CostPerCall:  0.0005,
				CostPerToken: 0,
			},
			{
				Name:         "grok",
				BaseURL:      "https://api.x.ai/v1",
				Model:        "grok-beta",
				Priority:     7,
				CostPerCall:  0.001,
				CostPerToken: 0.00001,
			},
		},
		Auth: AuthConfig{
			RateLimitPerMinute: 60,
			EnableTestKey:      true,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Usage: UsageConfig{
			LogRequests: true,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		DefaultProvider: "openai",
	}
}

// Provider returns the configuration entry for name, or nil if name is not
// part of the enumeration.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// Healthy reports whether the named provider can serve traffic: it has a
// credential, or it is the fallback provider which needs none.
func (c *Config) Healthy(name string) bool {
	p := c.Provider(name)
	if p == nil {
		return false
	}
	return p.APIKey != "" || p.Name == FallbackProvider
}

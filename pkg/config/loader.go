package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, MODELGATE_CONFIG env, ./config.yaml, /etc/modelgate/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. MODELGATE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/modelgate/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("MODELGATE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/modelgate/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// A providers list in the YAML is merged entry-by-entry into the default
// table rather than replacing it, so a file only has to mention the fields
// it changes (typically just api_key per provider).
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var overlay Config
	overlay.Providers = nil
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}

	defaults := cfg.Providers
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.Providers = defaults

	for _, p := range overlay.Providers {
		mergeProvider(cfg, p)
	}
	return nil
}

// mergeProvider overlays non-zero fields of p onto the default entry with
// the same name. Unknown names are ignored; the enumeration is closed.
func mergeProvider(cfg *Config, p ProviderConfig) {
	base := cfg.Provider(p.Name)
	if base == nil {
		return
	}
	if p.BaseURL != "" {
		base.BaseURL = p.BaseURL
	}
	if p.APIKey != "" {
		base.APIKey = p.APIKey
	}
	if p.APIKeyFile != "" {
		base.APIKeyFile = p.APIKeyFile
	}
	if p.Model != "" {
		base.Model = p.Model
	}
	if p.Priority != 0 {
		base.Priority = p.Priority
	}
	if p.CostPerCall != 0 {
		base.CostPerCall = p.CostPerCall
	}
	if p.CostPerToken != 0 {
		base.CostPerToken = p.CostPerToken
	}
	if p.AccountID != "" {
		base.AccountID = p.AccountID
	}
	if p.Referer != "" {
		base.Referer = p.Referer
	}
	if p.Title != "" {
		base.Title = p.Title
	}
}

// applyEnvOverrides maps environment variables to config fields. Provider
// credentials follow the MODELGATE_<PROVIDER>_API_KEY pattern.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODELGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MODELGATE_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("MODELGATE_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("MODELGATE_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
	if v := os.Getenv("MODELGATE_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Auth.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("MODELGATE_ENABLE_TEST_KEY"); v != "" {
		cfg.Auth.EnableTestKey = v == "true" || v == "1"
	}
	if v := os.Getenv("MODELGATE_ADMIN_JWT_SECRET"); v != "" {
		cfg.Auth.AdminJWTSecret = v
	}
	if v := os.Getenv("MODELGATE_CLOUDFLARE_ACCOUNT_ID"); v != "" {
		if p := cfg.Provider("cloudflare"); p != nil {
			p.AccountID = v
		}
	}

	for i := range cfg.Providers {
		envKey := "MODELGATE_" + strings.ToUpper(cfg.Providers[i].Name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKeyFile != "" && p.APIKey == "" {
			val, err := readSecretFile(p.APIKeyFile)
			if err != nil {
				return fmt.Errorf("providers[%s].api_key_file: %w", p.Name, err)
			}
			p.APIKey = val
		}
	}

	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	if cfg.Auth.AdminJWTSecretFile != "" && cfg.Auth.AdminJWTSecret == "" {
		val, err := readSecretFile(cfg.Auth.AdminJWTSecretFile)
		if err != nil {
			return fmt.Errorf("auth.admin_jwt_secret_file: %w", err)
		}
		cfg.Auth.AdminJWTSecret = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	if c.Auth.RateLimitPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit_per_minute must be > 0, got %d", c.Auth.RateLimitPerMinute))
	}

	if c.Provider(c.DefaultProvider) == nil {
		errs = append(errs, fmt.Errorf("default_provider %q is not a known provider", c.DefaultProvider))
	}

	// The provider table is fixed: every name must be a member of the
	// enumeration and priorities must be unique.
	known := make(map[string]bool, len(ProviderNames))
	for _, n := range ProviderNames {
		known[n] = true
	}
	priorities := make(map[int]string, len(c.Providers))
	for _, p := range c.Providers {
		if !known[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%s]: unknown provider name", p.Name))
			continue
		}
		if other, dup := priorities[p.Priority]; dup {
			errs = append(errs, fmt.Errorf("providers[%s]: priority %d already used by %s", p.Name, p.Priority, other))
		}
		priorities[p.Priority] = p.Name
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers[%s]: base_url is required", p.Name))
		}
	}

	return errors.Join(errs...)
}

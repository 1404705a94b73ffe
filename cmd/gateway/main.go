// Command gateway runs the ModelGate AI gateway.
//
// Configuration is layered: built-in defaults, an optional YAML file
// (-config flag, MODELGATE_CONFIG, ./config.yaml, /etc/modelgate/config.yaml),
// then MODELGATE_* environment variables. See pkg/config for the full set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelgate/modelgate/pkg/admin"
	"github.com/modelgate/modelgate/pkg/auth"
	"github.com/modelgate/modelgate/pkg/auth/adminjwt"
	"github.com/modelgate/modelgate/pkg/config"
	"github.com/modelgate/modelgate/pkg/connector"
	"github.com/modelgate/modelgate/pkg/connector/gemini"
	"github.com/modelgate/modelgate/pkg/connector/openaicompat"
	"github.com/modelgate/modelgate/pkg/connector/workersai"
	"github.com/modelgate/modelgate/pkg/debug"
	"github.com/modelgate/modelgate/pkg/router"
	"github.com/modelgate/modelgate/pkg/storage"
	"github.com/modelgate/modelgate/pkg/storage/memory"
	"github.com/modelgate/modelgate/pkg/storage/postgres"
	transporthttp "github.com/modelgate/modelgate/pkg/transport/http"
	"github.com/modelgate/modelgate/pkg/usage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	jsonLogs := flag.Bool("log-json", false, "emit logs as JSON")
	flag.Parse()

	// MODELGATE_DEBUG selects debug categories, MODELGATE_LOG_LEVEL the verbosity.
	debug.Init("", "")
	if *jsonLogs {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: debug.ParseLevel(os.Getenv("MODELGATE_LOG_LEVEL")),
		})))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()

	// State lives either fully in memory or fully in PostgreSQL; the
	// postgres store backs both the key-value side and the request log.
	var (
		kv   storage.KV
		logs storage.RequestLogStore
	)
	switch cfg.Storage.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer store.Close()
		kv, logs = store, store
		slog.Info("storage enabled", "type", "postgres")
	default:
		kv = memory.NewKV()
		logs = memory.NewLogStore()
		slog.Info("storage enabled", "type", "memory")
	}
	if !cfg.Usage.LogRequests {
		logs = nil
	}

	registry := connector.NewRegistry(buildConnectors(cfg)...)

	costPerCall := make(map[string]float64, len(cfg.Providers))
	costPerToken := make(map[string]float64, len(cfg.Providers))
	for _, p := range cfg.Providers {
		costPerCall[p.Name] = p.CostPerCall
		costPerToken[p.Name] = p.CostPerToken
	}
	recorder := usage.NewRecorder(kv, logs, costPerCall, costPerToken)

	gateway := router.NewGateway(registry,
		router.NewPrioritySelector(cfg),
		router.NewFailover(cfg, registry),
		recorder)

	var sessions *adminjwt.Manager
	if cfg.Auth.AdminJWTSecret != "" {
		sessions = adminjwt.New(cfg.Auth.AdminJWTSecret, adminjwt.DefaultTTL)
	} else {
		slog.Warn("admin sessions disabled, set MODELGATE_ADMIN_JWT_SECRET to enable")
	}

	var metricsPath string
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	handler := transporthttp.NewHandler(transporthttp.HandlerConfig{
		Gateway:     gateway,
		Authn:       auth.NewAuthenticator(kv, cfg.Auth.EnableTestKey),
		Limiter:     auth.NewRateLimiter(kv, cfg.Auth.RateLimitPerMinute),
		Recorder:    recorder,
		Admin:       admin.NewManager(kv, cfg, registry),
		Sessions:    sessions,
		MetricsPath: metricsPath,
	})

	for _, name := range config.ProviderNames {
		slog.Info("provider configured", "name", name, "healthy", cfg.Healthy(name))
	}

	srv := transporthttp.NewServer(handler,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout))

	return srv.ListenAndServe()
}

// buildConnectors instantiates one connector per configured provider.
// Gemini and Workers AI speak their own wire formats; everything else is
// OpenAI-compatible.
func buildConnectors(cfg *config.Config) []connector.Connector {
	connectors := make([]connector.Connector, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		switch p.Name {
		case "gemini":
			connectors = append(connectors, gemini.New(gemini.Config{
				BaseURL:      p.BaseURL,
				APIKey:       p.APIKey,
				DefaultModel: p.Model,
			}))
		case "cloudflare":
			connectors = append(connectors, workersai.New(workersai.Config{
				BaseURL:      p.BaseURL,
				AccountID:    p.AccountID,
				APIToken:     p.APIKey,
				DefaultModel: p.Model,
			}))
		default:
			c := openaicompat.Config{
				Provider:     p.Name,
				BaseURL:      p.BaseURL,
				APIKey:       p.APIKey,
				DefaultModel: p.Model,
			}
			if p.Referer != "" || p.Title != "" {
				c.ExtraHeaders = map[string]string{}
				if p.Referer != "" {
					c.ExtraHeaders["HTTP-Referer"] = p.Referer
				}
				if p.Title != "" {
					c.ExtraHeaders["X-Title"] = p.Title
				}
			}
			connectors = append(connectors, openaicompat.New(c))
		}
	}
	return connectors
}

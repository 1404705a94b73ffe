package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelgate/modelgate/pkg/admin"
	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/auth"
	"github.com/modelgate/modelgate/pkg/auth/adminjwt"
	"github.com/modelgate/modelgate/pkg/observability"
	"github.com/modelgate/modelgate/pkg/router"
	"github.com/modelgate/modelgate/pkg/storage"
	"github.com/modelgate/modelgate/pkg/usage"
)

// HandlerConfig wires the gateway's components into the HTTP surface.
type HandlerConfig struct {
	Gateway  *router.Gateway
	Authn    *auth.Authenticator
	Limiter  *auth.RateLimiter
	Recorder *usage.Recorder
	Admin    *admin.Manager

	// Sessions enables admin JWT session tokens. Optional.
	Sessions *adminjwt.Manager

	// MetricsPath exposes the Prometheus endpoint when non-empty.
	MetricsPath string

	Logger *slog.Logger
}

type handler struct {
	cfg HandlerConfig
}

// NewHandler builds the full route table with its middleware stack:
// recovery, request IDs, logging, metrics, and CORS (in that order, CORS
// innermost so preflights still skip authentication).
func NewHandler(cfg HandlerConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handler{cfg: cfg}

	protect := auth.Middleware(cfg.Authn, cfg.Limiter)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /stats", protect(http.HandlerFunc(h.stats)))
	mux.Handle("POST /v1/chat/completions", protect(http.HandlerFunc(h.chatCompletions)))

	if cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	h.registerAdminRoutes(mux)

	chain := Chain(
		Recovery(),
		RequestID(),
		Logging(cfg.Logger),
		observability.MetricsMiddleware,
		CORS(),
	)
	return chain(mux)
}

// health reports liveness. Unauthenticated.
func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// stats returns the caller's per-provider usage aggregates.
func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	rows, err := h.cfg.Recorder.UsageByUser(r.Context(), user.ID)
	if err != nil {
		slog.Error("reading usage stats", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if rows == nil {
		rows = []storage.ProviderUsage{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"usage":   rows,
	})
}

// chatCompletions runs the full request pipeline: decode, route, failover,
// and respond with the canonical completion or a flat error.
func (h *handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req api.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := auth.UserFromContext(r.Context())
	provider, result := h.cfg.Gateway.Complete(r.Context(), user, &req)

	if !result.Success {
		// Routing failures, including an unrecognized explicit provider,
		// surface as 500 like any other provider-side failure.
		slog.Warn("completion failed", "provider", provider, "error", result.Error)
		writeError(w, http.StatusInternalServerError, result.Error)
		return
	}

	w.Header().Set("X-Provider", provider)
	writeJSON(w, http.StatusOK, result.Data)
}

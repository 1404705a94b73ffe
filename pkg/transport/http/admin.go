package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelgate/modelgate/pkg/admin"
	"github.com/modelgate/modelgate/pkg/auth"
)

// registerAdminRoutes mounts the management surface under /admin. Every
// route requires an admin identity: either an admin-role API key or a
// session token minted by POST /admin/session.
func (h *handler) registerAdminRoutes(mux *http.ServeMux) {
	guard := func(fn http.HandlerFunc) http.Handler {
		return h.adminAuth(auth.RequireAdmin(fn))
	}

	// Session issuance authenticates with an API key only; the guard would
	// be circular here.
	mux.Handle("POST /admin/session", auth.Middleware(h.cfg.Authn, nil)(
		auth.RequireAdmin(http.HandlerFunc(h.adminSession))))

	mux.Handle("GET /admin/usage", guard(h.adminUsage))
	mux.Handle("GET /admin/users", guard(h.adminListUsers))
	mux.Handle("POST /admin/users", guard(h.adminCreateUser))
	mux.Handle("GET /admin/users/{id}", guard(h.adminGetUser))
	mux.Handle("PUT /admin/users/{id}", guard(h.adminUpdateUser))
	mux.Handle("DELETE /admin/users/{id}", guard(h.adminDeleteUser))
	mux.Handle("GET /admin/users/{id}/keys", guard(h.adminListKeys))
	mux.Handle("POST /admin/users/{id}/keys", guard(h.adminIssueKey))
	mux.Handle("DELETE /admin/keys/{key}", guard(h.adminRevokeKey))
	mux.Handle("GET /admin/settings", guard(h.adminGetSettings))
	mux.Handle("PUT /admin/settings", guard(h.adminUpdateSettings))
	mux.Handle("GET /admin/providers", guard(h.adminProviders))
	mux.Handle("POST /admin/providers/{name}/test", guard(h.adminTestProvider))
}

// adminAuth authenticates like the standard middleware but additionally
// accepts a bearer session token when sessions are enabled.
func (h *handler) adminAuth(next http.Handler) http.Handler {
	standard := auth.Middleware(h.cfg.Authn, nil)(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.Sessions != nil {
			header := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(header, "Bearer "); ok {
				if user, err := h.cfg.Sessions.Verify(token); err == nil {
					next.ServeHTTP(w, r.WithContext(auth.SetUser(r.Context(), user)))
					return
				}
			}
		}
		standard.ServeHTTP(w, r)
	})
}

// adminSession exchanges an admin API key for a short-lived session token.
func (h *handler) adminSession(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		writeError(w, http.StatusNotFound, "Sessions are not enabled")
		return
	}

	user := auth.UserFromContext(r.Context())
	token, err := h.cfg.Sessions.Issue(user)
	if err != nil {
		slog.Error("issuing session token", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// adminUsage returns gateway-wide aggregates for ?range=24h (default) or 7d.
func (h *handler) adminUsage(w http.ResponseWriter, r *http.Request) {
	hours := 24
	switch r.URL.Query().Get("range") {
	case "", "24h":
	case "7d":
		hours = 7 * 24
	default:
		writeError(w, http.StatusBadRequest, "range must be 24h or 7d")
		return
	}

	stats, err := h.cfg.Recorder.WindowWithChange(r.Context(), hours)
	if err != nil {
		slog.Error("reading usage window", "hours", hours, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) adminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.cfg.Admin.ListUsers(r.Context())
	if err != nil {
		slog.Error("listing users", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *handler) adminCreateUser(w http.ResponseWriter, r *http.Request) {
	var u auth.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	created, err := h.cfg.Admin.CreateUser(r.Context(), u)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) adminGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.cfg.Admin.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		h.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) adminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var updates auth.User
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	user, err := h.cfg.Admin.UpdateUser(r.Context(), r.PathValue("id"), updates)
	if err != nil {
		h.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Admin.DeleteUser(r.Context(), r.PathValue("id")); err != nil {
		h.adminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adminListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.cfg.Admin.UserKeys(r.Context(), r.PathValue("id"))
	if err != nil {
		h.adminError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *handler) adminIssueKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.cfg.Admin.IssueKey(r.Context(), r.PathValue("id"))
	if err != nil {
		h.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (h *handler) adminRevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Admin.RevokeKey(r.Context(), r.PathValue("key")); err != nil {
		h.adminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adminGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.cfg.Admin.GetSettings(r.Context())
	if err != nil {
		h.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *handler) adminUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates admin.Settings
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	settings, err := h.cfg.Admin.UpdateSettings(r.Context(), updates)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *handler) adminProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.cfg.Admin.ProviderStatuses()})
}

func (h *handler) adminTestProvider(w http.ResponseWriter, r *http.Request) {
	result := h.cfg.Admin.TestProvider(r.Context(), r.PathValue("name"))
	writeJSON(w, http.StatusOK, result)
}

// adminError maps manager errors to response statuses.
func (h *handler) adminError(w http.ResponseWriter, err error) {
	if errors.Is(err, admin.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	slog.Error("admin operation failed", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

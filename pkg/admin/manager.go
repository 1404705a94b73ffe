// Package admin implements the management operations behind the /admin
// endpoints: user lifecycle, API key issuance, gateway settings, and
// provider status probes.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/auth"
	"github.com/modelgate/modelgate/pkg/config"
	"github.com/modelgate/modelgate/pkg/connector"
	"github.com/modelgate/modelgate/pkg/storage"
)

// ErrUserNotFound is returned for operations on unknown user ids.
var ErrUserNotFound = errors.New("user not found")

// KeyPrefix starts every issued API key.
const KeyPrefix = "aig_"

// settingsKey is where the mutable gateway settings record lives.
const settingsKey = "settings"

// Settings is the mutable runtime configuration exposed to admins.
type Settings struct {
	DefaultProvider    string    `json:"default_provider"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ProviderStatus describes one provider's availability for the console.
type ProviderStatus struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Priority int    `json:"priority"`
	Model    string `json:"model"`
}

// Manager executes admin operations over the shared stores.
type Manager struct {
	kv       storage.KV
	cfg      *config.Config
	registry *connector.Registry
	now      func() time.Time
}

// NewManager creates an admin manager.
func NewManager(kv storage.KV, cfg *config.Config, registry *connector.Registry) *Manager {
	return &Manager{kv: kv, cfg: cfg, registry: registry, now: time.Now}
}

// ListUsers returns every stored user record.
func (m *Manager) ListUsers(ctx context.Context) ([]auth.User, error) {
	keys, err := m.kv.List(ctx, "user:")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	users := make([]auth.User, 0, len(keys))
	for _, key := range keys {
		data, err := m.kv.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue // expired between List and Get
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		var u auth.User
		if err := json.Unmarshal(data, &u); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// GetUser returns one user record.
func (m *Manager) GetUser(ctx context.Context, id string) (*auth.User, error) {
	data, err := m.kv.Get(ctx, "user:"+id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	var u auth.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return &u, nil
}

// CreateUser stores a new user and returns it with its generated id.
func (m *Manager) CreateUser(ctx context.Context, u auth.User) (*auth.User, error) {
	if u.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	u.CreatedAt = m.now().UTC()

	if err := m.putUser(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser overlays non-zero fields of updates onto the stored record.
func (m *Manager) UpdateUser(ctx context.Context, id string, updates auth.User) (*auth.User, error) {
	u, err := m.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if updates.Email != "" {
		u.Email = updates.Email
	}
	if updates.Name != "" {
		u.Name = updates.Name
	}
	if updates.Role != "" {
		u.Role = updates.Role
	}
	if updates.QuotaLimit != 0 {
		u.QuotaLimit = updates.QuotaLimit
	}
	if updates.QuotaUsed != 0 {
		u.QuotaUsed = updates.QuotaUsed
	}

	if err := m.putUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser removes the user record and revokes every key pointing at it.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	if _, err := m.GetUser(ctx, id); err != nil {
		return err
	}

	keys, err := m.UserKeys(ctx, id)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := m.kv.Delete(ctx, "apikey:"+key); err != nil {
			return fmt.Errorf("revoking key for user %s: %w", id, err)
		}
	}

	return m.kv.Delete(ctx, "user:"+id)
}

func (m *Manager) putUser(ctx context.Context, u *auth.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	return m.kv.Put(ctx, "user:"+u.ID, data, 0)
}

// IssueKey mints a new API key for the user and indexes it. The full key is
// returned exactly once; only its index entry is stored.
func (m *Manager) IssueKey(ctx context.Context, userID string) (string, error) {
	if _, err := m.GetUser(ctx, userID); err != nil {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	key := KeyPrefix + hex.EncodeToString(raw)

	if err := m.kv.Put(ctx, "apikey:"+key, []byte(userID), 0); err != nil {
		return "", fmt.Errorf("storing key index: %w", err)
	}
	return key, nil
}

// UserKeys returns the user's active API keys.
func (m *Manager) UserKeys(ctx context.Context, userID string) ([]string, error) {
	entries, err := m.kv.List(ctx, "apikey:")
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		data, err := m.kv.Get(ctx, entry)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == userID {
			keys = append(keys, strings.TrimPrefix(entry, "apikey:"))
		}
	}
	return keys, nil
}

// RevokeKey deletes one API key's index entry.
func (m *Manager) RevokeKey(ctx context.Context, key string) error {
	return m.kv.Delete(ctx, "apikey:"+key)
}

// GetSettings returns the stored settings record, falling back to the
// static configuration when none has been written yet.
func (m *Manager) GetSettings(ctx context.Context) (*Settings, error) {
	data, err := m.kv.Get(ctx, settingsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &Settings{
			DefaultProvider:    m.cfg.DefaultProvider,
			RateLimitPerMinute: m.cfg.Auth.RateLimitPerMinute,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return &s, nil
}

// UpdateSettings overlays non-zero fields and persists the record.
func (m *Manager) UpdateSettings(ctx context.Context, updates Settings) (*Settings, error) {
	s, err := m.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	if updates.DefaultProvider != "" {
		if m.cfg.Provider(updates.DefaultProvider) == nil {
			return nil, fmt.Errorf("unknown provider %q", updates.DefaultProvider)
		}
		s.DefaultProvider = updates.DefaultProvider
	}
	if updates.RateLimitPerMinute > 0 {
		s.RateLimitPerMinute = updates.RateLimitPerMinute
	}
	s.UpdatedAt = m.now().UTC()

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	if err := m.kv.Put(ctx, settingsKey, data, 0); err != nil {
		return nil, err
	}
	return s, nil
}

// ProviderStatuses reports each configured provider's availability.
func (m *Manager) ProviderStatuses() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(m.cfg.Providers))
	for _, name := range priorityNames(m.cfg) {
		p := m.cfg.Provider(name)
		statuses = append(statuses, ProviderStatus{
			Name:     p.Name,
			Healthy:  m.cfg.Healthy(p.Name),
			Priority: p.Priority,
			Model:    p.Model,
		})
	}
	return statuses
}

// TestProvider sends a minimal probe request through the named connector
// and returns the raw outcome.
func (m *Manager) TestProvider(ctx context.Context, name string) connector.Result {
	probe := &api.ChatCompletionRequest{
		Provider: name,
		Messages: []api.ChatMessage{{Role: api.RoleUser, Content: "ping"}},
	}
	return m.registry.Dispatch(ctx, name, probe)
}

// priorityNames returns provider names ordered by ascending priority.
func priorityNames(cfg *config.Config) []string {
	providers := make([]config.ProviderConfig, len(cfg.Providers))
	copy(providers, cfg.Providers)
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Priority < providers[j].Priority
	})

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	return names
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/modelgate/pkg/storage"
)

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// TestKey is a fixed development credential that maps to a synthetic user
// without touching the store. It can be disabled in configuration.
const TestKey = "aig_test_key_123"

// KV key prefixes for identity records.
const (
	apiKeyPrefix = "apikey:"
	userPrefix   = "user:"
)

// Authenticator resolves API credentials to user records in the KV store.
type Authenticator struct {
	kv            storage.KV
	enableTestKey bool
}

// NewAuthenticator creates an authenticator over the given store.
func NewAuthenticator(kv storage.KV, enableTestKey bool) *Authenticator {
	return &Authenticator{kv: kv, enableTestKey: enableTestKey}
}

// Authenticate resolves a raw credential to a user.
//
// Resolution order:
//  1. The fixed development key, when enabled.
//  2. The apikey:<credential> index pointing at a user:<id> record.
//  3. A legacy direct lookup: the credential itself as a KV key holding
//     the user record.
//
// A resolved user over quota yields ErrQuotaExceeded; any unresolvable
// credential yields ErrUnauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*User, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	if a.enableTestKey && credential == TestKey {
		return testUser(), nil
	}

	user, err := a.lookupIndexed(ctx, credential)
	if errors.Is(err, storage.ErrNotFound) {
		user, err = a.lookupLegacy(ctx, credential)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("resolving credential: %w", err)
	}

	if user.QuotaExceeded() {
		return nil, ErrQuotaExceeded
	}
	return user, nil
}

// lookupIndexed follows apikey:<credential> to its user record.
func (a *Authenticator) lookupIndexed(ctx context.Context, credential string) (*User, error) {
	ref, err := a.kv.Get(ctx, apiKeyPrefix+credential)
	if err != nil {
		return nil, err
	}

	userID := strings.TrimSpace(string(ref))
	// The index may hold either a bare user id or a JSON {"user_id": ...}.
	if strings.HasPrefix(userID, "{") {
		var idx struct {
			UserID string `json:"user_id"`
		}
		if jsonErr := json.Unmarshal(ref, &idx); jsonErr == nil && idx.UserID != "" {
			userID = idx.UserID
		}
	}
	if userID == "" {
		return nil, storage.ErrNotFound
	}

	data, err := a.kv.Get(ctx, userPrefix+userID)
	if err != nil {
		return nil, err
	}
	return decodeUser(data)
}

// lookupLegacy treats the credential itself as the storage key. Early
// deployments wrote user records directly under the raw API key.
func (a *Authenticator) lookupLegacy(ctx context.Context, credential string) (*User, error) {
	data, err := a.kv.Get(ctx, credential)
	if err != nil {
		return nil, err
	}
	return decodeUser(data)
}

func decodeUser(data []byte) (*User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding user record: %w", err)
	}
	if u.ID == "" {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

// testUser is the synthetic identity behind the development key.
func testUser() *User {
	return &User{
		ID:         "test-user-1",
		Email:      "test@example.com",
		Name:       "Test User",
		Role:       RoleUser,
		QuotaLimit: 1000000,
		QuotaUsed:  1234,
		CreatedAt:  time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// CredentialFromRequest extracts the API credential from a request:
// the x-api-key header, or the Authorization bearer token as an alias.
// Returns empty string if neither is present.
func CredentialFromRequest(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

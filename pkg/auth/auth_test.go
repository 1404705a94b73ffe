package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelgate/modelgate/pkg/storage/memory"
)

func storedUser(t *testing.T, kv *memory.KV, u User) {
	t.Helper()
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Put(context.Background(), "user:"+u.ID, data, 0); err != nil {
		t.Fatal(err)
	}
}

func TestAuthenticateTestKey(t *testing.T) {
	a := NewAuthenticator(memory.NewKV(), true)

	user, err := a.Authenticate(context.Background(), TestKey)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.ID != "test-user-1" || user.Email != "test@example.com" {
		t.Errorf("unexpected test user: %+v", user)
	}
	if user.QuotaLimit != 1000000 || user.QuotaUsed != 1234 {
		t.Errorf("unexpected test user quota: %+v", user)
	}
}

func TestAuthenticateTestKeyDisabled(t *testing.T) {
	a := NewAuthenticator(memory.NewKV(), false)

	if _, err := a.Authenticate(context.Background(), TestKey); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated when test key disabled", err)
	}
}

func TestAuthenticateIndexedKey(t *testing.T) {
	kv := memory.NewKV()
	ctx := context.Background()

	storedUser(t, kv, User{ID: "u-42", Email: "a@example.com", QuotaLimit: 100})
	kv.Put(ctx, "apikey:aig_abc", []byte("u-42"), 0)

	a := NewAuthenticator(kv, true)
	user, err := a.Authenticate(ctx, "aig_abc")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.ID != "u-42" {
		t.Errorf("user.ID = %q, want u-42", user.ID)
	}
}

func TestAuthenticateIndexedKeyJSONRecord(t *testing.T) {
	kv := memory.NewKV()
	ctx := context.Background()

	storedUser(t, kv, User{ID: "u-7", Email: "b@example.com"})
	kv.Put(ctx, "apikey:aig_json", []byte(`{"user_id":"u-7","created_at":"2026-01-01T00:00:00Z"}`), 0)

	a := NewAuthenticator(kv, true)
	user, err := a.Authenticate(ctx, "aig_json")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.ID != "u-7" {
		t.Errorf("user.ID = %q, want u-7", user.ID)
	}
}

func TestAuthenticateLegacyDirectKey(t *testing.T) {
	kv := memory.NewKV()
	ctx := context.Background()

	data, _ := json.Marshal(User{ID: "legacy-1", Email: "legacy@example.com"})
	kv.Put(ctx, "old-raw-key", data, 0)

	a := NewAuthenticator(kv, true)
	user, err := a.Authenticate(ctx, "old-raw-key")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.ID != "legacy-1" {
		t.Errorf("user.ID = %q, want legacy-1", user.ID)
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	a := NewAuthenticator(memory.NewKV(), true)

	if _, err := a.Authenticate(context.Background(), "nope"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
	if _, err := a.Authenticate(context.Background(), ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated for empty credential", err)
	}
}

func TestAuthenticateQuotaExceeded(t *testing.T) {
	kv := memory.NewKV()
	ctx := context.Background()

	storedUser(t, kv, User{ID: "u-full", Email: "full@example.com", QuotaLimit: 10, QuotaUsed: 10})
	kv.Put(ctx, "apikey:aig_full", []byte("u-full"), 0)

	a := NewAuthenticator(kv, true)
	if _, err := a.Authenticate(ctx, "aig_full"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestUserRoles(t *testing.T) {
	admin := User{ID: "a", Role: RoleAdmin}
	if !admin.IsAdmin() {
		t.Error("admin role should grant admin access")
	}

	// Identifier never grants admin access.
	sneaky := User{ID: "admin", Role: RoleUser}
	if sneaky.IsAdmin() {
		t.Error("user id must not grant admin access")
	}

	unlimited := User{ID: "u", QuotaLimit: 0, QuotaUsed: 999}
	if unlimited.QuotaExceeded() {
		t.Error("zero QuotaLimit means unlimited")
	}
}

package adminjwt

import (
	"strings"
	"testing"
	"time"

	"github.com/modelgate/modelgate/pkg/auth"
)

func TestIssueAndVerify(t *testing.T) {
	m := New("secret-1", time.Hour)
	admin := &auth.User{ID: "a-1", Email: "admin@example.com", Role: auth.RoleAdmin}

	token, err := m.Issue(admin)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	got, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.ID != "a-1" || got.Email != "admin@example.com" || got.Role != auth.RoleAdmin {
		t.Errorf("verified user = %+v, want original claims", got)
	}
	if !got.IsAdmin() {
		t.Error("round-tripped admin should keep admin role")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := New("secret-1", time.Hour).Issue(&auth.User{ID: "a-1"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := New("secret-2", time.Hour).Verify(token); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := New("secret-1", time.Hour)

	issuedAt := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return issuedAt })
	token, err := m.Issue(&auth.User{ID: "a-1"})
	if err != nil {
		t.Fatal(err)
	}

	m.SetClock(func() time.Time { return issuedAt.Add(2 * time.Hour) })
	if _, err := m.Verify(token); err == nil {
		t.Fatal("expected verification failure for expired token")
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	m := New("secret-1", time.Hour)
	token, err := m.Issue(&auth.User{ID: "a-1"})
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := m.Verify(tampered); err == nil {
		t.Fatal("expected verification failure for tampered payload")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	if _, err := New("secret-1", 0).Verify("not-a-token"); err == nil {
		t.Fatal("expected verification failure for malformed token")
	}
}

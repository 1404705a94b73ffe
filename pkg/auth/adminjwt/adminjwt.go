// Package adminjwt issues and verifies HS256-signed session tokens for the
// admin console. Tokens are short-lived and carry the user's id, email, and
// role; they are accepted by admin endpoints as an alternative to an
// admin-role API key.
package adminjwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/modelgate/modelgate/pkg/auth"
)

// DefaultTTL bounds a session token's lifetime.
const DefaultTTL = 12 * time.Hour

// Manager signs and verifies admin session tokens with a shared secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates a manager. A zero ttl falls back to DefaultTTL.
func New(secret string, ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a signed session token for the user.
func (m *Manager) Issue(user *auth.User) (string, error) {
	now := m.now()
	claims := jwtlib.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  user.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(m.ttl).Unix(),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning the embedded user.
// Expired tokens, wrong signatures, and non-HMAC algorithms all fail.
func (m *Manager) Verify(tokenStr string) (*auth.User, error) {
	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}

	sub := claimString(claims, "sub")
	if sub == "" {
		return nil, fmt.Errorf("session token missing sub claim")
	}

	return &auth.User{
		ID:    sub,
		Email: claimString(claims, "email"),
		Role:  claimString(claims, "role"),
	}, nil
}

// SetClock replaces the manager's time source. Test helper.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// claimString extracts a string value from JWT claims.
// Returns empty string if the claim is missing or not a string.
func claimString(claims jwtlib.MapClaims, key string) string {
	val, ok := claims[key]
	if !ok {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return s
}

package auth

import "time"

// Role values. Anything other than RoleAdmin is an ordinary user.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the stored identity record behind an API key.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Role       string    `json:"role,omitempty"`
	QuotaLimit int64     `json:"quota_limit"`
	QuotaUsed  int64     `json:"quota_used"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// IsAdmin reports whether the user may call admin endpoints. Admin access
// is a role attribute, never an identifier comparison.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// QuotaExceeded reports whether the user has consumed their quota.
// A zero QuotaLimit means unlimited.
func (u *User) QuotaExceeded() bool {
	return u.QuotaLimit > 0 && u.QuotaUsed >= u.QuotaLimit
}

package auth

import "context"

// userKey is a private type for the user context key.
type userKey struct{}

// SetUser stores the authenticated user in the context.
func SetUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext retrieves the authenticated user.
// Returns nil if no user is set.
func UserFromContext(ctx context.Context) *User {
	if v, ok := ctx.Value(userKey{}).(*User); ok {
		return v
	}
	return nil
}

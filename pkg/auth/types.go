// Package auth owns users, groups and API tokens. Authentication
// resolves a bearer token to a permission subject; requests without a
// token act as the anonymous user.
package auth

import "time"

// AnonymousUsername names the well-known user that unauthenticated
// requests act as. It is seeded at startup and cannot log in.
const AnonymousUsername = "anonymous"

// User is an account that grants can be addressed to.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	IsSuperuser bool       `json:"is_superuser"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// IsAnonymous reports whether the user is the seeded anonymous account.
func (u *User) IsAnonymous() bool {
	return u.Username == AnonymousUsername
}

// Group is a named grant subject. The default groups are seeded at
// startup; the rest are managed by permission policies and are wiped
// on a full permission rebuild.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// APIToken is the stored record of an issued token. The token itself
// is returned once at creation and only its hash is kept.
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Valid reports whether the token is usable at the given time.
func (t *APIToken) Valid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	return true
}

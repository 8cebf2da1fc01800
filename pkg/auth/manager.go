package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fieldgate/fieldgate/pkg/perms"
)

// ErrInvalidToken is returned for malformed, unknown, expired or
// revoked tokens.
var ErrInvalidToken = errors.New("invalid token")

const (
	tokenCacheSize = 4096
	tokenCacheTTL  = 1 * time.Minute
)

// Manager resolves bearer tokens to users and issues new tokens.
// Successful lookups are cached briefly so hot tokens do not hit the
// database on every request; revocation takes effect within the cache
// TTL.
type Manager struct {
	store     *Store
	generator *TokenGenerator
	cache     *expirable.LRU[string, int64]
}

// NewManager creates a token manager over the auth store.
func NewManager(store *Store) *Manager {
	return &Manager{
		store:     store,
		generator: NewTokenGenerator(),
		cache:     expirable.NewLRU[string, int64](tokenCacheSize, nil, tokenCacheTTL),
	}
}

// IssueToken creates a token for the user and returns the plaintext
// exactly once.
func (m *Manager) IssueToken(ctx context.Context, userID int64, name string, expiresAt *time.Time) (*APIToken, string, error) {
	token, tokenHash, tokenPrefix, err := m.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	record := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		ExpiresAt:   expiresAt,
	}
	if err := m.store.CreateToken(ctx, record); err != nil {
		return nil, "", err
	}
	return record, token, nil
}

// Revoke invalidates a token immediately for new database lookups and
// within the cache TTL for cached ones.
func (m *Manager) Revoke(ctx context.Context, tokenID int64) error {
	return m.store.RevokeToken(ctx, tokenID)
}

// Authenticate resolves a bearer token to its user. An empty token
// resolves to the anonymous user.
func (m *Manager) Authenticate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		user, err := m.store.GetUserByUsername(ctx, AnonymousUsername)
		if err != nil {
			return nil, fmt.Errorf("anonymous user missing: %w", err)
		}
		return user, nil
	}

	if err := m.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}
	hash := m.generator.HashToken(token)

	if userID, ok := m.cache.Get(hash); ok {
		return m.store.GetUser(ctx, userID)
	}

	record, err := m.store.GetTokenByHash(ctx, hash)
	if err == ErrNotFound {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !record.Valid(time.Now()) {
		return nil, ErrInvalidToken
	}

	m.cache.Add(hash, record.UserID)
	if err := m.store.TouchLastLogin(ctx, record.UserID); err != nil {
		return nil, err
	}
	return m.store.GetUser(ctx, record.UserID)
}

// SubjectFor maps a user to its permission subject. Anonymous users
// carry no grants of their own; they only see what the anyone group
// grants during set filtering.
func SubjectFor(user *User) perms.Subject {
	if user.IsSuperuser {
		return perms.Superuser(user.ID)
	}
	return perms.User(user.ID)
}

// SeedDefaults ensures the default groups and the anonymous user
// exist. It is safe to run repeatedly and is also invoked inside the
// full permission rebuild transaction.
func SeedDefaults(ctx context.Context, store *Store) error {
	for _, name := range []string{perms.AnyoneGroupName, perms.LoggedInGroupName} {
		if err := store.EnsureGroup(ctx, name); err != nil {
			return err
		}
	}

	_, err := store.GetUserByUsername(ctx, AnonymousUsername)
	if err == ErrNotFound {
		return store.CreateUser(ctx, &User{Username: AnonymousUsername})
	}
	return err
}

// SeedDefaultsTx runs SeedDefaults on a transaction. It matches the
// dependency shape of the permission rebuild.
func SeedDefaultsTx(store *Store) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		return SeedDefaults(ctx, store.WithTx(tx))
	}
}

// DeleteGroupsExceptTx adapts group deletion to the permission
// rebuild's dependency shape.
func DeleteGroupsExceptTx(store *Store) func(ctx context.Context, tx *sql.Tx, names ...string) error {
	return func(ctx context.Context, tx *sql.Tx, names ...string) error {
		return store.WithTx(tx).DeleteGroupsExcept(ctx, names...)
	}
}

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a user, group or token does not exist.
var ErrNotFound = errors.New("not found")

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles user, group and token persistence
type Store struct {
	db dbtx
}

// NewStore creates a new auth store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store that runs every statement on the transaction
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx}
}

// CreateUser creates a new user
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (username, is_superuser, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	now := time.Now()
	err := s.db.QueryRowContext(ctx, query, user.Username, user.IsSuperuser, now).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, username, is_superuser, created_at, last_login_at
		FROM users
		WHERE id = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, is_superuser, created_at, last_login_at
		FROM users
		WHERE username = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var user User
	var lastLogin sql.NullTime
	err := row.Scan(&user.ID, &user.Username, &user.IsSuperuser, &user.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return &user, nil
}

// TouchLastLogin records a successful token authentication
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	query := "UPDATE users SET last_login_at = $1 WHERE id = $2"
	if _, err := s.db.ExecContext(ctx, query, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// EnsureGroup creates the group if it does not exist yet
func (s *Store) EnsureGroup(ctx context.Context, name string) error {
	query := `
		INSERT INTO auth_groups (name, created_at)
		SELECT $1, $2
		WHERE NOT EXISTS (SELECT 1 FROM auth_groups WHERE name = $1)
	`
	if _, err := s.db.ExecContext(ctx, query, name, time.Now()); err != nil {
		return fmt.Errorf("failed to ensure group %s: %w", name, err)
	}
	return nil
}

// ListGroups returns all groups ordered by name
func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM auth_groups ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// DeleteGroupsExcept removes every group not in the keep list. Used by
// the full permission rebuild, which re-derives all other groups from
// the registered policies.
func (s *Store) DeleteGroupsExcept(ctx context.Context, keep ...string) error {
	if len(keep) == 0 {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_groups"); err != nil {
			return fmt.Errorf("failed to delete groups: %w", err)
		}
		return nil
	}
	placeholders := make([]string, len(keep))
	args := make([]interface{}, len(keep))
	for i, name := range keep {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = name
	}
	query := fmt.Sprintf("DELETE FROM auth_groups WHERE name NOT IN (%s)", strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete groups: %w", err)
	}
	return nil
}

// CreateToken stores a token record
func (s *Store) CreateToken(ctx context.Context, token *APIToken) error {
	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		token.UserID, token.TokenHash, token.TokenPrefix, token.Name, token.ExpiresAt, now,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	token.CreatedAt = now
	return nil
}

// GetTokenByHash looks up a token by its hash
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*APIToken, error) {
	query := `
		SELECT id, user_id, token_hash, token_prefix, name, expires_at, revoked_at, created_at
		FROM api_tokens
		WHERE token_hash = $1
	`
	var token APIToken
	var expiresAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.TokenPrefix,
		&token.Name, &expiresAt, &revokedAt, &token.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		token.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		token.RevokedAt = &t
	}
	return &token, nil
}

// RevokeToken marks a token as revoked
func (s *Store) RevokeToken(ctx context.Context, tokenID int64) error {
	query := "UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL"
	res, err := s.db.ExecContext(ctx, query, time.Now(), tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserTokens lists a user's tokens, newest first
func (s *Store) ListUserTokens(ctx context.Context, userID int64) ([]APIToken, error) {
	query := `
		SELECT id, user_id, token_hash, token_prefix, name, expires_at, revoked_at, created_at
		FROM api_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []APIToken
	for rows.Next() {
		var token APIToken
		var expiresAt, revokedAt sql.NullTime
		if err := rows.Scan(
			&token.ID, &token.UserID, &token.TokenHash, &token.TokenPrefix,
			&token.Name, &expiresAt, &revokedAt, &token.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			token.ExpiresAt = &t
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			token.RevokedAt = &t
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

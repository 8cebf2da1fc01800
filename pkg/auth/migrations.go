package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fieldgate/fieldgate/pkg/storage"
)

// Migration is one versioned schema change for the auth tables.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// GetMigrations returns the auth schema for the dialect.
func GetMigrations(dialect storage.Dialect) []Migration {
	pk := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == storage.DialectPostgres {
		pk = "id BIGSERIAL PRIMARY KEY"
	}
	return []Migration{
		{
			Version:     1,
			Description: "create users, groups and api_tokens",
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
					%s,
					username VARCHAR(150) NOT NULL UNIQUE,
					is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					last_login_at TIMESTAMP
				)`, pk),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS auth_groups (
					%s,
					name VARCHAR(150) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`, pk),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS api_tokens (
					%s,
					user_id BIGINT NOT NULL REFERENCES users (id),
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					name VARCHAR(255) NOT NULL,
					expires_at TIMESTAMP,
					revoked_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`, pk),
				`CREATE INDEX IF NOT EXISTS idx_api_tokens_user ON api_tokens (user_id)`,
			},
		},
	}
}

// RunMigrations applies the auth schema migrations that have not run
// yet, tracking applied versions in auth_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, dialect storage.Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS auth_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	for _, m := range GetMigrations(dialect) {
		var applied int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM auth_migrations WHERE version = $1", m.Version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO auth_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

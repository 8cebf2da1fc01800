package search

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fieldgate/fieldgate/pkg/storage"
)

// Migration is one versioned schema change for the search tables.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

func migrationsFor(dialect storage.Dialect) []Migration {
	if dialect == storage.DialectPostgres {
		return []Migration{
			{
				Version:     1,
				Description: "create search_features with tsvector index",
				Statements: []string{
					`CREATE TABLE IF NOT EXISTS search_features (
						model VARCHAR(100) NOT NULL,
						object_pk BIGINT NOT NULL,
						text_feature TEXT NOT NULL,
						feature_vector tsvector GENERATED ALWAYS AS (to_tsvector('english', text_feature)) STORED,
						PRIMARY KEY (model, object_pk)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_search_features_vector ON search_features USING GIN (feature_vector)`,
				},
			},
		}
	}
	return []Migration{
		{
			Version:     1,
			Description: "create search_features",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS search_features (
					model VARCHAR(100) NOT NULL,
					object_pk BIGINT NOT NULL,
					text_feature TEXT NOT NULL,
					PRIMARY KEY (model, object_pk)
				)`,
			},
		},
	}
}

// RunMigrations applies the search schema migrations that have not run
// yet, tracking applied versions in search_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, dialect storage.Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS search_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	for _, m := range migrationsFor(dialect) {
		var applied int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM search_migrations WHERE version = $1", m.Version).Scan(&applied)
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
		if _, err := tx.ExecContext(ctx, "INSERT INTO search_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

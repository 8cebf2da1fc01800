package perms

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fieldgate/fieldgate/pkg/storage"
)

// Migration is one schema change for the grant store
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the grant store schema for the dialect
func GetMigrations(dialect storage.Dialect) []Migration {
	pk := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == storage.DialectPostgres {
		pk = "id BIGSERIAL PRIMARY KEY"
	}
	return []Migration{
		{
			Version:     1,
			Description: "Create permission_grants table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS permission_grants (
					%s,
					subject_kind VARCHAR(8) NOT NULL,
					subject_user BIGINT,
					subject_group VARCHAR(150),
					model VARCHAR(255) NOT NULL,
					action VARCHAR(1) NOT NULL,
					object_pk BIGINT,
					field VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_permission_grants_user ON permission_grants(subject_user, model);
				CREATE INDEX IF NOT EXISTS idx_permission_grants_group ON permission_grants(subject_group, model);
				CREATE INDEX IF NOT EXISTS idx_permission_grants_object ON permission_grants(model, object_pk);
			`, pk),
		},
		{
			Version:     2,
			Description: "Deduplicate grants",
			SQL: `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_permission_grants_unique ON permission_grants(
					subject_kind,
					COALESCE(subject_user, 0),
					COALESCE(subject_group, ''),
					model,
					action,
					COALESCE(object_pk, 0),
					COALESCE(field, '')
				);
			`,
		},
	}
}

// RunMigrations executes all pending grant store migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect storage.Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS perms_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM perms_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations(dialect) {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO perms_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

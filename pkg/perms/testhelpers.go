package perms

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/fieldgate/fieldgate/pkg/storage"
)

// SetupTestGrants creates the grant tables on an in-memory test database
func SetupTestGrants(t testing.TB, db *sql.DB) {
	t.Helper()
	if err := RunMigrations(context.Background(), db, storage.DialectSQLite); err != nil {
		t.Fatalf("failed to create grant schema: %v", err)
	}
}

// RequireDatabase connects to the Postgres instance named by
// TEST_POSTGRES_PRIMARY, or skips the test when none is configured.
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}
	return db
}

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripSQLite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, dialect, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "plans.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	roundTrip(ctx, t, db, dialect)
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("PLAN_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PLAN_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, dialect, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	roundTrip(ctx, t, db, dialect)
}

func roundTrip(ctx context.Context, t *testing.T, db *sql.DB, dialect Dialect) {
	t.Helper()

	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	// A second pass is a no-op.
	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (repeat): %v", err)
	}

	if err := RollbackMigrations(ctx, db); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	ups, err := migrationNames(".up.sql")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if count != len(ups) {
		t.Fatalf("schema_migrations has %d rows, want %d", count, len(ups))
	}
}

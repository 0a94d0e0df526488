// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"

	"github.com/riskguard/riskguard/migrations"
)

// PGTest connects to the database named by POSTGRES_URL, applies the embedded
// goose migrations and returns the handle plus a cleanup function that
// empties every table and closes the connection.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// Without POSTGRES_URL the test is skipped.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open: %v", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: ping: %v", err)
	}
	if err := migrations.Up(ctx, db, nil); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: %v", err)
	}

	// Start from empty tables even if an earlier run died before cleanup.
	truncateAll(ctx, t, db)

	return db, func() {
		truncateAll(ctx, t, db)
		_ = db.Close()
	}
}

// truncateAll empties the application tables. goose_db_version is kept so
// migrations are not re-applied.
func truncateAll(ctx context.Context, t *testing.T, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'goose_db_version'`)
	if err != nil {
		t.Logf("pgtest: list tables: %v", err)
		return
	}
	var tables []string
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			tables = append(tables, name)
		}
	}
	_ = rows.Close()
	if len(tables) == 0 {
		return
	}
	// Names come from pg_tables, not user input.
	if _, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE"); err != nil { // #nosec G202
		t.Logf("pgtest: truncate: %v", err)
	}
}

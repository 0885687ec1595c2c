package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-reservation/internal/database"
)

// NewSQLiteDB returns an in-memory bun database with the reservation schema.
// The pool is pinned to one connection so every query sees the same memory DB.
func NewSQLiteDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := database.CreateSchema(context.Background(), bunDB); err != nil {
		bunDB.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

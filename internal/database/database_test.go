package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectOf(t *testing.T) {
	tests := []struct {
		url  string
		want Dialect
	}{
		{"postgres://u:p@localhost:5432/db", Postgres},
		{"postgresql://localhost/db?sslmode=disable", Postgres},
		{"sqlite:///./financial_analyzer.db", SQLite},
		{"sqlite3:///tmp/x.db", SQLite},
		{"file:/tmp/x.db", SQLite},
		{"memory://", Memory},
	}
	for _, tt := range tests {
		got, err := DialectOf(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}

	_, err := DialectOf("mysql://localhost/db")
	assert.ErrorContains(t, err, "mysql")
}

func TestSQLitePath(t *testing.T) {
	assert.Equal(t, "./financial_analyzer.db", SQLitePath("sqlite:///./financial_analyzer.db"))
	assert.Equal(t, "/var/lib/fin.db", SQLitePath("sqlite:////var/lib/fin.db"))
	assert.Equal(t, "./fin.db", SQLitePath("sqlite://./fin.db"))
	assert.Equal(t, "/tmp/fin.db", SQLitePath("file:/tmp/fin.db?cache=shared"))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/fin?sslmode=disable",
		migrateURL(Postgres, "postgres://u:p@db:5432/fin?sslmode=disable"))
	assert.Equal(t, "sqlite3:///tmp/fin.db", migrateURL(SQLite, "sqlite:////tmp/fin.db"))
}

func TestRunMigrations_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	url := "sqlite:///" + path

	require.NoError(t, RunMigrations(url))
	// second run is a no-op
	require.NoError(t, RunMigrations(url))

	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='analysis_results'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "analysis_results", name)
}

func TestRunMigrations_MemoryIsNoop(t *testing.T) {
	assert.NoError(t, RunMigrations("memory://"))
}

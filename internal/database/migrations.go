package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// RunMigrations applies all pending up-migrations for the dialect of
// databaseURL. Memory URLs have no schema and are a no-op.
func RunMigrations(databaseURL string) error {
	dialect, err := DialectOf(databaseURL)
	if err != nil {
		return err
	}
	if dialect == Memory {
		return nil
	}

	src, err := iofs.New(migrationFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dialect, databaseURL))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("close migrate", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		slog.Info("database migrated", "dialect", dialect, "version", version, "dirty", dirty)
	}
	return nil
}

// migrateURL rewrites a DATABASE_URL into the scheme registered by the
// matching golang-migrate driver.
func migrateURL(dialect Dialect, url string) string {
	switch dialect {
	case Postgres:
		if i := strings.Index(url, "://"); i >= 0 {
			return "pgx5" + url[i:]
		}
	case SQLite:
		return "sqlite3://" + SQLitePath(url)
	}
	return url
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nikhilbhutani/financial-analyzer/internal/config"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
	Memory   Dialect = "memory"
)

// DialectOf infers the ledger backend from a DATABASE_URL.
func DialectOf(url string) (Dialect, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(url, "sqlite://"), strings.HasPrefix(url, "sqlite3://"), strings.HasPrefix(url, "file:"):
		return SQLite, nil
	case strings.HasPrefix(url, "memory://"):
		return Memory, nil
	}
	return "", fmt.Errorf("unsupported database URL scheme: %q", schemeOf(url))
}

func schemeOf(url string) string {
	if i := strings.Index(url, ":"); i >= 0 {
		return url[:i]
	}
	return url
}

// SQLitePath extracts the database file path from a sqlite URL. Three
// slashes denote a relative path and four an absolute one, so
// sqlite:///./app.db and sqlite:////var/lib/app.db both work; the short form
// sqlite://./app.db is accepted too.
func SQLitePath(url string) string {
	if strings.HasPrefix(url, "file:") {
		path := strings.TrimPrefix(url, "file:")
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
		return path
	}
	path := url
	for _, prefix := range []string{"sqlite3://", "sqlite://"} {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if strings.HasPrefix(path, "/") {
		path = path[1:]
	}
	return path
}

func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// OpenSQLite opens the database file in WAL mode with a single connection,
// which serializes writers.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return db, nil
}

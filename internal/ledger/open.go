package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikhilbhutani/financial-analyzer/internal/config"
	"github.com/nikhilbhutani/financial-analyzer/internal/database"
)

// Open migrates the database named by cfg.URL and returns the matching
// Ledger backend.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Ledger, error) {
	dialect, err := database.DialectOf(cfg.URL)
	if err != nil {
		return nil, err
	}

	if err := database.RunMigrations(cfg.URL); err != nil {
		return nil, fmt.Errorf("migrate %s ledger: %w", dialect, err)
	}

	switch dialect {
	case database.Postgres:
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresLedger(pool), nil
	case database.SQLite:
		db, err := database.OpenSQLite(ctx, database.SQLitePath(cfg.URL))
		if err != nil {
			return nil, err
		}
		return NewSQLiteLedger(db), nil
	default:
		return NewMemoryLedger(), nil
	}
}

// ErrProcessLocal is returned by OpenShared for a ledger that lives only in
// the opening process.
var ErrProcessLocal = errors.New("ledger: memory ledger cannot be shared between processes")

// OpenShared is Open for processes that must see jobs recorded by another
// process, such as the queue worker. The memory dialect is rejected since the
// worker would never find the jobs the api recorded.
func OpenShared(ctx context.Context, cfg config.DatabaseConfig) (Ledger, error) {
	dialect, err := database.DialectOf(cfg.URL)
	if err != nil {
		return nil, err
	}
	if dialect == database.Memory {
		return nil, fmt.Errorf("%w: set DATABASE_URL to a sqlite or postgres url", ErrProcessLocal)
	}
	return Open(ctx, cfg)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/financial-analyzer/internal/models"
)

const jobColumns = `job_id, filename, query, status, result, error, created_at, completed_at`

type PostgresLedger struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool, now: time.Now}
}

func (l *PostgresLedger) Create(ctx context.Context, job *models.AnalysisJob) error {
	if err := prepareCreate(job, l.now()); err != nil {
		return err
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO analysis_results (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.JobID, job.Filename, job.Query, string(job.Status),
		job.Result, job.Error, job.CreatedAt, job.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("insert analysis job: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Update(ctx context.Context, jobID string, u Update) (*models.AnalysisJob, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}

	var completedAt *time.Time
	if u.Status.IsTerminal() {
		now := l.now().UTC()
		completedAt = &now
	}

	row := l.pool.QueryRow(ctx,
		`UPDATE analysis_results
		 SET status = $2,
		     result = COALESCE($3, result),
		     error = COALESCE($4, error),
		     completed_at = COALESCE($5, completed_at)
		 WHERE job_id = $1 AND status = ANY($6)
		 RETURNING `+jobColumns,
		jobID, string(u.Status), u.Result, u.Error, completedAt,
		statusStrings(models.AllowedFrom(u.Status)),
	)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := l.Get(ctx, jobID)
		if getErr != nil && !errors.Is(getErr, ErrNotFound) {
			return nil, getErr
		}
		return nil, missError(current, u.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("update analysis job: %w", err)
	}
	return job, nil
}

func (l *PostgresLedger) Get(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_results WHERE job_id = $1`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis job: %w", err)
	}
	return job, nil
}

func (l *PostgresLedger) List(ctx context.Context, limit, offset int) ([]models.AnalysisJob, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := l.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM analysis_results
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list analysis jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.AnalysisJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis jobs: %w", err)
	}
	return jobs, nil
}

func (l *PostgresLedger) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM analysis_results
		 WHERE status IN ('completed', 'failed') AND completed_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge analysis jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

func scanJob(row pgx.Row) (*models.AnalysisJob, error) {
	var (
		job    models.AnalysisJob
		status string
	)
	err := row.Scan(&job.JobID, &job.Filename, &job.Query, &status,
		&job.Result, &job.Error, &job.CreatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Status = models.AnalysisStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	if job.CompletedAt != nil {
		c := job.CompletedAt.UTC()
		job.CompletedAt = &c
	}
	return &job, nil
}

// isDuplicateKeyError reports a unique_violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

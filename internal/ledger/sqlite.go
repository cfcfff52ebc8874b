package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nikhilbhutani/financial-analyzer/internal/models"
)

// fixed width keeps lexical order equal to chronological order
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db, now: time.Now}
}

func (l *SQLiteLedger) Create(ctx context.Context, job *models.AnalysisJob) error {
	if err := prepareCreate(job, l.now()); err != nil {
		return err
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO analysis_results (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Filename, job.Query, string(job.Status),
		nullString(job.Result), nullString(job.Error),
		formatTime(job.CreatedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateJob
		}
		return fmt.Errorf("insert analysis job: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Update(ctx context.Context, jobID string, u Update) (*models.AnalysisJob, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}

	var completedAt *time.Time
	if u.Status.IsTerminal() {
		now := l.now()
		completedAt = &now
	}

	allowed := statusStrings(models.AllowedFrom(u.Status))
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(allowed)), ", ")
	args := []any{string(u.Status), nullString(u.Result), nullString(u.Error), nullTime(completedAt), jobID}
	for _, s := range allowed {
		args = append(args, s)
	}

	row := l.db.QueryRowContext(ctx,
		`UPDATE analysis_results
		 SET status = ?,
		     result = COALESCE(?, result),
		     error = COALESCE(?, error),
		     completed_at = COALESCE(?, completed_at)
		 WHERE job_id = ? AND status IN (`+placeholders+`)
		 RETURNING `+jobColumns, args...)

	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
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

func (l *SQLiteLedger) Get(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_results WHERE job_id = ?`, jobID)

	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis job: %w", err)
	}
	return job, nil
}

func (l *SQLiteLedger) List(ctx context.Context, limit, offset int) (_ []models.AnalysisJob, err error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_results
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list analysis jobs: %w", err)
	}
	defer func() {
		if e := rows.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", e))
		}
	}()

	jobs := []models.AnalysisJob{}
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
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

func (l *SQLiteLedger) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM analysis_results
		 WHERE status IN ('completed', 'failed') AND completed_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purge analysis jobs: %w", err)
	}
	return res.RowsAffected()
}

func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*models.AnalysisJob, error) {
	var (
		job                   models.AnalysisJob
		status, created       string
		result, errMsg, compl sql.NullString
	)
	if err := row.Scan(&job.JobID, &job.Filename, &job.Query, &status,
		&result, &errMsg, &created, &compl); err != nil {
		return nil, err
	}

	job.Status = models.AnalysisStatus(status)
	if result.Valid {
		job.Result = &result.String
	}
	if errMsg.Valid {
		job.Error = &errMsg.String
	}

	createdAt, err := time.Parse(sqliteTimeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	job.CreatedAt = createdAt
	if compl.Valid {
		completedAt, err := time.Parse(sqliteTimeLayout, compl.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &completedAt
	}
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

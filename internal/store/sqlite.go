package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// SQLiteStore implements Store using SQLite. Timestamps are stored as unix
// nanoseconds so RETURNING clauses scan without driver type hints.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Pending scheduled strategy executions
	CREATE TABLE IF NOT EXISTS scheduled_jobs (
		job_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		execute_at INTEGER NOT NULL,
		request TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- One active square-off schedule per owner
	CREATE TABLE IF NOT EXISTS squareoff_schedules (
		owner TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		execute_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Day summaries written by each square-off
	CREATE TABLE IF NOT EXISTS day_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		date TEXT NOT NULL,
		total_pnl REAL NOT NULL,
		num_trades INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_execute_at ON scheduled_jobs(execute_at);
	CREATE INDEX IF NOT EXISTS idx_summaries_owner ON day_summaries(owner, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job *models.ScheduledJob) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scheduled_jobs (job_id, owner, execute_at, request, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.JobID, job.Owner, job.ExecuteAt.UnixNano(), string(req), job.CreatedAt.UnixNano())
	if err != nil {
		return dbError("save job", err)
	}
	return nil
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, owner, execute_at, request, created_at
		FROM scheduled_jobs ORDER BY execute_at, created_at`)
	if err != nil {
		return nil, dbError("load jobs", err)
	}
	defer rows.Close()

	var jobs []models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("load jobs", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE job_id = ?`, jobID); err != nil {
		return dbError("delete job", err)
	}
	return nil
}

// ClaimJob removes and returns the job in a single statement.
func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID string) (*models.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM scheduled_jobs WHERE job_id = ?
		RETURNING job_id, owner, execute_at, request, created_at`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrJobNotFound
	}
	return job, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.ScheduledJob, error) {
	var (
		job                models.ScheduledJob
		executeAt, created int64
		request            string
	)
	if err := row.Scan(&job.JobID, &job.Owner, &executeAt, &request, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, dbError("scan job", err)
	}
	if err := json.Unmarshal([]byte(request), &job.Request); err != nil {
		return nil, fmt.Errorf("failed to decode request of job %s: %w", job.JobID, err)
	}
	job.ExecuteAt = time.Unix(0, executeAt)
	job.CreatedAt = time.Unix(0, created)
	return &job, nil
}

func (s *SQLiteStore) SaveSchedule(ctx context.Context, sch *models.SquareOffSchedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO squareoff_schedules (owner, schedule_id, execute_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			schedule_id = excluded.schedule_id,
			execute_at = excluded.execute_at,
			created_at = excluded.created_at`,
		sch.Owner, sch.ScheduleID, sch.ExecuteAt.UnixNano(), sch.CreatedAt.UnixNano())
	if err != nil {
		return dbError("save schedule", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSchedules(ctx context.Context) ([]models.SquareOffSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, schedule_id, execute_at, created_at
		FROM squareoff_schedules ORDER BY owner`)
	if err != nil {
		return nil, dbError("load schedules", err)
	}
	defer rows.Close()

	var out []models.SquareOffSchedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sch)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("load schedules", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM squareoff_schedules WHERE owner = ?`, owner); err != nil {
		return dbError("delete schedule", err)
	}
	return nil
}

func (s *SQLiteStore) ClaimSchedule(ctx context.Context, owner, scheduleID string) (*models.SquareOffSchedule, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM squareoff_schedules WHERE owner = ? AND schedule_id = ?
		RETURNING owner, schedule_id, execute_at, created_at`, owner, scheduleID)

	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrScheduleNotFound
	}
	return sch, err
}

func scanSchedule(row scanner) (*models.SquareOffSchedule, error) {
	var (
		sch                models.SquareOffSchedule
		executeAt, created int64
	)
	if err := row.Scan(&sch.Owner, &sch.ScheduleID, &executeAt, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, dbError("scan schedule", err)
	}
	sch.ExecuteAt = time.Unix(0, executeAt)
	sch.CreatedAt = time.Unix(0, created)
	sch.Active = true
	return &sch, nil
}

func (s *SQLiteStore) SaveDaySummary(ctx context.Context, sum *models.DaySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_summaries (owner, date, total_pnl, num_trades, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sum.Owner, sum.Date, sum.TotalPnL, sum.NumTrades, sum.CreatedAt.UnixNano())
	if err != nil {
		return dbError("save day summary", err)
	}
	return nil
}

func (s *SQLiteStore) ListDaySummaries(ctx context.Context, owner string, limit int) ([]models.DaySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, date, total_pnl, num_trades, created_at
		FROM day_summaries WHERE owner = ?
		ORDER BY id DESC LIMIT ?`, owner, normalizeLimit(limit))
	if err != nil {
		return nil, dbError("list day summaries", err)
	}
	defer rows.Close()

	var out []models.DaySummary
	for rows.Next() {
		var (
			sum     models.DaySummary
			created int64
		)
		if err := rows.Scan(&sum.Owner, &sum.Date, &sum.TotalPnL, &sum.NumTrades, &created); err != nil {
			return nil, dbError("scan day summary", err)
		}
		sum.CreatedAt = time.Unix(0, created)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list day summaries", err)
	}
	return out, nil
}

// Package store provides persistence for scheduled jobs, square-off schedules
// and day summaries.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Hari-sh-S/options-algo/internal/config"
	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// JobStore persists scheduled jobs.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.ScheduledJob) error
	// LoadJobs returns every pending job ordered by execute time.
	LoadJobs(ctx context.Context) ([]models.ScheduledJob, error)
	DeleteJob(ctx context.Context, jobID string) error
	// ClaimJob atomically removes and returns a job. Exactly one of any
	// number of concurrent callers wins; the rest get ErrJobNotFound.
	ClaimJob(ctx context.Context, jobID string) (*models.ScheduledJob, error)
}

// ScheduleStore persists one square-off schedule per owner.
type ScheduleStore interface {
	// SaveSchedule inserts or replaces the owner's schedule.
	SaveSchedule(ctx context.Context, s *models.SquareOffSchedule) error
	LoadSchedules(ctx context.Context) ([]models.SquareOffSchedule, error)
	DeleteSchedule(ctx context.Context, owner string) error
	// ClaimSchedule atomically removes the owner's schedule if it is still
	// scheduleID, returning ErrScheduleNotFound otherwise.
	ClaimSchedule(ctx context.Context, owner, scheduleID string) (*models.SquareOffSchedule, error)
}

// SummaryStore persists day summaries.
type SummaryStore interface {
	SaveDaySummary(ctx context.Context, s *models.DaySummary) error
	// ListDaySummaries returns the owner's summaries, newest first.
	ListDaySummaries(ctx context.Context, owner string, limit int) ([]models.DaySummary, error)
}

// Store is the full persistence surface.
type Store interface {
	JobStore
	ScheduleStore
	SummaryStore
	Close() error
}

// Backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.SQLitePath)
	case BackendRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	}
	return nil, fmt.Errorf("%w: unknown store backend %q", apperrors.ErrConfigInvalid, cfg.Backend)
}

func dbError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", apperrors.ErrDatabaseError, op, err)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

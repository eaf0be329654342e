package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Hari-sh-S/options-algo/internal/config"
	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// backends returns every store the conformance suite runs against. Redis is
// included only when ALGO_REDIS_ADDR points at a server.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "algo.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	out := map[string]Store{
		BackendMemory: NewMemoryStore(),
		BackendSQLite: sqlite,
	}

	if addr := os.Getenv("ALGO_REDIS_ADDR"); addr != "" {
		rs, err := NewRedisStore(context.Background(), RedisConfig{
			Addr:   addr,
			Prefix: "algotest:" + uuid.NewString()[:8],
		})
		if err != nil {
			t.Fatalf("NewRedisStore: %v", err)
		}
		t.Cleanup(func() { rs.Close() })
		out[BackendRedis] = rs
	}
	return out
}

func testJob(id string, at time.Time) *models.ScheduledJob {
	return &models.ScheduledJob{
		JobID:     id,
		Owner:     "default",
		ExecuteAt: at,
		CreatedAt: at.Add(-time.Hour),
		Request: models.StrategyRequest{
			Strategy:      models.StrategyPremiumBased,
			Index:         models.NIFTY,
			Expiry:        models.NewDate(2024, time.June, 27),
			Lots:          2,
			SLPercent:     30,
			TargetPremium: models.Float(100),
		},
	}
}

func TestJobStoreConformance(t *testing.T) {
	base := time.Date(2024, time.June, 27, 9, 15, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, job := range []*models.ScheduledJob{
				testJob("job_late", base.Add(time.Hour)),
				testJob("job_early", base),
				testJob("job_mid", base.Add(time.Minute)),
			} {
				if err := s.SaveJob(ctx, job); err != nil {
					t.Fatalf("SaveJob: %v", err)
				}
			}

			jobs, err := s.LoadJobs(ctx)
			if err != nil {
				t.Fatalf("LoadJobs: %v", err)
			}
			if len(jobs) != 3 || jobs[0].JobID != "job_early" || jobs[2].JobID != "job_late" {
				t.Fatalf("LoadJobs order = %v", jobIDs(jobs))
			}
			if !jobs[0].ExecuteAt.Equal(base) {
				t.Errorf("execute_at = %v, want %v", jobs[0].ExecuteAt, base)
			}
			req := jobs[0].Request
			if req.Strategy != models.StrategyPremiumBased || req.Lots != 2 || req.TargetPremium == nil || *req.TargetPremium != 100 {
				t.Errorf("request not preserved: %+v", req)
			}
			if req.Expiry.String() != "2024-06-27" {
				t.Errorf("expiry = %s", req.Expiry)
			}

			claimed, err := s.ClaimJob(ctx, "job_mid")
			if err != nil {
				t.Fatalf("ClaimJob: %v", err)
			}
			if claimed.JobID != "job_mid" {
				t.Errorf("claimed %s", claimed.JobID)
			}
			if _, err := s.ClaimJob(ctx, "job_mid"); !errors.Is(err, apperrors.ErrJobNotFound) {
				t.Errorf("second claim err = %v, want ErrJobNotFound", err)
			}

			if err := s.DeleteJob(ctx, "job_late"); err != nil {
				t.Fatalf("DeleteJob: %v", err)
			}
			jobs, _ = s.LoadJobs(ctx)
			if len(jobs) != 1 || jobs[0].JobID != "job_early" {
				t.Errorf("after claim and delete = %v", jobIDs(jobs))
			}
		})
	}
}

func TestScheduleStoreConformance(t *testing.T) {
	at := time.Date(2024, time.June, 27, 15, 15, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := &models.SquareOffSchedule{ScheduleID: "sq_1", Owner: "alice", ExecuteAt: at, Active: true, CreatedAt: at}
			second := &models.SquareOffSchedule{ScheduleID: "sq_2", Owner: "alice", ExecuteAt: at.Add(time.Minute), Active: true, CreatedAt: at}
			if err := s.SaveSchedule(ctx, first); err != nil {
				t.Fatalf("SaveSchedule: %v", err)
			}
			if err := s.SaveSchedule(ctx, second); err != nil {
				t.Fatalf("SaveSchedule replace: %v", err)
			}

			all, err := s.LoadSchedules(ctx)
			if err != nil {
				t.Fatalf("LoadSchedules: %v", err)
			}
			if len(all) != 1 || all[0].ScheduleID != "sq_2" {
				t.Fatalf("schedules = %+v, want only sq_2", all)
			}

			// A superseded timer must not claim the replacement.
			if _, err := s.ClaimSchedule(ctx, "alice", "sq_1"); !errors.Is(err, apperrors.ErrScheduleNotFound) {
				t.Errorf("stale claim err = %v, want ErrScheduleNotFound", err)
			}
			got, err := s.ClaimSchedule(ctx, "alice", "sq_2")
			if err != nil {
				t.Fatalf("ClaimSchedule: %v", err)
			}
			if !got.ExecuteAt.Equal(at.Add(time.Minute)) {
				t.Errorf("execute_at = %v", got.ExecuteAt)
			}
			if all, _ := s.LoadSchedules(ctx); len(all) != 0 {
				t.Errorf("schedule survived its claim: %+v", all)
			}

			if err := s.SaveSchedule(ctx, first); err != nil {
				t.Fatalf("SaveSchedule: %v", err)
			}
			if err := s.DeleteSchedule(ctx, "alice"); err != nil {
				t.Fatalf("DeleteSchedule: %v", err)
			}
			if _, err := s.ClaimSchedule(ctx, "alice", "sq_1"); !errors.Is(err, apperrors.ErrScheduleNotFound) {
				t.Errorf("claim after delete err = %v", err)
			}
		})
	}
}

func TestSummaryStoreConformance(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			for i, pnl := range []float64{-500, 1200.5, 300} {
				err := s.SaveDaySummary(ctx, &models.DaySummary{
					Owner:     "alice",
					Date:      now.AddDate(0, 0, i).Format("2006-01-02"),
					TotalPnL:  pnl,
					NumTrades: i + 2,
					CreatedAt: now.Add(time.Duration(i) * time.Hour),
				})
				if err != nil {
					t.Fatalf("SaveDaySummary: %v", err)
				}
			}
			_ = s.SaveDaySummary(ctx, &models.DaySummary{Owner: "bob", TotalPnL: 1, CreatedAt: now})

			got, err := s.ListDaySummaries(ctx, "alice", 2)
			if err != nil {
				t.Fatalf("ListDaySummaries: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if got[0].TotalPnL != 300 || got[1].TotalPnL != 1200.5 {
				t.Errorf("not newest first: %+v", got)
			}
			if got[0].NumTrades != 4 {
				t.Errorf("num_trades = %d, want 4", got[0].NumTrades)
			}
		})
	}
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, configFor(BackendMemory, ""))
	if err != nil {
		t.Fatalf("New(memory): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("memory backend = %T", s)
	}

	s, err = New(ctx, configFor(BackendSQLite, filepath.Join(t.TempDir(), "nested", "algo.db")))
	if err != nil {
		t.Fatalf("New(sqlite): %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("sqlite backend = %T", s)
	}

	if _, err := New(ctx, configFor("etcd", "")); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("unknown backend err = %v, want ErrConfigInvalid", err)
	}
}

func configFor(backend, path string) config.StoreConfig {
	return config.StoreConfig{Backend: backend, SQLitePath: path}
}

func jobIDs(jobs []models.ScheduledJob) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return ids
}

package store

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]models.ScheduledJob
	schedules map[string]models.SquareOffSchedule
	summaries map[string][]models.DaySummary
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]models.ScheduledJob),
		schedules: make(map[string]models.SquareOffSchedule),
		summaries: make(map[string][]models.DaySummary),
	}
}

func (m *MemoryStore) SaveJob(ctx context.Context, job *models.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = *job
	return nil
}

func (m *MemoryStore) LoadJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]models.ScheduledJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].ExecuteAt.Equal(jobs[j].ExecuteAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ExecuteAt.Before(jobs[j].ExecuteAt)
	})
	return jobs, nil
}

func (m *MemoryStore) DeleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *MemoryStore) ClaimJob(ctx context.Context, jobID string) (*models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, apperrors.ErrJobNotFound
	}
	delete(m.jobs, jobID)
	return &job, nil
}

func (m *MemoryStore) SaveSchedule(ctx context.Context, s *models.SquareOffSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.Owner] = *s
	return nil
}

func (m *MemoryStore) LoadSchedules(ctx context.Context) ([]models.SquareOffSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.SquareOffSchedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out, nil
}

func (m *MemoryStore) DeleteSchedule(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, owner)
	return nil
}

func (m *MemoryStore) ClaimSchedule(ctx context.Context, owner, scheduleID string) (*models.SquareOffSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[owner]
	if !ok || s.ScheduleID != scheduleID {
		return nil, apperrors.ErrScheduleNotFound
	}
	delete(m.schedules, owner)
	return &s, nil
}

func (m *MemoryStore) SaveDaySummary(ctx context.Context, s *models.DaySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[s.Owner] = append(m.summaries[s.Owner], *s)
	return nil
}

func (m *MemoryStore) ListDaySummaries(ctx context.Context, owner string, limit int) ([]models.DaySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.summaries[owner]
	limit = normalizeLimit(limit)
	out := make([]models.DaySummary, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

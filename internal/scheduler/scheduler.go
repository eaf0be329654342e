// Package scheduler defers strategy executions to a wall-clock time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/logging"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/notify"
	"github.com/Hari-sh-S/options-algo/internal/store"
)

// Missed-window policies for jobs that became due while the process was down.
const (
	PolicyDrop = "drop"
	PolicyFire = "fire"
)

// idleWait is how long the dispatcher sleeps with an empty queue before
// re-checking.
const idleWait = time.Minute

// Executor runs a strategy request for an owner.
type Executor interface {
	Execute(ctx context.Context, owner string, req models.StrategyRequest) (*models.ExecutionResult, error)
}

// Config controls the missed-window policy and history depth.
type Config struct {
	MissedPolicy string
	MissedGrace  time.Duration
	HistorySize  int
}

// Scheduler keeps pending jobs in a heap and fires each exactly once. The
// store's atomic claim arbitrates between firing and cancellation.
type Scheduler struct {
	store    store.JobStore
	exec     Executor
	notifier notify.Notifier
	logger   zerolog.Logger
	cfg      Config
	now      func() time.Time

	mu      sync.Mutex
	queue   *jobQueue
	seq     uint64
	history []models.JobRun
	running bool
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	firing  sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. Call Start to load persisted jobs and begin
// dispatching.
func New(jobs store.JobStore, exec Executor, notifier notify.Notifier, logger zerolog.Logger, cfg Config, opts ...Option) *Scheduler {
	if cfg.MissedPolicy == "" {
		cfg.MissedPolicy = PolicyDrop
	}
	if cfg.MissedGrace <= 0 {
		cfg.MissedGrace = 5 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}

	s := &Scheduler{
		store:    jobs,
		exec:     exec,
		notifier: notifier,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		cfg:      cfg,
		now:      time.Now,
		queue:    newJobQueue(),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads persisted jobs and runs the dispatcher until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	jobs, err := s.store.LoadJobs(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	for _, job := range jobs {
		if !s.queue.contains(job.JobID) {
			s.seq++
			s.queue.add(job, s.seq)
		}
	}
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Info().Int("restored", len(jobs)).Msg("Scheduler started")

	go s.run(runCtx, done)
	return nil
}

// Stop halts the dispatcher and waits for in-flight firings to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running || s.done == nil {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	s.firing.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// Add validates, persists and queues a job.
func (s *Scheduler) Add(ctx context.Context, owner string, req models.StrategyRequest, executeAt time.Time) (*models.ScheduledJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(owner) == "" {
		return nil, apperrors.NewValidationError("owner", owner, "is required")
	}
	if executeAt.IsZero() {
		return nil, apperrors.NewValidationError("execute_at", executeAt, "is required")
	}

	job := &models.ScheduledJob{
		JobID:     newJobID(),
		ExecuteAt: executeAt,
		Request:   req,
		Owner:     owner,
		CreatedAt: s.now(),
	}
	// A Cancel that claims the job between save and push must find it queued.
	s.mu.Lock()
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.seq++
	s.queue.add(*job, s.seq)
	earliest := s.queue.peek().job.JobID == job.JobID
	s.mu.Unlock()

	if earliest {
		s.signal()
	}

	logger := logging.WithJobID(logging.WithOwner(s.logger, owner), job.JobID)
	logger.Info().
		Time("execute_at", executeAt).
		Str("strategy", string(req.Strategy)).
		Msg("Job scheduled")

	return job, nil
}

// Cancel removes a pending job. It returns false when the job is unknown or
// has already fired; a firing is never undone.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (bool, error) {
	if _, err := s.store.ClaimJob(ctx, jobID); err != nil {
		if errors.Is(err, apperrors.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	s.mu.Lock()
	s.queue.remove(jobID)
	s.mu.Unlock()

	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return true, nil
}

// List returns pending jobs in firing order.
func (s *Scheduler) List() []models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.sorted()
}

// History returns up to limit recent runs, newest first.
func (s *Scheduler) History(limit int) []models.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]models.JobRun, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the single dispatcher goroutine; it alone pops from the heap.
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		s.mu.Lock()
		now := s.now()
		due := s.queue.popDue(now)
		wait := idleWait
		if next := s.queue.peek(); next != nil {
			wait = next.job.ExecuteAt.Sub(now)
		}
		s.mu.Unlock()

		for _, job := range due {
			s.dispatch(ctx, job, now)
		}
		if len(due) > 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// dispatch claims a due job and either fires it or records it as missed.
func (s *Scheduler) dispatch(ctx context.Context, job models.ScheduledJob, now time.Time) {
	logger := logging.WithJobID(logging.WithOwner(s.logger, job.Owner), job.JobID)

	claimed, err := s.store.ClaimJob(ctx, job.JobID)
	if errors.Is(err, apperrors.ErrJobNotFound) {
		logger.Debug().Msg("Job already cancelled")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to claim job")
		s.record(ctx, models.JobRun{
			JobID:     job.JobID,
			Owner:     job.Owner,
			ExecuteAt: job.ExecuteAt,
			FiredAt:   now,
			Outcome:   models.JobFailed,
			Error:     err.Error(),
		})
		return
	}

	late := now.Sub(claimed.ExecuteAt)
	if late > s.cfg.MissedGrace && s.cfg.MissedPolicy == PolicyDrop {
		logger.Warn().Dur("late", late).Msg("Dropping missed job")
		s.record(ctx, models.JobRun{
			JobID:     claimed.JobID,
			Owner:     claimed.Owner,
			ExecuteAt: claimed.ExecuteAt,
			FiredAt:   now,
			Outcome:   models.JobMissed,
			Error:     fmt.Sprintf("due %s ago, beyond the %s grace", late.Round(time.Second), s.cfg.MissedGrace),
		})
		return
	}

	// Stop waits for the firing instead of cancelling it.
	fireCtx := context.WithoutCancel(ctx)
	s.firing.Add(1)
	go func() {
		defer s.firing.Done()
		s.fire(fireCtx, claimed, logger)
	}()
}

func (s *Scheduler) fire(ctx context.Context, job *models.ScheduledJob, logger zerolog.Logger) {
	firedAt := s.now()
	logger.Info().Time("execute_at", job.ExecuteAt).Msg("Firing job")

	run := models.JobRun{
		JobID:     job.JobID,
		Owner:     job.Owner,
		ExecuteAt: job.ExecuteAt,
		FiredAt:   firedAt,
		Outcome:   models.JobFired,
	}

	result, err := s.exec.Execute(ctx, job.Owner, job.Request)
	switch {
	case err != nil:
		run.Outcome = models.JobFailed
		run.Error = err.Error()
		logger.Error().Err(err).Msg("Job execution failed")
	default:
		run.Success = result.Success
		run.Error = result.Error
		logger.Info().Bool("success", result.Success).Str("state", string(result.State)).Msg("Job executed")
	}

	s.record(ctx, run)
}

func (s *Scheduler) record(ctx context.Context, run models.JobRun) {
	s.mu.Lock()
	s.history = append(s.history, run)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]models.JobRun(nil), s.history[over:]...)
	}
	s.mu.Unlock()

	// Successful firings are already reported by the execution notification.
	if run.Outcome == models.JobFired {
		return
	}
	if err := s.notifier.SendJobRun(ctx, run); err != nil {
		s.logger.Warn().Err(err).Str("job_id", run.JobID).Msg("Failed to send job notification")
	}
}

func newJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/store"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	fired chan string
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{fired: make(chan string, 64)}
}

func (e *recordingExecutor) Execute(ctx context.Context, owner string, req models.StrategyRequest) (*models.ExecutionResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, owner)
	e.mu.Unlock()
	e.fired <- owner
	return &models.ExecutionResult{Success: true, State: models.StateDone, Owner: owner}, nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// shiftedClock runs at wall speed starting from base.
func shiftedClock(base time.Time) func() time.Time {
	start := time.Now()
	return func() time.Time { return base.Add(time.Since(start)) }
}

func testRequest() models.StrategyRequest {
	return models.StrategyRequest{
		Strategy:  models.StrategyShortStraddle,
		Index:     models.NIFTY,
		Expiry:    models.NewDate(2024, time.June, 27),
		Lots:      1,
		SLPercent: 30,
	}
}

func startScheduler(t *testing.T, jobs store.JobStore, exec Executor, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	s := New(jobs, exec, nil, zerolog.Nop(), cfg, opts...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func waitFired(t *testing.T, exec *recordingExecutor) string {
	t.Helper()
	select {
	case owner := <-exec.fired:
		return owner
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
	return ""
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelBeforeFire(t *testing.T) {
	exec := newRecordingExecutor()
	s := startScheduler(t, store.NewMemoryStore(), exec, Config{})

	job, err := s.Add(context.Background(), "default", testRequest(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(s.List()) != 1 {
		t.Fatalf("List = %d jobs, want 1", len(s.List()))
	}

	ok, err := s.Cancel(context.Background(), job.JobID)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v; want true", ok, err)
	}
	if len(s.List()) != 0 {
		t.Error("cancelled job still listed")
	}

	ok, _ = s.Cancel(context.Background(), job.JobID)
	if ok {
		t.Error("second cancel should return false")
	}
}

func TestCancelAfterFireReturnsFalse(t *testing.T) {
	exec := newRecordingExecutor()
	s := startScheduler(t, store.NewMemoryStore(), exec, Config{})

	job, err := s.Add(context.Background(), "default", testRequest(), time.Now().Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFired(t, exec)

	ok, err := s.Cancel(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("cancel after firing should return false")
	}
	waitFor(t, func() bool { return len(s.History(0)) == 1 })
	if run := s.History(1)[0]; run.Outcome != models.JobFired || !run.Success {
		t.Errorf("history = %+v, want a successful firing", run)
	}
}

func TestRestartFiresPersistedJob(t *testing.T) {
	executeAt := time.Date(2024, time.June, 27, 9, 15, 0, 0, utils.IndiaLocation)
	jobs := store.NewMemoryStore()
	if err := jobs.SaveJob(context.Background(), &models.ScheduledJob{
		JobID:     "job_restart",
		Owner:     "default",
		ExecuteAt: executeAt,
		Request:   testRequest(),
		CreatedAt: executeAt.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	// The process comes back just before the job is due.
	exec := newRecordingExecutor()
	s := startScheduler(t, jobs, exec, Config{}, WithClock(shiftedClock(executeAt.Add(-50*time.Millisecond))))

	if got := s.List(); len(got) != 1 || got[0].JobID != "job_restart" {
		t.Fatalf("restored jobs = %+v", got)
	}
	waitFired(t, exec)

	waitFor(t, func() bool { return len(s.History(0)) == 1 })
	run := s.History(1)[0]
	if run.FiredAt.Before(executeAt) {
		t.Errorf("fired at %v, before execute_at %v", run.FiredAt, executeAt)
	}
	if remaining, _ := jobs.LoadJobs(context.Background()); len(remaining) != 0 {
		t.Error("fired job should be removed from the store")
	}
}

func TestMissedJobPolicy(t *testing.T) {
	executeAt := time.Date(2024, time.June, 27, 9, 0, 0, 0, utils.IndiaLocation)
	restartAt := executeAt.Add(14 * time.Minute)

	tests := []struct {
		name        string
		policy      string
		grace       time.Duration
		wantFire    bool
		wantOutcome models.JobOutcome
	}{
		{"drop beyond grace", PolicyDrop, 5 * time.Minute, false, models.JobMissed},
		{"fire beyond grace", PolicyFire, 5 * time.Minute, true, models.JobFired},
		{"drop within grace fires", PolicyDrop, 30 * time.Minute, true, models.JobFired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := store.NewMemoryStore()
			_ = jobs.SaveJob(context.Background(), &models.ScheduledJob{
				JobID:     "job_missed",
				Owner:     "default",
				ExecuteAt: executeAt,
				Request:   testRequest(),
			})

			exec := newRecordingExecutor()
			s := startScheduler(t, jobs, exec, Config{MissedPolicy: tt.policy, MissedGrace: tt.grace}, WithClock(shiftedClock(restartAt)))

			waitFor(t, func() bool { return len(s.History(0)) == 1 })
			run := s.History(1)[0]
			if run.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %s, want %s", run.Outcome, tt.wantOutcome)
			}
			if fired := exec.count() == 1; fired != tt.wantFire {
				t.Errorf("fired = %v, want %v", fired, tt.wantFire)
			}
			if len(s.List()) != 0 {
				t.Error("missed job should leave the queue")
			}
		})
	}
}

func TestEarlierJobFiresFirst(t *testing.T) {
	exec := newRecordingExecutor()
	s := startScheduler(t, store.NewMemoryStore(), exec, Config{})

	now := time.Now()
	if _, err := s.Add(context.Background(), "later", testRequest(), now.Add(80*time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(context.Background(), "earlier", testRequest(), now.Add(20*time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if first := waitFired(t, exec); first != "earlier" {
		t.Errorf("first fired = %s, want earlier", first)
	}
	if second := waitFired(t, exec); second != "later" {
		t.Errorf("second fired = %s, want later", second)
	}
}

func TestListOrdersEqualTimesByInsertion(t *testing.T) {
	s := New(store.NewMemoryStore(), newRecordingExecutor(), nil, zerolog.Nop(), Config{})

	at := time.Now().Add(time.Hour)
	var ids []string
	for _, owner := range []string{"a", "b", "c"} {
		job, err := s.Add(context.Background(), owner, testRequest(), at)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		ids = append(ids, job.JobID)
	}
	early, _ := s.Add(context.Background(), "z", testRequest(), at.Add(-time.Minute))

	got := s.List()
	want := append([]string{early.JobID}, ids...)
	for i := range want {
		if got[i].JobID != want[i] {
			t.Fatalf("List order = %v, want %v", jobIDs(got), want)
		}
	}
}

func TestAddValidatesRequest(t *testing.T) {
	s := New(store.NewMemoryStore(), newRecordingExecutor(), nil, zerolog.Nop(), Config{})

	req := testRequest()
	req.Strategy = "iron_condor"
	if _, err := s.Add(context.Background(), "default", req, time.Now()); !errors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
	if _, err := s.Add(context.Background(), " ", testRequest(), time.Now()); !errors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("blank owner err = %v, want ErrInvalidRequest", err)
	}
	if len(s.List()) != 0 {
		t.Error("invalid jobs must not be queued")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := New(store.NewMemoryStore(), newRecordingExecutor(), nil, zerolog.Nop(), Config{HistorySize: 3})
	for i := 0; i < 5; i++ {
		s.record(context.Background(), models.JobRun{JobID: string(rune('a' + i)), Outcome: models.JobFired})
	}

	got := s.History(0)
	if len(got) != 3 {
		t.Fatalf("history = %d, want 3", len(got))
	}
	if got[0].JobID != "e" || got[2].JobID != "c" {
		t.Errorf("history order = %s %s %s, want e d c", got[0].JobID, got[1].JobID, got[2].JobID)
	}
}

func jobIDs(jobs []models.ScheduledJob) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return ids
}

// pausingJobStore holds SaveJob open after the job is persisted until
// release is closed, and reports successful claims.
type pausingJobStore struct {
	store.JobStore
	saved   chan struct{}
	release chan struct{}
	claimed chan struct{}
}

func (p *pausingJobStore) SaveJob(ctx context.Context, job *models.ScheduledJob) error {
	if err := p.JobStore.SaveJob(ctx, job); err != nil {
		return err
	}
	close(p.saved)
	<-p.release
	return nil
}

func (p *pausingJobStore) ClaimJob(ctx context.Context, jobID string) (*models.ScheduledJob, error) {
	job, err := p.JobStore.ClaimJob(ctx, jobID)
	if err == nil {
		close(p.claimed)
	}
	return job, err
}

func TestCancelDuringAddLeavesNothingQueued(t *testing.T) {
	st := &pausingJobStore{
		JobStore: store.NewMemoryStore(),
		saved:    make(chan struct{}),
		release:  make(chan struct{}),
		claimed:  make(chan struct{}),
	}
	s := New(st, newRecordingExecutor(), nil, zerolog.Nop(), Config{})

	added := make(chan *models.ScheduledJob, 1)
	go func() {
		job, err := s.Add(context.Background(), "default", testRequest(), time.Now().Add(time.Hour))
		if err != nil {
			t.Errorf("Add: %v", err)
		}
		added <- job
	}()
	<-st.saved

	jobs, err := st.JobStore.LoadJobs(context.Background())
	if err != nil || len(jobs) != 1 {
		t.Fatalf("LoadJobs = %d, %v; want 1 persisted job", len(jobs), err)
	}

	cancelled := make(chan bool, 1)
	go func() {
		ok, err := s.Cancel(context.Background(), jobs[0].JobID)
		if err != nil {
			t.Errorf("Cancel: %v", err)
		}
		cancelled <- ok
	}()
	<-st.claimed
	close(st.release)

	if job := <-added; job == nil || job.JobID != jobs[0].JobID {
		t.Fatalf("Add returned %+v", job)
	}
	if ok := <-cancelled; !ok {
		t.Fatal("Cancel = false, want true")
	}
	if got := s.List(); len(got) != 0 {
		t.Errorf("List = %v, want empty after cancel", jobIDs(got))
	}
}

func TestConcurrentStartRunsOneDispatcher(t *testing.T) {
	s := New(store.NewMemoryStore(), newRecordingExecutor(), nil, zerolog.Nop(), Config{})
	t.Cleanup(s.Stop)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Start(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	started := 0
	for err := range errs {
		if err == nil {
			started++
		}
	}
	if started != 1 {
		t.Errorf("%d Start calls succeeded, want 1", started)
	}
}

package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.ScheduledJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]domain.ScheduledJob)}
}

func (s *memJobStore) Create(_ context.Context, j domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}
func (s *memJobStore) Update(_ context.Context, j domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}
func (s *memJobStore) GetByID(_ context.Context, _, id string) (domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ScheduledJob{}, domain.ErrNotFound
	}
	return j, nil
}
func (s *memJobStore) ListEnabled(context.Context) ([]domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledJob
	for _, j := range s.jobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out, nil
}
func (s *memJobStore) ListByUser(context.Context, string) ([]domain.ScheduledJob, error) {
	return nil, nil
}
func (s *memJobStore) Delete(context.Context, string, string) error { return nil }

type countingStarter struct {
	mu    sync.Mutex
	calls []domain.StrategyMode
}

func (c *countingStarter) Start(_ context.Context, _, _ string, mode domain.StrategyMode) (domain.StrategyRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, mode)
	return domain.StrategyRun{ID: "run-1", Mode: mode}, nil
}

func (c *countingStarter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type grantOnceLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *grantOnceLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {}, nil
}

func testScheduler(jobs *memJobStore, starter RunStarter, locker Locker) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(jobs, starter, locker, time.UTC, logger)
}

func enabledJob(id string) domain.ScheduledJob {
	return domain.ScheduledJob{
		ID: id, UserID: "u1", StrategyID: "s1", Name: "nightly",
		CronExpr: "* * * * *", Enabled: true,
		Context: map[string]any{"mode": "paper"},
	}
}

func TestFireStartsRunAndStampsLastFired(t *testing.T) {
	jobs := newMemJobStore()
	require.NoError(t, jobs.Create(context.Background(), enabledJob("j1")))
	starter := &countingStarter{}
	s := testScheduler(jobs, starter, nil)

	s.fire("j1")

	require.Equal(t, 1, starter.count())
	assert.Equal(t, domain.ModePaper, starter.calls[0])
	stored, err := jobs.GetByID(context.Background(), "u1", "j1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastFiredAt)
}

func TestFireAtMostOncePerMinute(t *testing.T) {
	jobs := newMemJobStore()
	require.NoError(t, jobs.Create(context.Background(), enabledJob("j1")))
	starter := &countingStarter{}
	s := testScheduler(jobs, starter, nil)

	now := time.Date(2026, 3, 2, 9, 15, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.fire("j1")
	s.fire("j1") // same minute, already stamped
	assert.Equal(t, 1, starter.count())

	now = now.Add(time.Minute)
	s.fire("j1")
	assert.Equal(t, 2, starter.count())
}

func TestFireSkipsWhenLockHeld(t *testing.T) {
	jobs := newMemJobStore()
	require.NoError(t, jobs.Create(context.Background(), enabledJob("j1")))
	starter := &countingStarter{}
	locker := &grantOnceLocker{}
	s := testScheduler(jobs, starter, locker)

	now := time.Date(2026, 3, 2, 9, 15, 5, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.fire("j1")
	require.Equal(t, 1, starter.count())

	// A second instance in the same minute loses the lock.
	other := testScheduler(jobs, starter, locker)
	other.now = s.now
	stored, _ := jobs.GetByID(context.Background(), "u1", "j1")
	stored.LastFiredAt = nil
	require.NoError(t, jobs.Update(context.Background(), stored))
	other.fire("j1")
	assert.Equal(t, 1, starter.count())
}

func TestFireSkipsDisabledJob(t *testing.T) {
	jobs := newMemJobStore()
	job := enabledJob("j1")
	job.Enabled = false
	require.NoError(t, jobs.Create(context.Background(), job))
	starter := &countingStarter{}
	s := testScheduler(jobs, starter, nil)

	s.fire("j1")
	assert.Zero(t, starter.count())
}

func TestRegisterRejectsBadCronExpression(t *testing.T) {
	s := testScheduler(newMemJobStore(), &countingStarter{}, nil)
	job := enabledJob("j1")
	job.CronExpr = "not a cron"
	assert.Error(t, s.Register(job))

	job.CronExpr = "*/5 * * * *"
	assert.NoError(t, s.Register(job))
	s.Unregister("j1")
}

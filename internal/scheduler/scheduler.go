// Package scheduler fires strategy runs on cron cadences. Fires are
// at-most-once per instant; missed fires during downtime are not replayed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// RunStarter launches a strategy run. Implemented by *strategy.Service.
type RunStarter interface {
	Start(ctx context.Context, userID, strategyID string, mode domain.StrategyMode) (domain.StrategyRun, error)
}

// Locker serialises a fire across instances. Implemented by the Redis lock
// manager; nil disables cross-instance locking.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// fireLockTTL outlives one firing attempt so a second instance cannot fire
// the same job within the same minute.
const fireLockTTL = 90 * time.Second

// Scheduler owns the cron table and the job registry.
type Scheduler struct {
	jobs    domain.JobStore
	starter RunStarter
	locker  Locker
	logger  *slog.Logger
	now     func() time.Time

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a Scheduler. tz is the cron evaluation timezone; nil means local.
// locker may be nil for single-instance deployments.
func New(jobs domain.JobStore, starter RunStarter, locker Locker, tz *time.Location, logger *slog.Logger) *Scheduler {
	opts := []cron.Option{}
	if tz != nil {
		opts = append(opts, cron.WithLocation(tz))
	}
	return &Scheduler{
		jobs:    jobs,
		starter: starter,
		locker:  locker,
		logger:  logger.With(slog.String("component", "scheduler")),
		now:     time.Now,
		cron:    cron.New(opts...),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads every enabled job into the cron table and begins dispatch.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.jobs.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			s.logger.Warn("skipping job with bad cron expression",
				slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(jobs)))
	return nil
}

// Stop halts dispatch and waits for in-flight fires.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Register adds or replaces a job in the cron table. Disabled jobs are
// removed.
func (s *Scheduler) Register(job domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, job.ID)
	}
	if !job.Enabled {
		return nil
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(job.CronExpr, func() { s.fire(jobID) })
	if err != nil {
		return fmt.Errorf("scheduler: register job %s: %w", job.ID, err)
	}
	s.entries[job.ID] = entryID
	return nil
}

// Unregister removes a job from the cron table.
func (s *Scheduler) Unregister(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[jobID]; ok {
		s.cron.Remove(id)
		delete(s.entries, jobID)
	}
}

// fire executes one scheduled firing. The job is re-read so a concurrent
// disable or delete wins, and the per-minute lock plus the last_fired_at
// check keep the fire at-most-once.
func (s *Scheduler) fire(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	job, err := s.findJob(ctx, jobID)
	if err != nil {
		s.logger.Warn("fire skipped: job unavailable",
			slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	if !job.Enabled {
		return
	}

	instant := s.now().Truncate(time.Minute)
	if job.LastFiredAt != nil && !job.LastFiredAt.Truncate(time.Minute).Before(instant) {
		return
	}

	if s.locker != nil {
		unlock, err := s.locker.Acquire(ctx,
			fmt.Sprintf("sched:%s:%d", job.ID, instant.Unix()), fireLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return
			}
			s.logger.Warn("fire skipped: lock unavailable",
				slog.String("job_id", job.ID), slog.Any("error", err))
			return
		}
		defer unlock()
	}

	fired := s.now()
	job.LastFiredAt = &fired
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Warn("persist last_fired_at failed",
			slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}

	mode := domain.ModeLive
	if m, ok := job.Context["mode"].(string); ok && m != "" {
		mode = domain.StrategyMode(m)
	}

	run, err := s.starter.Start(ctx, job.UserID, job.StrategyID, mode)
	if err != nil {
		s.logger.Warn("scheduled run failed",
			slog.String("job_id", job.ID),
			slog.String("strategy_id", job.StrategyID),
			slog.Any("error", err))
		return
	}
	s.logger.Info("scheduled run fired",
		slog.String("job_id", job.ID),
		slog.String("strategy_run_id", run.ID))
}

// findJob reloads the job by id. JobStore lookups are user-scoped, so the
// enabled list is scanned instead.
func (s *Scheduler) findJob(ctx context.Context, jobID string) (domain.ScheduledJob, error) {
	jobs, err := s.jobs.ListEnabled(ctx)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	for _, j := range jobs {
		if j.ID == jobID {
			return j, nil
		}
	}
	return domain.ScheduledJob{}, domain.ErrNotFound
}

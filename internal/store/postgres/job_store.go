package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// JobStore implements domain.JobStore using PostgreSQL.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new JobStore backed by the given pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

var _ domain.JobStore = (*JobStore)(nil)

// Create inserts a scheduled job.
func (s *JobStore) Create(ctx context.Context, j domain.ScheduledJob) error {
	jctx, err := json.Marshal(orEmpty(j.Context))
	if err != nil {
		return fmt.Errorf("postgres: marshal job context: %w", err)
	}
	const query = `
		INSERT INTO scheduled_jobs (id, user_id, strategy_id, name, cron_expr, enabled, context, last_fired_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		j.ID, j.UserID, j.StrategyID, j.Name, j.CronExpr, j.Enabled, jctx, j.LastFiredAt, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create job %s: %w", j.ID, err)
	}
	return nil
}

// Update rewrites a job's schedule, enablement and last-fired marker.
func (s *JobStore) Update(ctx context.Context, j domain.ScheduledJob) error {
	jctx, err := json.Marshal(orEmpty(j.Context))
	if err != nil {
		return fmt.Errorf("postgres: marshal job context: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET name = $3, cron_expr = $4, enabled = $5, context = $6, last_fired_at = $7
		WHERE id = $1 AND user_id = $2`,
		j.ID, j.UserID, j.Name, j.CronExpr, j.Enabled, jctx, j.LastFiredAt)
	if err != nil {
		return fmt.Errorf("postgres: update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const jobSelectCols = `id, user_id, strategy_id, name, cron_expr, enabled, context, last_fired_at, created_at`

func scanJob(scanner interface{ Scan(dest ...any) error }) (domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	var jctx []byte
	err := scanner.Scan(&j.ID, &j.UserID, &j.StrategyID, &j.Name, &j.CronExpr,
		&j.Enabled, &jctx, &j.LastFiredAt, &j.CreatedAt)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	if len(jctx) > 0 {
		if err := json.Unmarshal(jctx, &j.Context); err != nil {
			return domain.ScheduledJob{}, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return j, nil
}

// GetByID retrieves a job scoped to its owner.
func (s *JobStore) GetByID(ctx context.Context, userID, id string) (domain.ScheduledJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobSelectCols+` FROM scheduled_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScheduledJob{}, domain.ErrNotFound
		}
		return domain.ScheduledJob{}, fmt.Errorf("postgres: get job %s: %w", id, err)
	}
	return j, nil
}

// ListEnabled returns every enabled job across all users, for scheduler boot.
func (s *JobStore) ListEnabled(ctx context.Context) ([]domain.ScheduledJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobSelectCols+` FROM scheduled_jobs WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListByUser returns a user's jobs.
func (s *JobStore) ListByUser(ctx context.Context, userID string) ([]domain.ScheduledJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobSelectCols+` FROM scheduled_jobs WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]domain.ScheduledJob, error) {
	var jobs []domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Delete removes a job.
func (s *JobStore) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scheduled_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

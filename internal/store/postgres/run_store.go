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

// RunStore implements domain.RunStore using PostgreSQL. Terminal runs are
// immutable: Update refuses to touch a row whose stored status is terminal.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

var _ domain.RunStore = (*RunStore)(nil)

// Create inserts a new execution run.
func (s *RunStore) Create(ctx context.Context, r domain.ExecutionRun) error {
	intent, err := json.Marshal(r.Intent)
	if err != nil {
		return fmt.Errorf("postgres: marshal run intent: %w", err)
	}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal run payload: %w", err)
	}

	const query = `
		INSERT INTO execution_runs (
			id, user_id, group_id, strategy_run_id, status,
			intent, payload, requested_at, completed_at
		) VALUES ($1, $2, NULLIF($3, '')::UUID, NULLIF($4, '')::UUID, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.UserID, r.GroupID, r.StrategyRunID, string(r.Status),
		intent, payload, r.RequestedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", r.ID, err)
	}
	return nil
}

// Update rewrites a run's status, payload and latency. A run that is already
// terminal in the database is left untouched and ErrRunTerminal is returned.
func (s *RunStore) Update(ctx context.Context, r domain.ExecutionRun) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal run payload: %w", err)
	}
	var latency []byte
	if r.Latency != nil {
		latency, err = json.Marshal(r.Latency)
		if err != nil {
			return fmt.Errorf("postgres: marshal run latency: %w", err)
		}
	}

	const query = `
		UPDATE execution_runs
		SET status = $2, payload = $3, latency = $4, completed_at = $5
		WHERE id = $1
		  AND status NOT IN ('partial', 'succeeded', 'failed', 'rolled_back')`

	tag, err := s.pool.Exec(ctx, query,
		r.ID, string(r.Status), payload, latency, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: update run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing run from an immutable one.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM execution_runs WHERE id = $1)`, r.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check run %s: %w", r.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrRunTerminal
	}
	return nil
}

const runSelectCols = `id, user_id, COALESCE(group_id::TEXT, ''), COALESCE(strategy_run_id::TEXT, ''),
	status, intent, payload, latency, requested_at, completed_at`

func scanRun(scanner interface{ Scan(dest ...any) error }) (domain.ExecutionRun, error) {
	var r domain.ExecutionRun
	var status string
	var intent, payload, latency []byte
	err := scanner.Scan(
		&r.ID, &r.UserID, &r.GroupID, &r.StrategyRunID,
		&status, &intent, &payload, &latency, &r.RequestedAt, &r.CompletedAt,
	)
	if err != nil {
		return domain.ExecutionRun{}, err
	}
	r.Status = domain.RunStatus(status)
	if len(intent) > 0 {
		if err := json.Unmarshal(intent, &r.Intent); err != nil {
			return domain.ExecutionRun{}, fmt.Errorf("unmarshal intent: %w", err)
		}
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return domain.ExecutionRun{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(latency) > 0 {
		r.Latency = &domain.LatencySummary{}
		if err := json.Unmarshal(latency, r.Latency); err != nil {
			return domain.ExecutionRun{}, fmt.Errorf("unmarshal latency: %w", err)
		}
	}
	return r, nil
}

// GetByID retrieves a single run by id.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.ExecutionRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM execution_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRun{}, domain.ErrNotFound
		}
		return domain.ExecutionRun{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

func (s *RunStore) list(ctx context.Context, where string, key string, opts domain.ListOpts) ([]domain.ExecutionRun, error) {
	query := `SELECT ` + runSelectCols + ` FROM execution_runs WHERE ` + where + ` = $1`
	args := []any{key}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND requested_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND requested_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY requested_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ExecutionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListByGroup returns runs fanned out through one group, newest first.
func (s *RunStore) ListByGroup(ctx context.Context, groupID string, opts domain.ListOpts) ([]domain.ExecutionRun, error) {
	return s.list(ctx, "group_id", groupID, opts)
}

// ListByUser returns a user's runs, newest first.
func (s *RunStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.ExecutionRun, error) {
	return s.list(ctx, "user_id", userID, opts)
}

// CountByUser returns total and failed run counts for a user.
func (s *RunStore) CountByUser(ctx context.Context, userID string) (int64, int64, error) {
	var total, failed int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ('failed', 'rolled_back'))
		FROM execution_runs WHERE user_id = $1`, userID,
	).Scan(&total, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: count runs: %w", err)
	}
	return total, failed, nil
}

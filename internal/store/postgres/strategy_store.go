package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

// Create inserts a new strategy.
func (s *StrategyStore) Create(ctx context.Context, st domain.Strategy) error {
	params, err := json.Marshal(orEmpty(st.Params))
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy params: %w", err)
	}
	const query = `
		INSERT INTO strategies (id, user_id, name, type, status, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`

	_, err = s.pool.Exec(ctx, query,
		st.ID, st.UserID, st.Name, string(st.Type), string(st.Status), params, st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create strategy %s: %w", st.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of a strategy.
func (s *StrategyStore) Update(ctx context.Context, st domain.Strategy) error {
	params, err := json.Marshal(orEmpty(st.Params))
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy params: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies
		SET name = $3, type = $4, status = $5, params = $6, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`,
		st.ID, st.UserID, st.Name, string(st.Type), string(st.Status), params)
	if err != nil {
		return fmt.Errorf("postgres: update strategy %s: %w", st.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanStrategy(scanner interface{ Scan(dest ...any) error }) (domain.Strategy, error) {
	var st domain.Strategy
	var typ, status string
	var params []byte
	err := scanner.Scan(&st.ID, &st.UserID, &st.Name, &typ, &status, &params, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return domain.Strategy{}, err
	}
	st.Type = domain.StrategyType(typ)
	st.Status = domain.StrategyStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &st.Params); err != nil {
			return domain.Strategy{}, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return st, nil
}

const strategySelectCols = `id, user_id, name, type, status, params, created_at, updated_at`

// GetByID retrieves a strategy scoped to its owner.
func (s *StrategyStore) GetByID(ctx context.Context, userID, id string) (domain.Strategy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategySelectCols+` FROM strategies WHERE id = $1 AND user_id = $2`, id, userID)
	st, err := scanStrategy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return st, nil
}

// ListByUser returns all of a user's strategies.
func (s *StrategyStore) ListByUser(ctx context.Context, userID string) ([]domain.Strategy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strategySelectCols+` FROM strategies WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Delete removes a strategy; runs and logs cascade.
func (s *StrategyStore) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM strategies WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete strategy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateRun inserts a new strategy run.
func (s *StrategyStore) CreateRun(ctx context.Context, r domain.StrategyRun) error {
	metrics, err := json.Marshal(orEmpty(r.ResultMetrics))
	if err != nil {
		return fmt.Errorf("postgres: marshal run metrics: %w", err)
	}
	runIDs, err := json.Marshal(orEmptySlice(r.ExecutionRunIDs))
	if err != nil {
		return fmt.Errorf("postgres: marshal run ids: %w", err)
	}
	const query = `
		INSERT INTO strategy_runs (
			id, strategy_id, user_id, mode, status,
			started_at, finished_at, result_metrics, execution_run_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.StrategyID, r.UserID, string(r.Mode), string(r.Status),
		r.StartedAt, r.FinishedAt, metrics, runIDs)
	if err != nil {
		return fmt.Errorf("postgres: create strategy run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRun rewrites a run's status, metrics and linked execution runs.
func (s *StrategyStore) UpdateRun(ctx context.Context, r domain.StrategyRun) error {
	metrics, err := json.Marshal(orEmpty(r.ResultMetrics))
	if err != nil {
		return fmt.Errorf("postgres: marshal run metrics: %w", err)
	}
	runIDs, err := json.Marshal(orEmptySlice(r.ExecutionRunIDs))
	if err != nil {
		return fmt.Errorf("postgres: marshal run ids: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategy_runs
		SET status = $2, finished_at = $3, result_metrics = $4, execution_run_ids = $5
		WHERE id = $1`,
		r.ID, string(r.Status), r.FinishedAt, metrics, runIDs)
	if err != nil {
		return fmt.Errorf("postgres: update strategy run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanStrategyRun(scanner interface{ Scan(dest ...any) error }) (domain.StrategyRun, error) {
	var r domain.StrategyRun
	var mode, status string
	var metrics, runIDs []byte
	err := scanner.Scan(&r.ID, &r.StrategyID, &r.UserID, &mode, &status,
		&r.StartedAt, &r.FinishedAt, &metrics, &runIDs)
	if err != nil {
		return domain.StrategyRun{}, err
	}
	r.Mode = domain.StrategyMode(mode)
	r.Status = domain.StrategyRunStatus(status)
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &r.ResultMetrics); err != nil {
			return domain.StrategyRun{}, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	if len(runIDs) > 0 {
		if err := json.Unmarshal(runIDs, &r.ExecutionRunIDs); err != nil {
			return domain.StrategyRun{}, fmt.Errorf("unmarshal run ids: %w", err)
		}
	}
	return r, nil
}

const strategyRunSelectCols = `id, strategy_id, user_id, mode, status,
	started_at, finished_at, result_metrics, execution_run_ids`

// GetRun retrieves a single strategy run.
func (s *StrategyStore) GetRun(ctx context.Context, id string) (domain.StrategyRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategyRunSelectCols+` FROM strategy_runs WHERE id = $1`, id)
	r, err := scanStrategyRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StrategyRun{}, domain.ErrNotFound
		}
		return domain.StrategyRun{}, fmt.Errorf("postgres: get strategy run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns a strategy's runs, newest first.
func (s *StrategyStore) ListRuns(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.StrategyRun, error) {
	query := `SELECT ` + strategyRunSelectCols + ` FROM strategy_runs WHERE strategy_id = $1 ORDER BY started_at DESC`
	args := []any{strategyID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.StrategyRun
	for rows.Next() {
		r, err := scanStrategyRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountRecentFailures counts failed runs inside the trailing window, for the
// runner's error-window stop rule.
func (s *StrategyStore) CountRecentFailures(ctx context.Context, strategyID string, window time.Duration) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM strategy_runs
		WHERE strategy_id = $1 AND status = 'failed' AND started_at >= $2`,
		strategyID, time.Now().Add(-window),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count recent failures: %w", err)
	}
	return n, nil
}

// AppendLog records one strategy log line.
func (s *StrategyStore) AppendLog(ctx context.Context, l domain.StrategyLog) error {
	lctx, err := json.Marshal(orEmpty(l.Context))
	if err != nil {
		return fmt.Errorf("postgres: marshal log context: %w", err)
	}
	const query = `
		INSERT INTO strategy_logs (id, strategy_id, run_id, level, message, context, created_at)
		VALUES ($1, $2, NULLIF($3, '')::UUID, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, query,
		l.ID, l.StrategyID, l.RunID, string(l.Level), l.Message, lctx, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append strategy log: %w", err)
	}
	return nil
}

// ListLogs returns a strategy's logs, newest first.
func (s *StrategyStore) ListLogs(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.StrategyLog, error) {
	query := `
		SELECT id, strategy_id, COALESCE(run_id::TEXT, ''), level, message, context, created_at
		FROM strategy_logs WHERE strategy_id = $1 ORDER BY created_at DESC`
	args := []any{strategyID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.StrategyLog
	for rows.Next() {
		var l domain.StrategyLog
		var level string
		var lctx []byte
		if err := rows.Scan(&l.ID, &l.StrategyID, &l.RunID, &level, &l.Message, &lctx, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy log: %w", err)
		}
		l.Level = domain.StrategyLogLevel(level)
		if len(lctx) > 0 {
			if err := json.Unmarshal(lctx, &l.Context); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal log context: %w", err)
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

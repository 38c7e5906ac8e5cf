package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Events are
// append-only; the per-run sequence is assigned inside the insert so readers
// always see a gap-free monotonic order.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

var _ domain.EventStore = (*EventStore)(nil)

// Append inserts an event with the next sequence number for its run. A
// concurrent append for the same run can collide on (run_id, seq); the insert
// is retried a few times before giving up.
func (s *EventStore) Append(ctx context.Context, e domain.ExecutionEvent) (domain.ExecutionEvent, error) {
	metadata, err := json.Marshal(orEmpty(e.Metadata))
	if err != nil {
		return domain.ExecutionEvent{}, fmt.Errorf("postgres: marshal event metadata: %w", err)
	}

	const query = `
		INSERT INTO execution_events (
			id, run_id, seq, account_id, broker_link_id, order_id,
			status, requested_at, completed_at, latency_ms, message, metadata
		) VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM execution_events WHERE run_id = $2),
			NULLIF($3, '')::UUID, NULLIF($4, '')::UUID, $5,
			$6, $7, $8, $9, $10, $11
		)
		RETURNING seq`

	for attempt := 0; attempt < 5; attempt++ {
		err = s.pool.QueryRow(ctx, query,
			e.ID, e.RunID, e.AccountID, e.BrokerLinkID, e.OrderID,
			string(e.Status), e.RequestedAt, e.CompletedAt, e.LatencyMs, e.Message, metadata,
		).Scan(&e.Seq)
		if err == nil {
			return e, nil
		}
		if !isUniqueViolation(err) {
			break
		}
	}
	return domain.ExecutionEvent{}, fmt.Errorf("postgres: append event for run %s: %w", e.RunID, err)
}

// ListByRun returns a run's events in sequence order.
func (s *EventStore) ListByRun(ctx context.Context, runID string) ([]domain.ExecutionEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, seq, COALESCE(account_id::TEXT, ''), COALESCE(broker_link_id::TEXT, ''),
		       order_id, status, requested_at, completed_at, latency_ms, message, metadata
		FROM execution_events
		WHERE run_id = $1
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []domain.ExecutionEvent
	for rows.Next() {
		var e domain.ExecutionEvent
		var status string
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.AccountID, &e.BrokerLinkID,
			&e.OrderID, &status, &e.RequestedAt, &e.CompletedAt, &e.LatencyMs, &e.Message, &metadata); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Status = domain.EventStatus(status)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Latencies returns the recorded leg latencies for a user's runs, for
// percentile aggregation.
func (s *EventStore) Latencies(ctx context.Context, userID string, opts domain.ListOpts) ([]float64, error) {
	query := `
		SELECT e.latency_ms
		FROM execution_events e
		JOIN execution_runs r ON r.id = e.run_id
		WHERE r.user_id = $1 AND e.latency_ms IS NOT NULL`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND e.requested_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND e.requested_at <= $%d", argIdx)
		args = append(args, *opts.Until)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list latencies: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("postgres: scan latency: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// StatusCounts returns per-status leg counts for a user's runs.
func (s *EventStore) StatusCounts(ctx context.Context, userID string, opts domain.ListOpts) (map[domain.EventStatus]int64, error) {
	query := `
		SELECT e.status, COUNT(*)
		FROM execution_events e
		JOIN execution_runs r ON r.id = e.run_id
		WHERE r.user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND e.requested_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND e.requested_at <= $%d", argIdx)
		args = append(args, *opts.Until)
	}
	query += " GROUP BY e.status"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: count event statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan status count: %w", err)
		}
		counts[domain.EventStatus(status)] = n
	}
	return counts, rows.Err()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

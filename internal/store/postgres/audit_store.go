package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. The log is
// append-only.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

var _ domain.AuditStore = (*AuditStore)(nil)

// Log appends one audit record.
func (s *AuditStore) Log(ctx context.Context, userID, event string, detail map[string]any) error {
	payload, err := json.Marshal(orEmpty(detail))
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (user_id, event, detail)
		VALUES (NULLIF($1, '')::UUID, $2, $3)`,
		userID, event, payload)
	if err != nil {
		return fmt.Errorf("postgres: append audit log: %w", err)
	}
	return nil
}

// List returns a user's audit records, newest first.
func (s *AuditStore) List(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `
		SELECT id, COALESCE(user_id::TEXT, ''), event, detail, created_at
		FROM audit_log WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit log: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

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

// ConnectorStore implements domain.ConnectorStore using PostgreSQL.
type ConnectorStore struct {
	pool *pgxpool.Pool
}

// NewConnectorStore creates a new ConnectorStore backed by the given pool.
func NewConnectorStore(pool *pgxpool.Pool) *ConnectorStore {
	return &ConnectorStore{pool: pool}
}

var _ domain.ConnectorStore = (*ConnectorStore)(nil)

// Create inserts a webhook connector.
func (s *ConnectorStore) Create(ctx context.Context, c domain.WebhookConnector) error {
	transform, err := json.Marshal(orEmptyStrMap(c.Transform))
	if err != nil {
		return fmt.Errorf("postgres: marshal connector transform: %w", err)
	}
	const query = `
		INSERT INTO webhook_connectors (id, user_id, strategy_id, token, transform, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.UserID, c.StrategyID, c.Token, transform, c.Enabled, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create connector %s: %w", c.ID, err)
	}
	return nil
}

const connectorSelectCols = `id, user_id, strategy_id, token, transform, enabled, created_at`

func scanConnector(scanner interface{ Scan(dest ...any) error }) (domain.WebhookConnector, error) {
	var c domain.WebhookConnector
	var transform []byte
	err := scanner.Scan(&c.ID, &c.UserID, &c.StrategyID, &c.Token, &transform, &c.Enabled, &c.CreatedAt)
	if err != nil {
		return domain.WebhookConnector{}, err
	}
	if len(transform) > 0 {
		if err := json.Unmarshal(transform, &c.Transform); err != nil {
			return domain.WebhookConnector{}, fmt.Errorf("unmarshal transform: %w", err)
		}
	}
	return c, nil
}

// GetByToken retrieves a connector by its bearer token.
func (s *ConnectorStore) GetByToken(ctx context.Context, token string) (domain.WebhookConnector, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectorSelectCols+` FROM webhook_connectors WHERE token = $1`, token)
	c, err := scanConnector(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookConnector{}, domain.ErrNotFound
		}
		return domain.WebhookConnector{}, fmt.Errorf("postgres: get connector by token: %w", err)
	}
	return c, nil
}

// ListByUser returns a user's connectors.
func (s *ConnectorStore) ListByUser(ctx context.Context, userID string) ([]domain.WebhookConnector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+connectorSelectCols+` FROM webhook_connectors WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list connectors: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookConnector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan connector: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a connector.
func (s *ConnectorStore) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_connectors WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete connector %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func orEmptyStrMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// GroupStore implements domain.GroupStore using PostgreSQL.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a new GroupStore backed by the given pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

var _ domain.GroupStore = (*GroupStore)(nil)

// Create inserts a new execution group.
func (s *GroupStore) Create(ctx context.Context, g domain.ExecutionGroup) error {
	const query = `
		INSERT INTO execution_groups (
			id, user_id, name, description, mode,
			rollback_on_partial, stagger_delay_ms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	_, err := s.pool.Exec(ctx, query,
		g.ID, g.UserID, g.Name, g.Description, string(g.Mode),
		g.RollbackOnPartial, g.StaggerDelayMs, g.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create group %s: %w", g.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of a group.
func (s *GroupStore) Update(ctx context.Context, g domain.ExecutionGroup) error {
	const query = `
		UPDATE execution_groups
		SET name = $3, description = $4, mode = $5,
		    rollback_on_partial = $6, stagger_delay_ms = $7, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`

	tag, err := s.pool.Exec(ctx, query,
		g.ID, g.UserID, g.Name, g.Description, string(g.Mode),
		g.RollbackOnPartial, g.StaggerDelayMs,
	)
	if err != nil {
		return fmt.Errorf("postgres: update group %s: %w", g.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const groupSelectCols = `id, user_id, name, description, mode,
	rollback_on_partial, stagger_delay_ms, created_at, updated_at`

func scanGroup(scanner interface{ Scan(dest ...any) error }) (domain.ExecutionGroup, error) {
	var g domain.ExecutionGroup
	var mode string
	err := scanner.Scan(
		&g.ID, &g.UserID, &g.Name, &g.Description, &mode,
		&g.RollbackOnPartial, &g.StaggerDelayMs, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return domain.ExecutionGroup{}, err
	}
	g.Mode = domain.ExecutionMode(mode)
	return g, nil
}

// GetByID retrieves a group scoped to its owner.
func (s *GroupStore) GetByID(ctx context.Context, userID, id string) (domain.ExecutionGroup, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+groupSelectCols+` FROM execution_groups WHERE id = $1 AND user_id = $2`, id, userID)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionGroup{}, domain.ErrNotFound
		}
		return domain.ExecutionGroup{}, fmt.Errorf("postgres: get group %s: %w", id, err)
	}
	return g, nil
}

// ListByUser returns all of a user's groups.
func (s *GroupStore) ListByUser(ctx context.Context, userID string) ([]domain.ExecutionGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupSelectCols+` FROM execution_groups WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.ExecutionGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Delete removes a group and its mappings.
func (s *GroupStore) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM execution_groups WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete group %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddMapping binds an account into a group. The mapping's position is
// assigned as the next slot when left at zero with existing mappings.
func (s *GroupStore) AddMapping(ctx context.Context, m domain.GroupAccountMapping) error {
	const query = `
		INSERT INTO group_account_mappings (
			id, group_id, account_id, policy, weight, fixed_lots, position, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			CASE WHEN $7 > 0 THEN $7
			     ELSE COALESCE((SELECT MAX(position) + 1 FROM group_account_mappings WHERE group_id = $2), 0)
			END,
			$8
		)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.GroupID, m.AccountID, string(m.Policy),
		m.Weight, m.FixedLots, m.Position, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: add mapping %s: %w", m.ID, err)
	}
	return nil
}

// UpdateMapping rewrites the policy fields of a mapping.
func (s *GroupStore) UpdateMapping(ctx context.Context, m domain.GroupAccountMapping) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE group_account_mappings
		SET policy = $3, weight = $4, fixed_lots = $5
		WHERE id = $1 AND group_id = $2`,
		m.ID, m.GroupID, string(m.Policy), m.Weight, m.FixedLots)
	if err != nil {
		return fmt.Errorf("postgres: update mapping %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RemoveMapping detaches an account from a group.
func (s *GroupStore) RemoveMapping(ctx context.Context, groupID, mappingID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM group_account_mappings WHERE id = $1 AND group_id = $2`, mappingID, groupID)
	if err != nil {
		return fmt.Errorf("postgres: remove mapping %s: %w", mappingID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListMappings returns a group's mappings in stable position order.
func (s *GroupStore) ListMappings(ctx context.Context, groupID string) ([]domain.GroupAccountMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, account_id, policy, weight, fixed_lots, position, created_at
		FROM group_account_mappings
		WHERE group_id = $1
		ORDER BY position, created_at`, groupID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []domain.GroupAccountMapping
	for rows.Next() {
		var m domain.GroupAccountMapping
		var policy string
		if err := rows.Scan(&m.ID, &m.GroupID, &m.AccountID, &policy,
			&m.Weight, &m.FixedLots, &m.Position, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan mapping: %w", err)
		}
		m.Policy = domain.AllocationPolicy(policy)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

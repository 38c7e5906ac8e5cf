package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// VaultStore implements domain.VaultStore using PostgreSQL. Rows hold only
// ciphertext; the vault package owns the cipher.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore creates a new VaultStore backed by the given pool.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

var _ domain.VaultStore = (*VaultStore)(nil)

// Put inserts or replaces the ciphertext for a broker link.
func (s *VaultStore) Put(ctx context.Context, linkID string, ciphertext []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vault_blobs (broker_link_id, ciphertext, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (broker_link_id) DO UPDATE
		SET ciphertext = EXCLUDED.ciphertext, updated_at = NOW()`,
		linkID, ciphertext)
	if err != nil {
		return fmt.Errorf("postgres: put vault blob for link %s: %w", linkID, err)
	}
	return nil
}

// Get returns the ciphertext for a broker link.
func (s *VaultStore) Get(ctx context.Context, linkID string) ([]byte, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT ciphertext FROM vault_blobs WHERE broker_link_id = $1`, linkID,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get vault blob for link %s: %w", linkID, err)
	}
	return blob, nil
}

// Delete removes the ciphertext for a broker link.
func (s *VaultStore) Delete(ctx context.Context, linkID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM vault_blobs WHERE broker_link_id = $1`, linkID)
	if err != nil {
		return fmt.Errorf("postgres: delete vault blob for link %s: %w", linkID, err)
	}
	return nil
}

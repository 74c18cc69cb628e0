package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/splax/pagesmith/internal/domain"
)

const (
	keyPoolStateSelect = `SELECT state FROM key_pool_state WHERE id = 1`
	keyPoolStateUpsert = `INSERT INTO key_pool_state (id, state, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`
)

// LoadPoolState reads the singleton key pool row. A missing row yields nil state.
func (r *Repository) LoadPoolState(ctx context.Context) (*domain.KeyPoolState, error) {
	var raw []byte
	if err := r.pool.QueryRow(ctx, keyPoolStateSelect).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var state domain.KeyPoolState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode key pool state: %w", err)
	}
	return &state, nil
}

// SavePoolState overwrites the singleton key pool row.
func (r *Repository) SavePoolState(ctx context.Context, state domain.KeyPoolState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode key pool state: %w", err)
	}
	_, err = r.pool.Exec(ctx, keyPoolStateUpsert, raw)
	return err
}

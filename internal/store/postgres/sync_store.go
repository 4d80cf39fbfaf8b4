package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// SyncStore reads the singleton ingestion checkpoint. The row is written only
// by IngestStore, inside the same transaction as the trades it covers.
type SyncStore struct {
	pool *pgxpool.Pool
}

// NewSyncStore creates a new SyncStore backed by the given connection pool.
func NewSyncStore(pool *pgxpool.Pool) *SyncStore {
	return &SyncStore{pool: pool}
}

// Get returns the persisted sync state, or domain.ErrNotFound before the
// first window has ever been committed.
func (s *SyncStore) Get(ctx context.Context) (domain.SyncState, error) {
	var st domain.SyncState
	err := s.pool.QueryRow(ctx,
		`SELECT last_block_processed, last_update_time, monitor_id FROM sync_state WHERE id = 1`,
	).Scan(&st.LastBlockProcessed, &st.LastUpdateTime, &st.MonitorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SyncState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("postgres: get sync state: %w", err)
	}
	return st, nil
}

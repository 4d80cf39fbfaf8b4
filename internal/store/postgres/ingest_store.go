package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// IngestStore implements domain.Ingester. One scanned sub-window becomes one
// transaction: idempotent trade inserts, position-ledger updates for the
// trades that were actually new, and the cursor advance — all or nothing, so
// the persisted cursor can never run ahead of the trades it covers.
type IngestStore struct {
	pool      *pgxpool.Pool
	bands     domain.SettlementBands
	monitorID string
}

// NewIngestStore creates an IngestStore. monitorID identifies this process
// instance in the sync_state row.
func NewIngestStore(pool *pgxpool.Pool, bands domain.SettlementBands, monitorID string) *IngestStore {
	return &IngestStore{pool: pool, bands: bands, monitorID: monitorID}
}

const insertTradeSQL = `
	INSERT INTO trades (
		tx_hash, log_index, block_number, block_time,
		account, counterparty, role, contract, asset_id, side,
		amount, price, fee, maker_amount_raw, taker_amount_raw,
		gas_used, gas_price, status, ingested_at, capture_delay_seconds
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20
	) ON CONFLICT (tx_hash, log_index) DO NOTHING`

const upsertPositionSQL = `
	INSERT INTO positions (
		account, asset_id, current_position, total_bought, total_sold,
		avg_buy_price, total_buy_value, total_sell_value, realized_pnl,
		status, settlement_price, settled_at, is_complete,
		first_trade_at, last_trade_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9,
		$10, $11, $12, $13,
		$14, $15, NOW()
	) ON CONFLICT (account, asset_id) DO UPDATE SET
		current_position = EXCLUDED.current_position,
		total_bought = EXCLUDED.total_bought,
		total_sold = EXCLUDED.total_sold,
		avg_buy_price = EXCLUDED.avg_buy_price,
		total_buy_value = EXCLUDED.total_buy_value,
		total_sell_value = EXCLUDED.total_sell_value,
		realized_pnl = EXCLUDED.realized_pnl,
		status = EXCLUDED.status,
		settlement_price = EXCLUDED.settlement_price,
		settled_at = EXCLUDED.settled_at,
		is_complete = EXCLUDED.is_complete,
		first_trade_at = EXCLUDED.first_trade_at,
		last_trade_at = EXCLUDED.last_trade_at,
		updated_at = NOW()`

// advanceCursorSQL keeps last_block_processed monotonically non-decreasing
// even if an older window is ever replayed.
const advanceCursorSQL = `
	INSERT INTO sync_state (id, last_block_processed, last_update_time, monitor_id)
	VALUES (1, $1, NOW(), $2)
	ON CONFLICT (id) DO UPDATE SET
		last_block_processed = GREATEST(sync_state.last_block_processed, EXCLUDED.last_block_processed),
		last_update_time = NOW(),
		monitor_id = EXCLUDED.monitor_id`

// CommitWindow stores trades and advances the cursor atomically. Duplicate
// trades (same tx_hash + log_index) are no-ops and do not re-trigger ledger
// updates. The returned slice holds only the trades stored for the first time.
func (s *IngestStore) CommitWindow(ctx context.Context, trades []domain.Trade, cursor uint64) ([]domain.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin ingest tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stored []domain.Trade
	for _, t := range trades {
		tag, err := tx.Exec(ctx, insertTradeSQL,
			t.TxHash, t.LogIndex, t.BlockNumber, t.BlockTime,
			t.Account, t.Counterparty, string(t.Role), string(t.Contract), t.AssetID, string(t.Side),
			t.Amount, t.Price, t.Fee, t.MakerAmountRaw, t.TakerAmountRaw,
			t.GasUsed, t.GasPrice, t.Status, t.IngestedAt, int64(t.CaptureDelay.Seconds()),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert trade %s/%d: %w", t.TxHash, t.LogIndex, err)
		}
		if tag.RowsAffected() == 0 {
			continue // duplicate: expected outcome of at-least-once re-scanning
		}

		if t.Side != domain.SideUnknown {
			if err := s.applyToLedger(ctx, tx, t); err != nil {
				return nil, fmt.Errorf("postgres: apply trade %s/%d to ledger: %w", t.TxHash, t.LogIndex, err)
			}
		}
		stored = append(stored, t)
	}

	if _, err := tx.Exec(ctx, advanceCursorSQL, int64(cursor), s.monitorID); err != nil {
		return nil, fmt.Errorf("postgres: advance cursor to %d: %w", cursor, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit ingest tx: %w", err)
	}
	return stored, nil
}

// applyToLedger folds one newly stored trade into its (account, asset)
// position inside the ingest transaction.
func (s *IngestStore) applyToLedger(ctx context.Context, tx pgx.Tx, t domain.Trade) error {
	row := tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE account = $1 AND asset_id = $2 FOR UPDATE`,
		t.Account, t.AssetID)

	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		pos = domain.NewPosition(t.Account, t.AssetID)
	} else if err != nil {
		return fmt.Errorf("load position: %w", err)
	}

	pos = pos.Apply(t, s.bands)

	_, err = tx.Exec(ctx, upsertPositionSQL,
		pos.Account, pos.AssetID, pos.CurrentPosition, pos.TotalBought, pos.TotalSold,
		pos.AvgBuyPrice, pos.TotalBuyValue, pos.TotalSellValue, pos.RealizedPnL,
		string(pos.Status), pos.SettlementPrice, pos.SettledAt, pos.IsComplete,
		pos.FirstTradeAt, pos.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

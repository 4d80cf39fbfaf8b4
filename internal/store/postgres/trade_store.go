package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. It is read-only:
// inserts go through IngestStore so they stay atomic with ledger updates and
// the cursor advance.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, tx_hash, log_index, block_number, block_time,
	account, counterparty, role, contract, asset_id, side,
	amount, price, fee, maker_amount_raw, taker_amount_raw,
	gas_used, gas_price, status, ingested_at, capture_delay_seconds`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var role, contract, side string
		var delaySeconds int64
		if err := rows.Scan(
			&t.ID, &t.TxHash, &t.LogIndex, &t.BlockNumber, &t.BlockTime,
			&t.Account, &t.Counterparty, &role, &contract, &t.AssetID, &side,
			&t.Amount, &t.Price, &t.Fee, &t.MakerAmountRaw, &t.TakerAmountRaw,
			&t.GasUsed, &t.GasPrice, &t.Status, &t.IngestedAt, &delaySeconds,
		); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		t.Contract = domain.ContractVariant(contract)
		t.Side = domain.Side(side)
		t.CaptureDelay = time.Duration(delaySeconds) * time.Second
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListByAccount returns trades for a watched account, newest first, with
// pagination and optional time filtering.
func (s *TradeStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.list(ctx, "account = $1", account, opts)
}

// ListByAsset returns trades touching one asset, newest first.
func (s *TradeStore) ListByAsset(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.list(ctx, "asset_id = $1", assetID, opts)
}

func (s *TradeStore) list(ctx context.Context, where, arg string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ` + where
	args := []any{arg}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND block_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND block_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY block_number DESC, log_index DESC"

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
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trades with block_time strictly before the given
// time, oldest first (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE block_time < $1 ORDER BY block_number ASC, log_index ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// Count returns the total number of stored trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}

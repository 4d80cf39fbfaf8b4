package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Writes go
// through IngestStore.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, account, asset_id, current_position,
	total_bought, total_sold, avg_buy_price, total_buy_value, total_sell_value,
	realized_pnl, status, settlement_price, settled_at, is_complete,
	first_trade_at, last_trade_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	err := row.Scan(
		&p.ID, &p.Account, &p.AssetID, &p.CurrentPosition,
		&p.TotalBought, &p.TotalSold, &p.AvgBuyPrice, &p.TotalBuyValue, &p.TotalSellValue,
		&p.RealizedPnL, &status, &p.SettlementPrice, &p.SettledAt, &p.IsComplete,
		&p.FirstTradeAt, &p.LastTradeAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Get returns the position for one (account, asset) pair, or
// domain.ErrNotFound when no trade has touched it yet.
func (s *PositionStore) Get(ctx context.Context, account, assetID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE account = $1 AND asset_id = $2`,
		account, assetID)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// ListByAccount returns all positions of one account, most recently traded first.
func (s *PositionStore) ListByAccount(ctx context.Context, account string) ([]domain.Position, error) {
	return s.listWhere(ctx, "account = $1", account)
}

// ListActive returns every position with status 'active'.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	return s.listWhere(ctx, "status = $1", string(domain.PositionStatusActive))
}

// ListIncomplete returns positions flagged as incomplete (a sell exceeded
// bought-to-date quantity), for the backfill tooling.
func (s *PositionStore) ListIncomplete(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE NOT is_complete ORDER BY last_trade_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list incomplete positions: %w", err)
	}
	defer rows.Close()
	return scanPositionRows(rows)
}

func (s *PositionStore) listWhere(ctx context.Context, where string, arg string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE `+where+` ORDER BY last_trade_at DESC`,
		arg)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()
	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

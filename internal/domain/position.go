package domain

import "time"

// PositionStatus tracks the lifecycle of a per-(account, asset) position.
type PositionStatus string

const (
	PositionStatusActive      PositionStatus = "active"
	PositionStatusClosed      PositionStatus = "closed"
	PositionStatusSettledWin  PositionStatus = "settled_win"
	PositionStatusSettledLoss PositionStatus = "settled_loss"
)

// positionEpsilon absorbs float accumulation noise when deciding whether a
// position has returned to flat.
const positionEpsilon = 1e-4

// SettlementBands holds the sell-price thresholds that classify a sell as a
// binary-market settlement. A sell at or above Win settles the position as a
// win (effective price 1.0); a sell at or below Loss settles it as a loss
// (effective price 0.0).
type SettlementBands struct {
	Win  float64
	Loss float64
}

// DefaultSettlementBands matches near-certain binary-market resolution.
var DefaultSettlementBands = SettlementBands{Win: 0.95, Loss: 0.05}

// Position is the per-(account, asset) aggregate derived purely from the
// trade stream. It is never deleted; terminal-looking statuses still accept
// further trades.
type Position struct {
	ID      int64
	Account string
	AssetID string

	CurrentPosition float64 // always TotalBought - TotalSold
	TotalBought     float64
	TotalSold       float64
	AvgBuyPrice     float64 // quantity-weighted; meaningless while TotalBought == 0
	TotalBuyValue   float64
	TotalSellValue  float64
	RealizedPnL     float64

	Status          PositionStatus
	SettlementPrice *float64
	SettledAt       *time.Time

	// IsComplete turns false when a sell exceeds bought-to-date quantity,
	// meaning some earlier buy predates monitoring. Derived averages and PnL
	// are provisional from then on. It is never cleared automatically.
	IsComplete bool

	FirstTradeAt time.Time
	LastTradeAt  time.Time
	UpdatedAt    time.Time
}

// NewPosition returns the empty aggregate for an (account, asset) pair.
func NewPosition(account, assetID string) Position {
	return Position{
		Account:    account,
		AssetID:    assetID,
		Status:     PositionStatusActive,
		IsComplete: true,
	}
}

// Apply folds one trade into the position and returns the updated aggregate.
// It is a pure reducer: replaying the same trade sequence always produces the
// same position. Trades with Side == SideUnknown leave the position untouched.
func (p Position) Apply(t Trade, bands SettlementBands) Position {
	switch t.Side {
	case SideBuy:
		p.TotalBought += t.Amount
		p.TotalBuyValue += t.Amount * t.Price
		if p.TotalBought > 0 {
			p.AvgBuyPrice = p.TotalBuyValue / p.TotalBought
		}
		p.CurrentPosition = p.TotalBought - p.TotalSold
		if p.CurrentPosition > positionEpsilon {
			p.Status = PositionStatusActive
		}
	case SideSell:
		p.TotalSold += t.Amount
		p.TotalSellValue += t.Amount * t.Price
		if p.TotalBought > 0 {
			p.RealizedPnL += t.Amount * (t.Price - p.AvgBuyPrice)
		}
		p.CurrentPosition = p.TotalBought - p.TotalSold

		if p.CurrentPosition < -positionEpsilon {
			p.IsComplete = false
		}

		switch {
		case t.Price >= bands.Win:
			p.Status = PositionStatusSettledWin
			p.SettlementPrice = ptr(1.0)
			p.SettledAt = ptr(t.BlockTime)
		case t.Price <= bands.Loss:
			p.Status = PositionStatusSettledLoss
			p.SettlementPrice = ptr(0.0)
			p.SettledAt = ptr(t.BlockTime)
		case p.CurrentPosition <= positionEpsilon && p.CurrentPosition >= -positionEpsilon &&
			p.Status == PositionStatusActive:
			p.Status = PositionStatusClosed
		}
	default:
		return p
	}

	if p.FirstTradeAt.IsZero() {
		p.FirstTradeAt = t.BlockTime
	}
	p.LastTradeAt = t.BlockTime
	return p
}

func ptr[T any](v T) *T { return &v }

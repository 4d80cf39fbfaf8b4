package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buy(amount, price float64, at time.Time) Trade {
	return Trade{Side: SideBuy, Amount: amount, Price: price, BlockTime: at}
}

func sell(amount, price float64, at time.Time) Trade {
	return Trade{Side: SideSell, Amount: amount, Price: price, BlockTime: at}
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestApplyBuyAccumulates(t *testing.T) {
	p := NewPosition("0xabc", "42")
	p = p.Apply(buy(100, 0.60, t0), DefaultSettlementBands)
	p = p.Apply(buy(50, 0.30, t0.Add(time.Minute)), DefaultSettlementBands)

	assert.InDelta(t, 150, p.TotalBought, 1e-9)
	assert.InDelta(t, 150, p.CurrentPosition, 1e-9)
	assert.InDelta(t, 75, p.TotalBuyValue, 1e-9) // 60 + 15
	assert.InDelta(t, 0.5, p.AvgBuyPrice, 1e-9)
	assert.Equal(t, PositionStatusActive, p.Status)
	assert.True(t, p.IsComplete)
	assert.Equal(t, t0, p.FirstTradeAt)
	assert.Equal(t, t0.Add(time.Minute), p.LastTradeAt)
}

func TestApplySellRealizesPnL(t *testing.T) {
	p := NewPosition("0xabc", "42")
	p = p.Apply(buy(100, 0.50, t0), DefaultSettlementBands)
	p = p.Apply(sell(40, 0.70, t0.Add(time.Minute)), DefaultSettlementBands)

	assert.InDelta(t, 60, p.CurrentPosition, 1e-9)
	assert.InDelta(t, 40*(0.70-0.50), p.RealizedPnL, 1e-9)
	assert.Equal(t, PositionStatusActive, p.Status)
	assert.Nil(t, p.SettlementPrice)
}

func TestApplySettlementClassification(t *testing.T) {
	tests := []struct {
		name       string
		sellPrice  float64
		wantStatus PositionStatus
		wantSettle *float64
	}{
		{"sell at 0.97 settles as win", 0.97, PositionStatusSettledWin, ptr(1.0)},
		{"sell at exactly 0.95 settles as win", 0.95, PositionStatusSettledWin, ptr(1.0)},
		{"sell at 0.02 settles as loss", 0.02, PositionStatusSettledLoss, ptr(0.0)},
		{"sell at exactly 0.05 settles as loss", 0.05, PositionStatusSettledLoss, ptr(0.0)},
		{"sell at 0.50 does not settle", 0.50, PositionStatusClosed, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPosition("0xabc", "42")
			p = p.Apply(buy(100, 0.40, t0), DefaultSettlementBands)
			p = p.Apply(sell(100, tt.sellPrice, t0.Add(time.Hour)), DefaultSettlementBands)

			assert.Equal(t, tt.wantStatus, p.Status)
			if tt.wantSettle == nil {
				assert.Nil(t, p.SettlementPrice)
				assert.Nil(t, p.SettledAt)
			} else {
				require.NotNil(t, p.SettlementPrice)
				assert.Equal(t, *tt.wantSettle, *p.SettlementPrice)
				require.NotNil(t, p.SettledAt)
				assert.Equal(t, t0.Add(time.Hour), *p.SettledAt)
			}
		})
	}
}

func TestApplySettlementOnPartialExit(t *testing.T) {
	// Settlement classification depends on the sell price alone, not on the
	// position returning to flat.
	p := NewPosition("0xabc", "42")
	p = p.Apply(buy(100, 0.40, t0), DefaultSettlementBands)
	p = p.Apply(sell(30, 0.96, t0.Add(time.Hour)), DefaultSettlementBands)

	assert.Equal(t, PositionStatusSettledWin, p.Status)
	assert.InDelta(t, 70, p.CurrentPosition, 1e-9)
}

func TestApplyOversellMarksIncomplete(t *testing.T) {
	p := NewPosition("0xabc", "42")
	p = p.Apply(sell(50, 0.60, t0), DefaultSettlementBands)

	assert.False(t, p.IsComplete)
	assert.InDelta(t, -50, p.CurrentPosition, 1e-9)
	// Nothing was bought inside the window, so no PnL can be attributed.
	assert.Zero(t, p.RealizedPnL)

	// A later buy never clears the flag.
	p = p.Apply(buy(100, 0.55, t0.Add(time.Minute)), DefaultSettlementBands)
	assert.False(t, p.IsComplete)
	assert.InDelta(t, 50, p.CurrentPosition, 1e-9)
}

func TestApplyReopenAfterClose(t *testing.T) {
	p := NewPosition("0xabc", "42")
	p = p.Apply(buy(10, 0.50, t0), DefaultSettlementBands)
	p = p.Apply(sell(10, 0.60, t0.Add(time.Minute)), DefaultSettlementBands)
	require.Equal(t, PositionStatusClosed, p.Status)

	p = p.Apply(buy(5, 0.30, t0.Add(2*time.Minute)), DefaultSettlementBands)
	assert.Equal(t, PositionStatusActive, p.Status)
	assert.InDelta(t, 5, p.CurrentPosition, 1e-9)
}

func TestApplyUnknownSideIsNoop(t *testing.T) {
	p := NewPosition("0xabc", "42")
	p = p.Apply(buy(10, 0.50, t0), DefaultSettlementBands)
	before := p

	p = p.Apply(Trade{Side: SideUnknown, Amount: 99, Price: 0.99, BlockTime: t0.Add(time.Minute)}, DefaultSettlementBands)
	assert.Equal(t, before, p)
}

func TestApplyFullLifecycle(t *testing.T) {
	// Two buys at different prices, then a settlement sell of the whole
	// position at 0.98.
	p := NewPosition("0xabc", "42")
	p = p.Apply(buy(10, 0.40, t0), DefaultSettlementBands)
	p = p.Apply(buy(10, 0.50, t0.Add(time.Minute)), DefaultSettlementBands)

	// Weighted average entry: (10*0.40 + 10*0.50) / 20 = 0.45.
	assert.InDelta(t, 20, p.TotalBought, 1e-9)
	assert.InDelta(t, 0.45, p.AvgBuyPrice, 1e-9)

	p = p.Apply(sell(20, 0.98, t0.Add(time.Hour)), DefaultSettlementBands)

	assert.InDelta(t, 20*(0.98-0.45), p.RealizedPnL, 1e-9) // 10.6
	assert.Equal(t, PositionStatusSettledWin, p.Status)
	assert.InDelta(t, 0, p.CurrentPosition, 1e-9)
	assert.True(t, p.IsComplete)
}

func TestSignedAmount(t *testing.T) {
	assert.Equal(t, 5.0, Trade{Side: SideBuy, Amount: 5}.SignedAmount())
	assert.Equal(t, -5.0, Trade{Side: SideSell, Amount: 5}.SignedAmount())
	assert.Equal(t, 5.0, Trade{Side: SideUnknown, Amount: 5}.SignedAmount())
}

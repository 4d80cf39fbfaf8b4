package monitor

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// fakeSource is an in-memory LogSource. It honors the topic filter the same
// way a provider does and can simulate per-request range rejections.
type fakeSource struct {
	head     uint64
	maxRange uint64
	logs     []types.Log

	// rangeLimit, when non-zero, rejects any query wider than it and records
	// the corrected maximum, mimicking the endpoint pool's range shrinking.
	rangeLimit uint64

	blockTime map[uint64]time.Time
	receipts  map[common.Hash]*types.Receipt
	queries   []ethereum.FilterQuery
}

func newFakeSource(head, maxRange uint64) *fakeSource {
	return &fakeSource{
		head:      head,
		maxRange:  maxRange,
		blockTime: make(map[uint64]time.Time),
		receipts:  make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if f.rangeLimit > 0 && to-from+1 > f.rangeLimit {
		f.maxRange = f.rangeLimit
		return nil, domain.ErrRangeExceeded
	}
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if !addressMatches(lg.Address, q.Addresses) || !topicsMatch(lg.Topics, q.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeSource) HeaderTime(_ context.Context, block uint64) (time.Time, error) {
	if bt, ok := f.blockTime[block]; ok {
		return bt, nil
	}
	return time.Unix(int64(block)*2, 0).UTC(), nil
}

func (f *fakeSource) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21000, EffectiveGasPrice: big.NewInt(30_000_000_000)}, nil
}

func (f *fakeSource) MaxRange() uint64 { return f.maxRange }

func addressMatches(a common.Address, addrs []common.Address) bool {
	if len(addrs) == 0 {
		return true
	}
	for _, candidate := range addrs {
		if candidate == a {
			return true
		}
	}
	return false
}

func topicsMatch(have []common.Hash, want [][]common.Hash) bool {
	for i, alternatives := range want {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(have) {
			return false
		}
		matched := false
		for _, alt := range alternatives {
			if have[i] == alt {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// fakeIngester records committed windows and stores everything it is given.
type fakeIngester struct {
	commits []struct {
		trades []domain.Trade
		cursor uint64
	}
	err error
}

func (f *fakeIngester) CommitWindow(_ context.Context, trades []domain.Trade, cursor uint64) ([]domain.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.commits = append(f.commits, struct {
		trades []domain.Trade
		cursor uint64
	}{trades, cursor})
	return trades, nil
}

func testScanner(src LogSource, ing domain.Ingester, cfg ScanConfig, cursor uint64) *Scanner {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if len(cfg.Contracts) == 0 {
		cfg.Contracts = []common.Address{testCTF, testNegRisk}
	}
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = []common.Address{testMaker}
	}
	dec := NewDecoder(testCTF, testNegRisk)
	return NewScanner(src, ing, dec, cfg, cursor, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAdvanceClampsToBatchSize(t *testing.T) {
	src := newFakeSource(1000, 500)
	ing := &fakeIngester{}
	s := testScanner(src, ing, ScanConfig{BatchSize: 100, CatchupThreshold: 10}, 0)

	res, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 100, res.NewCursor)
	assert.False(t, res.CaughtUp)
	require.Len(t, ing.commits, 1)
	assert.EqualValues(t, 100, ing.commits[0].cursor)
}

func TestAdvanceClampsToEndpointRange(t *testing.T) {
	src := newFakeSource(1000, 40)
	ing := &fakeIngester{}
	s := testScanner(src, ing, ScanConfig{BatchSize: 100}, 0)

	res, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 40, res.NewCursor)
}

func TestAdvanceReclampsOnRangeRejection(t *testing.T) {
	src := newFakeSource(1000, 100)
	src.rangeLimit = 25
	ing := &fakeIngester{}
	s := testScanner(src, ing, ScanConfig{BatchSize: 100}, 0)

	res, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 25, res.NewCursor)
	require.Len(t, ing.commits, 1)
	assert.EqualValues(t, 25, ing.commits[0].cursor)
}

func TestAdvanceEmptyWindowStillMovesCursor(t *testing.T) {
	src := newFakeSource(50, 100)
	ing := &fakeIngester{}
	s := testScanner(src, ing, ScanConfig{BatchSize: 100, CatchupThreshold: 10}, 0)

	res, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 50, res.NewCursor)
	assert.True(t, res.CaughtUp)
	require.Len(t, ing.commits, 1)
	assert.Empty(t, ing.commits[0].trades)
	assert.EqualValues(t, 50, ing.commits[0].cursor)
}

func TestAdvanceAtHeadIsIdle(t *testing.T) {
	src := newFakeSource(50, 100)
	ing := &fakeIngester{}
	s := testScanner(src, ing, ScanConfig{BatchSize: 100}, 50)

	res, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, res.CaughtUp)
	assert.EqualValues(t, 50, res.NewCursor)
	assert.Empty(t, ing.commits)
}

func TestAdvanceDecodesAndEnriches(t *testing.T) {
	src := newFakeSource(20, 100)
	lg := fillLog(testCTF, [5]uint64{0, 42, 650_000_000, 1_000_000_000, 0})
	lg.BlockNumber = 10
	src.logs = []types.Log{lg}
	src.blockTime[10] = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src.receipts[lg.TxHash] = &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           184_000,
		EffectiveGasPrice: big.NewInt(45_000_000_000),
	}

	ing := &fakeIngester{}
	s := testScanner(src, ing, ScanConfig{BatchSize: 100}, 0)

	res, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TradesFound)

	require.Len(t, ing.commits, 1)
	require.Len(t, ing.commits[0].trades, 1)
	trade := ing.commits[0].trades[0]
	assert.Equal(t, domain.SideBuy, trade.Side)
	assert.Equal(t, domain.RoleMaker, trade.Role)
	assert.Equal(t, src.blockTime[10], trade.BlockTime)
	assert.EqualValues(t, 184_000, trade.GasUsed)
	assert.EqualValues(t, 45_000_000_000, trade.GasPrice)
	assert.Equal(t, "success", trade.Status)
}

func TestAdvanceMatchesTakerRole(t *testing.T) {
	src := newFakeSource(20, 100)
	lg := fillLog(testCTF, [5]uint64{0, 42, 650_000_000, 1_000_000_000, 0})
	lg.BlockNumber = 5
	src.logs = []types.Log{lg}

	ing := &fakeIngester{}
	cfg := ScanConfig{BatchSize: 100, Accounts: []common.Address{testTaker}}
	s := testScanner(src, ing, cfg, 0)

	_, err := s.Advance(context.Background())
	require.NoError(t, err)
	require.Len(t, ing.commits, 1)
	require.Len(t, ing.commits[0].trades, 1)
	trade := ing.commits[0].trades[0]
	assert.Equal(t, domain.RoleTaker, trade.Role)
	assert.Equal(t, domain.SideSell, trade.Side)
	assert.Equal(t, testTaker.Hex(), trade.Account)
}

func TestAdvanceOrdersTradesByChainPosition(t *testing.T) {
	src := newFakeSource(20, 100)
	early := fillLog(testCTF, [5]uint64{0, 42, 100_000, 1_000_000, 0})
	early.BlockNumber, early.Index = 3, 9
	early.TxHash = common.HexToHash("0x01")
	late := fillLog(testNegRisk, [5]uint64{0, 42, 100_000, 1_000_000, 0})
	late.BlockNumber, late.Index = 3, 12
	late.TxHash = common.HexToHash("0x02")
	src.logs = []types.Log{late, early}

	ing := &fakeIngester{}
	s := testScanner(src, ing, ScanConfig{BatchSize: 100}, 0)

	_, err := s.Advance(context.Background())
	require.NoError(t, err)
	require.Len(t, ing.commits, 1)
	trades := ing.commits[0].trades
	require.Len(t, trades, 2)
	assert.Equal(t, early.TxHash.Hex(), trades[0].TxHash)
	assert.Equal(t, late.TxHash.Hex(), trades[1].TxHash)
}

func TestResolveStartPriorities(t *testing.T) {
	ctx := context.Background()

	t.Run("persisted cursor wins", func(t *testing.T) {
		src := newFakeSource(10000, 100)
		s := testScanner(src, &fakeIngester{}, ScanConfig{StartBlock: 500, LookbackHours: 1}, 7000)
		require.NoError(t, s.resolveStart(ctx))
		assert.EqualValues(t, 7000, s.Cursor())
	})

	t.Run("explicit start block", func(t *testing.T) {
		src := newFakeSource(10000, 100)
		s := testScanner(src, &fakeIngester{}, ScanConfig{StartBlock: 500, LookbackHours: 1}, 0)
		require.NoError(t, s.resolveStart(ctx))
		assert.EqualValues(t, 499, s.Cursor())
	})

	t.Run("rolling lookback window", func(t *testing.T) {
		src := newFakeSource(10000, 100)
		s := testScanner(src, &fakeIngester{}, ScanConfig{LookbackHours: 1}, 0)
		require.NoError(t, s.resolveStart(ctx))
		assert.EqualValues(t, 10000-1800, s.Cursor())
	})

	t.Run("lookback past genesis starts at zero", func(t *testing.T) {
		src := newFakeSource(900, 100)
		s := testScanner(src, &fakeIngester{}, ScanConfig{LookbackHours: 1}, 0)
		require.NoError(t, s.resolveStart(ctx))
		assert.Zero(t, s.Cursor())
	})
}

func TestRunStopsAfterConsecutiveErrors(t *testing.T) {
	src := newFakeSource(1000, 100)
	ing := &fakeIngester{err: assert.AnError}
	s := testScanner(src, ing, ScanConfig{
		BatchSize:            100,
		PollInterval:         time.Millisecond,
		MaxConsecutiveErrors: 3,
	}, 10)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

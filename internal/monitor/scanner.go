// Package monitor implements the ingestion core: scanning bounded block
// windows for order-fill logs of watched accounts, decoding them into
// canonical trades, and committing each window atomically.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// polygonBlocksPerHour converts the rolling lookback window into blocks
// (~2 second block time).
const polygonBlocksPerHour = 1800

// LogSource is the chain query capability the scanner consumes; the rpc pool
// implements it.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderTime(ctx context.Context, block uint64) (time.Time, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	MaxRange() uint64
}

// ScanConfig carries the static parameters of the scan loop.
type ScanConfig struct {
	Accounts  []common.Address
	Contracts []common.Address

	PollInterval time.Duration
	BatchSize    uint64 // upper bound on sub-window width, further clamped to the endpoint max

	// Start block resolution, in priority order: a persisted cursor (passed
	// to NewScanner), then StartBlock, then the rolling lookback window.
	StartBlock    uint64
	LookbackHours int

	// CatchupThreshold is the backlog (head - cursor) above which sub-windows
	// are processed back to back without the poll sleep.
	CatchupThreshold uint64

	MaxConsecutiveErrors int
}

// AdvanceResult reports one completed sub-window.
type AdvanceResult struct {
	TradesFound int
	NewCursor   uint64
	CaughtUp    bool
}

// Scanner drives the single-writer ingestion loop over the sync cursor.
type Scanner struct {
	src      LogSource
	ingester domain.Ingester
	decoder  *Decoder
	cfg      ScanConfig
	logger   *slog.Logger

	cursor     uint64
	haveCursor bool
}

// NewScanner creates a Scanner. initialCursor is the persisted checkpoint;
// pass 0 when no sync state exists yet.
func NewScanner(src LogSource, ingester domain.Ingester, decoder *Decoder, cfg ScanConfig, initialCursor uint64, logger *slog.Logger) *Scanner {
	return &Scanner{
		src:        src,
		ingester:   ingester,
		decoder:    decoder,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "scanner")),
		cursor:     initialCursor,
		haveCursor: initialCursor > 0,
	}
}

// Run executes the scan loop until ctx is cancelled or the consecutive-error
// budget is spent. Cancellation is only honored at iteration boundaries so a
// window in flight always completes or fails atomically.
func (s *Scanner) Run(ctx context.Context) error {
	if err := s.resolveStart(ctx); err != nil {
		return fmt.Errorf("scanner: resolve start block: %w", err)
	}
	s.logger.Info("scanner started",
		slog.Uint64("from_block", s.cursor+1),
		slog.Int("accounts", len(s.cfg.Accounts)),
		slog.Int("contracts", len(s.cfg.Contracts)),
	)

	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := s.Advance(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			consecutive++
			s.logger.Error("scan iteration failed",
				slog.Int("consecutive_errors", consecutive),
				slog.Int("max_consecutive_errors", s.cfg.MaxConsecutiveErrors),
				slog.Uint64("cursor", s.cursor),
				slog.String("error", err.Error()),
			)
			if s.cfg.MaxConsecutiveErrors > 0 && consecutive >= s.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("scanner: %d consecutive failures, refusing to advance: %w",
					consecutive, err)
			}
			if err := sleepCtx(ctx, 2*s.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		consecutive = 0

		if res.CaughtUp {
			if err := sleepCtx(ctx, s.cfg.PollInterval); err != nil {
				return err
			}
		}
	}
}

// Advance processes exactly one sub-window: it queries fills for every
// (account, role) pair, decodes and enriches them, commits the batch, and
// moves the cursor. A window with zero matches still advances the cursor.
func (s *Scanner) Advance(ctx context.Context) (AdvanceResult, error) {
	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("query chain head: %w", err)
	}
	if head <= s.cursor {
		return AdvanceResult{NewCursor: s.cursor, CaughtUp: true}, nil
	}

	from := s.cursor + 1
	to := s.clampWindowEnd(from, head)

	logs, to, err := s.collectWindow(ctx, from, to)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("blocks %d-%d: %w", from, to, err)
	}

	trades, err := s.buildTrades(ctx, logs)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("blocks %d-%d: %w", from, to, err)
	}

	stored, err := s.ingester.CommitWindow(ctx, trades, to)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("commit blocks %d-%d: %w", from, to, err)
	}

	s.cursor = to
	backlog := head - to

	if len(stored) > 0 || backlog > 0 {
		s.logger.Info("window processed",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("logs", len(logs)),
			slog.Int("trades_stored", len(stored)),
			slog.Uint64("backlog", backlog),
		)
	}

	return AdvanceResult{
		TradesFound: len(stored),
		NewCursor:   to,
		CaughtUp:    backlog <= s.cfg.CatchupThreshold,
	}, nil
}

// Cursor returns the last fully processed block.
func (s *Scanner) Cursor() uint64 { return s.cursor }

// resolveStart decides the first block to scan: persisted cursor, explicit
// start block, or the rolling lookback window against the current head.
func (s *Scanner) resolveStart(ctx context.Context) error {
	if s.haveCursor {
		s.logger.Info("resuming from persisted cursor", slog.Uint64("cursor", s.cursor))
		return nil
	}
	if s.cfg.StartBlock > 0 {
		s.cursor = s.cfg.StartBlock - 1
		s.logger.Info("starting from configured block", slog.Uint64("start_block", s.cfg.StartBlock))
		return nil
	}

	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return err
	}
	lookback := uint64(s.cfg.LookbackHours) * polygonBlocksPerHour
	if lookback >= head {
		s.cursor = 0
	} else {
		s.cursor = head - lookback
	}
	s.logger.Info("starting from rolling window",
		slog.Int("lookback_hours", s.cfg.LookbackHours),
		slog.Uint64("head", head),
		slog.Uint64("start_block", s.cursor+1),
	)
	return nil
}

// clampWindowEnd bounds the sub-window by the configured batch size, the
// active endpoint's maximum range, and the chain head.
func (s *Scanner) clampWindowEnd(from, head uint64) uint64 {
	width := s.cfg.BatchSize
	if width == 0 {
		width = 100
	}
	if maxRange := s.src.MaxRange(); maxRange > 0 && maxRange < width {
		width = maxRange
	}
	to := from + width - 1
	if to > head {
		to = head
	}
	return to
}

// collectWindow issues one filtered query per (account, role) over the
// contract set. On a range rejection it re-clamps the window to the
// endpoint's corrected maximum and starts the collection over, so a window is
// only ever reported complete when every query for it succeeded.
func (s *Scanner) collectWindow(ctx context.Context, from, to uint64) ([]matchedLog, uint64, error) {
	for {
		logs, err := s.queryAll(ctx, from, to)
		if err == nil {
			return logs, to, nil
		}
		if errors.Is(err, domain.ErrRangeExceeded) && s.src.MaxRange() < to-from+1 {
			shrunk := from + s.src.MaxRange() - 1
			s.logger.Info("window shrunk after range rejection",
				slog.Uint64("from", from),
				slog.Uint64("old_to", to),
				slog.Uint64("new_to", shrunk),
			)
			to = shrunk
			continue
		}
		return nil, to, err
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// matchedLog pairs a raw log with the (account, role) filter that matched it.
type matchedLog struct {
	log     types.Log
	account common.Address
	role    domain.Role
}

func (s *Scanner) queryAll(ctx context.Context, from, to uint64) ([]matchedLog, error) {
	var out []matchedLog
	for _, account := range s.cfg.Accounts {
		for _, role := range []domain.Role{domain.RoleMaker, domain.RoleTaker} {
			q := s.fillQuery(account, role, from, to)
			logs, err := s.src.FilterLogs(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("account %s role %s: %w", account.Hex(), role, err)
			}
			for _, lg := range logs {
				out = append(out, matchedLog{log: lg, account: account, role: role})
			}
		}
	}

	// Queries come back per (account, role); restore chain order so ledger
	// application preserves it.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].log.BlockNumber != out[j].log.BlockNumber {
			return out[i].log.BlockNumber < out[j].log.BlockNumber
		}
		return out[i].log.Index < out[j].log.Index
	})
	return out, nil
}

// fillQuery builds the OrderFilled filter with the account's address in the
// topic slot of its role: maker is topic[2], taker is topic[3]. topic[1]
// (order hash) stays a wildcard.
func (s *Scanner) fillQuery(account common.Address, role domain.Role, from, to uint64) ethereum.FilterQuery {
	accountTopic := common.BytesToHash(account.Bytes())
	var topics [][]common.Hash
	if role == domain.RoleMaker {
		topics = [][]common.Hash{{OrderFilledTopic}, nil, {accountTopic}}
	} else {
		topics = [][]common.Hash{{OrderFilledTopic}, nil, nil, {accountTopic}}
	}
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: s.cfg.Contracts,
		Topics:    topics,
	}
}

// buildTrades decodes every matched log and enriches it with the block
// timestamp and transaction receipt, caching both per window.
func (s *Scanner) buildTrades(ctx context.Context, logs []matchedLog) ([]domain.Trade, error) {
	if len(logs) == 0 {
		return nil, nil
	}

	blockTimes := make(map[uint64]time.Time)
	receipts := make(map[common.Hash]*types.Receipt)

	trades := make([]domain.Trade, 0, len(logs))
	for _, m := range logs {
		trade, ok := s.decoder.Decode(m.log, m.account, m.role)
		if !ok {
			s.logger.Warn("decode failure, storing with unknown side",
				slog.String("tx_hash", trade.TxHash),
				slog.Int64("log_index", trade.LogIndex),
				slog.String("account", trade.Account),
				slog.String("contract", m.log.Address.Hex()),
			)
		}

		blockTime, cached := blockTimes[m.log.BlockNumber]
		if !cached {
			var err error
			blockTime, err = s.src.HeaderTime(ctx, m.log.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("block %d timestamp: %w", m.log.BlockNumber, err)
			}
			blockTimes[m.log.BlockNumber] = blockTime
		}
		trade.BlockTime = blockTime

		receipt, cached := receipts[m.log.TxHash]
		if !cached {
			var err error
			receipt, err = s.src.TransactionReceipt(ctx, m.log.TxHash)
			if err != nil {
				return nil, fmt.Errorf("receipt %s: %w", m.log.TxHash.Hex(), err)
			}
			receipts[m.log.TxHash] = receipt
		}
		trade.GasUsed = receipt.GasUsed
		if receipt.EffectiveGasPrice != nil {
			trade.GasPrice = receipt.EffectiveGasPrice.Uint64()
		}
		trade.Status = "success"
		if receipt.Status != types.ReceiptStatusSuccessful {
			trade.Status = "failed"
		}

		trades = append(trades, trade)
	}
	return trades, nil
}

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// Sanity bounds for decoded values. Violations are logged, never dropped:
// absence of a trade is worse than a suspicious one.
const (
	maxReasonablePrice  = 1.0
	minReasonablePrice  = 0.0001
	maxReasonableAmount = 1_000_000.0
	minReasonableAmount = 0.000001
)

// Ingestor stamps ingestion metadata onto decoded trades, commits each
// sub-window through the durable store, and announces newly stored trades.
// It implements domain.Ingester on top of one.
type Ingestor struct {
	store    domain.Ingester
	notifier domain.TradeNotifier // optional
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestor creates an Ingestor. notifier may be nil when no downstream
// collaborator is configured.
func NewIngestor(store domain.Ingester, notifier domain.TradeNotifier, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "ingestor")),
		now:      time.Now,
	}
}

// CommitWindow stores the window's trades atomically together with the cursor
// advance. Duplicates are absorbed by the store's idempotent key; only trades
// stored for the first time are returned, announced, and logged.
func (in *Ingestor) CommitWindow(ctx context.Context, trades []domain.Trade, cursor uint64) ([]domain.Trade, error) {
	now := in.now().UTC()
	for i := range trades {
		trades[i].IngestedAt = now
		if !trades[i].BlockTime.IsZero() {
			trades[i].CaptureDelay = now.Sub(trades[i].BlockTime)
		}
		in.validate(trades[i])
	}

	stored, err := in.store.CommitWindow(ctx, trades, cursor)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	for _, t := range stored {
		in.logTrade(t)
		if in.notifier == nil {
			continue
		}
		if err := in.notifier.TradePersisted(ctx, t); err != nil {
			in.logger.Warn("trade notification failed",
				slog.String("tx_hash", t.TxHash),
				slog.String("asset_id", t.AssetID),
				slog.String("error", err.Error()),
			)
		}
	}
	return stored, nil
}

// validate logs sanity warnings for out-of-band prices and amounts on
// decodable trades. Unknown-side trades are expected to carry zeros.
func (in *Ingestor) validate(t domain.Trade) {
	if t.Side == domain.SideUnknown {
		return
	}
	if t.Price > maxReasonablePrice || (t.Price > 0 && t.Price < minReasonablePrice) {
		in.logger.Warn("trade price outside expected bounds",
			slog.String("tx_hash", t.TxHash),
			slog.Float64("price", t.Price),
		)
	}
	if t.Amount > maxReasonableAmount || (t.Amount > 0 && t.Amount < minReasonableAmount) {
		in.logger.Warn("trade amount outside expected bounds",
			slog.String("tx_hash", t.TxHash),
			slog.Float64("amount", t.Amount),
		)
	}
}

// logTrade reports a stored trade with its capture-delay classification.
func (in *Ingestor) logTrade(t domain.Trade) {
	in.logger.Info("trade stored",
		slog.Uint64("block", t.BlockNumber),
		slog.String("tx_hash", t.TxHash),
		slog.String("account", t.Account),
		slog.String("role", string(t.Role)),
		slog.String("side", string(t.Side)),
		slog.String("asset_id", t.AssetID),
		slog.Float64("amount", t.Amount),
		slog.Float64("price", t.Price),
		slog.Duration("capture_delay", t.CaptureDelay),
		slog.String("delay_class", delayClass(t.CaptureDelay)),
	)
}

func delayClass(d time.Duration) string {
	switch {
	case d > time.Hour:
		return "historical"
	case d > 5*time.Minute:
		return "delayed"
	case d > time.Minute:
		return "slow"
	default:
		return "real-time"
	}
}

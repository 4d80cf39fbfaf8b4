// Package archive exports trade snapshots as CSV objects in blob storage for
// the reporting tooling. It only reads the trade store; ingestion never
// depends on it.
package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// Archiver periodically writes a CSV snapshot of trades older than the
// retention cutoff. Trades are immutable, so snapshots are append-only
// objects keyed by date; nothing is ever deleted from the store.
type Archiver struct {
	trades domain.TradeStore
	writer domain.BlobWriter
	logger *slog.Logger

	retentionDays int
}

// NewArchiver creates an Archiver.
func NewArchiver(trades domain.TradeStore, writer domain.BlobWriter, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		trades:        trades,
		writer:        writer,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)

	trades, err := a.trades.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: list trades before %v: %w", cutoff, err)
	}
	if len(trades) == 0 {
		a.logger.Info("no trades to archive", slog.Time("cutoff", cutoff))
		return nil
	}

	data, err := tradesToCSV(trades)
	if err != nil {
		return fmt.Errorf("archive: encode csv: %w", err)
	}

	path := fmt.Sprintf("trades/%s.csv", time.Now().UTC().Format("2006-01-02"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "text/csv"); err != nil {
		return fmt.Errorf("archive: upload %s: %w", path, err)
	}

	a.logger.Info("trade archive written",
		slog.Int("trades", len(trades)),
		slog.String("path", path),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunLoop runs archive passes on a fixed interval until ctx is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// tradesToCSV renders trades with a header row, mirroring the columns the
// reporting tooling expects.
func tradesToCSV(trades []domain.Trade) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"tx_hash", "log_index", "block_number", "block_time",
		"account", "counterparty", "role", "contract", "asset_id", "side",
		"amount", "price", "fee", "gas_used", "gas_price", "status",
		"ingested_at", "capture_delay_seconds",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}

	for _, t := range trades {
		row := []string{
			t.TxHash,
			strconv.FormatInt(t.LogIndex, 10),
			strconv.FormatUint(t.BlockNumber, 10),
			t.BlockTime.UTC().Format(time.RFC3339),
			t.Account,
			t.Counterparty,
			string(t.Role),
			string(t.Contract),
			t.AssetID,
			string(t.Side),
			strconv.FormatFloat(t.Amount, 'f', 6, 64),
			strconv.FormatFloat(t.Price, 'f', 6, 64),
			strconv.FormatFloat(t.Fee, 'f', 6, 64),
			strconv.FormatUint(t.GasUsed, 10),
			strconv.FormatUint(t.GasPrice, 10),
			t.Status,
			t.IngestedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(int64(t.CaptureDelay.Seconds()), 10),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv writer: %w", err)
	}
	return buf.Bytes(), nil
}

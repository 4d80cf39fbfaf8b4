package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore reads the durable trade log. Writes happen exclusively through
// the Ingester so a window's trades, its position updates, and the cursor
// advance stay in one atomic unit.
type TradeStore interface {
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]Trade, error)
	ListByAsset(ctx context.Context, assetID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore reads the derived position ledger.
type PositionStore interface {
	Get(ctx context.Context, account, assetID string) (Position, error)
	ListByAccount(ctx context.Context, account string) ([]Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	// ListIncomplete returns positions whose completeness flag is false, for
	// the out-of-band backfill tooling.
	ListIncomplete(ctx context.Context) ([]Position, error)
}

// SyncStore reads the ingestion checkpoint.
type SyncStore interface {
	Get(ctx context.Context) (SyncState, error)
}

// Ingester durably stores one scanned sub-window: it inserts trades
// idempotently, applies newly stored trades to the position ledger, and
// advances the sync cursor — all or nothing. It returns the trades that were
// actually new (duplicates are silently absorbed).
type Ingester interface {
	CommitWindow(ctx context.Context, trades []Trade, cursor uint64) ([]Trade, error)
}

// TradeNotifier announces newly persisted trades to downstream collaborators
// (e.g. the metadata-enrichment service). Delivery is best effort and must
// never influence ingestion control flow.
type TradeNotifier interface {
	TradePersisted(ctx context.Context, t Trade) error
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

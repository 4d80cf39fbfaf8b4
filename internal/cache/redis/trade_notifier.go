package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

const (
	// tradeChannel carries ephemeral "trade persisted" announcements for
	// live subscribers (the metadata-enrichment collaborator).
	tradeChannel = "polymonitor:trades"

	// tradeStream keeps a trimmed durable backlog so a collaborator that was
	// down can catch up.
	tradeStream = "polymonitor:trades:stream"

	streamMaxLen int64 = 10000
)

// TradeNotifier implements domain.TradeNotifier on Redis: every newly stored
// trade is published on a Pub/Sub channel and appended to a capped stream,
// keyed by the trade's asset identifier.
type TradeNotifier struct {
	rdb *redis.Client
}

// NewTradeNotifier creates a TradeNotifier backed by the given Client.
func NewTradeNotifier(c *Client) *TradeNotifier {
	return &TradeNotifier{rdb: c.Underlying()}
}

// tradeEvent is the wire shape of a notification.
type tradeEvent struct {
	TxHash   string `json:"tx_hash"`
	LogIndex int64  `json:"log_index"`
	Account  string `json:"account"`
	AssetID  string `json:"asset_id"`
	Side     string `json:"side"`
}

// TradePersisted announces one stored trade. Both the publish and the stream
// append are attempted; the first failure is returned so the caller can log
// it, but delivery stays best effort by contract.
func (n *TradeNotifier) TradePersisted(ctx context.Context, t domain.Trade) error {
	payload, err := json.Marshal(tradeEvent{
		TxHash:   t.TxHash,
		LogIndex: t.LogIndex,
		Account:  t.Account,
		AssetID:  t.AssetID,
		Side:     string(t.Side),
	})
	if err != nil {
		return fmt.Errorf("redis: marshal trade event: %w", err)
	}

	if err := n.rdb.Publish(ctx, tradeChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", tradeChannel, err)
	}

	args := &redis.XAddArgs{
		Stream: tradeStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"asset_id": t.AssetID,
			"payload":  payload,
		},
	}
	if err := n.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", tradeStream, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TradeNotifier = (*TradeNotifier)(nil)

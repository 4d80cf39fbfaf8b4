package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// dedupStore keeps an idempotent (tx_hash, log_index) set like the durable
// store does and returns only first-seen trades.
type dedupStore struct {
	seen   map[string]bool
	cursor uint64
}

func newDedupStore() *dedupStore {
	return &dedupStore{seen: make(map[string]bool)}
}

func (s *dedupStore) CommitWindow(_ context.Context, trades []domain.Trade, cursor uint64) ([]domain.Trade, error) {
	var stored []domain.Trade
	for _, t := range trades {
		key := fmt.Sprintf("%s:%d", t.TxHash, t.LogIndex)
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		stored = append(stored, t)
	}
	if cursor > s.cursor {
		s.cursor = cursor
	}
	return stored, nil
}

type recordingNotifier struct {
	notified []domain.Trade
	err      error
}

func (n *recordingNotifier) TradePersisted(_ context.Context, t domain.Trade) error {
	if n.err != nil {
		return n.err
	}
	n.notified = append(n.notified, t)
	return nil
}

func TestCommitWindowStampsIngestionMetadata(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := NewIngestor(newDedupStore(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	in.now = func() time.Time { return now }

	blockTime := now.Add(-90 * time.Second)
	stored, err := in.CommitWindow(context.Background(), []domain.Trade{
		{TxHash: "0x01", LogIndex: 0, Side: domain.SideBuy, Amount: 10, Price: 0.5, BlockTime: blockTime},
	}, 100)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, now, stored[0].IngestedAt)
	assert.Equal(t, 90*time.Second, stored[0].CaptureDelay)
}

func TestCommitWindowSkipsDuplicates(t *testing.T) {
	store := newDedupStore()
	in := NewIngestor(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	window := []domain.Trade{
		{TxHash: "0x01", LogIndex: 0, Side: domain.SideBuy, Amount: 1, Price: 0.5},
		{TxHash: "0x01", LogIndex: 1, Side: domain.SideSell, Amount: 1, Price: 0.5},
	}
	stored, err := in.CommitWindow(context.Background(), window, 50)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// Replaying the same window after a crash-and-restart stores nothing new
	// but still advances the cursor.
	stored, err = in.CommitWindow(context.Background(), window, 50)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.EqualValues(t, 50, store.cursor)
}

func TestCommitWindowNotifiesStoredTradesOnly(t *testing.T) {
	store := newDedupStore()
	notifier := &recordingNotifier{}
	in := NewIngestor(store, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	window := []domain.Trade{{TxHash: "0x01", LogIndex: 0, Side: domain.SideBuy, Amount: 1, Price: 0.5}}
	_, err := in.CommitWindow(context.Background(), window, 10)
	require.NoError(t, err)
	require.Len(t, notifier.notified, 1)

	// Duplicates are not re-announced.
	_, err = in.CommitWindow(context.Background(), window, 10)
	require.NoError(t, err)
	assert.Len(t, notifier.notified, 1)
}

func TestCommitWindowNotifierFailureIsNotFatal(t *testing.T) {
	notifier := &recordingNotifier{err: assert.AnError}
	in := NewIngestor(newDedupStore(), notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stored, err := in.CommitWindow(context.Background(), []domain.Trade{
		{TxHash: "0x01", LogIndex: 0, Side: domain.SideBuy, Amount: 1, Price: 0.5},
	}, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestDelayClass(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  string
	}{
		{10 * time.Second, "real-time"},
		{3 * time.Minute, "slow"},
		{20 * time.Minute, "delayed"},
		{2 * time.Hour, "historical"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, delayClass(tt.delay), tt.delay.String())
	}
}

package domain

import "time"

// SyncState is the single persisted ingestion checkpoint. Exactly one row
// exists; LastBlockProcessed never decreases and only advances after the
// block window it covers has been durably committed.
type SyncState struct {
	LastBlockProcessed uint64
	LastUpdateTime     time.Time
	MonitorID          string // identity of the process instance that owns the cursor
}

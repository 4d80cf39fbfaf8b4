package rpc

import (
	"context"
	"time"
)

// RetryPolicy is the retry discipline shared by every remote call the pool
// issues: a bounded attempt count with a fixed inter-attempt delay. When the
// attempts on one endpoint are exhausted the pool rotates to the next one.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy mirrors the provider limits the monitor was tuned
// against: three attempts, five seconds apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
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

// Package rpc manages the prioritized pool of remote chain endpoints. Every
// remote call goes through one retry policy: bounded attempts with a fixed
// delay on the active endpoint, then a cool-down for that endpoint and a
// rotation to the next. A pool-wide inter-request delay keeps the monitor
// under provider rate limits.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// PoolConfig holds the endpoint list (in priority order) and the shared
// retry/pacing policy.
type PoolConfig struct {
	Endpoints    []EndpointConfig
	Retry        RetryPolicy
	RequestDelay time.Duration // minimum spacing between any two remote calls
	CoolDown     time.Duration // how long a failed endpoint sits out
}

// Pool issues rate-limited chain queries with retry and endpoint rotation.
// It is not safe for concurrent use; the monitor runs a single scan loop.
type Pool struct {
	endpoints []*endpoint
	current   int

	retry        RetryPolicy
	requestDelay time.Duration
	coolDown     time.Duration
	lastCall     time.Time

	dial   func(ctx context.Context, url string) (chainClient, error)
	logger *slog.Logger
}

// NewPool creates a Pool from cfg. Connections are dialed lazily on first
// use so a dead low-priority endpoint cannot block startup.
func NewPool(cfg PoolConfig, logger *slog.Logger) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("rpc: at least one endpoint is required")
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}
	coolDown := cfg.CoolDown
	if coolDown == 0 {
		coolDown = time.Minute
	}

	p := &Pool{
		retry:        retry,
		requestDelay: cfg.RequestDelay,
		coolDown:     coolDown,
		logger:       logger.With(slog.String("component", "rpc_pool")),
		dial: func(ctx context.Context, url string) (chainClient, error) {
			return ethclient.DialContext(ctx, url)
		},
	}
	for _, ec := range cfg.Endpoints {
		maxRange := ec.MaxRange
		if maxRange == 0 {
			maxRange = 50
		}
		p.endpoints = append(p.endpoints, &endpoint{url: ec.URL, maxRange: maxRange})
	}
	return p, nil
}

// MaxRange returns the advertised maximum block span of the active endpoint,
// so callers can clamp query windows before issuing them.
func (p *Pool) MaxRange() uint64 {
	return p.endpoints[p.current].maxRange
}

// FilterLogs runs eth_getLogs through the pool. The caller must have clamped
// fromBlock..toBlock to MaxRange(); if the provider still rejects the span,
// the returned error wraps domain.ErrRangeExceeded and the endpoint's
// recorded maximum has been shrunk for future clamping.
func (p *Pool) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	span := querySpan(q)
	err := p.execute(ctx, "eth_getLogs", span, func(c chainClient) error {
		var err error
		logs, err = c.FilterLogs(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// BlockNumber returns the current chain head.
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := p.execute(ctx, "eth_blockNumber", 0, func(c chainClient) error {
		var err error
		head, err = c.BlockNumber(ctx)
		return err
	})
	return head, err
}

// HeaderTime returns the timestamp of the given block.
func (p *Pool) HeaderTime(ctx context.Context, block uint64) (time.Time, error) {
	var ts time.Time
	err := p.execute(ctx, "eth_getBlockByNumber", 0, func(c chainClient) error {
		header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		ts = time.Unix(int64(header.Time), 0).UTC()
		return nil
	})
	return ts, err
}

// TransactionReceipt fetches the receipt for a transaction.
func (p *Pool) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := p.execute(ctx, "eth_getTransactionReceipt", 0, func(c chainClient) error {
		var err error
		receipt, err = c.TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

// execute runs fn against the active endpoint under the retry policy,
// rotating through the remaining endpoints when attempts are exhausted.
// span > 0 marks fn as a range query so range rejections can shrink the
// endpoint's recorded maximum instead of counting as failures.
func (p *Pool) execute(ctx context.Context, label string, span uint64, fn func(chainClient) error) error {
	if err := p.pace(ctx); err != nil {
		return err
	}

	var lastErr error
	for rotations := 0; rotations < len(p.endpoints); rotations++ {
		ep, ok := p.activeEndpoint()
		if !ok {
			break
		}

		client, err := p.clientFor(ctx, ep)
		if err != nil {
			lastErr = err
			p.benchAndRotate(ep, label, err)
			continue
		}

		for attempt := 1; attempt <= p.retry.attempts(); attempt++ {
			err = fn(client)
			if err == nil {
				ep.failures = 0
				return nil
			}
			lastErr = err
			if isRateLimited(err) {
				lastErr = fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
			}

			if span > 0 && isRangeExceeded(err) {
				p.shrinkRange(ep, span)
				return fmt.Errorf("rpc: %s span %d rejected by %s: %w",
					label, span, displayURL(ep.url), domain.ErrRangeExceeded)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("rpc: %s: %w", label, err)
			}

			p.logger.Warn("rpc call failed",
				slog.String("method", label),
				slog.String("endpoint", displayURL(ep.url)),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", p.retry.attempts()),
				slog.Bool("rate_limited", isRateLimited(err)),
				slog.String("error", err.Error()),
			)

			if attempt < p.retry.attempts() {
				if err := sleepCtx(ctx, p.retry.Delay); err != nil {
					return err
				}
			}
		}

		p.benchAndRotate(ep, label, lastErr)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("every endpoint is cooling down")
	}
	return fmt.Errorf("rpc: %s: %w: %w", label, domain.ErrAllEndpointsFailed, lastErr)
}

// activeEndpoint returns the first endpoint at or after the current index
// that is not cooling down, advancing the index to it.
func (p *Pool) activeEndpoint() (*endpoint, bool) {
	now := time.Now()
	for i := 0; i < len(p.endpoints); i++ {
		idx := (p.current + i) % len(p.endpoints)
		if !p.endpoints[idx].coolingDown(now) {
			p.current = idx
			return p.endpoints[idx], true
		}
	}
	return nil, false
}

func (p *Pool) clientFor(ctx context.Context, ep *endpoint) (chainClient, error) {
	if ep.client != nil {
		return ep.client, nil
	}
	client, err := p.dial(ctx, ep.url)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", displayURL(ep.url), err)
	}
	p.logger.Info("connected to endpoint", slog.String("endpoint", displayURL(ep.url)))
	ep.client = client
	return client, nil
}

// benchAndRotate puts ep into cool-down and moves the pool to the next
// endpoint in priority order.
func (p *Pool) benchAndRotate(ep *endpoint, label string, cause error) {
	ep.failures++
	ep.coolDownUntil = time.Now().Add(p.coolDown)
	p.current = (p.current + 1) % len(p.endpoints)

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	p.logger.Warn("endpoint benched, rotating",
		slog.String("method", label),
		slog.String("endpoint", displayURL(ep.url)),
		slog.Int("consecutive_failures", ep.failures),
		slog.Time("cool_down_until", ep.coolDownUntil),
		slog.String("error", msg),
	)
}

// shrinkRange records that ep rejected a query spanning span blocks. Half of
// the rejected span becomes the new maximum so the next clamp succeeds.
func (p *Pool) shrinkRange(ep *endpoint, span uint64) {
	discovered := span / 2
	if discovered < 1 {
		discovered = 1
	}
	if discovered < ep.maxRange {
		p.logger.Info("endpoint max range shrunk",
			slog.String("endpoint", displayURL(ep.url)),
			slog.Uint64("old_max", ep.maxRange),
			slog.Uint64("new_max", discovered),
		)
		ep.maxRange = discovered
	}
}

// pace enforces the pool-wide inter-request delay.
func (p *Pool) pace(ctx context.Context) error {
	if p.requestDelay <= 0 {
		return nil
	}
	if wait := p.requestDelay - time.Since(p.lastCall); wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
	p.lastCall = time.Now()
	return nil
}

// Close releases every dialed connection.
func (p *Pool) Close() {
	for _, ep := range p.endpoints {
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
	}
}

func querySpan(q ethereum.FilterQuery) uint64 {
	if q.FromBlock == nil || q.ToBlock == nil {
		return 0
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if to < from {
		return 0
	}
	return to - from + 1
}

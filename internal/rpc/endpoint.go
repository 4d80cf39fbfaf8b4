package rpc

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// chainClient is the slice of the Ethereum JSON-RPC surface the monitor
// uses. *ethclient.Client satisfies it; tests inject fakes.
type chainClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// EndpointConfig describes one remote data endpoint. MaxRange is the widest
// block span the provider accepts for eth_getLogs; it is clamped downward at
// runtime if the provider rejects a narrower span.
type EndpointConfig struct {
	URL      string
	MaxRange uint64
}

// endpoint is the process-local health state for one remote endpoint.
type endpoint struct {
	url           string
	maxRange      uint64
	client        chainClient
	failures      int
	coolDownUntil time.Time
}

func (e *endpoint) coolingDown(now time.Time) bool {
	return now.Before(e.coolDownUntil)
}

// displayURL masks provider API keys embedded in the endpoint path so they
// never reach the logs.
func displayURL(u string) string {
	i := strings.Index(u, "/v3/")
	if i < 0 {
		return u
	}
	key := u[i+len("/v3/"):]
	if len(key) <= 4 {
		return u[:i] + "/v3/***"
	}
	return u[:i] + "/v3/***" + key[len(key)-4:]
}

// isRangeExceeded classifies provider responses that reject the requested
// block span. Wording differs across providers, so this is substring based.
func isRangeExceeded(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"block range",
		"too many blocks",
		"returned more than",
		"range is too large",
		"exceed maximum block range",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isRateLimited classifies throttling responses.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}

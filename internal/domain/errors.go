package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrRangeExceeded reports that a log query spanned more blocks than the
	// serving endpoint allows. Not a failure: the caller shrinks the window
	// and retries.
	ErrRangeExceeded = errors.New("block range exceeded")

	// ErrAllEndpointsFailed is fatal for the issuing query: every configured
	// endpoint was retried to exhaustion or is cooling down.
	ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")

	// ErrRateLimited marks a provider throttling response so callers can
	// distinguish pacing problems from hard endpoint failures.
	ErrRateLimited = errors.New("rate limited")
)

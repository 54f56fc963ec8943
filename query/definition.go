// Package query implements the public cache surface: QueryDefinition,
// QueryClient, and the QueryResult state machine that ties the reactive
// substrate, schema-driven normalization, the network manager, and the
// query store together into fetch/refetch/paginate/stream behavior.
package query

import (
	"context"
	"time"

	"github.com/hanpama/reactivecache/internal/network"
	"github.com/hanpama/reactivecache/internal/schema"
)

// Kind distinguishes the three query shapes a definition can describe.
type Kind int

const (
	KindQuery Kind = iota
	KindInfiniteQuery
	KindStream
)

// FetchFn performs one request/page fetch. For InfiniteQuery definitions it
// is called once per page; the result is a single page's value, appended by
// the QueryResult's pagination logic, not the assembled array.
type FetchFn func(ctx context.Context, params map[string]any) (any, error)

// SubscribeFn opens a long-lived subscription, delivering updates via
// deliver until the returned unsubscribe is called.
type SubscribeFn func(ctx context.Context, params map[string]any, deliver func(value any, err error)) (unsubscribe func(), err error)

// RetryConfig mirrors the query.retry union from the cache config: Disabled
// overrides everything to zero retries; otherwise up to Retries retries
// follow the first attempt (Retries+1 attempts in all), spaced by
// Delay(attempt) (1000*2^attempt ms if nil).
type RetryConfig struct {
	Disabled bool
	Retries  int
	Delay    func(attempt int) time.Duration
}

func (r RetryConfig) delay(attempt int) time.Duration {
	if r.Delay != nil {
		return r.Delay(attempt)
	}
	ms := 1000 * (1 << attempt)
	return time.Duration(ms) * time.Millisecond
}

// defaultRetry is used when a definition's Cache.Retry is the zero value:
// 3 retries on the client, 0 on the server (isServer is a Client-level
// option, applied by resolveRetry).
func defaultRetry(isServer bool) RetryConfig {
	if isServer {
		return RetryConfig{Retries: 0}
	}
	return RetryConfig{Retries: 3}
}

// CacheConfig is the per-definition cache.{...} block.
type CacheConfig struct {
	StaleTime               time.Duration
	GCTime                  time.Duration
	MaxCount                int
	Retry                   RetryConfig
	RetryConfigured         bool
	RefetchInterval         time.Duration
	RefreshStaleOnReconnect bool
	NetworkMode             network.Mode
}

func (c CacheConfig) gcTime() time.Duration {
	if c.GCTime <= 0 {
		return 24 * time.Hour
	}
	return c.GCTime
}

func (c CacheConfig) maxCount() int {
	if c.MaxCount <= 0 {
		return 1
	}
	return c.MaxCount
}

// PaginationConfig drives InfiniteQuery's nextPageParams derivation.
// GetNextPageParams returns (params, true) to continue, or (nil, false)
// once pagination is exhausted.
type PaginationConfig struct {
	GetNextPageParams func(lastPage any) (map[string]any, bool)
}

// QueryDefinition is the static description of one query: its stable id,
// result shape, fetch/subscribe behavior, and cache policy.
type QueryDefinition struct {
	ID          string
	Kind        Kind
	Shape       *schema.Node
	Fetch       FetchFn
	Subscribe   SubscribeFn
	Cache       CacheConfig
	Debounce    time.Duration
	Pagination  *PaginationConfig
	StreamShape *schema.Node
}

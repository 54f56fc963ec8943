package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hanpama/reactivecache/internal/entity"
	"github.com/hanpama/reactivecache/internal/schema"
)

func TestQueryResult_WatchActivatesFetchAndResolves(t *testing.T) {
	h := newTestHarness(t)
	var calls int32
	def := listItemsDef(func(ctx context.Context, params map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return []any{map[string]any{"id": "1", "name": "a", "__typename": "Item"}}, nil
	})
	r := Query(h.client, def)(func() Params { return Params{} })

	if r.IsResolved() {
		t.Fatalf("expected unwatched query to not yet be resolved")
	}
	r.Watch()
	defer r.Unwatch()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one fetch on activation, got %d", calls)
	}
	if !r.IsResolved() {
		t.Fatalf("expected query to be resolved after a successful fetch")
	}
	if r.IsRejected() {
		t.Fatalf("expected query to not be rejected after a successful fetch")
	}
	if r.IsPending() {
		t.Fatalf("expected query to not be pending after a settled fetch")
	}
}

func TestQueryResult_FailedFetchRejectsWithoutClearingPriorValue(t *testing.T) {
	h := newTestHarness(t)
	fail := int32(0)
	def := listItemsDef(func(ctx context.Context, params map[string]any) (any, error) {
		if atomic.LoadInt32(&fail) == 1 {
			return nil, errors.New("boom")
		}
		return []any{map[string]any{"id": "1", "name": "a", "__typename": "Item"}}, nil
	})
	def.Cache.RetryConfigured = true
	def.Cache.Retry = RetryConfig{Retries: 0}
	r := Query(h.client, def)(func() Params { return Params{} })
	r.Watch()
	defer r.Unwatch()

	if !r.IsResolved() {
		t.Fatalf("expected first fetch to resolve")
	}

	atomic.StoreInt32(&fail, 1)
	_ = r.Refetch()

	if !r.IsRejected() {
		t.Fatalf("expected refetch failure to mark the query rejected")
	}
	if !r.IsResolved() {
		t.Fatalf("expected isResolved to remain true from the prior successful fetch")
	}
}

func TestQueryResult_RefetchRejectsWhileFetchingMore(t *testing.T) {
	h := newTestHarness(t)
	def := listItemsDef(nil)
	def.Kind = KindInfiniteQuery
	def.Pagination = &PaginationConfig{
		GetNextPageParams: func(lastPage any) (map[string]any, bool) { return map[string]any{"cursor": 2}, true },
	}
	def.Fetch = func(ctx context.Context, params map[string]any) (any, error) {
		return []any{map[string]any{"id": "1", "name": "a", "__typename": "Item"}}, nil
	}
	r := Query(h.client, def)(func() Params { return Params{} })
	r.Watch()
	defer r.Unwatch()

	r.isFetchingMore.Set(true)
	if err := r.Refetch(); !errors.Is(err, ErrFetchingMore) {
		t.Fatalf("expected ErrFetchingMore, got %v", err)
	}
	r.isFetchingMore.Set(false)
}

func TestQueryResult_FetchNextPageRejectsWhileRefetching(t *testing.T) {
	h := newTestHarness(t)
	def := listItemsDef(nil)
	def.Kind = KindInfiniteQuery
	def.Pagination = &PaginationConfig{
		GetNextPageParams: func(lastPage any) (map[string]any, bool) { return map[string]any{"cursor": 2}, true },
	}
	def.Fetch = func(ctx context.Context, params map[string]any) (any, error) {
		return []any{map[string]any{"id": "1", "name": "a", "__typename": "Item"}}, nil
	}
	r := Query(h.client, def)(func() Params { return Params{} })
	r.Watch()
	defer r.Unwatch()

	r.isRefetching.Set(true)
	if err := r.FetchNextPage(); !errors.Is(err, ErrRefetching) {
		t.Fatalf("expected ErrRefetching, got %v", err)
	}
	r.isRefetching.Set(false)
}

func TestQueryResult_StreamMisuseOnRefetchAndFetchNextPage(t *testing.T) {
	h := newTestHarness(t)
	def := &QueryDefinition{
		ID:    "watchItem",
		Kind:  KindStream,
		Shape: itemNode(),
		Subscribe: func(ctx context.Context, params map[string]any, deliver func(value any, err error)) (func(), error) {
			deliver(map[string]any{"id": "1", "name": "a", "__typename": "Item"}, nil)
			return func() {}, nil
		},
	}
	r := Query(h.client, def)(func() Params { return Params{} })
	r.Watch()
	defer r.Unwatch()

	if err := r.Refetch(); !errors.Is(err, ErrStreamMisuse) {
		t.Fatalf("expected ErrStreamMisuse from Refetch on a stream query, got %v", err)
	}
	if err := r.FetchNextPage(); !errors.Is(err, ErrStreamMisuse) {
		t.Fatalf("expected ErrStreamMisuse from FetchNextPage on a stream query, got %v", err)
	}
}

func TestQueryResult_InfiniteQueryAppendsPages(t *testing.T) {
	h := newTestHarness(t)
	page := 0
	def := listItemsDef(nil)
	def.Kind = KindInfiniteQuery
	def.Shape = schema.Array(itemNode())
	def.Pagination = &PaginationConfig{
		GetNextPageParams: func(lastPage any) (map[string]any, bool) {
			if page >= 2 {
				return nil, false
			}
			return map[string]any{"cursor": page}, true
		},
	}
	def.Fetch = func(ctx context.Context, params map[string]any) (any, error) {
		page++
		return []any{map[string]any{"id": itoaForTest(page), "name": "item", "__typename": "Item"}}, nil
	}
	r := Query(h.client, def)(func() Params { return Params{} })
	r.Watch()
	defer r.Unwatch()

	if !r.HasNextPage() {
		t.Fatalf("expected a next page to be available after the first fetch")
	}
	if err := r.FetchNextPage(); err != nil {
		t.Fatalf("unexpected error fetching next page: %v", err)
	}

	pages, ok := r.Value().([]any)
	if !ok {
		t.Fatalf("expected assembled value to be a slice of pages, got %T", r.Value())
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 assembled pages, got %d", len(pages))
	}
}

func TestQueryResult_UnwatchSchedulesEviction(t *testing.T) {
	h := newTestHarness(t)
	def := listItemsDef(func(ctx context.Context, params map[string]any) (any, error) {
		return []any{}, nil
	})
	def.Cache.GCTime = 10 * time.Millisecond
	r := Query(h.client, def)(func() Params { return Params{} })
	r.Watch()
	r.Unwatch()

	time.Sleep(50 * time.Millisecond)

	h.client.mu.Lock()
	_, stillRegistered := h.client.registry[r.key]
	h.client.mu.Unlock()
	if stillRegistered {
		t.Fatalf("expected the result to be forgotten from the registry after gcTime elapses")
	}
}

func TestQueryResult_RefreshesStaleOnReconnect(t *testing.T) {
	orig := reconnectPollInterval
	reconnectPollInterval = 5 * time.Millisecond
	defer func() { reconnectPollInterval = orig }()

	h := newTestHarness(t)
	var calls int32
	def := listItemsDef(func(ctx context.Context, params map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return []any{}, nil
	})
	def.Cache.StaleTime = time.Microsecond
	def.Cache.RefreshStaleOnReconnect = true
	r := Query(h.client, def)(func() Params { return Params{} })
	r.Watch()
	defer r.Unwatch()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one fetch on activation, got %d", calls)
	}

	nm := h.client.NetworkManager()
	nm.SetNetworkStatus(false)
	time.Sleep(20 * time.Millisecond)
	nm.SetNetworkStatus(true)
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected reconnecting to trigger a refetch of a stale query, got %d fetches", calls)
	}
}

func TestQueryResult_EvictionCascadeDeletesUnreferencedEntity(t *testing.T) {
	h := newTestHarness(t)
	def := listItemsDef(func(ctx context.Context, params map[string]any) (any, error) {
		return []any{map[string]any{"id": "1", "name": "a", "__typename": "Item"}}, nil
	})
	def.Cache.GCTime = 10 * time.Millisecond
	r := Query(h.client, def)(func() Params { return Params{} })
	r.Watch()

	itemKey := entity.KeyFor("Item", "1")
	if got := h.entities.RefCount(itemKey); got != 1 {
		t.Fatalf("expected the query's top-level ref to bring Item#1's count to 1, got %d", got)
	}

	r.Unwatch()
	time.Sleep(50 * time.Millisecond)

	if got := h.entities.RefCount(itemKey); got != 0 {
		t.Fatalf("expected eviction to drop Item#1's ref count to 0, got %d", got)
	}
	if h.entities.Len() != 0 {
		t.Fatalf("expected eviction to cascade-delete Item#1 from the store, len=%d", h.entities.Len())
	}
}

func itoaForTest(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return string(buf)
}

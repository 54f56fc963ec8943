package query

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hanpama/reactivecache/internal/entity"
	"github.com/hanpama/reactivecache/internal/eventbus"
	"github.com/hanpama/reactivecache/internal/events"
	"github.com/hanpama/reactivecache/internal/normalize"
	"github.com/hanpama/reactivecache/internal/querykv"
	"github.com/hanpama/reactivecache/internal/reactive"
	"github.com/hanpama/reactivecache/internal/reqid"
)

// QueryResult is a cacheable, reactive, refetchable handle to one query's
// result: a Relay carries the settled value/error, with additional cells
// for the flags a Relay's plain pending/resolved/rejected status can't
// express (isRefetching, isFetchingMore, an independent "has ever
// resolved" flag so a failed refetch doesn't erase isResolved).
type QueryResult struct {
	client   *Client
	def      *QueryDefinition
	paramsFn func() Params
	shapeKey uint32
	key      QueryKey

	relay *reactive.Relay[any]

	everResolved   *reactive.Cell[bool]
	isRefetching   *reactive.Cell[bool]
	isFetchingMore *reactive.Cell[bool]
	updatedAt      *reactive.Cell[time.Time]
	pausedCell     *reactive.Cell[bool]

	mu             sync.Mutex
	firstActivated bool
	state          *reactive.RelayState[any]
	storageKey     StorageKey
	currentParams  map[string]any
	refIDs         map[entity.Key]struct{}
	hadCacheOnLoad bool
	pages          []any
	nextPageParams map[string]any
	hasNextPage    bool
	fetchSeq       uint64
	debounceTimer  *time.Timer
	streamCancel   func()
	topRefs        map[entity.Key]struct{}
}

func newQueryResult(c *Client, def *QueryDefinition, paramsFn func() Params, shapeKey uint32, key QueryKey) *QueryResult {
	qr := &QueryResult{
		client:         c,
		def:            def,
		paramsFn:       paramsFn,
		shapeKey:       shapeKey,
		key:            key,
		everResolved:   reactive.NewCell(c.sched, false, reactive.StrictEqual[bool]()),
		isRefetching:   reactive.NewCell(c.sched, false, reactive.StrictEqual[bool]()),
		isFetchingMore: reactive.NewCell(c.sched, false, reactive.StrictEqual[bool]()),
		updatedAt:      reactive.NewCell(c.sched, time.Time{}, reactive.AlwaysUnequal[time.Time]()),
		pausedCell:     reactive.NewCell(c.sched, false, reactive.StrictEqual[bool]()),
	}
	qr.relay = reactive.NewRelay[any](c.sched, reactive.AlwaysUnequal[any](), qr.activate)
	return qr
}

// Watch attaches a watcher, triggering activation on the 0→1 transition.
func (qr *QueryResult) Watch() { qr.relay.Watch() }

// Unwatch detaches a watcher, triggering deactivation on the 1→0
// transition (which schedules eviction after gcTime).
func (qr *QueryResult) Unwatch() { qr.relay.Unwatch() }

// onParamsRefreshed is called by Client.materialize every time the caller
// re-derives params for an already-registered QueryResult (the idiomatic
// stand-in for "update re-invoked whenever reactive dependencies change":
// this substrate's Cell/ReactiveFn reads are pull-based, so the natural
// place to detect a parameter change is when the owning reactive context
// re-runs and re-requests this QueryResult).
func (qr *QueryResult) onParamsRefreshed(params Params) {
	if qr.def.Kind == KindStream {
		return
	}
	newStorageKey := storageKey(qr.def.ID, qr.shapeKey, params)

	qr.mu.Lock()
	unchanged := qr.storageKey == newStorageKey && qr.firstActivated
	qr.currentParams = params.Values
	qr.storageKey = newStorageKey
	qr.mu.Unlock()
	if unchanged {
		return
	}

	paused := qr.client.network.Paused(qr.def.Cache.NetworkMode, qr.hasCachedData())
	qr.pausedCell.Set(paused)
	if paused {
		return
	}
	qr.scheduleDebouncedRefetch()
}

func (qr *QueryResult) hasCachedData() bool {
	qr.mu.Lock()
	defer qr.mu.Unlock()
	return qr.everResolved.Peek() || qr.hadCacheOnLoad
}

// adjustTopRefs registers this query's current top-level entity references
// against the live entity.Store's ref count: an entity record lives as long
// as any CachedQuery (or another entity) references it, so the query's own
// refs must flow into the same ref count normalize.Normalize uses for nested
// entity refs, or a query's only path to an entity (its own top-level ref,
// as opposed to a ref nested inside another entity) would never increment
// that entity's count and it could never be cascade-deleted.
func (qr *QueryResult) adjustTopRefs(newRefs map[entity.Key]struct{}) {
	qr.mu.Lock()
	old := qr.topRefs
	qr.topRefs = newRefs
	qr.mu.Unlock()
	qr.client.entities.AdjustRefs(old, newRefs)
}

// activate is the Relay's activate hook: it runs on the 0→1 watcher
// transition, starting fetch/refetch/reconnect machinery for the query.
func (qr *QueryResult) activate(state *reactive.RelayState[any]) func() {
	qr.client.evictor.cancel(qr.key)

	params := qr.paramsFn()
	qr.mu.Lock()
	qr.state = state
	qr.currentParams = params.Values
	qr.storageKey = storageKey(qr.def.ID, qr.shapeKey, params)
	first := !qr.firstActivated
	qr.firstActivated = true
	qr.mu.Unlock()

	qr.loadFromCache()

	paused := qr.client.network.Paused(qr.def.Cache.NetworkMode, qr.hasCachedData())
	qr.pausedCell.Set(paused)

	if first {
		qr.initialize()
	} else {
		qr.resume()
	}

	if interval := qr.def.Cache.RefetchInterval; interval > 0 {
		qr.client.refetcher.start(qr.key, interval, func() { _ = qr.Refetch() })
	}
	if qr.def.Cache.RefreshStaleOnReconnect {
		qr.client.reconnect.start()
	}

	return qr.deactivate
}

func (qr *QueryResult) deactivate() {
	qr.client.refetcher.stopFor(qr.key)
	qr.cancelDebounce()
	qr.stopStream()

	delay := qr.def.Cache.gcTime()
	if m := qr.client.cfg.EvictionMultiplier; m > 0 {
		delay = time.Duration(float64(delay) * m)
	}
	key := qr.key
	defID := qr.def.ID
	ctx := qr.client.GetContext()
	qr.client.evictor.schedule(key, delay, func() {
		qr.adjustTopRefs(nil)
		qr.client.forget(key)
		eventbus.Publish(ctx, events.QueryEvicted{QueryDefID: defID, QueryKey: uint64(key)})
	})
}

func (qr *QueryResult) loadFromCache() {
	loader, ok := qr.client.cfg.Store.(Loader)
	if !ok {
		return
	}
	snap, ok := loader.LoadQuery(qr.def.ID, querykv.QueryKey(qr.storageKey), qr.def.Cache.gcTime(), qr.def.Cache.maxCount())
	if !ok {
		return
	}
	value := normalize.Normalize(snap.Value, qr.def.Shape, qr.client.entities, nil)

	qr.mu.Lock()
	qr.refIDs = snap.RefIDs
	qr.hadCacheOnLoad = true
	if qr.def.Kind == KindInfiniteQuery {
		if arr, ok := value.([]any); ok {
			qr.pages = append([]any{}, arr...)
		}
	}
	qr.mu.Unlock()

	qr.adjustTopRefs(snap.RefIDs)
	qr.updatedAt.Set(snap.UpdatedAt)
	qr.everResolved.Set(true)
	qr.state.SetValue(value)
	qr.computeNextPageParams()
}

func (qr *QueryResult) initialize() {
	hadCache := qr.hasCachedData()
	if qr.def.Kind == KindStream {
		qr.startStream()
		return
	}
	if hadCache {
		if qr.isStale() {
			qr.debouncedOrImmediateRefetch()
		}
	} else {
		qr.immediateFetch()
	}
	if qr.def.StreamShape != nil {
		qr.startStream()
	}
}

func (qr *QueryResult) resume() {
	if qr.def.Kind == KindStream || qr.def.StreamShape != nil {
		qr.startStream()
	}
	if qr.def.Kind == KindStream {
		return
	}
	if !qr.pausedCell.Peek() && qr.isStale() {
		_ = qr.Refetch()
	}
}

// refreshIfStaleOnReconnect is reconnectManager's per-query hook, called on
// every client-wide offline->online transition: it only acts if this query
// opted in and is currently stale, and is a no-op for streams (which have no
// notion of staleness).
func (qr *QueryResult) refreshIfStaleOnReconnect() {
	if !qr.def.Cache.RefreshStaleOnReconnect || qr.def.Kind == KindStream {
		return
	}
	if qr.isStale() {
		qr.debouncedOrImmediateRefetch()
	}
}

func (qr *QueryResult) debouncedOrImmediateRefetch() {
	if qr.def.Debounce > 0 {
		qr.scheduleDebouncedRefetch()
		return
	}
	_ = qr.Refetch()
}

func (qr *QueryResult) immediateFetch() {
	qr.runAndCommit(qr.snapshotParams(), true, false, "fetch")
}

func (qr *QueryResult) scheduleDebouncedRefetch() {
	qr.mu.Lock()
	if qr.debounceTimer != nil {
		qr.debounceTimer.Stop()
	}
	d := qr.def.Debounce
	qr.debounceTimer = time.AfterFunc(d, func() { _ = qr.Refetch() })
	qr.mu.Unlock()
}

func (qr *QueryResult) cancelDebounce() {
	qr.mu.Lock()
	defer qr.mu.Unlock()
	if qr.debounceTimer != nil {
		qr.debounceTimer.Stop()
		qr.debounceTimer = nil
	}
}

func (qr *QueryResult) snapshotParams() map[string]any {
	qr.mu.Lock()
	defer qr.mu.Unlock()
	out := make(map[string]any, len(qr.currentParams))
	for k, v := range qr.currentParams {
		out[k] = v
	}
	return out
}

// Refetch re-runs the query from scratch (reset=true): it rejects if a
// fetchNextPage is in flight, clears any debounce timer and cached
// nextPageParams, and is a misuse error on a stream query.
func (qr *QueryResult) Refetch() error {
	if qr.def.Kind == KindStream {
		return ErrStreamMisuse
	}
	if qr.isFetchingMore.Peek() {
		return ErrFetchingMore
	}
	qr.cancelDebounce()
	qr.mu.Lock()
	qr.nextPageParams = nil
	qr.hasNextPage = false
	qr.mu.Unlock()

	qr.isRefetching.Set(true)
	defer qr.isRefetching.Set(false)
	return qr.runAndCommit(qr.snapshotParams(), true, false, "refetch")
}

// FetchNextPage runs the next page for an InfiniteQuery definition,
// appending it to the assembled page array. It rejects while refetching,
// once pagination is exhausted, or on a non-InfiniteQuery definition.
func (qr *QueryResult) FetchNextPage() error {
	if qr.def.Kind != KindInfiniteQuery {
		return ErrStreamMisuse
	}
	if qr.isRefetching.Peek() {
		return ErrRefetching
	}
	qr.mu.Lock()
	next := qr.nextPageParams
	has := qr.hasNextPage
	qr.mu.Unlock()
	if !has || next == nil {
		return ErrNoNextPage
	}

	qr.isFetchingMore.Set(true)
	defer qr.isFetchingMore.Set(false)

	params := qr.snapshotParams()
	for k, v := range next {
		params[k] = v
	}
	return qr.runAndCommit(params, false, true, "fetchNextPage")
}

// runAndCommit performs fetch-with-retry, normalizes the result, updates
// pagination/ref-set bookkeeping, persists to the store, and publishes the
// value through the relay. isAppend selects InfiniteQuery append-mode (vs
// reset, which replaces both the page array and the ref set). kind labels
// the attempt ("fetch", "refetch", "fetchNextPage") for the lifecycle
// events runQuery publishes.
func (qr *QueryResult) runAndCommit(params map[string]any, reset bool, isAppend bool, kind string) error {
	qr.mu.Lock()
	qr.fetchSeq++
	seq := qr.fetchSeq
	qr.mu.Unlock()

	value, err := qr.runQuery(qr.client.GetContext(), params, kind)

	qr.mu.Lock()
	stale := seq != qr.fetchSeq
	qr.mu.Unlock()
	if stale {
		return nil
	}

	if err != nil {
		qr.state.SetError(err)
		qr.client.cfg.Log.Error(err, "query fetch failed", "queryDefId", qr.def.ID)
		return err
	}

	refIDs := map[entity.Key]struct{}{}
	normalized := normalize.Normalize(value, qr.def.Shape, qr.client.entities, refIDs)

	var assembled any = normalized
	if qr.def.Kind == KindInfiniteQuery {
		qr.mu.Lock()
		if reset || !isAppend {
			qr.pages = []any{normalized}
		} else {
			qr.pages = append(qr.pages, normalized)
		}
		assembled = append([]any{}, qr.pages...)
		qr.mu.Unlock()
	}

	qr.mu.Lock()
	if reset || qr.refIDs == nil {
		qr.refIDs = refIDs
	} else {
		for k := range refIDs {
			qr.refIDs[k] = struct{}{}
		}
	}
	finalRefs := make(map[entity.Key]struct{}, len(qr.refIDs))
	for k := range qr.refIDs {
		finalRefs[k] = struct{}{}
	}
	qr.mu.Unlock()

	qr.adjustTopRefs(finalRefs)

	now := time.Now()
	qr.persist(assembled, finalRefs, now)

	qr.updatedAt.Set(now)
	qr.everResolved.Set(true)
	qr.state.SetValue(assembled)

	qr.computeNextPageParams()
	return nil
}

// runQuery is the fetch-with-retry step: it rejects synchronously while
// paused, otherwise drives def.Fetch through cenkalti/backoff/v5 using the
// resolved retry policy's attempt-indexed delay, wrapping pause errors
// encountered mid-retry in backoff.Permanent so the loop stops immediately.
// One request id is created per runQuery call and shared by all of its
// attempts, so the single QueryFetchStart/QueryFetchFinish pair published
// around the retry loop can be correlated by a telemetry subscriber.
func (qr *QueryResult) runQuery(ctx context.Context, params map[string]any, kind string) (any, error) {
	if qr.pausedCell.Peek() {
		return nil, ErrPaused
	}
	ctx, _ = reqid.NewContext(ctx)

	retry := resolveRetry(qr.def, qr.client.cfg.IsServer)
	maxTries := uint(retry.Retries + 1)

	attempt := 0
	start := time.Now()
	eventbus.Publish(ctx, events.QueryFetchStart{QueryDefID: qr.def.ID, QueryKey: uint64(qr.key), Kind: kind})
	value, err := backoff.Retry(ctx, func() (any, error) {
		attempt++
		if qr.pausedCell.Peek() {
			return nil, backoff.Permanent(ErrPaused)
		}
		v, ferr := qr.def.Fetch(ctx, params)
		if ferr != nil {
			return nil, ferr
		}
		return v, nil
	}, backoff.WithBackOff(&attemptBackOff{retry: retry}), backoff.WithMaxTries(maxTries))
	eventbus.Publish(ctx, events.QueryFetchFinish{
		QueryDefID: qr.def.ID, QueryKey: uint64(qr.key), Kind: kind,
		Attempt: attempt - 1, Duration: time.Since(start), Err: err,
	})
	return value, err
}

func (qr *QueryResult) computeNextPageParams() {
	if qr.def.Kind != KindInfiniteQuery || qr.def.Pagination == nil {
		return
	}
	qr.mu.Lock()
	var last any
	if n := len(qr.pages); n > 0 {
		last = qr.pages[n-1]
	}
	qr.mu.Unlock()
	if last == nil {
		return
	}
	next, ok := qr.def.Pagination.GetNextPageParams(last)
	qr.mu.Lock()
	if !ok {
		qr.nextPageParams = nil
		qr.hasNextPage = false
	} else {
		merged := make(map[string]any, len(qr.currentParams)+len(next))
		for k, v := range qr.currentParams {
			merged[k] = v
		}
		for k, v := range next {
			merged[k] = v
		}
		qr.nextPageParams = merged
		qr.hasNextPage = true
	}
	qr.mu.Unlock()
}

// persist denormalizes the assembled value and every entity it
// (transitively) references, and saves both into the query store.
func (qr *QueryResult) persist(value any, refIDs map[entity.Key]struct{}, updatedAt time.Time) {
	denorm := normalize.Denormalize(value)
	_ = qr.client.cfg.Store.SaveQuery(qr.def.ID, querykv.QueryKey(qr.storageKey), denorm, refIDs, nil, qr.def.Cache.maxCount())
	qr.persistEntities(refIDs)
}

func (qr *QueryResult) persistEntities(refIDs map[entity.Key]struct{}) {
	seen := map[entity.Key]bool{}
	var walk func(keys map[entity.Key]struct{})
	walk = func(keys map[entity.Key]struct{}) {
		for k := range keys {
			if seen[k] {
				continue
			}
			seen[k] = true
			proxy, ok := qr.client.entities.Lookup(k)
			if !ok {
				continue
			}
			typename, data, refs := proxy.Snapshot()
			denorm := normalize.Denormalize(data)
			m, ok := denorm.(map[string]any)
			if !ok {
				m = map[string]any{}
			}
			m["__typename"] = typename
			if err := qr.client.cfg.Store.SaveEntity(k, m, refs); err != nil {
				qr.client.cfg.Log.Error(err, "persisting entity failed", "key", uint32(k))
			}
			walk(refs)
		}
	}
	walk(refIDs)
}

func (qr *QueryResult) startStream() {
	if qr.def.Subscribe == nil {
		return
	}
	qr.stopStream()
	ctx := qr.client.GetContext()
	unsubscribe, err := qr.def.Subscribe(ctx, qr.snapshotParams(), qr.onStreamDelivery)
	if err != nil {
		qr.client.cfg.Log.Error(err, "stream subscribe failed", "queryDefId", qr.def.ID)
		return
	}
	qr.mu.Lock()
	qr.streamCancel = unsubscribe
	qr.mu.Unlock()
}

func (qr *QueryResult) stopStream() {
	qr.mu.Lock()
	cancel := qr.streamCancel
	qr.streamCancel = nil
	qr.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// onStreamDelivery handles one subscription update: for a pure Stream
// definition the delivered value becomes the relay's own value; for a
// non-stream query with a secondary stream, the update is normalized
// (interning entities) but left off the relay, whose value remains
// fetchFn's responsibility.
func (qr *QueryResult) onStreamDelivery(value any, err error) {
	shape := qr.def.Shape
	if qr.def.Kind != KindStream {
		shape = qr.def.StreamShape
	}
	if err != nil {
		if qr.def.Kind == KindStream {
			qr.state.SetError(err)
		}
		qr.client.cfg.Log.Error(err, "stream delivery error", "queryDefId", qr.def.ID)
		return
	}

	refIDs := map[entity.Key]struct{}{}
	normalized := normalize.Normalize(value, shape, qr.client.entities, refIDs)
	eventbus.Publish(qr.client.GetContext(), events.StreamDelivery{QueryDefID: qr.def.ID, QueryKey: uint64(qr.key)})

	if qr.def.Kind != KindStream {
		return
	}

	qr.mu.Lock()
	if qr.refIDs == nil {
		qr.refIDs = map[entity.Key]struct{}{}
	}
	for k := range refIDs {
		qr.refIDs[k] = struct{}{}
	}
	finalRefs := make(map[entity.Key]struct{}, len(qr.refIDs))
	for k := range qr.refIDs {
		finalRefs[k] = struct{}{}
	}
	qr.mu.Unlock()

	qr.adjustTopRefs(finalRefs)

	now := time.Now()
	qr.persist(normalized, finalRefs, now)
	qr.updatedAt.Set(now)
	qr.everResolved.Set(true)
	qr.state.SetValue(normalized)
}

func (qr *QueryResult) isStale() bool {
	if qr.def.Kind == KindStream {
		return false
	}
	ts := qr.updatedAt.Peek()
	if ts.IsZero() {
		return true
	}
	return time.Since(ts) >= qr.def.Cache.StaleTime
}

// Derived observables.

func (qr *QueryResult) Value() any        { return qr.relay.Promise().Value() }
func (qr *QueryResult) Err() error         { return qr.relay.Promise().Err() }
func (qr *QueryResult) IsPending() bool    { return qr.relay.Promise().IsPending() }
func (qr *QueryResult) IsResolved() bool   { return qr.everResolved.Get() }
func (qr *QueryResult) IsReady() bool      { return qr.IsResolved() }
func (qr *QueryResult) IsRejected() bool   { return qr.relay.Promise().IsRejected() }
func (qr *QueryResult) IsSettled() bool    { return qr.relay.Promise().IsSettled() }
func (qr *QueryResult) IsRefetching() bool { return qr.isRefetching.Get() }
func (qr *QueryResult) IsFetchingMore() bool { return qr.isFetchingMore.Get() }
func (qr *QueryResult) IsFetching() bool {
	return qr.IsPending() || qr.IsRefetching() || qr.IsFetchingMore()
}
func (qr *QueryResult) IsStale() bool { return qr.isStale() }
func (qr *QueryResult) HasNextPage() bool {
	qr.mu.Lock()
	defer qr.mu.Unlock()
	return qr.hasNextPage
}
func (qr *QueryResult) IsPaused() bool { return qr.pausedCell.Get() }

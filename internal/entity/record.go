package entity

import (
	"sync"

	"github.com/hanpama/reactivecache/internal/reactive"
	"github.com/hanpama/reactivecache/internal/schema"
)

// Record is one interned entity: {data, cache, notifier, refIds}. data holds
// the deep-merged field map written by normalization passes; cache memoizes
// per-field lookups for the entity's single proxy and is cleared on every
// write; notifier is bumped unconditionally on every write so proxy readers
// that only consumed the notifier (not data itself) still re-check.
type Record struct {
	key      Key
	typename string
	sched    *reactive.Scheduler

	data     *reactive.Cell[map[string]any]
	notifier *reactive.Cell[uint64]
	gen      uint64

	mu     sync.Mutex
	cache  map[string]any
	refIDs map[Key]struct{}
	node   *schema.Node
	proxy  *Proxy
}

func newRecord(sched *reactive.Scheduler, key Key, typename string) *Record {
	return &Record{
		key:      key,
		typename: typename,
		sched:    sched,
		data:     reactive.NewCell[map[string]any](sched, map[string]any{}, reactive.AlwaysUnequal[map[string]any]()),
		notifier: reactive.NewCell[uint64](sched, 0, reactive.AlwaysUnequal[uint64]()),
		refIDs:   map[Key]struct{}{},
	}
}

// merge deep-merges incoming field values into the record's data map: nested
// plain objects merge recursively, arrays and already-proxied values (or
// __entityRef stubs) replace wholesale. The parse cache is dropped since
// cached field lookups may now be stale.
func (r *Record) merge(fields map[string]any, node *schema.Node) {
	current := r.data.Peek()
	merged := deepMerge(current, fields).(map[string]any)

	r.mu.Lock()
	r.node = node
	r.cache = nil
	r.mu.Unlock()

	r.data.SetAlways(merged)
	r.gen++
	r.notifier.SetAlways(r.gen)
}

func deepMerge(oldV, newV any) any {
	oldMap, oldOK := oldV.(map[string]any)
	newMap, newOK := newV.(map[string]any)
	if !oldOK || !newOK {
		return newV
	}
	if _, isRef := newMap["__entityRef"]; isRef {
		return newV
	}
	if _, wasProxy := oldMap["__entityRef"]; wasProxy {
		return newV
	}
	merged := make(map[string]any, len(oldMap)+len(newMap))
	for k, v := range oldMap {
		merged[k] = v
	}
	for k, v := range newMap {
		if existing, ok := merged[k]; ok {
			merged[k] = deepMerge(existing, v)
		} else {
			merged[k] = v
		}
	}
	return merged
}

func (r *Record) refIDSnapshot() map[Key]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Key]struct{}, len(r.refIDs))
	for k := range r.refIDs {
		out[k] = struct{}{}
	}
	return out
}

func (r *Record) setRefIDs(refIDs map[Key]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refIDs = refIDs
}

func (r *Record) proxyFor(store *Store) *Proxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proxy == nil {
		r.proxy = &Proxy{store: store, rec: r}
	}
	return r.proxy
}

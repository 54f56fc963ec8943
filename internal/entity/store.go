package entity

import (
	"context"
	"sync"

	"github.com/hanpama/reactivecache/internal/eventbus"
	"github.com/hanpama/reactivecache/internal/events"
	"github.com/hanpama/reactivecache/internal/reactive"
	"github.com/hanpama/reactivecache/internal/schema"
)

// Store is the shared, mutable map of interned entities. All writes flow
// through Write/AdjustRefs; proxies are read-only views over a Record.
// Bookkeeping (records, refCount) is guarded by its own mutex, separate from
// the reactive Scheduler's mutex that guards Cell reads/writes, mirroring
// the concurrency-safe-map-over-mutex shape used for the endpoint-provider
// style components this codebase is grounded on.
type Store struct {
	sched  *reactive.Scheduler
	owners *reactive.OwnerRegistry

	mu       sync.Mutex
	records  map[Key]*Record
	refCount map[Key]int
}

// NewStore constructs an empty entity store bound to sched. owners resolves
// per-proxy method scopes.
func NewStore(sched *reactive.Scheduler, owners *reactive.OwnerRegistry) *Store {
	return &Store{
		sched:    sched,
		owners:   owners,
		records:  make(map[Key]*Record),
		refCount: make(map[Key]int),
	}
}

// Lookup resolves an existing entity's proxy by key, for hydrating
// __entityRef stubs loaded from a cache snapshot.
func (s *Store) Lookup(key Key) (*Proxy, bool) {
	s.mu.Lock()
	rec, ok := s.records[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return rec.proxyFor(s), true
}

// Write interns fields under key (creating the record on first write),
// deep-merges them into any existing record, and adjusts reference counts
// for the entity's own refIDs set against its previous value, cascading
// deletion of any entity whose count reaches zero. Returns the entity's
// proxy. Publishes on the package-global eventbus with a background
// context: normalize.Normalize calls Write from deep inside an arbitrary
// caller's value tree, with no request-scoped context to thread through, so
// a telemetry subscriber gets the write event without a parent trace span.
func (s *Store) Write(key Key, typename string, node *schema.Node, fields map[string]any, refIDs map[Key]struct{}) *Proxy {
	s.mu.Lock()
	rec, exists := s.records[key]
	if !exists {
		rec = newRecord(s.sched, key, typename)
		s.records[key] = rec
	}
	s.mu.Unlock()

	var oldRefs map[Key]struct{}
	if exists {
		oldRefs = rec.refIDSnapshot()
	}

	rec.merge(fields, node)
	rec.setRefIDs(refIDs)
	s.AdjustRefs(oldRefs, refIDs)

	eventbus.Publish(context.Background(), events.EntityWritten{EntityKey: uint64(key), Typename: typename})
	return rec.proxyFor(s)
}

// AdjustRefs diffs oldRefs against newRefs and increments/decrements the
// affected entities' reference counts, cascade-deleting any entity whose
// count reaches zero. Shared by Write (an entity's own refIDs) and by
// callers tracking a cached query's refIds set against the same store.
func (s *Store) AdjustRefs(oldRefs, newRefs map[Key]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range oldRefs {
		if _, still := newRefs[k]; !still {
			s.decrefLocked(k)
		}
	}
	for k := range newRefs {
		if _, was := oldRefs[k]; !was {
			s.increfLocked(k)
		}
	}
}

func (s *Store) increfLocked(k Key) {
	s.refCount[k]++
}

func (s *Store) decrefLocked(k Key) {
	s.refCount[k]--
	if s.refCount[k] > 0 {
		return
	}
	delete(s.refCount, k)
	rec, ok := s.records[k]
	if !ok {
		return
	}
	children := rec.refIDSnapshot()
	delete(s.records, k)
	if rec.proxy != nil {
		s.owners.Forget(rec.proxy)
	}
	for child := range children {
		s.decrefLocked(child)
	}
}

// RefCount reports an entity's current reference count, mainly for tests.
func (s *Store) RefCount(k Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCount[k]
}

// Len reports the number of interned entities, mainly for tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

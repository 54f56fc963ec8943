package querykv

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/hanpama/reactivecache/internal/entity"
	"github.com/hanpama/reactivecache/internal/normalize"
	"github.com/hanpama/reactivecache/internal/querylog"
	"github.com/hanpama/reactivecache/internal/schema"
)

// QueryKey identifies a persisted query result the way entity.Key identifies
// an interned entity: a stable u32 derived from the query's storageKey.
type QueryKey uint32

// Extras carries the optional companion ref-sets a stream/infinite query
// result persists alongside its main value: entities orphaned by a stream
// page that has scrolled out of the window, and entities inserted
// optimistically ahead of server confirmation.
type Extras struct {
	StreamOrphanRefs     map[entity.Key]struct{}
	OptimisticInsertRefs map[entity.Key]struct{}
}

// Snapshot is what LoadQuery returns on a cache hit.
type Snapshot struct {
	Value     any
	RefIDs    map[entity.Key]struct{}
	UpdatedAt time.Time
}

// SchemaResolver looks up the entity node for a typename, used only during
// entity preload so Store.Write has the node a Proxy needs for Method
// lookups. The query package's schema registry satisfies this directly.
type SchemaResolver func(typename string) (*schema.Node, bool)

// Store is the direct (sync) query store: backend reads/writes happen
// inline on the calling goroutine.
type Store struct {
	backend  Backend
	entities *entity.Store
	schemaOf SchemaResolver
	log      querylog.Logger
	now      func() time.Time
}

// NewStore builds a sync Store. now defaults to time.Now when nil.
func NewStore(backend Backend, entities *entity.Store, schemaOf SchemaResolver, log querylog.Logger, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{backend: backend, entities: entities, schemaOf: schemaOf, log: log, now: now}
}

// SaveQuery persists a query result: its JSON value, its updatedAt stamp,
// and its ref set (diffed against the previous snapshot so newly-dropped
// entity refs cascade-decrement and newly-gained ones increment). It then
// touches the query to the front of its definition's LRU queue.
func (s *Store) SaveQuery(defID string, key QueryKey, value any, refIDs map[entity.Key]struct{}, extra *Extras, maxCount int) error {
	ks := u32Key(uint32(key))

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.backend.SetString(valueKeyStr(ks), string(raw))
	s.backend.SetNumber(updatedAtKeyStr(ks), float64(s.now().UnixMilli()))

	oldRefs := s.readRefIDs(refIDsKeyStr(ks))
	s.diffRefs(oldRefs, refIDs)
	s.writeRefIDs(refIDsKeyStr(ks), refIDs)

	if extra != nil {
		if len(extra.StreamOrphanRefs) > 0 {
			s.writeRefIDs(orphanRefsKeyStr(ks), extra.StreamOrphanRefs)
		}
		if len(extra.OptimisticInsertRefs) > 0 {
			s.writeRefIDs(optimisticRefsKeyStr(ks), extra.OptimisticInsertRefs)
		}
	}

	s.ActivateQuery(defID, key, maxCount)
	return nil
}

// SaveEntity persists one entity's denormalized value and ref set. Callers
// normalizing a fresh payload are expected to call this once per entity
// transitively reached by the write, so a cold LoadQuery can rebuild the
// full graph from disk.
func (s *Store) SaveEntity(key entity.Key, value any, refIDs map[entity.Key]struct{}) error {
	ks := u32Key(uint32(key))
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.backend.SetString(valueKeyStr(ks), string(raw))

	oldRefs := s.readRefIDs(refIDsKeyStr(ks))
	s.diffRefs(oldRefs, refIDs)
	s.writeRefIDs(refIDsKeyStr(ks), refIDs)
	return nil
}

// ActivateQuery moves key to the front of defID's fixed-capacity LRU queue,
// evicting and cascade-deleting whatever falls off the tail.
func (s *Store) ActivateQuery(defID string, key QueryKey, maxCount int) {
	if maxCount <= 0 {
		return
	}
	qk := queueKeyStr(defID)
	buf, _ := s.backend.GetU32Slice(qk)
	if len(buf) != maxCount {
		resized := make([]uint32, maxCount)
		copy(resized, buf)
		buf = resized
	}

	target := uint32(key)
	idx := -1
	for i, v := range buf {
		if v == target {
			idx = i
			break
		}
	}

	switch {
	case idx == 0:
		return
	case idx > 0:
		copy(buf[1:idx+1], buf[0:idx])
		buf[0] = target
	default:
		evicted := buf[len(buf)-1]
		copy(buf[1:], buf[0:len(buf)-1])
		buf[0] = target
		s.backend.SetU32Slice(qk, buf)
		if evicted != 0 {
			s.evictQuery(QueryKey(evicted))
		}
		return
	}
	s.backend.SetU32Slice(qk, buf)
}

// DeleteQuery explicitly evicts a query ahead of its natural LRU eviction:
// a caller invalidating a mutated list should not have to wait for
// capacity pressure to reclaim it.
func (s *Store) DeleteQuery(key QueryKey) {
	s.evictQuery(key)
}

// evictQuery removes a query's persisted value/updatedAt/refIds and
// cascade-decrements the entities it referenced. It is idempotent: calling
// it on an already-evicted key (e.g. a stale LRU queue slot after an
// explicit DeleteQuery) is a no-op rather than a double-decrement.
func (s *Store) evictQuery(key QueryKey) {
	ks := u32Key(uint32(key))
	if _, ok := s.backend.GetString(valueKeyStr(ks)); !ok {
		return
	}
	oldRefs := s.readRefIDs(refIDsKeyStr(ks))
	s.backend.Delete(valueKeyStr(ks))
	s.backend.Delete(updatedAtKeyStr(ks))
	s.backend.Delete(refIDsKeyStr(ks))
	s.backend.Delete(orphanRefsKeyStr(ks))
	s.backend.Delete(optimisticRefsKeyStr(ks))
	s.diffRefs(oldRefs, nil)
}

// LoadQuery returns a cached query result if one exists and has not aged
// past gcTime, preloading every entity it (transitively) references into
// the in-memory entity store first so proxies synthesized from the
// returned value's __entityRef stubs resolve immediately.
func (s *Store) LoadQuery(defID string, key QueryKey, gcTime time.Duration, maxCount int) (*Snapshot, bool) {
	ks := u32Key(uint32(key))

	updatedMs, ok := s.backend.GetNumber(updatedAtKeyStr(ks))
	if !ok {
		return nil, false
	}
	updatedAt := time.UnixMilli(int64(updatedMs))
	if s.now().Sub(updatedAt) >= gcTime {
		return nil, false
	}

	raw, ok := s.backend.GetString(valueKeyStr(ks))
	if !ok {
		s.log.Warn("querykv: updatedAt present without a value, purging", "key", uint32(key))
		s.evictQuery(key)
		return nil, false
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		s.log.Warn("querykv: corrupted cached query value, purging", "key", uint32(key), "err", err.Error())
		s.evictQuery(key)
		return nil, false
	}

	refIDs := s.readRefIDs(refIDsKeyStr(ks))
	s.preloadEntities(refIDs)
	s.ActivateQuery(defID, key, maxCount)

	return &Snapshot{Value: value, RefIDs: refIDs, UpdatedAt: updatedAt}, true
}

// preloadEntities materializes every entity transitively reachable from
// refIDs into the in-memory entity store. It discovers the reachable set
// breadth-first but commits bottom-up (deepest level first), so by the time
// a parent is normalized its child entities already exist in the store and
// its __entityRef stubs hydrate into live proxies on the first pass.
func (s *Store) preloadEntities(refIDs map[entity.Key]struct{}) {
	visited := map[entity.Key]bool{}
	var levels [][]entity.Key
	frontier := keysOf(refIDs)

	for len(frontier) > 0 {
		var level, next []entity.Key
		for _, k := range frontier {
			if visited[k] {
				continue
			}
			visited[k] = true
			if _, ok := s.entities.Lookup(k); ok {
				continue
			}
			level = append(level, k)
			for c := range s.readRefIDs(refIDsKeyStr(u32Key(uint32(k)))) {
				if !visited[c] {
					next = append(next, c)
				}
			}
		}
		if len(level) > 0 {
			levels = append(levels, level)
		}
		frontier = next
	}

	for i := len(levels) - 1; i >= 0; i-- {
		for _, k := range levels[i] {
			s.preloadOne(k)
		}
	}
}

func (s *Store) preloadOne(k entity.Key) {
	ks := u32Key(uint32(k))
	raw, ok := s.backend.GetString(valueKeyStr(ks))
	if !ok {
		return
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		s.log.Warn("querykv: corrupted cached entity, skipping preload", "key", uint32(k), "err", err.Error())
		return
	}
	typename, _ := value["__typename"].(string)
	node, ok := s.schemaOf(typename)
	if !ok {
		s.log.Warn("querykv: no schema for cached entity typename, skipping preload", "typename", typename)
		return
	}
	normalize.Normalize(value, node, s.entities, nil)
}

func (s *Store) diffRefs(oldRefs, newRefs map[entity.Key]struct{}) {
	for k := range oldRefs {
		if _, still := newRefs[k]; !still {
			s.decRefCount(k)
		}
	}
	for k := range newRefs {
		if _, was := oldRefs[k]; !was {
			s.incRefCount(k)
		}
	}
}

func (s *Store) incRefCount(k entity.Key) {
	ks := u32Key(uint32(k))
	cur, _ := s.backend.GetNumber(refCountKeyStr(ks))
	s.backend.SetNumber(refCountKeyStr(ks), cur+1)
}

func (s *Store) decRefCount(k entity.Key) {
	ks := u32Key(uint32(k))
	cur, _ := s.backend.GetNumber(refCountKeyStr(ks))
	cur--
	if cur > 0 {
		s.backend.SetNumber(refCountKeyStr(ks), cur)
		return
	}
	s.cascadeDeleteEntity(k)
}

func (s *Store) cascadeDeleteEntity(k entity.Key) {
	ks := u32Key(uint32(k))
	children := s.readRefIDs(refIDsKeyStr(ks))
	s.backend.Delete(valueKeyStr(ks))
	s.backend.Delete(refCountKeyStr(ks))
	s.backend.Delete(refIDsKeyStr(ks))
	for child := range children {
		s.decRefCount(child)
	}
}

func (s *Store) readRefIDs(key string) map[entity.Key]struct{} {
	buf, ok := s.backend.GetU32Slice(key)
	if !ok {
		return nil
	}
	out := make(map[entity.Key]struct{}, len(buf))
	for _, v := range buf {
		out[entity.Key(v)] = struct{}{}
	}
	return out
}

func (s *Store) writeRefIDs(key string, refIDs map[entity.Key]struct{}) {
	if len(refIDs) == 0 {
		s.backend.Delete(key)
		return
	}
	buf := make([]uint32, 0, len(refIDs))
	for k := range refIDs {
		buf = append(buf, uint32(k))
	}
	sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })
	s.backend.SetU32Slice(key, buf)
}

func keysOf(m map[entity.Key]struct{}) []entity.Key {
	out := make([]entity.Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

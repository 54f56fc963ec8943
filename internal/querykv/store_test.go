package querykv

import (
	"testing"
	"time"

	"github.com/hanpama/reactivecache/internal/entity"
	"github.com/hanpama/reactivecache/internal/querylog"
	"github.com/hanpama/reactivecache/internal/reactive"
	"github.com/hanpama/reactivecache/internal/schema"
)

func userNode() *schema.Node {
	return schema.Entity(func() map[string]*schema.Node {
		return map[string]*schema.Node{
			"__typename": schema.Typename("User"),
			"id":         schema.IDField(),
			"name":       schema.String(),
		}
	})
}

func newTestStore(now time.Time) (*Store, *entity.Store, *memoryBackend) {
	sched := reactive.NewScheduler()
	owners := reactive.NewOwnerRegistry(sched)
	entities := entity.NewStore(sched, owners)
	backend := newMemoryBackend()
	schemaOf := func(typename string) (*schema.Node, bool) {
		if typename == "User" {
			return userNode(), true
		}
		return nil, false
	}
	clock := func() time.Time { return now }
	return NewStore(backend, entities, schemaOf, querylog.Default(), clock), entities, backend
}

func TestStore_SaveThenLoadQueryRoundTrips(t *testing.T) {
	now := time.Now()
	s, _, _ := newTestStore(now)

	userKey := entity.KeyFor("User", "1")
	refs := map[entity.Key]struct{}{userKey: {}}

	if err := s.SaveEntity(userKey, map[string]any{"__typename": "User", "id": "1", "name": "Alice"}, nil); err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}
	if err := s.SaveQuery("getUser", QueryKey(42), map[string]any{"id": "1"}, refs, nil, 10); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}

	snap, ok := s.LoadQuery("getUser", QueryKey(42), 24*time.Hour, 10)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	m, ok := snap.Value.(map[string]any)
	if !ok || m["id"] != "1" {
		t.Fatalf("unexpected snapshot value: %#v", snap.Value)
	}
	if _, ok := snap.RefIDs[userKey]; !ok {
		t.Fatalf("expected snapshot refIDs to include the user key")
	}
}

func TestStore_LoadQueryMissesPastGCTime(t *testing.T) {
	now := time.Now()
	s, _, _ := newTestStore(now)
	if err := s.SaveQuery("getUser", QueryKey(1), "v", nil, nil, 10); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}

	s.now = func() time.Time { return now.Add(25 * time.Hour) }
	if _, ok := s.LoadQuery("getUser", QueryKey(1), 24*time.Hour, 10); ok {
		t.Fatalf("expected stale entry to miss")
	}
}

func TestStore_ActivateQueryEvictsLRUTail(t *testing.T) {
	s, _, backend := newTestStore(time.Now())

	for i := uint32(1); i <= 3; i++ {
		if err := s.SaveQuery("list", QueryKey(i), i, nil, nil, 3); err != nil {
			t.Fatalf("SaveQuery(%d): %v", i, err)
		}
	}
	// Capacity 3, all three present with #1 at the tail; touching #1 moves it
	// to the front.
	s.ActivateQuery("list", QueryKey(1), 3)
	if _, ok := backend.GetString(valueKeyStr(u32Key(1))); !ok {
		t.Fatalf("expected query 1 to still be cached")
	}

	// A fourth distinct query evicts whatever is now at the tail.
	if err := s.SaveQuery("list", QueryKey(4), 4, nil, nil, 3); err != nil {
		t.Fatalf("SaveQuery(4): %v", err)
	}
	buf, _ := backend.GetU32Slice(queueKeyStr("list"))
	present := map[uint32]bool{}
	for _, v := range buf {
		present[v] = true
	}
	if len(present) != 3 {
		t.Fatalf("expected exactly 3 live slots in the queue, got %v", buf)
	}
	if !present[1] || !present[4] {
		t.Fatalf("expected the touched entry (1) and the newest entry (4) to survive, got %v", buf)
	}
}

func TestStore_EvictQueryCascadesEntityRefCount(t *testing.T) {
	s, entities, backend := newTestStore(time.Now())
	userKey := entity.KeyFor("User", "1")

	if err := s.SaveEntity(userKey, map[string]any{"__typename": "User", "id": "1", "name": "Alice"}, nil); err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}
	if err := s.SaveQuery("getUser", QueryKey(7), map[string]any{"id": "1"}, map[entity.Key]struct{}{userKey: {}}, nil, 10); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}

	s.evictQuery(QueryKey(7))

	if _, ok := backend.GetString(valueKeyStr(u32Key(uint32(userKey)))); ok {
		t.Fatalf("expected evicting the only query referencing User#1 to cascade-delete its persisted entry")
	}
	if _, ok := entities.Lookup(userKey); ok {
		t.Fatalf("expected User#1 to stay absent from the in-memory entity store, which the persisted save never populates")
	}
}

func TestStore_DeleteQueryIsIdempotent(t *testing.T) {
	s, _, _ := newTestStore(time.Now())
	s.DeleteQuery(QueryKey(99)) // never saved; must not panic or double-decrement
	if err := s.SaveQuery("q", QueryKey(99), "v", nil, nil, 5); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}
	s.DeleteQuery(QueryKey(99))
	s.DeleteQuery(QueryKey(99)) // second delete on an already-gone key must no-op
	if _, ok := s.LoadQuery("q", QueryKey(99), time.Hour, 5); ok {
		t.Fatalf("expected deleted query to miss")
	}
}

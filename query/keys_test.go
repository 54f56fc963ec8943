package query

import "testing"

func TestStorageKey_StableAcrossParamOrder(t *testing.T) {
	a := storageKey("listUsers", 7, Params{Values: map[string]any{"page": 1, "filter": "active"}})
	b := storageKey("listUsers", 7, Params{Values: map[string]any{"filter": "active", "page": 1}})
	if a != b {
		t.Fatalf("expected storage key to be independent of map iteration order, got %d and %d", a, b)
	}
}

func TestStorageKey_DiffersOnValueChange(t *testing.T) {
	a := storageKey("listUsers", 7, Params{Values: map[string]any{"page": 1}})
	b := storageKey("listUsers", 7, Params{Values: map[string]any{"page": 2}})
	if a == b {
		t.Fatalf("expected different param values to produce different storage keys")
	}
}

func TestStorageKey_IgnoresCellIdentity(t *testing.T) {
	a := storageKey("listUsers", 7, Params{
		Values:     map[string]any{"owner": "u1"},
		Identities: map[string]uint64{"owner": 1},
	})
	b := storageKey("listUsers", 7, Params{
		Values:     map[string]any{"owner": "u1"},
		Identities: map[string]uint64{"owner": 2},
	})
	if a != b {
		t.Fatalf("storage key must be derived only from param values, not cell identity")
	}
}

func TestQueryKey_DistinguishesCellIdentity(t *testing.T) {
	a := queryKey("listUsers", 7, Params{
		Values:     map[string]any{"owner": "u1"},
		Identities: map[string]uint64{"owner": 1},
	})
	b := queryKey("listUsers", 7, Params{
		Values:     map[string]any{"owner": "u1"},
		Identities: map[string]uint64{"owner": 2},
	})
	if a == b {
		t.Fatalf("expected differing cell identities to produce different query keys")
	}
}

func TestQueryKey_SameForIdenticalParams(t *testing.T) {
	a := queryKey("listUsers", 7, Params{Values: map[string]any{"page": 1, "filter": "active"}})
	b := queryKey("listUsers", 7, Params{Values: map[string]any{"filter": "active", "page": 1}})
	if a != b {
		t.Fatalf("expected identical param sets to produce the same query key")
	}
}

func TestStorageKey_DiffersByShapeKey(t *testing.T) {
	a := storageKey("listUsers", 7, Params{Values: map[string]any{"page": 1}})
	b := storageKey("listUsers", 8, Params{Values: map[string]any{"page": 1}})
	if a == b {
		t.Fatalf("expected differing shape keys to produce different storage keys")
	}
}

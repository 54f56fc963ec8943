package query

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
)

// StorageKey identifies a query result for disk-cache lookups: stable
// across process restarts because it is derived only from extracted param
// values, never from in-memory identities.
type StorageKey uint32

// QueryKey identifies a live QueryResult for in-memory dedup: it folds in
// each cell-backed param's identity, so two queries whose current values
// coincide but whose parameter cells differ are kept distinct.
type QueryKey uint32

// Params is what the params function passed to Query's constructor
// returns: Values holds the
// extracted param values (read at the current reactive context, so reading
// them subscribes); Identities holds, for params backed by a reactive cell,
// a stable per-cell identity token (e.g. the cell's ID()) used only for
// QueryKey derivation. A param with no entry in Identities is treated as a
// plain value for both keys.
type Params struct {
	Values     map[string]any
	Identities map[string]uint64
}

func storageKey(defID string, shapeKey uint32, params Params) StorageKey {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d|", defID, shapeKey)
	writeSortedJSON(h, params.Values)
	return StorageKey(h.Sum32())
}

func queryKey(defID string, shapeKey uint32, params Params) QueryKey {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d|", defID, shapeKey)
	names := make([]string, 0, len(params.Values))
	for name := range params.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if id, ok := params.Identities[name]; ok {
			fmt.Fprintf(h, "%s=cell:%d;", name, id)
			continue
		}
		raw, _ := json.Marshal(params.Values[name])
		fmt.Fprintf(h, "%s=%s;", name, raw)
	}
	return QueryKey(h.Sum32())
}

// writeSortedJSON marshals m with deterministically sorted keys so equal
// param sets always produce the same bytes regardless of map iteration
// order.
func writeSortedJSON(h interface{ Write([]byte) (int, error) }, m map[string]any) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw, _ := json.Marshal(m[name])
		fmt.Fprintf(h, "%s=%s;", name, raw)
	}
}

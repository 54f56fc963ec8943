// Package normalize implements the normalization engine: it walks an
// already-validated value under its schema, interns any entities it finds
// into an entity.Store, tracks parent→child entity reference sets, and
// replaces entity subtrees with their reactive proxies.
package normalize

import (
	"fmt"

	"github.com/hanpama/reactivecache/internal/entity"
	"github.com/hanpama/reactivecache/internal/schema"
)

// Normalize walks value under node, decomposing entities into store and
// collecting the keys of entities it directly or transitively references
// into parentRefIDs (nil at the top level of a call with no enclosing
// entity/query). It returns the same shape with entity subtrees replaced by
// their proxies, and with any __entityRef stub already present (loaded from
// a cached snapshot) replaced by the live proxy for that key.
func Normalize(value any, node *schema.Node, store *entity.Store, parentRefIDs map[entity.Key]struct{}) any {
	if node == nil {
		return value
	}
	// TypenameField, IDField, SubEntityPaths and the HAS_SUB_ENTITY bit are
	// only populated once the node is reified.
	node.ShapeKey()
	if !maskMatches(value, node) {
		return value
	}

	switch node.Kind {
	case schema.KindUnion, schema.KindPrimitiveUnion:
		return normalizeUnion(value, node, store, parentRefIDs)
	case schema.KindArray:
		return normalizeArray(value, node, store, parentRefIDs)
	case schema.KindRecord:
		return normalizeRecord(value, node, store, parentRefIDs)
	case schema.KindObject, schema.KindEntity:
		return normalizeObject(value, node, store, parentRefIDs)
	default:
		return value
	}
}

func maskMatches(value any, node *schema.Node) bool {
	return node.Mask.Has(actualMask(value))
}

func actualMask(value any) schema.Mask {
	if entity.IsUndefined(value) {
		return schema.UNDEFINED
	}
	switch value.(type) {
	case nil:
		return schema.NULL
	case string:
		return schema.STRING
	case bool:
		return schema.BOOLEAN
	case float64, int, int64:
		return schema.NUMBER
	case []any:
		return schema.ARRAY
	case map[string]any:
		return schema.OBJECT
	case *entity.Proxy:
		return schema.OBJECT
	default:
		return 0
	}
}

func normalizeUnion(value any, node *schema.Node, store *entity.Store, parentRefIDs map[entity.Key]struct{}) any {
	if arr, ok := value.([]any); ok {
		if branch, ok := node.ArrayBranch(); ok {
			return Normalize(arr, branch, store, parentRefIDs)
		}
		return value
	}
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	if typenameField := discriminatorFieldName(node); typenameField != "" {
		tv, _ := m[typenameField].(string)
		if branch, ok := node.DiscriminatorBranch(tv); ok {
			return Normalize(value, branch, store, parentRefIDs)
		}
		return value
	}
	if branch, ok := node.RecordBranch(); ok {
		return Normalize(value, branch, store, parentRefIDs)
	}
	return value
}

// discriminatorFieldName finds the shared typename field name from any
// branch; every object branch in a well-formed union shares one, since
// schema construction rejects conflicting discriminator field names.
func discriminatorFieldName(node *schema.Node) string {
	for _, b := range node.Branches {
		switch b.Kind {
		case schema.KindObject, schema.KindEntity:
			if b.TypenameField != "" {
				return b.TypenameField
			}
		case schema.KindUnion, schema.KindPrimitiveUnion:
			if name := discriminatorFieldName(b); name != "" {
				return name
			}
		}
	}
	return ""
}

func normalizeArray(value any, node *schema.Node, store *entity.Store, parentRefIDs map[entity.Key]struct{}) any {
	arr, ok := value.([]any)
	if !ok {
		return value
	}
	out := make([]any, len(arr))
	for i, item := range arr {
		out[i] = Normalize(item, node.Child, store, parentRefIDs)
	}
	return out
}

func normalizeRecord(value any, node *schema.Node, store *entity.Store, parentRefIDs map[entity.Key]struct{}) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v, node.Child, store, parentRefIDs)
	}
	return out
}

func normalizeObject(value any, node *schema.Node, store *entity.Store, parentRefIDs map[entity.Key]struct{}) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}

	if _, isRef := m["__entityRef"]; isRef {
		proxy := hydrateRef(m, store)
		if p, ok := proxy.(*entity.Proxy); ok && parentRefIDs != nil {
			parentRefIDs[p.Key()] = struct{}{}
		}
		return proxy
	}

	if node.Kind != schema.KindEntity && !node.Mask.Has(schema.HAS_SUB_ENTITY) {
		return m
	}

	refTarget := parentRefIDs
	var ownRefIDs map[entity.Key]struct{}
	if node.Kind == schema.KindEntity {
		ownRefIDs = make(map[entity.Key]struct{})
		refTarget = ownRefIDs
	}

	for _, path := range node.SubEntityPaths {
		child, present := m[path]
		if !present {
			continue
		}
		field, ok := node.FieldByName(path)
		if !ok {
			continue
		}
		m[path] = Normalize(child, field, store, refTarget)
	}

	if node.Kind != schema.KindEntity {
		return m
	}

	typename, _ := m[node.TypenameField].(string)
	id := idString(m[node.IDField])
	key := entity.KeyFor(typename, id)

	if parentRefIDs != nil {
		parentRefIDs[key] = struct{}{}
	}

	return store.Write(key, typename, node, m, ownRefIDs)
}

func idString(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", raw)
}

func hydrateRef(m map[string]any, store *entity.Store) any {
	raw, ok := m["__entityRef"]
	if !ok {
		return m
	}
	var key entity.Key
	switch v := raw.(type) {
	case float64:
		key = entity.Key(uint32(v))
	case uint32:
		key = entity.Key(v)
	case uint64:
		key = entity.Key(uint32(v))
	default:
		return m
	}
	if proxy, ok := store.Lookup(key); ok {
		return proxy
	}
	return m
}

// Denormalize walks an already-normalized value (possibly containing
// *entity.Proxy values produced by Normalize) and replaces every proxy with
// its __entityRef stub, so the result is plain JSON-marshalable data safe
// to persist to a query's cached snapshot.
func Denormalize(value any) any {
	switch v := value.(type) {
	case *entity.Proxy:
		return v.ToJSON()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = Denormalize(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Denormalize(val)
		}
		return out
	default:
		return value
	}
}

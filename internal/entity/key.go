// Package entity implements the interned entity store: globally deduplicated
// records keyed by type+id, exposed to consumers as proxies that participate
// in the reactive dependency graph (cache writes bump a notifier cell, field
// reads register dependencies on the entity's data).
package entity

import "hash/fnv"

// Key is a stable 32-bit identity for an interned entity, hash("Typename:id").
// u32 matches the KV contract's ref-buffer element type (querykv stores
// refIds as u32[]).
type Key uint32

// KeyFor computes the interning key for an entity of the given typename and
// id using FNV-1a over the UTF-8 bytes of "Typename:id", the same
// stdlib-hash/fnv construction used elsewhere in this codebase for
// deterministic numbering from names.
func KeyFor(typename, id string) Key {
	h := fnv.New32a()
	h.Write([]byte(typename))
	h.Write([]byte(":"))
	h.Write([]byte(id))
	return Key(h.Sum32())
}

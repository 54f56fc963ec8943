package schema

import "sort"

const (
	fnvOffset32 uint32 = 2166136261
	fnvPrime32  uint32 = 16777619
)

// hashString is the primitive all shape hashing builds on: FNV-1a over the
// UTF-8 bytes, so the same string always hashes identically across process
// restarts: shapeKeys must be deterministic across process restarts.
func hashString(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// hashUint32 mixes a single integer into the FNV stream, used to fold a
// Mask or a child shapeKey into a combined hash.
func hashUint32(h uint32, v uint32) uint32 {
	for i := 0; i < 4; i++ {
		h ^= byte32(v, i)
		h *= fnvPrime32
	}
	return h
}

func byte32(v uint32, i int) uint32 { return (v >> (8 * uint(i))) & 0xff }

// combineOrdered folds a sequence of hashes in the order given, for
// positions where order is semantically meaningful (array/record: a single
// child, or a literal set which is pre-sorted for determinism).
func combineOrdered(seed string, parts ...uint32) uint32 {
	h := hashString(seed)
	for _, p := range parts {
		h = hashUint32(h, p)
	}
	return h
}

// combineUnordered XORs a sequence of hashes for order-independent mixing
// (object fields, union branches) so that two schemas built with
// keys/branches in different orders still agree.
func combineUnordered(seed string, parts ...uint32) uint32 {
	h := hashString(seed)
	for _, p := range parts {
		h ^= p
	}
	return h
}

// hashLiteralSet hashes a literal/enum set's contents order-independently:
// the set's membership, not insertion order, determines its identity.
func hashLiteralSet(literals map[string]string, caseInsensitive bool) uint32 {
	keys := make([]string, 0, len(literals))
	for k := range literals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	seed := "literalset"
	if caseInsensitive {
		seed = "literalset:ci"
	}
	h := hashString(seed)
	for _, k := range keys {
		h ^= hashString(k) ^ hashString(literals[k])
	}
	return h
}

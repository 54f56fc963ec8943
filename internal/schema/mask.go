// Package schema implements the type/shape system schema nodes are built
// from: value-kind bitmasks, object/union/array/record/entity structure,
// modifiers for optional/nullable/nullish, and stable order-independent
// shape-key hashing.
package schema

import "github.com/hanpama/reactivecache/internal/format"

// Mask is the bitset every schema node carries: value-kind bits, format
// bits, the PARSE_RESULT bit, and a packed format id in the high bits.
type Mask uint64

// Value-kind bits. Exactly one of STRING, NUMBER, BOOLEAN, NULL, UNDEFINED,
// OBJECT, ARRAY holds for any concrete value a schema accepts.
const (
	STRING Mask = 1 << iota
	NUMBER
	BOOLEAN
	NULL
	UNDEFINED
	OBJECT
	ARRAY
	RECORD
	UNION
	ENTITY
	HAS_SUB_ENTITY
	ID
	HAS_STRING_FORMAT
	HAS_NUMBER_FORMAT
	PARSE_RESULT
)

// formatIDShift and formatIDBits locate the packed format.ID within Mask's
// high bits, clear of every value-kind and flag bit above.
const (
	formatIDShift = 32
	formatIDBits  = 16
	formatIDMask  = Mask((1<<formatIDBits)-1) << formatIDShift
)

// withFormatID packs id into m's high bits alongside its existing flags.
func withFormatID(m Mask, id format.ID) Mask {
	return (m &^ formatIDMask) | (Mask(id) << formatIDShift)
}

// formatIDOf extracts the packed format.ID from m, or 0 if none is set.
func formatIDOf(m Mask) format.ID {
	return format.ID((m & formatIDMask) >> formatIDShift)
}

// Has reports whether every bit in flags is set in m.
func (m Mask) Has(flags Mask) bool { return m&flags == flags }

// Any reports whether any bit in flags is set in m.
func (m Mask) Any(flags Mask) bool { return m&flags != 0 }

// kindBits isolates the bits that describe a concrete value's runtime kind,
// stripping format/flag/id bits used for parsing and reification metadata.
const kindBits = STRING | NUMBER | BOOLEAN | NULL | UNDEFINED | OBJECT | ARRAY | RECORD | UNION | ENTITY

// KindOf strips non-kind bits, leaving only the value-kind portion of m.
func KindOf(m Mask) Mask { return m & kindBits }

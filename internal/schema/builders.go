package schema

import (
	"sort"

	"github.com/hanpama/reactivecache/internal/format"
)

func primitive(mask Mask) *Node { return &Node{Kind: KindPrimitive, Mask: mask} }

// String matches a JSON string.
func String() *Node { return primitive(STRING) }

// Number matches a JSON number.
func Number() *Node { return primitive(NUMBER) }

// Boolean matches a JSON boolean.
func Boolean() *Node { return primitive(BOOLEAN) }

// Null matches only JSON null.
func Null() *Node { return primitive(NULL) }

// Undefined matches only a missing/absent value.
func Undefined() *Node { return primitive(UNDEFINED) }

// IDField matches a JSON string or number tagged as an entity identifier.
func IDField() *Node { return primitive(STRING | NUMBER | ID) }

// Typename returns a literal discriminator node matched against literal.
func Typename(literal string) *Node {
	return &Node{Kind: KindTypename, Mask: STRING, TypenameValue: literal}
}

// Const returns a single-value literal set.
func Const(value string) *Node { return Enum(value) }

// Enum returns an exact-match literal set.
func Enum(values ...string) *Node {
	lits := make(map[string]string, len(values))
	for _, v := range values {
		lits[v] = v
	}
	return &Node{Kind: KindLiteralSet, Mask: STRING, Literals: lits}
}

// EnumCaseInsensitive returns a literal set whose inputs are matched
// case-insensitively, panicking at construction if two distinct canonical
// values collide once lowercased.
func EnumCaseInsensitive(values ...string) *Node {
	lits := make(map[string]string, len(values))
	for _, v := range values {
		key := lowerASCII(v)
		if existing, dup := lits[key]; dup && existing != v {
			panic(schemaErrorf("schema: case-insensitive enum values %q and %q collide", existing, v))
		}
		lits[key] = v
	}
	return &Node{Kind: KindLiteralSet, Mask: STRING, Literals: lits, CaseInsensitive: true}
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Object builds a plain (non-entity) structural node from a field map.
func Object(shape map[string]*Node) *Node {
	return &Node{Kind: KindObject, Mask: OBJECT, Fields: sortedFields(shape)}
}

// Array builds a homogeneous-element array node.
func Array(child *Node) *Node { return &Node{Kind: KindArray, Mask: ARRAY, Child: child} }

// Record builds a homogeneous-value string-keyed map node.
func Record(child *Node) *Node { return &Node{Kind: KindRecord, Mask: RECORD | OBJECT, Child: child} }

// EntityOption configures Entity/Extend beyond their required shape.
type EntityOption func(*Node)

// WithMethods attaches a once-per-schema methods factory; the returned map
// is later bound per proxy.
func WithMethods(factory func() map[string]func(owner any) any) EntityOption {
	return func(n *Node) { n.methodsFactory = factory }
}

// Entity builds a lazily-reified entity node from a zero-arg shape factory,
// so cyclic entity graphs (A→B→A) can be expressed: the factory is not
// invoked until the node's shape/shapeKey/methods are first accessed.
func Entity(shapeFactory func() map[string]*Node, opts ...EntityOption) *Node {
	n := &Node{Kind: KindEntity, Mask: OBJECT}
	n.fieldsFactory = func() []Field { return sortedFields(shapeFactory()) }
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Extend builds a new entity whose field set is parent's fields plus
// newFields, panicking at construction if any name collides.
func Extend(parent *Node, newFields map[string]*Node, opts ...EntityOption) *Node {
	n := &Node{Kind: KindEntity, Mask: OBJECT}
	n.fieldsFactory = func() []Field {
		base := parent.Shape()
		seen := make(map[string]bool, len(base)+len(newFields))
		fields := make([]Field, 0, len(base)+len(newFields))
		for _, f := range base {
			seen[f.Name] = true
			fields = append(fields, f)
		}
		for name := range newFields {
			if seen[name] {
				panic(schemaErrorf("schema: extend field %q collides with a parent field", name))
			}
		}
		for _, f := range sortedFields(newFields) {
			fields = append(fields, f)
		}
		return fields
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Union combines primitive, literal, and object/entity branches. A branch
// list of only primitives/literals collapses to a KindPrimitiveUnion;
// mixing in an object/entity branch produces a KindUnion discriminated by
// typename.
func Union(branches ...*Node) *Node {
	mask := UNION
	hasComplex := false
	for _, b := range branches {
		mask |= b.Mask
		switch b.Kind {
		case KindObject, KindEntity, KindUnion, KindPrimitiveUnion, KindArray, KindRecord:
			hasComplex = true
		}
	}
	kind := KindPrimitiveUnion
	if hasComplex {
		kind = KindUnion
	}
	return &Node{Kind: kind, Mask: mask, Branches: branches}
}

// Optional adds UNDEFINED to the mask, so a missing value is tolerated. The
// result is cached on the parent node.
func Optional(n *Node) *Node {
	if n.optionalVariant == nil {
		n.optionalVariant = withExtraMask(n, UNDEFINED)
	}
	return n.optionalVariant
}

// Nullable adds NULL to the mask.
func Nullable(n *Node) *Node {
	if n.nullableVariant == nil {
		n.nullableVariant = withExtraMask(n, NULL)
	}
	return n.nullableVariant
}

// Nullish adds both NULL and UNDEFINED to the mask.
func Nullish(n *Node) *Node {
	if n.nullishVariant == nil {
		n.nullishVariant = withExtraMask(n, NULL|UNDEFINED)
	}
	return n.nullishVariant
}

// withExtraMask returns a shallow variant of n sharing every structural
// field but carrying extra mask bits, so modifiers never mutate the
// original node (other variants, already-reified metadata) in place.
func withExtraMask(n *Node, extra Mask) *Node {
	v := *n
	v.Mask = n.Mask | extra
	v.reified = false
	v.optionalVariant = nil
	v.nullableVariant = nil
	v.nullishVariant = nil
	return &v
}

// Result decorates schema with PARSE_RESULT: parsing wraps success/failure
// into a discriminated envelope and suppresses the optional-fallback rule.
func Result(n *Node) *Node {
	return withExtraMask(n, PARSE_RESULT)
}

// Format looks name up in registry (internal/format.Default if registry is
// nil) and returns the mask id packed with the matching HAS_STRING_FORMAT
// or HAS_NUMBER_FORMAT bit. Panics if name is unregistered.
func Format(registry *format.Registry, name string) Mask {
	if registry == nil {
		registry = format.Default
	}
	d, ok := registry.Lookup(name)
	if !ok {
		panic(schemaErrorf("schema: unknown format %q", name))
	}
	bit := HAS_STRING_FORMAT
	kindBit := STRING
	if d.InputKind == format.InputNumber {
		bit = HAS_NUMBER_FORMAT
		kindBit = NUMBER
	}
	return withFormatID(kindBit|bit, d.ID)
}

func sortedFields(shape map[string]*Node) []Field {
	names := make([]string, 0, len(shape))
	for name := range shape {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, Field{Name: name, Node: shape[name]})
	}
	return fields
}

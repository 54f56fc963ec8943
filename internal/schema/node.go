package schema

import "fmt"

// Kind discriminates the shape a Node carries: object, union,
// primitive-union, array, record, or entity, extended here with the leaf
// kinds primitives and literals reduce to.
type Kind int

const (
	KindPrimitive Kind = iota
	KindTypename
	KindLiteralSet
	KindObject
	KindEntity
	KindUnion
	KindPrimitiveUnion
	KindArray
	KindRecord
)

// Field is one entry of an object/entity's shape.
type Field struct {
	Name string
	Node *Node
}

// Node is a schema node: a primitive mask, a literal (typename or
// enum/const set), or a structural container (object, entity, union, array,
// record). Complex nodes reify lazily on first access to Shape/ShapeKey via
// reify(), so that entity shape factories may describe cyclic graphs.
type Node struct {
	Kind Kind
	Mask Mask

	// KindTypename
	TypenameValue string

	// KindLiteralSet: canonical values keyed by their matched form. For a
	// case-insensitive set, Literals is keyed by the lowercased form and
	// CaseInsensitive is true; otherwise Literals is keyed by exact value.
	Literals        map[string]string
	CaseInsensitive bool

	// KindObject / KindEntity. fieldsFactory is deferred so cyclic entity
	// graphs can reference a node before its shape is built; Fields is the
	// reified result, populated on first reify().
	fieldsFactory func() []Field
	Fields        []Field
	fieldIndex    map[string]*Node

	IDField        string
	TypenameField  string
	SubEntityPaths []string

	methodsFactory func() map[string]func(owner any) any
	methods        map[string]func(owner any) any

	// KindArray / KindRecord
	Child *Node

	// KindUnion / KindPrimitiveUnion
	Branches         []*Node
	discriminatorMap map[string]*Node
	arrayBranch      *Node
	recordBranch     *Node

	shapeKey uint32
	reified  bool
	reifying bool

	optionalVariant *Node
	nullableVariant *Node
	nullishVariant  *Node
}

// SchemaError is raised synchronously at schema-build/reification time for
// a malformed schema. These are non-recoverable programming bugs, not
// validation failures.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string { return e.Msg }

func schemaErrorf(format string, args ...any) error {
	return &SchemaError{Msg: fmt.Sprintf(format, args...)}
}

// Shape returns the reified field list for an object/entity node, building
// it on first access.
func (n *Node) Shape() []Field {
	n.reify()
	return n.Fields
}

// ShapeKey returns the node's stable 32-bit shape hash, building it (and the
// rest of the node's reified metadata) on first access.
func (n *Node) ShapeKey() uint32 {
	n.reify()
	return n.shapeKey
}

// Methods returns the entity's bound-method factories, building them (via
// the node's methodsFactory, once) on first access. Returns nil for
// non-entity nodes.
func (n *Node) Methods() map[string]func(owner any) any {
	n.reify()
	return n.methods
}

// FieldByName looks up a reified object/entity field by name.
func (n *Node) FieldByName(name string) (*Node, bool) {
	n.reify()
	f, ok := n.fieldIndex[name]
	return f, ok
}

// DiscriminatorBranch resolves a union's object/entity branch by its
// typename discriminator value.
func (n *Node) DiscriminatorBranch(typenameValue string) (*Node, bool) {
	n.reify()
	b, ok := n.discriminatorMap[typenameValue]
	return b, ok
}

// ArrayBranch returns the union's array-kind branch, if any.
func (n *Node) ArrayBranch() (*Node, bool) {
	n.reify()
	return n.arrayBranch, n.arrayBranch != nil
}

// RecordBranch returns the union's record-kind branch, if any.
func (n *Node) RecordBranch() (*Node, bool) {
	n.reify()
	return n.recordBranch, n.recordBranch != nil
}

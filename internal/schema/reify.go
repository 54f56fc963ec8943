package schema

// reify builds shapeKey and, for object/entity/union nodes, the derived
// fieldIndex/discriminatorMap/SubEntityPaths metadata, on first access to
// Shape/ShapeKey/Methods/FieldByName. reifying guards cyclic entity graphs:
// a field whose node is still being reified (an A→B→A cycle) contributes a
// stable placeholder hash rather than recursing forever.
func (n *Node) reify() {
	if n.reified || n.reifying {
		return
	}
	n.reifying = true
	defer func() { n.reifying = false }()

	switch n.Kind {
	case KindPrimitive:
		n.shapeKey = combineOrdered("primitive", uint32(n.Mask))
	case KindTypename:
		n.shapeKey = combineOrdered("typename", hashString(n.TypenameValue))
	case KindLiteralSet:
		n.shapeKey = hashLiteralSet(n.Literals, n.CaseInsensitive)
	case KindObject, KindEntity:
		n.reifyObjectLike()
	case KindUnion, KindPrimitiveUnion:
		n.reifyUnion()
	case KindArray, KindRecord:
		n.reifyContainer()
	}
	n.reified = true
}

func (n *Node) reifyObjectLike() {
	if n.Fields == nil && n.fieldsFactory != nil {
		n.Fields = n.fieldsFactory()
	}
	n.fieldIndex = make(map[string]*Node, len(n.Fields))

	seed := "object"
	if n.Kind == KindEntity {
		seed = "entity"
	}
	acc := hashString(seed)

	for _, f := range n.Fields {
		if _, dup := n.fieldIndex[f.Name]; dup {
			panic(schemaErrorf("schema: duplicate field %q", f.Name))
		}
		n.fieldIndex[f.Name] = f.Node

		if f.Node.Mask.Has(ID) {
			if n.IDField != "" {
				panic(schemaErrorf("schema: duplicate id field %q (already %q)", f.Name, n.IDField))
			}
			n.IDField = f.Name
		}
		if f.Node.Kind == KindTypename {
			if n.TypenameField != "" {
				panic(schemaErrorf("schema: duplicate typename field %q (already %q)", f.Name, n.TypenameField))
			}
			n.TypenameField = f.Name
		}

		fieldHash := fieldShapeHash(f.Node)
		acc = combineUnordered("", acc, hashString(f.Name)^fieldHash)

		if f.Node.Mask.Has(ENTITY) || f.Node.Mask.Has(HAS_SUB_ENTITY) {
			n.Mask |= HAS_SUB_ENTITY
			n.SubEntityPaths = append(n.SubEntityPaths, f.Name)
		}
	}

	if n.Kind == KindEntity {
		if n.IDField == "" {
			panic(schemaErrorf("schema: entity is missing a required id field"))
		}
		if n.TypenameField == "" {
			panic(schemaErrorf("schema: entity is missing a required typename discriminator field"))
		}
		n.Mask |= ENTITY
	}

	if n.methodsFactory != nil && n.methods == nil {
		n.methods = n.methodsFactory()
	}

	n.shapeKey = acc
}

// fieldShapeHash computes the contribution of a single field to its
// parent's shapeKey, recursing into the child's own shapeKey for complex
// nodes. A field still being reified (a cycle) contributes only its Kind
// and Mask rather than a fully recursed shapeKey.
func fieldShapeHash(field *Node) uint32 {
	switch field.Kind {
	case KindPrimitive:
		return uint32(field.Mask)
	case KindTypename:
		return hashString(field.TypenameValue)
	case KindLiteralSet:
		return hashLiteralSet(field.Literals, field.CaseInsensitive)
	default:
		if field.reifying {
			return hashUint32(uint32(field.Kind), uint32(field.Mask))
		}
		field.reify()
		return field.shapeKey
	}
}

func (n *Node) reifyUnion() {
	acc := combineOrdered("union", uint32(n.Mask))
	if len(n.Literals) > 0 {
		acc ^= hashLiteralSet(n.Literals, n.CaseInsensitive)
	}

	n.discriminatorMap = make(map[string]*Node)

	for _, branch := range n.Branches {
		branch.reify()
		acc ^= branch.shapeKey

		switch branch.Kind {
		case KindObject, KindEntity:
			if branch.TypenameField == "" {
				panic(schemaErrorf("schema: union object branch is missing a typename discriminator"))
			}
			for _, f := range branch.Fields {
				if f.Node.Kind != KindTypename {
					continue
				}
				if existing, dup := n.discriminatorMap[f.Node.TypenameValue]; dup && existing != branch {
					panic(schemaErrorf("schema: union has duplicate discriminator value %q", f.Node.TypenameValue))
				}
				n.discriminatorMap[f.Node.TypenameValue] = branch
			}
		case KindUnion, KindPrimitiveUnion:
			for typenameValue, nestedBranch := range branch.discriminatorMap {
				if existing, dup := n.discriminatorMap[typenameValue]; dup && existing != nestedBranch {
					panic(schemaErrorf("schema: nested union has conflicting discriminator value %q", typenameValue))
				}
				n.discriminatorMap[typenameValue] = nestedBranch
			}
			if branch.arrayBranch != nil {
				n.arrayBranch = branch.arrayBranch
			}
			if branch.recordBranch != nil {
				n.recordBranch = branch.recordBranch
			}
		case KindArray:
			n.arrayBranch = branch
		case KindRecord:
			n.recordBranch = branch
		}

		if branch.Mask.Has(HAS_SUB_ENTITY) || branch.Mask.Has(ENTITY) {
			n.Mask |= HAS_SUB_ENTITY
		}
	}

	n.shapeKey = acc
}

func (n *Node) reifyContainer() {
	n.Child.reify()
	seed := "array"
	if n.Kind == KindRecord {
		seed = "record"
	}
	n.shapeKey = combineOrdered(seed, uint32(n.Mask), n.Child.shapeKey)
	if n.Child.Mask.Has(ENTITY) || n.Child.Mask.Has(HAS_SUB_ENTITY) {
		n.Mask |= HAS_SUB_ENTITY
	}
}

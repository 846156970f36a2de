package ir

import (
	"strings"

	"github.com/google/uuid"
)

// QualName is a module-qualified schema name, e.g. default::User.
type QualName struct {
	Module string
	Name   string
}

// ParseQualName splits "module::name". A bare name gets an empty module.
func ParseQualName(s string) QualName {
	if mod, name, ok := strings.Cut(s, "::"); ok {
		return QualName{Module: mod, Name: name}
	}
	return QualName{Name: s}
}

func (q QualName) String() string {
	if q.Module == "" {
		return q.Name
	}
	return q.Module + "::" + q.Name
}

// IsZero reports whether the name is empty.
func (q QualName) IsZero() bool { return q.Module == "" && q.Name == "" }

// ---------- Type References ----------

// TypeKind classifies a TypeRef.
type TypeKind uint8

const (
	KindScalar TypeKind = iota
	KindObject
	KindTuple
	KindArray
)

func (k TypeKind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindTuple:
		return "tuple"
	case KindArray:
		return "array"
	default:
		return "scalar"
	}
}

// TypeRef is a resolved reference to a schema type.
type TypeRef struct {
	ID   uuid.UUID
	Name QualName
	Kind TypeKind

	// Ancestors lists every supertype, nearest first.
	Ancestors []*TypeRef
	// Children lists direct subtypes.
	Children []*TypeRef

	// Union lists the members of a union type.
	Union             []*TypeRef
	UnionIsExhaustive bool

	IsAbstract bool
	IsView     bool
	// FreeObject marks the type of a free object literal, which has
	// no storage of its own.
	FreeObject bool
	// MaterialType is set for view types and points at the stored type.
	MaterialType *TypeRef

	// Subtypes holds tuple elements or the array element type.
	Subtypes    []*TypeRef
	ElementName string
	// PersistentTuple marks a named tuple type stored in the schema.
	PersistentTuple bool

	// PGType overrides the backend type name used for casts.
	PGType string
}

// IsObject reports whether t is an object type.
func (t *TypeRef) IsObject() bool { return t != nil && t.Kind == KindObject }

// IsScalar reports whether t is a scalar type.
func (t *TypeRef) IsScalar() bool { return t != nil && t.Kind == KindScalar }

// IsTuple reports whether t is a tuple type.
func (t *TypeRef) IsTuple() bool { return t != nil && t.Kind == KindTuple }

// IsArray reports whether t is an array type.
func (t *TypeRef) IsArray() bool { return t != nil && t.Kind == KindArray }

// IsUnion reports whether t is a union of other types.
func (t *TypeRef) IsUnion() bool { return t != nil && len(t.Union) > 0 }

// RealMaterialType follows MaterialType links to the stored type.
func (t *TypeRef) RealMaterialType() *TypeRef {
	seen := map[uuid.UUID]bool{}
	for t.MaterialType != nil && !seen[t.ID] {
		seen[t.ID] = true
		t = t.MaterialType
	}
	return t
}

// Descendants returns all transitive subtypes of t in breadth-first
// order, excluding t itself. Each type appears once even if the
// inheritance graph is a DAG with shared subtypes.
func (t *TypeRef) Descendants() []*TypeRef {
	seen := map[uuid.UUID]bool{t.ID: true}
	var out []*TypeRef
	queue := append([]*TypeRef(nil), t.Children...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur.ID] {
			continue
		}
		seen[cur.ID] = true
		out = append(out, cur)
		queue = append(queue, cur.Children...)
	}
	return out
}

// IsSubtypeOf reports whether t is other or one of its descendants.
func (t *TypeRef) IsSubtypeOf(other *TypeRef) bool {
	if t.ID == other.ID {
		return true
	}
	for _, a := range t.Ancestors {
		if a.ID == other.ID {
			return true
		}
	}
	return false
}

func (t *TypeRef) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindTuple:
		parts := make([]string, len(t.Subtypes))
		for i, st := range t.Subtypes {
			if st.ElementName != "" {
				parts[i] = st.ElementName + ": " + st.String()
			} else {
				parts[i] = st.String()
			}
		}
		return "tuple<" + strings.Join(parts, ", ") + ">"
	case KindArray:
		if len(t.Subtypes) == 1 {
			return "array<" + t.Subtypes[0].String() + ">"
		}
	}
	return t.Name.String()
}

// ---------- Pointer References ----------

// Cardinality is the upper cardinality bound of a pointer.
type Cardinality uint8

const (
	CardinalityOne Cardinality = iota
	CardinalityMany
)

// PointerKind distinguishes schema pointers from synthesized ones.
type PointerKind uint8

const (
	PtrRegular PointerKind = iota
	PtrTupleIndirection
	PtrTypeIntersection
)

// Direction is the traversal direction of a pointer step.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "<"
	}
	return ">"
}

// PointerRef is a resolved reference to a link or property.
type PointerRef struct {
	ID        uuid.UUID
	Name      QualName
	ShortName string
	Kind      PointerKind

	OutSource   *TypeRef
	OutTarget   *TypeRef
	Cardinality Cardinality
	Required    bool

	// IsLinkProperty marks a property defined on a link.
	IsLinkProperty bool
	// HasProperties marks a link carrying link properties, which
	// forces link-table storage.
	HasProperties bool

	Children               []*PointerRef
	UnionComponents        []*PointerRef
	IntersectionComponents []*PointerRef
	UnionIsExhaustive      bool
	MaterialPtr            *PointerRef

	// Column overrides the storage column name.
	Column string
}

// IsLink reports whether the pointer targets an object type.
func (p *PointerRef) IsLink() bool { return p.OutTarget.IsObject() }

// IsMulti reports whether the pointer may hold more than one value.
func (p *PointerRef) IsMulti() bool { return p.Cardinality == CardinalityMany }

// IsInline reports whether the pointer is stored as a column of its
// source type's table. Multi pointers and links with properties live
// in a separate link table.
func (p *PointerRef) IsInline() bool {
	if p.Kind != PtrRegular {
		return false
	}
	if p.IsLinkProperty {
		return true
	}
	return !p.IsMulti() && !p.HasProperties
}

// RealMaterialPtr follows MaterialPtr links to the stored pointer.
func (p *PointerRef) RealMaterialPtr() *PointerRef {
	seen := map[uuid.UUID]bool{}
	for p.MaterialPtr != nil && !seen[p.ID] {
		seen[p.ID] = true
		p = p.MaterialPtr
	}
	return p
}

// Descendants returns every transitive child pointer, excluding p.
func (p *PointerRef) Descendants() []*PointerRef {
	seen := map[uuid.UUID]bool{p.ID: true}
	var out []*PointerRef
	queue := append([]*PointerRef(nil), p.Children...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur.ID] {
			continue
		}
		seen[cur.ID] = true
		out = append(out, cur)
		queue = append(queue, cur.Children...)
	}
	return out
}

func (p *PointerRef) String() string {
	if p == nil {
		return "<nil>"
	}
	if p.ShortName != "" {
		return p.ShortName
	}
	return p.Name.Name
}

// tupleNamespace seeds deterministic ids for synthesized pointers.
var tupleNamespace = uuid.MustParse("5b7e0c0e-6f1d-4c5e-9a51-0f3c7f1e2b44")

// TupleIndirectionPointer returns the pointer that selects element name
// out of tuple. Calls with the same arguments return pointers with the
// same ID, so path ids built from them compare equal.
func TupleIndirectionPointer(tuple *TypeRef, name string, element *TypeRef) *PointerRef {
	id := uuid.NewSHA1(tupleNamespace, []byte(tuple.ID.String()+"/"+name))
	return &PointerRef{
		ID:        id,
		Name:      QualName{Module: "__tuple__", Name: name},
		ShortName: name,
		Kind:      PtrTupleIndirection,
		OutSource: tuple,
		OutTarget: element,
		Required:  true,
	}
}

// IDPointer returns the synthesized "id" property of an object type.
func IDPointer(objType, uuidType *TypeRef) *PointerRef {
	return &PointerRef{
		ID:        uuid.NewSHA1(tupleNamespace, []byte(objType.ID.String()+"/id")),
		Name:      QualName{Module: "std", Name: "id"},
		ShortName: "id",
		OutSource: objType,
		OutTarget: uuidType,
		Required:  true,
		Column:    "id",
	}
}

package compiler

import (
	"github.com/google/uuid"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

func objType(name string, parents ...*ir.TypeRef) *ir.TypeRef {
	t := &ir.TypeRef{ID: uuid.New(), Name: ir.ParseQualName(name), Kind: ir.KindObject}
	for _, p := range parents {
		t.Ancestors = append(t.Ancestors, p)
		t.Ancestors = append(t.Ancestors, p.Ancestors...)
		p.Children = append(p.Children, t)
	}
	return t
}

func scalarType(name, pgType string) *ir.TypeRef {
	return &ir.TypeRef{ID: uuid.New(), Name: ir.ParseQualName(name), Kind: ir.KindScalar, PGType: pgType}
}

func pointer(src *ir.TypeRef, name string, tgt *ir.TypeRef, card ir.Cardinality) *ir.PointerRef {
	return &ir.PointerRef{
		ID:          uuid.New(),
		Name:        ir.QualName{Module: src.Name.Module, Name: name},
		ShortName:   name,
		OutSource:   src,
		OutTarget:   tgt,
		Cardinality: card,
	}
}

// testSchema is
//
//	type Foo { name: str; multi tags: str; multi bar: Bar { weight: int64 } }
//	type Bar { id: uuid; owner: Foo }
//	type SpecialBar extending Bar
type testSchema struct {
	str, uuidT, int64T *ir.TypeRef

	foo, bar, specialBar *ir.TypeRef

	name, tags, barLink, weight, barID, owner *ir.PointerRef
}

func newTestSchema() *testSchema {
	s := &testSchema{
		str:    scalarType("std::str", ""),
		uuidT:  scalarType("std::uuid", ""),
		int64T: scalarType("std::int64", ""),
	}
	s.foo = objType("default::Foo")
	s.bar = objType("default::Bar")
	s.specialBar = objType("default::SpecialBar", s.bar)

	s.name = pointer(s.foo, "name", s.str, ir.CardinalityOne)
	s.name.Required = true
	s.tags = pointer(s.foo, "tags", s.str, ir.CardinalityMany)
	s.barLink = pointer(s.foo, "bar", s.bar, ir.CardinalityMany)
	s.barLink.HasProperties = true
	s.weight = pointer(s.bar, "weight", s.int64T, ir.CardinalityOne)
	s.weight.IsLinkProperty = true
	s.barID = ir.IDPointer(s.bar, s.uuidT)
	s.owner = pointer(s.bar, "owner", s.foo, ir.CardinalityOne)
	return s
}

func (s *testSchema) fooSet() *ir.Set {
	return &ir.Set{PathID: ir.NewPathID(s.foo), Type: s.foo, Expr: &ir.TypeRoot{Type: s.foo}}
}

func (s *testSchema) barSet() *ir.Set {
	return &ir.Set{PathID: ir.NewPathID(s.bar), Type: s.bar, Expr: &ir.TypeRoot{Type: s.bar}}
}

func step(src *ir.Set, ptr *ir.PointerRef, dir ir.Direction) *ir.Set {
	pid := src.PathID.Extend(ptr, dir, nil)
	return &ir.Set{
		PathID: pid,
		Type:   pid.Target(),
		Expr:   &ir.Pointer{Source: src, Ref: ptr, Direction: dir},
	}
}

func literal(t *ir.TypeRef, v string) *ir.Set {
	return &ir.Set{PathID: ir.NewPathID(t, "lit", v), Type: t, Expr: &ir.Literal{Value: v, Type: t}}
}

func selectSet(result *ir.Set, where *ir.Set) *ir.Set {
	return &ir.Set{
		PathID: result.PathID,
		Type:   result.Type,
		Expr:   &ir.SelectStmt{Result: result, Where: where},
	}
}

func newTestContext(opts ...Option) *Context {
	return NewContext(NewEnvironment(opts...), &pgast.SelectStmt{})
}

// collect returns every node of type T reachable from n.
func collect[T pgast.Node](n pgast.Node) []T {
	var out []T
	pgast.Inspect(n, func(node pgast.Node) bool {
		if t, ok := node.(T); ok {
			out = append(out, t)
		}
		return true
	})
	return out
}

func relationNames(n pgast.Node) []string {
	var out []string
	for _, r := range collect[*pgast.Relation](n) {
		out = append(out, r.Name)
	}
	return out
}

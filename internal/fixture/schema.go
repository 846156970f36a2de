package fixture

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/geldata/gel/pkg/compiler"
	"github.com/geldata/gel/pkg/ir"
)

// Schema is the resolved schema of a fixture. It also maps the schema
// onto storage, honoring per-type and per-pointer table overrides.
type Schema struct {
	types    map[string]*ir.TypeRef
	pointers map[uuid.UUID][]*ir.PointerRef
	// linkProps holds the properties of each link, keyed by link id.
	linkProps map[uuid.UUID][]*ir.PointerRef
	idPtrs    map[uuid.UUID]*ir.PointerRef

	typeTables map[uuid.UUID]string
	ptrTables  map[uuid.UUID]string
}

var _ compiler.Catalog = (*Schema)(nil)

func newSchema() *Schema {
	return &Schema{
		types:      map[string]*ir.TypeRef{},
		pointers:   map[uuid.UUID][]*ir.PointerRef{},
		linkProps:  map[uuid.UUID][]*ir.PointerRef{},
		idPtrs:     map[uuid.UUID]*ir.PointerRef{},
		typeTables: map[uuid.UUID]string{},
		ptrTables:  map[uuid.UUID]string{},
	}
}

// BuildSchema resolves spec. Types may refer to types declared later
// in the file; std scalars need no declaration.
func BuildSchema(spec SchemaSpec) (*Schema, error) {
	s := newSchema()
	for _, sc := range spec.Scalars {
		name := ir.ParseQualName(sc.Name)
		if name.Module == "" {
			name.Module = "default"
		}
		if _, dup := s.types[name.String()]; dup {
			return nil, errors.Newf("duplicate type %q", sc.Name)
		}
		s.types[name.String()] = &ir.TypeRef{ID: uuid.New(), Name: name, Kind: ir.KindScalar, PGType: sc.PGType}
	}
	for _, ts := range spec.Types {
		name := ir.ParseQualName(ts.Name)
		if name.Module == "" {
			name.Module = "default"
		}
		if _, dup := s.types[name.String()]; dup {
			return nil, errors.Newf("duplicate type %q", ts.Name)
		}
		t := &ir.TypeRef{ID: uuid.New(), Name: name, Kind: ir.KindObject, IsAbstract: ts.Abstract}
		s.types[name.String()] = t
		if ts.Table != "" {
			s.typeTables[t.ID] = ts.Table
		}
	}

	specs := map[string]TypeSpec{}
	for _, ts := range spec.Types {
		specs[s.mustType(ts.Name).Name.String()] = ts
	}
	resolved := map[uuid.UUID]bool{}
	for _, ts := range spec.Types {
		if err := s.resolveBases(s.mustType(ts.Name), specs, resolved, nil); err != nil {
			return nil, err
		}
	}
	for _, ts := range spec.Types {
		t := s.mustType(ts.Name)
		if ts.ViewOf != "" {
			mat, err := s.objectType(ts.ViewOf)
			if err != nil {
				return nil, errors.Wrapf(err, "view %s", t.Name)
			}
			t.IsView = true
			t.MaterialType = mat
		}
		for _, ps := range ts.Pointers {
			if err := s.addPointer(t, ps); err != nil {
				return nil, errors.Wrapf(err, "type %s", t.Name)
			}
		}
	}
	return s, nil
}

// resolveBases fills in the ancestors of t, nearest first, after those
// of its bases.
func (s *Schema) resolveBases(t *ir.TypeRef, specs map[string]TypeSpec, resolved map[uuid.UUID]bool, stack []string) error {
	if resolved[t.ID] {
		return nil
	}
	for _, name := range stack {
		if name == t.Name.String() {
			return errors.Newf("inheritance cycle through %s", strings.Join(append(stack, name), " -> "))
		}
	}
	stack = append(stack, t.Name.String())

	for _, baseName := range specs[t.Name.String()].Bases {
		base, err := s.objectType(baseName)
		if err != nil {
			return errors.Wrapf(err, "base of %s", t.Name)
		}
		if err := s.resolveBases(base, specs, resolved, stack); err != nil {
			return err
		}
		t.Ancestors = append(t.Ancestors, base)
		for _, a := range base.Ancestors {
			if !containsType(t.Ancestors, a) {
				t.Ancestors = append(t.Ancestors, a)
			}
		}
		base.Children = append(base.Children, t)
	}
	resolved[t.ID] = true
	return nil
}

func containsType(ts []*ir.TypeRef, t *ir.TypeRef) bool {
	for _, x := range ts {
		if x.ID == t.ID {
			return true
		}
	}
	return false
}

func (s *Schema) addPointer(src *ir.TypeRef, ps PointerSpec) error {
	if ps.Name == "" || ps.Name == "id" {
		return errors.Newf("invalid pointer name %q", ps.Name)
	}
	for _, p := range s.pointers[src.ID] {
		if p.ShortName == ps.Name {
			return errors.Newf("duplicate pointer %q", ps.Name)
		}
	}
	ptr, err := s.newPointer(src, ps)
	if err != nil {
		return err
	}
	if len(ps.Properties) > 0 {
		if !ptr.IsLink() {
			return errors.Newf("property %q cannot have link properties", ps.Name)
		}
		ptr.HasProperties = true
		for _, prop := range ps.Properties {
			lp, err := s.newPointer(ptr.OutTarget, prop)
			if err != nil {
				return errors.Wrapf(err, "link %q", ps.Name)
			}
			if lp.IsLink() || lp.IsMulti() {
				return errors.Newf("link property %q must be a single property", prop.Name)
			}
			lp.IsLinkProperty = true
			s.linkProps[ptr.ID] = append(s.linkProps[ptr.ID], lp)
		}
	}
	if ps.Table != "" {
		s.ptrTables[ptr.ID] = ps.Table
	}
	s.pointers[src.ID] = append(s.pointers[src.ID], ptr)
	return nil
}

func (s *Schema) newPointer(src *ir.TypeRef, ps PointerSpec) (*ir.PointerRef, error) {
	tgt, err := s.Type(ps.Target)
	if err != nil {
		return nil, errors.Wrapf(err, "pointer %q", ps.Name)
	}
	card := ir.CardinalityOne
	if ps.Multi {
		card = ir.CardinalityMany
	}
	return &ir.PointerRef{
		ID:          uuid.New(),
		Name:        ir.QualName{Module: src.Name.Module, Name: ps.Name},
		ShortName:   ps.Name,
		OutSource:   src,
		OutTarget:   tgt,
		Cardinality: card,
		Required:    ps.Required,
		Column:      ps.Column,
	}, nil
}

// Type returns the type called name. Unknown std types are scalars
// created on first use.
func (s *Schema) Type(name string) (*ir.TypeRef, error) {
	qn := ir.ParseQualName(name)
	if qn.Module == "" {
		qn.Module = "default"
	}
	if t, ok := s.types[qn.String()]; ok {
		return t, nil
	}
	if qn.Module == "std" {
		t := &ir.TypeRef{ID: uuid.New(), Name: qn, Kind: ir.KindScalar}
		s.types[qn.String()] = t
		return t, nil
	}
	return nil, errors.Newf("unknown type %q", name)
}

func (s *Schema) objectType(name string) (*ir.TypeRef, error) {
	t, err := s.Type(name)
	if err != nil {
		return nil, err
	}
	if !t.IsObject() {
		return nil, errors.Newf("%s is not an object type", t.Name)
	}
	return t, nil
}

// mustType looks up a type BuildSchema has already declared.
func (s *Schema) mustType(name string) *ir.TypeRef {
	t, err := s.Type(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Pointer returns the pointer called name on t, its ancestors or the
// type it is a view of. "id" is defined on every object type.
func (s *Schema) Pointer(t *ir.TypeRef, name string) (*ir.PointerRef, error) {
	if !t.IsObject() {
		return nil, errors.Newf("%s has no pointer %q", t.Name, name)
	}
	if name == "id" {
		return s.idPointer(t), nil
	}
	for _, cur := range s.lookupChain(t) {
		for _, p := range s.pointers[cur.ID] {
			if p.ShortName == name {
				return p, nil
			}
		}
	}
	return nil, errors.Newf("%s has no pointer %q", t.Name, name)
}

// Backlink returns the link called name that points at t or one of its
// ancestors, for traversal in the inbound direction.
func (s *Schema) Backlink(t *ir.TypeRef, name string) (*ir.PointerRef, error) {
	targets := s.lookupChain(t)
	var found *ir.PointerRef
	for _, ptrs := range s.pointers {
		for _, p := range ptrs {
			if p.ShortName != name || !p.IsLink() || !containsType(targets, p.OutTarget) {
				continue
			}
			if found != nil && found.ID != p.ID {
				return nil, errors.Newf("backlink %q to %s is ambiguous", name, t.Name)
			}
			found = p
		}
	}
	if found == nil {
		return nil, errors.Newf("no link %q points at %s", name, t.Name)
	}
	return found, nil
}

// LinkProperty returns the property called name of link.
func (s *Schema) LinkProperty(link *ir.PointerRef, name string) (*ir.PointerRef, error) {
	for _, p := range s.linkProps[link.ID] {
		if p.ShortName == name {
			return p, nil
		}
	}
	return nil, errors.Newf("link %s has no property %q", link, name)
}

func (s *Schema) lookupChain(t *ir.TypeRef) []*ir.TypeRef {
	chain := append([]*ir.TypeRef{t}, t.Ancestors...)
	if t.MaterialType != nil {
		mat := t.RealMaterialType()
		chain = append(chain, mat)
		chain = append(chain, mat.Ancestors...)
	}
	return chain
}

func (s *Schema) idPointer(t *ir.TypeRef) *ir.PointerRef {
	if p, ok := s.idPtrs[t.ID]; ok {
		return p
	}
	uuidType, _ := s.Type("std::uuid")
	p := ir.IDPointer(t, uuidType)
	s.idPtrs[t.ID] = p
	return p
}

// TypeTable implements compiler.Catalog.
func (s *Schema) TypeTable(t *ir.TypeRef) compiler.Table {
	t = t.RealMaterialType()
	tbl := compiler.DefaultCatalog{}.TypeTable(t)
	if name, ok := s.typeTables[t.ID]; ok {
		tbl.Name = name
	}
	return tbl
}

// PointerTable implements compiler.Catalog.
func (s *Schema) PointerTable(ptr *ir.PointerRef) compiler.PointerTable {
	ptr = ptr.RealMaterialPtr()
	pt := compiler.DefaultCatalog{}.PointerTable(ptr)
	if name, ok := s.ptrTables[ptr.ID]; ok {
		pt.Name = name
	}
	return pt
}

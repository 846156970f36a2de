package fixture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/geldata/gel/pkg/compiler"
	"github.com/geldata/gel/pkg/ir"
)

// Unit is a fixture built into a compilable statement.
type Unit struct {
	Name      string
	Schema    *Schema
	Statement *ir.Statement
	Expect    *Expect
}

// Build resolves the schema of f and builds its query.
func Build(f *File) (*Unit, error) {
	schema, err := BuildSchema(f.Schema)
	if err != nil {
		return nil, errors.Wrapf(err, "fixture %s: schema", f.Name)
	}
	b := &builder{schema: schema, scope: ir.NewScopeTree(), nextScopeID: 2}

	stmt := &ir.Statement{
		TypeRewrites:      map[ir.RewriteKey]*ir.Set{},
		MaterializedViews: map[uuid.UUID]*ir.MaterializedView{},
	}
	for _, rw := range f.Schema.Rewrites {
		if err := b.addRewrite(stmt, rw); err != nil {
			return nil, errors.Wrapf(err, "fixture %s: rewrite of %s", f.Name, rw.Type)
		}
	}
	for _, v := range f.Schema.MaterializedViews {
		if err := b.addMaterializedView(stmt, v); err != nil {
			return nil, errors.Wrapf(err, "fixture %s: materialized view %s", f.Name, v.Type)
		}
	}

	set, err := b.query(f.Query, "", nil)
	if err != nil {
		return nil, errors.Wrapf(err, "fixture %s: query", f.Name)
	}
	stmt.Expr = set
	if b.scoped {
		stmt.ScopeTree = b.scope
	}
	return &Unit{Name: f.Name, Schema: schema, Statement: stmt, Expect: f.Expect}, nil
}

// Compile compiles the statement of u against its schema.
func (u *Unit) Compile(opts ...compiler.Option) (*compiler.Result, error) {
	opts = append([]compiler.Option{compiler.WithCatalog(u.Schema)}, opts...)
	res, err := compiler.Compile(u.Statement, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "fixture %s", u.Name)
	}
	return res, nil
}

type builder struct {
	schema      *Schema
	scope       *ir.ScopeTreeNode
	scoped      bool
	nextScopeID int

	namespaces int
	literals   int
	dml        int
}

func (b *builder) namespace(hint string) string {
	b.namespaces++
	return hint + strconv.Itoa(b.namespaces)
}

// query builds q. Its subject lives in namespace ns, and reads of the
// subject observe the effects of dml.
func (b *builder) query(q QuerySpec, ns string, dml []ir.MutatingStmt) (*ir.Set, error) {
	switch q.Kind {
	case "insert":
		return b.insert(q)
	case "update":
		return b.update(q)
	case "delete":
		return b.delete(q)
	}
	return b.selectQuery(q, ns, dml)
}

func (b *builder) selectQuery(q QuerySpec, ns string, dml []ir.MutatingStmt) (*ir.Set, error) {
	var iter *ir.Set
	if q.Iterator != nil {
		var err error
		if iter, err = b.query(*q.Iterator, b.namespace("it"), dml); err != nil {
			return nil, errors.Wrap(err, "iterator")
		}
		if m, ok := iter.Expr.(ir.MutatingStmt); ok {
			dml = append(dml, m)
		}
	}

	root, err := b.root(q.Subject, ns, q.Exact)
	if err != nil {
		return nil, err
	}
	root.DMLSources = dml
	result, err := b.path(root, q.Path)
	if err != nil {
		return nil, err
	}
	if err := b.shape(result, q.Shape); err != nil {
		return nil, err
	}

	sel := &ir.SelectStmt{Result: result, Iterator: iter}
	if q.Filter != nil {
		if sel.Where, err = b.filter(result, *q.Filter); err != nil {
			return nil, err
		}
	}
	for _, o := range q.Order {
		key, err := b.path(result, o.Path)
		if err != nil {
			return nil, errors.Wrap(err, "order")
		}
		sel.OrderBy = append(sel.OrderBy, ir.SortExpr{Expr: key, Descending: o.Desc, NullsFirst: o.NullsFirst})
	}
	if q.Offset != nil {
		sel.Offset = b.literal(b.int64Type(), strconv.FormatInt(*q.Offset, 10))
	}
	if q.Limit != nil {
		sel.Limit = b.literal(b.int64Type(), strconv.FormatInt(*q.Limit, 10))
	}

	out := result
	if sel.Iterator != nil || sel.Where != nil || len(sel.OrderBy) > 0 || sel.Offset != nil || sel.Limit != nil {
		out = &ir.Set{PathID: result.PathID, Type: result.Type, Expr: sel}
	}
	if q.Materialize {
		out = &ir.Set{
			PathID: ir.NewPathID(out.Type, b.namespace("mat")),
			Type:   out.Type,
			Expr:   &ir.Materialize{Set: out},
		}
	}
	if q.Scoped {
		b.scoped = true
		b.scope.AttachPath(b.nextScopeID, result.PathID, false)
		b.nextScopeID++
		out.PathScopeID = b.scope.ID
	}
	return out, nil
}

func (b *builder) root(name, ns string, exact bool) (*ir.Set, error) {
	t, err := b.schema.objectType(name)
	if err != nil {
		return nil, err
	}
	var pid ir.PathID
	if ns == "" {
		pid = ir.NewPathID(t)
	} else {
		pid = ir.NewPathID(t, ns)
	}
	return &ir.Set{PathID: pid, Type: t, Expr: &ir.TypeRoot{Type: t, SkipSubtypes: exact}}, nil
}

// path follows a dot-separated path from src. See FilterSpec for the
// syntax of a step.
func (b *builder) path(src *ir.Set, path string) (*ir.Set, error) {
	if path == "" {
		return src, nil
	}
	cur := src
	for _, raw := range strings.Split(path, ".") {
		next, err := b.step(cur, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "path %q", path)
		}
		cur = next
	}
	return cur, nil
}

func (b *builder) step(src *ir.Set, raw string) (*ir.Set, error) {
	name := strings.TrimSuffix(raw, "?")
	optional := len(name) != len(raw)

	var ptr *ir.PointerRef
	var err error
	dir := ir.Outbound
	switch {
	case strings.HasPrefix(name, "<"):
		dir = ir.Inbound
		ptr, err = b.schema.Backlink(src.Type, name[1:])
	case strings.HasPrefix(name, "@"):
		link, ok := src.Expr.(*ir.Pointer)
		if !ok || link.Direction != ir.Outbound || !link.Ref.IsLink() {
			return nil, errors.Newf("link property %s outside of a link", name)
		}
		ptr, err = b.schema.LinkProperty(link.Ref, name[1:])
	default:
		ptr, err = b.schema.Pointer(src.Type, name)
	}
	if err != nil {
		return nil, err
	}

	pid := src.PathID.Extend(ptr, dir, nil)
	return &ir.Set{
		PathID:     pid,
		Type:       pid.Target(),
		Expr:       &ir.Pointer{Source: src, Ref: ptr, Direction: dir, Optional: optional},
		DMLSources: src.DMLSources,
	}, nil
}

func (b *builder) shape(set *ir.Set, elems []ShapeSpec) error {
	for _, el := range elems {
		name := el.Name
		if el.Optional && !strings.HasSuffix(name, "?") {
			name += "?"
		}
		child, err := b.step(set, name)
		if err != nil {
			return errors.Wrap(err, "shape")
		}
		if len(el.Shape) > 0 {
			if !child.Type.IsObject() {
				return errors.Newf("shape on non-object %s", el.Name)
			}
			if err := b.shape(child, el.Shape); err != nil {
				return err
			}
		}
		set.Shape = append(set.Shape, child)
	}
	return nil
}

// filter builds the boolean set of f evaluated over src. A literal
// operand takes the type of the path it is compared with.
func (b *builder) filter(src *ir.Set, f FilterSpec) (*ir.Set, error) {
	left, err := b.path(src, f.Path)
	if err != nil {
		return nil, errors.Wrap(err, "filter")
	}
	var right *ir.Set
	if f.ValueOf != "" {
		if right, err = b.path(src, f.ValueOf); err != nil {
			return nil, errors.Wrap(err, "filter")
		}
	} else {
		right = b.literal(left.Type, f.Value)
	}
	op := f.Op
	if op == "" {
		op = "="
	}
	boolType, _ := b.schema.Type("std::bool")
	return &ir.Set{
		PathID: ir.NewPathID(boolType, b.namespace("cond")),
		Type:   boolType,
		Expr:   &ir.Comparison{Op: op, Left: left, Right: right},
	}, nil
}

func (b *builder) literal(t *ir.TypeRef, v string) *ir.Set {
	b.literals++
	return &ir.Set{
		PathID: ir.NewPathID(t, "lit", strconv.Itoa(b.literals)),
		Type:   t,
		Expr:   &ir.Literal{Value: v, Type: t},
	}
}

func (b *builder) int64Type() *ir.TypeRef {
	t, _ := b.schema.Type("std::int64")
	return t
}

func (b *builder) dmlKey(kind string) string {
	b.dml++
	return fmt.Sprintf("%s%d", kind, b.dml)
}

// dmlSet wraps stmt into a set standing for the objects it writes.
func (b *builder) dmlSet(stmt ir.MutatingStmt, shape []ShapeSpec) (*ir.Set, error) {
	subj := stmt.SubjectSet()
	set := &ir.Set{PathID: subj.PathID, Type: subj.Type, Expr: stmt}
	if err := b.shape(set, shape); err != nil {
		return nil, err
	}
	return set, nil
}

func (b *builder) insert(q QuerySpec) (*ir.Set, error) {
	key := b.dmlKey("ins")
	subj, err := b.root(q.Subject, key, true)
	if err != nil {
		return nil, err
	}
	if subj.Type.IsAbstract {
		return nil, errors.Newf("cannot insert into abstract type %s", subj.Type.Name)
	}
	els, err := b.assignments(subj, q.Set)
	if err != nil {
		return nil, err
	}
	return b.dmlSet(&ir.InsertStmt{Key: key, Subject: subj, Elements: els}, q.Shape)
}

func (b *builder) update(q QuerySpec) (*ir.Set, error) {
	key := b.dmlKey("upd")
	subj, err := b.root(q.Subject, key, q.Exact)
	if err != nil {
		return nil, err
	}
	stmt := &ir.UpdateStmt{Key: key, Subject: subj}
	if q.Filter != nil {
		if stmt.Where, err = b.filter(subj, *q.Filter); err != nil {
			return nil, err
		}
	}
	if stmt.Elements, err = b.assignments(subj, q.Set); err != nil {
		return nil, err
	}
	return b.dmlSet(stmt, q.Shape)
}

func (b *builder) delete(q QuerySpec) (*ir.Set, error) {
	key := b.dmlKey("del")
	subj, err := b.root(q.Subject, key, q.Exact)
	if err != nil {
		return nil, err
	}
	stmt := &ir.DeleteStmt{Key: key, Subject: subj}
	if q.Filter != nil {
		if stmt.Where, err = b.filter(subj, *q.Filter); err != nil {
			return nil, err
		}
	}
	return b.dmlSet(stmt, q.Shape)
}

func (b *builder) assignments(subj *ir.Set, specs []AssignSpec) ([]ir.Assignment, error) {
	out := make([]ir.Assignment, 0, len(specs))
	for _, a := range specs {
		ptr, err := b.schema.Pointer(subj.Type, a.Name)
		if err != nil {
			return nil, err
		}
		if ptr.ShortName == "id" {
			return nil, errors.Newf("cannot assign to id")
		}
		var value *ir.Set
		if a.Select != nil {
			if value, err = b.query(*a.Select, b.namespace("sel"), nil); err != nil {
				return nil, errors.Wrapf(err, "value of %s", a.Name)
			}
		} else {
			if ptr.IsLink() {
				return nil, errors.Newf("link %s needs a select", a.Name)
			}
			value = b.literal(ptr.OutTarget, a.Value)
		}
		out = append(out, ir.Assignment{Pointer: ptr, Value: value})
	}
	return out, nil
}

func (b *builder) addRewrite(stmt *ir.Statement, rw RewriteSpec) error {
	t, err := b.schema.objectType(rw.Type)
	if err != nil {
		return err
	}
	root := &ir.Set{PathID: ir.NewPathID(t, b.namespace("rw")), Type: t, Expr: &ir.TypeRoot{Type: t}}
	cond, err := b.filter(root, rw.Filter)
	if err != nil {
		return err
	}
	key := ir.RewriteKey{TypeID: t.ID, IncludeDescendants: !rw.Exact}
	if _, dup := stmt.TypeRewrites[key]; dup {
		return errors.Newf("duplicate rewrite")
	}
	stmt.TypeRewrites[key] = &ir.Set{
		PathID: root.PathID,
		Type:   t,
		Expr:   &ir.SelectStmt{Result: root, Where: cond},
	}
	return nil
}

func (b *builder) addMaterializedView(stmt *ir.Statement, v ViewSpec) error {
	t, err := b.schema.objectType(v.Type)
	if err != nil {
		return err
	}
	mv := &ir.MaterializedView{Type: t}
	for _, name := range v.Shape {
		ptr, err := b.schema.Pointer(t, name)
		if err != nil {
			return err
		}
		mv.Shape = append(mv.Shape, ptr)
	}
	stmt.MaterializedViews[t.ID] = mv
	return nil
}

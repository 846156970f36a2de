package compiler

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

// SetToArray collapses the rows query yields for pid into a single
// array value. The serialized form of each row is aggregated. NULL
// placeholders left by outer joins never reach the array, and an empty
// set becomes an empty array, not NULL.
//
// With forGroupBy the aggregated expression is query itself, evaluated
// per row of the enclosing group.
func (c *Context) SetToArray(pid ir.PathID, query pgast.Query, forGroupBy bool) (*pgast.SelectStmt, error) {
	subrvar := &pgast.RangeSubselect{
		RangeVarBase: pgast.RangeVarBase{Alias: pgast.Alias{AliasName: c.env.Aliases.Get("aggw")}},
		Subquery:     query,
	}
	result := &pgast.SelectStmt{}
	aspects := pathctx.ListPathAspects(query, pid)
	if _, err := c.IncludeRvar(result, subrvar, pid, IncludeOptions{Aspects: aspects}); err != nil {
		return nil, err
	}

	val, err := pathctx.GetPathVar(result, pid, pgast.AspectSerialized, c.env.Aliases)
	switch {
	case err == nil:
	case pathctx.IsLookupError(err):
		value, err := pathctx.GetPathVar(result, pid, pgast.AspectValue, c.env.Aliases)
		if err != nil {
			return nil, errors.Wrapf(err, "packing %s", pid)
		}
		val = c.serializeExpr(value, pid)
		pathctx.ForcePathVar(result, pid, val, pgast.AspectSerialized)
	default:
		return nil, err
	}
	if tv, ok := val.(*pgast.TupleVar); ok {
		val = c.serializeExpr(tv, pid)
	}

	pgType := c.serializedTypeName(pid, val)
	if ser, ok := pathctx.MaybeGetPathVar(query, pid, pgast.AspectSerialized); ok {
		pgType = c.serializedTypeName(pid, ser)
	}
	filterSafe := true

	if forGroupBy {
		result.TargetList = []*pgast.ResTarget{{Val: val}}
		if ref, ok := collapseQuery(result).(*pgast.ColumnRef); ok {
			val = ref
		} else {
			val = result
			filterSafe = false
		}
		result = &pgast.SelectStmt{}
	}

	orig := val
	if pid.IsArrayPath() && c.env.OutputFormat == FormatNative {
		// Arrays of different lengths cannot be aggregated directly.
		val = &pgast.RowExpr{Args: []pgast.Expr{val}}
		pgType = &pgast.TypeName{Name: "record"}
	}

	nullable := pgast.IsNullable(orig)
	arrayAgg := &pgast.FuncCall{Name: "array_agg", Args: []pgast.Expr{val}}
	var agg pgast.Expr = arrayAgg
	switch {
	case nullable && filterSafe:
		arrayAgg.AggFilter = &pgast.BinOp{Op: "IS DISTINCT FROM", Lexpr: orig, Rexpr: &pgast.NullConstant{}}
	case nullable:
		agg = &pgast.FuncCall{Name: "array_remove", Args: []pgast.Expr{arrayAgg, &pgast.NullConstant{}}}
	}

	empty := &pgast.TypeCast{
		Arg:      &pgast.ArrayExpr{},
		TypeName: &pgast.TypeName{Name: pgType.Name, Array: true},
	}
	result.TargetList = []*pgast.ResTarget{{
		Name: c.env.Aliases.Get("v"),
		Val:  &pgast.CoalesceExpr{Args: []pgast.Expr{agg, empty}},
	}}
	return result, nil
}

// collapseQuery returns the single target of a query that has nothing
// but a target list, or q itself.
func collapseQuery(q *pgast.SelectStmt) pgast.Expr {
	if len(q.TargetList) != 1 || len(q.FromClause) != 0 || q.WhereClause != nil ||
		q.IsSetOp() || len(q.SortClause) != 0 || q.LimitCount != nil || q.LimitOffset != nil {
		return q
	}
	return q.TargetList[0].Val
}

// unpackElement is one path produced by unpacking a value.
type unpackElement struct {
	pid     ir.PathID
	colname string
	// packed elements are still arrays after unpacking the outer value.
	packed bool
	multi  bool
	// ref replaces the column reference for passthrough leaves.
	ref pgast.Expr
}

// viewTuple is a tuple rebuilt from unpacked elements. Tuples of
// materialized shapes are marked isShape.
type viewTuple struct {
	pid     ir.PathID
	tvar    *pgast.TupleVar
	isShape bool
}

type unpacker struct {
	c     *Context
	qry   *pgast.SelectStmt
	els   []unpackElement
	views []viewTuple
	ctr   int
}

func (u *unpacker) nextColumn() string {
	name := fmt.Sprintf("_t%d", u.ctr)
	u.ctr++
	return name
}

func (u *unpacker) walk(ref pgast.Expr, pid ir.PathID, multi bool) {
	c := u.c
	alias := c.env.Aliases.Get("unpack")
	target := pid.Target()
	var coldefs []*pgast.ColumnDef
	simple := false

	switch {
	case target.IsTuple():
		u.els = append(u.els, unpackElement{pid: pid, colname: alias})
		viewCount := len(u.views)
		elements := make([]*pgast.TupleElement, 0, len(target.Subtypes))
		named := false
		for i, st := range target.Subtypes {
			name := st.ElementName
			if name == "" {
				name = fmt.Sprint(i)
			} else {
				named = true
			}
			colname := u.nextColumn()
			typ := pgTypeName(st)
			if c.env.MaterializedViews[st.ID] != nil {
				typ = &pgast.TypeName{Name: "record"}
			}
			elPID := pid.Extend(ir.TupleIndirectionPointer(target, name, st), ir.Outbound, st)

			var elVar pgast.Expr = &pgast.ColumnRef{Name: []string{colname}}
			if target.PersistentTuple {
				elVar = &pgast.ColumnRef{Name: []string{alias, name}}
			}
			u.walk(elVar, elPID, false)

			elements = append(elements, &pgast.TupleElement{PathID: elPID, Name: name})
			coldefs = append(coldefs, &pgast.ColumnDef{Name: colname, TypeName: typ})
		}
		if len(u.views) > viewCount {
			u.views = append(u.views, viewTuple{
				pid:  pid,
				tvar: &pgast.TupleVar{Elements: elements, Named: named, TypeRef: target},
			})
		}
		if target.PersistentTuple {
			coldefs = nil
		}

	case target.IsArray() && multi:
		coldefs = []*pgast.ColumnDef{{Name: "q", TypeName: pgTypeName(target)}}
		u.els = append(u.els, unpackElement{pid: pid, colname: "q"})

	case c.env.MaterializedViews[target.ID] != nil:
		view := c.env.MaterializedViews[target.ID]
		idIdx := -1
		elements := make([]*pgast.TupleElement, 0, len(view.Shape))
		for _, ptr := range view.Shape {
			elPID := pid.Extend(ptr, ir.Outbound, nil)
			singleton := !ptr.IsMulti() && ptr.Required
			mustPack := !singleton
			if ptr.ShortName == "id" {
				idIdx = len(u.els)
			}
			colname := u.nextColumn()
			typ := pgTypeName(elPID.Target())
			if c.env.MaterializedViews[elPID.Target().ID] != nil {
				typ = &pgast.TypeName{Name: "record"}
				mustPack = true
			}
			if !singleton {
				if elPID.IsArrayPath() {
					typ = &pgast.TypeName{Name: "record"}
					mustPack = true
				}
				typ = &pgast.TypeName{Name: typ.Name, Array: true}
			}
			coldefs = append(coldefs, &pgast.ColumnDef{Name: colname, TypeName: typ})
			u.els = append(u.els, unpackElement{pid: elPID, colname: colname, packed: mustPack, multi: !singleton})
			elements = append(elements, &pgast.TupleElement{PathID: elPID, Name: ptr.ShortName})
		}
		if idIdx >= 0 {
			u.els = append(u.els, unpackElement{pid: pid, colname: u.els[idIdx].colname})
		} else {
			colname := u.nextColumn()
			coldefs = append(coldefs, &pgast.ColumnDef{Name: colname, TypeName: &pgast.TypeName{Name: "uuid"}})
			u.els = append(u.els, unpackElement{pid: pid, colname: colname})
		}
		u.views = append(u.views, viewTuple{
			pid:     pid,
			tvar:    &pgast.TupleVar{Elements: elements, Named: true, TypeRef: target},
			isShape: true,
		})

	default:
		simple = !multi
		el := unpackElement{pid: pid, colname: alias}
		if simple {
			el.ref = ref
		}
		u.els = append(u.els, el)
	}

	if simple {
		return
	}
	if !multi {
		// Only arrays can be unnested.
		ref = &pgast.ArrayExpr{Elements: []pgast.Expr{ref}}
	}
	fn := &pgast.RangeFunction{
		RangeVarBase: pgast.RangeVarBase{Alias: pgast.Alias{AliasName: alias}},
		IsRowsFrom:   true,
		Functions:    []*pgast.FuncCall{{Name: "unnest", Args: []pgast.Expr{ref}, ColDefList: coldefs}},
	}
	u.qry.FromClause = append([]pgast.FromItem{fn}, u.qry.FromClause...)
}

// UnpackRvar unpacks the packed value of pid provided by packedRvar
// into stmt.
func (c *Context) UnpackRvar(stmt pgast.Query, pid ir.PathID, packedRvar pgast.PathRangeVar) (pgast.PathRangeVar, error) {
	ref, err := pathctx.GetRvarPathVar(packedRvar, pid, pgast.AspectValue, pgast.FlavorPacked, c.env.Aliases)
	if err != nil {
		return nil, errors.Wrapf(err, "unpacking %s", pid)
	}
	return c.UnpackVar(stmt, pid, ref)
}

// UnpackVar joins into stmt one lateral subquery that expands the
// packed value ref into a row per element. Tuple elements and shape
// elements of materialized views become paths of their own; elements
// that are multi sets themselves stay packed.
func (c *Context) UnpackVar(stmt pgast.Query, pid ir.PathID, ref pgast.Expr) (pgast.PathRangeVar, error) {
	u := &unpacker{c: c, qry: &pgast.SelectStmt{}}
	multi := false
	if cr, ok := ref.(*pgast.ColumnRef); ok {
		multi = cr.IsPackedMulti
	}
	u.walk(ref, pid, multi)
	qry := u.qry

	rvar := c.RvarForRel(qry, "", pid.Target(), true)
	if _, err := c.IncludeRvar(stmt, rvar, pid, IncludeOptions{Aspects: []pgast.Aspect{pgast.AspectValue}}); err != nil {
		return nil, err
	}

	for _, el := range u.els {
		var cur pgast.Expr = el.ref
		if cur == nil {
			cur = &pgast.ColumnRef{Name: []string{el.colname}}
		}
		for _, aspect := range []pgast.Aspect{pgast.AspectValue, pgast.AspectSerialized} {
			pathctx.PutPathVar(qry, el.pid, cur, aspect)
		}

		if !el.packed {
			pathctx.PutPathRvar(stmt, el.pid, rvar, pgast.AspectValue, pgast.FlavorNormal)
			pathctx.PutPathRvar(c.Rel, el.pid, rvar, pgast.AspectValue, pgast.FlavorNormal)
			continue
		}
		out, err := pathctx.GetPathOutput(qry, el.pid, pgast.AspectValue, pgast.FlavorNormal, c.env.Aliases)
		if err != nil {
			return nil, err
		}
		cref, ok := out.(*pgast.ColumnRef)
		if !ok {
			return nil, errors.AssertionFailedf("packed element %s is exported as %T", el.pid, out)
		}
		packed := *cref
		packed.IsPackedMulti = el.multi
		qry.Info().PackedPathOutputs.Set(el.pid, pgast.AspectValue, &packed)
		pathctx.PutPathRvar(stmt, el.pid, rvar, pgast.AspectValue, pgast.FlavorPacked)
	}

	for _, view := range u.views {
		if len(view.tvar.Elements) == 0 {
			continue
		}
		var aspects []pgast.Aspect
		if c.exprExposed && view.isShape {
			aspects = append(aspects, pgast.AspectSerialized)
		}
		if !view.isShape {
			aspects = append(aspects, pgast.AspectValue)
		}

		if c.exprExposed && !c.materializing && view.isShape {
			for _, tel := range view.tvar.Elements {
				el, ok := u.element(tel.PathID)
				if !ok || !el.packed {
					continue
				}
				reqry, err := c.ReserializeObject(el.colname, el.multi, tel)
				if err != nil {
					return nil, err
				}
				pathctx.ForcePathVar(qry, tel.PathID, reqry, pgast.AspectSerialized)
			}
		}

		for _, aspect := range aspects {
			tv, err := c.fixTuple(qry, view.tvar, aspect)
			if err != nil {
				return nil, err
			}
			var val pgast.Expr
			if aspect == pgast.AspectValue {
				val = outputAsValue(tv)
			} else {
				val = c.serializeExpr(tv, view.pid)
			}
			pathctx.ForcePathVar(qry, view.pid, val, aspect)
			pathctx.PutPathRvar(c.Rel, view.pid, rvar, aspect, pgast.FlavorNormal)
		}
	}

	c.env.Stats.Unpacks++
	c.logger.Debug("unpack",
		slogPath("path", pid),
		"elements", len(u.els))
	return rvar, nil
}

func (u *unpacker) element(pid ir.PathID) (unpackElement, bool) {
	for _, el := range u.els {
		if el.pid.Equal(pid) {
			return el, true
		}
	}
	return unpackElement{}, false
}

// fixTuple fills the elements of tv with their aspect vars in q.
func (c *Context) fixTuple(q pgast.Query, tv *pgast.TupleVar, aspect pgast.Aspect) (*pgast.TupleVar, error) {
	elements := make([]*pgast.TupleElement, len(tv.Elements))
	for i, el := range tv.Elements {
		v, err := pathctx.GetPathVar(q, el.PathID, aspect, c.env.Aliases)
		if err != nil {
			return nil, errors.Wrapf(err, "tuple element %s", el.Name)
		}
		elements[i] = &pgast.TupleElement{PathID: el.PathID, Name: el.Name, Val: v}
	}
	return &pgast.TupleVar{Elements: elements, Named: tv.Named, TypeRef: tv.TypeRef}, nil
}

// ReserializeObject expands the packed shape element stored in
// column colname back into its client form. Multi elements are
// aggregated again.
func (c *Context) ReserializeObject(colname string, multi bool, tel *pgast.TupleElement) (pgast.Query, error) {
	tref := &pgast.ColumnRef{Name: []string{colname}, IsPackedMulti: multi}

	sub := c.SubRel()
	subRvar, err := sub.UnpackVar(sub.Rel, tel.PathID, tref)
	if err != nil {
		return nil, err
	}
	reqry, ok := subRvar.Query().(pgast.Query)
	if !ok {
		return nil, errors.AssertionFailedf("reserialized %s is not a query", tel.PathID)
	}
	if _, err := pathctx.GetPathOutput(reqry, tel.PathID, pgast.AspectSerialized, pgast.FlavorNormal, c.env.Aliases); err != nil {
		return nil, err
	}
	ptr := tel.PathID.RPtr()
	if ptr == nil {
		return nil, errors.AssertionFailedf("shape element %s has no pointer", tel.PathID)
	}
	if !ptr.IsMulti() {
		return reqry, nil
	}
	arr, err := c.SubRel().SetToArray(tel.PathID, reqry, false)
	if err != nil {
		return nil, err
	}
	return arr, nil
}

package compiler

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

// compileSelect compiles the body of a SELECT set into c.Rel.
func (c *Context) compileSelect(set *ir.Set, s *ir.SelectStmt) error {
	stmt, ok := c.Rel.(*pgast.SelectStmt)
	if !ok {
		return errors.AssertionFailedf("SELECT %s compiled into %T", set.PathID, c.Rel)
	}

	if s.Iterator != nil {
		if err := c.compileIterator(s.Iterator); err != nil {
			return errors.Wrap(err, "iterator")
		}
	}
	if _, err := c.GetSetRvar(s.Result); err != nil {
		return errors.Wrap(err, "result")
	}
	if !set.PathID.Equal(s.Result.PathID) {
		pathctx.PutPathIDMap(stmt, set.PathID, s.Result.PathID)
	}

	if s.Where != nil {
		cond, err := c.valueOf(s.Where)
		if err != nil {
			return errors.Wrap(err, "filter")
		}
		stmt.AndWhere(cond)
	}
	for _, o := range s.OrderBy {
		v, err := c.valueOf(o.Expr)
		if err != nil {
			return errors.Wrap(err, "order by")
		}
		stmt.SortClause = append(stmt.SortClause, &pgast.SortBy{Node: v, Descending: o.Descending, NullsFirst: o.NullsFirst})
	}
	if s.Offset != nil {
		v, err := c.scalarExpr(s.Offset)
		if err != nil {
			return errors.Wrap(err, "offset")
		}
		stmt.LimitOffset = v
	}
	if s.Limit != nil {
		v, err := c.scalarExpr(s.Limit)
		if err != nil {
			return errors.Wrap(err, "limit")
		}
		stmt.LimitCount = v
	}

	if c.exprExposed {
		return c.compileShape(s.Result, stmt)
	}
	return nil
}

// compileIterator joins the FOR set into c.Rel. Iterations over
// non-objects have no identity of their own, so each row gets one.
func (c *Context) compileIterator(iter *ir.Set) error {
	rvar, err := c.GetSetRvar(iter)
	if err != nil {
		return err
	}
	if iter.PathID.IsObjTypePath() {
		return nil
	}
	rel := rvar.Query()
	q, ok := rel.(pgast.Query)
	if !ok {
		return errors.AssertionFailedf("iterator %s ranges over %T", iter.PathID, rel)
	}
	c.CreateIteratorIdentityForPath(iter.PathID, q)
	pathctx.PutPathRvarIfNotExists(c.Rel, iter.PathID, rvar, pgast.AspectIterator, pgast.FlavorNormal)
	return nil
}

// scalarExpr compiles a singleton set used as an expression, such as
// LIMIT or OFFSET.
func (c *Context) scalarExpr(set *ir.Set) (pgast.Expr, error) {
	if lit, ok := set.Expr.(*ir.Literal); ok {
		return literalExpr(lit), nil
	}
	sub := c.SubRel()
	v, err := sub.valueOf(set)
	if err != nil {
		return nil, err
	}
	sub.Rel.Base().TargetList = []*pgast.ResTarget{{Name: c.env.Aliases.Get("v"), Val: v}}
	return sub.Rel, nil
}

// compileDMLSet compiles a DML statement into a CTE and exposes its
// RETURNING rows in c.Rel as the subject of the statement.
func (c *Context) compileDMLSet(set *ir.Set, stmt ir.MutatingStmt) error {
	dctx := c.derive()
	dctx.dmlStmts = append(slices.Clip(c.dmlStmts), stmt)

	var cte *pgast.CommonTableExpr
	var err error
	switch s := stmt.(type) {
	case *ir.InsertStmt:
		cte, err = dctx.compileInsert(s)
	case *ir.UpdateStmt:
		cte, err = dctx.compileUpdate(s)
	case *ir.DeleteStmt:
		cte, err = dctx.compileDelete(s)
	default:
		err = internalErrorf(ErrCodeUnsupported, "DML statement %T", stmt)
	}
	if err != nil {
		return errors.Wrapf(err, "DML %q", stmt.DMLKey())
	}

	subj := stmt.SubjectSet()
	rvar := c.RvarForRel(cte, "", subj.Type, false)
	if !set.PathID.Equal(subj.PathID) {
		pathctx.PutPathIDMap(c.Rel, set.PathID, subj.PathID)
	}
	opts := IncludeOptions{Aspects: []pgast.Aspect{pgast.AspectValue, pgast.AspectSource}}
	if _, err := c.IncludeRvar(c.Rel, rvar, subj.PathID, opts); err != nil {
		return err
	}
	if len(c.dmlStmts) > 0 {
		c.overlays.ReuseOverlays(stmt, c.dmlStmts)
	}
	return nil
}

func (c *Context) dmlCTE(hint string, q pgast.Query) *pgast.CommonTableExpr {
	cte := &pgast.CommonTableExpr{Name: c.env.Aliases.Get(hint), Query: q, ForDML: true}
	c.caches.add(cte)
	c.env.Stats.DMLCTEs++
	c.logger.Debug("dml cte",
		"name", cte.Name,
		"dml", dmlKeys(c.dmlStmts))
	return cte
}

func splitAssignments(els []ir.Assignment) (inline, linked []ir.Assignment) {
	for _, el := range els {
		if el.Pointer.IsInline() {
			inline = append(inline, el)
		} else {
			linked = append(linked, el)
		}
	}
	return inline, linked
}

// compileInsert builds INSERT INTO type (id, cols...) SELECT ...
// RETURNING as a CTE. The new rows are visible to later reads of the
// type through a UNION overlay; link-table values get their own
// INSERT CTEs and pointer overlays.
func (c *Context) compileInsert(s *ir.InsertStmt) (*pgast.CommonTableExpr, error) {
	subj := s.Subject
	t := subj.Type.RealMaterialType()
	tbl := c.tableFromTypeRef(t, subj.PathID)

	vctx := c.NewRel()
	vals := vctx.Rel.(*pgast.SelectStmt)
	ins := &pgast.InsertStmt{Relation: tbl, Cols: []string{"id"}, SelectStmt: vals}
	vals.TargetList = append(vals.TargetList, &pgast.ResTarget{
		Name: "id",
		Val:  &pgast.FuncCall{Name: "edgedb.uuid_generate_v4"},
	})

	inline, linked := splitAssignments(s.Elements)
	for _, el := range inline {
		v, err := vctx.identityOf(el.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "value of %s", el.Pointer.ShortName)
		}
		col := pathctx.ColumnName(el.Pointer)
		ins.Cols = append(ins.Cols, col)
		vals.TargetList = append(vals.TargetList, &pgast.ResTarget{Name: col, Val: v})
	}

	putValueSourceRvar(ins, subj.PathID, tbl)
	cte := c.dmlCTE("ins", ins)
	c.overlays.AddTypeOverlay(t, OverlayUnion, cte, subj.PathID, c.dmlStmts, nil)

	for _, el := range linked {
		if _, err := c.insertLinkRows(cte, subj, el); err != nil {
			return nil, err
		}
	}
	return cte, nil
}

// insertLinkRows writes (source, target) rows for every object
// returned by src and every value of el into the link table of the
// pointer.
func (c *Context) insertLinkRows(src *pgast.CommonTableExpr, subj *ir.Set, el ir.Assignment) (*pgast.CommonTableExpr, error) {
	ptr := el.Pointer
	pt := c.env.Catalog.PointerTable(ptr)

	lctx := c.NewRel()
	sel := lctx.Rel.(*pgast.SelectStmt)
	srcRvar := c.RvarForRel(src, "", subj.Type, false)
	opts := IncludeOptions{Aspects: []pgast.Aspect{pgast.AspectValue, pgast.AspectSource}}
	if _, err := lctx.IncludeRvar(sel, srcRvar, subj.PathID, opts); err != nil {
		return nil, err
	}
	srcID, err := lctx.GetPathVar(sel, subj.PathID, pgast.AspectIdentity)
	if err != nil {
		return nil, err
	}
	tgt, err := lctx.identityOf(el.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "value of %s", ptr.ShortName)
	}
	sel.TargetList = []*pgast.ResTarget{
		{Name: pt.SourceCol, Val: srcID},
		{Name: pt.TargetCol, Val: tgt},
	}

	rel := c.tableFromPtrRef(ptr)
	ins := &pgast.InsertStmt{Relation: rel, Cols: []string{pt.SourceCol, pt.TargetCol}, SelectStmt: sel}
	ins.TargetList = linkReturning(rel, pt)

	cte := c.dmlCTE("ins_"+ptr.ShortName, ins)
	c.overlays.AddPtrOverlay(ptr, OverlayUnion, cte, linkPathID(subj, ptr), c.dmlStmts)
	return cte, nil
}

func linkReturning(rel *pgast.RelRangeVar, pt PointerTable) []*pgast.ResTarget {
	alias := rel.Alias.AliasName
	return []*pgast.ResTarget{
		{Name: pt.SourceCol, Val: pgast.NewColumnRef(false, alias, pt.SourceCol)},
		{Name: pt.TargetCol, Val: pgast.NewColumnRef(false, alias, pt.TargetCol)},
	}
}

func linkPathID(subj *ir.Set, ptr *ir.PointerRef) ir.PathID {
	return subj.PathID.Extend(ptr, ir.Outbound, nil).PtrPath()
}

// dmlRange compiles the subject of an UPDATE or DELETE, filtered by
// where, into a CTE listing the affected objects. extra adds columns
// computed per affected object.
func (c *Context) dmlRange(subj, where *ir.Set, extra []ir.Assignment) (*pgast.CommonTableExpr, pgast.Expr, []string, error) {
	rctx := c.NewRel()
	rng := rctx.Rel
	rctx.pathScope = rctx.pathScope.Set(subj.PathID.Key(), rng)
	if _, err := rctx.GetSetRvar(subj); err != nil {
		return nil, nil, nil, errors.Wrap(err, "subject")
	}
	if where != nil {
		cond, err := rctx.valueOf(where)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "filter")
		}
		rng.Base().AndWhere(cond)
	}
	idOut, err := pathctx.GetPathOutput(rng, subj.PathID, pgast.AspectIdentity, pgast.FlavorNormal, c.env.Aliases)
	if err != nil {
		return nil, nil, nil, err
	}

	cols := make([]string, len(extra))
	for i, el := range extra {
		v, err := rctx.identityOf(el.Value)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "value of %s", el.Pointer.ShortName)
		}
		cols[i] = c.env.Aliases.Get(el.Pointer.ShortName)
		rng.Base().TargetList = append(rng.Base().TargetList, &pgast.ResTarget{Name: cols[i], Val: v})
	}

	cte := &pgast.CommonTableExpr{Name: c.env.Aliases.Get("rng"), Query: rng}
	c.caches.add(cte)
	return cte, idOut, cols, nil
}

// compileUpdate builds UPDATE type SET ... FROM range RETURNING as a
// CTE. Later reads of the type drop the old rows of the updated
// objects and see the new ones instead.
func (c *Context) compileUpdate(s *ir.UpdateStmt) (*pgast.CommonTableExpr, error) {
	subj := s.Subject
	t := subj.Type.RealMaterialType()
	inline, linked := splitAssignments(s.Elements)

	rangeCTE, idOut, cols, err := c.dmlRange(subj, s.Where, inline)
	if err != nil {
		return nil, err
	}
	rangeRvar := c.RvarForRel(rangeCTE, "", t, false)
	rangeAlias := rangeRvar.Base().Alias.AliasName

	tbl := c.tableFromTypeRef(t, subj.PathID)
	upd := &pgast.UpdateStmt{Relation: tbl}
	upd.FromClause = []pgast.FromItem{rangeRvar}
	upd.WhereClause = pgast.Eq(
		pgast.NewColumnRef(false, tbl.Alias.AliasName, "id"),
		pathctx.RvarVar(rangeRvar, idOut))
	for i, el := range inline {
		upd.Targets = append(upd.Targets, &pgast.UpdateTarget{
			Name: pathctx.ColumnName(el.Pointer),
			Val:  pgast.NewColumnRef(true, rangeAlias, cols[i]),
		})
	}

	putValueSourceRvar(upd, subj.PathID, tbl)
	cte := c.dmlCTE("upd", upd)
	c.overlays.AddTypeOverlay(t, OverlayFilter, cte, subj.PathID, c.dmlStmts, nil)
	c.overlays.AddTypeOverlay(t, OverlayUnion, cte, subj.PathID, c.dmlStmts, nil)

	for _, el := range linked {
		if _, err := c.deleteLinkRows(rangeCTE, idOut, subj, el.Pointer); err != nil {
			return nil, err
		}
		if _, err := c.insertLinkRows(cte, subj, el); err != nil {
			return nil, err
		}
	}
	return cte, nil
}

// deleteLinkRows removes every link-table row of ptr whose source is
// listed in rangeCTE.
func (c *Context) deleteLinkRows(rangeCTE *pgast.CommonTableExpr, idOut pgast.Expr, subj *ir.Set, ptr *ir.PointerRef) (*pgast.CommonTableExpr, error) {
	pt := c.env.Catalog.PointerTable(ptr)
	rel := c.tableFromPtrRef(ptr)
	rangeRvar := c.RvarForRel(rangeCTE, "", subj.Type, false)

	del := &pgast.DeleteStmt{Relation: rel}
	del.FromClause = []pgast.FromItem{rangeRvar}
	del.WhereClause = pgast.Eq(
		pgast.NewColumnRef(false, rel.Alias.AliasName, pt.SourceCol),
		pathctx.RvarVar(rangeRvar, idOut))
	del.TargetList = linkReturning(rel, pt)

	cte := c.dmlCTE("del_"+ptr.ShortName, del)
	c.overlays.AddPtrOverlay(ptr, OverlayFilter, cte, linkPathID(subj, ptr), c.dmlStmts)
	return cte, nil
}

// compileDelete builds DELETE FROM type USING range RETURNING as a
// CTE. Later reads of the type no longer see the deleted objects.
func (c *Context) compileDelete(s *ir.DeleteStmt) (*pgast.CommonTableExpr, error) {
	subj := s.Subject
	t := subj.Type.RealMaterialType()

	rangeCTE, idOut, _, err := c.dmlRange(subj, s.Where, nil)
	if err != nil {
		return nil, err
	}
	rangeRvar := c.RvarForRel(rangeCTE, "", t, false)

	tbl := c.tableFromTypeRef(t, subj.PathID)
	del := &pgast.DeleteStmt{Relation: tbl}
	del.FromClause = []pgast.FromItem{rangeRvar}
	del.WhereClause = pgast.Eq(
		pgast.NewColumnRef(false, tbl.Alias.AliasName, "id"),
		pathctx.RvarVar(rangeRvar, idOut))

	putValueSourceRvar(del, subj.PathID, tbl)
	cte := c.dmlCTE("del", del)
	c.overlays.AddTypeOverlay(t, OverlayFilter, cte, subj.PathID, c.dmlStmts, nil)
	return cte, nil
}

package compiler

import (
	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

// Output columns of every pointer range.
const (
	sourceCol = "source"
	targetCol = "target"
)

var pointerOutputCols = [2]string{sourceCol, targetCol}

// PtrRangeOptions tunes RangeForPtrRef.
type PtrRangeOptions struct {
	DMLSource   []ir.MutatingStmt
	ForMutation bool
	// OnlySelf requires the pointer to resolve to a single component.
	OnlySelf bool
	// PathID is the pointer path the range stands for, if any.
	PathID ir.PathID
}

// RangeForPtrRef returns a range var with source and target columns
// covering every stored component of ptr.
func (c *Context) RangeForPtrRef(ptr *ir.PointerRef, opts PtrRangeOptions) (pgast.PathRangeVar, error) {
	var components []*ir.PointerRef
	switch {
	case len(ptr.UnionComponents) > 0:
		components = ptr.UnionComponents
		if opts.OnlySelf && len(components) > 1 {
			return nil, internalErrorf(ErrCodeUnexpectedUnion, "unexpected union link %s", ptr)
		}
	case len(ptr.IntersectionComponents) > 0:
		// The pointer is present in every component; any one will do.
		components = ptr.IntersectionComponents[:1]
	default:
		components = []*ir.PointerRef{ptr}
	}
	includeDescendants := !ptr.UnionIsExhaustive

	ops := make([]setOpQuery, 0, len(components))
	for _, component := range components {
		crvar, err := c.rangeForComponentPtrRef(component, includeDescendants, opts)
		if err != nil {
			return nil, err
		}
		ops = append(ops, setOpQuery{op: OverlayUnion, qry: c.pointerComponentQuery(crvar, opts.PathID)})
	}
	return c.rangeFromQueryset(ops, ptr.ShortName, querysetOptions{PathID: opts.PathID})
}

// pointerComponentQuery selects the source and target columns of
// crvar. The target column is the identity of pid and crvar provides
// its link properties.
func (c *Context) pointerComponentQuery(crvar pgast.PathRangeVar, pid ir.PathID) *pgast.SelectStmt {
	qry := &pgast.SelectStmt{}
	for _, col := range pointerOutputCols {
		qry.TargetList = append(qry.TargetList, &pgast.ResTarget{Name: col, Val: &pgast.ColumnRef{Name: []string{col}}})
	}
	qry.FromClause = append(qry.FromClause, crvar)
	if !pid.IsZero() {
		ref := &pgast.ColumnRef{Name: []string{crvar.Base().Alias.AliasName, targetCol}}
		pathctx.ForcePathVar(qry, pid, ref, pgast.AspectIdentity)
		pathctx.PutPathRvar(qry, pid, crvar, pgast.AspectSource, pgast.FlavorNormal)
	}
	return qry
}

func (c *Context) rangeForComponentPtrRef(ptr *ir.PointerRef, includeDescendants bool, opts PtrRangeOptions) (pgast.PathRangeVar, error) {
	descendants := ptrDescendants(ptr, includeDescendants, opts.ForMutation)

	var crvar pgast.PathRangeVar
	if c.env.Introspection || len(descendants) <= 1 {
		var err error
		crvar, err = c.rangeFromQueryset(unionOps(c.selectsForPtrDescendants(descendants, opts.PathID)), ptr.ShortName, querysetOptions{PathID: opts.PathID})
		if err != nil {
			return nil, err
		}
	} else {
		ptrPath := ir.PathIDFromPtrRef(ptr).PtrPath()
		cte, ok := c.caches.ptrInheritance[ptr.ID]
		if !ok {
			qry := unionAll(c.selectsForPtrDescendants(descendants, ptrPath))
			qry.Info().PathID = ptrPath
			cte = &pgast.CommonTableExpr{
				Name:  c.env.Aliases.Get("t_" + ptr.ShortName),
				Query: qry,
			}
			c.caches.ptrInheritance[ptr.ID] = cte
			c.caches.add(cte)
			c.env.Stats.PtrInheritanceCTEs++
			c.logger.Debug("pointer inheritance cte",
				"pointer", ptr.String(),
				"cte", cte.Name,
				"tables", len(descendants))
		}

		sub := c.SubRel()
		cteRvar := c.RvarForRel(cte, "", ptr.OutTarget, false)
		if !opts.PathID.IsZero() && !opts.PathID.Equal(ptrPath) {
			pathctx.PutPathIDMap(sub.Rel, opts.PathID, ptrPath)
		}
		if _, err := sub.IncludeRvar(sub.Rel, cteRvar, ptrPath, IncludeOptions{SkipPullNamespace: true, SkipUpdateMask: true}); err != nil {
			return nil, err
		}
		alias := cteRvar.Base().Alias.AliasName
		b := sub.Rel.Base()
		for _, col := range pointerOutputCols {
			b.TargetList = append(b.TargetList, &pgast.ResTarget{Name: col, Val: &pgast.ColumnRef{Name: []string{alias, col}}})
		}
		pathctx.ForcePathVar(sub.Rel, ptrPath, b.TargetList[1].Val, pgast.AspectIdentity)
		pathctx.PutPathRvar(sub.Rel, ptrPath, cteRvar, pgast.AspectSource, pgast.FlavorNormal)
		crvar = c.RvarForRel(sub.Rel, "", ptr.OutTarget, false)
	}

	overlays := c.overlays.PtrOverlays(ptr, opts.DMLSource)
	if len(overlays) == 0 || opts.ForMutation {
		return crvar, nil
	}

	ops := []setOpQuery{{op: OverlayUnion, qry: c.pointerComponentQuery(crvar, opts.PathID)}}
	srcCol, tgtCol := pointerColumns(c.env.Catalog, ptr)
	for _, entry := range overlays {
		ovRvar := c.RvarForRel(entry.CTE, "", nil, false)
		qry := &pgast.SelectStmt{}
		for _, col := range []string{srcCol, tgtCol} {
			qry.TargetList = append(qry.TargetList, &pgast.ResTarget{Val: &pgast.ColumnRef{Name: []string{col}}})
		}
		qry.FromClause = append(qry.FromClause, ovRvar)
		if !opts.PathID.IsZero() {
			ref := &pgast.ColumnRef{Name: []string{ovRvar.Base().Alias.AliasName, tgtCol}}
			pathctx.ForcePathVar(qry, entry.PathID, ref, pgast.AspectIdentity)
			pathctx.PutPathRvar(qry, entry.PathID, ovRvar, pgast.AspectSource, pgast.FlavorNormal)
			pathctx.PutPathIDMap(qry, opts.PathID, entry.PathID)
		}
		ops = append(ops, setOpQuery{op: entry.Op, qry: qry})
	}
	c.env.Stats.OverlayStacks++
	return c.rangeFromQueryset(ops, ptr.ShortName, querysetOptions{PathID: opts.PathID, PrepFilter: prepFilter})
}

// prepFilter restricts the right-hand side of a pointer FILTER to the
// rows sharing a source with the left-hand side.
func prepFilter(lhs, rhs *pgast.SelectStmt) error {
	if len(lhs.TargetList) == 0 || len(rhs.TargetList) == 0 {
		return errors.AssertionFailedf("pointer filter over a query without source column")
	}
	lval, ok := lhs.TargetList[0].Val.(*pgast.ColumnRef)
	if !ok {
		return errors.AssertionFailedf("pointer filter source is %T", lhs.TargetList[0].Val)
	}
	rval, ok := rhs.TargetList[0].Val.(*pgast.ColumnRef)
	if !ok {
		return errors.AssertionFailedf("pointer filter source is %T", rhs.TargetList[0].Val)
	}
	rhs.WhereClause = pgast.Eq(qualifyColumn(lhs, lval), qualifyColumn(rhs, rval))
	rhs.TargetList = nil
	return nil
}

// qualifyColumn qualifies a bare column with the first FROM item of q.
func qualifyColumn(q *pgast.SelectStmt, ref *pgast.ColumnRef) *pgast.ColumnRef {
	if len(ref.Name) != 1 || len(q.FromClause) == 0 {
		return ref
	}
	rv, ok := q.FromClause[0].(pgast.PathRangeVar)
	if !ok {
		return ref
	}
	return &pgast.ColumnRef{Name: []string{rv.Base().Alias.AliasName, ref.Name[0]}, Nullable: ref.Nullable}
}

// ptrDescendants lists the pointers whose tables make up ptr: the
// pointer and its descendants on concrete sources.
func ptrDescendants(ptr *ir.PointerRef, includeDescendants, forMutation bool) []*ir.PointerRef {
	if !includeDescendants || forMutation {
		return []*ir.PointerRef{ptr}
	}
	var concrete []*ir.PointerRef
	for _, d := range append(ptr.Descendants(), ptr) {
		if !d.OutSource.IsAbstract {
			concrete = append(concrete, d)
		}
	}
	if len(concrete) == 0 {
		return []*ir.PointerRef{ptr}
	}
	return concrete
}

func (c *Context) selectsForPtrDescendants(descendants []*ir.PointerRef, pid ir.PathID) []*pgast.SelectStmt {
	selects := make([]*pgast.SelectStmt, 0, len(descendants))
	for _, d := range descendants {
		srcCol, tgtCol := pointerColumns(c.env.Catalog, d)
		table := c.tableFromPtrRef(d)
		table.Relation.Info().PathID = pid

		qry := &pgast.SelectStmt{}
		qry.FromClause = append(qry.FromClause, table)
		alias := table.Alias.AliasName
		for i, col := range []string{srcCol, tgtCol} {
			qry.TargetList = append(qry.TargetList, &pgast.ResTarget{
				Name: pointerOutputCols[i],
				Val:  &pgast.ColumnRef{Name: []string{alias, col}},
			})
		}
		if !pid.IsZero() {
			pathctx.ForcePathVar(qry, pid, qry.TargetList[1].Val, pgast.AspectIdentity)
			pathctx.PutPathRvar(qry, pid, table, pgast.AspectSource, pgast.FlavorNormal)
		}
		selects = append(selects, qry)
	}
	return selects
}

// tableFromPtrRef returns the table storing ptr: its link table, or
// the table of its source for inline pointers.
func (c *Context) tableFromPtrRef(ptr *ir.PointerRef) *pgast.RelRangeVar {
	var tbl Table
	if ptr.IsInline() {
		tbl = c.env.Catalog.TypeTable(ptr.OutSource)
	} else {
		tbl = c.env.Catalog.PointerTable(ptr).Table
	}
	return &pgast.RelRangeVar{
		RangeVarBase: pgast.RangeVarBase{
			Alias:   pgast.Alias{AliasName: c.env.Aliases.Get(ptr.ShortName)},
			TypeRef: ptr.OutSource,
		},
		Relation: &pgast.Relation{Schema: tbl.Schema, Name: tbl.Name, PtrRef: ptr},
	}
}

// RangeForPointer returns the range var over the storage of the
// pointer that set traverses.
func (c *Context) RangeForPointer(set *ir.Set, dmlSource []ir.MutatingStmt) (pgast.PathRangeVar, error) {
	ptr, ok := set.Expr.(*ir.Pointer)
	if !ok {
		return nil, errors.AssertionFailedf("%s is not a pointer set", set.PathID)
	}
	pid := set.PathID.PtrPath()
	if ext, ok := c.env.externalRvar(pid, pgast.AspectSource); ok {
		return ext, nil
	}
	ref := ptr.Ref
	if ref.MaterialPtr != nil {
		ref = ref.MaterialPtr
	}
	return c.RangeForPtrRef(ref, PtrRangeOptions{DMLSource: dmlSource, PathID: pid})
}

// NewPointerRvar returns the range var linking the source of set to
// its targets: a projection of the source row for inline pointers, or
// the pointer's link table.
func (c *Context) NewPointerRvar(set *ir.Set, srcRvar pgast.PathRangeVar) (pgast.PathRangeVar, error) {
	ptr, ok := set.Expr.(*ir.Pointer)
	if !ok {
		return nil, errors.AssertionFailedf("%s is not a pointer set", set.PathID)
	}
	if ptr.Ref.IsInline() {
		return c.newInlinePointerRvar(set, ptr, srcRvar)
	}
	return c.newMappedPointerRvar(set, ptr)
}

func (c *Context) newInlinePointerRvar(set *ir.Set, ptr *ir.Pointer, srcRvar pgast.PathRangeVar) (pgast.PathRangeVar, error) {
	rel := &pgast.SelectStmt{}
	rvar := c.RvarForRel(rel, "", nil, true)
	rel.Info().PathID = set.PathID.PtrPath()

	farPID := set.PathID
	if ptr.Direction == ir.Inbound {
		farPID = ptr.Source.PathID
	}
	farRef, err := pathctx.GetRvarPathVar(srcRvar, farPID, pgast.AspectIdentity, pgast.FlavorNormal, c.env.Aliases)
	if err != nil {
		return nil, err
	}
	pathctx.PutRvarPathBond(rvar, farPID)
	pathctx.PutPathVar(rel, farPID, farRef, pgast.AspectIdentity)
	return rvar, nil
}

func (c *Context) newMappedPointerRvar(set *ir.Set, ptr *ir.Pointer) (pgast.PathRangeVar, error) {
	rvar, err := c.RangeForPointer(set, ptr.Source.DMLSources)
	if err != nil {
		return nil, err
	}
	sourceRef := &pgast.ColumnRef{Name: []string{sourceCol}}
	targetRef := &pgast.ColumnRef{Name: []string{targetCol}, Nullable: !ptr.Ref.Required}
	nearRef, farRef := sourceRef, targetRef
	if ptr.Direction == ir.Inbound {
		nearRef, farRef = targetRef, sourceRef
	}

	srcPID := ptr.Source.PathID
	tgtPID := set.PathID
	if rel := rvar.Query(); rel != nil {
		rel.Info().PathID = tgtPID.PtrPath()
	}
	pathctx.PutRvarPathBond(rvar, srcPID)
	pathctx.PutRvarPathOutput(rvar, srcPID, pgast.AspectIdentity, nearRef, pgast.FlavorNormal)
	pathctx.PutRvarPathOutput(rvar, srcPID, pgast.AspectValue, nearRef, pgast.FlavorNormal)
	pathctx.PutRvarPathOutput(rvar, tgtPID, pgast.AspectValue, farRef, pgast.FlavorNormal)
	if tgtPID.IsObjTypePath() {
		pathctx.PutRvarPathBond(rvar, tgtPID)
		pathctx.PutRvarPathOutput(rvar, tgtPID, pgast.AspectIdentity, farRef, pgast.FlavorNormal)
	}
	return rvar, nil
}

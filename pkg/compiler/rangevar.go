package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

const (
	tagExpandedInhView = "expanded-inhview"

	rewriteNamespace = "rw"
	typerefNamespace = "typeref"
)

// RangeOptions tunes how a type is turned into a range var.
type RangeOptions struct {
	Lateral bool
	// ForMutation ranges over the stored rows only: no descendants,
	// rewrites or overlays.
	ForMutation     bool
	SkipDescendants bool
	IgnoreRewrites  bool
	// DMLSource lists the DML statements whose overlays apply.
	DMLSource []ir.MutatingStmt
}

// setOpQuery is one branch of a query set and how it combines with
// the branches before it.
type setOpQuery struct {
	op  OverlayOp
	qry *pgast.SelectStmt
}

// querysetOptions tunes rangeFromQueryset.
type querysetOptions struct {
	PathID  ir.PathID
	Lateral bool
	TypeRef *ir.TypeRef
	Tag     string
	// PrepFilter prepares the right-hand side of a FILTER branch
	// before the anti-join.
	PrepFilter func(lhs, rhs *pgast.SelectStmt) error
}

// RvarForRel wraps rel in a range var: a CTE reference, a subselect
// for queries, or a plain relation range var. An empty alias is
// generated.
func (c *Context) RvarForRel(rel pgast.Node, alias string, typeref *ir.TypeRef, lateral bool) pgast.PathRangeVar {
	aliases := c.env.Aliases
	switch r := rel.(type) {
	case *pgast.CommonTableExpr:
		if alias == "" {
			alias = aliases.Get(r.Name)
		}
		return &pgast.CTERangeVar{
			RangeVarBase: pgast.RangeVarBase{Alias: pgast.Alias{AliasName: alias}, TypeRef: typeref},
			CTE:          r,
		}
	case pgast.Query:
		if alias == "" {
			alias = aliases.Get("q")
		}
		return &pgast.RangeSubselect{
			RangeVarBase: pgast.RangeVarBase{Alias: pgast.Alias{AliasName: alias}, TypeRef: typeref, Lateral: lateral},
			Subquery:     r,
		}
	case *pgast.Relation:
		if alias == "" {
			alias = aliases.Get(r.Name)
		}
		return &pgast.RelRangeVar{
			RangeVarBase: pgast.RangeVarBase{Alias: pgast.Alias{AliasName: alias}, TypeRef: typeref},
			Relation:     r,
		}
	case pgast.BaseRelation:
		if alias == "" {
			alias = aliases.Get("")
		}
		return &pgast.RelRangeVar{
			RangeVarBase: pgast.RangeVarBase{Alias: pgast.Alias{AliasName: alias}, TypeRef: typeref},
			Relation:     r,
		}
	}
	panic(fmt.Sprintf("cannot range over %T", rel))
}

// NewEmptyRvar returns a range var over the empty relation for set.
func (c *Context) NewEmptyRvar(set *ir.Set) pgast.PathRangeVar {
	rel := &pgast.NullRelation{RelInfo: pgast.RelInfo{PathID: set.PathID}}
	return c.RvarForRel(rel, "", set.Type, false)
}

// NewFreeObjectRvar returns a one-row range var for a free object.
// Free objects have no storage, so the type id stands in for the
// object id.
func (c *Context) NewFreeObjectRvar(t *ir.TypeRef, pid ir.PathID, lateral bool) pgast.PathRangeVar {
	sub := c.SubRel()
	id := typeIDExpr(t.RealMaterialType())
	pathctx.ForcePathVar(sub.Rel, pid, id, pgast.AspectIdentity)
	pathctx.ForcePathVar(sub.Rel, pid, id, pgast.AspectValue)
	return c.RvarForRel(sub.Rel, "", t, lateral)
}

func typeIDExpr(t *ir.TypeRef) pgast.Expr {
	return &pgast.TypeCast{
		Arg:      &pgast.StringConstant{Val: t.ID.String()},
		TypeName: &pgast.TypeName{Name: "uuid"},
	}
}

// NewRootRvar returns the range var reading every object of set.
func (c *Context) NewRootRvar(set *ir.Set, lateral bool) (pgast.PathRangeVar, error) {
	if set.PathID.Target() != nil && set.PathID.Target().FreeObject {
		return c.NewFreeObjectRvar(set.PathID.Target(), set.PathID, lateral), nil
	}
	return c.NewPrimitiveRvar(set, set.PathID, lateral)
}

// NewPrimitiveRvar ranges over the type of set and bonds on pid.
// Sets reached through an inline backlink also bond on the source of
// the backlink, read from the link column.
func (c *Context) NewPrimitiveRvar(set *ir.Set, pid ir.PathID, lateral bool) (pgast.PathRangeVar, error) {
	opts := RangeOptions{
		Lateral:        lateral,
		IgnoreRewrites: set.IgnoreRewrites,
		DMLSource:      set.DMLSources,
	}
	if root, ok := set.Expr.(*ir.TypeRoot); ok {
		opts.SkipDescendants = root.SkipSubtypes
	}
	rvar, err := c.RangeForTypeRef(set.Type, pid, opts)
	if err != nil {
		return nil, err
	}
	pathctx.PutRvarPathBond(rvar, pid)

	ptr, ok := set.Expr.(*ir.Pointer)
	if !ok {
		return rvar, nil
	}
	if ptr.Ref.Kind == ir.PtrTypeIntersection {
		if inner, ok := ptr.Source.Expr.(*ir.Pointer); ok {
			ptr = inner
		}
	}
	if ptr.Direction == ir.Inbound && ptr.Ref.IsInline() {
		prefix, ok := pid.SrcPath()
		if !ok {
			return nil, errors.AssertionFailedf("backlink %s has no source path", pid)
		}
		flipped := pid.Extend(ptr.Ref, ir.Outbound, nil)
		if err := c.DeepCopyPrimitiveRvarPathVar(flipped, prefix, rvar); err != nil {
			return nil, err
		}
		pathctx.PutRvarPathBond(rvar, prefix)
	}
	return rvar, nil
}

// RangeForTypeRef returns the range var reading the objects of t under
// pid. Unions read each member; everything else goes through
// rangeForMaterialObjType.
func (c *Context) RangeForTypeRef(t *ir.TypeRef, pid ir.PathID, opts RangeOptions) (pgast.PathRangeVar, error) {
	var rvar pgast.PathRangeVar
	if t.IsUnion() {
		seen := map[uuid.UUID]bool{}
		var ops []setOpQuery
		for _, child := range t.Union {
			mat := child
			if child.MaterialType != nil {
				mat = child.MaterialType
			}
			if seen[mat.ID] {
				if !t.UnionIsExhaustive {
					return nil, errors.AssertionFailedf("duplicate member %s in union %s", mat, t)
				}
				continue
			}
			seen[mat.ID] = true

			childOpts := opts
			childOpts.SkipDescendants = t.UnionIsExhaustive
			crvar, err := c.RangeForTypeRef(child, pid, childOpts)
			if err != nil {
				return nil, err
			}
			qry := &pgast.SelectStmt{}
			qry.FromClause = append(qry.FromClause, crvar)
			putValueSourceRvar(qry, pid, crvar)
			pathctx.PutPathBond(qry, pid, false)
			ops = append(ops, setOpQuery{op: OverlayUnion, qry: qry})
		}
		var err error
		rvar, err = c.rangeFromQueryset(ops, t.Name.Name, querysetOptions{Lateral: opts.Lateral, TypeRef: t})
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		if rvar, err = c.rangeForMaterialObjType(t, pid, opts); err != nil {
			return nil, err
		}
	}
	if rel := rvar.Query(); rel != nil {
		rel.Info().PathID = pid
	}
	return rvar, nil
}

func putValueSourceRvar(q pgast.Query, pid ir.PathID, rvar pgast.PathRangeVar) {
	pathctx.PutPathRvar(q, pid, rvar, pgast.AspectValue, pgast.FlavorNormal)
	if pid.IsObjTypePath() {
		pathctx.PutPathRvar(q, pid, rvar, pgast.AspectSource, pgast.FlavorNormal)
	}
}

func (c *Context) rewriteCacheKey(t *ir.TypeRef, includeDescendants bool, dmlSource []ir.MutatingStmt) string {
	key := fmt.Sprintf("%s/%t", t.ID, includeDescendants)
	if c.env.TriggerMode && len(dmlSource) > 0 {
		keys := dmlKeys(dmlSource)
		slices.Sort(keys)
		key += "/" + strings.Join(slices.Compact(keys), ",")
	}
	return key
}

func (c *Context) rangeForMaterialObjType(t *ir.TypeRef, pid ir.PathID, opts RangeOptions) (pgast.PathRangeVar, error) {
	t = t.RealMaterialType()
	if !pid.IsObjTypePath() {
		return nil, errors.AssertionFailedf("cannot create root range var for non-object path %s", pid)
	}

	overlays := c.overlays.TypeOverlays(t, opts.DMLSource)
	if ext, ok := c.env.externalRvar(pid, pgast.AspectSource); ok {
		if len(overlays) > 0 {
			return nil, errors.AssertionFailedf("cannot mix external and internal overlays for %s", pid)
		}
		return ext, nil
	}

	includeDescendants := !opts.SkipDescendants
	rwKey := ir.RewriteKey{TypeID: t.ID, IncludeDescendants: includeDescendants}
	pendingKey := fmt.Sprintf("%s/%t", t.ID, includeDescendants)
	rewrite, hasRewrite := c.env.TypeRewrites[rwKey]
	forceCTE := c.env.NeedsCTE != nil && c.env.NeedsCTE(t)
	_, pending := c.pendingRewrites.Get(pendingKey)
	includeOverlays := !opts.ForMutation

	var rvar pgast.PathRangeVar
	switch {
	case !opts.IgnoreRewrites && (hasRewrite || forceCTE) && !pending && !opts.ForMutation:
		if !hasRewrite {
			rewrite = &ir.Set{
				PathID: ir.NewPathID(t, rewriteNamespace),
				Type:   t,
				Expr:   &ir.TypeRoot{Type: t},
			}
		}
		// In trigger mode overlays are compiled into the rewrite CTE
		// itself, unless reading on behalf of a DML source.
		triggerMode := c.env.TriggerMode && len(opts.DMLSource) == 0
		if triggerMode {
			includeOverlays = false
		}

		cacheKey := c.rewriteCacheKey(t, includeDescendants, opts.DMLSource)
		var typeRel pgast.Node
		if cte, ok := c.caches.typeRewrite[cacheKey]; ok {
			typeRel = cte
		} else {
			sctx := c.NewRel()
			sctx.pendingRewrites = sctx.pendingRewrites.Set(pendingKey, true)
			sctx.scopeTree = nil
			if !triggerMode {
				sctx.overlays = NewRelOverlays()
			}
			if err := sctx.compileRelSet(rewrite); err != nil {
				return nil, errors.Wrapf(err, "compiling rewrite of %s", t)
			}
			if c.env.Introspection {
				typeRel = sctx.Rel
			} else {
				cte := &pgast.CommonTableExpr{
					Name:         c.env.Aliases.Get("t_" + t.Name.Name),
					Query:        sctx.Rel,
					Materialized: forceCTE,
				}
				c.caches.typeRewrite[cacheKey] = cte
				c.caches.add(cte)
				c.env.Stats.TypeRewriteCTEs++
				c.logger.Debug("rewrite cte",
					"type", t.Name.String(),
					"cte", cte.Name,
					"materialized", cte.Materialized)
				typeRel = cte
			}
		}

		sub := c.SubRel()
		cteRvar := c.RvarForRel(typeRel, c.env.Aliases.Get("t"), t, false)
		pathctx.PutPathIDMap(sub.Rel, pid, rewrite.PathID)
		if _, err := sub.IncludeRvar(sub.Rel, cteRvar, rewrite.PathID, IncludeOptions{SkipPullNamespace: true, SkipUpdateMask: true}); err != nil {
			return nil, err
		}
		rvar = c.RvarForRel(sub.Rel, "", t, opts.Lateral)

	case t.IsView:
		return nil, errors.AssertionFailedf("attempting to generate range from view %s", t)

	default:
		descendants := typeDescendants(t, includeDescendants, opts.ForMutation)
		if c.env.Introspection || len(descendants) <= 1 {
			selects := c.selectsForTypeDescendants(descendants, pid)
			var err error
			rvar, err = c.rangeFromQueryset(unionOps(selects), t.Name.Name, querysetOptions{
				PathID:  pid,
				Lateral: opts.Lateral,
				TypeRef: t,
				Tag:     tagExpandedInhView,
			})
			if err != nil {
				return nil, err
			}
			break
		}

		typePath := ir.NewPathID(t, typerefNamespace)
		cte, ok := c.caches.typeInheritance[t.ID]
		if !ok {
			cte = &pgast.CommonTableExpr{
				Name:  c.env.Aliases.Get("t_" + t.Name.Name),
				Query: unionAll(c.selectsForTypeDescendants(descendants, typePath)),
			}
			c.caches.typeInheritance[t.ID] = cte
			c.caches.add(cte)
			c.env.Stats.TypeInheritanceCTEs++
			c.logger.Debug("inheritance cte",
				"type", t.Name.String(),
				"cte", cte.Name,
				"tables", len(descendants))
		}
		sub := c.SubRel()
		cteRvar := c.RvarForRel(cte, "", t, false)
		if !pid.Equal(typePath) {
			pathctx.PutPathIDMap(sub.Rel, pid, typePath)
		}
		if _, err := sub.IncludeRvar(sub.Rel, cteRvar, typePath, IncludeOptions{SkipPullNamespace: true, SkipUpdateMask: true}); err != nil {
			return nil, err
		}
		rvar = c.RvarForRel(sub.Rel, "", t, opts.Lateral)
	}

	if len(overlays) == 0 || !includeOverlays {
		return rvar, nil
	}
	return c.overlayStack(rvar, t, pid, overlays, opts.Lateral)
}

// overlayStack folds overlays over the base range var of t in
// registration order.
func (c *Context) overlayStack(base pgast.PathRangeVar, t *ir.TypeRef, pid ir.PathID, overlays []OverlayEntry, lateral bool) (pgast.PathRangeVar, error) {
	qry := &pgast.SelectStmt{}
	qry.FromClause = append(qry.FromClause, base)
	putValueSourceRvar(qry, pid, base)
	pathctx.PutPathBond(qry, pid, false)
	ops := []setOpQuery{{op: OverlayUnion, qry: qry}}

	for _, entry := range overlays {
		ovRvar := c.RvarForRel(entry.CTE, "", t, false)
		inner := &pgast.SelectStmt{}
		inner.FromClause = append(inner.FromClause, ovRvar)
		putValueSourceRvar(inner, entry.PathID, ovRvar)
		pathctx.PutPathBond(inner, entry.PathID, false)
		pathctx.PutPathIDMap(inner, pid, entry.PathID)

		innerRvar := &pgast.RangeSubselect{
			RangeVarBase: pgast.RangeVarBase{Alias: pgast.Alias{AliasName: c.env.Aliases.Get(entry.CTE.Name)}},
			Subquery:     inner,
		}
		outer := &pgast.SelectStmt{}
		outer.FromClause = append(outer.FromClause, innerRvar)
		putValueSourceRvar(outer, pid, innerRvar)
		pathctx.PutPathBond(outer, pid, false)

		op := entry.Op
		if op == OverlayReplace {
			op = OverlayUnion
			ops = ops[:0]
		}
		ops = append(ops, setOpQuery{op: op, qry: outer})
	}

	c.env.Stats.OverlayStacks++
	c.logger.Debug("overlay stack",
		"type", t.Name.String(),
		"overlays", len(overlays))
	return c.rangeFromQueryset(ops, t.Name.Name, querysetOptions{
		PathID:  pid,
		Lateral: lateral,
		TypeRef: t,
		Tag:     pgast.TagOverlayStack,
	})
}

// typeDescendants lists the concrete types whose tables make up t.
func typeDescendants(t *ir.TypeRef, includeDescendants, forMutation bool) []*ir.TypeRef {
	if !includeDescendants || forMutation {
		return []*ir.TypeRef{t}
	}
	var concrete []*ir.TypeRef
	for _, sub := range append([]*ir.TypeRef{t}, t.Descendants()...) {
		if !sub.IsAbstract {
			concrete = append(concrete, sub)
		}
	}
	if len(concrete) == 0 {
		return []*ir.TypeRef{t}
	}
	return concrete
}

func (c *Context) selectsForTypeDescendants(descendants []*ir.TypeRef, pid ir.PathID) []*pgast.SelectStmt {
	selects := make([]*pgast.SelectStmt, 0, len(descendants))
	for _, sub := range descendants {
		rvar := c.tableFromTypeRef(sub, pid)
		qry := &pgast.SelectStmt{}
		qry.FromClause = append(qry.FromClause, rvar)
		pathctx.PutPathRvar(qry, pid, rvar, pgast.AspectValue, pgast.FlavorNormal)
		pathctx.PutPathRvar(qry, pid, rvar, pgast.AspectSource, pgast.FlavorNormal)
		selects = append(selects, qry)
	}
	return selects
}

func (c *Context) tableFromTypeRef(t *ir.TypeRef, pid ir.PathID) *pgast.RelRangeVar {
	tbl := c.env.Catalog.TypeTable(t)
	rel := &pgast.Relation{
		RelInfo: pgast.RelInfo{PathID: pid},
		Schema:  tbl.Schema,
		Name:    tbl.Name,
		TypeRef: t,
	}
	return &pgast.RelRangeVar{
		RangeVarBase: pgast.RangeVarBase{Alias: pgast.Alias{AliasName: c.env.Aliases.Get(t.Name.Name)}, TypeRef: t},
		Relation:     rel,
	}
}

func unionOps(selects []*pgast.SelectStmt) []setOpQuery {
	ops := make([]setOpQuery, len(selects))
	for i, s := range selects {
		ops[i] = setOpQuery{op: OverlayUnion, qry: s}
	}
	return ops
}

func unionAll(selects []*pgast.SelectStmt) *pgast.SelectStmt {
	qry := selects[0]
	for _, rarg := range selects[1:] {
		qry = &pgast.SelectStmt{Op: pgast.SetOpUnion, All: true, Larg: qry, Rarg: rarg}
	}
	return qry
}

// wrapSetOpQuery turns a set operation into a plain SELECT over it, so
// that a WHERE clause applies to the whole set.
func (c *Context) wrapSetOpQuery(qry *pgast.SelectStmt) *pgast.SelectStmt {
	if !qry.IsSetOp() {
		return qry
	}
	rvar := c.RvarForRel(qry, "", nil, false)
	alias := rvar.Base().Alias.AliasName
	nqry := &pgast.SelectStmt{}
	nqry.FromClause = append(nqry.FromClause, rvar)
	for _, col := range pgast.LeftmostQuery(qry).TargetList {
		if col.Name == "" {
			continue
		}
		nqry.TargetList = append(nqry.TargetList, &pgast.ResTarget{
			Name: col.Name,
			Val:  &pgast.ColumnRef{Name: []string{alias, col.Name}},
		})
	}
	c.PullPathNamespace(nqry, rvar)
	return nqry
}

// rangeFromQueryset combines a query set into one range var. UNION
// branches are unioned; a FILTER branch anti-joins everything
// accumulated before it. A single branch is returned as its own FROM
// item unless it renames a column.
func (c *Context) rangeFromQueryset(ops []setOpQuery, name string, opts querysetOptions) (pgast.PathRangeVar, error) {
	if len(ops) == 0 {
		return nil, errors.AssertionFailedf("empty query set for %s", name)
	}
	if len(ops) > 1 {
		qry := ops[0].qry
		for _, op := range ops[1:] {
			if op.op != OverlayFilter {
				qry = &pgast.SelectStmt{Op: pgast.SetOpUnion, All: true, Larg: qry, Rarg: op.qry}
				continue
			}
			qry = c.wrapSetOpQuery(qry)
			if opts.PrepFilter != nil {
				if err := opts.PrepFilter(qry, op.qry); err != nil {
					return nil, err
				}
			}
			if err := c.AntiJoin(qry, op.qry, opts.PathID); err != nil {
				return nil, err
			}
		}
		return c.querysetRvar(qry, name, opts), nil
	}

	only := ops[0].qry
	if renamesColumn(only) || len(only.FromClause) != 1 {
		return c.querysetRvar(only, name, opts), nil
	}
	from, ok := only.FromClause[0].(pgast.PathRangeVar)
	if !ok {
		return c.querysetRvar(only, name, opts), nil
	}
	return withTypeRef(from, opts.TypeRef), nil
}

func (c *Context) querysetRvar(qry pgast.Query, name string, opts querysetOptions) *pgast.RangeSubselect {
	return &pgast.RangeSubselect{
		RangeVarBase: pgast.RangeVarBase{
			Alias:   pgast.Alias{AliasName: c.env.Aliases.Get(name)},
			Lateral: opts.Lateral,
			TypeRef: opts.TypeRef,
		},
		Subquery: qry,
		Tag:      opts.Tag,
	}
}

func renamesColumn(q *pgast.SelectStmt) bool {
	for _, t := range q.TargetList {
		if ref, ok := t.Val.(*pgast.ColumnRef); ok && t.Name != "" && t.Name != ref.Column() {
			return true
		}
	}
	return false
}

// withTypeRef returns a copy of rvar typed as t.
func withTypeRef(rvar pgast.PathRangeVar, t *ir.TypeRef) pgast.PathRangeVar {
	switch r := rvar.(type) {
	case *pgast.RelRangeVar:
		cp := *r
		cp.TypeRef = t
		return &cp
	case *pgast.CTERangeVar:
		cp := *r
		cp.TypeRef = t
		return &cp
	case *pgast.RangeSubselect:
		cp := *r
		cp.TypeRef = t
		return &cp
	case *pgast.RangeFunction:
		cp := *r
		cp.TypeRef = t
		return &cp
	}
	return rvar
}

package compiler

import (
	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

// IncludeOptions tunes IncludeRvar.
type IncludeOptions struct {
	// Aspects to register for the path. Empty means the default for the
	// kind of path: VALUE, plus SOURCE for objects and tuples.
	Aspects []pgast.Aspect
	// Overwrite replaces existing providers instead of keeping them.
	Overwrite bool
	// SkipPullNamespace leaves the namespace of the joined relation
	// out of the statement.
	SkipPullNamespace bool
	// SkipUpdateMask never hides the path from enclosing statements.
	SkipUpdateMask bool
	Flavor         pgast.Flavor
}

func defaultAspects(rvar pgast.PathRangeVar, pid ir.PathID) []pgast.Aspect {
	aspects := []pgast.Aspect{pgast.AspectValue}
	switch {
	case pid.IsObjTypePath():
		if sub, ok := rvar.(*pgast.RangeSubselect); ok {
			if pathctx.HasPathAspect(sub.Subquery, pid, pgast.AspectSource) {
				aspects = append(aspects, pgast.AspectSource)
			}
		} else {
			aspects = append(aspects, pgast.AspectSource)
		}
	case pid.IsTuplePath():
		aspects = append(aspects, pgast.AspectSource)
	}
	return aspects
}

// IncludeRvar joins rvar into stmt unless it is already reachable and
// registers it as the provider of pid.
func (c *Context) IncludeRvar(stmt pgast.Query, rvar pgast.PathRangeVar, pid ir.PathID, opts IncludeOptions) (pgast.PathRangeVar, error) {
	if len(opts.Aspects) == 0 {
		opts.Aspects = defaultAspects(rvar, pid)
	}
	return c.IncludeSpecificRvar(stmt, rvar, pid, opts)
}

// IncludeSpecificRvar is IncludeRvar registering exactly opts.Aspects.
func (c *Context) IncludeSpecificRvar(stmt pgast.Query, rvar pgast.PathRangeVar, pid ir.PathID, opts IncludeOptions) (pgast.PathRangeVar, error) {
	if !c.HasRvar(stmt, rvar) {
		if err := c.relJoin(stmt, rvar); err != nil {
			return nil, errors.Wrapf(err, "joining %s", pid)
		}
		if !opts.SkipPullNamespace {
			c.PullPathNamespace(stmt, rvar)
		}
	}

	for _, aspect := range opts.Aspects {
		if opts.Overwrite {
			pathctx.PutPathRvar(stmt, pid, rvar, aspect, opts.Flavor)
		} else {
			pathctx.PutPathRvarIfNotExists(stmt, pid, rvar, aspect, opts.Flavor)
		}
	}

	if !opts.SkipUpdateMask && c.scopeTree != nil && !c.pathVisibleInScope(pid) {
		pathctx.PutPathIDMask(stmt, pid)
	}
	return rvar, nil
}

// pathVisibleInScope reports whether the target of pid is bound by the
// current scope node or its parent, directly or as a path child.
func (c *Context) pathVisibleInScope(pid ir.PathID) bool {
	tpid := pid.TgtPath()
	scopes := []*ir.ScopeTreeNode{c.scopeTree}
	if c.scopeTree.Parent != nil {
		scopes = append(scopes, c.scopeTree.Parent)
	}
	for _, s := range scopes {
		if s.PathID.Equal(tpid) || s.FindChild(tpid) != nil {
			return true
		}
	}
	return false
}

// isPointerRvar reports whether rvar ranges over a pointer relation.
func isPointerRvar(rvar pgast.PathRangeVar) bool {
	rel := rvar.Query()
	return rel != nil && rel.Info().PathID.IsPtrPath()
}

func (c *Context) relJoin(stmt pgast.Query, rvar pgast.PathRangeVar) error {
	if sub, ok := rvar.(*pgast.RangeSubselect); ok && sub.Tag == pgast.TagOverlayStack &&
		pgast.IsSetOpQuery(sub.Subquery) && !isPointerRvar(rvar) {
		// Overlay stacks are unions of plain SELECTs, so every branch
		// can take the join condition in its own WHERE clause.
		c.env.Stats.LateralUnionJoins++
		return c.lateralUnionJoin(stmt, sub)
	}
	c.env.Stats.PlainJoins++
	return c.plainJoin(stmt, rvar)
}

// bondCondition builds the equality conditions between every bond of
// rel and the matching var already visible from stmt. rref resolves
// the right-hand side of one bond.
func (c *Context) bondCondition(stmt pgast.Query, rel pgast.BaseRelation, rref func(ir.PathID, pgast.Aspect) (pgast.Expr, error)) (pgast.Expr, error) {
	if rel == nil {
		return nil, nil
	}
	var cond pgast.Expr
	for _, bond := range rel.Info().PathBonds {
		aspect := pgast.AspectIdentity
		if bond.Iterator {
			aspect = pgast.AspectIterator
		}
		lref, err := c.MaybeGetPathVar(stmt, bond.PathID, aspect)
		if err != nil {
			return nil, err
		}
		if lref == nil && !bond.Iterator {
			if lref, err = c.MaybeGetPathVar(stmt, bond.PathID, pgast.AspectValue); err != nil {
				return nil, err
			}
		}
		if lref == nil {
			continue
		}
		r, err := rref(bond.PathID, aspect)
		if err != nil {
			return nil, err
		}
		if _, ok := lref.(*pgast.ColumnRef); !ok {
			return nil, errors.AssertionFailedf("join key %s of %s is %T, not a column", aspect, bond.PathID, lref)
		}
		if _, ok := r.(*pgast.ColumnRef); !ok {
			return nil, errors.AssertionFailedf("join key %s of %s is %T, not a column", aspect, bond.PathID, r)
		}
		cond = pgast.ExtendAnd(cond, pgast.Eq(lref, r))
	}
	return cond, nil
}

func (c *Context) plainJoin(stmt pgast.Query, rvar pgast.PathRangeVar) error {
	cond, err := c.bondCondition(stmt, rvar.Query(), func(pid ir.PathID, aspect pgast.Aspect) (pgast.Expr, error) {
		return pathctx.GetRvarPathVar(rvar, pid, aspect, pgast.FlavorNormal, c.env.Aliases)
	})
	if err != nil {
		return err
	}

	joinType := pgast.JoinInner
	switch {
	case rvar.Base().Nullable:
		joinType = pgast.JoinLeft
	case cond == nil:
		joinType = pgast.JoinCross
	}
	c.logger.Debug("join",
		"alias", rvar.Base().Alias.AliasName,
		"type", string(joinType))

	b := stmt.Base()
	if len(b.FromClause) == 0 {
		b.FromClause = append(b.FromClause, rvar)
		b.AndWhere(cond)
		return nil
	}
	if joinType == pgast.JoinLeft && cond == nil {
		// A nullable range without bonds stays a LEFT JOIN ON TRUE, not a CROSS JOIN.
		cond = &pgast.BooleanConstant{Val: true}
	}
	b.FromClause[0] = &pgast.JoinExpr{Type: joinType, Larg: b.FromClause[0], Rarg: rvar, Quals: cond}
	return nil
}

func (c *Context) lateralUnionJoin(stmt pgast.Query, rvar *pgast.RangeSubselect) error {
	for _, component := range queryLeaves(rvar.Subquery) {
		cond, err := c.bondCondition(stmt, rvar.Subquery, func(pid ir.PathID, aspect pgast.Aspect) (pgast.Expr, error) {
			return pathctx.GetPathVar(component, pid, aspect, c.env.Aliases)
		})
		if err != nil {
			return err
		}
		component.Base().AndWhere(cond)
	}
	c.logger.Debug("join",
		"alias", rvar.Alias.AliasName,
		"type", "lateral-union")

	b := stmt.Base()
	if len(b.FromClause) == 0 {
		b.FromClause = append(b.FromClause, rvar)
		return nil
	}
	b.FromClause[0] = &pgast.JoinExpr{Type: pgast.JoinCross, Larg: b.FromClause[0], Rarg: rvar}
	return nil
}

// SemiJoin filters stmt down to the targets of the pointer set reached
// from srcRvar with an IN subquery built in c.Rel instead of joining
// the target relation.
func (c *Context) SemiJoin(stmt pgast.Query, set *ir.Set, srcRvar pgast.PathRangeVar) (pgast.PathRangeVar, error) {
	ptr, ok := set.Expr.(*ir.Pointer)
	if !ok {
		return nil, errors.AssertionFailedf("semi-join of non-pointer set %s", set.PathID)
	}
	setRvar, err := c.NewRootRvar(set, true)
	if err != nil {
		return nil, err
	}

	farPID := set.PathID
	if ptr.Ref.IsInline() {
		if ptr.Direction == ir.Inbound {
			src, ok := set.PathID.SrcPath()
			if !ok {
				return nil, errors.AssertionFailedf("backlink %s has no source", set.PathID)
			}
			farPID = src
		}
	} else {
		mapRvar, err := c.NewPointerRvar(set, srcRvar)
		if err != nil {
			return nil, err
		}
		if _, err := c.IncludeRvar(c.Rel, mapRvar, set.PathID.PtrPath(), IncludeOptions{}); err != nil {
			return nil, err
		}
	}

	tgtRef, err := pathctx.GetRvarPathVar(setRvar, farPID, pgast.AspectIdentity, pgast.FlavorNormal, c.env.Aliases)
	if err != nil {
		return nil, err
	}
	if _, err := c.getPathOutput(c.Rel, farPID, pgast.AspectIdentity); err != nil {
		return nil, err
	}
	stmt.Base().AndWhere(&pgast.SubLink{Operator: pgast.SubLinkIn, Test: tgtRef, Expr: c.Rel})
	c.env.Stats.SemiJoins++
	return setRvar, nil
}

// AntiJoin removes from lhs the rows whose pid identity appears in
// rhs. With a zero pid, lhs is emptied whenever rhs has rows.
func (c *Context) AntiJoin(lhs, rhs pgast.Query, pid ir.PathID) error {
	if pid.IsZero() {
		lhs.Base().AndWhere(&pgast.SubLink{Operator: pgast.SubLinkNotExists, Expr: rhs})
		return nil
	}
	src, err := pathctx.GetPathVar(lhs, pid, pgast.AspectIdentity, c.env.Aliases)
	if err != nil {
		return errors.Wrap(err, "anti-join source")
	}
	if _, err := c.getPathOutput(rhs, pid, pgast.AspectIdentity); err != nil {
		return errors.Wrap(err, "anti-join filter")
	}
	lhs.Base().AndWhere(&pgast.SubLink{Operator: pgast.SubLinkNotIn, Test: src, Expr: rhs})
	return nil
}

func (c *Context) getPathOutput(rel pgast.BaseRelation, pid ir.PathID, aspect pgast.Aspect) (pgast.Expr, error) {
	return pathctx.GetPathOutput(rel, pid, aspect, pgast.FlavorNormal, c.env.Aliases)
}

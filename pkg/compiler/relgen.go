package compiler

import (
	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

// GetSetRvar compiles set unless it is already visible from c.Rel and
// joins it into the statement the scope tree assigns it to. It returns
// the range var providing the set.
func (c *Context) GetSetRvar(set *ir.Set) (pgast.PathRangeVar, error) {
	pid := set.PathID
	if rvar, ok := c.MaybeGetPathRvar(c.Rel, pid, pgast.AspectValue, pgast.FlavorNormal); ok {
		return rvar, nil
	}
	if ptr, ok := set.Expr.(*ir.Pointer); ok && isSourceProperty(ptr) {
		return c.sourcePropertyRvar(set, ptr)
	}

	sctx := c.WithRel(c.scopeStmtFor(pid))
	sub := sctx.SubRel()
	sub.UpdateScope(set, sub.Rel)
	if err := sub.compileRelSet(set); err != nil {
		return nil, errors.Wrapf(err, "compiling %s", pid)
	}

	rvar := c.RvarForRel(sub.Rel, "", set.Type, true)
	if ptr, ok := set.Expr.(*ir.Pointer); ok && ptr.Optional {
		rvar.Base().Nullable = true
	}
	if _, err := sctx.IncludeRvar(sctx.Rel, rvar, pid, IncludeOptions{}); err != nil {
		return nil, err
	}
	if sub.scopeOf(set) != nil {
		sub.UpdateScopeMasks(set, rvar)
	}
	return rvar, nil
}

// compileRelSet compiles set into c.Rel, which then provides the value
// of the set and, for objects, its source row.
func (c *Context) compileRelSet(set *ir.Set) error {
	pid := set.PathID
	switch e := set.Expr.(type) {
	case *ir.TypeRoot:
		rvar, err := c.NewRootRvar(set, false)
		if err != nil {
			return err
		}
		_, err = c.IncludeRvar(c.Rel, rvar, pid, IncludeOptions{})
		return err

	case *ir.Pointer:
		return c.processPointer(set, e)

	case *ir.EmptySet:
		_, err := c.IncludeRvar(c.Rel, c.NewEmptyRvar(set), pid, IncludeOptions{})
		return err

	case *ir.Literal:
		pathctx.PutPathVar(c.Rel, pid, literalExpr(e), pgast.AspectValue)
		return nil

	case *ir.Comparison:
		v, err := c.comparisonExpr(e)
		if err != nil {
			return err
		}
		pathctx.PutPathVar(c.Rel, pid, v, pgast.AspectValue)
		return nil

	case *ir.SelectStmt:
		return c.compileSelect(set, e)

	case *ir.Materialize:
		return c.compileMaterialized(set, e)

	case *ir.InsertStmt:
		return c.compileDMLSet(set, e)
	case *ir.UpdateStmt:
		return c.compileDMLSet(set, e)
	case *ir.DeleteStmt:
		return c.compileDMLSet(set, e)
	}
	return internalErrorf(ErrCodeUnsupported, "cannot compile %T set %s", set.Expr, pid)
}

func literalExpr(l *ir.Literal) pgast.Expr {
	return &pgast.TypeCast{Arg: &pgast.StringConstant{Val: l.Value}, TypeName: pgTypeName(l.Type)}
}

func (c *Context) comparisonExpr(cmp *ir.Comparison) (pgast.Expr, error) {
	l, err := c.valueOf(cmp.Left)
	if err != nil {
		return nil, err
	}
	r, err := c.valueOf(cmp.Right)
	if err != nil {
		return nil, err
	}
	return &pgast.BinOp{Op: cmp.Op, Lexpr: l, Rexpr: r}, nil
}

// valueOf returns the value of set as seen from c.Rel. Literals and
// comparisons are computed in place; everything else is joined in.
func (c *Context) valueOf(set *ir.Set) (pgast.Expr, error) {
	switch e := set.Expr.(type) {
	case *ir.Literal:
		return literalExpr(e), nil
	case *ir.Comparison:
		return c.comparisonExpr(e)
	}
	if _, err := c.GetSetRvar(set); err != nil {
		return nil, err
	}
	return c.GetPathVar(c.Rel, set.PathID, pgast.AspectValue)
}

// identityOf is valueOf for the identity of an object set.
func (c *Context) identityOf(set *ir.Set) (pgast.Expr, error) {
	if !set.PathID.IsObjTypePath() {
		return c.valueOf(set)
	}
	if _, err := c.GetSetRvar(set); err != nil {
		return nil, err
	}
	return c.GetPathVar(c.Rel, set.PathID, pgast.AspectIdentity)
}

// isSourceProperty reports whether ptr is read from a column of its
// source row.
func isSourceProperty(ptr *ir.Pointer) bool {
	return ptr.Direction == ir.Outbound && !ptr.Ref.IsLink() && ptr.Ref.IsInline()
}

// sourcePropertyRvar makes the source of a property visible. The
// property itself needs no range var of its own.
func (c *Context) sourcePropertyRvar(set *ir.Set, ptr *ir.Pointer) (pgast.PathRangeVar, error) {
	srcRvar, err := c.GetSetRvar(ptr.Source)
	if err != nil {
		return nil, err
	}
	if _, err := c.GetPathVar(c.Rel, set.PathID, pgast.AspectValue); err != nil {
		return nil, errors.Wrapf(err, "reading %s from its source", set.PathID)
	}
	return srcRvar, nil
}

// semiJoinable reports whether the targets of ptr can be filtered with
// an IN subquery: the source is neither visible nor scoped, so nothing
// else needs its rows.
func (c *Context) semiJoinable(set *ir.Set, ptr *ir.Pointer) bool {
	if !set.PathID.IsObjTypePath() || ptr.Optional || ptr.Ref.Kind != ir.PtrRegular || ptr.Ref.IsLinkProperty {
		return false
	}
	srcPID := ptr.Source.PathID
	if _, ok := c.MaybeGetScopeStmt(srcPID); ok {
		return false
	}
	_, visible := c.MaybeGetPathRvar(c.Rel, srcPID, pgast.AspectValue, pgast.FlavorNormal)
	return !visible
}

// processPointer compiles a pointer traversal into c.Rel: the source,
// the pointer relation and the target, joined on their bonds.
func (c *Context) processPointer(set *ir.Set, ptr *ir.Pointer) error {
	pid := set.PathID
	if c.semiJoinable(set, ptr) {
		srcCtx := c.SubRel()
		srcRvar, err := srcCtx.GetSetRvar(ptr.Source)
		if err != nil {
			return err
		}
		rvar, err := srcCtx.SemiJoin(c.Rel, set, srcRvar)
		if err != nil {
			return err
		}
		_, err = c.IncludeRvar(c.Rel, rvar, pid, IncludeOptions{})
		return err
	}

	srcRvar, err := c.GetSetRvar(ptr.Source)
	if err != nil {
		return err
	}

	if ptr.Ref.Kind == ir.PtrTypeIntersection {
		// The narrowed set shares its identity with the source.
		srcID, err := c.GetPathVar(c.Rel, ptr.Source.PathID, pgast.AspectIdentity)
		if err != nil {
			return err
		}
		pathctx.PutPathVar(c.Rel, pid, srcID, pgast.AspectIdentity)
		rvar, err := c.NewRootRvar(set, false)
		if err != nil {
			return err
		}
		_, err = c.IncludeRvar(c.Rel, rvar, pid, IncludeOptions{})
		return err
	}

	// Inline backlinks are read from the target table alone.
	if !ptr.Ref.IsInline() || ptr.Direction == ir.Outbound {
		mapRvar, err := c.NewPointerRvar(set, srcRvar)
		if err != nil {
			return err
		}
		opts := IncludeOptions{
			Aspects:        []pgast.Aspect{pgast.AspectValue, pgast.AspectSource},
			SkipUpdateMask: true,
		}
		if _, err := c.IncludeRvar(c.Rel, mapRvar, pid.PtrPath(), opts); err != nil {
			return err
		}
		if !pid.IsObjTypePath() {
			pathctx.PutPathRvar(c.Rel, pid, mapRvar, pgast.AspectValue, pgast.FlavorNormal)
			return nil
		}
	}

	rvar, err := c.NewRootRvar(set, false)
	if err != nil {
		return err
	}
	_, err = c.IncludeRvar(c.Rel, rvar, pid, IncludeOptions{})
	return err
}

// serializedVar returns the client form of pid in stmt, serializing
// its value on first use.
func (c *Context) serializedVar(stmt pgast.Query, pid ir.PathID) (pgast.Expr, error) {
	if v, ok := pathctx.MaybeGetPathVar(stmt, pid, pgast.AspectSerialized); ok {
		return v, nil
	}
	if _, ok := pathctx.MaybeGetPathRvar(stmt, pid, pgast.AspectSerialized, pgast.FlavorNormal); ok {
		return pathctx.GetPathVar(stmt, pid, pgast.AspectSerialized, c.env.Aliases)
	}
	v, err := c.GetPathVar(stmt, pid, pgast.AspectValue)
	if err != nil {
		return nil, err
	}
	ser := c.serializeExpr(v, pid)
	pathctx.ForcePathVar(stmt, pid, ser, pgast.AspectSerialized)
	return ser, nil
}

// compileShape computes the serialized form of set in stmt from its
// shape elements. Properties are read from the source row; links and
// multi properties become correlated subqueries, aggregated into
// arrays when multi.
func (c *Context) compileShape(set *ir.Set, stmt pgast.Query) error {
	if len(set.Shape) == 0 {
		return nil
	}
	names := make([]string, 0, len(set.Shape))
	vals := make([]pgast.Expr, 0, len(set.Shape))
	for _, el := range set.Shape {
		ptr, ok := el.Expr.(*ir.Pointer)
		if !ok {
			return errors.AssertionFailedf("shape element %s is %T, not a pointer", el.PathID, el.Expr)
		}
		var v pgast.Expr
		var err error
		if isSourceProperty(ptr) && !ptr.Ref.IsMulti() {
			v, err = c.GetPathVar(stmt, el.PathID, pgast.AspectValue)
		} else {
			v, err = c.WithRel(stmt).shapeElementQuery(el, ptr)
		}
		if err != nil {
			return errors.Wrapf(err, "shape element %s", ptr.Ref.ShortName)
		}
		names = append(names, ptr.Ref.ShortName)
		vals = append(vals, v)
	}
	pathctx.ForcePathVar(stmt, set.PathID, c.serializeShape(names, vals), pgast.AspectSerialized)
	return nil
}

func (c *Context) shapeElementQuery(el *ir.Set, ptr *ir.Pointer) (pgast.Expr, error) {
	ectx := c.SubRel()
	ectx.pathScope = ectx.pathScope.Set(el.PathID.Key(), ectx.Rel)
	if _, err := ectx.GetSetRvar(el); err != nil {
		return nil, err
	}
	if err := ectx.compileShape(el, ectx.Rel); err != nil {
		return nil, err
	}
	ser, err := ectx.serializedVar(ectx.Rel, el.PathID)
	if err != nil {
		return nil, err
	}
	if ptr.Ref.IsMulti() {
		arr, err := ectx.SetToArray(el.PathID, ectx.Rel, false)
		if err != nil {
			return nil, err
		}
		return arr, nil
	}
	ectx.Rel.Base().TargetList = []*pgast.ResTarget{{Name: c.env.Aliases.Get(ptr.Ref.ShortName), Val: ser}}
	return ectx.Rel, nil
}

// compileMaterialized compiles the referenced set once, packs it into
// an array and unpacks it into c.Rel.
func (c *Context) compileMaterialized(set *ir.Set, m *ir.Materialize) error {
	inner := c.SubRel()
	inner.materializing = true
	inner.pathScope = inner.pathScope.Set(m.Set.PathID.Key(), inner.Rel)
	if _, err := inner.GetSetRvar(m.Set); err != nil {
		return err
	}
	if err := inner.compileShape(m.Set, inner.Rel); err != nil {
		return err
	}
	arr, err := inner.SetToArray(m.Set.PathID, inner.Rel, false)
	if err != nil {
		return err
	}
	pathctx.PutPackedPathVar(arr, set.PathID, arr.TargetList[0].Val, pgast.AspectValue)

	packed := c.RvarForRel(arr, "", set.Type, true)
	opts := IncludeOptions{
		Aspects:        []pgast.Aspect{pgast.AspectValue},
		Flavor:         pgast.FlavorPacked,
		SkipUpdateMask: true,
	}
	if _, err := c.IncludeSpecificRvar(c.Rel, packed, set.PathID, opts); err != nil {
		return err
	}
	_, err = c.UnpackRvar(c.Rel, set.PathID, packed)
	return err
}

package compiler

import (
	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

// GetPathVar resolves (pid, aspect) as seen from stmt. Injected range
// vars win; otherwise stmt and then each enclosing statement is asked
// in turn, so a correlated reference to an outer statement resolves
// to that statement's expression.
func (c *Context) GetPathVar(stmt pgast.Query, pid ir.PathID, aspect pgast.Aspect) (pgast.Expr, error) {
	v, err := c.MaybeGetPathVar(stmt, pid, aspect)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &pathctx.LookupError{PathID: pid, Aspect: aspect, What: "visible path var"}
	}
	return v, nil
}

// MaybeGetPathVar is GetPathVar returning nil when pid is not visible
// from stmt. Errors other than lookup failures are returned.
func (c *Context) MaybeGetPathVar(stmt pgast.Query, pid ir.PathID, aspect pgast.Aspect) (pgast.Expr, error) {
	if rvar, ok := c.env.externalRvar(pid, aspect); ok {
		return pathctx.GetRvarPathVar(rvar, pid, aspect, pgast.FlavorNormal, c.env.Aliases)
	}
	for q := stmt; q != nil; q = c.hierarchy[q] {
		v, err := pathctx.GetPathVar(q, pid, aspect, c.env.Aliases)
		switch {
		case err == nil:
			return v, nil
		case !pathctx.IsLookupError(err):
			return nil, errors.Wrapf(err, "resolving %s", pid)
		}
	}
	return nil, nil
}

// MaybeGetPathRvar returns the range var providing (pid, aspect) to
// stmt or one of its ancestors. A provider found in an ancestor is
// cached on stmt.
func (c *Context) MaybeGetPathRvar(stmt pgast.Query, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor) (pgast.PathRangeVar, bool) {
	if rvar, ok := c.env.externalRvar(pid, aspect); ok {
		return rvar, true
	}
	for q := stmt; q != nil; q = c.hierarchy[q] {
		if rvar, ok := pathctx.MaybeGetPathRvar(q, pid, aspect, flavor); ok {
			if q != stmt {
				pathctx.PutPathRvar(stmt, pid, rvar, aspect, flavor)
			}
			return rvar, true
		}
	}
	return nil, false
}

// GetPathRvar is MaybeGetPathRvar failing with a lookup error.
func (c *Context) GetPathRvar(stmt pgast.Query, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor) (pgast.PathRangeVar, error) {
	if rvar, ok := c.MaybeGetPathRvar(stmt, pid, aspect, flavor); ok {
		return rvar, nil
	}
	return nil, &pathctx.LookupError{PathID: pid, Aspect: aspect, What: "range var"}
}

// FindRvar looks up the value provider of pid as seen from sourceStmt
// and, when found, registers it (and the source provider, if any) on
// stmt without replacing existing bindings.
func (c *Context) FindRvar(stmt, sourceStmt pgast.Query, pid ir.PathID, flavor pgast.Flavor) (pgast.PathRangeVar, bool) {
	if sourceStmt == nil {
		sourceStmt = stmt
	}
	rvar, ok := c.MaybeGetPathRvar(sourceStmt, pid, pgast.AspectValue, flavor)
	if !ok {
		return nil, false
	}
	pathctx.PutPathRvarIfNotExists(stmt, pid, rvar, pgast.AspectValue, flavor)
	if src, ok := c.MaybeGetPathRvar(sourceStmt, pid, pgast.AspectSource, flavor); ok {
		pathctx.PutPathRvarIfNotExists(stmt, pid, src, pgast.AspectSource, flavor)
	}
	return rvar, true
}

// HasRvar reports whether rvar is already reachable from stmt.
func (c *Context) HasRvar(stmt pgast.Query, rvar pgast.PathRangeVar) bool {
	if c.env.isExternalRvar(rvar) {
		return true
	}
	for q := stmt; q != nil; q = c.hierarchy[q] {
		if pathctx.HasRvar(q, rvar) {
			return true
		}
	}
	return false
}

// PullPathNamespace makes every path the relation behind source
// provides resolvable in target through source, in both flavors.
func (c *Context) PullPathNamespace(target pgast.Query, source pgast.PathRangeVar) {
	for _, flavor := range []pgast.Flavor{pgast.FlavorNormal, pgast.FlavorPacked} {
		pullPathNamespace(target, source, flavor)
	}
}

func pullPathNamespace(target pgast.Query, source pgast.PathRangeVar, flavor pgast.Flavor) {
	squery := source.Query()
	if squery == nil {
		return
	}
	sources := []pgast.BaseRelation{squery}
	if s, ok := squery.(*pgast.SelectStmt); ok && s.IsSetOp() {
		sources = append(sources, s.Larg, s.Rarg)
	}
	var mask *pgast.PathSet
	if q, ok := squery.(pgast.Query); ok {
		mask = &q.Base().PathIDMask
	}

	for _, sq := range sources {
		type pathAspect struct {
			pid    ir.PathID
			aspect pgast.Aspect
		}
		var paths []pathAspect
		seen := map[string]bool{}
		add := func(pid ir.PathID, aspect pgast.Aspect) {
			k := pid.Key() + "/" + aspect.String()
			if !seen[k] {
				seen[k] = true
				paths = append(paths, pathAspect{pid, aspect})
			}
		}
		for _, e := range sq.Info().Outputs(flavor).Entries() {
			add(e.PathID, e.Aspect)
		}
		var viewMap *pgast.PathIDMap
		if q, ok := sq.(pgast.Query); ok {
			b := q.Base()
			if flavor == pgast.FlavorNormal {
				for _, e := range b.PathNamespace.Entries() {
					add(e.PathID, e.Aspect)
				}
				viewMap = &b.ViewPathIDMap
			}
			for _, e := range b.RvarMap(flavor).Entries() {
				add(e.PathID, e.Aspect)
			}
		}

		for _, p := range paths {
			pid := p.pid
			if viewMap != nil {
				pid = pathctx.ReverseMapPathID(pid, viewMap)
			}
			if flavor == pgast.FlavorNormal && mask != nil && (mask.Contains(pid) || mask.Contains(p.pid)) {
				continue
			}
			if flavor == pgast.FlavorPacked {
				pathctx.PutPathRvar(target, pid, source, p.aspect, flavor)
				continue
			}
			pathctx.PutPathRvarIfNotExists(target, pid, source, p.aspect, flavor)
		}
	}
}

// CreateIteratorIdentityForPath gives every row of stmt a fresh
// identity under the ITERATOR aspect of pid and bonds on it.
func (c *Context) CreateIteratorIdentityForPath(pid ir.PathID, stmt pgast.Query) {
	id := &pgast.FuncCall{Name: "edgedb.uuid_generate_v4"}
	if s, ok := stmt.(*pgast.SelectStmt); ok {
		pid = pathctx.MapPathID(pid, &s.ViewPathIDMap)
	}
	pathctx.ForcePathVar(stmt, pid, id, pgast.AspectIterator)
	pathctx.PutPathBond(stmt, pid, true)
}

// DeepCopyPrimitiveRvarPathVar makes the identity of orig available
// under newID in rvar. Overlay stacks are joined branch by branch, so
// each branch gets its own copy.
func (c *Context) DeepCopyPrimitiveRvarPathVar(orig, newID ir.PathID, rvar pgast.PathRangeVar) error {
	if sub, ok := rvar.(*pgast.RangeSubselect); ok {
		for _, component := range queryLeaves(sub.Subquery) {
			ref, err := pathctx.GetPathVar(component, orig, pgast.AspectIdentity, c.env.Aliases)
			if err != nil {
				return err
			}
			pathctx.PutPathVar(component, newID, ref, pgast.AspectIdentity)
		}
		return nil
	}
	rel := rvar.Query()
	if rel == nil {
		return errors.AssertionFailedf("cannot copy %s on function range var", orig)
	}
	ref, err := pathctx.GetPathOutput(rel, orig, pgast.AspectIdentity, pgast.FlavorNormal, c.env.Aliases)
	if err != nil {
		return err
	}
	pathctx.PutRvarPathOutput(rvar, newID, pgast.AspectIdentity, ref, pgast.FlavorNormal)
	return nil
}

// queryLeaves returns the non-set-op queries making up q.
func queryLeaves(q pgast.Query) []pgast.Query {
	s, ok := q.(*pgast.SelectStmt)
	if !ok {
		return []pgast.Query{q}
	}
	leaves := pgast.SetOpLeaves(s)
	out := make([]pgast.Query, len(leaves))
	for i, l := range leaves {
		out[i] = l
	}
	return out
}

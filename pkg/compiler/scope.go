package compiler

import (
	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

// scopeOf returns the scope tree node attached to set, if any.
func (c *Context) scopeOf(set *ir.Set) *ir.ScopeTreeNode {
	if set == nil || set.PathScopeID == 0 {
		return nil
	}
	return c.env.ScopeTreeNodes[set.PathScopeID]
}

// UpdateScope makes the paths bound directly in the scope of set
// compile against stmt. Sets without a scope node leave c unchanged.
func (c *Context) UpdateScope(set *ir.Set, stmt pgast.Query) {
	node := c.scopeOf(set)
	if node == nil {
		return
	}
	c.scopeTree = node
	ps := c.pathScope
	for _, child := range node.PathChildren() {
		ps = ps.Set(child.PathID.Key(), stmt)
	}
	c.pathScope = ps
	c.logger.Debug("scope rebound",
		slogPath("path", set.PathID),
		"scope_id", node.ID,
		"paths", len(node.PathChildren()))
}

// UpdateScopeMasks hides the paths of the current scope inside the
// subquery behind rvar, so they are not pulled into the enclosing
// statement. An optional scope only hides its direct non-optional
// children.
func (c *Context) UpdateScopeMasks(set *ir.Set, rvar pgast.PathRangeVar) {
	sub, ok := rvar.(*pgast.RangeSubselect)
	if !ok || c.scopeTree == nil {
		return
	}
	if c.scopeTree.IsOptional(set.PathID) {
		for _, child := range c.scopeTree.PathChildren() {
			if !child.Optional {
				pathctx.PutPathIDMask(sub.Subquery, child.PathID)
			}
		}
		return
	}
	for _, pid := range c.scopeTree.AllPaths() {
		pathctx.PutPathIDMask(sub.Subquery, pid)
	}
}

// MaybeGetScopeStmt returns the statement pid is scoped to. Pointer
// paths are scoped like their target.
func (c *Context) MaybeGetScopeStmt(pid ir.PathID) (pgast.Query, bool) {
	if stmt, ok := c.pathScope.Get(pid.Key()); ok {
		return stmt, true
	}
	if pid.IsPtrPath() {
		return c.pathScope.Get(pid.TgtPath().Key())
	}
	return nil, false
}

// GetScopeStmt is MaybeGetScopeStmt for paths that must be scoped.
func (c *Context) GetScopeStmt(pid ir.PathID) (pgast.Query, error) {
	stmt, ok := c.MaybeGetScopeStmt(pid)
	if !ok {
		return nil, errors.AssertionFailedf("no scope statement for %s", pid)
	}
	return stmt, nil
}

// scopeStmtFor returns the statement a set should be compiled into:
// its scope statement if that encloses the current one, else c.Rel.
func (c *Context) scopeStmtFor(pid ir.PathID) pgast.Query {
	if stmt, ok := c.MaybeGetScopeStmt(pid); ok && c.isAncestorOrSelf(stmt, c.Rel) {
		return stmt
	}
	return c.Rel
}

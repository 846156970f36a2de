package compiler

import (
	"log/slog"

	"github.com/benbjohnson/immutable"
	"github.com/google/uuid"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

// cteCaches holds the CTEs shared by every reference within one
// compile. Ordered lists CTEs in creation order, which is also their
// dependency order.
type cteCaches struct {
	typeRewrite     map[string]*pgast.CommonTableExpr
	typeInheritance map[uuid.UUID]*pgast.CommonTableExpr
	ptrInheritance  map[uuid.UUID]*pgast.CommonTableExpr
	ordered         []*pgast.CommonTableExpr
}

func newCTECaches() *cteCaches {
	return &cteCaches{
		typeRewrite:     map[string]*pgast.CommonTableExpr{},
		typeInheritance: map[uuid.UUID]*pgast.CommonTableExpr{},
		ptrInheritance:  map[uuid.UUID]*pgast.CommonTableExpr{},
	}
}

func (cc *cteCaches) add(cte *pgast.CommonTableExpr) {
	cc.ordered = append(cc.ordered, cte)
}

// Context is one level of the compiler state. Levels are values:
// deriving a level copies the struct, so scope bindings made on a
// derived level never leak into its parent. The Environment, the
// relation hierarchy and the CTE caches are shared by all levels of a
// compile.
type Context struct {
	env *Environment

	// Rel is the statement currently being built.
	Rel      pgast.Query
	toplevel pgast.Query

	// hierarchy maps each sub-statement to the statement it is nested in.
	hierarchy map[pgast.Query]pgast.Query

	scopeTree *ir.ScopeTreeNode
	// pathScope maps path keys to the statement computing the path.
	pathScope *immutable.Map[string, pgast.Query]

	overlays        *RelOverlays
	caches          *cteCaches
	pendingRewrites *immutable.Map[string, bool]

	// dmlStmts lists the enclosing DML statements, innermost last.
	dmlStmts []ir.MutatingStmt

	exprExposed   bool
	materializing bool

	logger *slog.Logger
}

// NewContext returns the root level of a compile building stmt.
func NewContext(env *Environment, stmt pgast.Query) *Context {
	return &Context{
		env:             env,
		Rel:             stmt,
		toplevel:        stmt,
		hierarchy:       map[pgast.Query]pgast.Query{},
		pathScope:       immutable.NewMap[string, pgast.Query](nil),
		overlays:        NewRelOverlays(),
		caches:          newCTECaches(),
		pendingRewrites: immutable.NewMap[string, bool](nil),
		exprExposed:     true,
		logger:          env.Logger,
	}
}

// Env returns the environment of the compile.
func (c *Context) Env() *Environment { return c.env }

// Overlays returns the overlays visible at this level.
func (c *Context) Overlays() *RelOverlays { return c.overlays }

// ScopeTree returns the current scope tree node.
func (c *Context) ScopeTree() *ir.ScopeTreeNode { return c.scopeTree }

func (c *Context) derive() *Context {
	cp := *c
	return &cp
}

// SubRel returns a level building a new SELECT nested in c.Rel.
func (c *Context) SubRel() *Context {
	sub := c.derive()
	sub.Rel = &pgast.SelectStmt{}
	c.hierarchy[sub.Rel] = c.Rel
	return sub
}

// NewRel returns a level building an unrelated SELECT, such as the
// body of a CTE.
func (c *Context) NewRel() *Context {
	sub := c.derive()
	sub.Rel = &pgast.SelectStmt{}
	return sub
}

// Branch returns a level whose overlay registrations stay invisible
// to c and to sibling branches.
func (c *Context) Branch() *Context {
	sub := c.derive()
	sub.overlays = c.overlays.clone()
	return sub
}

// WithRel returns a level building stmt.
func (c *Context) WithRel(stmt pgast.Query) *Context {
	sub := c.derive()
	sub.Rel = stmt
	return sub
}

// Parent returns the statement q is nested in, or nil.
func (c *Context) Parent(q pgast.Query) pgast.Query {
	return c.hierarchy[q]
}

// LinkRel records that child is nested in parent.
func (c *Context) LinkRel(child, parent pgast.Query) {
	c.hierarchy[child] = parent
}

// isAncestorOrSelf reports whether anc is q or encloses it.
func (c *Context) isAncestorOrSelf(anc, q pgast.Query) bool {
	for cur := q; cur != nil; cur = c.hierarchy[cur] {
		if cur == anc {
			return true
		}
	}
	return false
}

// CTEs returns every shared CTE created so far in creation order.
func (c *Context) CTEs() []*pgast.CommonTableExpr {
	return c.caches.ordered
}

func slogPath(key string, pid ir.PathID) slog.Attr {
	return slog.String(key, pid.String())
}

func dmlKeys(stmts []ir.MutatingStmt) []string {
	keys := make([]string, len(stmts))
	for i, s := range stmts {
		keys[i] = s.DMLKey()
	}
	return keys
}

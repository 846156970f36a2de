// Package compiler lowers IR statements to backend SQL trees. It
// resolves every path of the IR to a column of some range var, decides
// where each set is joined and routes reads of mutated types through
// the CTEs of the DML statements that changed them.
package compiler

import (
	"maps"

	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

// Result is a compiled statement.
type Result struct {
	// Stmt is the top-level SELECT. Shared CTEs are attached to it.
	Stmt *pgast.SelectStmt
	// CTEs lists the shared CTEs in dependency order.
	CTEs  []*pgast.CommonTableExpr
	Stats Stats
}

// Compile compiles stmt.
func Compile(stmt *ir.Statement, opts ...Option) (*Result, error) {
	if stmt == nil || stmt.Expr == nil {
		return nil, errors.New("compile: empty statement")
	}
	env := NewEnvironment(opts...)
	maps.Copy(env.TypeRewrites, stmt.TypeRewrites)
	maps.Copy(env.MaterializedViews, stmt.MaterializedViews)
	if stmt.ScopeTree != nil {
		maps.Copy(env.ScopeTreeNodes, stmt.ScopeTree.Index())
	}

	root := &pgast.SelectStmt{}
	c := NewContext(env, root)
	c.scopeTree = stmt.ScopeTree
	if err := c.compileToplevel(stmt.Expr); err != nil {
		return nil, err
	}
	for _, cte := range c.CTEs() {
		root.AppendCTE(cte)
	}

	env.Logger.Debug("compiled",
		"dml", stmt.IsDML(),
		"ctes", len(root.CTEs),
		"joins", env.Stats.PlainJoins+env.Stats.LateralUnionJoins)
	return &Result{Stmt: root, CTEs: c.CTEs(), Stats: env.Stats}, nil
}

func (c *Context) compileToplevel(set *ir.Set) error {
	c.UpdateScope(set, c.Rel)

	var err error
	if s, ok := set.Expr.(*ir.SelectStmt); ok {
		err = c.compileSelect(set, s)
	} else if _, err = c.GetSetRvar(set); err == nil && c.exprExposed {
		err = c.compileShape(set, c.Rel)
	}
	if err != nil {
		return errors.Wrapf(err, "compiling %s", set.PathID)
	}
	return c.finalizeOutput(set)
}

// finalizeOutput adds the single output column of the top-level
// statement. Rows where the result is NULL are not part of the set.
func (c *Context) finalizeOutput(set *ir.Set) error {
	stmt := c.Rel.Base()
	value, err := c.GetPathVar(c.Rel, set.PathID, pgast.AspectValue)
	if err != nil {
		return errors.Wrap(err, "output")
	}
	if _, isTuple := value.(*pgast.TupleVar); !isTuple && pgast.IsNullable(value) {
		stmt.AndWhere(&pgast.NullTest{Arg: value, Negated: true})
	}

	out := outputAsValue(value)
	if c.exprExposed {
		if out, err = c.serializedVar(c.Rel, set.PathID); err != nil {
			return errors.Wrap(err, "output")
		}
	}
	stmt.TargetList = append(stmt.TargetList, &pgast.ResTarget{Name: c.env.Aliases.Get("v"), Val: out})
	return nil
}

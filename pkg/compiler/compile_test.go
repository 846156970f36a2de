package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geldata/gel/internal/testutil"
	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

func cteNames(res *Result) []string {
	names := make([]string, len(res.CTEs))
	for i, cte := range res.CTEs {
		names[i] = cte.Name
	}
	return names
}

func TestCompileSelect(t *testing.T) {
	s := newTestSchema()

	t.Run("empty statement", func(t *testing.T) {
		_, err := Compile(nil)
		require.Error(t, err)
		_, err = Compile(&ir.Statement{})
		require.Error(t, err)
	})

	t.Run("property shape", func(t *testing.T) {
		foo := s.fooSet()
		foo.Shape = []*ir.Set{step(foo, s.name, ir.Outbound)}

		res, err := Compile(&ir.Statement{Expr: foo}, WithLogger(testutil.NewTestLogger(t)))
		require.NoError(t, err)
		assert.Empty(t, res.CTEs)
		assert.Equal(t, []string{"Foo"}, relationNames(res.Stmt))

		require.Len(t, res.Stmt.TargetList, 1)
		row, ok := res.Stmt.TargetList[0].Val.(*pgast.RowExpr)
		require.True(t, ok, "objects with a shape serialize as records")
		require.Len(t, row.Args, 1)
		assert.IsType(t, &pgast.ColumnRef{}, row.Args[0])
		assert.Nil(t, res.Stmt.WhereClause, "identity is never null")
	})

	t.Run("nested link shape", func(t *testing.T) {
		foo := s.fooSet()
		bar := step(foo, s.barLink, ir.Outbound)
		bar.Shape = []*ir.Set{step(bar, s.barID, ir.Outbound)}
		foo.Shape = []*ir.Set{bar}

		res, err := Compile(&ir.Statement{Expr: foo})
		require.NoError(t, err)

		require.Len(t, res.CTEs, 1, "Bar and its subtype share one inheritance cte")
		assert.True(t, strings.HasPrefix(res.CTEs[0].Name, "t_bar"))
		assert.Same(t, res.CTEs[0], res.Stmt.CTEs[0])
		assert.Equal(t, 1, res.Stats.TypeInheritanceCTEs)

		joins := collect[*pgast.JoinExpr](res.Stmt)
		require.Len(t, joins, 1)
		assert.Equal(t, pgast.JoinInner, joins[0].Type)
		assert.Contains(t, relationNames(res.Stmt), "Foo.bar")

		row := res.Stmt.TargetList[0].Val.(*pgast.RowExpr)
		require.Len(t, row.Args, 1)
		arr, ok := row.Args[0].(*pgast.SelectStmt)
		require.True(t, ok, "multi links are aggregated in a subquery")
		assert.IsType(t, &pgast.CoalesceExpr{}, arr.TargetList[0].Val)
	})

	t.Run("filter on an optional link", func(t *testing.T) {
		owner := step(s.barSet(), s.owner, ir.Outbound)
		owner.Expr.(*ir.Pointer).Optional = true
		cond := &ir.Set{
			PathID: ir.NewPathID(s.str, "cond"),
			Type:   s.str,
			Expr: &ir.Comparison{
				Op:    "=",
				Left:  step(owner, s.name, ir.Outbound),
				Right: literal(s.str, "x"),
			},
		}

		res, err := Compile(&ir.Statement{Expr: selectSet(s.barSet(), cond)})
		require.NoError(t, err)

		join, ok := res.Stmt.FromClause[0].(*pgast.JoinExpr)
		require.True(t, ok)
		assert.Equal(t, pgast.JoinLeft, join.Type)
		assert.True(t, join.Rarg.(pgast.PathRangeVar).Base().Nullable)

		where, ok := res.Stmt.WhereClause.(*pgast.BinOp)
		require.True(t, ok)
		assert.Equal(t, "=", where.Op)
	})

	t.Run("link target is a semi-join", func(t *testing.T) {
		res, err := Compile(&ir.Statement{Expr: step(s.fooSet(), s.barLink, ir.Outbound)})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.SemiJoins)

		var in []*pgast.SubLink
		for _, link := range collect[*pgast.SubLink](res.Stmt) {
			if link.Operator == pgast.SubLinkIn {
				in = append(in, link)
			}
		}
		require.Len(t, in, 1)
		assert.Contains(t, relationNames(in[0].Expr), "Foo.bar")
	})

	t.Run("limit and order", func(t *testing.T) {
		foo := s.fooSet()
		sel := &ir.Set{
			PathID: foo.PathID,
			Type:   foo.Type,
			Expr: &ir.SelectStmt{
				Result:  foo,
				OrderBy: []ir.SortExpr{{Expr: step(foo, s.name, ir.Outbound), Descending: true}},
				Limit:   literal(s.int64T, "10"),
			},
		}
		res, err := Compile(&ir.Statement{Expr: sel})
		require.NoError(t, err)

		require.Len(t, res.Stmt.SortClause, 1)
		assert.True(t, res.Stmt.SortClause[0].Descending)
		limit, ok := res.Stmt.LimitCount.(*pgast.TypeCast)
		require.True(t, ok)
		assert.Equal(t, "int8", limit.TypeName.Name)
	})

	t.Run("json output", func(t *testing.T) {
		foo := s.fooSet()
		foo.Shape = []*ir.Set{step(foo, s.name, ir.Outbound)}
		res, err := Compile(&ir.Statement{Expr: foo}, WithOutputFormat(FormatJSON))
		require.NoError(t, err)
		fn, ok := res.Stmt.TargetList[0].Val.(*pgast.FuncCall)
		require.True(t, ok)
		assert.Equal(t, "jsonb_build_object", fn.Name)
	})
}

func TestCompileDML(t *testing.T) {
	s := newTestSchema()
	subject := func(ns string) *ir.Set {
		return &ir.Set{PathID: ir.NewPathID(s.foo, ns), Type: s.foo, Expr: &ir.TypeRoot{Type: s.foo}}
	}
	dmlSet := func(subj *ir.Set, stmt ir.MutatingStmt) *ir.Set {
		return &ir.Set{PathID: subj.PathID, Type: subj.Type, Expr: stmt}
	}

	t.Run("insert", func(t *testing.T) {
		subj := subject("ins")
		ins := &ir.InsertStmt{
			Key:     "ins",
			Subject: subj,
			Elements: []ir.Assignment{
				{Pointer: s.name, Value: literal(s.str, "x")},
				{Pointer: s.barLink, Value: s.barSet()},
			},
		}
		stmt := &ir.Statement{Expr: dmlSet(subj, ins)}
		require.True(t, stmt.IsDML())

		res, err := Compile(stmt)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Stats.DMLCTEs)

		var inserts []*pgast.InsertStmt
		for _, cte := range res.CTEs {
			if q, ok := cte.Query.(*pgast.InsertStmt); ok {
				assert.True(t, cte.ForDML)
				inserts = append(inserts, q)
			}
		}
		require.Len(t, inserts, 2)
		assert.Equal(t, []string{"id", "name"}, inserts[0].Cols)
		assert.Equal(t, "Foo.bar", inserts[1].Relation.Relation.(*pgast.Relation).Name)
		assert.Equal(t, []string{"source", "target"}, inserts[1].Cols)

		assert.NotEmpty(t, inserts[0].TargetList, "the new objects are returned")
		assert.Len(t, res.Stmt.TargetList, 1)
	})

	t.Run("update", func(t *testing.T) {
		subj := subject("upd")
		upd := &ir.UpdateStmt{
			Key:      "upd",
			Subject:  subj,
			Elements: []ir.Assignment{{Pointer: s.name, Value: literal(s.str, "y")}},
		}
		res, err := Compile(&ir.Statement{Expr: dmlSet(subj, upd)})
		require.NoError(t, err)

		require.Len(t, res.CTEs, 2)
		assert.False(t, res.CTEs[0].ForDML, "the affected objects are listed first")
		q, ok := res.CTEs[1].Query.(*pgast.UpdateStmt)
		require.True(t, ok)
		require.Len(t, q.Targets, 1)
		assert.Equal(t, "name", q.Targets[0].Name)
		refs := collect[*pgast.CTERangeVar](q)
		require.Len(t, refs, 1)
		assert.Same(t, res.CTEs[0], refs[0].CTE)
	})

	t.Run("delete", func(t *testing.T) {
		subj := subject("del")
		del := &ir.DeleteStmt{Key: "del", Subject: subj}
		res, err := Compile(&ir.Statement{Expr: dmlSet(subj, del)})
		require.NoError(t, err)

		require.Len(t, res.CTEs, 2)
		_, ok := res.CTEs[1].Query.(*pgast.DeleteStmt)
		assert.True(t, ok)
		assert.Equal(t, 1, res.Stats.DMLCTEs)
	})

	t.Run("reads in the statement see the insert", func(t *testing.T) {
		subj := subject("ins")
		ins := &ir.InsertStmt{
			Key:      "ins",
			Subject:  subj,
			Elements: []ir.Assignment{{Pointer: s.name, Value: literal(s.str, "x")}},
		}
		read := s.fooSet()
		read.DMLSources = []ir.MutatingStmt{ins}
		sel := &ir.Set{
			PathID: read.PathID,
			Type:   read.Type,
			Expr:   &ir.SelectStmt{Iterator: dmlSet(subj, ins), Result: read},
		}

		res, err := Compile(&ir.Statement{Expr: sel}, WithLogger(testutil.NewTestLogger(t)))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.OverlayStacks)
		assert.Equal(t, 1, res.Stats.LateralUnionJoins)

		var stacks []*pgast.RangeSubselect
		for _, sub := range collect[*pgast.RangeSubselect](res.Stmt) {
			if sub.Tag == pgast.TagOverlayStack {
				stacks = append(stacks, sub)
			}
		}
		require.Len(t, stacks, 1)
		assert.Equal(t, pgast.SetOpUnion, stacks[0].Subquery.(*pgast.SelectStmt).Op)

		var fromInsert bool
		for _, ref := range collect[*pgast.CTERangeVar](stacks[0]) {
			_, isInsert := ref.CTE.Query.(*pgast.InsertStmt)
			fromInsert = fromInsert || isInsert
		}
		assert.True(t, fromInsert, "the overlay reads the RETURNING rows")
	})
}

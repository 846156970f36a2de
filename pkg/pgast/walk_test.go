package pgast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOpLeaves(t *testing.T) {
	a, b, c := &SelectStmt{}, &SelectStmt{}, &SelectStmt{}
	u := &SelectStmt{Op: SetOpUnion, All: true,
		Larg: &SelectStmt{Op: SetOpUnion, All: true, Larg: a, Rarg: b},
		Rarg: c,
	}

	leaves := SetOpLeaves(u)
	require.Len(t, leaves, 3)
	assert.Same(t, a, leaves[0])
	assert.Same(t, c, leaves[2])
	assert.Same(t, a, LeftmostQuery(u))
	assert.True(t, IsSetOpQuery(u))
	assert.False(t, IsSetOpQuery(a))
}

func TestInspectAndRangeVars(t *testing.T) {
	tbl := &RelRangeVar{RangeVarBase: RangeVarBase{Alias: Alias{AliasName: "t_1"}}, Relation: &Relation{Name: "t"}}
	inner := &SelectStmt{}
	inner.TargetList = []*ResTarget{{Name: "v", Val: &NumericConstant{Val: "1"}}}
	sub := &RangeSubselect{RangeVarBase: RangeVarBase{Alias: Alias{AliasName: "s_1"}}, Subquery: inner}

	q := &SelectStmt{}
	q.FromClause = []FromItem{&JoinExpr{Type: JoinInner, Larg: tbl, Rarg: sub,
		Quals: Eq(NewColumnRef(false, "t_1", "id"), NewColumnRef(false, "s_1", "v"))}}

	rvars := RangeVarsOf(q.FromClause)
	require.Len(t, rvars, 2)
	assert.Same(t, tbl, rvars[0])
	assert.Same(t, sub, rvars[1])

	var cols []string
	Inspect(q, func(n Node) bool {
		if c, ok := n.(*ColumnRef); ok {
			cols = append(cols, c.Column())
		}
		return true
	})
	assert.Equal(t, []string{"id", "v"}, cols)
	assert.Equal(t, []string{"v"}, TargetNames(inner))
}

func TestAliasGenerator(t *testing.T) {
	g := NewAliasGenerator()
	assert.Equal(t, "user_1", g.Get("default::User"))
	assert.Equal(t, "user_2", g.Get("User"))
	assert.Equal(t, "a_b_1", g.Get("a-b"))
	assert.Equal(t, "v_1", g.Get("::"))
}

func TestDump(t *testing.T) {
	q := &SelectStmt{}
	q.TargetList = []*ResTarget{{Name: "x", Val: &CoalesceExpr{Args: []Expr{
		NewColumnRef(true, "a_1", "x"),
		&TypeCast{Arg: &StringConstant{Val: "{}"}, TypeName: &TypeName{Name: "text", Array: true}},
	}}}}
	q.FromClause = []FromItem{&RelRangeVar{RangeVarBase: RangeVarBase{Alias: Alias{AliasName: "a_1"}}, Relation: &Relation{Schema: "default", Name: "A"}}}

	out := Dump(q)
	assert.Contains(t, out, "SELECT\n")
	assert.Contains(t, out, `COALESCE(a_1.x, "{}"::text[]) AS x`)
	assert.Contains(t, out, "TABLE default.A AS a_1")
}

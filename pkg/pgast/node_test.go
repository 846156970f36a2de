package pgast

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geldata/gel/pkg/ir"
)

func testPath(name string) ir.PathID {
	return ir.NewPathID(&ir.TypeRef{ID: uuid.New(), Name: ir.ParseQualName(name), Kind: ir.KindObject})
}

func TestPathTable(t *testing.T) {
	a, b := testPath("default::A"), testPath("default::B")

	var tbl PathTable[string]
	_, ok := tbl.Get(a, AspectValue)
	assert.False(t, ok, "zero table is empty")

	tbl.Set(a, AspectValue, "a1")
	tbl.Set(b, AspectIdentity, "b1")
	tbl.Set(a, AspectIdentity, "a2")

	t.Run("overwrite keeps position", func(t *testing.T) {
		tbl.Set(a, AspectValue, "a3")
		got, ok := tbl.Get(a, AspectValue)
		require.True(t, ok)
		assert.Equal(t, "a3", got)
		assert.True(t, tbl.Entries()[0].PathID.Equal(a))
		assert.Equal(t, 3, tbl.Len())
	})

	t.Run("set if absent", func(t *testing.T) {
		assert.False(t, tbl.SetIfAbsent(b, AspectIdentity, "b2"))
		got, _ := tbl.Get(b, AspectIdentity)
		assert.Equal(t, "b1", got)
		assert.True(t, tbl.SetIfAbsent(b, AspectValue, "b3"))
	})

	t.Run("aspects", func(t *testing.T) {
		assert.Equal(t, []Aspect{AspectValue, AspectIdentity}, tbl.Aspects(a))
	})
}

func TestPathSetAndMap(t *testing.T) {
	a, b := testPath("default::A"), testPath("default::B")

	var s PathSet
	assert.True(t, s.Add(a))
	assert.False(t, s.Add(a))
	assert.True(t, s.Contains(a))
	assert.False(t, s.Contains(b))
	assert.Equal(t, 1, s.Len())

	var m PathIDMap
	m.Put(a, b)
	m.Put(a, a)
	require.Equal(t, 1, m.Len())
	assert.True(t, m.Entries()[0][1].Equal(a))
}

func TestRelInfoBonds(t *testing.T) {
	a := testPath("default::A")
	var r RelInfo
	r.AddPathBond(a, false)
	r.AddPathBond(a, true)
	require.Len(t, r.PathBonds, 1)
	assert.False(t, r.PathBonds[0].Iterator)
}

func TestIsNullable(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"nullable column", &ColumnRef{Name: []string{"x"}, Nullable: true}, true},
		{"required column", &ColumnRef{Name: []string{"x"}}, false},
		{"null", &NullConstant{}, true},
		{"string", &StringConstant{Val: "a"}, false},
		{"coalesce with default", &CoalesceExpr{Args: []Expr{&NullConstant{}, &StringConstant{}}}, false},
		{"cast of null", &TypeCast{Arg: &NullConstant{}, TypeName: &TypeName{Name: "text"}}, true},
		{"subquery", &SelectStmt{}, true},
		{"row", &RowExpr{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNullable(tt.expr))
		})
	}
}

func TestExtendAnd(t *testing.T) {
	x := &BooleanConstant{Val: true}
	y := &BooleanConstant{Val: false}
	assert.Same(t, x, ExtendAnd(nil, x))
	assert.Same(t, x, ExtendAnd(x, nil))

	both, ok := ExtendAnd(x, y).(*BinOp)
	require.True(t, ok)
	assert.Equal(t, "AND", both.Op)
}

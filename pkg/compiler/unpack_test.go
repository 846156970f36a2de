package compiler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
	"github.com/geldata/gel/pkg/pgast"
)

func TestSetToArray(t *testing.T) {
	s := newTestSchema()
	namePID := ir.NewPathID(s.foo).Extend(s.name, ir.Outbound, nil)

	source := func(nullable bool) *pgast.SelectStmt {
		q := &pgast.SelectStmt{}
		pathctx.PutPathVar(q, namePID, pgast.NewColumnRef(nullable, "foo_1", "name"), pgast.AspectValue)
		return q
	}
	aggregate := func(t *testing.T, arr *pgast.SelectStmt) (*pgast.FuncCall, *pgast.TypeCast) {
		t.Helper()
		require.Len(t, arr.TargetList, 1)
		coalesce, ok := arr.TargetList[0].Val.(*pgast.CoalesceExpr)
		require.True(t, ok, "empty sets become empty arrays")
		require.Len(t, coalesce.Args, 2)
		empty, ok := coalesce.Args[1].(*pgast.TypeCast)
		require.True(t, ok)
		return coalesce.Args[0].(*pgast.FuncCall), empty
	}

	t.Run("required values", func(t *testing.T) {
		c := newTestContext()
		arr, err := c.SetToArray(namePID, source(false), false)
		require.NoError(t, err)

		agg, empty := aggregate(t, arr)
		assert.Equal(t, "array_agg", agg.Name)
		assert.Nil(t, agg.AggFilter)
		assert.Equal(t, &pgast.TypeName{Name: "text", Array: true}, empty.TypeName)

		require.Len(t, arr.FromClause, 1)
		assert.IsType(t, &pgast.RangeSubselect{}, arr.FromClause[0])
	})

	t.Run("nulls are filtered out", func(t *testing.T) {
		c := newTestContext()
		arr, err := c.SetToArray(namePID, source(true), false)
		require.NoError(t, err)

		agg, _ := aggregate(t, arr)
		assert.Equal(t, "array_agg", agg.Name)
		filter, ok := agg.AggFilter.(*pgast.BinOp)
		require.True(t, ok)
		assert.Equal(t, "IS DISTINCT FROM", filter.Op)
	})

	t.Run("group by aggregates the subquery", func(t *testing.T) {
		c := newTestContext()
		arr, err := c.SetToArray(namePID, source(true), true)
		require.NoError(t, err)

		assert.Empty(t, arr.FromClause)
		agg, _ := aggregate(t, arr)
		assert.Equal(t, "array_remove", agg.Name)
		inner := agg.Args[0].(*pgast.FuncCall)
		assert.Equal(t, "array_agg", inner.Name)
		assert.IsType(t, &pgast.SelectStmt{}, inner.Args[0])
	})

	t.Run("json output", func(t *testing.T) {
		c := newTestContext(WithOutputFormat(FormatJSON))
		arr, err := c.SetToArray(namePID, source(false), false)
		require.NoError(t, err)

		agg, empty := aggregate(t, arr)
		assert.Equal(t, "to_jsonb", agg.Args[0].(*pgast.FuncCall).Name)
		assert.Equal(t, "jsonb", empty.TypeName.Name)
	})
}

func TestUnpackVar(t *testing.T) {
	s := newTestSchema()
	fooPID := ir.NewPathID(s.foo)

	unnest := func(t *testing.T, rvar pgast.PathRangeVar) *pgast.FuncCall {
		t.Helper()
		sub, ok := rvar.(*pgast.RangeSubselect)
		require.True(t, ok)
		assert.True(t, sub.Lateral)
		fn, ok := sub.Subquery.Base().FromClause[0].(*pgast.RangeFunction)
		require.True(t, ok)
		require.Len(t, fn.Functions, 1)
		assert.Equal(t, "unnest", fn.Functions[0].Name)
		return fn.Functions[0]
	}

	t.Run("multi scalar", func(t *testing.T) {
		c := newTestContext()
		stmt := c.Rel
		tagsPID := fooPID.Extend(s.tags, ir.Outbound, nil)
		ref := &pgast.ColumnRef{Name: []string{"p", "tags"}, IsPackedMulti: true}

		rvar, err := c.UnpackVar(stmt, tagsPID, ref)
		require.NoError(t, err)
		fn := unnest(t, rvar)
		assert.Equal(t, []pgast.Expr{ref}, fn.Args)

		v, err := c.GetPathVar(stmt, tagsPID, pgast.AspectValue)
		require.NoError(t, err)
		assert.Equal(t, rvar.Base().Alias.AliasName, v.(*pgast.ColumnRef).Name[0])
		assert.Equal(t, 1, c.Env().Stats.Unpacks)
	})

	t.Run("singleton tuple", func(t *testing.T) {
		c := newTestContext()
		stmt := c.Rel
		tuple := &ir.TypeRef{
			ID:   uuid.New(),
			Kind: ir.KindTuple,
			Subtypes: []*ir.TypeRef{
				{ID: s.str.ID, Name: s.str.Name, Kind: ir.KindScalar, ElementName: "a"},
				{ID: s.int64T.ID, Name: s.int64T.Name, Kind: ir.KindScalar, ElementName: "b"},
			},
		}
		pid := ir.NewPathID(tuple, "t")

		rvar, err := c.UnpackVar(stmt, pid, &pgast.ColumnRef{Name: []string{"p", "t"}})
		require.NoError(t, err)
		fn := unnest(t, rvar)
		require.Len(t, fn.Args, 1)
		assert.IsType(t, &pgast.ArrayExpr{}, fn.Args[0], "singletons are wrapped before unnesting")
		require.Len(t, fn.ColDefList, 2)
		assert.Equal(t, "text", fn.ColDefList[0].TypeName.Name)
		assert.Equal(t, "int8", fn.ColDefList[1].TypeName.Name)

		bPID := pid.Extend(ir.TupleIndirectionPointer(tuple, "b", tuple.Subtypes[1]), ir.Outbound, tuple.Subtypes[1])
		_, err = c.GetPathVar(stmt, bPID, pgast.AspectValue)
		require.NoError(t, err)
	})

	t.Run("materialized view", func(t *testing.T) {
		c := newTestContext()
		c.Env().MaterializedViews[s.foo.ID] = &ir.MaterializedView{Type: s.foo, Shape: []*ir.PointerRef{s.name, s.tags}}
		stmt := c.Rel
		ref := &pgast.ColumnRef{Name: []string{"p", "foo"}, IsPackedMulti: true}

		rvar, err := c.UnpackVar(stmt, fooPID, ref)
		require.NoError(t, err)
		fn := unnest(t, rvar)

		var types []pgast.TypeName
		for _, def := range fn.ColDefList {
			types = append(types, *def.TypeName)
		}
		assert.Equal(t, []pgast.TypeName{
			{Name: "text"},
			{Name: "text", Array: true},
			{Name: "uuid"},
		}, types)

		tagsPID := fooPID.Extend(s.tags, ir.Outbound, nil)
		packed, ok := pathctx.MaybeGetPathRvar(stmt, tagsPID, pgast.AspectValue, pgast.FlavorPacked)
		require.True(t, ok, "multi shape elements stay packed")
		assert.Same(t, rvar, packed)

		_, err = c.GetPathVar(stmt, fooPID, pgast.AspectSerialized)
		require.NoError(t, err)
		_, err = c.GetPathVar(stmt, fooPID.Extend(s.name, ir.Outbound, nil), pgast.AspectValue)
		require.NoError(t, err)
	})
}

func TestReserializeObject(t *testing.T) {
	s := newTestSchema()
	fooPID := ir.NewPathID(s.foo)

	tests := []struct {
		name      string
		ptr       *ir.PointerRef
		multi     bool
		wantArray bool
	}{
		{name: "multi element is aggregated again", ptr: s.tags, multi: true, wantArray: true},
		{name: "single element is the unpacked row", ptr: s.name},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestContext()
			tel := &pgast.TupleElement{PathID: fooPID.Extend(tt.ptr, ir.Outbound, nil), Name: tt.ptr.ShortName}

			reqry, err := c.ReserializeObject("_t1", tt.multi, tel)
			require.NoError(t, err)
			sel, ok := reqry.(*pgast.SelectStmt)
			require.True(t, ok)
			require.Len(t, sel.TargetList, 1)

			_, isArray := sel.TargetList[0].Val.(*pgast.CoalesceExpr)
			assert.Equal(t, tt.wantArray, isArray)
			assert.Equal(t, 1, c.Env().Stats.Unpacks)
		})
	}
}

package fixture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geldata/gel/pkg/compiler"
	"github.com/geldata/gel/pkg/ir"
)

const testSchema = `
schema:
  types:
    - name: default::Foo
      pointers:
        - {name: name, target: std::str, required: true}
        - name: bar
          target: Bar
          multi: true
          table: foo_bars
          properties:
            - {name: weight, target: std::int64}
    - name: Bar
      table: bars
      pointers:
        - {name: owner, target: default::Foo}
    - name: SpecialBar
      bases: [Bar]
    - name: BarView
      view_of: SpecialBar
`

func parse(t *testing.T, query string) *File {
	t.Helper()
	f, err := Parse(strings.NewReader(testSchema + query))
	require.NoError(t, err)
	return f
}

func build(t *testing.T, query string) *Unit {
	t.Helper()
	u, err := Build(parse(t, query))
	require.NoError(t, err)
	return u
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "empty",
			input:   "",
			wantErr: "empty fixture",
		},
		{
			name:    "unknown field",
			input:   testSchema + "query: {subject: Foo}\nmaterialized: true\n",
			wantErr: "invalid YAML",
		},
		{
			name:    "no types",
			input:   "schema: {}\nquery: {subject: Foo}\n",
			wantErr: "schema declares no types",
		},
		{
			name:    "invalid kind",
			input:   testSchema + "query: {kind: upsert, subject: Foo}\n",
			wantErr: `invalid kind "upsert"`,
		},
		{
			name:    "missing subject",
			input:   testSchema + "query: {kind: delete}\n",
			wantErr: "subject is required",
		},
		{
			name:    "set on select",
			input:   testSchema + "query: {subject: Foo, set: [{name: name, value: x}]}\n",
			wantErr: "set is only valid for insert and update",
		},
		{
			name:    "assignment with value and select",
			input:   testSchema + "query: {kind: insert, subject: Foo, set: [{name: bar, value: x, select: {subject: Bar}}]}\n",
			wantErr: "needs exactly one of value and select",
		},
		{
			name:    "invalid iterator",
			input:   testSchema + "query: {subject: Foo, iterator: {kind: insert}}\n",
			wantErr: "query.iterator: subject is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("shape shorthand", func(t *testing.T) {
		f := parse(t, "query:\n  subject: Foo\n  shape: [name, {name: bar, optional: true, shape: [id]}]\n")
		require.Len(t, f.Query.Shape, 2)
		assert.Equal(t, ShapeSpec{Name: "name"}, f.Query.Shape[0])
		assert.True(t, f.Query.Shape[1].Optional)
		assert.Equal(t, []ShapeSpec{{Name: "id"}}, f.Query.Shape[1].Shape)
	})
}

func TestLoad(t *testing.T) {
	f, err := Load("testdata/table_override.yaml")
	require.NoError(t, err)
	assert.Equal(t, "table override", f.Name)
	assert.Equal(t, "testdata/table_override.yaml", f.Path)

	_, err = Load("testdata/missing.yaml")
	require.Error(t, err)

	files, err := Glob("testdata")
	require.NoError(t, err)
	assert.Contains(t, files, "testdata/table_override.yaml")
	assert.IsNonDecreasing(t, files)

	for _, path := range files {
		_, err := Load(path)
		assert.NoError(t, err, path)
	}

	f, err = Load("testdata/optional_filter.yaml")
	require.NoError(t, err)
	require.NotNil(t, f.Query.Filter)
	assert.Equal(t, "owner?.name", f.Query.Filter.Path)
}

func TestBuildSchema(t *testing.T) {
	s, err := BuildSchema(parse(t, "query: {subject: Foo}\n").Schema)
	require.NoError(t, err)

	foo, err := s.Type("Foo")
	require.NoError(t, err)
	bar, err := s.Type("default::Bar")
	require.NoError(t, err)
	special, err := s.Type("SpecialBar")
	require.NoError(t, err)
	view, err := s.Type("BarView")
	require.NoError(t, err)

	t.Run("inheritance", func(t *testing.T) {
		assert.Equal(t, []*ir.TypeRef{bar}, special.Ancestors)
		assert.Equal(t, []*ir.TypeRef{special}, bar.Children)
		assert.Empty(t, foo.Ancestors)
	})

	t.Run("views", func(t *testing.T) {
		assert.True(t, view.IsView)
		assert.Same(t, special, view.RealMaterialType())
		owner, err := s.Pointer(view, "owner")
		require.NoError(t, err)
		assert.Same(t, bar, owner.OutSource, "pointers are found through the material type")
	})

	t.Run("pointers", func(t *testing.T) {
		link, err := s.Pointer(foo, "bar")
		require.NoError(t, err)
		assert.True(t, link.IsMulti())
		assert.True(t, link.HasProperties)
		assert.False(t, link.IsInline())

		weight, err := s.LinkProperty(link, "weight")
		require.NoError(t, err)
		assert.True(t, weight.IsLinkProperty)
		assert.Same(t, bar, weight.OutSource)

		name, err := s.Pointer(foo, "name")
		require.NoError(t, err)
		assert.True(t, name.Required)
		assert.True(t, name.IsInline())

		inherited, err := s.Pointer(special, "owner")
		require.NoError(t, err)
		assert.Same(t, bar, inherited.OutSource)

		id1, err := s.Pointer(foo, "id")
		require.NoError(t, err)
		id2, err := s.Pointer(foo, "id")
		require.NoError(t, err)
		assert.Same(t, id1, id2)

		_, err = s.Pointer(foo, "missing")
		assert.ErrorContains(t, err, `has no pointer "missing"`)
	})

	t.Run("backlinks", func(t *testing.T) {
		back, err := s.Backlink(foo, "owner")
		require.NoError(t, err)
		assert.Same(t, bar, back.OutSource)
		_, err = s.Backlink(bar, "owner")
		assert.Error(t, err)
	})

	t.Run("catalog", func(t *testing.T) {
		assert.Equal(t, compiler.Table{Schema: "default", Name: "Foo"}, s.TypeTable(foo))
		assert.Equal(t, compiler.Table{Schema: "default", Name: "bars"}, s.TypeTable(bar))
		assert.Equal(t, compiler.Table{Schema: "default", Name: "SpecialBar"}, s.TypeTable(view))

		link, _ := s.Pointer(foo, "bar")
		pt := s.PointerTable(link)
		assert.Equal(t, "foo_bars", pt.Name)
		assert.Equal(t, "source", pt.SourceCol)
		assert.Equal(t, "target", pt.TargetCol)
	})

	errTests := []struct {
		name    string
		spec    SchemaSpec
		wantErr string
	}{
		{
			name: "cycle",
			spec: SchemaSpec{Types: []TypeSpec{
				{Name: "A", Bases: []string{"B"}},
				{Name: "B", Bases: []string{"A"}},
			}},
			wantErr: "inheritance cycle",
		},
		{
			name:    "unknown target",
			spec:    SchemaSpec{Types: []TypeSpec{{Name: "A", Pointers: []PointerSpec{{Name: "b", Target: "B"}}}}},
			wantErr: `unknown type "B"`,
		},
		{
			name:    "scalar base",
			spec:    SchemaSpec{Types: []TypeSpec{{Name: "A", Bases: []string{"std::str"}}}},
			wantErr: "is not an object type",
		},
		{
			name:    "duplicate type",
			spec:    SchemaSpec{Types: []TypeSpec{{Name: "A"}, {Name: "default::A"}}},
			wantErr: "duplicate type",
		},
		{
			name: "properties on a property",
			spec: SchemaSpec{Types: []TypeSpec{{Name: "A", Pointers: []PointerSpec{
				{Name: "p", Target: "std::str", Properties: []PointerSpec{{Name: "q", Target: "std::str"}}},
			}}}},
			wantErr: "cannot have link properties",
		},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSchema(tt.spec)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBuild(t *testing.T) {
	t.Run("plain select is the subject", func(t *testing.T) {
		u := build(t, "query: {subject: Foo, shape: [name]}\n")
		set := u.Statement.Expr
		root, ok := set.Expr.(*ir.TypeRoot)
		require.True(t, ok)
		assert.Equal(t, "Foo", root.Type.Name.Name)
		require.Len(t, set.Shape, 1)
		assert.Equal(t, "name", set.Shape[0].PathID.RPtrName())
		assert.Nil(t, u.Statement.ScopeTree)
	})

	t.Run("filter and optional steps", func(t *testing.T) {
		u := build(t, "query:\n  subject: Bar\n  filter: {path: \"owner?.name\", value: x}\n  limit: 5\n")
		sel, ok := u.Statement.Expr.Expr.(*ir.SelectStmt)
		require.True(t, ok)

		cmp := sel.Where.Expr.(*ir.Comparison)
		assert.Equal(t, "=", cmp.Op)
		name := cmp.Left.Expr.(*ir.Pointer)
		assert.False(t, name.Optional)
		owner := name.Source.Expr.(*ir.Pointer)
		assert.True(t, owner.Optional)
		assert.Equal(t, "x", cmp.Right.Expr.(*ir.Literal).Value)
		assert.Equal(t, "str", cmp.Right.Type.Name.Name, "literals take the type of the path")

		assert.Equal(t, "5", sel.Limit.Expr.(*ir.Literal).Value)
	})

	t.Run("backlinks and link properties", func(t *testing.T) {
		u := build(t, "query:\n  subject: Foo\n  shape: [<owner, {name: bar, shape: ['@weight']}]\n")
		set := u.Statement.Expr
		require.Len(t, set.Shape, 2)
		assert.Equal(t, ir.Inbound, set.Shape[0].PathID.RPtrDir())
		assert.True(t, set.Shape[1].Shape[0].PathID.IsLinkPropPath())

		_, err := Build(parse(t, "query: {subject: Foo, shape: ['@weight']}\n"))
		assert.ErrorContains(t, err, "outside of a link")
	})

	t.Run("insert", func(t *testing.T) {
		u := build(t, "query:\n  kind: insert\n  subject: Foo\n  set:\n    - {name: name, value: x}\n    - {name: bar, select: {subject: Bar}}\n")
		require.True(t, u.Statement.IsDML())
		ins := u.Statement.Expr.Expr.(*ir.InsertStmt)
		assert.Equal(t, "ins1", ins.DMLKey())
		require.Len(t, ins.Elements, 2)
		assert.IsType(t, &ir.Literal{}, ins.Elements[0].Value.Expr)
		assert.IsType(t, &ir.TypeRoot{}, ins.Elements[1].Value.Expr)
		assert.False(t, ins.Elements[1].Value.PathID.Equal(ir.NewPathID(ins.Elements[1].Value.Type)),
			"nested selects get a namespace of their own")
	})

	t.Run("dml errors", func(t *testing.T) {
		_, err := Build(parse(t, "query: {kind: insert, subject: Foo, set: [{name: bar, value: x}]}\n"))
		assert.ErrorContains(t, err, "needs a select")
		_, err = Build(parse(t, "query: {kind: update, subject: Foo, set: [{name: id, value: x}]}\n"))
		assert.ErrorContains(t, err, "cannot assign to id")
	})

	t.Run("reads after an iterator insert see it", func(t *testing.T) {
		u := build(t, "query:\n  subject: Foo\n  iterator: {kind: insert, subject: Foo, set: [{name: name, value: x}]}\n")
		sel := u.Statement.Expr.Expr.(*ir.SelectStmt)
		ins, ok := sel.Iterator.Expr.(*ir.InsertStmt)
		require.True(t, ok)
		require.Len(t, sel.Result.DMLSources, 1)
		assert.Same(t, ins, sel.Result.DMLSources[0])
	})

	t.Run("scoped", func(t *testing.T) {
		u := build(t, "query: {subject: Foo, scoped: true}\n")
		tree := u.Statement.ScopeTree
		require.NotNil(t, tree)
		assert.Equal(t, tree.ID, u.Statement.Expr.PathScopeID)
		require.Len(t, tree.PathChildren(), 1)
		assert.True(t, tree.PathChildren()[0].PathID.Equal(u.Statement.Expr.PathID))
	})

	t.Run("materialize", func(t *testing.T) {
		u := build(t, "query: {subject: Foo, materialize: true, shape: [name]}\n")
		m, ok := u.Statement.Expr.Expr.(*ir.Materialize)
		require.True(t, ok)
		assert.Len(t, m.Set.Shape, 1)
		assert.False(t, u.Statement.Expr.PathID.Equal(m.Set.PathID))
	})

	t.Run("rewrites and materialized views", func(t *testing.T) {
		f := parse(t, "query: {subject: Foo}\n")
		f.Schema.Rewrites = []RewriteSpec{{Type: "Bar", Filter: FilterSpec{Path: "owner.name", Value: "x"}, Exact: true}}
		f.Schema.MaterializedViews = []ViewSpec{{Type: "Foo", Shape: []string{"name"}}}
		u, err := Build(f)
		require.NoError(t, err)

		bar, _ := u.Schema.Type("Bar")
		rw, ok := u.Statement.TypeRewrites[ir.RewriteKey{TypeID: bar.ID}]
		require.True(t, ok)
		assert.NotNil(t, rw.Expr.(*ir.SelectStmt).Where)

		foo, _ := u.Schema.Type("Foo")
		mv := u.Statement.MaterializedViews[foo.ID]
		require.NotNil(t, mv)
		assert.Equal(t, "name", mv.Shape[0].ShortName)
	})
}

func TestFixtures(t *testing.T) {
	files, err := Glob("testdata")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		f, err := Load(path)
		require.NoError(t, err)
		t.Run(f.Name, func(t *testing.T) {
			u, err := Build(f)
			require.NoError(t, err)
			res, err := u.Compile()
			assert.NoError(t, u.Check(res, err))
		})
	}
}

func TestCheck(t *testing.T) {
	u := build(t, "query: {subject: Foo, shape: [name]}\n")
	res, err := u.Compile()
	require.NoError(t, err)

	u.Expect = &Expect{Relations: []string{"Foo"}, Stats: map[string]int{"semi_joins": 0}}
	assert.NoError(t, u.Check(res, nil))

	u.Expect = &Expect{CTEs: 3, Relations: []string{"Bar"}, Stats: map[string]int{"bogus": 1}}
	err = u.Check(res, nil)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Len(t, mismatch.Problems, 3)

	u.Expect = &Expect{Error: "boom"}
	assert.Error(t, u.Check(res, nil))
}

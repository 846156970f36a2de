package compiler

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

func TestUpdateScopeMasks(t *testing.T) {
	s := newTestSchema()
	barPID := ir.NewPathID(s.bar)
	ownerPID := barPID.Extend(s.owner, ir.Outbound, nil)
	fooPID := ir.NewPathID(s.foo)
	namePID := fooPID.Extend(s.name, ir.Outbound, nil)

	// root
	//   owner?        (optional)
	//   Foo
	//     Foo.name
	newScope := func() *ir.ScopeTreeNode {
		root := ir.NewScopeTree()
		root.AttachPath(2, ownerPID, true)
		root.AttachPath(3, fooPID, false).AttachPath(4, namePID, false)
		return root
	}
	subselect := func() *pgast.RangeSubselect {
		return &pgast.RangeSubselect{Subquery: &pgast.SelectStmt{}}
	}

	tests := []struct {
		name       string
		set        ir.PathID
		rvar       pgast.PathRangeVar
		wantMasked []ir.PathID
		wantKept   []ir.PathID
	}{
		{
			name:       "optional path hides only direct required children",
			set:        ownerPID,
			rvar:       subselect(),
			wantMasked: []ir.PathID{fooPID},
			wantKept:   []ir.PathID{ownerPID, namePID},
		},
		{
			name:       "required path hides the whole scope",
			set:        fooPID,
			rvar:       subselect(),
			wantMasked: []ir.PathID{ownerPID, fooPID, namePID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestContext()
			c.scopeTree = newScope()

			c.UpdateScopeMasks(&ir.Set{PathID: tt.set}, tt.rvar)

			mask := tt.rvar.(*pgast.RangeSubselect).Subquery.Base().PathIDMask
			for _, pid := range tt.wantMasked {
				assert.True(t, mask.Contains(pid), "%s should be masked", pid)
			}
			for _, pid := range tt.wantKept {
				assert.False(t, mask.Contains(pid), "%s should stay visible", pid)
			}
		})
	}

	t.Run("table range vars are left alone", func(t *testing.T) {
		c := newTestContext()
		c.scopeTree = newScope()
		rvar := c.tableFromTypeRef(s.foo, fooPID)
		assert.NotPanics(t, func() { c.UpdateScopeMasks(&ir.Set{PathID: fooPID}, rvar) })
	})
}

func TestGetScopeStmt(t *testing.T) {
	s := newTestSchema()
	fooPID := ir.NewPathID(s.foo)
	namePID := fooPID.Extend(s.name, ir.Outbound, nil)
	barPID := ir.NewPathID(s.bar)

	c := newTestContext()
	stmt := &pgast.SelectStmt{}
	c.pathScope = c.pathScope.Set(fooPID.Key(), stmt).Set(namePID.Key(), stmt)

	tests := []struct {
		name   string
		pid    ir.PathID
		wantOK bool
	}{
		{name: "scoped path", pid: fooPID, wantOK: true},
		{name: "pointer path falls back to its target", pid: namePID.PtrPath(), wantOK: true},
		{name: "unscoped path", pid: barPID},
		{name: "unscoped pointer path", pid: barPID.Extend(s.owner, ir.Outbound, nil).PtrPath()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.MaybeGetScopeStmt(tt.pid)
			assert.Equal(t, tt.wantOK, ok)

			q, err := c.GetScopeStmt(tt.pid)
			if !tt.wantOK {
				require.Error(t, err)
				assert.True(t, errors.HasAssertionFailure(err))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Same(t, stmt, got)
			assert.Same(t, stmt, q)
		})
	}
}

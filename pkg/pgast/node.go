package pgast

import "github.com/geldata/gel/pkg/ir"

// Node is the base interface for all SQL AST nodes.
type Node interface {
	node() // Marker method to distinguish AST nodes
}

// Expr is a marker interface for expression nodes.
type Expr interface {
	Node
	exprNode()
}

// FromItem is a marker interface for FROM clause entries: range vars
// and joins.
type FromItem interface {
	Node
	fromItem()
}

// BaseRelation is anything a range var can range over: tables, the
// empty relation, and queries. It carries the path outputs and bonds
// visible to the enclosing statement.
type BaseRelation interface {
	Node
	Info() *RelInfo
}

// Query is a SELECT, INSERT, UPDATE or DELETE statement.
type Query interface {
	BaseRelation
	Expr
	Base() *QueryBase
}

// ---------- Aspects ----------

// Aspect is one facet of a path: its identity, its value, the row it
// is sourced from, its serialized form, or its iteration identity.
type Aspect uint8

const (
	AspectIdentity Aspect = iota
	AspectValue
	AspectSource
	AspectSerialized
	AspectIterator
)

func (a Aspect) String() string {
	switch a {
	case AspectIdentity:
		return "identity"
	case AspectValue:
		return "value"
	case AspectSource:
		return "source"
	case AspectSerialized:
		return "serialized"
	case AspectIterator:
		return "iterator"
	default:
		return "unknown"
	}
}

// Flavor selects the normal or the packed (array-aggregated) namespace.
type Flavor uint8

const (
	FlavorNormal Flavor = iota
	FlavorPacked
)

func (f Flavor) String() string {
	if f == FlavorPacked {
		return "packed"
	}
	return "normal"
}

// ---------- Path Tables ----------

type pathAspectKey struct {
	path   string
	aspect Aspect
}

// PathEntry is one (path, aspect) -> value binding.
type PathEntry[V any] struct {
	PathID ir.PathID
	Aspect Aspect
	Value  V
}

// PathTable is an insertion-ordered map keyed by (path, aspect).
// The zero value is an empty table ready to use.
type PathTable[V any] struct {
	index   map[pathAspectKey]int
	entries []PathEntry[V]
}

// Get returns the value bound to (pid, aspect).
func (t *PathTable[V]) Get(pid ir.PathID, aspect Aspect) (V, bool) {
	if i, ok := t.index[pathAspectKey{pid.Key(), aspect}]; ok {
		return t.entries[i].Value, true
	}
	var zero V
	return zero, false
}

// Has reports whether (pid, aspect) is bound.
func (t *PathTable[V]) Has(pid ir.PathID, aspect Aspect) bool {
	_, ok := t.index[pathAspectKey{pid.Key(), aspect}]
	return ok
}

// Set binds (pid, aspect) to v, replacing any previous binding in place.
func (t *PathTable[V]) Set(pid ir.PathID, aspect Aspect, v V) {
	k := pathAspectKey{pid.Key(), aspect}
	if i, ok := t.index[k]; ok {
		t.entries[i].Value = v
		return
	}
	if t.index == nil {
		t.index = make(map[pathAspectKey]int)
	}
	t.index[k] = len(t.entries)
	t.entries = append(t.entries, PathEntry[V]{PathID: pid, Aspect: aspect, Value: v})
}

// SetIfAbsent binds (pid, aspect) to v unless already bound and reports
// whether it did.
func (t *PathTable[V]) SetIfAbsent(pid ir.PathID, aspect Aspect, v V) bool {
	if t.Has(pid, aspect) {
		return false
	}
	t.Set(pid, aspect, v)
	return true
}

// Entries returns the bindings in insertion order.
func (t *PathTable[V]) Entries() []PathEntry[V] { return t.entries }

// Len returns the number of bindings.
func (t *PathTable[V]) Len() int { return len(t.entries) }

// Aspects lists the aspects bound for pid in insertion order.
func (t *PathTable[V]) Aspects(pid ir.PathID) []Aspect {
	var out []Aspect
	for _, e := range t.entries {
		if e.PathID.Equal(pid) {
			out = append(out, e.Aspect)
		}
	}
	return out
}

// PathSet is an insertion-ordered set of path ids.
type PathSet struct {
	index map[string]struct{}
	paths []ir.PathID
}

// Add inserts pid and reports whether it was new.
func (s *PathSet) Add(pid ir.PathID) bool {
	if s.Contains(pid) {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	s.index[pid.Key()] = struct{}{}
	s.paths = append(s.paths, pid)
	return true
}

// Contains reports membership.
func (s *PathSet) Contains(pid ir.PathID) bool {
	_, ok := s.index[pid.Key()]
	return ok
}

// Paths returns the members in insertion order.
func (s *PathSet) Paths() []ir.PathID { return s.paths }

// Len returns the set size.
func (s *PathSet) Len() int { return len(s.paths) }

// PathIDMap maps outer path ids onto the path ids used inside a
// relation, preserving insertion order.
type PathIDMap struct {
	index   map[string]int
	entries [][2]ir.PathID
}

// Put maps outer to inner.
func (m *PathIDMap) Put(outer, inner ir.PathID) {
	if i, ok := m.index[outer.Key()]; ok {
		m.entries[i][1] = inner
		return
	}
	if m.index == nil {
		m.index = make(map[string]int)
	}
	m.index[outer.Key()] = len(m.entries)
	m.entries = append(m.entries, [2]ir.PathID{outer, inner})
}

// Len returns the number of mappings.
func (m *PathIDMap) Len() int { return len(m.entries) }

// Entries returns (outer, inner) pairs in insertion order.
func (m *PathIDMap) Entries() [][2]ir.PathID { return m.entries }

// ---------- Relation Info ----------

// PathBond records that a relation exposes a path usable as a join key.
type PathBond struct {
	PathID ir.PathID
	// Iterator bonds join on the ITERATOR aspect.
	Iterator bool
}

// RelInfo is the path bookkeeping shared by every relation.
type RelInfo struct {
	// PathID is the path the relation as a whole represents.
	PathID ir.PathID

	PathBonds []PathBond

	// PathOutputs holds the output columns already exported per
	// (path, aspect).
	PathOutputs       PathTable[Expr]
	PackedPathOutputs PathTable[Expr]
}

// Info returns r. It lets embedding types satisfy BaseRelation.
func (r *RelInfo) Info() *RelInfo { return r }

// AddPathBond records pid as a bond once.
func (r *RelInfo) AddPathBond(pid ir.PathID, iterator bool) {
	for _, b := range r.PathBonds {
		if b.PathID.Equal(pid) {
			return
		}
	}
	r.PathBonds = append(r.PathBonds, PathBond{PathID: pid, Iterator: iterator})
}

// Outputs returns the output table of the requested flavor.
func (r *RelInfo) Outputs(flavor Flavor) *PathTable[Expr] {
	if flavor == FlavorPacked {
		return &r.PackedPathOutputs
	}
	return &r.PathOutputs
}

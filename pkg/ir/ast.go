package ir

import "github.com/google/uuid"

// Expr is a marker interface for the expression carried by a Set.
type Expr interface {
	irExpr() // Marker method to distinguish IR expressions
}

// Set is a node of the IR graph: a named, typed set of values.
type Set struct {
	PathID PathID
	Type   *TypeRef
	Expr   Expr

	// Shape lists the shape elements requested on this set; each
	// element is a Set whose Expr is a *Pointer with this set as Source.
	Shape []*Set

	// PathScopeID links the set to a ScopeTreeNode; 0 means none.
	PathScopeID int

	// IgnoreRewrites suppresses type rewrites (access policies) while
	// compiling this set. Set on the body of the rewrite itself.
	IgnoreRewrites bool

	// DMLSources lists the DML statements whose effects this set
	// must observe.
	DMLSources []MutatingStmt
}

// ---------- Set Expressions ----------

// TypeRoot is a reference to every object of a type.
type TypeRoot struct {
	Type *TypeRef
	// SkipSubtypes restricts the set to exactly Type.
	SkipSubtypes bool
}

func (*TypeRoot) irExpr() {}

// Pointer is a traversal of Ref from Source.
type Pointer struct {
	Source    *Set
	Ref       *PointerRef
	Direction Direction
	// Optional marks an `?` traversal whose empty result must not
	// filter out the source.
	Optional bool
}

func (*Pointer) irExpr() {}

// Literal is a constant of a scalar type.
type Literal struct {
	Value string
	Type  *TypeRef
}

func (*Literal) irExpr() {}

// Comparison is a binary comparison or boolean operator over two sets.
type Comparison struct {
	Op    string
	Left  *Set
	Right *Set
}

func (*Comparison) irExpr() {}

// EmptySet is the typed empty set.
type EmptySet struct{}

func (*EmptySet) irExpr() {}

// Materialize references Set through a packed, materialized copy
// instead of recompiling it at the use site.
type Materialize struct {
	Set *Set
}

func (*Materialize) irExpr() {}

// SortExpr is one ORDER BY item.
type SortExpr struct {
	Expr       *Set
	Descending bool
	NullsFirst bool
}

// SelectStmt is a SELECT (optionally FOR ... UNION) statement.
type SelectStmt struct {
	Result *Set
	// Iterator is the FOR set; nil for a plain SELECT.
	Iterator *Set
	Where    *Set
	OrderBy  []SortExpr
	Offset   *Set
	Limit    *Set
}

func (*SelectStmt) irExpr() {}

// ---------- DML ----------

// MutatingStmt is implemented by INSERT, UPDATE and DELETE.
type MutatingStmt interface {
	Expr
	// DMLKey uniquely identifies the statement within a compile.
	// The empty key is reserved for the global overlay layer.
	DMLKey() string
	// SubjectSet returns the set of objects being written.
	SubjectSet() *Set
}

// Assignment is a `ptr := value` shape element of INSERT or UPDATE.
type Assignment struct {
	Pointer *PointerRef
	Value   *Set
}

// InsertStmt creates a new object.
type InsertStmt struct {
	Key      string
	Subject  *Set
	Elements []Assignment
}

func (*InsertStmt) irExpr() {}

// DMLKey implements MutatingStmt.
func (s *InsertStmt) DMLKey() string { return s.Key }

// SubjectSet implements MutatingStmt.
func (s *InsertStmt) SubjectSet() *Set { return s.Subject }

// UpdateStmt modifies the objects of Subject matching Where.
type UpdateStmt struct {
	Key      string
	Subject  *Set
	Where    *Set
	Elements []Assignment
}

func (*UpdateStmt) irExpr() {}

// DMLKey implements MutatingStmt.
func (s *UpdateStmt) DMLKey() string { return s.Key }

// SubjectSet implements MutatingStmt.
func (s *UpdateStmt) SubjectSet() *Set { return s.Subject }

// DeleteStmt removes the objects of Subject matching Where.
type DeleteStmt struct {
	Key     string
	Subject *Set
	Where   *Set
}

func (*DeleteStmt) irExpr() {}

// DMLKey implements MutatingStmt.
func (s *DeleteStmt) DMLKey() string { return s.Key }

// SubjectSet implements MutatingStmt.
func (s *DeleteStmt) SubjectSet() *Set { return s.Subject }

// ---------- Statement ----------

// RewriteKey identifies a registered type rewrite.
type RewriteKey struct {
	TypeID             uuid.UUID
	IncludeDescendants bool
}

// MaterializedView describes a view type whose objects are carried
// packed, as arrays of shape tuples, instead of being re-read.
type MaterializedView struct {
	Type  *TypeRef
	Shape []*PointerRef
}

// Statement is a complete compilation unit.
type Statement struct {
	Expr      *Set
	ScopeTree *ScopeTreeNode

	// TypeRewrites maps types to the row filters that replace them.
	TypeRewrites map[RewriteKey]*Set
	// MaterializedViews maps view type ids to their packed shapes.
	MaterializedViews map[uuid.UUID]*MaterializedView
}

// IsDML reports whether the statement writes data.
func (s *Statement) IsDML() bool {
	_, ok := s.Expr.Expr.(MutatingStmt)
	return ok
}

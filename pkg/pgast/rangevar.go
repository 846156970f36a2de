package pgast

import "github.com/geldata/gel/pkg/ir"

// ---------- Range Vars ----------

// Alias names a range var and optionally its columns.
type Alias struct {
	AliasName string
	ColNames  []string
}

// RangeVarBase is shared by every range var.
type RangeVarBase struct {
	Alias   Alias
	Lateral bool
	// Nullable range vars are joined with LEFT JOIN: their rows are
	// optional for the statement including them.
	Nullable bool
	// TypeRef is the type of the objects the range var yields, if any.
	TypeRef *ir.TypeRef
}

// Base returns b. It lets embedding types satisfy PathRangeVar.
func (b *RangeVarBase) Base() *RangeVarBase { return b }

// PathRangeVar is a FROM item that can provide paths: a table, a CTE
// reference, a subselect or a function call. The set is closed.
type PathRangeVar interface {
	FromItem
	Base() *RangeVarBase
	// Query returns the relation behind the range var, or nil for
	// function range vars.
	Query() BaseRelation
}

// RelRangeVar ranges over a stored relation (or NullRelation).
type RelRangeVar struct {
	RangeVarBase
	Relation BaseRelation
	// Only excludes inheritance children (ONLY).
	Only bool
}

func (*RelRangeVar) node()     {}
func (*RelRangeVar) fromItem() {}

// Query implements PathRangeVar.
func (r *RelRangeVar) Query() BaseRelation { return r.Relation }

// CTERangeVar references a common table expression.
type CTERangeVar struct {
	RangeVarBase
	CTE *CommonTableExpr
}

func (*CTERangeVar) node()     {}
func (*CTERangeVar) fromItem() {}

// Query implements PathRangeVar.
func (r *CTERangeVar) Query() BaseRelation { return r.CTE.Query }

// RangeSubselect ranges over a subquery.
type RangeSubselect struct {
	RangeVarBase
	Subquery Query
	// Tag marks subselects built for a specific purpose, such as
	// TagOverlayStack.
	Tag string
}

// TagOverlayStack marks the subselect that stacks DML overlays on top
// of a base relation.
const TagOverlayStack = "overlay-stack"

func (*RangeSubselect) node()     {}
func (*RangeSubselect) fromItem() {}

// Query implements PathRangeVar.
func (r *RangeSubselect) Query() BaseRelation { return r.Subquery }

// RangeFunction ranges over set-returning functions.
type RangeFunction struct {
	RangeVarBase
	Functions      []*FuncCall
	WithOrdinality bool
	// IsRowsFrom wraps Functions in ROWS FROM (...).
	IsRowsFrom bool
}

func (*RangeFunction) node()     {}
func (*RangeFunction) fromItem() {}

// Query implements PathRangeVar.
func (*RangeFunction) Query() BaseRelation { return nil }

// ---------- Joins ----------

// JoinType is the kind of join.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
	JoinRight JoinType = "RIGHT"
	JoinFull  JoinType = "FULL"
	JoinCross JoinType = "CROSS"
)

// JoinExpr joins two FROM items.
type JoinExpr struct {
	Type  JoinType
	Larg  FromItem
	Rarg  FromItem
	Quals Expr
}

func (*JoinExpr) node()     {}
func (*JoinExpr) fromItem() {}

// RangeVarsOf flattens joins and returns every range var in items.
func RangeVarsOf(items []FromItem) []PathRangeVar {
	var out []PathRangeVar
	var visit func(FromItem)
	visit = func(fi FromItem) {
		switch n := fi.(type) {
		case *JoinExpr:
			visit(n.Larg)
			visit(n.Rarg)
		case PathRangeVar:
			out = append(out, n)
		}
	}
	for _, fi := range items {
		visit(fi)
	}
	return out
}

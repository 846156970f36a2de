package pgast

import "github.com/geldata/gel/pkg/ir"

// ---------- Query Base ----------

// QueryBase holds the clauses and the path namespace every statement
// shares. For DML statements TargetList is the RETURNING list and
// FromClause is the FROM (UPDATE) or USING (DELETE) list.
type QueryBase struct {
	RelInfo

	TargetList  []*ResTarget
	FromClause  []FromItem
	WhereClause Expr
	CTEs        []*CommonTableExpr

	// PathNamespace binds (path, aspect) to expressions valid inside
	// this statement.
	PathNamespace       PathTable[Expr]
	PackedPathNamespace PathTable[Expr]

	// PathRvarMap binds (path, aspect) to the range var providing it.
	PathRvarMap       PathTable[PathRangeVar]
	PackedPathRvarMap PathTable[PathRangeVar]

	// PathIDMask lists paths that must not be pulled into ancestors.
	PathIDMask PathSet

	// ViewPathIDMap maps outer path ids onto the ids used inside.
	ViewPathIDMap PathIDMap
}

// Base returns q. It lets embedding types satisfy Query.
func (q *QueryBase) Base() *QueryBase { return q }

// Namespace returns the namespace of the requested flavor.
func (q *QueryBase) Namespace(flavor Flavor) *PathTable[Expr] {
	if flavor == FlavorPacked {
		return &q.PackedPathNamespace
	}
	return &q.PathNamespace
}

// RvarMap returns the path rvar map of the requested flavor.
func (q *QueryBase) RvarMap(flavor Flavor) *PathTable[PathRangeVar] {
	if flavor == FlavorPacked {
		return &q.PackedPathRvarMap
	}
	return &q.PathRvarMap
}

// AppendCTE adds cte unless it is already present.
func (q *QueryBase) AppendCTE(cte *CommonTableExpr) {
	for _, c := range q.CTEs {
		if c == cte {
			return
		}
	}
	q.CTEs = append(q.CTEs, cte)
}

// AndWhere conjoins cond with the current WHERE clause.
func (q *QueryBase) AndWhere(cond Expr) {
	q.WhereClause = ExtendAnd(q.WhereClause, cond)
}

// ---------- Statements ----------

// SetOp is a set operator combining Larg and Rarg of a SelectStmt.
type SetOp string

const (
	SetOpNone      SetOp = ""
	SetOpUnion     SetOp = "UNION"
	SetOpExcept    SetOp = "EXCEPT"
	SetOpIntersect SetOp = "INTERSECT"
)

// SortBy is an ORDER BY item.
type SortBy struct {
	Node       Expr
	Descending bool
	NullsFirst bool
}

// SelectStmt represents a SELECT, or a set operation when Op is set.
type SelectStmt struct {
	QueryBase

	Distinct    bool
	SortClause  []*SortBy
	LimitCount  Expr
	LimitOffset Expr

	Op   SetOp
	All  bool
	Larg *SelectStmt
	Rarg *SelectStmt
}

func (*SelectStmt) node()     {}
func (*SelectStmt) exprNode() {}

// IsSetOp reports whether s combines two queries.
func (s *SelectStmt) IsSetOp() bool { return s.Op != SetOpNone }

// InsertStmt represents INSERT INTO relation (cols) select RETURNING.
type InsertStmt struct {
	QueryBase
	Relation   *RelRangeVar
	Cols       []string
	SelectStmt Query
}

func (*InsertStmt) node()     {}
func (*InsertStmt) exprNode() {}

// UpdateTarget is one SET col = val item.
type UpdateTarget struct {
	Name string
	Val  Expr
}

// UpdateStmt represents UPDATE relation SET ... FROM ... WHERE ... RETURNING.
type UpdateStmt struct {
	QueryBase
	Relation *RelRangeVar
	Targets  []*UpdateTarget
}

func (*UpdateStmt) node()     {}
func (*UpdateStmt) exprNode() {}

// DeleteStmt represents DELETE FROM relation USING ... WHERE ... RETURNING.
type DeleteStmt struct {
	QueryBase
	Relation *RelRangeVar
}

func (*DeleteStmt) node()     {}
func (*DeleteStmt) exprNode() {}

// ---------- Relations ----------

// Relation is a stored table.
type Relation struct {
	RelInfo
	Schema string
	Name   string

	TypeRef *ir.TypeRef
	PtrRef  *ir.PointerRef
}

func (*Relation) node() {}

// NullRelation is a relation that yields no rows unless given a target
// list; it backs empty sets and free objects.
type NullRelation struct {
	RelInfo
	TargetList  []*ResTarget
	WhereClause Expr
}

func (*NullRelation) node() {}

// CommonTableExpr is a WITH clause entry.
type CommonTableExpr struct {
	Name         string
	Query        Query
	Materialized bool
	Recursive    bool
	// ForDML marks CTEs holding data-modifying statements.
	ForDML bool
}

func (*CommonTableExpr) node() {}

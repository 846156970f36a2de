package pgast

import "github.com/geldata/gel/pkg/ir"

// ---------- Expression Types ----------

// ColumnRef references a column, optionally qualified: [alias, column].
type ColumnRef struct {
	Name     []string
	Nullable bool
	// IsPackedMulti marks a reference to an array-aggregated multi set.
	IsPackedMulti bool
}

func (*ColumnRef) node()     {}
func (*ColumnRef) exprNode() {}

// Column returns the unqualified column name.
func (c *ColumnRef) Column() string {
	if len(c.Name) == 0 {
		return ""
	}
	return c.Name[len(c.Name)-1]
}

// ResTarget is a target list entry: val AS name.
type ResTarget struct {
	Name string
	Val  Expr
}

func (*ResTarget) node() {}

// BinOp is a binary (or, with nil Lexpr, prefix unary) operator.
type BinOp struct {
	Op    string
	Lexpr Expr
	Rexpr Expr
}

func (*BinOp) node()     {}
func (*BinOp) exprNode() {}

// TypeName names a backend type.
type TypeName struct {
	Name  string
	Array bool
}

func (t *TypeName) String() string {
	if t.Array {
		return t.Name + "[]"
	}
	return t.Name
}

// ColumnDef is an entry of a function column definition list.
type ColumnDef struct {
	Name     string
	TypeName *TypeName
}

// FuncCall is a function or aggregate call.
type FuncCall struct {
	Name string
	Args []Expr
	// AggFilter is the FILTER (WHERE ...) clause of an aggregate.
	AggFilter Expr
	// ColDefList is the AS (col type, ...) list of a record function.
	ColDefList []*ColumnDef
	Nullable   bool
}

func (*FuncCall) node()     {}
func (*FuncCall) exprNode() {}

// NullConstant is NULL.
type NullConstant struct{}

func (*NullConstant) node()     {}
func (*NullConstant) exprNode() {}

// StringConstant is a string literal.
type StringConstant struct{ Val string }

func (*StringConstant) node()     {}
func (*StringConstant) exprNode() {}

// NumericConstant is a numeric literal.
type NumericConstant struct{ Val string }

func (*NumericConstant) node()     {}
func (*NumericConstant) exprNode() {}

// BooleanConstant is TRUE or FALSE.
type BooleanConstant struct{ Val bool }

func (*BooleanConstant) node()     {}
func (*BooleanConstant) exprNode() {}

// ArrayExpr is ARRAY[elements].
type ArrayExpr struct{ Elements []Expr }

func (*ArrayExpr) node()     {}
func (*ArrayExpr) exprNode() {}

// RowExpr is ROW(args).
type RowExpr struct{ Args []Expr }

func (*RowExpr) node()     {}
func (*RowExpr) exprNode() {}

// TypeCast is arg::type.
type TypeCast struct {
	Arg      Expr
	TypeName *TypeName
}

func (*TypeCast) node()     {}
func (*TypeCast) exprNode() {}

// CoalesceExpr is COALESCE(args).
type CoalesceExpr struct{ Args []Expr }

func (*CoalesceExpr) node()     {}
func (*CoalesceExpr) exprNode() {}

// SubLinkOp is the operator of a SubLink.
type SubLinkOp string

const (
	SubLinkExists    SubLinkOp = "EXISTS"
	SubLinkNotExists SubLinkOp = "NOT EXISTS"
	SubLinkIn        SubLinkOp = "IN"
	SubLinkNotIn     SubLinkOp = "NOT IN"
)

// SubLink is a subquery predicate: EXISTS (query), or test IN (query)
// for the IN forms.
type SubLink struct {
	Operator SubLinkOp
	Test     Expr
	Expr     Query
}

func (*SubLink) node()     {}
func (*SubLink) exprNode() {}

// NullTest is arg IS [NOT] NULL.
type NullTest struct {
	Arg     Expr
	Negated bool
}

func (*NullTest) node()     {}
func (*NullTest) exprNode() {}

// TupleElement is one element of a TupleVar.
type TupleElement struct {
	PathID ir.PathID
	Name   string
	Val    Expr
}

// TupleVar is a tuple kept decomposed into its element expressions.
type TupleVar struct {
	Elements []*TupleElement
	Named    bool
	TypeRef  *ir.TypeRef
}

func (*TupleVar) node()     {}
func (*TupleVar) exprNode() {}

// ---------- Helpers ----------

// NewColumnRef returns a qualified column reference.
func NewColumnRef(nullable bool, name ...string) *ColumnRef {
	return &ColumnRef{Name: name, Nullable: nullable}
}

// Eq returns l = r.
func Eq(l, r Expr) *BinOp { return &BinOp{Op: "=", Lexpr: l, Rexpr: r} }

// Not returns NOT e.
func Not(e Expr) *BinOp { return &BinOp{Op: "NOT", Rexpr: e} }

// ExtendAnd conjoins cond onto prev; a nil prev yields cond.
func ExtendAnd(prev, cond Expr) Expr {
	if prev == nil {
		return cond
	}
	if cond == nil {
		return prev
	}
	return &BinOp{Op: "AND", Lexpr: prev, Rexpr: cond}
}

// IsNullable reports whether e may evaluate to NULL.
func IsNullable(e Expr) bool {
	switch n := e.(type) {
	case nil:
		return true
	case *ColumnRef:
		return n.Nullable
	case *FuncCall:
		return n.Nullable
	case *NullConstant:
		return true
	case *StringConstant, *NumericConstant, *BooleanConstant:
		return false
	case *ArrayExpr, *RowExpr, *TupleVar, *SubLink, *NullTest:
		return false
	case *TypeCast:
		return IsNullable(n.Arg)
	case *CoalesceExpr:
		for _, a := range n.Args {
			if !IsNullable(a) {
				return false
			}
		}
		return true
	case *BinOp:
		return (n.Lexpr != nil && IsNullable(n.Lexpr)) || IsNullable(n.Rexpr)
	case Query:
		return true
	default:
		return true
	}
}

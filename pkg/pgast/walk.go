package pgast

// Inspect traverses the tree rooted at n in depth-first order, calling
// f for each node. If f returns false, the children of that node are
// skipped. CTE queries are visited where the CTE is declared, not where
// it is referenced.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	visitExpr := func(e Expr) {
		if e != nil {
			Inspect(e, f)
		}
	}
	visitBase := func(q *QueryBase) {
		for _, cte := range q.CTEs {
			Inspect(cte, f)
		}
		for _, t := range q.TargetList {
			Inspect(t, f)
		}
		for _, fi := range q.FromClause {
			Inspect(fi, f)
		}
		visitExpr(q.WhereClause)
	}

	switch node := n.(type) {
	case *SelectStmt:
		visitBase(&node.QueryBase)
		for _, s := range node.SortClause {
			visitExpr(s.Node)
		}
		visitExpr(node.LimitCount)
		visitExpr(node.LimitOffset)
		if node.Larg != nil {
			Inspect(node.Larg, f)
		}
		if node.Rarg != nil {
			Inspect(node.Rarg, f)
		}
	case *InsertStmt:
		visitBase(&node.QueryBase)
		if node.Relation != nil {
			Inspect(node.Relation, f)
		}
		if node.SelectStmt != nil {
			Inspect(node.SelectStmt, f)
		}
	case *UpdateStmt:
		visitBase(&node.QueryBase)
		if node.Relation != nil {
			Inspect(node.Relation, f)
		}
		for _, t := range node.Targets {
			visitExpr(t.Val)
		}
	case *DeleteStmt:
		visitBase(&node.QueryBase)
		if node.Relation != nil {
			Inspect(node.Relation, f)
		}
	case *CommonTableExpr:
		Inspect(node.Query, f)
	case *NullRelation:
		for _, t := range node.TargetList {
			Inspect(t, f)
		}
		visitExpr(node.WhereClause)
	case *RelRangeVar:
		if node.Relation != nil {
			Inspect(node.Relation, f)
		}
	case *RangeSubselect:
		Inspect(node.Subquery, f)
	case *RangeFunction:
		for _, fc := range node.Functions {
			Inspect(fc, f)
		}
	case *JoinExpr:
		Inspect(node.Larg, f)
		Inspect(node.Rarg, f)
		visitExpr(node.Quals)
	case *ResTarget:
		visitExpr(node.Val)
	case *BinOp:
		visitExpr(node.Lexpr)
		visitExpr(node.Rexpr)
	case *FuncCall:
		for _, a := range node.Args {
			visitExpr(a)
		}
		visitExpr(node.AggFilter)
	case *ArrayExpr:
		for _, a := range node.Elements {
			visitExpr(a)
		}
	case *RowExpr:
		for _, a := range node.Args {
			visitExpr(a)
		}
	case *TypeCast:
		visitExpr(node.Arg)
	case *CoalesceExpr:
		for _, a := range node.Args {
			visitExpr(a)
		}
	case *SubLink:
		visitExpr(node.Test)
		Inspect(node.Expr, f)
	case *NullTest:
		visitExpr(node.Arg)
	case *TupleVar:
		for _, el := range node.Elements {
			visitExpr(el.Val)
		}
	}
}

// IsSetOpQuery reports whether q is a SELECT combining other queries.
func IsSetOpQuery(q Query) bool {
	s, ok := q.(*SelectStmt)
	return ok && s.IsSetOp()
}

// SetOpLeaves returns the non-set-op SELECTs of a set-op tree, left to
// right. A plain SELECT returns itself.
func SetOpLeaves(s *SelectStmt) []*SelectStmt {
	if !s.IsSetOp() {
		return []*SelectStmt{s}
	}
	out := SetOpLeaves(s.Larg)
	return append(out, SetOpLeaves(s.Rarg)...)
}

// LeftmostQuery returns the first leaf of a set-op tree.
func LeftmostQuery(s *SelectStmt) *SelectStmt {
	for s.IsSetOp() {
		s = s.Larg
	}
	return s
}

// TargetNames returns the output column names of q. For a set
// operation the leftmost branch defines the names.
func TargetNames(q Query) []string {
	if s, ok := q.(*SelectStmt); ok {
		q = LeftmostQuery(s)
	}
	targets := q.Base().TargetList
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	return names
}

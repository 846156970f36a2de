package pgast

import (
	"bytes"
	"strconv"
	"strings"
)

const indentSize = 2

// Dump renders n as an indented structural tree. It is a debugging aid,
// not SQL: path bookkeeping is shown alongside the clauses.
func Dump(n Node) string {
	p := newPrinter()
	p.node(n)
	return p.String()
}

type printer struct {
	output      *bytes.Buffer
	depth       int
	atLineStart bool
}

func newPrinter() *printer {
	return &printer{output: &bytes.Buffer{}, atLineStart: true}
}

func (p *printer) String() string {
	return strings.TrimRight(p.output.String(), "\n") + "\n"
}

func (p *printer) write(s string) {
	if p.atLineStart && len(s) > 0 && s[0] != '\n' {
		p.writeIndent()
	}
	p.output.WriteString(s)
	p.atLineStart = false
}

func (p *printer) writeln() {
	p.output.WriteByte('\n')
	p.atLineStart = true
}

func (p *printer) line(s string) {
	p.write(s)
	p.writeln()
}

func (p *printer) writeIndent() {
	for i := 0; i < p.depth*indentSize; i++ {
		p.output.WriteByte(' ')
	}
	p.atLineStart = false
}

func (p *printer) indent() { p.depth++ }

func (p *printer) dedent() {
	if p.depth > 0 {
		p.depth--
	}
}

// list prints count items with sep between them.
func (p *printer) list(count int, format func(i int), sep string) {
	for i := 0; i < count; i++ {
		format(i)
		if i < count-1 {
			p.write(sep)
		}
	}
}

func (p *printer) section(title string, body func()) {
	p.line(title)
	p.indent()
	body()
	p.dedent()
}

func (p *printer) node(n Node) {
	switch node := n.(type) {
	case *SelectStmt:
		p.selectStmt(node)
	case *InsertStmt:
		p.line("INSERT INTO " + p.rvarName(node.Relation) + " (" + strings.Join(node.Cols, ", ") + ")")
		p.queryBase(&node.QueryBase, "RETURNING")
		if node.SelectStmt != nil {
			p.section("SOURCE", func() { p.node(node.SelectStmt) })
		}
	case *UpdateStmt:
		p.line("UPDATE " + p.rvarName(node.Relation))
		p.section("SET", func() {
			for _, t := range node.Targets {
				p.write(t.Name + " = ")
				p.expr(t.Val)
				p.writeln()
			}
		})
		p.queryBase(&node.QueryBase, "RETURNING")
	case *DeleteStmt:
		p.line("DELETE FROM " + p.rvarName(node.Relation))
		p.queryBase(&node.QueryBase, "RETURNING")
	case *CommonTableExpr:
		p.cte(node)
	case FromItem:
		p.fromItem(node)
	case Expr:
		p.expr(node)
		p.writeln()
	}
}

func (p *printer) cte(c *CommonTableExpr) {
	title := "CTE " + c.Name
	if c.Materialized {
		title += " MATERIALIZED"
	}
	p.section(title, func() { p.node(c.Query) })
}

func (p *printer) selectStmt(s *SelectStmt) {
	if s.IsSetOp() {
		op := string(s.Op)
		if s.All {
			op += " ALL"
		}
		for _, cte := range s.CTEs {
			p.cte(cte)
		}
		p.section(op, func() {
			p.node(s.Larg)
			p.node(s.Rarg)
		})
		return
	}
	if s.Distinct {
		p.line("SELECT DISTINCT")
	} else {
		p.line("SELECT")
	}
	p.queryBase(&s.QueryBase, "TARGETS")
	if len(s.SortClause) > 0 {
		p.section("ORDER BY", func() {
			for _, sb := range s.SortClause {
				p.expr(sb.Node)
				if sb.Descending {
					p.write(" DESC")
				}
				p.writeln()
			}
		})
	}
	if s.LimitOffset != nil {
		p.write("OFFSET ")
		p.expr(s.LimitOffset)
		p.writeln()
	}
	if s.LimitCount != nil {
		p.write("LIMIT ")
		p.expr(s.LimitCount)
		p.writeln()
	}
}

func (p *printer) queryBase(q *QueryBase, targetsTitle string) {
	for _, cte := range q.CTEs {
		p.cte(cte)
	}
	if len(q.TargetList) > 0 {
		p.section(targetsTitle, func() {
			for _, t := range q.TargetList {
				p.expr(t.Val)
				if t.Name != "" {
					p.write(" AS " + t.Name)
				}
				p.writeln()
			}
		})
	}
	if len(q.FromClause) > 0 {
		p.section("FROM", func() {
			for _, fi := range q.FromClause {
				p.fromItem(fi)
			}
		})
	}
	if q.WhereClause != nil {
		p.write("WHERE ")
		p.expr(q.WhereClause)
		p.writeln()
	}
	if q.PathIDMask.Len() > 0 {
		p.section("MASK", func() {
			for _, pid := range q.PathIDMask.Paths() {
				p.line(pid.String())
			}
		})
	}
}

func (p *printer) rvarName(rv PathRangeVar) string {
	if rv == nil {
		return "<nil>"
	}
	return rv.Base().Alias.AliasName
}

func (p *printer) fromItem(fi FromItem) {
	switch n := fi.(type) {
	case *JoinExpr:
		p.section(string(n.Type)+" JOIN", func() {
			p.fromItem(n.Larg)
			p.fromItem(n.Rarg)
			if n.Quals != nil {
				p.write("ON ")
				p.expr(n.Quals)
				p.writeln()
			}
		})
	case *RelRangeVar:
		switch rel := n.Relation.(type) {
		case *Relation:
			name := rel.Name
			if rel.Schema != "" {
				name = rel.Schema + "." + rel.Name
			}
			if n.Only {
				name = "ONLY " + name
			}
			p.line("TABLE " + name + " AS " + n.Alias.AliasName)
		case *NullRelation:
			p.section("NULL RELATION AS "+n.Alias.AliasName, func() {
				for _, t := range rel.TargetList {
					p.expr(t.Val)
					p.write(" AS " + t.Name)
					p.writeln()
				}
			})
		}
	case *CTERangeVar:
		p.line("CTE REF " + n.CTE.Name + " AS " + n.Alias.AliasName)
	case *RangeSubselect:
		title := "SUBSELECT AS " + n.Alias.AliasName
		if n.Lateral {
			title = "LATERAL " + title
		}
		if n.Tag != "" {
			title += " [" + n.Tag + "]"
		}
		p.section(title, func() { p.node(n.Subquery) })
	case *RangeFunction:
		title := "FUNCTION"
		if n.IsRowsFrom {
			title = "ROWS FROM"
		}
		if n.Lateral {
			title = "LATERAL " + title
		}
		p.write(title + " (")
		p.list(len(n.Functions), func(i int) { p.expr(n.Functions[i]) }, ", ")
		p.write(") AS " + n.Alias.AliasName)
		if len(n.Alias.ColNames) > 0 {
			p.write(" (" + strings.Join(n.Alias.ColNames, ", ") + ")")
		}
		p.writeln()
	}
}

func (p *printer) expr(e Expr) {
	switch n := e.(type) {
	case nil:
		p.write("<nil>")
	case *ColumnRef:
		p.write(strings.Join(n.Name, "."))
	case *BinOp:
		if n.Lexpr == nil {
			p.write(n.Op + " ")
			p.expr(n.Rexpr)
			return
		}
		p.write("(")
		p.expr(n.Lexpr)
		p.write(" " + n.Op + " ")
		p.expr(n.Rexpr)
		p.write(")")
	case *FuncCall:
		p.write(n.Name + "(")
		p.list(len(n.Args), func(i int) { p.expr(n.Args[i]) }, ", ")
		p.write(")")
		if n.AggFilter != nil {
			p.write(" FILTER (WHERE ")
			p.expr(n.AggFilter)
			p.write(")")
		}
		if len(n.ColDefList) > 0 {
			p.write(" AS (")
			p.list(len(n.ColDefList), func(i int) {
				p.write(n.ColDefList[i].Name + " " + n.ColDefList[i].TypeName.String())
			}, ", ")
			p.write(")")
		}
	case *NullConstant:
		p.write("NULL")
	case *StringConstant:
		p.write(strconv.Quote(n.Val))
	case *NumericConstant:
		p.write(n.Val)
	case *BooleanConstant:
		p.write(strings.ToUpper(strconv.FormatBool(n.Val)))
	case *ArrayExpr:
		p.write("ARRAY[")
		p.list(len(n.Elements), func(i int) { p.expr(n.Elements[i]) }, ", ")
		p.write("]")
	case *RowExpr:
		p.write("ROW(")
		p.list(len(n.Args), func(i int) { p.expr(n.Args[i]) }, ", ")
		p.write(")")
	case *TypeCast:
		p.expr(n.Arg)
		p.write("::" + n.TypeName.String())
	case *CoalesceExpr:
		p.write("COALESCE(")
		p.list(len(n.Args), func(i int) { p.expr(n.Args[i]) }, ", ")
		p.write(")")
	case *SubLink:
		if n.Test != nil {
			p.expr(n.Test)
			p.write(" ")
		}
		p.write(string(n.Operator) + " (")
		p.subquery(n.Expr)
		p.write(")")
	case *NullTest:
		p.expr(n.Arg)
		if n.Negated {
			p.write(" IS NOT NULL")
		} else {
			p.write(" IS NULL")
		}
	case *TupleVar:
		p.write("(")
		p.list(len(n.Elements), func(i int) { p.expr(n.Elements[i].Val) }, ", ")
		p.write(")")
	case Query:
		p.write("(")
		p.subquery(n)
		p.write(")")
	}
}

func (p *printer) subquery(q Query) {
	p.writeln()
	p.indent()
	p.node(q)
	p.dedent()
}

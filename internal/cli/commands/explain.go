package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/geldata/gel/internal/fixture"
	"github.com/geldata/gel/pkg/compiler"
	"github.com/geldata/gel/pkg/pgast"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewExplainCommand creates the explain command.
func NewExplainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <fixture>",
		Short: "Show the CTEs and range vars a fixture compiles to",
		Long: `Compile a fixture and tabulate what the compiler produced: the shared
CTEs in dependency order, every range var of the statement tree and the
compile statistics (CTEs per kind, join strategies, unpacks).`,
		Example: `  # Explain how a nested link is joined
  gelc explain testdata/nested_link.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			o := cc.compileUnit(args[0])
			if o.Err != nil {
				return o.Err
			}
			return renderExplain(cmd.OutOrStdout(), o.Unit.Name, o.Result)
		},
	}

	return cmd
}

// tableStyle picks box drawing for terminals and plain ASCII otherwise.
func tableStyle(w io.Writer) table.Style {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return table.StyleLight
	}
	return table.StyleDefault
}

func newTable(w io.Writer, title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(tableStyle(w))
	t.SetTitle(title)
	t.AppendHeader(header)
	return t
}

func renderExplain(w io.Writer, name string, res *compiler.Result) error {
	_, _ = fmt.Fprintf(w, "Fixture: %s\n", name)

	ctes := newTable(w, "CTEs", table.Row{"#", "Name", "Statement", "Materialized", "DML"})
	for i, cte := range res.CTEs {
		ctes.AppendRow(table.Row{i + 1, cte.Name, statementKind(cte.Query), cte.Materialized, cte.ForDML})
	}
	if len(res.CTEs) == 0 {
		ctes.AppendRow(table.Row{"", "(none)", "", "", ""})
	}
	ctes.Render()

	rvars := newTable(w, "Range vars", table.Row{"Alias", "Kind", "Source", "Lateral", "Nullable"})
	for _, rv := range rangeVars(res.Stmt) {
		base := rv.Base()
		kind, source := describeRangeVar(rv)
		rvars.AppendRow(table.Row{base.Alias.AliasName, kind, source, base.Lateral, base.Nullable})
	}
	rvars.Render()

	stats := newTable(w, "Stats", table.Row{"Stat", "Count"})
	counts := fixture.StatsByName(res.Stats)
	for _, name := range fixture.StatNames {
		stats.AppendRow(table.Row{name, counts[name]})
	}
	stats.Render()
	return nil
}

// rangeVars returns every range var of n, in walk order.
func rangeVars(n pgast.Node) []pgast.PathRangeVar {
	var out []pgast.PathRangeVar
	pgast.Inspect(n, func(node pgast.Node) bool {
		if rv, ok := node.(pgast.PathRangeVar); ok {
			out = append(out, rv)
		}
		return true
	})
	return out
}

func describeRangeVar(rv pgast.PathRangeVar) (kind, source string) {
	switch rv := rv.(type) {
	case *pgast.RelRangeVar:
		switch rel := rv.Relation.(type) {
		case *pgast.Relation:
			source = rel.Name
			if rel.Schema != "" {
				source = rel.Schema + "." + rel.Name
			}
		case *pgast.NullRelation:
			source = "(empty)"
		}
		if rv.Only {
			source = "ONLY " + source
		}
		return "table", source
	case *pgast.CTERangeVar:
		return "cte", rv.CTE.Name
	case *pgast.RangeSubselect:
		if rv.Tag != "" {
			return "subselect", rv.Tag
		}
		return "subselect", statementKind(rv.Subquery)
	case *pgast.RangeFunction:
		names := make([]string, len(rv.Functions))
		for i, fn := range rv.Functions {
			names[i] = fn.Name
		}
		return "function", strings.Join(names, ", ")
	}
	return fmt.Sprintf("%T", rv), ""
}

func statementKind(q pgast.Query) string {
	switch q := q.(type) {
	case *pgast.InsertStmt:
		return "insert"
	case *pgast.UpdateStmt:
		return "update"
	case *pgast.DeleteStmt:
		return "delete"
	case *pgast.SelectStmt:
		if q.IsSetOp() {
			return "set-op"
		}
		return "select"
	}
	return "?"
}

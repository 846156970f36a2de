package fixture

import (
	"fmt"
	"slices"
	"strings"

	"github.com/geldata/gel/pkg/compiler"
	"github.com/geldata/gel/pkg/pgast"
)

// StatNames lists the keys accepted under expect.stats.
var StatNames = []string{
	"type_rewrite_ctes",
	"type_inheritance_ctes",
	"ptr_inheritance_ctes",
	"dml_ctes",
	"overlay_stacks",
	"plain_joins",
	"lateral_union_joins",
	"semi_joins",
	"unpacks",
}

// StatsByName returns st keyed by the names in StatNames.
func StatsByName(st compiler.Stats) map[string]int {
	return map[string]int{
		"type_rewrite_ctes":     st.TypeRewriteCTEs,
		"type_inheritance_ctes": st.TypeInheritanceCTEs,
		"ptr_inheritance_ctes":  st.PtrInheritanceCTEs,
		"dml_ctes":              st.DMLCTEs,
		"overlay_stacks":        st.OverlayStacks,
		"plain_joins":           st.PlainJoins,
		"lateral_union_joins":   st.LateralUnionJoins,
		"semi_joins":            st.SemiJoins,
		"unpacks":               st.Unpacks,
	}
}

// Relations returns the names of the tables n reads or writes, in
// walk order and without duplicates.
func Relations(n pgast.Node) []string {
	var out []string
	pgast.Inspect(n, func(node pgast.Node) bool {
		if r, ok := node.(*pgast.Relation); ok && !slices.Contains(out, r.Name) {
			out = append(out, r.Name)
		}
		return true
	})
	return out
}

// MismatchError lists the expectations a compile did not meet.
type MismatchError struct {
	Fixture  string
	Problems []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("fixture %s: %s", e.Fixture, strings.Join(e.Problems, "; "))
}

// Check compares the outcome of compiling u with its expectations. A
// unit without expectations only requires the compile to succeed.
func (u *Unit) Check(res *compiler.Result, err error) error {
	exp := u.Expect
	if exp == nil {
		return err
	}
	if exp.Error != "" {
		if err == nil {
			return &MismatchError{Fixture: u.Name, Problems: []string{fmt.Sprintf("expected error containing %q", exp.Error)}}
		}
		if !strings.Contains(err.Error(), exp.Error) {
			return &MismatchError{Fixture: u.Name, Problems: []string{fmt.Sprintf("error %q does not contain %q", err, exp.Error)}}
		}
		return nil
	}
	if err != nil {
		return err
	}

	var problems []string
	if exp.CTEs != 0 && len(res.CTEs) != exp.CTEs {
		problems = append(problems, fmt.Sprintf("ctes: got %d, want %d", len(res.CTEs), exp.CTEs))
	}
	rels := Relations(res.Stmt)
	for _, want := range exp.Relations {
		if !slices.Contains(rels, want) {
			problems = append(problems, fmt.Sprintf("relation %q not read (got %s)", want, strings.Join(rels, ", ")))
		}
	}
	stats := StatsByName(res.Stats)
	names := make([]string, 0, len(exp.Stats))
	for name := range exp.Stats {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		got, ok := stats[name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("unknown stat %q", name))
		case got != exp.Stats[name]:
			problems = append(problems, fmt.Sprintf("%s: got %d, want %d", name, got, exp.Stats[name]))
		}
	}
	if len(problems) > 0 {
		return &MismatchError{Fixture: u.Name, Problems: problems}
	}
	return nil
}

package pathctx

import (
	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

// ColumnName returns the storage column of a pointer.
func ColumnName(ptr *ir.PointerRef) string {
	if ptr.Column != "" {
		return ptr.Column
	}
	return ptr.ShortName
}

// OutputAlias returns the alias hint for exporting (pid, aspect).
func OutputAlias(pid ir.PathID, aspect pgast.Aspect) string {
	base := pid.RPtrName()
	if base == "" {
		switch t := pid.Target(); {
		case t.IsTuple():
			base = "tuple"
		case t.IsArray():
			base = "array"
		case t != nil && t.Name.Name != "":
			base = t.Name.Name
		default:
			base = "v"
		}
	}
	return base + "_" + aspect.String()
}

// GetPathVar resolves (pid, aspect) inside q: from the namespace, or
// through the range var providing it, caching the result in q. It does
// not look at enclosing statements.
func GetPathVar(q pgast.Query, pid ir.PathID, aspect pgast.Aspect, aliases *pgast.AliasGenerator) (pgast.Expr, error) {
	return getPathVar(q, pid, aspect, pgast.FlavorNormal, aliases)
}

// GetPackedPathVar is GetPathVar for the packed namespace.
func GetPackedPathVar(q pgast.Query, pid ir.PathID, aspect pgast.Aspect, aliases *pgast.AliasGenerator) (pgast.Expr, error) {
	return getPathVar(q, pid, aspect, pgast.FlavorPacked, aliases)
}

func getPathVar(q pgast.Query, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor, aliases *pgast.AliasGenerator) (pgast.Expr, error) {
	b := q.Base()
	if flavor == pgast.FlavorNormal {
		pid = MapPathID(pid, &b.ViewPathIDMap)
	}
	if v, ok := b.Namespace(flavor).Get(pid, aspect); ok {
		return v, nil
	}

	rvars := b.RvarMap(flavor)
	rvar, ok := rvars.Get(pid, aspect)
	for alt := aspect; !ok; {
		var more bool
		if alt, more = lessSpecificAspect(pid, alt); !more {
			break
		}
		rvar, ok = rvars.Get(pid, alt)
	}

	viaSource := false
	if !ok {
		if flavor == pgast.FlavorPacked {
			return nil, noRangeVar(pid, aspect)
		}
		if src, dir, has := sourcePathOf(pid); has {
			rvar, ok = b.PathRvarMap.Get(src, pgast.AspectSource)
			viaSource = ok && dir == ir.Outbound
		}
		if !ok {
			return nil, noRangeVar(pid, aspect)
		}
	}

	v, err := rvarPathVar(rvar, pid, aspect, flavor, aliases, viaSource)
	if err != nil {
		return nil, err
	}
	b.Namespace(flavor).Set(pid, aspect, v)
	return v, nil
}

// sourcePathOf returns the path whose source row holds pid's value.
// Backlinks are read from the row of the path itself.
func sourcePathOf(pid ir.PathID) (ir.PathID, ir.Direction, bool) {
	ptr := pid.RPtr()
	if ptr == nil || ptr.Kind == ir.PtrTypeIntersection {
		return ir.PathID{}, ir.Outbound, false
	}
	if pid.RPtrDir() == ir.Inbound {
		return pid, ir.Inbound, true
	}
	src, ok := pid.SrcPath()
	return src, ir.Outbound, ok
}

// GetRvarPathVar returns the expression, qualified by rvar's alias,
// that reads (pid, aspect) from the relation behind rvar. The relation
// exports a new output column if needed.
func GetRvarPathVar(rvar pgast.PathRangeVar, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor, aliases *pgast.AliasGenerator) (pgast.Expr, error) {
	return rvarPathVar(rvar, pid, aspect, flavor, aliases, false)
}

func rvarPathVar(rvar pgast.PathRangeVar, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor, aliases *pgast.AliasGenerator, viaSource bool) (pgast.Expr, error) {
	rel := rvar.Query()
	if rel == nil {
		return nil, errors.AssertionFailedf("cannot resolve %s %s through function range var %s",
			pid, aspect, rvar.Base().Alias.AliasName)
	}
	out, err := getPathOutput(rel, pid, aspect, flavor, aliases, viaSource)
	if err != nil {
		return nil, err
	}
	return RvarVar(rvar, out), nil
}

// RvarVar qualifies an output of the relation behind rvar with the
// range var's alias.
func RvarVar(rvar pgast.PathRangeVar, v pgast.Expr) pgast.Expr {
	switch n := v.(type) {
	case *pgast.ColumnRef:
		return &pgast.ColumnRef{
			Name:          []string{rvar.Base().Alias.AliasName, n.Column()},
			Nullable:      n.Nullable,
			IsPackedMulti: n.IsPackedMulti,
		}
	case *pgast.TupleVar:
		elems := make([]*pgast.TupleElement, len(n.Elements))
		for i, el := range n.Elements {
			elems[i] = &pgast.TupleElement{PathID: el.PathID, Name: el.Name, Val: RvarVar(rvar, el.Val)}
		}
		return &pgast.TupleVar{Elements: elems, Named: n.Named, TypeRef: n.TypeRef}
	default:
		return v
	}
}

// GetPathOutput returns the output column through which rel exports
// (pid, aspect), adding it to the target list on first use.
func GetPathOutput(rel pgast.BaseRelation, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor, aliases *pgast.AliasGenerator) (pgast.Expr, error) {
	return getPathOutput(rel, pid, aspect, flavor, aliases, false)
}

func getPathOutput(rel pgast.BaseRelation, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor, aliases *pgast.AliasGenerator, viaSource bool) (pgast.Expr, error) {
	if q, ok := rel.(pgast.Query); ok && flavor == pgast.FlavorNormal {
		pid = MapPathID(pid, &q.Base().ViewPathIDMap)
	}
	info := rel.Info()
	if v, ok := info.Outputs(flavor).Get(pid, aspect); ok {
		return v, nil
	}

	switch r := rel.(type) {
	case *pgast.Relation:
		if flavor == pgast.FlavorPacked {
			return nil, noOutput(pid, aspect)
		}
		ref, err := relationColumn(r, pid, aspect, viaSource)
		if err != nil {
			return nil, err
		}
		info.PathOutputs.Set(pid, aspect, ref)
		return ref, nil
	case *pgast.NullRelation:
		alias := aliases.Get(OutputAlias(pid, aspect))
		r.TargetList = append(r.TargetList, &pgast.ResTarget{Name: alias, Val: &pgast.NullConstant{}})
		ref := &pgast.ColumnRef{Name: []string{alias}, Nullable: true}
		info.Outputs(flavor).Set(pid, aspect, ref)
		return ref, nil
	case *pgast.SelectStmt:
		if r.IsSetOp() {
			return setOpOutput(r, pid, aspect, flavor, aliases)
		}
	}

	q, ok := rel.(pgast.Query)
	if !ok {
		return nil, errors.AssertionFailedf("unexpected relation %T", rel)
	}
	v, err := getPathVar(q, pid, aspect, flavor, aliases)
	if err != nil {
		return nil, err
	}

	if tv, ok := v.(*pgast.TupleVar); ok {
		elems := make([]*pgast.TupleElement, len(tv.Elements))
		for i, el := range tv.Elements {
			out, err := getPathOutput(rel, el.PathID, aspect, flavor, aliases, false)
			if err != nil {
				return nil, err
			}
			elems[i] = &pgast.TupleElement{PathID: el.PathID, Name: el.Name, Val: out}
		}
		result := &pgast.TupleVar{Elements: elems, Named: tv.Named, TypeRef: tv.TypeRef}
		info.Outputs(flavor).Set(pid, aspect, result)
		return result, nil
	}

	var ref *pgast.ColumnRef
	if existing := findPathOutput(q, v); existing != nil {
		ref = existing
	} else {
		alias := aliases.Get(OutputAlias(pid, aspect))
		b := q.Base()
		b.TargetList = append(b.TargetList, &pgast.ResTarget{Name: alias, Val: v})
		ref = &pgast.ColumnRef{Name: []string{alias}, Nullable: pgast.IsNullable(v)}
	}
	ref.IsPackedMulti = flavor == pgast.FlavorPacked
	putOutput(info, pid, aspect, ref, flavor)
	return ref, nil
}

// putOutput records an output. Object identity and value are the same
// column, so exporting one exports both.
func putOutput(info *pgast.RelInfo, pid ir.PathID, aspect pgast.Aspect, ref pgast.Expr, flavor pgast.Flavor) {
	outs := info.Outputs(flavor)
	outs.Set(pid, aspect, ref)
	if pid.IsObjTypePath() {
		switch aspect {
		case pgast.AspectIdentity:
			outs.SetIfAbsent(pid, pgast.AspectValue, ref)
		case pgast.AspectValue:
			outs.SetIfAbsent(pid, pgast.AspectIdentity, ref)
		}
	}
}

func findPathOutput(q pgast.Query, v pgast.Expr) *pgast.ColumnRef {
	for _, t := range q.Base().TargetList {
		if t.Val == v {
			return &pgast.ColumnRef{Name: []string{t.Name}, Nullable: pgast.IsNullable(v)}
		}
	}
	return nil
}

// setOpOutput exports (pid, aspect) from every branch of a set
// operation under one name and position. Branches that cannot provide
// the path emit NULL.
func setOpOutput(s *pgast.SelectStmt, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor, aliases *pgast.AliasGenerator) (pgast.Expr, error) {
	leaves := pgast.SetOpLeaves(s)
	vars := make([]pgast.Expr, len(leaves))
	found := false
	for i, leaf := range leaves {
		v, err := getPathVar(leaf, pid, aspect, flavor, aliases)
		switch {
		case err == nil:
			vars[i] = v
			found = true
		case IsLookupError(err):
			vars[i] = &pgast.NullConstant{}
		default:
			return nil, err
		}
	}
	if !found {
		return nil, noOutput(pid, aspect)
	}

	alias := aliases.Get(OutputAlias(pid, aspect))
	nullable := false
	for i, leaf := range leaves {
		leaf.TargetList = append(leaf.TargetList, &pgast.ResTarget{Name: alias, Val: vars[i]})
		nullable = nullable || pgast.IsNullable(vars[i])
	}
	ref := &pgast.ColumnRef{Name: []string{alias}, Nullable: nullable, IsPackedMulti: flavor == pgast.FlavorPacked}
	putOutput(s.Info(), pid, aspect, ref, flavor)
	return ref, nil
}

func relationColumn(r *pgast.Relation, pid ir.PathID, aspect pgast.Aspect, viaSource bool) (*pgast.ColumnRef, error) {
	if aspect == pgast.AspectIterator {
		return nil, noOutput(pid, aspect)
	}
	if !viaSource && pid.IsObjTypePath() && (r.PathID.IsZero() || r.PathID.Equal(pid)) {
		if r.PtrRef != nil {
			return nil, noOutput(pid, aspect)
		}
		return &pgast.ColumnRef{Name: []string{"id"}}, nil
	}
	ptr := pid.RPtr()
	if ptr == nil {
		return nil, noOutput(pid, aspect)
	}
	// Link-table pointers are rows of their own relation, never columns
	// of the source type's table.
	if !ptr.IsInline() && r.PtrRef == nil {
		return nil, noOutput(pid, aspect)
	}
	return &pgast.ColumnRef{Name: []string{ColumnName(ptr)}, Nullable: !ptr.Required}, nil
}

package pathctx

import (
	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

// ---------- Path Id Mapping ----------

// MapPathID rewrites pid through the first mapping whose outer path is
// a prefix of it.
func MapPathID(pid ir.PathID, m *pgast.PathIDMap) ir.PathID {
	for _, e := range m.Entries() {
		if pid.StartsWith(e[0]) {
			return pid.ReplacePrefix(e[0], e[1])
		}
	}
	return pid
}

// ReverseMapPathID undoes MapPathID.
func ReverseMapPathID(pid ir.PathID, m *pgast.PathIDMap) ir.PathID {
	for _, e := range m.Entries() {
		if pid.StartsWith(e[1]) {
			return pid.ReplacePrefix(e[1], e[0])
		}
	}
	return pid
}

// PutPathIDMap makes outer resolve as inner inside q.
func PutPathIDMap(q pgast.Query, outer, inner ir.PathID) {
	b := q.Base()
	inner = MapPathID(inner, &b.ViewPathIDMap)
	b.ViewPathIDMap.Put(outer, inner)
}

// PutPathIDMask hides pid from statements enclosing q.
func PutPathIDMask(q pgast.Query, pid ir.PathID) {
	q.Base().PathIDMask.Add(pid)
}

// ---------- Path Vars ----------

// PutPathVar binds expr to (pid, aspect) in q. An existing binding is
// kept; use ForcePathVar to replace it.
func PutPathVar(q pgast.Query, pid ir.PathID, expr pgast.Expr, aspect pgast.Aspect) {
	q.Base().PathNamespace.SetIfAbsent(pid, aspect, expr)
}

// PutPackedPathVar is PutPathVar for the packed namespace.
func PutPackedPathVar(q pgast.Query, pid ir.PathID, expr pgast.Expr, aspect pgast.Aspect) {
	q.Base().Namespace(pgast.FlavorPacked).SetIfAbsent(pid, aspect, expr)
}

// PutPathVarIfNotExists binds expr unless the pair is bound already and
// reports whether it did.
func PutPathVarIfNotExists(q pgast.Query, pid ir.PathID, expr pgast.Expr, aspect pgast.Aspect) bool {
	return q.Base().PathNamespace.SetIfAbsent(pid, aspect, expr)
}

// ForcePathVar binds expr, replacing any existing binding.
func ForcePathVar(q pgast.Query, pid ir.PathID, expr pgast.Expr, aspect pgast.Aspect) {
	q.Base().PathNamespace.Set(pid, aspect, expr)
}

// MaybeGetPathVar returns the expression bound in q itself, after view
// path id mapping. It never consults range vars.
func MaybeGetPathVar(q pgast.Query, pid ir.PathID, aspect pgast.Aspect) (pgast.Expr, bool) {
	b := q.Base()
	return b.PathNamespace.Get(MapPathID(pid, &b.ViewPathIDMap), aspect)
}

// HasPathAspect reports whether q binds or provides (pid, aspect).
func HasPathAspect(q pgast.Query, pid ir.PathID, aspect pgast.Aspect) bool {
	b := q.Base()
	pid = MapPathID(pid, &b.ViewPathIDMap)
	return b.PathNamespace.Has(pid, aspect) ||
		b.PathRvarMap.Has(pid, aspect) ||
		b.PathOutputs.Has(pid, aspect)
}

// ListPathAspects returns the aspects q knows for pid.
func ListPathAspects(q pgast.Query, pid ir.PathID) []pgast.Aspect {
	b := q.Base()
	pid = MapPathID(pid, &b.ViewPathIDMap)
	seen := map[pgast.Aspect]bool{}
	var out []pgast.Aspect
	add := func(as []pgast.Aspect) {
		for _, a := range as {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	add(b.PathNamespace.Aspects(pid))
	add(b.PathRvarMap.Aspects(pid))
	add(b.PathOutputs.Aspects(pid))
	return out
}

// ---------- Path Range Vars ----------

// PutPathRvar binds rvar as the provider of (pid, aspect), overwriting
// any previous provider.
func PutPathRvar(q pgast.Query, pid ir.PathID, rvar pgast.PathRangeVar, aspect pgast.Aspect, flavor pgast.Flavor) {
	q.Base().RvarMap(flavor).Set(pid, aspect, rvar)
}

// PutPathRvarIfNotExists binds rvar unless a provider exists; the
// first writer wins.
func PutPathRvarIfNotExists(q pgast.Query, pid ir.PathID, rvar pgast.PathRangeVar, aspect pgast.Aspect, flavor pgast.Flavor) bool {
	return q.Base().RvarMap(flavor).SetIfAbsent(pid, aspect, rvar)
}

// MaybeGetPathRvar returns the provider bound in q itself.
func MaybeGetPathRvar(q pgast.Query, pid ir.PathID, aspect pgast.Aspect, flavor pgast.Flavor) (pgast.PathRangeVar, bool) {
	b := q.Base()
	if flavor == pgast.FlavorNormal {
		pid = MapPathID(pid, &b.ViewPathIDMap)
	}
	return b.RvarMap(flavor).Get(pid, aspect)
}

// HasRvar reports whether rvar is used by q, either as a path provider
// or directly in its FROM clause.
func HasRvar(q pgast.Query, rvar pgast.PathRangeVar) bool {
	b := q.Base()
	for _, tbl := range []*pgast.PathTable[pgast.PathRangeVar]{&b.PathRvarMap, &b.PackedPathRvarMap} {
		for _, e := range tbl.Entries() {
			if e.Value == rvar {
				return true
			}
		}
	}
	for _, rv := range pgast.RangeVarsOf(b.FromClause) {
		if rv == rvar {
			return true
		}
	}
	return false
}

// ---------- Bonds and Outputs ----------

// PutPathBond marks pid as a join key of q.
func PutPathBond(q pgast.Query, pid ir.PathID, iterator bool) {
	q.Info().AddPathBond(pid, iterator)
}

// PutRvarPathBond marks pid as a join key of the relation behind rvar.
func PutRvarPathBond(rvar pgast.PathRangeVar, pid ir.PathID) {
	if rel := rvar.Query(); rel != nil {
		rel.Info().AddPathBond(pid, false)
	}
}

// PutRvarPathOutput records that the relation behind rvar exports var
// for (pid, aspect).
func PutRvarPathOutput(rvar pgast.PathRangeVar, pid ir.PathID, aspect pgast.Aspect, v pgast.Expr, flavor pgast.Flavor) {
	if rel := rvar.Query(); rel != nil {
		rel.Info().Outputs(flavor).Set(pid, aspect, v)
	}
}

// lessSpecificAspect returns the aspect to fall back to when no range
// var provides the requested one. Object paths can serve their identity
// from the value and everything from the source row.
func lessSpecificAspect(pid ir.PathID, aspect pgast.Aspect) (pgast.Aspect, bool) {
	if !pid.IsObjTypePath() {
		return 0, false
	}
	switch aspect {
	case pgast.AspectIdentity:
		return pgast.AspectValue, true
	case pgast.AspectValue, pgast.AspectSerialized:
		return pgast.AspectSource, true
	}
	return 0, false
}

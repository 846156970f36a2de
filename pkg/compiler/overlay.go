package compiler

import (
	"slices"

	"github.com/benbjohnson/immutable"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

// OverlayOp is how an overlay combines with what was accumulated
// before it.
type OverlayOp string

const (
	// OverlayUnion adds the overlay rows.
	OverlayUnion OverlayOp = "union"
	// OverlayReplace discards everything accumulated so far.
	OverlayReplace OverlayOp = "replace"
	// OverlayFilter removes rows whose identity appears in the overlay.
	OverlayFilter OverlayOp = "filter"
)

// OverlayEntry is one pending write effect: rows of CTE, addressed
// inside the CTE by PathID.
type OverlayEntry struct {
	Op     OverlayOp
	CTE    *pgast.CommonTableExpr
	PathID ir.PathID
}

func (e OverlayEntry) equal(other OverlayEntry) bool {
	return e.Op == other.Op && e.CTE == other.CTE && e.PathID.Equal(other.PathID)
}

type overlayLayer = *immutable.Map[string, []OverlayEntry]

// globalLayer is the DML key of overlays registered outside of any
// DML statement.
const globalLayer = ""

// RelOverlays holds the pending overlays per DML statement, for types
// (keyed by type id) and pointers (keyed by source type id and pointer
// name). The maps are persistent; a copy of a RelOverlays never sees
// registrations made through another copy.
type RelOverlays struct {
	types *immutable.Map[string, overlayLayer]
	ptrs  *immutable.Map[string, overlayLayer]
}

// NewRelOverlays returns an empty overlay set.
func NewRelOverlays() *RelOverlays {
	return &RelOverlays{
		types: immutable.NewMap[string, overlayLayer](nil),
		ptrs:  immutable.NewMap[string, overlayLayer](nil),
	}
}

func (o *RelOverlays) clone() *RelOverlays {
	cp := *o
	return &cp
}

// addOverlay registers entry under key for each DML statement. A
// statement without a layer of its own starts from the global layer.
func addOverlay(layers *immutable.Map[string, overlayLayer], key string, entry OverlayEntry, dml []string) *immutable.Map[string, overlayLayer] {
	if len(dml) == 0 {
		dml = []string{globalLayer}
	}
	root, ok := layers.Get(globalLayer)
	if !ok {
		root = immutable.NewMap[string, []OverlayEntry](nil)
	}
	for _, dk := range dml {
		layer, ok := layers.Get(dk)
		if !ok {
			layer = root
		}
		entries, _ := layer.Get(key)
		if slices.ContainsFunc(entries, entry.equal) {
			continue
		}
		layer = layer.Set(key, append(slices.Clip(entries), entry))
		layers = layers.Set(dk, layer)
	}
	return layers
}

func getOverlays(layers *immutable.Map[string, overlayLayer], key string, dmlSource []string) []OverlayEntry {
	if len(dmlSource) == 0 {
		dmlSource = []string{globalLayer}
	}
	var out []OverlayEntry
	for _, src := range dmlSource {
		layer, ok := layers.Get(src)
		if !ok {
			continue
		}
		entries, _ := layer.Get(key)
		out = append(out, entries...)
	}
	return out
}

func ptrOverlayKey(t *ir.TypeRef, ptrName string) string {
	return t.ID.String() + "/" + ptrName
}

// AddTypeOverlay registers an overlay for t and its ancestors, so that
// reads of a supertype observe writes to a subtype. Ancestors that are
// stopRef or one of stopRef's own ancestors are skipped.
func (o *RelOverlays) AddTypeOverlay(t *ir.TypeRef, op OverlayOp, cte *pgast.CommonTableExpr, pid ir.PathID, dmlStmts []ir.MutatingStmt, stopRef *ir.TypeRef) {
	t = t.RealMaterialType()
	entry := OverlayEntry{Op: op, CTE: cte, PathID: pid}
	keys := dmlKeys(dmlStmts)
	for _, obj := range append([]*ir.TypeRef{t}, t.Ancestors...) {
		if stopRef != nil && stopRef.IsSubtypeOf(obj) {
			continue
		}
		o.types = addOverlay(o.types, obj.ID.String(), entry, keys)
	}
}

// TypeOverlays returns the overlays applying to reads of t made on
// behalf of dmlSource, in registration order.
func (o *RelOverlays) TypeOverlays(t *ir.TypeRef, dmlSource []ir.MutatingStmt) []OverlayEntry {
	if t.MaterialType != nil {
		t = t.MaterialType
	}
	return getOverlays(o.types, t.ID.String(), dmlKeys(dmlSource))
}

// AddPtrOverlay registers an overlay for ptr as seen from its source
// type and the source's ancestors.
func (o *RelOverlays) AddPtrOverlay(ptr *ir.PointerRef, op OverlayOp, cte *pgast.CommonTableExpr, pid ir.PathID, dmlStmts []ir.MutatingStmt) {
	src := ptr.OutSource.RealMaterialType()
	entry := OverlayEntry{Op: op, CTE: cte, PathID: pid}
	keys := dmlKeys(dmlStmts)
	for _, obj := range append([]*ir.TypeRef{src}, src.Ancestors...) {
		o.ptrs = addOverlay(o.ptrs, ptrOverlayKey(obj, ptr.ShortName), entry, keys)
	}
}

// PtrOverlays returns the overlays applying to reads of ptr made on
// behalf of dmlSource.
func (o *RelOverlays) PtrOverlays(ptr *ir.PointerRef, dmlSource []ir.MutatingStmt) []OverlayEntry {
	src := ptr.OutSource.RealMaterialType()
	return getOverlays(o.ptrs, ptrOverlayKey(src, ptr.ShortName), dmlKeys(dmlSource))
}

// ReuseOverlays re-registers every overlay of dmlSource under
// dmlStmts. It is used when the result of a WITH-bound DML statement
// is consumed by an enclosing DML statement.
func (o *RelOverlays) ReuseOverlays(dmlSource ir.MutatingStmt, dmlStmts []ir.MutatingStmt) {
	keys := dmlKeys(dmlStmts)
	reuse := func(layers *immutable.Map[string, overlayLayer]) *immutable.Map[string, overlayLayer] {
		src, ok := layers.Get(dmlSource.DMLKey())
		if !ok {
			return layers
		}
		itr := src.Iterator()
		for !itr.Done() {
			key, entries, _ := itr.Next()
			for _, e := range entries {
				layers = addOverlay(layers, key, e, keys)
			}
		}
		return layers
	}
	o.types = reuse(o.types)
	o.ptrs = reuse(o.ptrs)
}

// Empty reports whether no overlay has been registered.
func (o *RelOverlays) Empty() bool {
	return o.types.Len() == 0 && o.ptrs.Len() == 0
}

package compiler

import (
	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pathctx"
)

// Table names a backend relation.
type Table struct {
	Schema string
	Name   string
}

// PointerTable describes the link table of a pointer that is not
// stored inline.
type PointerTable struct {
	Table
	SourceCol string
	TargetCol string
}

// Catalog maps schema objects onto backend storage.
type Catalog interface {
	// TypeTable returns the table holding the objects of t.
	TypeTable(t *ir.TypeRef) Table
	// PointerTable returns the link table of ptr.
	PointerTable(ptr *ir.PointerRef) PointerTable
}

// DefaultCatalog stores each type in a table named after it inside a
// schema named after its module, and each link-table pointer in a
// table named "Source.pointer" next to it.
type DefaultCatalog struct{}

// TypeTable implements Catalog.
func (DefaultCatalog) TypeTable(t *ir.TypeRef) Table {
	t = t.RealMaterialType()
	return Table{Schema: t.Name.Module, Name: t.Name.Name}
}

// PointerTable implements Catalog.
func (DefaultCatalog) PointerTable(ptr *ir.PointerRef) PointerTable {
	ptr = ptr.RealMaterialPtr()
	src := ptr.OutSource.RealMaterialType()
	return PointerTable{
		Table:     Table{Schema: src.Name.Module, Name: src.Name.Name + "." + ptr.ShortName},
		SourceCol: "source",
		TargetCol: "target",
	}
}

// pointerColumns returns the (source, target) column pair through
// which ptr is read: link table columns, or id and the inline column.
func pointerColumns(cat Catalog, ptr *ir.PointerRef) (string, string) {
	if ptr.IsInline() {
		return "id", pathctx.ColumnName(ptr)
	}
	pt := cat.PointerTable(ptr)
	return pt.SourceCol, pt.TargetCol
}

package compiler

import (
	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

// scalarTypes maps std scalars onto backend type names. Other scalars
// set PGType or are stored as text.
var scalarTypes = map[string]string{
	"std::str":               "text",
	"std::bool":              "bool",
	"std::uuid":              "uuid",
	"std::int16":             "int2",
	"std::int32":             "int4",
	"std::int64":             "int8",
	"std::float32":           "float4",
	"std::float64":           "float8",
	"std::decimal":           "numeric",
	"std::bigint":            "numeric",
	"std::bytes":             "bytea",
	"std::json":              "jsonb",
	"std::datetime":          "timestamptz",
	"std::duration":          "interval",
	"cal::local_date":        "date",
	"cal::local_time":        "time",
	"cal::local_datetime":    "timestamp",
	"cal::relative_duration": "interval",
}

// pgTypeName returns the backend type storing values of t.
func pgTypeName(t *ir.TypeRef) *pgast.TypeName {
	switch {
	case t == nil:
		return &pgast.TypeName{Name: "text"}
	case t.PGType != "":
		return &pgast.TypeName{Name: t.PGType}
	case t.IsObject():
		return &pgast.TypeName{Name: "uuid"}
	case t.IsTuple():
		return &pgast.TypeName{Name: "record"}
	case t.IsArray():
		if len(t.Subtypes) == 1 && !t.Subtypes[0].IsArray() && !t.Subtypes[0].IsTuple() {
			return &pgast.TypeName{Name: pgTypeName(t.Subtypes[0]).Name, Array: true}
		}
		return &pgast.TypeName{Name: "record", Array: true}
	}
	if name, ok := scalarTypes[t.Name.String()]; ok {
		return &pgast.TypeName{Name: name}
	}
	return &pgast.TypeName{Name: "text"}
}

// serializedTypeName returns the type of the serialized form of val.
func (c *Context) serializedTypeName(pid ir.PathID, val pgast.Expr) *pgast.TypeName {
	if c.env.OutputFormat == FormatJSON {
		return &pgast.TypeName{Name: "jsonb"}
	}
	if _, ok := val.(*pgast.RowExpr); ok {
		return &pgast.TypeName{Name: "record"}
	}
	if c.env.MaterializedViews[pid.Target().ID] != nil {
		return &pgast.TypeName{Name: "record"}
	}
	return pgTypeName(pid.Target())
}

// serializeExpr converts the value of pid into its client form.
func (c *Context) serializeExpr(expr pgast.Expr, pid ir.PathID) pgast.Expr {
	if tv, ok := expr.(*pgast.TupleVar); ok {
		return c.serializeTuple(tv)
	}
	if c.env.OutputFormat == FormatJSON {
		return &pgast.FuncCall{Name: "to_jsonb", Args: []pgast.Expr{expr}, Nullable: pgast.IsNullable(expr)}
	}
	return expr
}

func (c *Context) serializeTuple(tv *pgast.TupleVar) pgast.Expr {
	if c.env.OutputFormat == FormatJSON {
		if tv.Named {
			args := make([]pgast.Expr, 0, 2*len(tv.Elements))
			for _, el := range tv.Elements {
				args = append(args, &pgast.StringConstant{Val: el.Name}, c.serializeExpr(el.Val, el.PathID))
			}
			return &pgast.FuncCall{Name: "jsonb_build_object", Args: args}
		}
		args := make([]pgast.Expr, len(tv.Elements))
		for i, el := range tv.Elements {
			args[i] = c.serializeExpr(el.Val, el.PathID)
		}
		return &pgast.FuncCall{Name: "jsonb_build_array", Args: args}
	}
	args := make([]pgast.Expr, len(tv.Elements))
	for i, el := range tv.Elements {
		args[i] = c.serializeExpr(el.Val, el.PathID)
	}
	return &pgast.RowExpr{Args: args}
}

// serializeShape builds the client form of an object from its shape
// elements.
func (c *Context) serializeShape(names []string, vals []pgast.Expr) pgast.Expr {
	if c.env.OutputFormat == FormatJSON {
		args := make([]pgast.Expr, 0, 2*len(names))
		for i, name := range names {
			args = append(args, &pgast.StringConstant{Val: name}, vals[i])
		}
		return &pgast.FuncCall{Name: "jsonb_build_object", Args: args}
	}
	return &pgast.RowExpr{Args: vals}
}

// outputAsValue turns a decomposed tuple into a single row value.
func outputAsValue(e pgast.Expr) pgast.Expr {
	tv, ok := e.(*pgast.TupleVar)
	if !ok {
		return e
	}
	args := make([]pgast.Expr, len(tv.Elements))
	for i, el := range tv.Elements {
		args[i] = outputAsValue(el.Val)
	}
	return &pgast.RowExpr{Args: args}
}

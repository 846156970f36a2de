// Package fixture loads compiler fixtures: a small schema plus one
// query over it, written in YAML, and builds the IR statement the
// compiler consumes.
//
// A fixture looks like this:
//
//	name: nested link
//	schema:
//	  types:
//	    - name: default::Foo
//	      pointers:
//	        - {name: name, target: std::str, required: true}
//	        - name: bar
//	          target: default::Bar
//	          multi: true
//	          properties:
//	            - {name: weight, target: std::int64}
//	    - name: default::Bar
//	query:
//	  subject: default::Foo
//	  shape:
//	    - name: bar
//	      shape: [{name: id}]
//	expect:
//	  ctes: 1
package fixture

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a decoded fixture file.
type File struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Schema      SchemaSpec `yaml:"schema"`
	Query       QuerySpec  `yaml:"query"`
	Expect      *Expect    `yaml:"expect"`

	// Path is the file the fixture was read from, if any.
	Path string `yaml:"-"`
}

// SchemaSpec describes the types a fixture queries.
type SchemaSpec struct {
	Scalars           []ScalarSpec  `yaml:"scalars"`
	Types             []TypeSpec    `yaml:"types"`
	Rewrites          []RewriteSpec `yaml:"rewrites"`
	MaterializedViews []ViewSpec    `yaml:"materialized_views"`
}

// ScalarSpec declares a non-std scalar type.
type ScalarSpec struct {
	Name   string `yaml:"name"`
	PGType string `yaml:"pg_type"`
}

// TypeSpec declares an object type.
type TypeSpec struct {
	Name     string   `yaml:"name"`
	Bases    []string `yaml:"bases"`
	Abstract bool     `yaml:"abstract"`

	// ViewOf makes the type a view over another stored type.
	ViewOf string `yaml:"view_of"`

	Table    string        `yaml:"table"`
	Pointers []PointerSpec `yaml:"pointers"`
}

// PointerSpec declares a property or link of a type.
type PointerSpec struct {
	Name       string        `yaml:"name"`
	Target     string        `yaml:"target"`
	Multi      bool          `yaml:"multi"`
	Required   bool          `yaml:"required"`
	Column     string        `yaml:"column"`
	Table      string        `yaml:"table"`
	Properties []PointerSpec `yaml:"properties"`
}

// RewriteSpec replaces every read of a type with a filtered read.
type RewriteSpec struct {
	Type   string     `yaml:"type"`
	Filter FilterSpec `yaml:"filter"`
	// Exact registers the rewrite for the type alone, not for reads
	// that include its descendants.
	Exact bool `yaml:"exact"`
}

// ViewSpec declares a type whose objects are carried packed.
type ViewSpec struct {
	Type  string   `yaml:"type"`
	Shape []string `yaml:"shape"`
}

// QuerySpec describes the statement of a fixture.
type QuerySpec struct {
	// Kind is select (the default), insert, update or delete.
	Kind    string `yaml:"kind"`
	Subject string `yaml:"subject"`

	// Path navigates from Subject before the shape applies; see
	// FilterSpec for the step syntax.
	Path string `yaml:"path"`

	// Exact excludes subtypes of Subject.
	Exact bool `yaml:"exact"`

	Shape       []ShapeSpec  `yaml:"shape"`
	Filter      *FilterSpec  `yaml:"filter"`
	Order       []OrderSpec  `yaml:"order"`
	Offset      *int64       `yaml:"offset"`
	Limit       *int64       `yaml:"limit"`
	Iterator    *QuerySpec   `yaml:"iterator"`
	Materialize bool         `yaml:"materialize"`
	Set         []AssignSpec `yaml:"set"`

	// Scoped binds the subject in a scope tree node of its own.
	Scoped bool `yaml:"scoped"`
}

// ShapeSpec is one shape element.
type ShapeSpec struct {
	Name     string      `yaml:"name"`
	Optional bool        `yaml:"optional"`
	Shape    []ShapeSpec `yaml:"shape"`
}

// UnmarshalYAML accepts a bare pointer name as shorthand for
// {name: <pointer>}.
func (s *ShapeSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Name = node.Value
		return nil
	}
	type plain ShapeSpec
	return node.Decode((*plain)(s))
}

// FilterSpec is a comparison of a path against a literal or another
// path.
//
// Paths are dot-separated pointer names. A trailing "?" marks an
// optional step and a leading "<" a backlink, as in "<owner.name?".
type FilterSpec struct {
	Path    string `yaml:"path"`
	Op      string `yaml:"op"`
	Value   string `yaml:"value"`
	ValueOf string `yaml:"value_of"`
}

// OrderSpec is one ORDER BY item.
type OrderSpec struct {
	Path       string `yaml:"path"`
	Desc       bool   `yaml:"desc"`
	NullsFirst bool   `yaml:"nulls_first"`
}

// AssignSpec is a `pointer := value` element of INSERT or UPDATE.
// Exactly one of Value and Select is set.
type AssignSpec struct {
	Name   string     `yaml:"name"`
	Value  string     `yaml:"value"`
	Select *QuerySpec `yaml:"select"`
}

// Expect lists properties of the compiled statement a fixture test
// checks. Zero values are not checked.
type Expect struct {
	CTEs      int            `yaml:"ctes"`
	Relations []string       `yaml:"relations"`
	Stats     map[string]int `yaml:"stats"`
	Error     string         `yaml:"error"`
}

// ParseError reports a fixture that could not be decoded.
type ParseError struct {
	File    string
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// Parse decodes a fixture. Unknown fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, &ParseError{Message: "empty fixture"}
		}
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and decodes the fixture at path. A fixture without a name
// is named after its file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.File = path
		}
		return nil, err
	}
	f.Path = path
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// Glob returns the fixture files in dir, sorted by name.
func Glob(dir string) ([]string, error) {
	var out []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	slices.Sort(out)
	return out, nil
}

var validKinds = map[string]bool{
	"":       true,
	"select": true,
	"insert": true,
	"update": true,
	"delete": true,
}

func (f *File) validate() error {
	if len(f.Schema.Types) == 0 {
		return &ParseError{Message: "schema declares no types"}
	}
	return f.Query.validate("query")
}

func (q *QuerySpec) validate(where string) error {
	if !validKinds[q.Kind] {
		return &ParseError{Message: fmt.Sprintf("%s: invalid kind %q, must be one of: select, insert, update, delete", where, q.Kind)}
	}
	if q.Subject == "" {
		return &ParseError{Message: where + ": subject is required"}
	}
	if len(q.Set) > 0 && q.Kind != "insert" && q.Kind != "update" {
		return &ParseError{Message: fmt.Sprintf("%s: set is only valid for insert and update", where)}
	}
	for _, a := range q.Set {
		if (a.Select == nil) == (a.Value == "") {
			return &ParseError{Message: fmt.Sprintf("%s: assignment %q needs exactly one of value and select", where, a.Name)}
		}
		if a.Select != nil {
			if err := a.Select.validate(where + "." + a.Name); err != nil {
				return err
			}
		}
	}
	if q.Iterator != nil {
		return q.Iterator.validate(where + ".iterator")
	}
	return nil
}

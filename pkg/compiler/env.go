package compiler

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

// OutputFormat selects how the top-level result is serialized.
type OutputFormat uint8

const (
	// FormatNative emits records.
	FormatNative OutputFormat = iota
	// FormatJSON emits jsonb values.
	FormatJSON
)

func (f OutputFormat) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "native"
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *OutputFormat) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "native", "":
		*f = FormatNative
	case "json":
		*f = FormatJSON
	default:
		return fmt.Errorf("unknown output format %q (expected native or json)", text)
	}
	return nil
}

type externalKey struct {
	path   string
	aspect pgast.Aspect
}

// Stats counts what a compile produced. It feeds the explain output.
type Stats struct {
	TypeRewriteCTEs     int
	TypeInheritanceCTEs int
	PtrInheritanceCTEs  int
	DMLCTEs             int
	OverlayStacks       int
	PlainJoins          int
	LateralUnionJoins   int
	SemiJoins           int
	Unpacks             int
}

// Environment is the state shared by every context of one compile.
// It is not safe for concurrent use; independent compiles each get
// their own Environment.
type Environment struct {
	Aliases      *pgast.AliasGenerator
	Catalog      Catalog
	Logger       *slog.Logger
	OutputFormat OutputFormat

	// Introspection inlines inheritance expansions and rewrites
	// instead of moving them into CTEs.
	Introspection bool

	// NeedsCTE reports whether references to a type must always go
	// through a materialized CTE.
	NeedsCTE func(t *ir.TypeRef) bool

	// TriggerMode compiles rewrites per DML source and bakes overlays
	// into rewrite CTEs.
	TriggerMode bool

	TypeRewrites      map[ir.RewriteKey]*ir.Set
	MaterializedViews map[uuid.UUID]*ir.MaterializedView
	ScopeTreeNodes    map[int]*ir.ScopeTreeNode

	externalRvars map[externalKey]pgast.PathRangeVar

	Stats Stats
}

// Option configures an Environment.
type Option func(*Environment)

// WithLogger sets the logger used for debug events.
func WithLogger(logger *slog.Logger) Option {
	return func(env *Environment) {
		if logger != nil {
			env.Logger = logger
		}
	}
}

// WithCatalog sets the storage catalog.
func WithCatalog(cat Catalog) Option {
	return func(env *Environment) {
		if cat != nil {
			env.Catalog = cat
		}
	}
}

// WithOutputFormat sets the result serialization format.
func WithOutputFormat(f OutputFormat) Option {
	return func(env *Environment) { env.OutputFormat = f }
}

// WithIntrospection toggles introspection mode.
func WithIntrospection(on bool) Option {
	return func(env *Environment) { env.Introspection = on }
}

// WithTriggerMode toggles trigger compilation.
func WithTriggerMode(on bool) Option {
	return func(env *Environment) { env.TriggerMode = on }
}

// WithNeedsCTE replaces the materialized CTE predicate.
func WithNeedsCTE(pred func(t *ir.TypeRef) bool) Option {
	return func(env *Environment) {
		if pred != nil {
			env.NeedsCTE = pred
		}
	}
}

// WithMaterializeModules forces types of the given modules through
// materialized CTEs.
func WithMaterializeModules(modules ...string) Option {
	return WithNeedsCTE(ModuleNeedsCTE(modules...))
}

// WithExternalRvar injects a range var that provides (pid, aspect)
// from an enclosing compile.
func WithExternalRvar(pid ir.PathID, aspect pgast.Aspect, rvar pgast.PathRangeVar) Option {
	return func(env *Environment) {
		env.externalRvars[externalKey{pid.Key(), aspect}] = rvar
	}
}

// DefaultMaterializeModules lists the modules whose types are read
// through materialized CTEs unless configured otherwise.
var DefaultMaterializeModules = []string{"sys"}

// ModuleNeedsCTE returns a predicate matching object types declared
// in one of modules.
func ModuleNeedsCTE(modules ...string) func(t *ir.TypeRef) bool {
	mods := slices.Clone(modules)
	return func(t *ir.TypeRef) bool {
		return t.IsObject() && slices.Contains(mods, t.Name.Module)
	}
}

// NewEnvironment returns an Environment with defaults applied, then
// opts.
func NewEnvironment(opts ...Option) *Environment {
	env := &Environment{
		Aliases:           pgast.NewAliasGenerator(),
		Catalog:           DefaultCatalog{},
		Logger:            slog.New(slog.DiscardHandler),
		NeedsCTE:          ModuleNeedsCTE(DefaultMaterializeModules...),
		TypeRewrites:      map[ir.RewriteKey]*ir.Set{},
		MaterializedViews: map[uuid.UUID]*ir.MaterializedView{},
		ScopeTreeNodes:    map[int]*ir.ScopeTreeNode{},
		externalRvars:     map[externalKey]pgast.PathRangeVar{},
	}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

func (env *Environment) externalRvar(pid ir.PathID, aspect pgast.Aspect) (pgast.PathRangeVar, bool) {
	rv, ok := env.externalRvars[externalKey{pid.Key(), aspect}]
	return rv, ok
}

func (env *Environment) isExternalRvar(rvar pgast.PathRangeVar) bool {
	for _, rv := range env.externalRvars {
		if rv == rvar {
			return true
		}
	}
	return false
}

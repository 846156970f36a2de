// Package ir defines the intermediate representation consumed by the
// relational compiler.
//
// This package contains:
//   - Schema references (TypeRef, PointerRef) resolved from a catalog
//   - Path identifiers (PathID), the structural names of sets
//   - Set and expression nodes produced by the query front end
//   - The scope tree (ScopeTreeNode) describing path visibility
//
// The Golden Rule: pkg/ir imports ONLY stdlib and google/uuid.
// Everything in here is immutable once built; the compiler never
// writes back into an IR tree.
package ir

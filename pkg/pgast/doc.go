// Package pgast defines the PostgreSQL-shaped AST produced by the
// relational compiler.
//
// Besides ordinary SQL structure (statements, range vars, expressions),
// every query node carries path bookkeeping: which IR path is bound to
// which expression, which range var provides a path, which paths it
// exports as output columns, and which paths are masked from ancestors.
// The compiler fills that bookkeeping in; pkg/pathctx reads and writes
// it one statement at a time.
//
// The Golden Rule: pkg/pgast imports only pkg/ir, x/text and stdlib.
package pgast

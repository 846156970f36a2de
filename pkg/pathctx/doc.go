// Package pathctx manipulates the path bookkeeping of a single SQL
// statement: which expression a (path, aspect) resolves to, which
// range var provides it, and which columns a relation exports for it.
//
// Nothing in here looks beyond the statement it is given; resolution
// through enclosing statements lives in pkg/compiler.
package pathctx

package ir

import (
	"strings"
)

// pathStep is one hop of a path: the root type, or a pointer traversal.
type pathStep struct {
	ptr    *PointerRef // nil for the root step
	dir    Direction
	target *TypeRef
}

func (s pathStep) key() string {
	if s.ptr == nil {
		return "T" + s.target.ID.String()
	}
	return s.dir.String() + s.ptr.ID.String() + ":" + s.target.ID.String()
}

// PathID names a set by the route taken to reach it: a root type followed
// by zero or more pointer steps, optionally inside a namespace.
//
// PathIDs are values. Derivation methods never modify the receiver, and
// two PathIDs are equal exactly when their Key values are equal.
type PathID struct {
	steps     []pathStep
	namespace string
	isPtr     bool
	key       string
}

// NewPathID returns the path of a root set of type t.
func NewPathID(t *TypeRef, namespace ...string) PathID {
	return newPathID([]pathStep{{target: t}}, strings.Join(namespace, "."), false)
}

// PathIDFromPtrRef returns the path of ptr traversed from a root set
// of its source type.
func PathIDFromPtrRef(ptr *PointerRef, namespace ...string) PathID {
	src := NewPathID(ptr.OutSource, namespace...)
	return src.Extend(ptr, Outbound, ptr.OutTarget)
}

func newPathID(steps []pathStep, ns string, isPtr bool) PathID {
	var b strings.Builder
	b.WriteString(ns)
	b.WriteString("|")
	for i, s := range steps {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.key())
	}
	if isPtr {
		b.WriteString("@")
	}
	return PathID{steps: steps, namespace: ns, isPtr: isPtr, key: b.String()}
}

// IsZero reports whether p is the zero PathID.
func (p PathID) IsZero() bool { return len(p.steps) == 0 }

// Key returns the canonical encoding used for equality and map keys.
func (p PathID) Key() string { return p.key }

// Equal reports structural equality.
func (p PathID) Equal(other PathID) bool { return p.key == other.key }

// Namespace returns the namespace the path lives in.
func (p PathID) Namespace() string { return p.namespace }

// Len returns the number of steps, counting the root.
func (p PathID) Len() int { return len(p.steps) }

// Target returns the type of the set the path designates.
func (p PathID) Target() *TypeRef {
	if p.IsZero() {
		return nil
	}
	return p.steps[len(p.steps)-1].target
}

// RPtr returns the last pointer traversed, or nil for a root path.
func (p PathID) RPtr() *PointerRef {
	if p.IsZero() {
		return nil
	}
	return p.steps[len(p.steps)-1].ptr
}

// RPtrDir returns the direction of the last pointer step.
func (p PathID) RPtrDir() Direction {
	if p.IsZero() {
		return Outbound
	}
	return p.steps[len(p.steps)-1].dir
}

// RPtrName returns the short name of the last pointer, or "".
func (p PathID) RPtrName() string {
	if ptr := p.RPtr(); ptr != nil {
		return ptr.ShortName
	}
	return ""
}

// IsPtrPath reports whether p designates a pointer rather than its target.
func (p PathID) IsPtrPath() bool { return p.isPtr }

// IsObjTypePath reports whether p designates a set of objects.
func (p PathID) IsObjTypePath() bool { return !p.isPtr && p.Target().IsObject() }

// IsTuplePath reports whether p designates a set of tuples.
func (p PathID) IsTuplePath() bool { return !p.isPtr && p.Target().IsTuple() }

// IsArrayPath reports whether p designates a set of arrays.
func (p PathID) IsArrayPath() bool { return !p.isPtr && p.Target().IsArray() }

// IsLinkPropPath reports whether the last step reads a link property.
func (p PathID) IsLinkPropPath() bool {
	ptr := p.RPtr()
	return ptr != nil && ptr.IsLinkProperty
}

// Extend returns p followed by ptr traversed in dir, landing on target.
// A nil target defaults to the pointer's far end.
func (p PathID) Extend(ptr *PointerRef, dir Direction, target *TypeRef) PathID {
	if target == nil {
		if dir == Inbound {
			target = ptr.OutSource
		} else {
			target = ptr.OutTarget
		}
	}
	steps := make([]pathStep, len(p.steps), len(p.steps)+1)
	copy(steps, p.steps)
	steps = append(steps, pathStep{ptr: ptr, dir: dir, target: target})
	return newPathID(steps, p.namespace, false)
}

// SrcPath returns the path of the source of the last pointer step.
// Stepping back over a link property lands on the link's pointer path.
func (p PathID) SrcPath() (PathID, bool) {
	if len(p.steps) < 2 {
		return PathID{}, false
	}
	last := p.steps[len(p.steps)-1]
	steps := make([]pathStep, len(p.steps)-1)
	copy(steps, p.steps)
	return newPathID(steps, p.namespace, last.ptr.IsLinkProperty), true
}

// PtrPath returns the path designating the last pointer itself.
func (p PathID) PtrPath() PathID {
	if p.isPtr {
		return p
	}
	return newPathID(p.steps, p.namespace, true)
}

// TgtPath returns the path designating the target of a pointer path.
func (p PathID) TgtPath() PathID {
	if !p.isPtr {
		return p
	}
	return newPathID(p.steps, p.namespace, false)
}

// ReplaceNamespace returns p moved into namespace ns.
func (p PathID) ReplaceNamespace(ns string) PathID {
	return newPathID(p.steps, ns, p.isPtr)
}

// StartsWith reports whether prefix is a (non-strict) prefix of p.
func (p PathID) StartsWith(prefix PathID) bool {
	if prefix.IsZero() || prefix.namespace != p.namespace || len(prefix.steps) > len(p.steps) {
		return false
	}
	for i, s := range prefix.steps {
		if s.key() != p.steps[i].key() {
			return false
		}
	}
	if prefix.isPtr && len(prefix.steps) == len(p.steps) {
		return p.isPtr
	}
	return true
}

// ReplacePrefix substitutes replacement for prefix at the start of p.
// If prefix does not start p, p is returned unchanged.
func (p PathID) ReplacePrefix(prefix, replacement PathID) PathID {
	if !p.StartsWith(prefix) {
		return p
	}
	if len(prefix.steps) == len(p.steps) {
		if p.isPtr == prefix.isPtr {
			return replacement
		}
		return newPathID(replacement.steps, replacement.namespace, p.isPtr)
	}
	steps := make([]pathStep, 0, len(replacement.steps)+len(p.steps)-len(prefix.steps))
	steps = append(steps, replacement.steps...)
	steps = append(steps, p.steps[len(prefix.steps):]...)
	return newPathID(steps, replacement.namespace, p.isPtr)
}

// String renders p for diagnostics, e.g. (default::User).>friends.
func (p PathID) String() string {
	if p.IsZero() {
		return "<empty path>"
	}
	var b strings.Builder
	if p.namespace != "" {
		b.WriteString(p.namespace)
		b.WriteString("@@")
	}
	b.WriteString("(")
	b.WriteString(p.steps[0].target.String())
	b.WriteString(")")
	for _, s := range p.steps[1:] {
		b.WriteString(".")
		b.WriteString(s.dir.String())
		b.WriteString(s.ptr.String())
		if s.ptr.Kind == PtrTypeIntersection {
			b.WriteString("[IS ")
			b.WriteString(s.target.String())
			b.WriteString("]")
		}
	}
	if p.isPtr {
		b.WriteString("@")
	}
	return b.String()
}

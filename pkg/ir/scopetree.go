package ir

// ScopeTreeNode is a node of the scope tree. Path nodes bind a PathID;
// branch and fence nodes (zero PathID) group children.
type ScopeTreeNode struct {
	ID       int
	PathID   PathID
	Optional bool
	// Fenced nodes stop optionality from propagating upward.
	Fenced bool

	Parent   *ScopeTreeNode
	Children []*ScopeTreeNode
}

// NewScopeTree returns a fenced root node with ID 1.
func NewScopeTree() *ScopeTreeNode {
	return &ScopeTreeNode{ID: 1, Fenced: true}
}

// Attach adds child under n.
func (n *ScopeTreeNode) Attach(child *ScopeTreeNode) *ScopeTreeNode {
	child.Parent = n
	n.Children = append(n.Children, child)
	return child
}

// AttachPath adds a path node for pid under n.
func (n *ScopeTreeNode) AttachPath(id int, pid PathID, optional bool) *ScopeTreeNode {
	return n.Attach(&ScopeTreeNode{ID: id, PathID: pid, Optional: optional})
}

// AttachFence adds a fence node under n.
func (n *ScopeTreeNode) AttachFence(id int) *ScopeTreeNode {
	return n.Attach(&ScopeTreeNode{ID: id, Fenced: true})
}

// PathChildren returns the direct children of n that bind a path.
func (n *ScopeTreeNode) PathChildren() []*ScopeTreeNode {
	var out []*ScopeTreeNode
	for _, c := range n.Children {
		if !c.PathID.IsZero() {
			out = append(out, c)
		}
	}
	return out
}

// Ancestors returns n and its ancestors, nearest first.
func (n *ScopeTreeNode) Ancestors() []*ScopeTreeNode {
	var out []*ScopeTreeNode
	for cur := n; cur != nil; cur = cur.Parent {
		out = append(out, cur)
	}
	return out
}

// Descendants returns every node below n in depth-first order.
func (n *ScopeTreeNode) Descendants() []*ScopeTreeNode {
	var out []*ScopeTreeNode
	var walk func(*ScopeTreeNode)
	walk = func(node *ScopeTreeNode) {
		for _, c := range node.Children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(n)
	return out
}

// AllPaths returns every path bound at or below n.
func (n *ScopeTreeNode) AllPaths() []PathID {
	var out []PathID
	seen := map[string]bool{}
	add := func(node *ScopeTreeNode) {
		if node.PathID.IsZero() || seen[node.PathID.Key()] {
			return
		}
		seen[node.PathID.Key()] = true
		out = append(out, node.PathID)
	}
	add(n)
	for _, d := range n.Descendants() {
		add(d)
	}
	return out
}

// FindChild returns the direct path child binding pid.
func (n *ScopeTreeNode) FindChild(pid PathID) *ScopeTreeNode {
	for _, c := range n.PathChildren() {
		if c.PathID.Equal(pid) {
			return c
		}
	}
	return nil
}

// FindDescendant returns the first node at or below n binding pid.
func (n *ScopeTreeNode) FindDescendant(pid PathID) *ScopeTreeNode {
	if n.PathID.Equal(pid) {
		return n
	}
	for _, d := range n.Descendants() {
		if d.PathID.Equal(pid) {
			return d
		}
	}
	return nil
}

// FindVisible returns the node binding pid as seen from n: n's own
// subtree first, then the path children of each ancestor.
func (n *ScopeTreeNode) FindVisible(pid PathID) *ScopeTreeNode {
	if found := n.FindDescendant(pid); found != nil {
		return found
	}
	for _, anc := range n.Ancestors()[1:] {
		if anc.PathID.Equal(pid) {
			return anc
		}
		if c := anc.FindChild(pid); c != nil {
			return c
		}
	}
	return nil
}

// IsOptional reports whether pid, as seen from n, is bound under an
// optional node without an intervening fence.
func (n *ScopeTreeNode) IsOptional(pid PathID) bool {
	node := n.FindVisible(pid)
	if node == nil {
		return false
	}
	for cur := node; cur != nil; cur = cur.Parent {
		if cur.Optional {
			return true
		}
		if cur.Fenced {
			return false
		}
	}
	return false
}

// Index returns every node of the tree rooted at n keyed by ID.
func (n *ScopeTreeNode) Index() map[int]*ScopeTreeNode {
	idx := map[int]*ScopeTreeNode{n.ID: n}
	for _, d := range n.Descendants() {
		idx[d.ID] = d
	}
	return idx
}

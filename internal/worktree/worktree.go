// Package worktree stores the shadow tree a render pass builds before it
// commits. Nodes live in an arena addressed by integer IDs, with parent,
// child and sibling relations held as indices rather than pointers, so an
// abandoned pass is discarded by resetting the arena instead of unpicking a
// linked structure.
package worktree

import "github.com/me/reflow/pkg/model"

// NodeID addresses a node within one Tree. IDs are only meaningful for the
// arena that allocated them and are invalidated by Reset.
type NodeID int32

// None is the null node reference.
const None NodeID = -1

// Node is one unit of work in the shadow tree.
type Node struct {
	Kind model.Kind
	Key  string

	// Path is the position of the source element in the walked tree, used
	// for boundary identity and error attribution ("0", "0.2.1", ...).
	Path string

	// Text is the produced content of a text, resource or expression leaf.
	Text string

	// Resource is the cache key a resource leaf read, kept for diagnostics.
	Resource string

	State model.WorkState

	Parent      NodeID
	FirstChild  NodeID
	LastChild   NodeID
	NextSibling NodeID
}

// Tree is a node arena for one render pass. Not goroutine-safe.
type Tree struct {
	nodes []Node
	root  NodeID
}

// New returns an empty arena.
func New() *Tree {
	return &Tree{root: None}
}

// Alloc places n in the arena and returns its ID. Link fields are
// initialized to None regardless of what n carries.
func (t *Tree) Alloc(n Node) NodeID {
	n.Parent = None
	n.FirstChild = None
	n.LastChild = None
	n.NextSibling = None
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

// Node returns the addressed node for reading or mutation. The pointer is
// invalidated by the next Alloc.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// SetRoot marks id as the root of the pass.
func (t *Tree) SetRoot(id NodeID) {
	t.root = id
}

// Root returns the root node ID, or None for an empty arena.
func (t *Tree) Root() NodeID {
	return t.root
}

// AppendChild links child as the last child of parent.
func (t *Tree) AppendChild(parent, child NodeID) {
	c := &t.nodes[child]
	c.Parent = parent
	p := &t.nodes[parent]
	if p.FirstChild == None {
		p.FirstChild = child
	} else {
		t.nodes[p.LastChild].NextSibling = child
	}
	p.LastChild = child
}

// Children collects the child IDs of id in order.
func (t *Tree) Children(id NodeID) []NodeID {
	var kids []NodeID
	for c := t.nodes[id].FirstChild; c != None; c = t.nodes[c].NextSibling {
		kids = append(kids, c)
	}
	return kids
}

// Len returns the number of allocated nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Reset abandons the pass: every allocated node is dropped and the backing
// storage is kept for reuse.
func (t *Tree) Reset() {
	t.nodes = t.nodes[:0]
	t.root = None
}

// Visible flattens the arena into the committed output shape: a synthetic
// root container whose descendants are the visible nodes. Text, resource and
// expression leaves appear with their produced text; groups keep their
// children; boundaries and components are transparent and contribute their
// children in place.
func (t *Tree) Visible() *model.RenderedNode {
	root := &model.RenderedNode{Kind: model.KindGroup, Path: ""}
	if t.root != None {
		t.flatten(t.root, root)
	}
	model.RenumberPaths(root)
	return root
}

func (t *Tree) flatten(id NodeID, parent *model.RenderedNode) {
	n := &t.nodes[id]
	switch n.Kind {
	case model.KindText, model.KindResource, model.KindExpr:
		// Resource and expression leaves are text by the time they commit;
		// what produced the text is a render-pass concern, not an output one.
		parent.Children = append(parent.Children, &model.RenderedNode{
			Kind: model.KindText,
			Key:  n.Key,
			Text: n.Text,
		})
	case model.KindGroup:
		g := &model.RenderedNode{Kind: n.Kind, Key: n.Key}
		parent.Children = append(parent.Children, g)
		for c := n.FirstChild; c != None; c = t.nodes[c].NextSibling {
			t.flatten(c, g)
		}
	default:
		// Boundary and component nodes are structural only; splice their
		// children into the enclosing visible node.
		for c := n.FirstChild; c != None; c = t.nodes[c].NextSibling {
			t.flatten(c, parent)
		}
	}
}

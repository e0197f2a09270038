package model

import "strconv"

// RenderedNode is one node of a committed output tree: the flattened, visible
// result of a render pass. Resource and expression leaves appear as text
// nodes; boundaries and components are transparent and contribute only their
// (possibly fallback) children.
type RenderedNode struct {
	Kind     Kind            `json:"kind"`
	Key      string          `json:"key,omitempty"`
	Path     string          `json:"path"`
	Text     string          `json:"text,omitempty"`
	Children []*RenderedNode `json:"children,omitempty"`
}

// Clone returns a deep copy of the node and its children.
func (n *RenderedNode) Clone() *RenderedNode {
	if n == nil {
		return nil
	}
	c := &RenderedNode{Kind: n.Kind, Key: n.Key, Path: n.Path, Text: n.Text}
	if len(n.Children) > 0 {
		c.Children = make([]*RenderedNode, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// RenumberPaths rewrites the positional paths of the whole tree: a child's
// path is its parent's path plus its index, with the root keeping its own
// (normally empty) path. Callers use it after structural edits so paths
// reflect final positions.
func RenumberPaths(root *RenderedNode) {
	if root == nil {
		return
	}
	for i, c := range root.Children {
		if root.Path == "" {
			c.Path = strconv.Itoa(i)
		} else {
			c.Path = root.Path + "." + strconv.Itoa(i)
		}
		RenumberPaths(c)
	}
}

// MutationOp identifies one kind of output change produced by a commit.
type MutationOp string

const (
	// OpInsert adds a new subtree under Parent at Index.
	OpInsert MutationOp = "INSERT"

	// OpRemove deletes the subtree under Parent at Index.
	OpRemove MutationOp = "REMOVE"

	// OpReplace swaps the subtree under Parent at Index for Node.
	OpReplace MutationOp = "REPLACE"

	// OpSetText updates the text of the existing leaf under Parent at Index.
	OpSetText MutationOp = "SET_TEXT"
)

// Mutation is one host-facing output change. Parent is the path of the node
// whose child list changes ("" for the root); Index addresses the child slot
// after all earlier mutations in the same frame have been applied, so hosts
// must apply a frame's mutations in order.
type Mutation struct {
	Op     MutationOp    `json:"op"`
	Parent string        `json:"parent"`
	Index  int           `json:"index"`
	Node   *RenderedNode `json:"node,omitempty"`
	Text   string        `json:"text,omitempty"`
}

// Frame is one atomic commit: the mutation list that transforms the previous
// committed tree into Tree. Hosts observe frames, never partial states.
type Frame struct {
	// Seq numbers commits from 1 in commit order.
	Seq int64 `json:"seq"`

	// TimeMS is the virtual clock reading at commit time, in milliseconds.
	TimeMS int64 `json:"time_ms"`

	// UpdateID identifies the update whose work this frame committed.
	UpdateID string `json:"update_id"`

	Mutations []Mutation    `json:"mutations"`
	Tree      *RenderedNode `json:"tree"`
}

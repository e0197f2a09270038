package commit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/me/reflow/pkg/model"
)

// Apply plays a mutation script against tree and returns the resulting tree
// with paths renumbered. The input is not modified; inserted subtrees are
// copied out of the script. Hosts use this to maintain their view of the
// committed surface.
func Apply(tree *model.RenderedNode, muts []model.Mutation) (*model.RenderedNode, error) {
	if tree == nil {
		tree = EmptyTree()
	}
	out := tree.Clone()
	for i, m := range muts {
		parent, err := nodeAt(out, m.Parent)
		if err != nil {
			return nil, fmt.Errorf("mutation %d (%s): %w", i, m.Op, err)
		}
		if err := applyOne(parent, m); err != nil {
			return nil, fmt.Errorf("mutation %d (%s at %q[%d]): %w", i, m.Op, m.Parent, m.Index, err)
		}
	}
	model.RenumberPaths(out)
	return out, nil
}

func applyOne(parent *model.RenderedNode, m model.Mutation) error {
	n := len(parent.Children)
	switch m.Op {
	case model.OpInsert:
		if m.Index < 0 || m.Index > n {
			return fmt.Errorf("index out of range (have %d children)", n)
		}
		if m.Node == nil {
			return fmt.Errorf("missing node payload")
		}
		kids := append(parent.Children[:m.Index:m.Index], m.Node.Clone())
		parent.Children = append(kids, parent.Children[m.Index:]...)
	case model.OpRemove:
		if m.Index < 0 || m.Index >= n {
			return fmt.Errorf("index out of range (have %d children)", n)
		}
		parent.Children = append(parent.Children[:m.Index], parent.Children[m.Index+1:]...)
		// An emptied child list becomes nil so round-trips through Diff
		// compare equal to trees that never had children.
		if len(parent.Children) == 0 {
			parent.Children = nil
		}
	case model.OpReplace:
		if m.Index < 0 || m.Index >= n {
			return fmt.Errorf("index out of range (have %d children)", n)
		}
		if m.Node == nil {
			return fmt.Errorf("missing node payload")
		}
		parent.Children[m.Index] = m.Node.Clone()
	case model.OpSetText:
		if m.Index < 0 || m.Index >= n {
			return fmt.Errorf("index out of range (have %d children)", n)
		}
		parent.Children[m.Index].Text = m.Text
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
	return nil
}

// nodeAt resolves an index path ("" is the root, "0.2" the third child of
// the first child) against the tree as it stands mid-application.
func nodeAt(root *model.RenderedNode, path string) (*model.RenderedNode, error) {
	if path == "" {
		return root, nil
	}
	n := root
	for _, seg := range strings.Split(path, ".") {
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(n.Children) {
			return nil, fmt.Errorf("no node at path %q", path)
		}
		n = n.Children[i]
	}
	return n, nil
}

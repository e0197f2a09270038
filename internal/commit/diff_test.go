package commit

import (
	"reflect"
	"testing"

	"github.com/me/reflow/pkg/model"
)

func text(txt string) *model.RenderedNode {
	return &model.RenderedNode{Kind: model.KindText, Text: txt}
}

func keyedText(key, txt string) *model.RenderedNode {
	return &model.RenderedNode{Kind: model.KindText, Key: key, Text: txt}
}

func group(kids ...*model.RenderedNode) *model.RenderedNode {
	return &model.RenderedNode{Kind: model.KindGroup, Children: kids}
}

// surface builds a synthetic-root tree with renumbered paths, the shape
// commits produce.
func surface(kids ...*model.RenderedNode) *model.RenderedNode {
	root := &model.RenderedNode{Kind: model.KindGroup, Path: "", Children: kids}
	model.RenumberPaths(root)
	return root
}

func ops(muts []model.Mutation) []model.MutationOp {
	out := make([]model.MutationOp, len(muts))
	for i, m := range muts {
		out[i] = m.Op
	}
	return out
}

func TestDiff_FirstCommitInsertsEverything(t *testing.T) {
	next := surface(group(text("a"), text("b")))

	muts := Diff(nil, next)
	if len(muts) != 1 {
		t.Fatalf("got %d mutations, want 1 (a single subtree insert): %+v", len(muts), muts)
	}
	m := muts[0]
	if m.Op != model.OpInsert || m.Parent != "" || m.Index != 0 {
		t.Errorf("mutation = %+v, want INSERT at root slot 0", m)
	}
	if m.Node == nil || len(m.Node.Children) != 2 {
		t.Errorf("inserted node = %+v, want the whole group subtree", m.Node)
	}
}

func TestDiff_TextChangeBecomesSetText(t *testing.T) {
	old := surface(group(text("a"), text("b")))
	next := surface(group(text("a"), text("c")))

	muts := Diff(old, next)
	if len(muts) != 1 {
		t.Fatalf("got %d mutations, want 1: %+v", len(muts), muts)
	}
	m := muts[0]
	if m.Op != model.OpSetText || m.Parent != "0" || m.Index != 1 || m.Text != "c" {
		t.Errorf("mutation = %+v, want SET_TEXT c at parent 0 slot 1", m)
	}
}

func TestDiff_KindChangeBecomesReplace(t *testing.T) {
	old := surface(text("a"))
	next := surface(group(text("a")))

	muts := Diff(old, next)
	if len(muts) != 1 || muts[0].Op != model.OpReplace {
		t.Fatalf("got %v, want a single REPLACE", ops(muts))
	}
	if muts[0].Parent != "" || muts[0].Index != 0 {
		t.Errorf("mutation = %+v, want REPLACE at root slot 0", muts[0])
	}
}

func TestDiff_KeyedRemovalInMiddle(t *testing.T) {
	old := surface(keyedText("a", "1"), keyedText("b", "2"), keyedText("c", "3"))
	next := surface(keyedText("a", "1"), keyedText("c", "3"))

	muts := Diff(old, next)
	if len(muts) != 1 {
		t.Fatalf("got %d mutations, want 1: %+v", len(muts), muts)
	}
	if muts[0].Op != model.OpRemove || muts[0].Parent != "" || muts[0].Index != 1 {
		t.Errorf("mutation = %+v, want REMOVE at root slot 1", muts[0])
	}
}

func TestDiff_KeyedInsertionInMiddle(t *testing.T) {
	old := surface(keyedText("a", "1"), keyedText("c", "3"))
	next := surface(keyedText("a", "1"), keyedText("b", "2"), keyedText("c", "3"))

	muts := Diff(old, next)
	if len(muts) != 1 {
		t.Fatalf("got %d mutations, want 1: %+v", len(muts), muts)
	}
	if muts[0].Op != model.OpInsert || muts[0].Index != 1 {
		t.Errorf("mutation = %+v, want INSERT at slot 1", muts[0])
	}
	if muts[0].Node == nil || muts[0].Node.Key != "b" {
		t.Errorf("inserted node = %+v, want key b", muts[0].Node)
	}
}

func TestDiff_TrailingChildrenRemoved(t *testing.T) {
	old := surface(text("a"), text("b"), text("c"))
	next := surface(text("a"))

	muts := Diff(old, next)
	want := []model.MutationOp{model.OpRemove, model.OpRemove}
	if !reflect.DeepEqual(ops(muts), want) {
		t.Fatalf("ops = %v, want %v", ops(muts), want)
	}
	// Both removals address slot 1: the second applies after the first
	// shifted the last child down.
	for i, m := range muts {
		if m.Index != 1 {
			t.Errorf("removal %d index = %d, want 1", i, m.Index)
		}
	}
}

func TestDiff_FallbackSwapReplacesSubtree(t *testing.T) {
	// A resource leaf resolving out of its fallback: the committed text
	// leaf is replaced by the resource leaf, not retexted, because the
	// kinds differ.
	old := surface(group(text("loading...")))
	next := surface(group(&model.RenderedNode{Kind: model.KindResource, Text: "Ada"}))

	muts := Diff(old, next)
	if len(muts) != 1 || muts[0].Op != model.OpReplace {
		t.Fatalf("got %v, want a single REPLACE", ops(muts))
	}
	if muts[0].Parent != "0" || muts[0].Index != 0 {
		t.Errorf("mutation = %+v, want REPLACE at parent 0 slot 0", muts[0])
	}
}

func TestDiff_IdenticalTreesNoMutations(t *testing.T) {
	old := surface(group(text("a"), text("b")), text("tail"))
	next := surface(group(text("a"), text("b")), text("tail"))

	if muts := Diff(old, next); len(muts) != 0 {
		t.Errorf("got %d mutations for identical trees, want 0: %+v", len(muts), muts)
	}
}

// TestDiff_ApplyReproducesTarget drives Diff and Apply against each other
// across the structural cases: whatever Diff emits, Apply must rebuild the
// target tree exactly.
func TestDiff_ApplyReproducesTarget(t *testing.T) {
	cases := []struct {
		name string
		old  *model.RenderedNode
		next *model.RenderedNode
	}{
		{"empty to tree", surface(), surface(group(text("a"), text("b")))},
		{"tree to empty", surface(group(text("a"))), surface()},
		{"text edit", surface(text("a")), surface(text("b"))},
		{"kind flip", surface(text("a")), surface(group(text("a")))},
		{"keyed swap", surface(keyedText("a", "1"), keyedText("b", "2")), surface(keyedText("b", "2"), keyedText("a", "1"))},
		{"keyed shuffle with edit",
			surface(keyedText("a", "1"), keyedText("b", "2"), keyedText("c", "3")),
			surface(keyedText("c", "30"), keyedText("a", "1"))},
		{"grow tail", surface(text("a")), surface(text("a"), text("b"), text("c"))},
		{"nested churn",
			surface(group(text("a"), group(text("x"))), text("tail")),
			surface(group(group(text("y"), text("z")), text("a2")), text("tail"))},
		{"unkeyed kind mismatch run",
			surface(text("a"), group(text("b")), text("c")),
			surface(group(text("b2")), text("c"), text("d"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			muts := Diff(tc.old, tc.next)
			got, err := Apply(tc.old, muts)
			if err != nil {
				t.Fatalf("Apply: %v (script %+v)", err, muts)
			}
			if !reflect.DeepEqual(got, tc.next) {
				t.Errorf("Apply(old, Diff(old, next)) != next\n got: %+v\nwant: %+v\nscript: %+v", got, tc.next, muts)
			}
		})
	}
}

// Removing a parent's last child must leave it indistinguishable from a
// node that never had children, or round-tripped trees stop comparing equal.
func TestApply_RemoveLastChildNilsList(t *testing.T) {
	old := surface(group(text("inner")), text("tail"))
	got, err := Apply(old, []model.Mutation{{Op: model.OpRemove, Parent: "0", Index: 0}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Children[0].Children != nil {
		t.Errorf("emptied group children = %+v, want nil", got.Children[0].Children)
	}
}

func TestApply_RejectsOutOfRangeIndex(t *testing.T) {
	old := surface(text("a"))
	_, err := Apply(old, []model.Mutation{{Op: model.OpRemove, Parent: "", Index: 3}})
	if err == nil {
		t.Fatalf("Apply accepted an out-of-range removal")
	}
}

func TestApply_RejectsUnknownParentPath(t *testing.T) {
	old := surface(text("a"))
	_, err := Apply(old, []model.Mutation{{Op: model.OpSetText, Parent: "5.2", Index: 0, Text: "x"}})
	if err == nil {
		t.Fatalf("Apply accepted a mutation addressed to a missing parent")
	}
}

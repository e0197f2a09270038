// Package commit turns two committed trees into the mutation script that
// transforms one into the other, and applies such scripts. Diff and Apply
// are inverses: Apply(old, Diff(old, new)) reproduces new.
//
// Scripts address nodes positionally. A mutation's Parent is the index path
// of the parent node ("" for the synthetic root) and Index is the child slot
// at the moment the mutation applies, so hosts apply a frame's mutations
// strictly in order.
package commit

import (
	"strconv"

	"github.com/me/reflow/pkg/model"
)

// EmptyTree returns the synthetic root of a surface with nothing committed.
func EmptyTree() *model.RenderedNode {
	return &model.RenderedNode{Kind: model.KindGroup, Path: ""}
}

// Diff computes the mutations that transform old into next. Children match
// by key when they carry one and by position otherwise; a matched pair of
// the same kind is updated in place (text edits become SET_TEXT, containers
// recurse), anything else is replaced, inserted or removed. Matches that
// would reorder are not moved; the node is rebuilt at its new position.
func Diff(old, next *model.RenderedNode) []model.Mutation {
	if old == nil {
		old = EmptyTree()
	}
	if next == nil {
		next = EmptyTree()
	}
	d := &differ{}
	d.reconcile("", old.Children, next.Children)
	return d.muts
}

type differ struct {
	muts []model.Mutation
}

func (d *differ) emit(m model.Mutation) {
	d.muts = append(d.muts, m)
}

// reconcile rewrites one child list, emitting mutations addressed to
// parentPath, then recurses into matched pairs.
func (d *differ) reconcile(parentPath string, oldKids, newKids []*model.RenderedNode) {
	matches := matchChildren(oldKids, newKids)

	kept := make([]bool, len(oldKids))
	for _, oi := range matches {
		if oi >= 0 {
			kept[oi] = true
		}
	}

	// host simulates the child list as mutations apply: values are indices
	// into oldKids, or -1 for an already-final inserted node.
	host := make([]int, len(oldKids))
	for i := range host {
		host[i] = i
	}

	for j, nk := range newKids {
		oi := matches[j]
		if oi >= 0 {
			// Unkept old nodes sitting in this slot go first; the match is
			// the next kept node, so this loop always terminates on it.
			for host[j] != oi {
				d.emit(model.Mutation{Op: model.OpRemove, Parent: parentPath, Index: j})
				host = append(host[:j], host[j+1:]...)
			}
			d.update(parentPath, j, oldKids[oi], nk)
			continue
		}
		if j < len(host) && host[j] >= 0 && !kept[host[j]] {
			d.emit(model.Mutation{Op: model.OpReplace, Parent: parentPath, Index: j, Node: nk})
			host[j] = -1
			continue
		}
		d.emit(model.Mutation{Op: model.OpInsert, Parent: parentPath, Index: j, Node: nk})
		host = append(host[:j], append([]int{-1}, host[j:]...)...)
	}

	for len(host) > len(newKids) {
		d.emit(model.Mutation{Op: model.OpRemove, Parent: parentPath, Index: len(newKids)})
		host = append(host[:len(newKids)], host[len(newKids)+1:]...)
	}
}

// update reconciles a matched pair occupying slot j under parentPath. The
// pair has equal kind and key by construction.
func (d *differ) update(parentPath string, j int, old, next *model.RenderedNode) {
	switch next.Kind {
	case model.KindText, model.KindResource, model.KindExpr:
		if old.Text != next.Text {
			d.emit(model.Mutation{Op: model.OpSetText, Parent: parentPath, Index: j, Text: next.Text})
		}
	default:
		d.reconcile(childPath(parentPath, j), old.Children, next.Children)
	}
}

// matchChildren pairs new children with old ones: keyed children match the
// old child with the same key and kind; unkeyed children pair positionally
// with old unkeyed children of the same kind. Matches that would move a node
// backward are dropped so the surviving set is in order on both sides.
func matchChildren(oldKids, newKids []*model.RenderedNode) []int {
	oldByKey := make(map[string]int)
	var oldUnkeyed []int
	for i, k := range oldKids {
		if k.Key != "" {
			oldByKey[k.Key] = i
		} else {
			oldUnkeyed = append(oldUnkeyed, i)
		}
	}

	matches := make([]int, len(newKids))
	ui := 0
	for j, nk := range newKids {
		matches[j] = -1
		if nk.Key != "" {
			if oi, ok := oldByKey[nk.Key]; ok && oldKids[oi].Kind == nk.Kind {
				matches[j] = oi
			}
			continue
		}
		if ui < len(oldUnkeyed) {
			oi := oldUnkeyed[ui]
			ui++
			if oldKids[oi].Kind == nk.Kind {
				matches[j] = oi
			}
		}
	}

	last := -1
	for j, oi := range matches {
		if oi < 0 {
			continue
		}
		if oi <= last {
			matches[j] = -1
			continue
		}
		last = oi
	}
	return matches
}

func childPath(parentPath string, j int) string {
	if parentPath == "" {
		return strconv.Itoa(j)
	}
	return parentPath + "." + strconv.Itoa(j)
}

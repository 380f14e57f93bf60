// Package tree implements the execution tree: leaves are live frontier
// sets keyed by (active_thread, pc); a heuristic picks one leaf per
// outer iteration, the driver expands it, and the leaf is replaced by a
// node whose children are the resulting leaves. Parent links are plain
// back-pointers: the tree owns its children, and the garbage collector
// handles the cycle.
package tree

import (
	"sort"

	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/symstate"
)

// Key identifies a frontier: the thread whose pc is about to execute,
// plus that pc.
type Key struct {
	ActiveThread symstate.TID
	PC           cfg.PC
}

// Leaf is a live, not-yet-expanded frontier: the set of states sharing
// Key, waiting for a heuristic to pick them and feed them to the driver.
type Leaf struct {
	Key    Key
	States []symstate.State
	seq    uint64 // creation order, for DFS's "most recently created"
}

// Tree is one node of the execution tree. A Tree is either a leaf (Leaf
// != nil, Children == nil) or an expanded node (Leaf == nil, Children
// holds the new leaves/subtrees the last expansion produced).
type Tree struct {
	parent   *Tree
	leaf     *Leaf
	Children []*Tree
}

// Counter hands out the monotonic creation sequence Leaf.seq uses for
// DFS's recency ordering — mirrors symstate.IdCounter's single-threaded,
// non-goroutine-safe design (the search driver is cooperative).
type Counter struct{ next uint64 }

func (c *Counter) allocate() uint64 {
	v := c.next
	c.next++
	return v
}

// NewRoot creates a fresh, unexpanded root holding states at key.
func NewRoot(seq *Counter, key Key, states []symstate.State) *Tree {
	return &Tree{leaf: &Leaf{Key: key, States: states, seq: seq.allocate()}}
}

// IsLeaf reports whether t is still an unexpanded frontier.
func (t *Tree) IsLeaf() bool { return t.leaf != nil }

// Leaf returns t's frontier data; nil if t has already been expanded.
func (t *Tree) Leaf() *Leaf { return t.leaf }

// Parent returns t's parent, or nil at the root.
func (t *Tree) Parent() *Tree { return t.parent }

// Seq returns t's leaf's creation sequence number; panics if t isn't a
// leaf (an engine invariant violation — heuristics only rank leaves).
func (t *Tree) Seq() uint64 {
	if t.leaf == nil {
		panic("tree: Seq called on a non-leaf")
	}
	return t.leaf.seq
}

// Expand replaces t's leaf with one child leaf per (pc, states) bucket
// in resulting, ordered by ascending pc for determinism, and returns
// the new children.
func (t *Tree) Expand(seq *Counter, activeThreadFor func([]symstate.State) symstate.TID, resulting map[cfg.PC][]symstate.State) []*Tree {
	if t.leaf == nil {
		panic("tree: Expand called on an already-expanded node")
	}
	pcs := make([]cfg.PC, 0, len(resulting))
	for pc := range resulting {
		pcs = append(pcs, pc)
	}
	sort.Slice(pcs, func(i, j int) bool { return pcs[i] < pcs[j] })

	t.leaf = nil
	t.Children = make([]*Tree, 0, len(pcs))
	for _, pc := range pcs {
		states := resulting[pc]
		child := &Tree{
			parent: t,
			leaf: &Leaf{
				Key:    Key{ActiveThread: activeThreadFor(states), PC: pc},
				States: states,
				seq:    seq.allocate(),
			},
		}
		t.Children = append(t.Children, child)
	}
	return t.Children
}

// Leaves collects every unexpanded leaf in the subtree rooted at t, in
// Children order (depth-first, pre-order).
func Leaves(t *Tree) []*Tree {
	if t.leaf != nil {
		return []*Tree{t}
	}
	var out []*Tree
	for _, c := range t.Children {
		out = append(out, Leaves(c)...)
	}
	return out
}

// FinishStateInPath marks leaf as fully retired (every one of its states
// has finished, excepted, or been pruned) and walks the parent chain
// upward, detaching leaf — and any ancestor left childless by that
// detachment — from the tree. Returns true iff the walk reaches the
// root, meaning the whole search space (up to the k/time bound) has
// been explored.
func FinishStateInPath(leaf *Tree) bool {
	for {
		parent := leaf.parent
		if parent == nil {
			return true
		}
		idx := -1
		for i, c := range parent.Children {
			if c == leaf {
				idx = i
				break
			}
		}
		if idx >= 0 {
			parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
		}
		if len(parent.Children) > 0 {
			return false
		}
		leaf = parent
	}
}

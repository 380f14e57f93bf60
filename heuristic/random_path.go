package heuristic

import (
	"math/rand"

	"github.com/aclements/symex/tree"
)

// RandomPath starts from the tree's root and, at each node, descends
// into a uniformly random child until it reaches a leaf, giving every
// live branch point an equal chance instead of DFS's newest-first
// order.
type RandomPath struct {
	Rand *rand.Rand // nil uses the package-level default source
}

func (h RandomPath) Pick(root *tree.Tree) *tree.Tree {
	n := root
	for !n.IsLeaf() {
		if len(n.Children) == 0 {
			return nil
		}
		n = n.Children[h.intn(len(n.Children))]
	}
	return n
}

func (h RandomPath) intn(n int) int {
	if h.Rand != nil {
		return h.Rand.Intn(n)
	}
	return rand.Intn(n)
}

package heuristic

import "github.com/aclements/symex/tree"

// DFS always picks the most recently created leaf, exploring one path
// to its end before backtracking. Recency is tracked via each leaf's
// creation sequence — the tree already remembers every still-live
// branch, so no replay stack is needed.
type DFS struct{}

func (DFS) Pick(root *tree.Tree) *tree.Tree {
	leaves := tree.Leaves(root)
	if len(leaves) == 0 {
		return nil
	}
	best := leaves[0]
	for _, l := range leaves[1:] {
		if l.Seq() > best.Seq() {
			best = l
		}
	}
	return best
}

// Package heuristic implements the leaf-selection strategies: the outer
// search loop asks a Heuristic to pick one live leaf from the execution
// tree, feeds it to the driver, and lets the tree record the result.
package heuristic

import "github.com/aclements/symex/tree"

// Heuristic picks the next frontier leaf to explore. Pick returns nil
// when root has no live leaves left (the search of the current tree is
// complete).
type Heuristic interface {
	Pick(root *tree.Tree) *tree.Tree
}

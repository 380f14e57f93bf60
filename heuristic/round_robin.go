package heuristic

import "github.com/aclements/symex/tree"

// RoundRobin alternates between two underlying heuristics by a counter
// modulo 2 — used by the engine's RoundRobinMD2URandomPath option to
// combine MD2U's coverage-directed search with RandomPath's escape from
// MD2U's local minima.
type RoundRobin struct {
	A, B  Heuristic
	count uint64
}

func (r *RoundRobin) Pick(root *tree.Tree) *tree.Tree {
	h := r.A
	if r.count%2 == 1 {
		h = r.B
	}
	r.count++
	return h.Pick(root)
}

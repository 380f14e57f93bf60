package heuristic

import (
	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/tree"
)

// MD2U ranks leaves by the minimum CumulativeCost assigned to their
// program point, tie-breaking by recency. When coverage changes
// invalidate the cache, it recomputes lazily.
type MD2U struct {
	Entry       cfg.MethodID
	Coverage    map[cfg.PC]struct{}
	Program     cfg.Program
	Flows       cfg.Flows
	EntryLookup cfg.EntryLookup

	dirty bool
	costs map[cfg.PC]*CumulativeCost
}

// Invalidate marks the cached per-pc cost map stale; the next Pick call
// recomputes it from the current Coverage. Call this whenever the
// driver's coverage statistics gain a new pc.
func (m *MD2U) Invalidate() { m.dirty = true }

func (m *MD2U) costFor(pc cfg.PC) *CumulativeCost {
	if m.dirty || m.costs == nil {
		_, pcToCost := MethodCost(m.Entry, m.Coverage, m.Program, m.Flows, m.EntryLookup)
		m.costs = pcToCost
		m.dirty = false
	}
	if cost, ok := m.costs[pc]; ok {
		return cost
	}
	return atLeastCost(0)
}

func (m *MD2U) Pick(root *tree.Tree) *tree.Tree {
	leaves := tree.Leaves(root)
	if len(leaves) == 0 {
		return nil
	}
	best := leaves[0]
	bestCost := m.costFor(best.Leaf().Key.PC)
	for _, l := range leaves[1:] {
		cost := m.costFor(l.Leaf().Key.PC)
		if less(cost, bestCost) || (equalCost(cost, bestCost) && l.Seq() > best.Seq()) {
			best, bestCost = l, cost
		}
	}
	return best
}

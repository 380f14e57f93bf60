// Min-Dist-to-Uncovered cost computation: for every program counter, the
// shortest number of statements to the first uncovered statement, or to
// the method exit if none is reachable from there within the method.
package heuristic

import "github.com/aclements/symex/cfg"

// CostKind discriminates CumulativeCost's cases. The declaration order
// is the ranking order: a Strict cost dominates an AtLeast of the same
// value, and both dominate the unresolved forms.
type CostKind int

const (
	// Strict is an exact distance to the first uncovered statement.
	Strict CostKind = iota
	// AtLeast is a lower bound — every statement on the path to here
	// was already covered.
	AtLeast
	// Cycle is a placeholder for a while-loop back-edge, resolved once
	// the loop head's own cost is known (see fixCycles).
	Cycle
	// Added chains two costs end to end (a call site's own cost, plus
	// the cost of what follows it).
	Added
	// UnexploredMethodCall marks a call whose target is still being
	// computed (recursion) — resolved post hoc for self-recursion only
	// by substituteSelfRecursion; any other still-open reference is left
	// in place unresolved.
	UnexploredMethodCall
)

// CumulativeCost is a tagged distance value: either exact (Strict) or a
// lower bound (AtLeast), a cycle placeholder, a chain of two costs
// (Added), or an unresolved recursive call.
type CumulativeCost struct {
	Kind       CostKind
	Value      uint64  // Strict / AtLeast / Cycle's additive cost
	CyclePC    cfg.PC  // valid for Cycle
	MethodName string  // valid for UnexploredMethodCall
	Left       *CumulativeCost
	Right      *CumulativeCost // valid for Added
}

func strictCost(v uint64) *CumulativeCost    { return &CumulativeCost{Kind: Strict, Value: v} }
func atLeastCost(v uint64) *CumulativeCost   { return &CumulativeCost{Kind: AtLeast, Value: v} }
func cycleCost(pc cfg.PC, v uint64) *CumulativeCost {
	return &CumulativeCost{Kind: Cycle, CyclePC: pc, Value: v}
}
func unexploredCall(name string) *CumulativeCost {
	return &CumulativeCost{Kind: UnexploredMethodCall, MethodName: name}
}

// plus returns c with n added to its accumulated cost, pushing through
// Added's right-hand chain and re-wrapping an UnexploredMethodCall in a
// fresh Added node.
func (c *CumulativeCost) plus(n uint64) *CumulativeCost {
	switch c.Kind {
	case Strict:
		return strictCost(c.Value + n)
	case AtLeast:
		return atLeastCost(c.Value + n)
	case Cycle:
		return cycleCost(c.CyclePC, c.Value+n)
	case Added:
		return &CumulativeCost{Kind: Added, Left: c.Left, Right: c.Right.plus(n)}
	case UnexploredMethodCall:
		return &CumulativeCost{Kind: Added, Left: c, Right: atLeastCost(n)}
	}
	panic("heuristic: unhandled CostKind in plus")
}

func (c *CumulativeCost) increasedByOne() *CumulativeCost { return c.plus(1) }

// less implements the total order MD2U ranks costs by: Kind first (in
// the declared variant order above), then by the kind-specific payload,
// recursing through Added's two children.
func less(a, b *CumulativeCost) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	switch a.Kind {
	case Strict, AtLeast:
		return a.Value < b.Value
	case Cycle:
		if a.CyclePC != b.CyclePC {
			return a.CyclePC < b.CyclePC
		}
		return a.Value < b.Value
	case Added:
		if !equalCost(a.Left, b.Left) {
			return less(a.Left, b.Left)
		}
		return less(a.Right, b.Right)
	case UnexploredMethodCall:
		return a.MethodName < b.MethodName
	}
	return false
}

func equalCost(a, b *CumulativeCost) bool {
	return !less(a, b) && !less(b, a)
}

// costComputer holds the working state of one top-level MethodCost call:
// the statements visited so far (for while/recursion cycle detection),
// the per-pc costs computed, and the per-method costs cached once fully
// resolved.
type costComputer struct {
	coverage    map[cfg.PC]struct{}
	program     cfg.Program
	flows       cfg.Flows
	entryLookup cfg.EntryLookup
	visited     map[cfg.PC]bool
	pcToCost    map[cfg.PC]*CumulativeCost
	cache       map[cfg.MethodID]*CumulativeCost
}

// MethodCost computes the CumulativeCost of methodID's body and every
// statement pc it reaches (directly or via calls), relative to
// coverage.
func MethodCost(methodID cfg.MethodID, coverage map[cfg.PC]struct{}, program cfg.Program, flows cfg.Flows, entryLookup cfg.EntryLookup) (*CumulativeCost, map[cfg.PC]*CumulativeCost) {
	c := &costComputer{
		coverage:    coverage,
		program:     program,
		flows:       flows,
		entryLookup: entryLookup,
		visited:     map[cfg.PC]bool{},
		pcToCost:    map[cfg.PC]*CumulativeCost{},
		cache:       map[cfg.MethodID]*CumulativeCost{},
	}
	cost, _ := c.methodCost(methodID)
	return cost, c.pcToCost
}

func (c *costComputer) methodCost(methodID cfg.MethodID) (*CumulativeCost, map[cfg.PC]*CumulativeCost) {
	if cached, ok := c.cache[methodID]; ok {
		return cached, c.pcToCost
	}
	entryPC, ok := c.entryLookup(methodID.Decl, methodID.Method, nil)
	if !ok {
		return atLeastCost(0), c.pcToCost
	}

	bodyCost := c.statementCost(entryPC, methodID)

	var resultValue uint64
	var strict bool
	switch bodyCost.Kind {
	case Strict:
		strict, resultValue = true, bodyCost.Value
	case AtLeast:
		strict, resultValue = false, bodyCost.Value
	default:
		// An unresolved call or cycle surviving to the top of the
		// method body means the only open reference is to this
		// method itself (self-recursion) — substituteSelfRecursion
		// resolves exactly that case below.
		strict, resultValue = false, 0
	}
	c.substituteSelfRecursion(methodID.Method, resultValue, strict)
	if bodyCost.Kind == Strict || bodyCost.Kind == AtLeast {
		c.cache[methodID] = bodyCost
	}
	return bodyCost, c.pcToCost
}

// statementCost: the cost of exploring pc is its own statement cost
// combined with the minimum cost among its CFG successors.
func (c *costComputer) statementCost(pc cfg.PC, methodID cfg.MethodID) *CumulativeCost {
	if cost, ok := c.pcToCost[pc]; ok {
		return cost
	}
	c.visited[pc] = true

	stmt, ok := c.program[pc]
	if !ok {
		return atLeastCost(0)
	}

	if stmt.Kind == cfg.KindFunctionExit {
		var cost *CumulativeCost
		if _, covered := c.coverage[pc]; !covered {
			cost = strictCost(1)
		} else {
			cost = atLeastCost(1)
		}
		c.pcToCost[pc] = cost
		return cost
	}

	var remaining *CumulativeCost
	for _, next := range c.flows[pc] {
		var candidate *CumulativeCost
		if nstmt, ok := c.program[next]; ok && nstmt.Kind == cfg.KindWhile && c.visited[next] {
			// Back-edge into an in-progress while loop: defer to
			// fixCycles once the loop head's own cost is known.
			candidate = cycleCost(next, 0)
		} else {
			candidate = c.statementCost(next, methodID)
		}
		if remaining == nil || less(candidate, remaining) {
			remaining = candidate
		}
	}
	if remaining == nil {
		remaining = atLeastCost(0)
	}

	own := c.thisStatementCost(pc, methodID)
	var result *CumulativeCost
	switch own.Kind {
	case Strict:
		// An uncovered statement short-circuits: no need to look past
		// it, its cost is exact.
		c.pcToCost[pc] = own
		return own
	case AtLeast:
		result = remaining.plus(own.Value)
		if stmt.Kind == cfg.KindWhile {
			c.fixCycles(pc, result)
		}
	default:
		result = &CumulativeCost{Kind: Added, Left: own, Right: remaining}
	}
	c.pcToCost[pc] = result
	return result
}

// thisStatementCost: an uncovered statement costs Strict(1); a covered
// call site delegates to the minimum cost among its resolved targets,
// plus one; any other covered statement costs AtLeast(1).
func (c *costComputer) thisStatementCost(pc cfg.PC, methodID cfg.MethodID) *CumulativeCost {
	if _, covered := c.coverage[pc]; !covered {
		return strictCost(1)
	}
	stmt := c.program[pc]
	targets := callTargets(stmt)
	if len(targets) == 0 {
		return atLeastCost(1)
	}

	var best *CumulativeCost
	for _, target := range targets {
		var cost *CumulativeCost
		if cached, ok := c.cache[target]; ok {
			cost = cached
		} else if targetPC, ok := c.entryLookup(target.Decl, target.Method, nil); ok && c.visited[targetPC] {
			cost = unexploredCall(target.Method)
		} else {
			cost, _ = c.methodCost(target)
		}
		cost = cost.increasedByOne()
		if best == nil || less(cost, best) {
			best = cost
		}
	}
	return best
}

func callTargets(stmt *cfg.Statement) []cfg.MethodID {
	if stmt != nil && stmt.Kind == cfg.KindCall && stmt.Invocation != nil {
		return stmt.Invocation.Targets
	}
	return nil
}

// fixCycles rewrites every Cycle(pc, extra) placeholder in pcToCost
// into resultingCost.plus(extra) now that pc's (the loop head's) own
// cost is known.
func (c *costComputer) fixCycles(pc cfg.PC, resultingCost *CumulativeCost) {
	for k, v := range c.pcToCost {
		if v.Kind == Cycle && v.CyclePC == pc {
			c.pcToCost[k] = resultingCost.plus(v.Value)
		}
	}
}

// substituteSelfRecursion resolves every UnexploredMethodCall(name)
// placeholder where name is the method's own name into a concrete
// Strict/AtLeast(resultValue): recursion never improves the bound
// beyond the method's loop-free branches, so the placeholder can take
// the weaker branch's value. Recursion into a *different* still-open
// method is left unresolved — it cannot occur without mutual
// recursion, which this module does not attempt to untangle.
func (c *costComputer) substituteSelfRecursion(methodName string, resultValue uint64, strict bool) {
	for k, v := range c.pcToCost {
		c.pcToCost[k] = replaceSelfCall(v, methodName, resultValue, strict)
	}
}

func replaceSelfCall(cost *CumulativeCost, methodName string, resultValue uint64, strict bool) *CumulativeCost {
	switch cost.Kind {
	case Added:
		l := replaceSelfCall(cost.Left, methodName, resultValue, strict)
		r := replaceSelfCall(cost.Right, methodName, resultValue, strict)
		if (l.Kind == Strict || l.Kind == AtLeast) && (r.Kind == Strict || r.Kind == AtLeast) {
			if l.Kind == Strict || r.Kind == Strict {
				return strictCost(l.Value + r.Value)
			}
			return atLeastCost(l.Value + r.Value)
		}
		return &CumulativeCost{Kind: Added, Left: l, Right: r}
	case UnexploredMethodCall:
		if cost.MethodName == methodName {
			if strict {
				return strictCost(resultValue)
			}
			return atLeastCost(resultValue)
		}
		return cost
	default:
		return cost
	}
}

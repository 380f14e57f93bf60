// Package split implements the two state-split primitives: conditional
// split (branch on a guard) and alias split (branch over a symbolic
// reference's candidate concrete references). Both push successors onto
// the frontier the driver is currently consuming — there is no
// recursive descent here, only a slice of independent states handed
// back to the caller.
package split

import (
	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/heap"
	"github.com/aclements/symex/prover"
	"github.com/aclements/symex/symstate"
)

// Splitter carries the collaborators a split needs: the prover (for
// feasibility pruning) and the option to disable that pruning. Fresh
// path ids for successors come from the state's own PathIDs counter.
type Splitter struct {
	Prover      prover.Prover
	PrunePathZ3 bool
}

// Conditional emits up to two successors for `target := guard ? t : f`:
// one with target bound to t and the path constraint extended by guard,
// one with target bound to f and the path constraint extended by ¬guard.
// Each successor is feasibility-checked against the prover unless
// PrunePathZ3 is false; an infeasible successor is dropped.
func (sp *Splitter) Conditional(s symstate.State, guard expr.Expression, target string, t, f expr.Expression) ([]symstate.State, error) {
	negGuard := expr.NewUnaryOp("bool", guard.Pos(), expr.Not, guard)

	var out []symstate.State
	trueSucc, ok, err := sp.bindAndAssume(s, target, t, guard)
	if err != nil {
		return nil, err
	}
	if ok {
		out = append(out, trueSucc)
	}
	falseSucc, ok, err := sp.bindAndAssume(s, target, f, negGuard)
	if err != nil {
		return nil, err
	}
	if ok {
		out = append(out, falseSucc)
	}
	return out, nil
}

func (sp *Splitter) bindAndAssume(s symstate.State, target string, value, assumption expr.Expression) (symstate.State, bool, error) {
	succ := s.Clone()
	succ.PathID = symstate.PathID(succ.PathIDs.Next())
	succ = succ.Assume(assumption)

	th := succ.Active()
	th.Stack = th.Stack.WithTop(th.Stack.Top().WithParam(target, value))
	succ = succ.WithThread(th)

	feasible, err := sp.Feasible(succ)
	if err != nil {
		return symstate.State{}, false, err
	}
	return succ, feasible, nil
}

// Feasible reports whether s's accumulated path constraint is still
// satisfiable, honoring the PrunePathZ3 gate: with pruning disabled (or
// no prover wired) every path is assumed feasible. Shared by both split
// primitives here and by the guard split in package action, so the gate
// applies uniformly wherever a branch may be pruned.
func (sp *Splitter) Feasible(s symstate.State) (bool, error) {
	if !sp.PrunePathZ3 || sp.Prover == nil {
		return true, nil
	}
	conj := conjoin(s.PathConstraint)
	verdict, err := sp.Prover.Check(conj)
	if err != nil {
		return false, err
	}
	// A path is feasible unless the prover proves its constraint
	// unsatisfiable; Unknown is treated as feasible (pruning only acts
	// on positive proof of infeasibility).
	return verdict != prover.Unsat, nil
}

func conjoin(constraints []expr.Expression) expr.Expression {
	if len(constraints) == 0 {
		return expr.NewLiteral("bool", expr.SourcePos{}, true)
	}
	acc := constraints[0]
	for _, c := range constraints[1:] {
		acc = expr.NewBinaryOp("bool", c.Pos(), expr.And, acc, c)
	}
	return acc
}

// Alias emits one successor per candidate in entry.Aliases: the alias
// map is narrowed to that single candidate, and varName is rebound on
// the active thread's stack to the candidate reference. A candidate that
// is itself not a concrete Ref (a still-lazy symbolic candidate) is
// passed through unresolved for the caller (package execref) to reissue
// resolution on. If entry.MayBeNull, one further successor is emitted
// with the active thread marked Excepted: the null candidate.
func (sp *Splitter) Alias(s symstate.State, varName string, entry heap.AliasEntry) ([]symstate.State, error) {
	var out []symstate.State
	for _, candidate := range entry.Aliases {
		succ := s.Clone()
		succ.PathID = symstate.PathID(succ.PathIDs.Next())
		succ.AliasMap = succ.AliasMap.Set(varName, heap.AliasEntry{
			Aliases:   []expr.Expression{candidate},
			MayBeNull: false,
		})

		// Narrowing is path-wide: besides rebinding the resolved variable
		// itself, rewrite every other occurrence of the symbolic reference
		// in the active frame's bindings and the accumulated assumptions.
		th := succ.Active()
		top := th.Stack.Top().WithParam(varName, candidate)
		for it := top.Params.Iterator(); !it.Done(); {
			name, v, _ := it.Next()
			if sub := expr.Substitute(v, varName, candidate); sub != v {
				top = top.WithParam(name, sub)
			}
		}
		th.Stack = th.Stack.WithTop(top)
		succ = succ.WithThread(th)
		for i, cstr := range succ.PathConstraint {
			succ.PathConstraint[i] = expr.Substitute(cstr, varName, candidate)
		}

		feasible, err := sp.Feasible(succ)
		if err != nil {
			return nil, err
		}
		if feasible {
			out = append(out, succ)
		}
	}
	if entry.MayBeNull {
		succ := s.Clone()
		succ.PathID = symstate.PathID(succ.PathIDs.Next())
		th := succ.Active()
		th.State = symstate.Excepted
		succ = succ.WithThread(th)
		out = append(out, succ)
	}
	return out, nil
}

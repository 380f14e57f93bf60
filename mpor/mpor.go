// Package mpor implements the monotonic partial-order reduction
// filter: per-thread last-committed access sets, a conflict predicate
// over them, and the quasi-monotonicity gate that rejects a committed
// thread transition when a higher-numbered thread's pending accesses
// don't conflict with it (the equivalent interleaving that runs the
// higher thread first is enumerated instead).
package mpor

import (
	"sort"

	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/eval"
	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/prover"
	"github.com/aclements/symex/symstate"
)

// AccessesFor computes the access set a step over stmt produces for
// state's active thread.
func AccessesFor(s symstate.State, stmt *cfg.Statement) []symstate.Access {
	th := s.Active()
	switch stmt.Kind {
	case cfg.KindAssign:
		payload, ok := stmt.Payload.(cfg.AssignPayload)
		if !ok {
			return nil
		}
		var out []symstate.Access
		switch lhs := payload.LHS.(type) {
		case cfg.LhsField:
			out = append(out, symstate.FieldWrite{Refs: herefs(s, lhs.Var), Field: lhs.Field})
		case cfg.LhsElem:
			idx, _ := eval.Eval(s, lhs.Index)
			out = append(out, symstate.ElemWrite{Refs: herefs(s, lhs.Var), Index: idx})
		}
		switch rhs := payload.RHS.(type) {
		case cfg.RhsField:
			out = append(out, symstate.FieldRead{Refs: herefs(s, rhs.Var), Field: rhs.Field})
		case cfg.RhsElem:
			idx, _ := eval.Eval(s, rhs.Index)
			out = append(out, symstate.ElemRead{Refs: herefs(s, rhs.Var), Index: idx})
		}
		return out

	case cfg.KindJoin:
		return []symstate.Access{symstate.Join{TID: th.TID}}

	case cfg.KindFunctionExit:
		if th.State == symstate.Finished {
			parents := make(map[symstate.TID]struct{}, len(th.Parents))
			for p := range th.Parents {
				parents[p] = struct{}{}
			}
			return []symstate.Access{symstate.FinishedThread{Parents: parents}}
		}
		return nil

	case cfg.KindLock, cfg.KindUnlock:
		var varName string
		if p, ok := stmt.Payload.(cfg.LockPayload); ok {
			varName = p.Var
		}
		return []symstate.Access{symstate.LockAction{Refs: herefs(s, varName)}}

	default:
		return nil
	}
}

// herefs resolves the may-point-to reference set a stack variable's
// lookup plus its alias-map entry denote.
func herefs(s symstate.State, varName string) map[expr.Reference]struct{} {
	refs := map[expr.Reference]struct{}{}
	v, ok := s.Active().Stack.Lookup(varName)
	if !ok {
		return refs
	}
	addStackVarRef(refs, v)

	name, isSymbolic := symbolicName(v)
	if isSymbolic {
		if entry, ok := s.AliasMap.Get(name); ok {
			for _, alias := range entry.Aliases {
				addStackVarRef(refs, alias)
			}
		}
	}
	return refs
}

func addStackVarRef(refs map[expr.Reference]struct{}, v expr.Expression) {
	if ref, ok := v.(*expr.Ref); ok {
		refs[ref.Ref] = struct{}{}
	}
}

func symbolicName(v expr.Expression) (string, bool) {
	switch n := v.(type) {
	case *expr.SymbolicRef:
		return n.Name, true
	case *expr.SymbolicVar:
		return n.Name, true
	case *expr.Var:
		return n.Name, true
	}
	return "", false
}

// Validate runs the quasi-monotonicity gate: walking threads in
// ascending tid order, it clears PrevAccesses for every thread whose
// last access conflicts with curr (or that is the active thread
// itself), and rejects the transition (returns ok = false) if any
// higher-tid thread's PrevAccesses survives unconflicted.
func Validate(s symstate.State, curr []symstate.Access, pr prover.Prover) (symstate.State, bool) {
	tids := make([]symstate.TID, 0, len(s.Threads))
	for tid := range s.Threads {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	ok := true
	for _, tid := range tids {
		th := s.Threads[tid]
		if th.PrevAccesses == nil {
			continue
		}
		if tid == s.ActiveThread || hasAccessConflicts(pr, s.PathConstraint, th.PrevAccesses, curr) {
			th.PrevAccesses = nil
			s = s.WithThread(th)
		} else if tid > s.ActiveThread {
			ok = false
			break
		}
	}
	active := s.Active()
	if curr == nil {
		// A committed statement with no accesses still counts as a
		// present (empty) access set — "no prev" is reserved for threads
		// that haven't committed anything since their last conflict.
		curr = []symstate.Access{}
	}
	active.PrevAccesses = curr
	s = s.WithThread(active)
	return s, ok
}

// hasAccessConflicts reports whether any access in prev conflicts with
// any access in curr: reads never conflict with reads; same-kind
// writes/reads on an intersecting
// reference set conflict when the field name matches (FieldRead/Write)
// or the prover cannot prove the indices distinct (ElemRead/Write); lock
// actions on an intersecting reference always conflict; a thread's
// FinishedThread access conflicts with a Join naming one of its parents.
func hasAccessConflicts(pr prover.Prover, constraint []expr.Expression, prev, curr []symstate.Access) bool {
	for _, x := range prev {
		for _, y := range curr {
			if accessConflict(pr, constraint, x, y) {
				return true
			}
		}
	}
	return false
}

func accessConflict(pr prover.Prover, constraint []expr.Expression, x, y symstate.Access) bool {
	switch xa := x.(type) {
	case symstate.FieldRead:
		if ya, ok := y.(symstate.FieldWrite); ok {
			return refsIntersect(xa.Refs, ya.Refs) && xa.Field == ya.Field
		}
	case symstate.FieldWrite:
		switch ya := y.(type) {
		case symstate.FieldRead:
			return refsIntersect(xa.Refs, ya.Refs) && xa.Field == ya.Field
		case symstate.FieldWrite:
			return refsIntersect(xa.Refs, ya.Refs) && xa.Field == ya.Field
		}
	case symstate.ElemRead:
		if ya, ok := y.(symstate.ElemWrite); ok {
			return refsIntersect(xa.Refs, ya.Refs) && mayBeEqual(pr, constraint, xa.Index, ya.Index)
		}
	case symstate.ElemWrite:
		switch ya := y.(type) {
		case symstate.ElemRead:
			return refsIntersect(xa.Refs, ya.Refs) && mayBeEqual(pr, constraint, xa.Index, ya.Index)
		case symstate.ElemWrite:
			return refsIntersect(xa.Refs, ya.Refs) && mayBeEqual(pr, constraint, xa.Index, ya.Index)
		}
	case symstate.LockAction:
		if ya, ok := y.(symstate.LockAction); ok {
			return refsIntersect(xa.Refs, ya.Refs)
		}
	case symstate.FinishedThread:
		if ya, ok := y.(symstate.Join); ok {
			_, isParent := xa.Parents[ya.TID]
			return isParent
		}
	case symstate.Join:
		if ya, ok := y.(symstate.FinishedThread); ok {
			_, isParent := ya.Parents[xa.TID]
			return isParent
		}
	}
	return false
}

func refsIntersect(a, b map[expr.Reference]struct{}) bool {
	for r := range a {
		if _, ok := b[r]; ok {
			return true
		}
	}
	return false
}

// mayBeEqual asks the prover whether x and y could be equal under
// constraint; an Unknown verdict is conservatively treated as "may be
// equal" (a conflict).
func mayBeEqual(pr prover.Prover, constraint []expr.Expression, x, y expr.Expression) bool {
	if pr == nil {
		return true
	}
	formula := expr.NewBinaryOp("bool", x.Pos(), expr.Eq, x, y)
	for _, c := range constraint {
		formula = expr.NewBinaryOp("bool", c.Pos(), expr.And, formula, c)
	}
	verdict, err := pr.Check(formula)
	if err != nil {
		return true
	}
	// Conflict unless the prover proves the indices can never be
	// equal; Unknown falls through to "may be equal" (a conflict).
	return verdict != prover.Unsat
}

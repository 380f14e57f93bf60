// Package action implements the one-statement-at-a-time execution
// step: given a state sitting at a CFG statement, produce zero or more
// successor states plus the Result each successor committed.
package action

import (
	"fmt"

	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/eval"
	"github.com/aclements/symex/execref"
	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/heap"
	"github.com/aclements/symex/locks"
	"github.com/aclements/symex/prover"
	"github.com/aclements/symex/split"
	"github.com/aclements/symex/stack"
	"github.com/aclements/symex/symstate"
)

// Result is the discriminated outcome of stepping one statement.
type Result int

const (
	Continue Result = iota
	FunctionCall
	Return
	Finish
	Excepted
	InfeasiblePath
	InvalidAssertion
	InvalidFork
	// NullDereference reports a statement that dereferenced a symbolic
	// reference one of whose alias candidates is null, with no preceding
	// non-null assumption on that path. Carried as its own variant
	// rather than folded into Excepted: retiring silently is right for
	// an explicit, user-written throw, but an unguarded null dereference
	// is itself a property violation the search reports, the same way
	// deadlock (package locks) is. Routed by package driver exactly like
	// InvalidAssertion/InvalidFork.
	NullDereference
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "Continue"
	case FunctionCall:
		return "FunctionCall"
	case Return:
		return "Return"
	case Finish:
		return "Finish"
	case Excepted:
		return "Excepted"
	case InfeasiblePath:
		return "InfeasiblePath"
	case InvalidAssertion:
		return "InvalidAssertion"
	case InvalidFork:
		return "InvalidFork"
	case NullDereference:
		return "NullDereference"
	default:
		return "Result(?)"
	}
}

// Outcome pairs a successor state with the Result it committed and (for
// the two invalid results) the source position to report.
type Outcome struct {
	State  symstate.State
	Result Result
	Pos    expr.SourcePos
	NextPC cfg.PC // valid for FunctionCall and Return
}

// Context carries the collaborators a step needs beyond the state
// itself: the program to step through, the prover/statistics, the
// splitter, and the options that tune exceptional behavior.
type Context struct {
	Program                cfg.Program
	Flows                  cfg.Flows
	EntryLookup            cfg.EntryLookup
	Prover                 prover.Prover
	Splitter               *split.Splitter
	SymbolicArraySize      int
	WithExceptionalClauses bool
}

// Step executes the statement at s's active thread's pc, returning one
// outcome per resulting successor state.
func (c *Context) Step(s symstate.State) ([]Outcome, error) {
	th := s.Active()
	stmt, ok := c.Program[th.PC]
	if !ok {
		return nil, fmt.Errorf("action: no statement at pc %d", th.PC)
	}

	switch stmt.Kind {
	case cfg.KindAssign:
		return c.stepAssign(s, stmt)
	case cfg.KindAssert:
		return c.stepAssert(s, stmt)
	case cfg.KindAssume:
		return c.stepAssume(s, stmt)
	case cfg.KindIf, cfg.KindWhile:
		return c.stepGuard(s, stmt)
	case cfg.KindCall:
		return c.stepCall(s, stmt)
	case cfg.KindReturn:
		return c.stepReturn(s, stmt)
	case cfg.KindFork:
		return c.stepFork(s, stmt)
	case cfg.KindJoin:
		return c.stepJoin(s, stmt)
	case cfg.KindLock:
		return c.stepLock(s, stmt)
	case cfg.KindUnlock:
		return c.stepUnlock(s, stmt)
	case cfg.KindThrow:
		return c.stepThrow(s, stmt)
	case cfg.KindFunctionExit:
		return c.stepFunctionExit(s, stmt)
	default:
		return []Outcome{{State: advance(c, s, stmt.PC), Result: Continue}}, nil
	}
}

// advance moves the active thread's pc to its unique successor and
// records the trace entry; used by statement kinds with exactly one
// CFG successor.
func advance(c *Context, s symstate.State, pc cfg.PC) symstate.State {
	succs := c.Flows[pc]
	th := s.Active()
	if len(succs) > 0 {
		th.PC = succs[0]
	}
	s = s.WithThread(th)
	return s.Record(s.ActiveThread, pc)
}

func resolver(c *Context) execref.Resolver {
	return execref.Resolver{
		Split: c.Splitter,
		InitAlias: func(s symstate.State, name string, ty expr.RuntimeType) symstate.State {
			// Materialize a single fresh concrete candidate plus a null
			// option — the engine has no live class hierarchy to consult
			// here (that's the symbol table's job upstream), so a fresh
			// reference stands in as "some not-yet-modeled object of this
			// type".
			ref := expr.Reference(s.ThreadIDs.Next())
			entry := heap.AliasEntry{
				Aliases:   []expr.Expression{expr.NewRef(ty, expr.SourcePos{}, ref)},
				MayBeNull: true,
			}
			s.AliasMap = s.AliasMap.Set(name, entry)
			return s
		},
	}
}

func (c *Context) stepAssign(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	payload, ok := stmt.Payload.(cfg.AssignPayload)
	if !ok {
		return nil, fmt.Errorf("action: KindAssign statement missing AssignPayload")
	}

	s, value, err := c.evalRhs(s, payload.RHS)
	if err != nil {
		return nil, err
	}

	switch lhs := payload.LHS.(type) {
	case cfg.LhsVar:
		th := s.Active()
		th.Stack = th.Stack.WithTop(th.Stack.Top().WithParam(lhs.Var, value))
		s = s.WithThread(th)
		return []Outcome{{State: advance(c, s, stmt.PC), Result: Continue}}, nil

	case cfg.LhsField:
		successors, err := execref.Exec(s, lhs.Var, resolver(c), func(s symstate.State, ref expr.Reference) (symstate.State, error) {
			obj, ok := s.Heap.Get(ref)
			if !ok {
				return s, fmt.Errorf("action: field write through unknown reference")
			}
			rec, ok := obj.(heap.Record)
			if !ok {
				return s, fmt.Errorf("action: field write on non-record object")
			}
			s.Heap = s.Heap.Set(ref, rec.WithField(lhs.Field, value))
			return s, nil
		})
		if err != nil {
			return nil, err
		}
		return finishEach(c, successors, stmt.PC, Continue, derefPos(s, lhs.Var)), nil

	case cfg.LhsElem:
		idx, err := eval.Eval(s, lhs.Index)
		if err != nil {
			return nil, err
		}
		i, ok := idx.(*expr.Literal)
		if !ok {
			return nil, fmt.Errorf("action: symbolic array index in element write not supported")
		}
		index := i.Value.(int)
		successors, err := execref.Exec(s, lhs.Var, resolver(c), func(s symstate.State, ref expr.Reference) (symstate.State, error) {
			obj, ok := s.Heap.Get(ref)
			if !ok {
				return s, fmt.Errorf("action: element write through unknown reference")
			}
			arr, ok := obj.(heap.Array)
			if !ok {
				return s, fmt.Errorf("action: element write on non-array object")
			}
			s.Heap = s.Heap.Set(ref, arr.WithElem(index, value))
			return s, nil
		})
		if err != nil {
			return nil, err
		}
		return finishEach(c, successors, stmt.PC, Continue, derefPos(s, lhs.Var)), nil
	}
	return nil, fmt.Errorf("action: unhandled Lhs kind %T", payload.LHS)
}

// evalRhs reduces a statement's right-hand side, returning the (possibly
// heap-extended, for allocations) state alongside the value expression.
func (c *Context) evalRhs(s symstate.State, rhs cfg.Rhs) (symstate.State, expr.Expression, error) {
	switch r := rhs.(type) {
	case cfg.RhsExpr:
		v, err := eval.Eval(s, r.Expr)
		return s, v, err
	case cfg.RhsField:
		v, err := eval.Eval(s, expr.NewFieldAccess("", expr.SourcePos{}, expr.NewVar("", expr.SourcePos{}, r.Var), r.Field))
		return s, v, err
	case cfg.RhsElem:
		v, err := eval.Eval(s, expr.NewElemAccess("", expr.SourcePos{}, expr.NewVar("", expr.SourcePos{}, r.Var), r.Index))
		return s, v, err
	case cfg.RhsNewObject:
		ref := expr.Reference(s.ThreadIDs.Next())
		s.Heap = s.Heap.Set(ref, heap.NewRecord(r.ClassName))
		return s, expr.NewRef(expr.RuntimeType(r.ClassName), expr.SourcePos{}, ref), nil
	case cfg.RhsNewArray:
		n := c.SymbolicArraySize
		if r.Size != nil {
			if v, err := eval.Eval(s, r.Size); err == nil {
				if lit, ok := v.(*expr.Literal); ok {
					if iv, ok := lit.Value.(int); ok {
						n = iv
					}
				}
			}
		}
		ref := expr.Reference(s.ThreadIDs.Next())
		arr := heap.NewArray(r.ElemType, n)
		// Element-wise initialization: each slot of an unconstrained array
		// starts as its own fresh symbolic value.
		for i := 0; i < n; i++ {
			arr = arr.WithElem(i, expr.NewSymbolicVar(
				expr.RuntimeType(r.ElemType), expr.SourcePos{},
				fmt.Sprintf("_elem%d_%d", ref, i)))
		}
		s.Heap = s.Heap.Set(ref, arr)
		return s, expr.NewRef(expr.RuntimeType(r.ElemType+"[]"), expr.SourcePos{}, ref), nil
	}
	return s, nil, fmt.Errorf("action: unhandled Rhs kind %T", rhs)
}

// finishEach records the trace entry and advances pc for each of a set
// of execref-produced successor states, tagging each with result —
// except states that arrived already Excepted (the null branch of the
// alias split), which become NullDereference at derefPos
// instead: every finishEach call site dereferences a (possibly
// symbolic-null) reference, so an Excepted successor reaching this
// point always means an unguarded null dereference, not a handled
// throw (see NullDereference's doc comment).
func finishEach(c *Context, states []symstate.State, pc cfg.PC, result Result, derefPos expr.SourcePos) []Outcome {
	out := make([]Outcome, 0, len(states))
	for _, s := range states {
		if s.Active().State == symstate.Excepted {
			out = append(out, Outcome{State: s, Result: NullDereference, Pos: derefPos})
			continue
		}
		out = append(out, Outcome{State: advance(c, s, pc), Result: result})
	}
	return out
}

// derefPos looks up the source position of the (possibly symbolic)
// reference expression bound to varName, for reporting alongside a
// NullDereference outcome. Falls back to the zero position if varName
// can't be resolved on the active thread's stack (should not happen: by
// the time finishEach is called, execref.Exec has already resolved it).
func derefPos(s symstate.State, varName string) expr.SourcePos {
	v, ok := s.Active().Stack.Lookup(varName)
	if !ok {
		return expr.SourcePos{}
	}
	return v.Pos()
}

func (c *Context) stepAssert(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	payload := stmt.Payload.(cfg.AssertPayload)
	cond, err := eval.Eval(s, payload.Cond)
	if err != nil {
		return nil, err
	}
	neg, err := eval.Eval(s, expr.NewUnaryOp("bool", cond.Pos(), expr.Not, cond))
	if err != nil {
		return nil, err
	}
	formula := conjoin(append(append([]expr.Expression(nil), s.PathConstraint...), neg))
	verdict, err := c.Prover.Check(formula)
	if err != nil {
		return nil, err
	}
	if verdict == prover.Unsat {
		return []Outcome{{State: advance(c, s, stmt.PC), Result: Continue}}, nil
	}
	// Sat or Unknown: both report as InvalidAssertion (conservative).
	return []Outcome{{State: s, Result: InvalidAssertion, Pos: cond.Pos()}}, nil
}

func (c *Context) stepAssume(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	payload := stmt.Payload.(cfg.AssumePayload)
	cond, err := eval.Eval(s, payload.Cond)
	if err != nil {
		return nil, err
	}
	s = s.Assume(cond)
	formula := conjoin(s.PathConstraint)
	verdict, err := c.Prover.Check(formula)
	if err != nil {
		return nil, err
	}
	if verdict == prover.Unsat {
		return []Outcome{{State: s, Result: InfeasiblePath}}, nil
	}
	return []Outcome{{State: advance(c, s, stmt.PC), Result: Continue}}, nil
}

func conjoin(constraints []expr.Expression) expr.Expression {
	if len(constraints) == 0 {
		return expr.NewLiteral("bool", expr.SourcePos{}, true)
	}
	acc := constraints[0]
	for _, cstr := range constraints[1:] {
		acc = expr.NewBinaryOp("bool", cstr.Pos(), expr.And, acc, cstr)
	}
	return acc
}

func (c *Context) stepGuard(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	payload := stmt.Payload.(cfg.GuardPayload)
	guard, err := eval.Eval(s, payload.Guard)
	if err != nil {
		return nil, err
	}
	succs := c.Flows[stmt.PC]
	if len(succs) < 2 {
		return nil, fmt.Errorf("action: guard statement at pc %d missing two CFG successors", stmt.PC)
	}
	thenPC, elsePC := succs[0], succs[1]

	if lit, ok := guard.(*expr.Literal); ok {
		b := lit.Value.(bool)
		target := elsePC
		if b {
			target = thenPC
		}
		th := s.Active()
		th.PC = target
		s = s.WithThread(th)
		return []Outcome{{State: s.Record(s.ActiveThread, stmt.PC), Result: Continue}}, nil
	}

	// Symbolic guard: split into two successors, one per branch — the
	// conditional split, specialized here to a pc choice rather than a
	// variable binding. Feasibility pruning goes through the Splitter's
	// gate so the PrunePathZ3 option applies to guard splits the same
	// way it applies to ternary-assign splits.
	var out []Outcome
	for _, branch := range []struct {
		pc   cfg.PC
		cond expr.Expression
	}{
		{thenPC, guard},
		{elsePC, expr.NewUnaryOp("bool", guard.Pos(), expr.Not, guard)},
	} {
		succ := s.Clone()
		succ.PathID = symstateNextPathID(succ)
		succ = succ.Assume(branch.cond)
		if c.Splitter != nil {
			feasible, err := c.Splitter.Feasible(succ)
			if err != nil {
				return nil, err
			}
			if !feasible {
				continue
			}
		}
		th := succ.Active()
		th.PC = branch.pc
		succ = succ.WithThread(th)
		out = append(out, Outcome{State: succ.Record(succ.ActiveThread, stmt.PC), Result: Continue})
	}
	return out, nil
}

func symstateNextPathID(s symstate.State) symstate.PathID {
	return symstate.PathID(s.PathIDs.Next())
}

// stepCall resolves the call's (possibly multi-target, under dynamic
// dispatch) invocation set, splitting the state once per candidate
// target, and pushes a fresh frame per successor with the receiver (if
// any) bound as "this" and the evaluated arguments bound positionally.
func (c *Context) stepCall(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	if stmt.Invocation == nil || len(stmt.Invocation.Targets) == 0 {
		return nil, fmt.Errorf("action: KindCall statement missing resolved Invocation")
	}
	payload, _ := stmt.Payload.(cfg.AssignPayload)
	lhsName, hasLHS := assignTargetName(payload.LHS)

	returnSuccs := c.Flows[stmt.PC]
	if len(returnSuccs) == 0 {
		return nil, fmt.Errorf("action: call statement at pc %d has no return successor", stmt.PC)
	}
	returnPC := returnSuccs[0]

	// Receiver and arguments evaluate in the caller's frame, before any
	// callee frame is pushed; the values are shared across all dispatch
	// successors.
	var recv expr.Expression
	if stmt.Invocation.This != nil {
		v, err := eval.Eval(s, stmt.Invocation.This)
		if err != nil {
			return nil, err
		}
		recv = v
	}
	args := make([]expr.Expression, len(stmt.Invocation.Args))
	for i, arg := range stmt.Invocation.Args {
		v, err := eval.Eval(s, arg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	var out []Outcome
	for _, target := range stmt.Invocation.Targets {
		entryPC, ok := c.EntryLookup(target.Decl, target.Method, nil)
		if !ok {
			return nil, fmt.Errorf("action: no CFG entry for %s.%s", target.Decl, target.Method)
		}
		succ := s.Clone()
		if len(stmt.Invocation.Targets) > 1 {
			succ.PathID = symstateNextPathID(succ)
		}
		th := succ.Active()
		frame := stack.NewFrame(returnPC, lhsName, hasLHS, target)
		if recv != nil {
			frame = frame.WithParam("this", recv)
		}
		for i, v := range args {
			frame = frame.WithParam(fmt.Sprintf("arg%d", i), v)
		}
		th.Stack = th.Stack.Push(frame)
		th.PC = entryPC
		succ = succ.WithThread(th)
		out = append(out, Outcome{
			State:  succ.Record(succ.ActiveThread, stmt.PC),
			Result: FunctionCall,
			NextPC: entryPC,
		})
	}
	return out, nil
}

func assignTargetName(lhs cfg.Lhs) (string, bool) {
	if v, ok := lhs.(cfg.LhsVar); ok {
		return v.Var, true
	}
	return "", false
}

// stepReturn pops the active thread's top frame; if it recorded an LHS,
// the returned value is bound in the caller's (now top) frame.
func (c *Context) stepReturn(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	payload := stmt.Payload.(cfg.ReturnPayload)
	th := s.Active()

	newStack, popped := th.Stack.Pop()
	if newStack.Len() == 0 {
		// Returning from the entry frame: the thread is done.
		th.Stack = newStack
		th.State = symstate.Finished
		s = s.WithThread(th)
		return []Outcome{{State: s.Record(s.ActiveThread, stmt.PC), Result: Finish}}, nil
	}

	if payload.HasValue && popped.HasLHS {
		value, err := eval.Eval(s, payload.Value)
		if err != nil {
			return nil, err
		}
		newStack = newStack.WithTop(newStack.Top().WithParam(popped.ReturningLHS, value))
	}
	th.Stack = newStack
	th.PC = popped.ReturnPC
	s = s.WithThread(th)
	return []Outcome{{State: s.Record(s.ActiveThread, stmt.PC), Result: Return, NextPC: popped.ReturnPC}}, nil
}

// stepFork allocates a fresh tid and a new Enabled thread parented to
// the active one, at the callee's entry.
func (c *Context) stepFork(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	payload := stmt.Payload.(cfg.ForkPayload)
	if len(payload.Invocation.Targets) == 0 {
		return nil, fmt.Errorf("action: fork statement missing resolved target")
	}
	target := payload.Invocation.Targets[0]
	entryPC, ok := c.EntryLookup(target.Decl, target.Method, nil)
	if !ok {
		return nil, fmt.Errorf("action: no CFG entry for fork target %s.%s", target.Decl, target.Method)
	}

	newTID := symstate.TID(s.ThreadIDs.Next())
	frame := stack.NewFrame(entryPC, "", false, target)
	for i, arg := range payload.Args {
		v, err := eval.Eval(s, arg)
		if err != nil {
			return nil, err
		}
		frame = frame.WithParam(fmt.Sprintf("arg%d", i), v)
	}
	newThread := symstate.Thread{
		TID:     newTID,
		PC:      entryPC,
		Stack:   stack.New(frame),
		State:   symstate.Enabled,
		Parents: map[symstate.TID]struct{}{s.ActiveThread: {}},
	}
	s = s.WithThread(newThread)
	return []Outcome{{State: advance(c, s, stmt.PC), Result: Continue}}, nil
}

// stepJoin soft-blocks the active thread until every thread parented to
// it has Finished; readiness itself is re-evaluated every tick by
// package locks' UpdateJoins, called from the driver before each step.
func (c *Context) stepJoin(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	th := s.Active()
	blocked := false
	for _, other := range s.Threads {
		if _, isChild := other.Parents[s.ActiveThread]; isChild && other.State != symstate.Finished {
			blocked = true
			break
		}
	}
	if blocked {
		th.State = symstate.Disabled
		s = s.WithThread(th)
		return []Outcome{{State: s.Record(s.ActiveThread, stmt.PC), Result: Continue}}, nil
	}
	return []Outcome{{State: advance(c, s, stmt.PC), Result: Continue}}, nil
}

func (c *Context) stepLock(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	payload := stmt.Payload.(cfg.LockPayload)
	successors, err := execref.Exec(s, payload.Var, resolver(c), func(s symstate.State, ref expr.Reference) (symstate.State, error) {
		return locks.Acquire(s, ref), nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(successors))
	for _, succ := range successors {
		switch succ.Active().State {
		case symstate.Excepted:
			out = append(out, Outcome{State: succ, Result: NullDereference, Pos: derefPos(s, payload.Var)})
		case symstate.Disabled:
			// Blocked acquire: the thread stays at the lock statement and
			// re-attempts the acquire once a release wakes it (release
			// drops the whole queue, so the retry re-serializes). The
			// attempt is still recorded in the trace so the MPOR gate
			// validates it against this statement's lock access.
			out = append(out, Outcome{State: succ.Record(succ.ActiveThread, stmt.PC), Result: Continue})
		default:
			out = append(out, Outcome{State: advance(c, succ, stmt.PC), Result: Continue})
		}
	}
	return out, nil
}

func (c *Context) stepUnlock(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	payload := stmt.Payload.(cfg.LockPayload)
	successors, err := execref.Exec(s, payload.Var, resolver(c), func(s symstate.State, ref expr.Reference) (symstate.State, error) {
		return locks.Release(s, ref), nil
	})
	if err != nil {
		return nil, err
	}
	return finishEach(c, successors, stmt.PC, Continue, derefPos(s, payload.Var)), nil
}

// stepThrow either branches to a resolved exceptional-clause entry (when
// the engine option is on) or becomes Excepted.
func (c *Context) stepThrow(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	if c.WithExceptionalClauses && stmt.Invocation != nil && len(stmt.Invocation.Targets) > 0 {
		target := stmt.Invocation.Targets[0]
		entryPC, ok := c.EntryLookup(target.Decl, target.Method, nil)
		if ok {
			th := s.Active()
			th.PC = entryPC
			s = s.WithThread(th)
			return []Outcome{{State: s.Record(s.ActiveThread, stmt.PC), Result: Continue}}, nil
		}
	}
	th := s.Active()
	th.State = symstate.Excepted
	s = s.WithThread(th)
	return []Outcome{{State: s, Result: Excepted}}, nil
}

func (c *Context) stepFunctionExit(s symstate.State, stmt *cfg.Statement) ([]Outcome, error) {
	th := s.Active()
	th.State = symstate.Finished
	s = s.WithThread(th)
	return []Outcome{{State: s.Record(s.ActiveThread, stmt.PC), Result: Finish}}, nil
}

package action

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/heap"
	"github.com/aclements/symex/prover"
	"github.com/aclements/symex/split"
	"github.com/aclements/symex/stack"
	"github.com/aclements/symex/symstate"
)

var pos = expr.SourcePos{}

var mainMethod = cfg.MethodID{Decl: "Main", Method: "main"}

func newActionState(pc cfg.PC) symstate.State {
	tids, pids := &symstate.IdCounter{}, &symstate.IdCounter{}
	tid := symstate.TID(tids.Next())
	frame := stack.NewFrame(0, "", false, mainMethod)
	th := symstate.Thread{TID: tid, PC: pc, Stack: stack.New(frame), State: symstate.Enabled}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return symstate.NewState(th, logger, tids, pids)
}

func TestStepAssignVarBindsAndAdvances(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindAssign, Payload: cfg.AssignPayload{
		LHS: cfg.LhsVar{Var: "x"},
		RHS: cfg.RhsExpr{Expr: expr.NewLiteral("int", pos, 7)},
	}}}
	c := &Context{Program: program, Flows: cfg.Flows{0: {1}}}
	s := newActionState(0)

	outcomes, err := c.Step(s)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, Continue, outcomes[0].Result)

	succ := outcomes[0].State
	assert.Equal(t, cfg.PC(1), succ.Active().PC)
	v, ok := succ.Active().Stack.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, 7, v.(*expr.Literal).Value)
	require.Len(t, succ.Trace, 1)
	assert.Equal(t, symstate.TraceEntry{TID: 0, PC: 0}, succ.Trace[0])
}

// TestStepAssignNewObjectAllocatesInSuccessorHeap: the heap cell an
// allocation creates must survive into the successor state, so later
// statements can dereference the returned reference.
func TestStepAssignNewObjectAllocatesInSuccessorHeap(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindAssign, Payload: cfg.AssignPayload{
		LHS: cfg.LhsVar{Var: "m"},
		RHS: cfg.RhsNewObject{ClassName: "Cell"},
	}}}
	c := &Context{Program: program, Flows: cfg.Flows{0: {1}}}

	outcomes, err := c.Step(newActionState(0))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	succ := outcomes[0].State
	v, ok := succ.Active().Stack.Lookup("m")
	require.True(t, ok)
	ref := v.(*expr.Ref)
	obj, ok := succ.Heap.Get(ref.Ref)
	require.True(t, ok, "allocated cell must be present in the successor heap")
	assert.Equal(t, "Cell", obj.(heap.Record).ClassName)
}

// TestStepAssignNewArrayInitializesElements: a fresh unconstrained array
// gets one fresh symbolic value per slot, sized by the engine option.
func TestStepAssignNewArrayInitializesElements(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindAssign, Payload: cfg.AssignPayload{
		LHS: cfg.LhsVar{Var: "a"},
		RHS: cfg.RhsNewArray{ElemType: "int"},
	}}}
	c := &Context{Program: program, Flows: cfg.Flows{0: {1}}, SymbolicArraySize: 3}

	outcomes, err := c.Step(newActionState(0))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	succ := outcomes[0].State
	v, _ := succ.Active().Stack.Lookup("a")
	obj, ok := succ.Heap.Get(v.(*expr.Ref).Ref)
	require.True(t, ok)
	arr := obj.(heap.Array)
	assert.Equal(t, 3, arr.Length)
	for i := 0; i < 3; i++ {
		elem, ok := arr.Elem(i)
		require.True(t, ok)
		assert.IsType(t, &expr.SymbolicVar{}, elem)
	}
}

func TestStepAssumeInfeasibleRetiresPath(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindAssume, Payload: cfg.AssumePayload{
		Cond: expr.NewLiteral("bool", pos, false),
	}}}
	c := &Context{Program: program, Flows: cfg.Flows{0: {1}}, Prover: prover.Fake{Always: prover.Unsat}}

	outcomes, err := c.Step(newActionState(0))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, InfeasiblePath, outcomes[0].Result)
}

// TestStepGuardSymbolicSplitsBothBranches: a guard the evaluator cannot
// fold produces one successor per branch, each at its branch target
// with the guard (or its negation) appended to the path constraint.
func TestStepGuardSymbolicSplitsBothBranches(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindIf, Payload: cfg.GuardPayload{
		Guard: expr.NewSymbolicVar("bool", pos, "g"),
	}}}
	pr := prover.Fake{Always: prover.Sat}
	c := &Context{Program: program, Flows: cfg.Flows{0: {1, 2}}, Prover: pr,
		Splitter: &split.Splitter{Prover: pr, PrunePathZ3: true}}

	outcomes, err := c.Step(newActionState(0))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	var pcs []cfg.PC
	for _, o := range outcomes {
		assert.Equal(t, Continue, o.Result)
		assert.Len(t, o.State.PathConstraint, 1)
		pcs = append(pcs, o.State.Active().PC)
	}
	assert.ElementsMatch(t, []cfg.PC{1, 2}, pcs)
}

// TestStepCallMultiTargetSplits: dynamic dispatch with two resolved
// targets splits the state, pushing one fresh frame per target.
func TestStepCallMultiTargetSplits(t *testing.T) {
	a := cfg.MethodID{Decl: "Impl1", Method: "run"}
	b := cfg.MethodID{Decl: "Impl2", Method: "run"}
	program := cfg.Program{0: {
		PC: 0, Kind: cfg.KindCall,
		Invocation: &cfg.Invocation{Targets: []cfg.MethodID{a, b}},
		Payload:    cfg.AssignPayload{LHS: cfg.LhsVar{Var: "r"}},
	}}
	lookup := func(decl, method string, _ []string) (cfg.PC, bool) {
		switch decl {
		case "Impl1":
			return 10, true
		case "Impl2":
			return 20, true
		default:
			return 0, false
		}
	}
	c := &Context{Program: program, Flows: cfg.Flows{0: {5}}, EntryLookup: lookup}

	outcomes, err := c.Step(newActionState(0))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	var entries []cfg.PC
	for _, o := range outcomes {
		assert.Equal(t, FunctionCall, o.Result)
		entries = append(entries, o.NextPC)
		top := o.State.Active().Stack.Top()
		assert.Equal(t, cfg.PC(5), top.ReturnPC)
		assert.Equal(t, "r", top.ReturningLHS)
		assert.Equal(t, 2, o.State.Active().Stack.Len())
	}
	assert.ElementsMatch(t, []cfg.PC{10, 20}, entries)
}

// TestStepCallBindsThisAndArguments: the callee's fresh frame receives
// the evaluated receiver as "this" and the evaluated arguments bound
// positionally, so the callee's body can look them up.
func TestStepCallBindsThisAndArguments(t *testing.T) {
	target := cfg.MethodID{Decl: "Node", Method: "insert"}
	program := cfg.Program{0: {
		PC: 0, Kind: cfg.KindCall,
		Invocation: &cfg.Invocation{
			Targets: []cfg.MethodID{target},
			This:    expr.NewVar("Node", pos, "n"),
			Args:    []expr.Expression{expr.NewVar("int", pos, "v"), expr.NewLiteral("int", pos, 3)},
		},
		Payload: cfg.AssignPayload{LHS: cfg.LhsVar{Var: "r"}},
	}}
	lookup := func(decl, method string, _ []string) (cfg.PC, bool) {
		return 10, decl == "Node" && method == "insert"
	}
	c := &Context{Program: program, Flows: cfg.Flows{0: {5}}, EntryLookup: lookup}

	s := newActionState(0)
	th := s.Active()
	th.Stack = th.Stack.WithTop(th.Stack.Top().
		WithParam("n", expr.NewRef("Node", pos, 4)).
		WithParam("v", expr.NewLiteral("int", pos, 9)))
	s = s.WithThread(th)

	outcomes, err := c.Step(s)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	top := outcomes[0].State.Active().Stack.Top()
	this, ok := top.Params.Get("this")
	require.True(t, ok)
	assert.Equal(t, expr.Reference(4), this.(*expr.Ref).Ref)
	arg0, ok := top.Params.Get("arg0")
	require.True(t, ok)
	assert.Equal(t, 9, arg0.(*expr.Literal).Value)
	arg1, ok := top.Params.Get("arg1")
	require.True(t, ok)
	assert.Equal(t, 3, arg1.(*expr.Literal).Value)
}

// TestStepGuardPruningFollowsPrunePathZ3: with pruning enabled, a
// prover that refutes every branch constraint drops both successors;
// with it disabled the prover is never consulted and both branches
// survive.
func TestStepGuardPruningFollowsPrunePathZ3(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindIf, Payload: cfg.GuardPayload{
		Guard: expr.NewSymbolicVar("bool", pos, "g"),
	}}}
	pr := prover.Fake{Always: prover.Unsat}

	pruning := &Context{Program: program, Flows: cfg.Flows{0: {1, 2}}, Prover: pr,
		Splitter: &split.Splitter{Prover: pr, PrunePathZ3: true}}
	outcomes, err := pruning.Step(newActionState(0))
	require.NoError(t, err)
	assert.Len(t, outcomes, 0)

	disabled := &Context{Program: program, Flows: cfg.Flows{0: {1, 2}}, Prover: pr,
		Splitter: &split.Splitter{Prover: pr, PrunePathZ3: false}}
	outcomes, err = disabled.Step(newActionState(0))
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
}

func TestStepReturnBindsValueIntoCallerFrame(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindReturn, Payload: cfg.ReturnPayload{
		Value:    expr.NewLiteral("int", pos, 42),
		HasValue: true,
	}}}
	c := &Context{Program: program, Flows: cfg.Flows{}}

	s := newActionState(0)
	th := s.Active()
	th.Stack = th.Stack.Push(stack.NewFrame(7, "r", true, cfg.MethodID{Decl: "Main", Method: "helper"}))
	s = s.WithThread(th)

	outcomes, err := c.Step(s)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, Return, outcomes[0].Result)
	assert.Equal(t, cfg.PC(7), outcomes[0].NextPC)

	succ := outcomes[0].State
	assert.Equal(t, cfg.PC(7), succ.Active().PC)
	assert.Equal(t, 1, succ.Active().Stack.Len())
	v, ok := succ.Active().Stack.Lookup("r")
	require.True(t, ok)
	assert.Equal(t, 42, v.(*expr.Literal).Value)
}

func TestStepReturnFromEntryFrameFinishesThread(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindReturn, Payload: cfg.ReturnPayload{}}}
	c := &Context{Program: program, Flows: cfg.Flows{}}

	outcomes, err := c.Step(newActionState(0))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, Finish, outcomes[0].Result)
	assert.Equal(t, symstate.Finished, outcomes[0].State.Active().State)
}

func TestStepForkAddsEnabledChildWithParent(t *testing.T) {
	worker := cfg.MethodID{Decl: "Worker", Method: "run"}
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindFork, Payload: cfg.ForkPayload{
		Invocation: cfg.Invocation{Targets: []cfg.MethodID{worker}},
		Args:       []expr.Expression{expr.NewLiteral("int", pos, 5)},
	}}}
	lookup := func(decl, method string, _ []string) (cfg.PC, bool) {
		if decl == "Worker" && method == "run" {
			return 10, true
		}
		return 0, false
	}
	c := &Context{Program: program, Flows: cfg.Flows{0: {1}}, EntryLookup: lookup}

	outcomes, err := c.Step(newActionState(0))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, Continue, outcomes[0].Result)

	succ := outcomes[0].State
	assert.Equal(t, cfg.PC(1), succ.Active().PC)
	require.Len(t, succ.Threads, 2)
	child := succ.Threads[1]
	assert.Equal(t, symstate.Enabled, child.State)
	assert.Equal(t, cfg.PC(10), child.PC)
	assert.Contains(t, child.Parents, symstate.TID(0))
	v, ok := child.Stack.Lookup("arg0")
	require.True(t, ok)
	assert.Equal(t, 5, v.(*expr.Literal).Value)
}

// TestStepLockBlockedThreadStaysAtLockStatement: acquiring a held lock
// queues and disables the thread without advancing its pc, so the
// acquire is re-attempted from the same statement once a release wakes
// it.
func TestStepLockBlockedThreadStaysAtLockStatement(t *testing.T) {
	program := cfg.Program{0: {PC: 0, Kind: cfg.KindLock, Payload: cfg.LockPayload{Var: "m"}}}
	c := &Context{Program: program, Flows: cfg.Flows{0: {1}}}

	s := newActionState(0)
	frame := stack.NewFrame(0, "", false, mainMethod).WithParam("m", expr.NewRef("Cell", pos, 1))
	s = s.WithThread(symstate.Thread{TID: 1, PC: 0, Stack: stack.New(frame), State: symstate.Enabled})
	s.ActiveThread = 1
	s.LockQueue[expr.Reference(1)] = []symstate.TID{0} // thread 0 holds

	outcomes, err := c.Step(s)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, Continue, outcomes[0].Result)

	succ := outcomes[0].State
	assert.Equal(t, symstate.Disabled, succ.Active().State)
	assert.Equal(t, cfg.PC(0), succ.Active().PC, "a blocked acquire must not advance past the lock")
	assert.Equal(t, []symstate.TID{0, 1}, succ.LockQueue[expr.Reference(1)])
	require.Len(t, succ.Trace, 1)
}

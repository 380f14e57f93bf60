package split

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
	"github.com/aclements/symex/stack"
	"github.com/aclements/symex/symstate"
)

var pos = expr.SourcePos{}

func newTestState() symstate.State {
	tids, pids := &symstate.IdCounter{}, &symstate.IdCounter{}
	tid := symstate.TID(tids.Next())
	frame := stack.NewFrame(0, "", false, cfg.MethodID{Decl: "Main", Method: "main"})
	th := symstate.Thread{TID: tid, PC: 0, Stack: stack.New(frame), State: symstate.Enabled}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return symstate.NewState(th, logger, tids, pids)
}

func TestConditionalSplitEmitsBothBranchesWhenFeasible(t *testing.T) {
	sp := &Splitter{PrunePathZ3: true, Prover: prover.Fake{Always: prover.Sat}}
	s := newTestState()
	guard := expr.NewSymbolicVar("bool", pos, "g")
	succs, err := sp.Conditional(s, guard, "v", expr.NewLiteral("int", pos, 1), expr.NewLiteral("int", pos, 2))
	require.NoError(t, err)
	require.Len(t, succs, 2)

	v0, _ := succs[0].Active().Stack.Lookup("v")
	v1, _ := succs[1].Active().Stack.Lookup("v")
	assert.Equal(t, 1, v0.(*expr.Literal).Value)
	assert.Equal(t, 2, v1.(*expr.Literal).Value)
	assert.NotEqual(t, succs[0].PathID, succs[1].PathID)
}

func TestConditionalSplitPrunesInfeasibleBranch(t *testing.T) {
	sp := &Splitter{PrunePathZ3: true, Prover: prover.Fake{Always: prover.Unsat}}
	s := newTestState()
	guard := expr.NewSymbolicVar("bool", pos, "g")
	succs, err := sp.Conditional(s, guard, "v", expr.NewLiteral("int", pos, 1), expr.NewLiteral("int", pos, 2))
	require.NoError(t, err)
	assert.Len(t, succs, 0)
}

// TestAliasSplitSubstitutesOccurrencesAcrossBindings: narrowing a
// symbolic reference to one candidate rewrites every occurrence on the
// path — other bindings and accumulated assumptions that mention it —
// not just the variable being resolved.
func TestAliasSplitSubstitutesOccurrencesAcrossBindings(t *testing.T) {
	sp := &Splitter{}
	s := newTestState()
	sym := expr.NewSymbolicRef("Node", pos, "n")
	th := s.Active()
	th.Stack = th.Stack.WithTop(th.Stack.Top().
		WithParam("n", sym).
		WithParam("next", expr.NewFieldAccess("Node", pos, sym, "next")))
	s = s.WithThread(th)
	s = s.Assume(expr.NewBinaryOp("bool", pos, expr.NotEqual, sym, expr.NewLiteral("Node", pos, nil)))

	entry := heap.AliasEntry{Aliases: []expr.Expression{expr.NewRef("Node", pos, 7)}}
	succs, err := sp.Alias(s, "n", entry)
	require.NoError(t, err)
	require.Len(t, succs, 1)

	succ := succs[0]
	next, ok := succ.Active().Stack.Lookup("next")
	require.True(t, ok)
	inner := next.(*expr.FieldAccess).Object
	assert.Equal(t, expr.Reference(7), inner.(*expr.Ref).Ref)

	require.Len(t, succ.PathConstraint, 1)
	left := succ.PathConstraint[0].(*expr.BinaryOp).Left
	assert.Equal(t, expr.Reference(7), left.(*expr.Ref).Ref)
}

func TestAliasSplitEmitsOneSuccessorPerCandidateAndNullException(t *testing.T) {
	sp := &Splitter{}
	s := newTestState()
	entry := heap.AliasEntry{
		Aliases:   []expr.Expression{expr.NewRef("Node", pos, 1), expr.NewRef("Node", pos, 2)},
		MayBeNull: true,
	}
	succs, err := sp.Alias(s, "n", entry)
	require.NoError(t, err)
	require.Len(t, succs, 3)

	assert.Equal(t, symstate.Excepted, succs[2].Active().State)
	v0, _ := succs[0].Active().Stack.Lookup("n")
	assert.Equal(t, expr.Reference(1), v0.(*expr.Ref).Ref)
}

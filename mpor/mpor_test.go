package mpor

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/expr"
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

func TestFieldReadReadNoConflict(t *testing.T) {
	refs := map[expr.Reference]struct{}{1: {}}
	x := symstate.FieldRead{Refs: refs, Field: "f"}
	y := symstate.FieldRead{Refs: refs, Field: "f"}
	assert.False(t, hasAccessConflicts(nil, nil, []symstate.Access{x}, []symstate.Access{y}))
}

func TestFieldWriteWriteSameFieldConflicts(t *testing.T) {
	refs := map[expr.Reference]struct{}{1: {}}
	x := symstate.FieldWrite{Refs: refs, Field: "f"}
	y := symstate.FieldWrite{Refs: refs, Field: "f"}
	assert.True(t, hasAccessConflicts(nil, nil, []symstate.Access{x}, []symstate.Access{y}))
}

func TestFieldWriteDifferentFieldNoConflict(t *testing.T) {
	refs := map[expr.Reference]struct{}{1: {}}
	x := symstate.FieldWrite{Refs: refs, Field: "f"}
	y := symstate.FieldWrite{Refs: refs, Field: "g"}
	assert.False(t, hasAccessConflicts(nil, nil, []symstate.Access{x}, []symstate.Access{y}))
}

func TestFieldWriteDisjointRefsNoConflict(t *testing.T) {
	x := symstate.FieldWrite{Refs: map[expr.Reference]struct{}{1: {}}, Field: "f"}
	y := symstate.FieldWrite{Refs: map[expr.Reference]struct{}{2: {}}, Field: "f"}
	assert.False(t, hasAccessConflicts(nil, nil, []symstate.Access{x}, []symstate.Access{y}))
}

func TestElemWriteConflictUsesProverUnknownConservatively(t *testing.T) {
	refs := map[expr.Reference]struct{}{1: {}}
	pr := prover.Fake{Always: prover.Unknown}
	x := symstate.ElemWrite{Refs: refs, Index: expr.NewSymbolicVar("int", pos, "i")}
	y := symstate.ElemWrite{Refs: refs, Index: expr.NewSymbolicVar("int", pos, "j")}
	assert.True(t, hasAccessConflicts(pr, nil, []symstate.Access{x}, []symstate.Access{y}))
}

func TestElemWriteNoConflictWhenProvablyDistinct(t *testing.T) {
	refs := map[expr.Reference]struct{}{1: {}}
	pr := prover.Fake{Always: prover.Unsat}
	x := symstate.ElemWrite{Refs: refs, Index: expr.NewLiteral("int", pos, 1)}
	y := symstate.ElemWrite{Refs: refs, Index: expr.NewLiteral("int", pos, 2)}
	assert.False(t, hasAccessConflicts(pr, nil, []symstate.Access{x}, []symstate.Access{y}))
}

func TestFinishedThreadConflictsWithJoinOfParent(t *testing.T) {
	x := symstate.FinishedThread{Parents: map[symstate.TID]struct{}{5: {}}}
	y := symstate.Join{TID: 5}
	assert.True(t, hasAccessConflicts(nil, nil, []symstate.Access{x}, []symstate.Access{y}))
}

func TestValidateRejectsHigherTidWithoutConflict(t *testing.T) {
	s := newTestState()
	s = s.WithThread(symstate.Thread{TID: 1, State: symstate.Enabled, PrevAccesses: []symstate.Access{
		symstate.FieldRead{Refs: map[expr.Reference]struct{}{9: {}}, Field: "f"},
	}})
	s.ActiveThread = 0

	curr := []symstate.Access{symstate.FieldRead{Refs: map[expr.Reference]struct{}{8: {}}, Field: "f"}}
	_, ok := Validate(s, curr, nil)
	assert.False(t, ok, "thread 1's prev access doesn't conflict with thread 0's current access: reject")
}

func TestValidateAcceptsWhenConflictClearsHigherTid(t *testing.T) {
	s := newTestState()
	s = s.WithThread(symstate.Thread{TID: 1, State: symstate.Enabled, PrevAccesses: []symstate.Access{
		symstate.FieldWrite{Refs: map[expr.Reference]struct{}{9: {}}, Field: "f"},
	}})
	s.ActiveThread = 0

	curr := []symstate.Access{symstate.FieldWrite{Refs: map[expr.Reference]struct{}{9: {}}, Field: "f"}}
	s2, ok := Validate(s, curr, nil)
	require.True(t, ok)
	assert.Nil(t, s2.Threads[1].PrevAccesses)
	assert.Equal(t, curr, s2.Threads[0].PrevAccesses)
}

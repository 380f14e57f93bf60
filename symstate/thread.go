// Package symstate implements the per-path State: thread table, heap,
// alias map, lock requests, path trace, and the MPOR access-set
// bookkeeping that rides along on each Thread.
package symstate

import (
	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/stack"
)

// TID identifies a modeled thread.
type TID int

// ThreadState is the discriminated state a modeled thread occupies.
type ThreadState int

const (
	Enabled ThreadState = iota
	Disabled
	Finished
	Excepted
)

func (s ThreadState) String() string {
	switch s {
	case Enabled:
		return "Enabled"
	case Disabled:
		return "Disabled"
	case Finished:
		return "Finished"
	case Excepted:
		return "Excepted"
	default:
		return "ThreadState(?)"
	}
}

// Access is one element of the per-statement access set the MPOR filter
// compares across threads (package mpor).
type Access interface {
	isAccess()
}

type FieldRead struct {
	Refs  map[expr.Reference]struct{}
	Field string
}
type FieldWrite struct {
	Refs  map[expr.Reference]struct{}
	Field string
}
type ElemRead struct {
	Refs  map[expr.Reference]struct{}
	Index expr.Expression
}
type ElemWrite struct {
	Refs  map[expr.Reference]struct{}
	Index expr.Expression
}
type LockAction struct {
	Refs map[expr.Reference]struct{}
}
type Join struct {
	TID TID
}
type FinishedThread struct {
	Parents map[TID]struct{}
}

func (FieldRead) isAccess()      {}
func (FieldWrite) isAccess()     {}
func (ElemRead) isAccess()       {}
func (ElemWrite) isAccess()      {}
func (LockAction) isAccess()     {}
func (Join) isAccess()           {}
func (FinishedThread) isAccess() {}

// Thread is one modeled thread of the subject program. It is a plain,
// copyable record, not a goroutine: the engine never runs the subject
// program's threads concretely, it only advances this record's pc/stack
// one CFG statement at a time.
type Thread struct {
	TID     TID
	PC      cfg.PC
	Stack   stack.Stack
	State   ThreadState
	Parents map[TID]struct{} // for Join readiness

	// PrevAccesses is the access set of this thread's last committed
	// statement — empty but non-nil when that statement accessed nothing
	// — or nil if the thread hasn't committed anything yet / was cleared
	// by a conflict (package mpor).
	PrevAccesses []Access
}

// Clone returns a value copy of t. Stack is already persistent; Parents
// and PrevAccesses are copied defensively since they're plain maps/
// slices (small, thread-local, not worth persistent-structure overhead).
func (t Thread) Clone() Thread {
	parents := make(map[TID]struct{}, len(t.Parents))
	for k := range t.Parents {
		parents[k] = struct{}{}
	}
	var accesses []Access
	if t.PrevAccesses != nil {
		// Preserve the nil/empty distinction: an empty-but-present access
		// set still arms the MPOR quasi-monotonicity gate (package mpor).
		accesses = make([]Access, len(t.PrevAccesses))
		copy(accesses, t.PrevAccesses)
	}
	t.Parents = parents
	t.PrevAccesses = accesses
	return t
}

// Package stack implements the per-thread call stack: an ordered
// sequence of frames with name -> expression lookup and lexical
// shadowing.
package stack

import (
	"github.com/benbjohnson/immutable"

	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/expr"
)

type strHasher struct{}

func (strHasher) Hash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
func (strHasher) Equal(a, b string) bool { return a == b }

var strHash = &strHasher{}

// Frame carries the data one call activation needs: where to resume the
// caller, where to deposit the return value, the parameter environment,
// and which method body is executing.
type Frame struct {
	ReturnPC     cfg.PC
	ReturningLHS string // empty if the call's result is discarded
	HasLHS       bool
	Params       *immutable.Map[string, expr.Expression]
	Method       cfg.MethodID
}

// NewFrame returns a frame with an empty parameter environment.
func NewFrame(returnPC cfg.PC, returningLHS string, hasLHS bool, method cfg.MethodID) Frame {
	return Frame{
		ReturnPC:     returnPC,
		ReturningLHS: returningLHS,
		HasLHS:       hasLHS,
		Params:       immutable.NewMap[string, expr.Expression](strHash),
		Method:       method,
	}
}

// WithParam returns a copy of f with name bound to value.
func (f Frame) WithParam(name string, value expr.Expression) Frame {
	f.Params = f.Params.Set(name, value)
	return f
}

// Stack is an immutable, ordered sequence of frames; the last element is
// the top of the stack (the currently executing activation).
type Stack struct {
	frames *immutable.List[Frame]
}

// New returns a stack with a single frame.
func New(f Frame) Stack {
	l := immutable.NewList[Frame]()
	l = l.Append(f)
	return Stack{frames: l}
}

// Push returns a new Stack with f on top.
func (s Stack) Push(f Frame) Stack {
	return Stack{frames: s.frames.Append(f)}
}

// Pop returns a new Stack with the top frame removed, and the popped
// frame itself.
func (s Stack) Pop() (Stack, Frame) {
	n := s.frames.Len()
	top := s.frames.Get(n - 1)
	return Stack{frames: s.frames.Slice(0, n-1)}, top
}

// Top returns the currently executing frame.
func (s Stack) Top() Frame {
	return s.frames.Get(s.frames.Len() - 1)
}

// Len returns the number of frames.
func (s Stack) Len() int { return s.frames.Len() }

// Lookup walks the stack top-down, returning the first binding for
// name: the top frame shadows lower ones.
func (s Stack) Lookup(name string) (expr.Expression, bool) {
	for i := s.frames.Len() - 1; i >= 0; i-- {
		if v, ok := s.frames.Get(i).Params.Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// WithTop returns a new Stack where the top frame is replaced by f.
func (s Stack) WithTop(f Frame) Stack {
	n := s.frames.Len()
	return Stack{frames: s.frames.Set(n-1, f)}
}

// Package driver implements the search driver:
// ExecuteInstructionForAllStates advances a set of states (all sitting
// at the same program point) by one instruction, gating each candidate
// thread transition through MPOR, then stepping every resulting state
// through one action, routing successors back out keyed by their new
// program point.
package driver

import (
	"time"

	"github.com/aclements/symex/action"
	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/locks"
	"github.com/aclements/symex/mpor"
	"github.com/aclements/symex/prover"
	"github.com/aclements/symex/symstate"
)

// Context carries the collaborators ExecuteInstructionForAllStates needs
// that aren't already threaded per-call: the program/flows (for routing)
// and the time/length budgets.
type Context struct {
	Program       cfg.Program
	Action        *action.Context
	Prover        prover.Prover
	MaxPathLength int
	TimeBudget    time.Duration
	StartTime     time.Time
}

// Outcome is one invalid verification result surfaced out of a search
// tick, carrying the action.Result that produced it (InvalidAssertion,
// InvalidFork, or NullDereference) and the source position to report.
type Outcome struct {
	Kind action.Result
	Pos  expr.SourcePos
}

// ExecuteInstructionForAllStates advances every state in states by one
// instruction. states must be non-empty — an empty slice can only come
// from an engine bug, so it panics rather than erroring. The states of
// one frontier leaf share a pc; each is scheduled by its own thread
// table, so they need not share an active thread.
func (c *Context) ExecuteInstructionForAllStates(states []symstate.State) (map[cfg.PC][]symstate.State, *Outcome, error) {
	if len(states) == 0 {
		panic("driver: ExecuteInstructionForAllStates called with no states")
	}

	var scheduled []symstate.State
	for _, s := range states {
		if len(s.Trace) > 0 {
			last := s.Trace[len(s.Trace)-1]
			if stmt, ok := c.Program[last.PC]; ok {
				curr := mpor.AccessesFor(s, stmt)
				var gateOK bool
				s, gateOK = mpor.Validate(s, curr, c.Prover)
				if !gateOK {
					continue
				}
			}
		}

		s = locks.UpdateJoins(s, c.Program)
		if locks.Deadlocked(s) {
			return nil, &Outcome{Kind: action.InvalidFork, Pos: expr.SourcePos{}}, nil
		}

		for _, tid := range s.EnabledThreads() {
			next := s.Clone()
			next.ActiveThread = tid
			scheduled = append(scheduled, next)
		}
	}

	resulting := map[cfg.PC][]symstate.State{}
	for len(scheduled) > 0 {
		n := len(scheduled) - 1
		s := scheduled[n]
		scheduled = scheduled[:n]

		s = s.Record(s.ActiveThread, s.Active().PC)

		if c.budgetExceeded(s) {
			th := s.Active()
			th.State = symstate.Finished
			s = s.WithThread(th)
			continue
		}

		outcomes, err := c.Action.Step(withoutDoubleRecord(s))
		if err != nil {
			return nil, nil, err
		}
		for _, o := range outcomes {
			switch o.Result {
			case action.InvalidAssertion, action.InvalidFork, action.NullDereference:
				return nil, &Outcome{Kind: o.Result, Pos: o.Pos}, nil
			case action.Finish:
				// The active thread is done, but the state survives: other
				// threads may still be live (a joiner waiting on this one,
				// for instance). Route it back out like any other successor;
				// a state with no Enabled thread left produces no transitions
				// next tick and retires then.
				pc := o.State.Active().PC
				resulting[pc] = append(resulting[pc], o.State)
			case action.Excepted, action.InfeasiblePath:
				continue
			default:
				pc := o.State.Active().PC
				resulting[pc] = append(resulting[pc], o.State)
			}
		}
	}
	return resulting, nil, nil
}

// withoutDoubleRecord undoes the trace append ExecuteInstructionForAllStates
// just made before handing s to action.Context.Step, which records its own
// trace entry for the statement it actually executes. The pre-step record
// exists only so the budget check sees the attempt; keeping both would
// double-count path length.
func withoutDoubleRecord(s symstate.State) symstate.State {
	if len(s.Trace) > 0 {
		s.Trace = s.Trace[:len(s.Trace)-1]
		s.PathLength--
	}
	return s
}

func (c *Context) budgetExceeded(s symstate.State) bool {
	if c.MaxPathLength > 0 && s.PathLength >= c.MaxPathLength {
		return true
	}
	if c.TimeBudget > 0 && time.Since(c.StartTime) >= c.TimeBudget {
		return true
	}
	return false
}

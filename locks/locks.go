// Package locks implements the lock-queue discipline, join readiness,
// and the deadlock check. Acquire/Release are called by package action
// inside an execref.OverRef closure — the reference resolution that
// precedes them is identical for both and already lives in package
// execref.
package locks

import (
	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/symstate"
)

// Acquire resolves a lock attempt on ref: if the lock is free, the
// active thread becomes its sole queue entry (the holder) and stays
// Enabled; if already held, the active thread joins the wait queue and
// becomes Disabled.
func Acquire(s symstate.State, ref expr.Reference) symstate.State {
	queue, held := s.LockQueue[ref]
	newQueue := make(map[expr.Reference][]symstate.TID, len(s.LockQueue)+1)
	for r, q := range s.LockQueue {
		newQueue[r] = q
	}
	if !held {
		newQueue[ref] = []symstate.TID{s.ActiveThread}
		s.LockQueue = newQueue
		return s
	}
	newQueue[ref] = append(append([]symstate.TID(nil), queue...), s.ActiveThread)
	s.LockQueue = newQueue

	th := s.Active()
	th.State = symstate.Disabled
	return s.WithThread(th)
}

// Release drops ref's queue entirely and wakes every waiter it held —
// not just the FIFO head. The wake is a broadcast: the next Acquire by
// any woken thread re-serializes them.
func Release(s symstate.State, ref expr.Reference) symstate.State {
	queue, ok := s.LockQueue[ref]
	if !ok {
		return s
	}
	newQueue := make(map[expr.Reference][]symstate.TID, len(s.LockQueue))
	for r, q := range s.LockQueue {
		if r == ref {
			continue
		}
		newQueue[r] = q
	}
	s.LockQueue = newQueue

	// queue[0] is the holder (the thread now releasing); everyone past
	// it was waiting and wakes up.
	for _, tid := range queue[1:] {
		th, ok := s.Threads[tid]
		if !ok {
			continue
		}
		th.State = symstate.Enabled
		s = s.WithThread(th)
	}
	return s
}

// UpdateJoins re-evaluates every thread currently sitting at a Join
// statement: Disabled while any thread parented to it has not yet
// Finished, Enabled otherwise. Called once per driver tick before
// stepping.
func UpdateJoins(s symstate.State, program cfg.Program) symstate.State {
	for tid, th := range s.Threads {
		stmt, ok := program[th.PC]
		if !ok || stmt.Kind != cfg.KindJoin {
			continue
		}
		if th.State == symstate.Finished {
			continue
		}
		blocked := false
		for _, other := range s.Threads {
			if _, isChild := other.Parents[tid]; isChild && other.State != symstate.Finished {
				blocked = true
				break
			}
		}
		next := th
		if blocked {
			next.State = symstate.Disabled
		} else {
			next.State = symstate.Enabled
		}
		s = s.WithThread(next)
	}
	return s
}

// Deadlocked reports whether s has no runnable thread: no thread
// Enabled, the root thread (tid 0) not Finished, and no thread Excepted
// (an exception already explains the stall).
//
// Deadlock is a reportable verification outcome, not an engine bug — a
// subject program that genuinely deadlocks is a valid (if unfortunate)
// program under test, and the caller needs a position back, not a
// crash. So Deadlocked stays a pure predicate the driver checks per
// tick and turns into an action.InvalidFork outcome.
func Deadlocked(s symstate.State) bool {
	anyEnabled := false
	anyExcepted := false
	for _, th := range s.Threads {
		if th.State == symstate.Enabled {
			anyEnabled = true
		}
		if th.State == symstate.Excepted {
			anyExcepted = true
		}
	}
	root, ok := s.Threads[0]
	rootFinished := ok && root.State == symstate.Finished
	return !anyEnabled && !rootFinished && !anyExcepted
}

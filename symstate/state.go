package symstate

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/heap"
)

// PathID identifies one exploration path (one State lineage).
type PathID uint64

// IdCounter is a monotonic, process-wide id source. It is not
// goroutine-safe by design: the search driver is single-threaded and
// cooperative, so the counters are only ever touched from one
// goroutine.
type IdCounter struct {
	next uint64
}

// Next returns the next id and advances the counter.
func (c *IdCounter) Next() uint64 {
	v := c.next
	c.next++
	return v
}

// TraceEntry is one committed (thread, pc) pair in a path's history.
type TraceEntry struct {
	TID TID
	PC  uint64
}

// State is one symbolic execution state: the thread table plus the
// shared heap/alias-map/path-constraint/trace it closes over.
type State struct {
	Threads      map[TID]Thread
	ActiveThread TID

	Heap      heap.Heap
	AliasMap  heap.AliasMap
	LockQueue map[expr.Reference][]TID // Reference -> FIFO queue of waiting tids; head holds

	PathID         PathID
	Trace          []TraceEntry
	PathLength     int
	PathConstraint []expr.Expression // accumulated assumptions, conjunctive

	Logger *slog.Logger

	ThreadIDs *IdCounter
	PathIDs   *IdCounter
}

// NewState returns a fresh State whose thread table holds only
// entryThread, which is also the active thread, with a fresh path id and
// a logger scoped by that path id.
func NewState(entryThread Thread, logger *slog.Logger, threadIDs, pathIDs *IdCounter) State {
	pid := PathID(pathIDs.Next())
	return State{
		Threads:      map[TID]Thread{entryThread.TID: entryThread},
		ActiveThread: entryThread.TID,
		Heap:         heap.NewHeap(),
		AliasMap:     heap.NewAliasMap(),
		LockQueue:    map[expr.Reference][]TID{},
		PathID:       pid,
		Logger:       logger.With("path_id", pid),
		ThreadIDs:    threadIDs,
		PathIDs:      pathIDs,
	}
}

// Clone returns a deep-enough copy of s for use as an independent
// successor: the thread table is copied at the thread level, while
// Heap/AliasMap are persistent structures and need no copying at all.
func (s State) Clone() State {
	threads := make(map[TID]Thread, len(s.Threads))
	for tid, th := range s.Threads {
		threads[tid] = th.Clone()
	}
	trace := append([]TraceEntry(nil), s.Trace...)
	constraint := append([]expr.Expression(nil), s.PathConstraint...)
	lockQueue := make(map[expr.Reference][]TID, len(s.LockQueue))
	for r, q := range s.LockQueue {
		lockQueue[r] = append([]TID(nil), q...)
	}
	s.Threads = threads
	s.Trace = trace
	s.PathConstraint = constraint
	s.LockQueue = lockQueue
	return s
}

// Active returns the currently active thread. Panics if the active tid
// is not in the table — an engine invariant violation, never a user-
// reachable error.
func (s State) Active() Thread {
	t, ok := s.Threads[s.ActiveThread]
	if !ok {
		panic(fmt.Sprintf("symstate: active thread %d not in thread table", s.ActiveThread))
	}
	return t
}

// WithThread returns a copy of s with t installed in the thread table.
func (s State) WithThread(t Thread) State {
	threads := make(map[TID]Thread, len(s.Threads))
	for tid, th := range s.Threads {
		threads[tid] = th
	}
	threads[t.TID] = t
	s.Threads = threads
	return s
}

// Record appends one trace entry and increments path length. Within one
// state the trace is append-only.
func (s State) Record(tid TID, pc uint64) State {
	s.Trace = append(append([]TraceEntry(nil), s.Trace...), TraceEntry{TID: tid, PC: pc})
	s.PathLength++
	return s
}

// Assume extends the path constraint by cond.
func (s State) Assume(cond expr.Expression) State {
	s.PathConstraint = append(append([]expr.Expression(nil), s.PathConstraint...), cond)
	return s
}

// EnabledThreads returns the tids currently in the Enabled state, in
// ascending tid order — the order MPOR's quasi-monotonicity gate
// depends on (package mpor).
func (s State) EnabledThreads() []TID {
	var out []TID
	for tid, th := range s.Threads {
		if th.State == Enabled {
			out = append(out, tid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Package engine implements the top-level orchestration: Verify ties
// the execution tree (package tree), the leaf-picking heuristics
// (package heuristic) and the search driver (package driver) into the
// outer loop — the heuristic picks one leaf per iteration and feeds it
// to the driver; the returned map of pc -> states replaces that leaf
// with a node. The prover and statistics travel on explicit context
// values, never process-wide singletons.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aclements/symex/action"
	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/driver"
	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/heuristic"
	"github.com/aclements/symex/prover"
	"github.com/aclements/symex/split"
	"github.com/aclements/symex/stack"
	"github.com/aclements/symex/symstate"
	"github.com/aclements/symex/tree"
)

// Verdict is the three-way outer result of Verify.
type Verdict int

const (
	Valid Verdict = iota
	Invalid
	TimedOut
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case TimedOut:
		return "timed out"
	default:
		return "Verdict(?)"
	}
}

// SymResult is Verify's return value: a verdict plus, for Invalid, the
// source position of the violated assertion or fork.
type SymResult struct {
	Verdict Verdict
	Pos     expr.SourcePos // meaningful only when Verdict == Invalid
}

// Collaborators bundles the data Verify receives from its external
// collaborators: the CFG builder's flat program and flow graph, the
// symbol table's method-entry resolution, and (if the caller already
// has an external prover wired up) the prover capability. ProgramPaths
// is carried through purely as diagnostic metadata (logged, never
// opened) — parsing source into compilation units is the
// parser+typer+CFG-builder front end's job; this module only ever sees
// their already-built output.
type Collaborators struct {
	ProgramPaths []string
	Program      cfg.Program
	Flows        cfg.Flows
	EntryLookup  cfg.EntryLookup

	// Prover is the external solver backend. Nil means "use
	// only the local syntactic solver" (prover.Local with no
	// fallback) — exercising it alone is a legitimate configuration
	// for programs whose assertions are all decidable without an SMT
	// call.
	Prover prover.Prover
}

// Statistics accumulates prover-call counts (via the embedded
// prover.Statistics) plus the engine's own path/state bookkeeping.
type Statistics struct {
	prover.Statistics

	PathsExplored int
	StatesRetired int
	OuterTicks    int

	// EntryMethodStatements/EntryMethodCovered count only the entry
	// method's own CFG (via cfg.PostOrder from its entry pc), not the
	// whole program: computing reachability across call sites would
	// need the same method-cost machinery as heuristic.MD2U, which is
	// more than a plain coverage percentage needs.
	EntryMethodStatements int
	EntryMethodCovered    int
}

// Verify explores program from entryClass.entryMethod up to the bounds
// in options, reporting the first violated assertion/fork it finds, a
// clean result if the whole tree retires without one, or a time-out if
// the wall-clock budget expires first.
func Verify(collab Collaborators, entryClass, entryMethod string, options Options) (SymResult, *Statistics, error) {
	if err := options.Validate(); err != nil {
		return SymResult{}, nil, err
	}

	entryPC, ok := collab.EntryLookup(entryClass, entryMethod, nil)
	if !ok {
		return SymResult{}, nil, fmt.Errorf("engine: no entry point %s.%s", entryClass, entryMethod)
	}

	logger, closeLog, err := newLogger(options)
	if err != nil {
		return SymResult{}, nil, err
	}
	defer closeLog()
	logger.Info("verify starting",
		"entry", entryClass+"."+entryMethod,
		"program_paths", collab.ProgramPaths,
		"heuristic", options.Heuristic.String())

	stats := &Statistics{}
	pr := buildProver(collab.Prover, options, &stats.Statistics)

	actionCtx := &action.Context{
		Program:                collab.Program,
		Flows:                  collab.Flows,
		EntryLookup:            collab.EntryLookup,
		Prover:                 pr,
		Splitter:               &split.Splitter{Prover: pr, PrunePathZ3: options.PrunePathZ3},
		SymbolicArraySize:      options.SymbolicArraySize,
		WithExceptionalClauses: options.WithExceptionalClauses,
	}

	driverCtx := &driver.Context{
		Program:       collab.Program,
		Action:        actionCtx,
		Prover:        pr,
		MaxPathLength: options.K,
		TimeBudget:    options.TimeBudget,
		StartTime:     time.Now(),
	}

	threadIDs, pathIDs := &symstate.IdCounter{}, &symstate.IdCounter{}
	entryTID := symstate.TID(threadIDs.Next())
	entryMethodID := cfg.MethodID{Decl: entryClass, Method: entryMethod}
	frame := stack.NewFrame(0, "", false, entryMethodID)
	entryThread := symstate.Thread{TID: entryTID, PC: entryPC, Stack: stack.New(frame), State: symstate.Enabled}
	initial := symstate.NewState(entryThread, logger, threadIDs, pathIDs)
	stats.PathsExplored++

	seq := &tree.Counter{}
	root := tree.NewRoot(seq, tree.Key{ActiveThread: initial.ActiveThread, PC: entryPC}, []symstate.State{initial})

	coverage := map[cfg.PC]struct{}{}
	h, cov := newHeuristic(options, collab, entryClass, entryMethod, coverage)

	entryMethodPCs := cfg.PostOrder(collab.Flows, entryPC)
	stats.EntryMethodStatements = len(entryMethodPCs)

	finish := func(verdict Verdict, pos expr.SourcePos) (SymResult, *Statistics, error) {
		for _, pc := range entryMethodPCs {
			if _, ok := coverage[pc]; ok {
				stats.EntryMethodCovered++
			}
		}
		logger.Info("verify finished", "verdict", verdict.String(), "outer_ticks", stats.OuterTicks)
		return SymResult{Verdict: verdict, Pos: pos}, stats, nil
	}

	for {
		if options.TimeBudget > 0 && time.Since(driverCtx.StartTime) >= options.TimeBudget {
			return finish(TimedOut, expr.SourcePos{})
		}

		leaf := h.Pick(root)
		if leaf == nil {
			return finish(Valid, expr.SourcePos{})
		}

		stats.OuterTicks++
		states := leaf.Leaf().States
		for _, s := range states {
			coverage[s.Active().PC] = struct{}{}
		}
		if cov != nil {
			cov.Invalidate()
		}

		resulting, outcome, err := driverCtx.ExecuteInstructionForAllStates(states)
		if err != nil {
			return SymResult{}, stats, fmt.Errorf("engine: %w", err)
		}
		if outcome != nil {
			logger.Info("verify found a violation", "kind", outcome.Kind.String(), "pos", outcome.Pos.String())
			return finish(Invalid, outcome.Pos)
		}

		if len(resulting) == 0 {
			// Every scheduled transition from this leaf retired silently
			// (InfeasiblePath/Excepted/budget-Finished). A true
			// return means the pruning walk reached the root: the whole
			// search space is explored. Checking it here (not just via the
			// next Pick) matters when the root is itself still the only
			// leaf — there is no parent edge to detach, so Pick would hand
			// the same retired leaf back forever.
			stats.StatesRetired += len(states)
			if tree.FinishStateInPath(leaf) {
				return finish(Valid, expr.SourcePos{})
			}
			continue
		}
		leaf.Expand(seq, activeThreadForStates, resulting)
	}
}

// invalidator is the narrow capability a coverage-directed heuristic
// exposes so the outer loop can tell it coverage changed (currently
// only MD2U). newHeuristic returns it separately from the
// heuristic.Heuristic value itself because RoundRobinMD2URandomPath
// wraps an MD2U inside a combinator that has nothing of its own to
// invalidate — the outer loop needs a handle straight to the MD2U
// instance, not to whatever wrapper happens to implement Pick.
type invalidator interface {
	Invalidate()
}

func activeThreadForStates(states []symstate.State) symstate.TID {
	if len(states) == 0 {
		return 0
	}
	return states[0].ActiveThread
}

func newHeuristic(options Options, collab Collaborators, entryClass, entryMethod string, coverage map[cfg.PC]struct{}) (heuristic.Heuristic, invalidator) {
	md2u := &heuristic.MD2U{
		Entry:       cfg.MethodID{Decl: entryClass, Method: entryMethod},
		Coverage:    coverage,
		Program:     collab.Program,
		Flows:       collab.Flows,
		EntryLookup: collab.EntryLookup,
	}
	switch options.Heuristic {
	case MD2U:
		return md2u, md2u
	case RandomPath:
		return heuristic.RandomPath{}, nil
	case RoundRobinMD2URandomPath:
		return &heuristic.RoundRobin{A: md2u, B: heuristic.RandomPath{}}, md2u
	default:
		return heuristic.DFS{}, nil
	}
}

// buildProver wraps the caller's external prover (if any) behind the
// local syntactic short-circuit, instrumented for call counting. A nil
// LocalSolvingThreshold maps to prover.Local's own zero-Threshold
// behavior: no conjunct-count cap, so the cheap local path is always
// tried first rather than skipped.
func buildProver(ext prover.Prover, options Options, stats *prover.Statistics) prover.Prover {
	threshold := 0
	if options.LocalSolvingThreshold != nil {
		threshold = *options.LocalSolvingThreshold
	}
	var fallback prover.Prover
	if ext != nil {
		fallback = &prover.Instrumented{Next: ext, Stats: stats}
	}
	return &prover.Local{Threshold: threshold, Fallback: fallback}
}

func newLogger(options Options) (*slog.Logger, func(), error) {
	if options.DiscardLogs || options.LogPath == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(options.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: opening log path %q: %w", options.LogPath, err)
	}
	level := slog.LevelInfo
	if options.Quiet {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { f.Close() }, nil
}

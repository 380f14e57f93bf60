package engine

import (
	"fmt"
	"time"
)

// HeuristicKind selects which leaf-picking strategy the outer loop
// wires up.
type HeuristicKind int

const (
	DFS HeuristicKind = iota
	MD2U
	RandomPath
	RoundRobinMD2URandomPath
)

func (k HeuristicKind) String() string {
	switch k {
	case DFS:
		return "dfs"
	case MD2U:
		return "md2u"
	case RandomPath:
		return "random-path"
	case RoundRobinMD2URandomPath:
		return "round-robin-md2u-random-path"
	default:
		return fmt.Sprintf("HeuristicKind(%d)", int(k))
	}
}

// Options is the caller-supplied engine configuration. It is a plain
// struct: loading it from flags or a config file is the CLI's job, not
// this module's.
type Options struct {
	// K bounds the number of committed statements on any one path.
	// Zero means unbounded.
	K int

	Quiet                  bool
	WithExceptionalClauses bool
	Heuristic              HeuristicKind
	VisualizeHeuristic     bool
	VisualizeCoverage      bool

	// SymbolicArraySize bounds the element count the engine assumes
	// for an unconstrained array.
	SymbolicArraySize int

	// TimeBudget is the wall-clock budget re-checked at each statement.
	// Zero means unbounded.
	TimeBudget time.Duration

	LogPath     string
	DiscardLogs bool

	PrunePathZ3 bool

	// LocalSolvingThreshold caps how large a conjunction prover.Local
	// will attempt before delegating to the external backend. nil and
	// zero both mean no cap at all, so the local syntactic solver is
	// always tried before falling back (see buildProver).
	LocalSolvingThreshold *int
}

// Validate rejects options the engine cannot act on, the way a library
// validates caller-supplied config without owning how it was produced.
func (o Options) Validate() error {
	if o.K < 0 {
		return fmt.Errorf("engine: K must be non-negative, got %d", o.K)
	}
	if o.TimeBudget < 0 {
		return fmt.Errorf("engine: TimeBudget must be non-negative, got %s", o.TimeBudget)
	}
	if o.SymbolicArraySize < 0 {
		return fmt.Errorf("engine: SymbolicArraySize must be non-negative, got %d", o.SymbolicArraySize)
	}
	if o.LocalSolvingThreshold != nil && *o.LocalSolvingThreshold < 0 {
		return fmt.Errorf("engine: LocalSolvingThreshold must be non-negative, got %d", *o.LocalSolvingThreshold)
	}
	switch o.Heuristic {
	case DFS, MD2U, RandomPath, RoundRobinMD2URandomPath:
	default:
		return fmt.Errorf("engine: unknown heuristic %d", int(o.Heuristic))
	}
	return nil
}

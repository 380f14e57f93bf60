// Command symex is a minimal demonstration front end for package engine.
// It does not parse source itself — parsing, type checking and CFG
// construction are external collaborators this repository doesn't
// implement — so it runs engine.Verify against one of a couple of
// small, hand-built sample programs selected by -sample, purely to
// exercise the engine end to end.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aclements/symex/cfg"
	"github.com/aclements/symex/engine"
	"github.com/aclements/symex/expr"
)

var (
	sample      = flag.String("sample", "assert-ok", "sample program to run: assert-ok or assert-fail")
	k           = flag.Int("k", 100, "path-length bound")
	timeBudget  = flag.Duration("time-budget", 0, "wall-clock budget (0 = unbounded)")
	heuristicFl = flag.String("heuristic", "dfs", "leaf heuristic: dfs, md2u, random-path, round-robin")
	logPath     = flag.String("log", "", "log file path (empty = discard)")
	quiet       = flag.Bool("quiet", false, "only log warnings and above")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	h, err := parseHeuristic(*heuristicFl)
	if err != nil {
		log.Fatal(err)
	}

	program, flows, entryLookup := sampleProgram(*sample)
	if program == nil {
		log.Fatalf("unknown -sample %q", *sample)
	}

	options := engine.Options{
		K:           *k,
		Quiet:       *quiet,
		Heuristic:   h,
		TimeBudget:  *timeBudget,
		LogPath:     *logPath,
		DiscardLogs: *logPath == "",
	}

	result, stats, err := engine.Verify(engine.Collaborators{
		Program:     program,
		Flows:       flows,
		EntryLookup: entryLookup,
	}, "Main", "main", options)
	if err != nil {
		log.Fatal(err)
	}

	switch result.Verdict {
	case engine.Valid:
		fmt.Println("valid")
	case engine.TimedOut:
		fmt.Println("timed out")
	case engine.Invalid:
		fmt.Printf("invalid: %s\n", result.Pos)
	}
	fmt.Printf("outer ticks: %d, paths: %d, prover calls: %d\n",
		stats.OuterTicks, stats.PathsExplored, stats.Calls)
}

func parseHeuristic(s string) (engine.HeuristicKind, error) {
	switch s {
	case "dfs":
		return engine.DFS, nil
	case "md2u":
		return engine.MD2U, nil
	case "random-path":
		return engine.RandomPath, nil
	case "round-robin":
		return engine.RoundRobinMD2URandomPath, nil
	default:
		return 0, fmt.Errorf("unknown -heuristic %q", s)
	}
}

// sampleProgram builds one of a few tiny hand-assembled CFGs in place of
// a real parser+CFG-builder front end.
func sampleProgram(name string) (cfg.Program, cfg.Flows, cfg.EntryLookup) {
	pos := func(line int) expr.SourcePos { return expr.SourcePos{Line: line} }

	switch name {
	case "assert-ok", "assert-fail":
		cond := expr.Expression(expr.NewLiteral("bool", pos(2), true))
		if name == "assert-fail" {
			cond = expr.NewLiteral("bool", pos(2), false)
		}
		program := cfg.Program{
			0: {PC: 0, Kind: cfg.KindAssign, Payload: cfg.AssignPayload{
				LHS: cfg.LhsVar{Var: "x"},
				RHS: cfg.RhsExpr{Expr: expr.NewLiteral("int", pos(1), int64(1))},
			}},
			1: {PC: 1, Kind: cfg.KindAssert, Payload: cfg.AssertPayload{Cond: cond}},
			2: {PC: 2, Kind: cfg.KindFunctionExit},
		}
		flows := cfg.Flows{0: {1}, 1: {2}}
		lookup := func(decl, method string, _ []string) (cfg.PC, bool) {
			if decl == "Main" && method == "main" {
				return 0, true
			}
			return 0, false
		}
		return program, flows, lookup

	default:
		return nil, nil, nil
	}
}

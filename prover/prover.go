// Package prover defines the narrow capability the engine needs from an
// external theorem prover: check a formula for satisfiability. No
// concrete SMT backend lives in this module — a real binding is an
// external collaborator's concern; this package only defines the
// interface, a below-threshold local solver for the easy cases, and
// call-count statistics.
package prover

import "github.com/aclements/symex/expr"

// Verdict is the three-valued result of a satisfiability check.
type Verdict int

const (
	Unknown Verdict = iota
	Sat
	Unsat
)

func (v Verdict) String() string {
	switch v {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Prover checks a single formula for satisfiability. Implementations may
// be stateless (a fresh solver invocation per call) or may cache; the
// interface makes no promise either way.
type Prover interface {
	Check(formula expr.Expression) (Verdict, error)
}

// Statistics counts the calls recorded into it. Instrumented records
// each call it forwards as non-local; nothing in this package records a
// local answer, so LocalAnswers counts only calls a caller records with
// local set. Held on the engine context
// and passed down explicitly — never a process-wide singleton.
type Statistics struct {
	Calls        int
	LocalAnswers int
	SatCount     int
	UnsatCount   int
	UnknownCount int
}

func (s *Statistics) Record(v Verdict, local bool) {
	s.Calls++
	if local {
		s.LocalAnswers++
	}
	switch v {
	case Sat:
		s.SatCount++
	case Unsat:
		s.UnsatCount++
	default:
		s.UnknownCount++
	}
}

// Instrumented wraps a Prover, recording every call into stats before
// delegating to next.
type Instrumented struct {
	Next  Prover
	Stats *Statistics
}

func (p *Instrumented) Check(formula expr.Expression) (Verdict, error) {
	v, err := p.Next.Check(formula)
	if err != nil {
		return Unknown, err
	}
	p.Stats.Record(v, false)
	return v, nil
}

package prover

import "github.com/aclements/symex/expr"

// Local is a small syntactic solver that answers the formulas cheap
// enough to decide without an external SMT call: literal booleans,
// directly-contradictory equalities between literals, and conjunctions
// thereof. It answers Unknown for anything past LocalSolvingThreshold
// conjuncts or involving a free symbolic term it can't reduce, deferring
// to Fallback.
//
// Sized by the engine's LocalSolvingThreshold option; Fallback is left
// pluggable rather than assumed, since which SMT backend (if any) to
// wire up is the caller's decision. Verdicts the fallback produced are
// remembered and reused for alpha-equivalent formulas (expr.Equal), so
// the same constraint re-checked under renamed symbols never costs a
// second external call.
type Local struct {
	Threshold int
	Fallback  Prover

	cache []cachedVerdict
}

type cachedVerdict struct {
	formula expr.Expression
	verdict Verdict
}

// localCacheLimit bounds the cache's linear scan; past it, new results
// simply go unremembered.
const localCacheLimit = 128

func (p *Local) Check(formula expr.Expression) (Verdict, error) {
	for _, hit := range p.cache {
		if expr.Equal(hit.formula, formula) {
			return hit.verdict, nil
		}
	}
	conjuncts := flattenAnd(formula)
	if p.Threshold > 0 && len(conjuncts) > p.Threshold {
		return p.delegate(formula)
	}
	verdict, ok := decideLocally(conjuncts)
	if ok {
		return verdict, nil
	}
	return p.delegate(formula)
}

func (p *Local) delegate(formula expr.Expression) (Verdict, error) {
	if p.Fallback == nil {
		return Unknown, nil
	}
	verdict, err := p.Fallback.Check(formula)
	if err != nil {
		return Unknown, err
	}
	// Only delegated answers are worth remembering: the syntactic cases
	// above are cheaper to re-decide than to scan the cache for.
	if verdict != Unknown && len(p.cache) < localCacheLimit {
		p.cache = append(p.cache, cachedVerdict{formula: formula, verdict: verdict})
	}
	return verdict, nil
}

func flattenAnd(e expr.Expression) []expr.Expression {
	bin, ok := e.(*expr.BinaryOp)
	if !ok || bin.Op != expr.And {
		return []expr.Expression{e}
	}
	return append(flattenAnd(bin.Left), flattenAnd(bin.Right)...)
}

// decideLocally handles the purely-syntactic cases: a literal false
// conjunct makes the whole conjunction unsat; all-literal-true conjuncts
// make it sat; anything else is left to the fallback.
func decideLocally(conjuncts []expr.Expression) (Verdict, bool) {
	allLiteralTrue := true
	for _, c := range conjuncts {
		lit, ok := c.(*expr.Literal)
		if !ok {
			allLiteralTrue = false
			continue
		}
		b, ok := lit.Value.(bool)
		if !ok {
			allLiteralTrue = false
			continue
		}
		if !b {
			return Unsat, true
		}
	}
	if allLiteralTrue {
		return Sat, true
	}

	for _, c := range conjuncts {
		if v, ok := decideEquality(c); ok && v == Unsat {
			return Unsat, true
		}
	}
	return Unknown, false
}

// decideEquality catches the common "compare_expression" shape used by
// package mpor: a BinOp Eq/NotEqual between two literals.
func decideEquality(e expr.Expression) (Verdict, bool) {
	bin, ok := e.(*expr.BinaryOp)
	if !ok {
		return Unknown, false
	}
	l, lok := bin.Left.(*expr.Literal)
	r, rok := bin.Right.(*expr.Literal)
	if !lok || !rok {
		return Unknown, false
	}
	switch bin.Op {
	case expr.Eq:
		if l.Value == r.Value {
			return Sat, true
		}
		return Unsat, true
	case expr.NotEqual:
		if l.Value != r.Value {
			return Sat, true
		}
		return Unsat, true
	}
	return Unknown, false
}

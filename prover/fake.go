package prover

import "github.com/aclements/symex/expr"

// Fake is a deterministic test double: it answers Always regardless of
// the formula. It records nothing itself; wrap it in Instrumented to
// count its calls, matching the "Statistics lives on the engine context,
// not inside a Prover" design.
type Fake struct {
	Always Verdict
}

func (f Fake) Check(expr.Expression) (Verdict, error) {
	return f.Always, nil
}

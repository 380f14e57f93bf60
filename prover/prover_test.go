package prover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/symex/expr"
)

var pos = expr.SourcePos{}

func TestLocalDecidesLiteralConjunction(t *testing.T) {
	local := &Local{Threshold: 4}
	f := expr.NewBinaryOp("bool", pos, expr.And,
		expr.NewLiteral("bool", pos, true),
		expr.NewLiteral("bool", pos, true))
	v, err := local.Check(f)
	require.NoError(t, err)
	assert.Equal(t, Sat, v)
}

func TestLocalDetectsLiteralFalseConjunct(t *testing.T) {
	local := &Local{Threshold: 4}
	f := expr.NewBinaryOp("bool", pos, expr.And,
		expr.NewLiteral("bool", pos, true),
		expr.NewLiteral("bool", pos, false))
	v, err := local.Check(f)
	require.NoError(t, err)
	assert.Equal(t, Unsat, v)
}

func TestLocalDefersPastThreshold(t *testing.T) {
	fallback := Fake{Always: Unknown}
	local := &Local{Threshold: 1, Fallback: fallback}
	f := expr.NewBinaryOp("bool", pos, expr.And,
		expr.NewLiteral("bool", pos, true),
		expr.NewBinaryOp("bool", pos, expr.And,
			expr.NewLiteral("bool", pos, true),
			expr.NewLiteral("bool", pos, true)))
	v, err := local.Check(f)
	require.NoError(t, err)
	assert.Equal(t, Unknown, v)
}

func TestLocalDecidesLiteralEquality(t *testing.T) {
	local := &Local{Threshold: 4}
	eq := expr.NewBinaryOp("bool", pos, expr.Eq, expr.NewLiteral("int", pos, 1), expr.NewLiteral("int", pos, 2))
	v, err := local.Check(eq)
	require.NoError(t, err)
	assert.Equal(t, Unsat, v)
}

type countingProver struct {
	verdict Verdict
	calls   int
}

func (p *countingProver) Check(expr.Expression) (Verdict, error) {
	p.calls++
	return p.verdict, nil
}

// TestLocalReusesDelegatedVerdictForAlphaEquivalentFormula: a formula
// the syntactic solver can't decide goes to the fallback once; asking
// again with the symbol renamed hits the cache instead of costing a
// second external call.
func TestLocalReusesDelegatedVerdictForAlphaEquivalentFormula(t *testing.T) {
	fallback := &countingProver{verdict: Sat}
	local := &Local{Fallback: fallback}

	f1 := expr.NewBinaryOp("bool", pos, expr.Eq,
		expr.NewSymbolicVar("int", pos, "x"), expr.NewLiteral("int", pos, 1))
	f2 := expr.NewBinaryOp("bool", pos, expr.Eq,
		expr.NewSymbolicVar("int", pos, "y"), expr.NewLiteral("int", pos, 1))

	v1, err := local.Check(f1)
	require.NoError(t, err)
	v2, err := local.Check(f2)
	require.NoError(t, err)

	assert.Equal(t, Sat, v1)
	assert.Equal(t, Sat, v2)
	assert.Equal(t, 1, fallback.calls)
}

func TestInstrumentedRecordsStatistics(t *testing.T) {
	stats := &Statistics{}
	p := &Instrumented{Next: Fake{Always: Sat}, Stats: stats}
	_, err := p.Check(expr.NewLiteral("bool", pos, true))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Calls)
	assert.Equal(t, 1, stats.SatCount)
}

// Package eval implements the pure expression evaluator: reduce an
// expression to its simplest value-form given the current
// state's heap and active stack, without resolving multi-candidate
// symbolic references (that belongs to packages execref/split).
package eval

import (
	"fmt"

	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/heap"
	"github.com/aclements/symex/symstate"
)

// InvalidExpression reports that an expression was type-incoherent — a
// CFG-builder or type-checker bug upstream, never a subject-program
// bug.
type InvalidExpression struct {
	Expr expr.Expression
	Why  string
}

func (e *InvalidExpression) Error() string {
	return fmt.Sprintf("eval: invalid expression at %s: %s", e.Expr.Pos(), e.Why)
}

// Eval reduces e against s's active thread's stack and s's heap. It never
// mutates s. Binary operators over still-symbolic operands that cannot be
// further simplified are returned as a *expr.BinaryOp residue; an
// *expr.Conditional whose guard stays symbolic is returned as a
// Conditional. Neither is resolved here — resolution across multiple
// alias candidates is the caller's job via package execref.
func Eval(s symstate.State, e expr.Expression) (expr.Expression, error) {
	switch n := e.(type) {
	case *expr.Literal:
		return n, nil
	case *expr.Ref, *expr.SymbolicRef, *expr.SymbolicVar:
		return e, nil
	case *expr.Var:
		v, ok := s.Active().Stack.Lookup(n.Name)
		if !ok {
			return nil, &InvalidExpression{Expr: e, Why: "unbound variable " + n.Name}
		}
		return Eval(s, v)
	case *expr.UnaryOp:
		return evalUnary(s, n)
	case *expr.BinaryOp:
		return evalBinary(s, n)
	case *expr.Conditional:
		guard, err := Eval(s, n.Guard)
		if err != nil {
			return nil, err
		}
		if lit, ok := guard.(*expr.Literal); ok {
			b, ok := lit.Value.(bool)
			if !ok {
				return nil, &InvalidExpression{Expr: e, Why: "conditional guard is not boolean"}
			}
			if b {
				return Eval(s, n.Then)
			}
			return Eval(s, n.Else)
		}
		then, err := Eval(s, n.Then)
		if err != nil {
			return nil, err
		}
		els, err := Eval(s, n.Else)
		if err != nil {
			return nil, err
		}
		return expr.NewConditional(n.Type(), n.Pos(), guard, then, els), nil
	case *expr.FieldAccess:
		return evalFieldAccess(s, n)
	case *expr.ElemAccess:
		return evalElemAccess(s, n)
	case *expr.InvocationResidue:
		return n, nil
	default:
		return nil, &InvalidExpression{Expr: e, Why: "unhandled expression kind"}
	}
}

func evalUnary(s symstate.State, n *expr.UnaryOp) (expr.Expression, error) {
	operand, err := Eval(s, n.Operand)
	if err != nil {
		return nil, err
	}
	lit, ok := operand.(*expr.Literal)
	if !ok {
		return expr.NewUnaryOp(n.Type(), n.Pos(), n.Op, operand), nil
	}
	switch n.Op {
	case expr.Negate:
		switch v := lit.Value.(type) {
		case int64:
			return expr.NewLiteral(n.Type(), n.Pos(), -v), nil
		case int:
			return expr.NewLiteral(n.Type(), n.Pos(), -v), nil
		case float64:
			return expr.NewLiteral(n.Type(), n.Pos(), -v), nil
		}
	case expr.Not:
		if v, ok := lit.Value.(bool); ok {
			return expr.NewLiteral(n.Type(), n.Pos(), !v), nil
		}
	}
	return nil, &InvalidExpression{Expr: n, Why: "unary operator over incompatible literal"}
}

func evalBinary(s symstate.State, n *expr.BinaryOp) (expr.Expression, error) {
	left, err := Eval(s, n.Left)
	if err != nil {
		return nil, err
	}
	right, err := Eval(s, n.Right)
	if err != nil {
		return nil, err
	}
	lLit, lok := left.(*expr.Literal)
	rLit, rok := right.(*expr.Literal)
	if !lok || !rok {
		// At least one operand is still symbolic: the evaluator does not
		// resolve further, it hands back the (possibly partially
		// simplified) operator tree.
		return expr.NewBinaryOp(n.Type(), n.Pos(), n.Op, left, right), nil
	}
	v, err := applyBinOp(n, lLit.Value, rLit.Value)
	if err != nil {
		return nil, err
	}
	return expr.NewLiteral(n.Type(), n.Pos(), v), nil
}

func applyBinOp(n *expr.BinaryOp, l, r any) (any, error) {
	switch n.Op {
	case expr.And:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if !lok || !rok {
			return nil, &InvalidExpression{Expr: n, Why: "And over non-bool operand"}
		}
		return lb && rb, nil
	case expr.Or:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if !lok || !rok {
			return nil, &InvalidExpression{Expr: n, Why: "Or over non-bool operand"}
		}
		return lb || rb, nil
	case expr.Implies:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if !lok || !rok {
			return nil, &InvalidExpression{Expr: n, Why: "Implies over non-bool operand"}
		}
		return !lb || rb, nil
	case expr.Eq:
		return literalsEqual(l, r), nil
	case expr.NotEqual:
		return !literalsEqual(l, r), nil
	}
	li, liok := asInt64(l)
	ri, riok := asInt64(r)
	if !liok || !riok {
		return nil, &InvalidExpression{Expr: n, Why: "arithmetic/relational operator over non-numeric operand"}
	}
	switch n.Op {
	case expr.Add:
		return li + ri, nil
	case expr.Sub:
		return li - ri, nil
	case expr.Mul:
		return li * ri, nil
	case expr.Div:
		if ri == 0 {
			return nil, &InvalidExpression{Expr: n, Why: "division by zero literal"}
		}
		return li / ri, nil
	case expr.Mod:
		if ri == 0 {
			return nil, &InvalidExpression{Expr: n, Why: "modulo by zero literal"}
		}
		return li % ri, nil
	case expr.LessThan:
		return li < ri, nil
	case expr.LessEqual:
		return li <= ri, nil
	case expr.GreaterThan:
		return li > ri, nil
	case expr.GreaterEqual:
		return li >= ri, nil
	}
	return nil, &InvalidExpression{Expr: n, Why: "unrecognized BinOp"}
}

// literalsEqual compares two literal payloads, treating int/int64 as the
// same numeric domain so a literal written as bare `1` compares equal to
// one produced by the evaluator's own int64 arithmetic.
func literalsEqual(l, r any) bool {
	if li, ok := asInt64(l); ok {
		if ri, ok := asInt64(r); ok {
			return li == ri
		}
	}
	return l == r
}

// asInt64 accepts both int and int64 literal payloads: constructors used
// throughout the engine (and its tests) write bare integer literals,
// which Go types as int, while eval's own arithmetic produces int64.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func evalFieldAccess(s symstate.State, n *expr.FieldAccess) (expr.Expression, error) {
	obj, err := Eval(s, n.Object)
	if err != nil {
		return nil, err
	}
	ref, ok := obj.(*expr.Ref)
	if !ok {
		// Still symbolic (SymbolicRef / Conditional): hand back, caller
		// must split via package execref before re-evaluating.
		return expr.NewFieldAccess(n.Type(), n.Pos(), obj, n.Field), nil
	}
	obj0, ok := s.Heap.Get(ref.Ref)
	if !ok {
		return nil, &InvalidExpression{Expr: n, Why: "dereference of unknown heap reference"}
	}
	rec, ok := obj0.(heap.Record)
	if !ok {
		return nil, &InvalidExpression{Expr: n, Why: "field access on non-record heap object"}
	}
	v, ok := rec.Field(n.Field)
	if !ok {
		return nil, &InvalidExpression{Expr: n, Why: "no such field " + n.Field}
	}
	return Eval(s, v)
}

func evalElemAccess(s symstate.State, n *expr.ElemAccess) (expr.Expression, error) {
	arrExpr, err := Eval(s, n.Array)
	if err != nil {
		return nil, err
	}
	ref, ok := arrExpr.(*expr.Ref)
	if !ok {
		return expr.NewElemAccess(n.Type(), n.Pos(), arrExpr, n.Index), nil
	}
	idx, err := Eval(s, n.Index)
	if err != nil {
		return nil, err
	}
	idxLit, ok := idx.(*expr.Literal)
	if !ok {
		// Symbolic index: no concrete element to load, hand back.
		return expr.NewElemAccess(n.Type(), n.Pos(), arrExpr, idx), nil
	}
	i, ok := asInt64(idxLit.Value)
	if !ok {
		return nil, &InvalidExpression{Expr: n, Why: "array index is not an integer"}
	}
	obj0, ok := s.Heap.Get(ref.Ref)
	if !ok {
		return nil, &InvalidExpression{Expr: n, Why: "dereference of unknown heap reference"}
	}
	arr, ok := obj0.(heap.Array)
	if !ok {
		return nil, &InvalidExpression{Expr: n, Why: "element access on non-array heap object"}
	}
	if i < 0 || i >= int64(arr.Length) {
		return nil, &InvalidExpression{Expr: n, Why: "array index out of declared bounds"}
	}
	v, ok := arr.Elem(int(i))
	if !ok {
		return nil, &InvalidExpression{Expr: n, Why: "array element not yet initialized"}
	}
	return Eval(s, v)
}

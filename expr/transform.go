package expr

// Substitute returns a new expression with every free occurrence of the
// symbolic reference named `name` replaced by `with`. Used by alias
// splitting (package split) to narrow a SymbolicRef to one concrete
// alias candidate across an entire expression tree.
//
// Expressions are value-typed and shared by structural sharing, so a
// subtree with no occurrence of `name` is returned unchanged (same
// pointer) rather than rebuilt.
func Substitute(e Expression, name string, with Expression) Expression {
	switch n := e.(type) {
	case *SymbolicRef:
		if n.Name == name {
			return with
		}
		return n
	case *BinaryOp:
		l := Substitute(n.Left, name, with)
		r := Substitute(n.Right, name, with)
		if l == n.Left && r == n.Right {
			return n
		}
		return NewBinaryOp(n.Ty, n.At, n.Op, l, r)
	case *UnaryOp:
		op := Substitute(n.Operand, name, with)
		if op == n.Operand {
			return n
		}
		return NewUnaryOp(n.Ty, n.At, n.Op, op)
	case *Conditional:
		g := Substitute(n.Guard, name, with)
		t := Substitute(n.Then, name, with)
		f := Substitute(n.Else, name, with)
		if g == n.Guard && t == n.Then && f == n.Else {
			return n
		}
		return NewConditional(n.Ty, n.At, g, t, f)
	case *FieldAccess:
		o := Substitute(n.Object, name, with)
		if o == n.Object {
			return n
		}
		return NewFieldAccess(n.Ty, n.At, o, n.Field)
	case *ElemAccess:
		a := Substitute(n.Array, name, with)
		i := Substitute(n.Index, name, with)
		if a == n.Array && i == n.Index {
			return n
		}
		return NewElemAccess(n.Ty, n.At, a, i)
	default:
		// Literal, Var, Ref, SymbolicVar, InvocationResidue: no children
		// to recurse into and not the thing being substituted.
		return e
	}
}

// Equal reports whether a and b are structurally equal up to alpha
// renaming of symbolic names: two SymbolicRef/SymbolicVar nodes compare
// equal if they occupy corresponding positions under a consistent
// renaming, even if their concrete names differ. The local prover's
// result cache (package prover) uses this to reuse a verdict for the
// same constraint re-checked under renamed symbols.
func Equal(a, b Expression) bool {
	renaming := map[string]string{}
	return equal(a, b, renaming)
}

func equal(a, b Expression, renaming map[string]string) bool {
	if a.Type() != b.Type() {
		return false
	}
	switch x := a.(type) {
	case *Literal:
		y, ok := b.(*Literal)
		return ok && x.Value == y.Value
	case *Var:
		y, ok := b.(*Var)
		return ok && x.Name == y.Name
	case *Ref:
		y, ok := b.(*Ref)
		return ok && x.Ref == y.Ref
	case *SymbolicRef:
		y, ok := b.(*SymbolicRef)
		if !ok {
			return false
		}
		return alphaEqual(x.Name, y.Name, renaming)
	case *SymbolicVar:
		y, ok := b.(*SymbolicVar)
		if !ok {
			return false
		}
		return alphaEqual(x.Name, y.Name, renaming)
	case *BinaryOp:
		y, ok := b.(*BinaryOp)
		return ok && x.Op == y.Op &&
			equal(x.Left, y.Left, renaming) && equal(x.Right, y.Right, renaming)
	case *UnaryOp:
		y, ok := b.(*UnaryOp)
		return ok && x.Op == y.Op && equal(x.Operand, y.Operand, renaming)
	case *Conditional:
		y, ok := b.(*Conditional)
		return ok && equal(x.Guard, y.Guard, renaming) &&
			equal(x.Then, y.Then, renaming) && equal(x.Else, y.Else, renaming)
	case *FieldAccess:
		y, ok := b.(*FieldAccess)
		return ok && x.Field == y.Field && equal(x.Object, y.Object, renaming)
	case *ElemAccess:
		y, ok := b.(*ElemAccess)
		return ok && equal(x.Array, y.Array, renaming) && equal(x.Index, y.Index, renaming)
	case *InvocationResidue:
		y, ok := b.(*InvocationResidue)
		return ok && x.Method == y.Method
	default:
		return false
	}
}

// alphaEqual checks that name x in a's position consistently maps to
// name y in b's position, recording the mapping on first sight.
func alphaEqual(x, y string, renaming map[string]string) bool {
	if mapped, ok := renaming[x]; ok {
		return mapped == y
	}
	renaming[x] = y
	return true
}

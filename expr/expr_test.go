package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteReplacesSymbolicRef(t *testing.T) {
	pos := SourcePos{}
	n := NewSymbolicRef("Node", pos, "n")
	field := NewFieldAccess("int", pos, n, "val")

	concrete := NewRef("Node", pos, Reference(7))
	got := Substitute(field, "n", concrete)

	fa, ok := got.(*FieldAccess)
	require.True(t, ok)
	ref, ok := fa.Object.(*Ref)
	require.True(t, ok)
	assert.Equal(t, Reference(7), ref.Ref)
}

func TestSubstituteSharesUnaffectedSubtrees(t *testing.T) {
	pos := SourcePos{}
	left := NewLiteral("int", pos, 1)
	right := NewSymbolicVar("int", pos, "x")
	bin := NewBinaryOp("int", pos, Add, left, right)

	got := Substitute(bin, "y", NewLiteral("int", pos, 2))

	// No occurrence of "y": the same node comes back unchanged.
	assert.Same(t, Expression(bin), got)
}

func TestEqualStructural(t *testing.T) {
	pos := SourcePos{}
	a := NewBinaryOp("int", pos, Add, NewLiteral("int", pos, 1), NewSymbolicVar("int", pos, "x"))
	b := NewBinaryOp("int", pos, Add, NewLiteral("int", pos, 1), NewSymbolicVar("int", pos, "y"))

	assert.True(t, Equal(a, b), "expressions differing only by a consistently renamed symbolic var should be alpha-equal")
}

func TestEqualRejectsInconsistentRenaming(t *testing.T) {
	pos := SourcePos{}
	x := NewSymbolicVar("int", pos, "x")
	a := NewBinaryOp("bool", pos, Eq, x, x)

	y := NewSymbolicVar("int", pos, "y")
	z := NewSymbolicVar("int", pos, "z")
	b := NewBinaryOp("bool", pos, Eq, y, z)

	assert.False(t, Equal(a, b), "x renamed to both y and z is not a consistent renaming")
}

func TestEqualDifferentShapes(t *testing.T) {
	pos := SourcePos{}
	a := NewLiteral("int", pos, 1)
	b := NewSymbolicVar("int", pos, "x")
	assert.False(t, Equal(a, b))
}

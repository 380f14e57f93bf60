package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/symex/expr"
)

func TestHeapSetIsPersistent(t *testing.T) {
	h0 := NewHeap()
	rec := NewRecord("Node").WithField("val", expr.NewLiteral("int", expr.SourcePos{}, 1))
	h1 := h0.Set(1, rec)

	// h0 is untouched: the defining property of a persistent structure.
	_, ok := h0.Get(1)
	assert.False(t, ok)

	got, ok := h1.Get(1)
	require.True(t, ok)
	gotRec := got.(Record)
	v, ok := gotRec.Field("val")
	require.True(t, ok)
	lit := v.(*expr.Literal)
	assert.Equal(t, 1, lit.Value)
}

func TestHeapCloneStructuralEquality(t *testing.T) {
	h := NewHeap().Set(1, NewRecord("A")).Set(2, NewRecord("B"))
	clone := h // Heap wraps an immutable.Map by value; copying is the Clone.

	assert.Equal(t, h.Len(), clone.Len())
	for _, ref := range []expr.Reference{1, 2} {
		a, _ := h.Get(ref)
		b, _ := clone.Get(ref)
		assert.Equal(t, a, b)
	}
}

func TestAliasMapRemoveSymbolicNull(t *testing.T) {
	am := NewAliasMap().Set("n", AliasEntry{
		Aliases:   []expr.Expression{expr.NewRef("Node", expr.SourcePos{}, 1)},
		MayBeNull: true,
	})

	am2 := am.RemoveSymbolicNull("n")
	entry, ok := am2.Get("n")
	require.True(t, ok)
	assert.False(t, entry.MayBeNull)

	// Original is untouched.
	orig, ok := am.Get("n")
	require.True(t, ok)
	assert.True(t, orig.MayBeNull)
}

package heap

import (
	"github.com/benbjohnson/immutable"

	"github.com/aclements/symex/expr"
)

// AliasEntry is the per-path narrowing of a symbolic reference to its
// current candidate concrete references, plus whether null is still a
// live possibility.
type AliasEntry struct {
	// Aliases is an ordered list of candidate concrete-reference
	// expressions (*expr.Ref values, or occasionally a still-symbolic
	// expression for a lazily-materialized candidate).
	Aliases []expr.Expression
	// MayBeNull is true until the path has assumed this reference
	// non-null (RemoveSymbolicNull clears it).
	MayBeNull bool
}

// AliasMap is the persistent SymbolicRef-name -> AliasEntry mapping.
type AliasMap struct {
	m *immutable.Map[string, AliasEntry]
}

func NewAliasMap() AliasMap {
	return AliasMap{m: immutable.NewMap[string, AliasEntry](strHash)}
}

func (a AliasMap) Get(name string) (AliasEntry, bool) {
	return a.m.Get(name)
}

func (a AliasMap) Set(name string, entry AliasEntry) AliasMap {
	return AliasMap{m: a.m.Set(name, entry)}
}

func (a AliasMap) Len() int { return a.m.Len() }

// RemoveSymbolicNull clears the may-be-null flag on name, if present.
// Call it precisely when the path has assumed non-null — callers are
// responsible for that precondition (e.g. after a guard `n != null` is
// assumed, or after a dereference forces the issue by construction).
func (a AliasMap) RemoveSymbolicNull(name string) AliasMap {
	entry, ok := a.m.Get(name)
	if !ok || !entry.MayBeNull {
		return a
	}
	entry.MayBeNull = false
	return a.Set(name, entry)
}

func (a AliasMap) Iterator() *immutable.MapIterator[string, AliasEntry] {
	return a.m.Iterator()
}

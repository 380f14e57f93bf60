// Package heap implements the symbolic heap and alias map: the
// Reference -> object-state mapping and the symbolic-reference ->
// alias-set mapping.
//
// Both are backed by github.com/benbjohnson/immutable hash-array-mapped
// tries rather than plain Go maps: states fork constantly (per branch,
// per thread interleaving), and structural sharing makes each clone
// O(log n) instead of a full copy.
package heap

import (
	"fmt"

	"github.com/benbjohnson/immutable"

	"github.com/aclements/symex/expr"
)

// refHasher adapts expr.Reference for use as an immutable.Map key.
type refHasher struct{}

func (refHasher) Hash(r expr.Reference) uint32 {
	return uint32(r) ^ uint32(r>>32)
}

func (refHasher) Equal(a, b expr.Reference) bool {
	return a == b
}

var refHash = &refHasher{}

// strHasher adapts string for use as an immutable.Map key (field names,
// symbolic reference names).
type strHasher struct{}

func (strHasher) Hash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func (strHasher) Equal(a, b string) bool { return a == b }

var strHash = &strHasher{}

// ObjectState is either a record, an array, or a lock cell — one heap
// cell's contents.
type ObjectState interface {
	isObjectState()
}

// Record is a heap object with named fields.
type Record struct {
	ClassName string
	Fields    *immutable.Map[string, expr.Expression]
}

func (Record) isObjectState() {}

// NewRecord returns an empty record of the given class.
func NewRecord(className string) Record {
	return Record{ClassName: className, Fields: immutable.NewMap[string, expr.Expression](strHash)}
}

// WithField returns a new Record with field set to value.
func (r Record) WithField(field string, value expr.Expression) Record {
	return Record{ClassName: r.ClassName, Fields: r.Fields.Set(field, value)}
}

// Field returns the current value of field, if present.
func (r Record) Field(field string) (expr.Expression, bool) {
	return r.Fields.Get(field)
}

// Array is a heap object with a fixed length and indexed elements.
type Array struct {
	ElemType string
	Length   int
	Elems    *immutable.Map[int, expr.Expression]
}

func (Array) isObjectState() {}

// NewArray returns a length-n array of elemType, uninitialized (no
// indices present — Elem returns false until WithElem is called; the
// action step is responsible for element-wise initialization).
func NewArray(elemType string, length int) Array {
	return Array{ElemType: elemType, Length: length, Elems: immutable.NewMap[int, expr.Expression](nil)}
}

func (a Array) WithElem(index int, value expr.Expression) Array {
	return Array{ElemType: a.ElemType, Length: a.Length, Elems: a.Elems.Set(index, value)}
}

func (a Array) Elem(index int) (expr.Expression, bool) {
	return a.Elems.Get(index)
}

// Lock is the object-state of a reference used as a monitor. The lock
// queue discipline itself lives in package locks, keyed by Reference
// directly against the state's lock-request table; Lock here only marks
// that a heap cell is being used as a lock.
type Lock struct{}

func (Lock) isObjectState() {}

// Heap is the persistent Reference -> ObjectState mapping. The zero
// value is not usable; use NewHeap.
type Heap struct {
	m *immutable.Map[expr.Reference, ObjectState]
}

func NewHeap() Heap {
	return Heap{m: immutable.NewMap[expr.Reference, ObjectState](refHash)}
}

// Get returns the object state at ref, if the cell exists.
func (h Heap) Get(ref expr.Reference) (ObjectState, bool) {
	return h.m.Get(ref)
}

// Set returns a new Heap with ref mapped to state — O(log n), sharing
// everything but the path from root to the changed leaf with h.
func (h Heap) Set(ref expr.Reference, state ObjectState) Heap {
	return Heap{m: h.m.Set(ref, state)}
}

// Delete returns a new Heap with ref removed. Keys are never reused
// after deletion inside one path: callers must source fresh references
// from a counter, never recycle a deleted one.
func (h Heap) Delete(ref expr.Reference) Heap {
	return Heap{m: h.m.Delete(ref)}
}

func (h Heap) Len() int { return h.m.Len() }

func (h Heap) String() string {
	return fmt.Sprintf("Heap{%d objects}", h.Len())
}

// Iterator exposes a read-only walk over all (Reference, ObjectState)
// pairs, used by tests and by statistics reporting.
func (h Heap) Iterator() *immutable.MapIterator[expr.Reference, ObjectState] {
	return h.m.Iterator()
}

// Package pqueue implements the execution substrate's binary-heap priority
// queue (spec.md §4.B): a generic min-heap over a composite (major, minor)
// key, with insertion sequence as a stable tie-breaker. Component C (the
// advanced task queue) uses the two key fields for (ready-at, priority) and
// leaves the tie-break to insertion order, exactly the 3-level ordering
// spec.md §3/§4.C calls for.
//
// The heap itself holds no lock; callers needing concurrent access (see
// package taskqueue) guard it with their own mutex. This mirrors the split
// the retrieved pack uses between a bare container/heap.Interface
// implementation (ValentinKolb-dKV's lib/db/util/mapheap.go) and whatever
// synchronizes access to it.
package pqueue

import "container/heap"

// Key is the composite ordering key: Major sorts first, Minor breaks ties
// within equal Major values. Two entries with equal Key fall back to
// insertion sequence (spec.md §4.B tie-breaking note).
type Key struct {
	Major int64
	Minor int64
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	if k.Major != other.Major {
		return k.Major < other.Major
	}
	return k.Minor < other.Minor
}

// entry is one element stored in the heap: the caller's value plus its key.
type entry[T any] struct {
	value T
	key   Key
	seq   uint64
	index int
}

// innerHeap adapts entry[T] to container/heap.Interface.
type innerHeap[T any] []*entry[T]

func (h innerHeap[T]) Len() int { return len(h) }

func (h innerHeap[T]) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key.Less(h[j].key)
	}
	return h[i].seq < h[j].seq
}

func (h innerHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *innerHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Heap is a generic min-heap over (Key, insertion-sequence) pairs.
// Push/Pop are O(log n); Peek/Len are O(1).
type Heap[T any] struct {
	h       innerHeap[T]
	nextSeq uint64
}

// New returns an empty heap.
func New[T any]() *Heap[T] {
	return &Heap[T]{h: make(innerHeap[T], 0)}
}

// Push inserts value ordered by key (lower sorts first).
func (p *Heap[T]) Push(value T, key Key) {
	e := &entry[T]{value: value, key: key, seq: p.nextSeq}
	p.nextSeq++
	heap.Push(&p.h, e)
}

// Pop removes and returns the minimum element.
func (p *Heap[T]) Pop() (T, bool) {
	if p.h.Len() == 0 {
		var zero T
		return zero, false
	}
	e := heap.Pop(&p.h).(*entry[T])
	return e.value, true
}

// Peek returns the minimum element without removing it.
func (p *Heap[T]) Peek() (T, bool) {
	if p.h.Len() == 0 {
		var zero T
		return zero, false
	}
	return p.h[0].value, true
}

// PeekKey returns the key of the minimum element.
func (p *Heap[T]) PeekKey() (Key, bool) {
	if p.h.Len() == 0 {
		return Key{}, false
	}
	return p.h[0].key, true
}

// Len reports the number of elements currently stored.
func (p *Heap[T]) Len() int { return p.h.Len() }

// Package arena implements the fixed-capacity node pool shared by the SAP
// list, the spatial grid, and the task pool: a preallocated []T backed by a
// lock-free singly-linked free list.
//
// Every slot is addressed by a small integer index rather than a pointer, so
// that a packed atomic reference (see the sap and taskpool packages) can carry an
// index plus an ABA counter in a single machine word. The free list itself is
// a Treiber stack over a generic FreeRef: high bits are a monotonic counter,
// low bits a 1-based slot index (0 is null).
package arena

import (
	"sync/atomic"
)

// sizeOfCacheLine is the assumed CPU cache line size. 128 covers both
// x86-64 (64B lines, adjacent-line prefetch) and Apple Silicon/ARM64 (128B).
const sizeOfCacheLine = 128

// FreeRef packs a 32-bit ABA counter (high) and a 1-based slot index (low).
// Index 0 means "no node" (empty free list). Every CAS that publishes a
// FreeRef increments the counter, so a slot recycled and reallocated between
// a reader's load and its CAS never compares equal by index alone.
type FreeRef uint64

const freeRefIndexMask = 0xFFFFFFFF

func packFreeRef(counter uint32, index uint32) FreeRef {
	return FreeRef(counter)<<32 | FreeRef(index)
}

// Index returns the 1-based slot index, or 0 if this ref is null.
func (r FreeRef) Index() uint32 { return uint32(r & freeRefIndexMask) }

// Counter returns the ABA counter.
func (r FreeRef) Counter() uint32 { return uint32(r >> 32) }

func (r FreeRef) valid() bool { return r.Index() != 0 }

// PackRef builds a FreeRef from a counter and a 1-based index, for packages
// that keep their own Treiber stacks over arena-allocated slots (e.g.
// taskpool's pending-task list) and need the same ABA-safe packing this pool
// uses internally.
func PackRef(counter, index uint32) FreeRef { return packFreeRef(counter, index) }

// freeNode is the embeddable free-list linkage every arena payload carries.
// Pool[T] requires T to expose it via the Linked constraint below.
type freeNode struct {
	next atomic.Uint64 // packed FreeRef of the next free slot
}

// Linked is implemented by node payload types to expose free-list linkage.
// Pool[T] never reads or writes payload fields directly — only this link.
type Linked interface {
	link() *freeNode
}

// Node embeds into a payload struct to satisfy Linked; arena.Pool[T] manages
// only the embedded field, leaving the rest of T free for domain data.
type Node struct {
	freeNode
}

func (n *Node) link() *freeNode { return &n.freeNode }

// Pool is a fixed-capacity, lock-free arena of T, where *T implements Linked.
//
// Capacity is fixed at construction; live + free + in-flight (nodes held
// transiently between Alloc and either a live-structure publish or Free)
// always equals capacity — this is the invariant every caller must preserve,
// per spec §3.2 invariant 3 and §8 invariant 5.
type Pool[T Linked] struct {
	_     [sizeOfCacheLine]byte
	nodes []T
	head  atomic.Uint64 // packed FreeRef; low bits index into nodes (1-based)
	alloc atomic.Int64  // monotonic allocation count, for leak accounting
	freed atomic.Int64  // monotonic free count
	_     [sizeOfCacheLine]byte
}

// New preallocates capacity nodes using newT to construct each zero value,
// and chains them all onto the free list.
func New[T Linked](capacity int, newT func() T) *Pool[T] {
	if capacity <= 0 {
		panic("arena: capacity must be positive")
	}
	p := &Pool[T]{nodes: make([]T, capacity)}
	for i := range p.nodes {
		p.nodes[i] = newT()
	}
	// Chain slots 1..capacity (0-based index i -> 1-based slot i+1) with
	// slot i's next pointing at slot i+1, terminating at null (0).
	for i := capacity - 1; i >= 0; i-- {
		var next FreeRef
		if i+1 < capacity {
			next = packFreeRef(0, uint32(i+2))
		}
		p.nodes[i].link().next.Store(uint64(next))
	}
	p.head.Store(uint64(packFreeRef(0, 1)))
	return p
}

// Cap returns the fixed capacity of the pool.
func (p *Pool[T]) Cap() int { return len(p.nodes) }

// Alloc pops a node off the free list, spinning if the pool is momentarily
// (or permanently, if oversubscribed) empty. Per spec §4.1, exhaustion is not
// reported by this method — callers must size pools for peak concurrent
// demand, or use TryAlloc for the non-spinning redesign.
func (p *Pool[T]) Alloc() (idx int, node T) {
	for {
		if i, n, ok := p.tryAllocOnce(); ok {
			return i, n
		}
	}
}

// TryAlloc is the redesigned, non-spinning contract from spec §7 ("Arena
// exhaustion"): it returns ok=false once instead of spinning forever when the
// free list is momentarily empty. A lost CAS race against another allocator
// is retried, so ok=false always means the list was observed empty. Callers
// that want the source's unbounded spin should call Alloc.
func (p *Pool[T]) TryAlloc() (idx int, node T, ok bool) {
	for {
		if i, n, ok := p.tryAllocOnce(); ok {
			return i, n, true
		}
		if !FreeRef(p.head.Load()).valid() {
			var zero T
			return 0, zero, false
		}
	}
}

func (p *Pool[T]) tryAllocOnce() (idx int, node T, ok bool) {
	head := FreeRef(p.head.Load())
	if !head.valid() {
		var zero T
		return 0, zero, false
	}
	slot := head.Index() - 1
	nextRaw := p.nodes[slot].link().next.Load()
	next := FreeRef(nextRaw)
	newHead := packFreeRef(head.Counter()+1, next.Index())
	if !p.head.CompareAndSwap(uint64(head), uint64(newHead)) {
		return 0, node, false
	}
	p.alloc.Add(1)
	return int(slot), p.nodes[slot], true
}

// Free returns a node to the free list by index. idx must have been returned
// by Alloc/TryAlloc and not already freed — freeing twice corrupts the free
// list (the caller, not the arena, owns exactly-once discipline per the
// "never both live and free simultaneously" invariant).
func (p *Pool[T]) Free(idx int) {
	for {
		head := FreeRef(p.head.Load())
		newNext := packFreeRef(0, head.Index())
		p.nodes[idx].link().next.Store(uint64(newNext))
		newHead := packFreeRef(head.Counter()+1, uint32(idx)+1)
		if p.head.CompareAndSwap(uint64(head), uint64(newHead)) {
			p.freed.Add(1)
			return
		}
	}
}

// At returns the node at the given index for in-place mutation. Indices are
// only meaningful while a node is allocated; reading a freed or not-yet
// allocated slot is the caller's responsibility to avoid.
func (p *Pool[T]) At(idx int) T { return p.nodes[idx] }

// Stats reports monotonic allocation counters for leak-detection tests
// (spec §8 invariant 5: alloc - freed equals the live population).
type Stats struct {
	Alloc int64
	Freed int64
}

func (p *Pool[T]) Stats() Stats {
	return Stats{Alloc: p.alloc.Load(), Freed: p.freed.Load()}
}

// Package sap implements the Sweep-and-Prune ordered list: a lock-free,
// position-ordered doubly-linked list of one-dimensional intervals, answering
// "which intervals overlap mine?" queries without ever taking a lock.
//
// Every node reference is a single packed 64-bit word (prev: 20 bits, next:
// 20 bits, counter: 23 bits, marked: 1 bit) so a single CAS can move a
// pointer and bump its ABA-defeating counter together. The forward-CAS that
// splices a node into (or out of) the list is the linearization point of
// every operation; the backward (prev) pointer is, by design, only ever an
// optimistic locality hint — see the note on UpdateFast.
package sap

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/concurrent-sim/broadphase/arena"
)

// ErrCapacityExhausted is returned by the non-spinning Try* operations when
// the node arena has no free slot. Add and Update spin instead, matching the
// source behavior; TryAdd is the redesigned, reportable variant from the
// spec's error-handling design notes (§7).
var ErrCapacityExhausted = errors.New("sap: node arena exhausted")

// ErrStaleHandle is returned when a Handle's generation no longer matches
// the arena slot it names — the slot has been freed and reallocated since
// the handle was issued (spec §7, "Invalid handle").
var ErrStaleHandle = errors.New("sap: stale handle")

const (
	maxIndex   = (1 << 20) - 1 // largest value the 20-bit index field holds
	idxHead    = uint32(0)
	idxTail    = uint32(maxIndex)
	counterMax = (1 << 23) - 1

	// MaxLocalitySteps bounds how far UpdateFast walks the prev/next chain
	// before giving up on locality and falling back to a full Update. This
	// is a correctness fence (spec §9), not merely an optimization knob:
	// without it, a corrupted prev chain could spin indefinitely.
	MaxLocalitySteps = 1000
)

// nodeRef is the packed SAP node reference described in spec.md §3.1.
type nodeRef uint64

func packRef(prev, next uint32, counter uint32, marked bool) nodeRef {
	v := uint64(next&maxIndex) | uint64(prev&maxIndex)<<20 | uint64(counter&counterMax)<<40
	if marked {
		v |= 1 << 63
	}
	return nodeRef(v)
}

func (r nodeRef) next() uint32 { return uint32(r) & maxIndex }
func (r nodeRef) prev() uint32 { return uint32(r>>20) & maxIndex }
func (r nodeRef) counter() uint32 { return uint32(r>>40) & counterMax }
func (r nodeRef) marked() bool { return r&(1<<63) != 0 }
func (r nodeRef) bumped() uint32 { return (r.counter() + 1) & counterMax }

func (r nodeRef) withNext(n uint32) nodeRef {
	return packRef(r.prev(), n, r.bumped(), r.marked())
}
func (r nodeRef) withPrev(p uint32) nodeRef {
	return packRef(p, r.next(), r.bumped(), r.marked())
}
func (r nodeRef) withMarked() nodeRef {
	return packRef(r.prev(), r.next(), r.bumped(), true)
}

// node is the SAP arena payload: an interval plus its packed list reference.
type node struct {
	arena.Node
	eid        int
	pos, width float64
	ref        atomic.Uint64
	generation atomic.Uint32
}

func (n *node) loadRef() nodeRef { return nodeRef(n.ref.Load()) }
func (n *node) casRef(old, new nodeRef) bool {
	return n.ref.CompareAndSwap(uint64(old), uint64(new))
}

// Handle is an opaque reference to a live SAP node, returned by Add/Update
// and required by Update/UpdateFast/Remove/QueryCallback. It embeds a
// generation so use-after-remove is detectable (spec §7, "Invalid handle").
type Handle struct {
	slot       uint32 // packed index space: 1..maxIndex-1
	generation uint32
}

// Valid reports whether h was ever populated by Add/Update.
func (h Handle) Valid() bool { return h.slot != 0 }

// List is the lock-free Sweep-and-Prune ordered list.
type List struct {
	pool   *arena.Pool[*node]
	head   *node
	tail   *node
	length atomic.Int64
}

// New constructs a List backed by an arena of the given capacity (live nodes,
// excluding the two permanent sentinels). Capacity must fit the 20-bit index
// field (spec §9, "Packed indices vs pointers"): at most maxIndex-2.
func New(capacity int) *List {
	if capacity <= 0 || capacity > maxIndex-2 {
		panic("sap: capacity out of range")
	}
	l := &List{
		pool: arena.New(capacity, func() *node { return &node{} }),
		head: &node{pos: math.Inf(-1)},
		tail: &node{pos: math.Inf(1)},
	}
	l.head.ref.Store(uint64(packRef(idxHead, idxTail, 0, false)))
	l.tail.ref.Store(uint64(packRef(idxHead, idxTail, 0, false)))
	return l
}

func (l *List) nodeAt(idx uint32) *node {
	switch idx {
	case idxHead:
		return l.head
	case idxTail:
		return l.tail
	default:
		return l.pool.At(int(idx) - 1)
	}
}

// Len returns the current count of live (non-sentinel) nodes.
func (l *List) Len() int { return int(l.length.Load()) }

// Stats exposes the underlying arena's leak-detection counters (spec §8
// invariant 5: alloc - freed must equal the live population).
func (l *List) Stats() arena.Stats { return l.pool.Stats() }

// Add inserts a new interval [pos, pos+width] and returns a handle to it.
// Spins if the arena is momentarily exhausted, matching the source contract;
// see TryAdd for the non-spinning redesign.
func (l *List) Add(eid int, pos, width float64) Handle {
	h, err := l.addWith(eid, pos, width, true)
	if err != nil {
		panic(err) // unreachable: addWith never errors when spin=true
	}
	return h
}

// TryAdd is Add's non-spinning counterpart: it returns ErrCapacityExhausted
// immediately instead of blocking when the arena has no free slot.
func (l *List) TryAdd(eid int, pos, width float64) (Handle, error) {
	return l.addWith(eid, pos, width, false)
}

func (l *List) addWith(eid int, pos, width float64, spin bool) (Handle, error) {
	return l.addFrom(idxHead, eid, pos, width, spin)
}

// addFrom is Add's implementation, parameterized by the index to start the
// forward walk from — idxHead for a full scan (Add/Update), or a
// locality-derived hint (UpdateFast) to avoid rescanning from the front of
// the list every time.
func (l *List) addFrom(startIdx uint32, eid int, pos, width float64, spin bool) (Handle, error) {
	var slot int
	var n *node
	if spin {
		slot, n = l.pool.Alloc()
	} else {
		i, nn, ok := l.pool.TryAlloc()
		if !ok {
			return Handle{}, ErrCapacityExhausted
		}
		slot, n = i, nn
	}
	idx := uint32(slot) + 1
	gen := n.generation.Add(1)
	n.eid, n.pos, n.width = eid, pos, width

	for {
		prevIdx, currIdx := l.findInsertionPoint(startIdx, pos)
		prev := l.nodeAt(prevIdx)
		n.ref.Store(uint64(packRef(prevIdx, currIdx, 0, false)))

		prevRef := prev.loadRef()
		if prevRef.marked() || prevRef.next() != currIdx {
			continue // predecessor changed underfoot; re-walk
		}
		if prev.casRef(prevRef, prevRef.withNext(idx)) {
			l.length.Add(1)
			// Advisory backward repair (spec §4.2 step 5): best-effort only.
			l.repairPrev(currIdx, idx)
			return Handle{slot: idx, generation: gen}, nil
		}
	}
}

// findInsertionPoint walks forward from startIdx (rewinding to head first if
// startIdx already sorts past pos, since a stale locality hint must never
// skip the true insertion point), passing over marked nodes as predecessor
// candidates, until it finds the first node whose position is >= pos. It
// returns the predecessor's and successor's packed indices; the successor may
// itself be marked.
func (l *List) findInsertionPoint(startIdx uint32, pos float64) (prevIdx, curIdx uint32) {
	if startIdx != idxHead && l.nodeAt(startIdx).pos >= pos {
		startIdx = idxHead
	}
	prevIdx = startIdx
	curIdx = l.nodeAt(prevIdx).loadRef().next()
	for {
		cur := l.nodeAt(curIdx)
		if cur == l.tail || cur.pos >= pos {
			return prevIdx, curIdx
		}
		if !cur.loadRef().marked() {
			prevIdx = curIdx
		}
		curIdx = cur.loadRef().next()
	}
}

// repairPrev retries the advisory backward CAS on the node at idx, setting
// its prev field to newPrev. It is not linearizing and is allowed to lose
// the race — a subsequent insert/remove touching that node simply repairs
// it again, or a reader falls back to a forward scan (see Remove).
func (l *List) repairPrev(idx, newPrev uint32) {
	n := l.nodeAt(idx)
	for i := 0; i < 8; i++ {
		ref := n.loadRef()
		if ref.prev() == newPrev {
			return
		}
		if n.casRef(ref, ref.withPrev(newPrev)) {
			return
		}
	}
}

// Remove splices h's node out of the live list and returns it to the arena.
// A stale or already-removed handle returns ErrStaleHandle; a node already
// marked by a racing Remove of the same handle returns nil.
func (l *List) Remove(h Handle) error {
	n := l.pool.At(int(h.slot) - 1)
	if n.generation.Load() != h.generation {
		return ErrStaleHandle
	}

	// Step 1: mark the node.
	for {
		ref := n.loadRef()
		if ref.marked() {
			return nil // already removed by a racing caller
		}
		if n.casRef(ref, ref.withMarked()) {
			break
		}
	}
	markedRef := n.loadRef()
	succIdx := markedRef.next()

	// Step 2: splice prev.next past the marked node. The prev field is only
	// a hint (spec §9); validate it, and fall back to a forward scan from
	// head if it no longer points at a live predecessor of n.
	prevIdx := l.findLivePredecessor(h.slot, markedRef.prev())
	for {
		prev := l.nodeAt(prevIdx)
		prevRef := prev.loadRef()
		if prevRef.next() != h.slot {
			prevIdx = l.findLivePredecessor(h.slot, prevRef.prev())
			continue
		}
		if prev.casRef(prevRef, prevRef.withNext(succIdx)) {
			break
		}
	}

	// Step 3: splice succ.prev past the marked node (advisory).
	l.repairPrev(succIdx, prevIdx)

	l.length.Add(-1)
	n.generation.Add(1) // invalidate any handle still pointing here
	l.pool.Free(int(h.slot) - 1)
	return nil
}

// findLivePredecessor validates hint as a live node whose next is target; if
// the hint is stale it falls back to a full forward scan from head, skipping
// marked nodes along the way (spec §4.2: "a contending traversal that
// observes a marked node MUST skip it and continue via its recorded next").
func (l *List) findLivePredecessor(target, hint uint32) uint32 {
	if hint != idxTail {
		h := l.nodeAt(hint)
		hr := h.loadRef()
		if !hr.marked() && hr.next() == target {
			return hint
		}
	}
	curIdx := idxHead
	for {
		cur := l.nodeAt(curIdx)
		ref := cur.loadRef()
		next := ref.next()
		if (next == target && !ref.marked()) || next == idxTail {
			return curIdx
		}
		curIdx = next
	}
}

// Update removes h's interval and re-inserts it at the new position/width,
// returning a fresh handle. Equivalent to Remove followed by Add but
// presented as a single call (spec §4.2): the old handle is invalid the
// moment Update returns.
func (l *List) Update(h Handle, pos, width float64) (Handle, error) {
	n := l.pool.At(int(h.slot) - 1)
	if n.generation.Load() != h.generation {
		return Handle{}, ErrStaleHandle
	}
	eid := n.eid
	if err := l.Remove(h); err != nil {
		return Handle{}, err
	}
	h2, err := l.addFrom(idxHead, eid, pos, width, true)
	return h2, err
}

// UpdateFast behaves like Update but first walks a bounded number of steps
// from h's current prev neighbor to find a nearby starting point for the
// re-insertion walk, instead of always rescanning from head. If the walk
// exceeds MaxLocalitySteps without settling, it falls back to a full Update
// (spec §9: "the bounded retry counter in update_fast is a correctness
// fence, not an optimization") — an inaccurate locality guess only ever
// costs a wider re-walk inside addFrom, never correctness, since
// findInsertionPoint re-validates from head whenever the hint overshoots.
func (l *List) UpdateFast(h Handle, pos, width float64) (Handle, error) {
	n := l.pool.At(int(h.slot) - 1)
	if n.generation.Load() != h.generation {
		return Handle{}, ErrStaleHandle
	}
	eid := n.eid

	ref := n.loadRef()
	hintIdx := ref.prev()
	steps := 0
	for hintIdx != idxHead && l.nodeAt(hintIdx).pos > pos && steps < MaxLocalitySteps {
		hintIdx = l.nodeAt(hintIdx).loadRef().prev()
		steps++
	}
	if steps >= MaxLocalitySteps {
		return l.Update(h, pos, width)
	}

	if err := l.Remove(h); err != nil {
		return Handle{}, err
	}
	return l.addFrom(hintIdx, eid, pos, width, true)
}

// QueryCallback invokes fn(self, other) once for every live successor of h's
// node whose position lies within [pos, pos+width], stopping at the first
// node past that interval (spec §4.2 "Query protocol").
func (l *List) QueryCallback(h Handle, fn func(self, other int)) error {
	n := l.pool.At(int(h.slot) - 1)
	if n.generation.Load() != h.generation {
		return ErrStaleHandle
	}
	limit := n.pos + n.width
	idx := n.loadRef().next()
	for idx != idxTail {
		cand := l.nodeAt(idx)
		ref := cand.loadRef()
		if cand.pos > limit {
			return nil
		}
		if !ref.marked() {
			fn(n.eid, cand.eid)
		}
		idx = ref.next()
	}
	return nil
}

// Walk invokes fn(eid, pos, width) for every live node in forward order,
// stopping early if fn returns false. It backs Print and test assertions.
func (l *List) Walk(fn func(eid int, pos, width float64) bool) {
	idx := l.head.loadRef().next()
	for idx != idxTail {
		n := l.nodeAt(idx)
		ref := n.loadRef()
		if !ref.marked() {
			if !fn(n.eid, n.pos, n.width) {
				return
			}
		}
		idx = ref.next()
	}
}

// Print walks the forward chain once and writes one line per live node, for
// diagnostics (spec §4.2).
func (l *List) Print(w io.Writer) {
	l.Walk(func(eid int, pos, width float64) bool {
		fmt.Fprintf(w, "eid=%d pos=%g width=%g\n", eid, pos, width)
		return true
	})
}

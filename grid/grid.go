// Package grid implements the uniform spatial hash grid: a fixed W×H array of
// singly-linked buckets mapping 2D axis-aligned bounding boxes to the cells
// they cover, answering "who else shares a cell with me?" queries.
//
// Two allocations happen per (entity, covered-cell) pair, both drawn from one
// shared arena:
//   - a bucket-membership node, Treiber-pushed onto the covered cell's
//     singly-linked list; these are only ever freed in bulk by Clear.
//   - a reference-list node recording which cell this membership lives in,
//     threaded into the entity's own singly-linked reference list (returned
//     to the caller by Add); these are freed individually by ReturnRefs.
//
// The grid's cell index deliberately wraps toroidally (spec.md §9, "Grid
// hash wrapping"): it is a known, preserved source of false-positive
// candidate pairs across distant cells, tolerated because the narrow phase
// rejects them.
package grid

import (
	"math"
	"sync/atomic"

	"github.com/concurrent-sim/broadphase/arena"
)

const (
	kindBucket uint8 = iota
	kindRef
)

// node is the shared arena payload for both bucket-membership entries and
// reference-list entries; which fields are meaningful depends on kind.
type node struct {
	arena.Node
	kind       uint8
	eid        int           // valid when kind == kindBucket
	bucket     int32         // valid when kind == kindRef
	bucketNext atomic.Uint32 // valid when kind == kindBucket: next in the bucket's Treiber chain (1-based, 0 = nil)
	refNext    uint32        // valid when kind == kindRef: next in the entity's reference list (1-based, 0 = nil); built by a single goroutine, never mutated concurrently
}

// RefList is the opaque reference-list handle Add returns: the entity id it
// belongs to plus the head of its own singly-linked list of cell memberships
// (spec.md §3.3, "Entity reference list").
type RefList struct {
	eid   int
	first uint32
	count int
}

// EID returns the entity id this reference list was built for.
func (r RefList) EID() int { return r.eid }

// Len returns the number of cells this entity's last Add covered.
func (r RefList) Len() int { return r.count }

// Grid is the lock-free uniform spatial hash grid.
type Grid struct {
	pool     *arena.Pool[*node]
	buckets  []atomic.Uint32 // 1-based bucket-node index per cell; 0 = empty
	width    int
	height   int
	cellSize float64
}

// New constructs a Grid with width*height cells of the given size, backed by
// an arena of nodeCapacity shared nodes (spec.md §6.3 default: 200k nodes
// over a 100x100 grid).
func New(width, height, nodeCapacity int, cellSize float64) *Grid {
	if width <= 0 || height <= 0 || nodeCapacity <= 0 || cellSize <= 0 {
		panic("grid: invalid dimensions")
	}
	return &Grid{
		pool:     arena.New(nodeCapacity, func() *node { return &node{} }),
		buckets:  make([]atomic.Uint32, width*height),
		width:    width,
		height:   height,
		cellSize: cellSize,
	}
}

// Stats exposes the underlying arena's leak-detection counters.
func (g *Grid) Stats() arena.Stats { return g.pool.Stats() }

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

// floorCell returns the cell coordinate a single axis value falls into:
// floor(v / cellSize).
func (g *Grid) floorCell(v float64) int {
	return int(math.Floor(v / g.cellSize))
}

// CellOf returns the bucket index for a single point, applying the same
// toroidal wrap as Add (spec.md §4.3).
func (g *Grid) CellOf(x, y float64) int {
	return wrap(g.floorCell(x), g.width) + g.width*wrap(g.floorCell(y), g.height)
}

// cellRange returns the inclusive cell range an AABB [x1,y1]-[x2,y2] covers.
// The upper bound is treated as exclusive (a box whose edge lands exactly on
// a grid line does not spill into the next cell): colHi/rowHi are computed
// from the largest representable value strictly less than x2/y2.
func (g *Grid) cellRange(x1, y1, x2, y2 float64) (colLo, colHi, rowLo, rowHi int) {
	colLo = g.floorCell(x1)
	colHi = g.floorCell(math.Nextafter(x2, math.Inf(-1)))
	rowLo = g.floorCell(y1)
	rowHi = g.floorCell(math.Nextafter(y2, math.Inf(-1)))
	return
}

// Add inserts eid into every cell its AABB [x1,y1]-[x2,y2] covers (x1<=x2,
// y1<=y2), returning a reference list binding eid to those cells (spec.md
// §4.3). Spins if the shared arena is momentarily exhausted; see TryAdd for
// the non-spinning redesign.
func (g *Grid) Add(eid int, x1, y1, x2, y2 float64) RefList {
	rl, err := g.addWith(eid, x1, y1, x2, y2, true)
	if err != nil {
		panic(err) // unreachable: addWith never errors when spin=true
	}
	return rl
}

// TryAdd is Add's non-spinning counterpart (spec §7, "Arena exhaustion").
func (g *Grid) TryAdd(eid int, x1, y1, x2, y2 float64) (RefList, error) {
	return g.addWith(eid, x1, y1, x2, y2, false)
}

func (g *Grid) addWith(eid int, x1, y1, x2, y2 float64, spin bool) (RefList, error) {
	colLo, colHi, rowLo, rowHi := g.cellRange(x1, y1, x2, y2)

	var first uint32
	count := 0
	for row := rowLo; row <= rowHi; row++ {
		for col := colLo; col <= colHi; col++ {
			bucketIdx := wrap(col, g.width) + g.width*wrap(row, g.height)

			// Allocate the ref node before the bucket node: it is not
			// published anywhere (no other goroutine can observe it) until
			// this iteration fully succeeds, so on a failed bucket
			// allocation it can just be freed instead of orphaned. Bucket
			// nodes already pushed for earlier cells of a failed TryAdd stay
			// in their chains until the next Clear (see unwindRefs).
			rSlot, rNode, err := g.alloc(spin)
			if err != nil {
				g.unwindRefs(first)
				return RefList{}, err
			}

			bSlot, bNode, err := g.alloc(spin)
			if err != nil {
				g.pool.Free(rSlot)
				g.unwindRefs(first)
				return RefList{}, err
			}
			bNode.kind = kindBucket
			bNode.eid = eid
			g.pushBucket(bucketIdx, uint32(bSlot)+1, bNode)

			rNode.kind = kindRef
			rNode.bucket = int32(bucketIdx)
			rNode.refNext = first
			first = uint32(rSlot) + 1
			count++
		}
	}
	return RefList{eid: eid, first: first, count: count}, nil
}

// unwindRefs frees every ref node already built for the in-progress Add call
// when a later cell's allocation fails partway through. Their paired bucket
// nodes have already been pushed and published at this point, so they are
// left in place: Clear is the only thing that ever reclaims bucket nodes, and
// the partially-built reference list describing them is about to be
// discarded anyway.
func (g *Grid) unwindRefs(first uint32) {
	idx := first
	for idx != 0 {
		n := g.pool.At(int(idx) - 1)
		next := n.refNext
		g.pool.Free(int(idx) - 1)
		idx = next
	}
}

func (g *Grid) alloc(spin bool) (int, *node, error) {
	if spin {
		idx, n := g.pool.Alloc()
		return idx, n, nil
	}
	idx, n, ok := g.pool.TryAlloc()
	if !ok {
		var zero *node
		return 0, zero, ErrCapacityExhausted
	}
	return idx, n, nil
}

// pushBucket Treiber-pushes node index idx onto bucket bucketIdx's chain. No
// ABA counter is needed: bucket nodes are only ever recycled by Clear, which
// spec.md §4.3 requires to be externally serialized against Add — so a node
// index can never be freed and reallocated while a push targeting its old
// bucket is still in flight.
func (g *Grid) pushBucket(bucketIdx int, idx uint32, n *node) {
	head := &g.buckets[bucketIdx]
	for {
		old := head.Load()
		n.bucketNext.Store(old)
		if head.CompareAndSwap(old, idx) {
			return
		}
	}
}

// Clear releases every bucket-membership node back to the arena and empties
// every bucket. It is not safe to call concurrently with Add or
// QueryCallback (spec.md §4.3, §9 open question (a)). Reference lists
// returned by prior Add calls are unaffected — the caller must still pass
// them to ReturnRefs individually.
func (g *Grid) Clear() {
	for i := range g.buckets {
		idx := g.buckets[i].Swap(0)
		for idx != 0 {
			n := g.pool.At(int(idx) - 1)
			next := n.bucketNext.Load()
			g.pool.Free(int(idx) - 1)
			idx = next
		}
	}
}

// ReturnRefs recycles list's own reference-list nodes. It does not touch
// bucket-membership nodes, which only Clear releases (spec.md §4.3).
func (g *Grid) ReturnRefs(list RefList) {
	idx := list.first
	for idx != 0 {
		n := g.pool.At(int(idx) - 1)
		next := n.refNext
		g.pool.Free(int(idx) - 1)
		idx = next
	}
}

// QueryCallback invokes fn(self, other) once for every distinct other eid,
// other > self, present in any bucket self's reference list occupies
// (spec.md §4.3). An entity spanning several cells is deduplicated via an
// in-place ordered seen-list, per spec.md §4.3's duplicate-suppression note.
func (g *Grid) QueryCallback(list RefList, fn func(self, other int)) {
	var seen seenSet
	idx := list.first
	for idx != 0 {
		rn := g.pool.At(int(idx) - 1)
		bucketIdx := rn.bucket
		head := g.buckets[bucketIdx].Load()
		for head != 0 {
			bn := g.pool.At(int(head) - 1)
			other := bn.eid
			if other > list.eid && seen.insert(other) {
				fn(list.eid, other)
			}
			head = bn.bucketNext.Load()
		}
		idx = rn.refNext
	}
}

// seenSet is a small ordered-insertion list bracketed by implicit min/max
// sentinels (spec.md §4.3): insert reports whether id was newly added. It is
// only ever touched by the single goroutine running a given QueryCallback,
// so no synchronization is needed.
type seenSet struct {
	ids []int
}

func (s *seenSet) insert(id int) bool {
	lo, hi := 0, len(s.ids)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.ids[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.ids) && s.ids[lo] == id {
		return false
	}
	s.ids = append(s.ids, 0)
	copy(s.ids[lo+1:], s.ids[lo:])
	s.ids[lo] = id
	return true
}

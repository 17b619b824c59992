package grid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrid_TwoByTwoOverlap(t *testing.T) {
	g := New(100, 100, 64, 100)

	rl1 := g.Add(1, 80, 88, 100, 200)
	rl4 := g.Add(4, 0, 0, 150, 140)

	var pairs [][2]int
	g.QueryCallback(rl1, func(self, other int) { pairs = append(pairs, [2]int{self, other}) })
	assert.Equal(t, [][2]int{{1, 4}}, pairs)

	g.ReturnRefs(rl1)
	g.ReturnRefs(rl4)
}

func TestGrid_Coverage(t *testing.T) {
	g := New(10, 10, 64, 10)
	rl := g.Add(7, 0, 0, 25, 5)

	colLo, colHi, rowLo, rowHi := g.cellRange(0, 0, 25, 5)
	for row := rowLo; row <= rowHi; row++ {
		for col := colLo; col <= colHi; col++ {
			bucketIdx := wrap(col, g.width) + g.width*wrap(row, g.height)
			found := false
			head := g.buckets[bucketIdx].Load()
			for head != 0 {
				n := g.pool.At(int(head) - 1)
				if n.eid == 7 {
					found = true
				}
				head = n.bucketNext.Load()
			}
			assert.True(t, found, "cell (%d,%d) missing eid 7", col, row)
		}
	}
	g.ReturnRefs(rl)
}

func TestGrid_ToroidalAliasing(t *testing.T) {
	g := New(100, 100, 64, 100)
	rl1 := g.Add(1, 50, 50, 50, 50)
	rl2 := g.Add(2, 10050, 50, 10050, 50)

	var pairs [][2]int
	g.QueryCallback(rl1, func(self, other int) { pairs = append(pairs, [2]int{self, other}) })
	assert.Equal(t, [][2]int{{1, 2}}, pairs, "toroidal wrap must alias these two cells")

	g.ReturnRefs(rl1)
	g.ReturnRefs(rl2)
}

func TestGrid_ClearReleasesBucketsNotRefs(t *testing.T) {
	g := New(10, 10, 64, 10)
	rl := g.Add(1, 0, 0, 5, 5)
	before := g.Stats()

	g.Clear()
	afterClear := g.Stats()
	assert.Greater(t, afterClear.Freed, before.Freed)

	// Reference list itself is still valid to return after Clear.
	g.ReturnRefs(rl)
	afterReturn := g.Stats()
	assert.Equal(t, afterReturn.Alloc, afterReturn.Freed)
}

func TestGrid_TryAddExhaustion(t *testing.T) {
	// Each single-cell Add allocates 2 nodes (one bucket node, one ref
	// node); a capacity of 2 admits exactly one entity.
	g := New(2, 2, 2, 10)
	_, err := g.TryAdd(1, 0, 0, 1, 1)
	require.NoError(t, err)

	_, err = g.TryAdd(2, 0, 0, 1, 1)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
}

func TestGrid_ConcurrentAddNoPanic(t *testing.T) {
	g := New(20, 20, 2048, 10)
	var wg sync.WaitGroup
	refs := make([]RefList, 100)
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		go func() {
			defer wg.Done()
			refs[i] = g.Add(i, float64(i), float64(i), float64(i+2), float64(i+2))
		}()
	}
	wg.Wait()

	for _, rl := range refs {
		g.QueryCallback(rl, func(self, other int) {})
	}
}

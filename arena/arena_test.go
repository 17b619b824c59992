package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	Node
	value int
}

func TestPool_AllocFreeRoundTrip(t *testing.T) {
	p := New(4, func() *testNode { return &testNode{} })
	require.Equal(t, 4, p.Cap())

	idx, n := p.Alloc()
	n.value = 42
	require.Equal(t, 42, p.At(idx).value)

	p.Free(idx)
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Alloc)
	assert.Equal(t, int64(1), stats.Freed)
}

func TestPool_TryAllocExhaustion(t *testing.T) {
	p := New(2, func() *testNode { return &testNode{} })

	_, _, ok1 := p.TryAlloc()
	_, _, ok2 := p.TryAlloc()
	_, _, ok3 := p.TryAlloc()

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}

func TestPool_NoLeaksUnderConcurrentAllocFree(t *testing.T) {
	const capacity = 64
	const goroutines = 16
	const iterations = 2000

	p := New(capacity, func() *testNode { return &testNode{} })

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				idx, n := p.Alloc()
				n.value = idx
				p.Free(idx)
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, stats.Alloc, stats.Freed)
	assert.Equal(t, int64(goroutines*iterations), stats.Alloc)
}

func TestPackRef_RoundTrip(t *testing.T) {
	r := PackRef(7, 3)
	assert.Equal(t, uint32(7), r.Counter())
	assert.Equal(t, uint32(3), r.Index())
}

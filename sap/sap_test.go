package sap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_EmptyQuery(t *testing.T) {
	l := New(16)
	h := l.Add(1, 50, 10)

	calls := 0
	require.NoError(t, l.QueryCallback(h, func(self, other int) { calls++ }))
	assert.Equal(t, 0, calls)
}

func TestList_ThreeOverlap(t *testing.T) {
	l := New(16)
	h1 := l.Add(1, 0, 10)
	h2 := l.Add(2, 5, 10)
	h3 := l.Add(3, 20, 5)

	var pairs [][2]int
	require.NoError(t, l.QueryCallback(h1, func(self, other int) { pairs = append(pairs, [2]int{self, other}) }))
	assert.Equal(t, [][2]int{{1, 2}}, pairs)

	pairs = nil
	require.NoError(t, l.QueryCallback(h2, func(self, other int) { pairs = append(pairs, [2]int{self, other}) }))
	assert.Empty(t, pairs)

	pairs = nil
	require.NoError(t, l.QueryCallback(h3, func(self, other int) { pairs = append(pairs, [2]int{self, other}) }))
	assert.Empty(t, pairs)
}

func TestList_UpdateMovesPastNeighbor(t *testing.T) {
	l := New(16)
	h1 := l.Add(1, 0, 1)
	h2 := l.Add(2, 10, 1)

	h1, err := l.Update(h1, 20, 1)
	require.NoError(t, err)

	var order []int
	l.Walk(func(eid int, pos, width float64) bool {
		order = append(order, eid)
		return true
	})
	assert.Equal(t, []int{2, 1}, order)

	var pairs [][2]int
	require.NoError(t, l.QueryCallback(h2, func(self, other int) { pairs = append(pairs, [2]int{self, other}) }))
	assert.Empty(t, pairs)

	h2, err = l.Update(h2, 10, 20)
	require.NoError(t, err)

	pairs = nil
	require.NoError(t, l.QueryCallback(h2, func(self, other int) { pairs = append(pairs, [2]int{self, other}) }))
	assert.Equal(t, [][2]int{{2, 1}}, pairs)
	_ = h1
}

func TestList_RoundTrip(t *testing.T) {
	l := New(32)
	var handles []Handle
	for i := 0; i < 10; i++ {
		handles = append(handles, l.Add(i, float64(i*10), 5))
	}
	for i := 0; i < 10; i += 2 {
		require.NoError(t, l.Remove(handles[i]))
	}

	var live []int
	l.Walk(func(eid int, pos, width float64) bool {
		live = append(live, eid)
		return true
	})
	assert.ElementsMatch(t, []int{1, 3, 5, 7, 9}, live)
	assert.Equal(t, 5, l.Len())
}

func TestList_OrderInvariantAfterRandomOps(t *testing.T) {
	l := New(64)
	var handles []Handle
	for i := 0; i < 20; i++ {
		handles = append(handles, l.Add(i, float64((i*37)%200), 3))
	}
	for i := 0; i < 20; i++ {
		if i%3 == 0 {
			h, err := l.UpdateFast(handles[i], float64((i*53)%200), 3)
			require.NoError(t, err)
			handles[i] = h
		}
	}

	var positions []float64
	l.Walk(func(eid int, pos, width float64) bool {
		positions = append(positions, pos)
		return true
	})
	for i := 1; i < len(positions); i++ {
		assert.LessOrEqual(t, positions[i-1], positions[i])
	}
}

func TestList_StaleHandleAfterRemove(t *testing.T) {
	l := New(8)
	h := l.Add(1, 0, 1)
	require.NoError(t, l.Remove(h))

	_, err := l.Update(h, 5, 1)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestList_TryAddExhaustion(t *testing.T) {
	l := New(1)
	_, err := l.TryAdd(1, 0, 1)
	require.NoError(t, err)

	_, err = l.TryAdd(2, 0, 1)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
}

func TestList_ConcurrentAddQueryNoPanic(t *testing.T) {
	l := New(256)
	var wg sync.WaitGroup
	handles := make([]Handle, 64)
	for i := range handles {
		handles[i] = l.Add(i, float64(i), 2)
	}

	wg.Add(len(handles))
	for i := range handles {
		i := i
		go func() {
			defer wg.Done()
			l.QueryCallback(handles[i], func(self, other int) {})
		}()
	}
	wg.Wait()
}

func TestList_NoLeaksAfterRoundTrip(t *testing.T) {
	l := New(32)
	var handles []Handle
	for i := 0; i < 16; i++ {
		handles = append(handles, l.Add(i, float64(i), 1))
	}
	for _, h := range handles {
		require.NoError(t, l.Remove(h))
	}
	stats := l.Stats()
	assert.Equal(t, stats.Alloc, stats.Freed)
}

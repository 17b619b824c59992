package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concurrent-sim/broadphase/broadphase"
	"github.com/concurrent-sim/broadphase/taskpool"
)

func seedTestBodies(n int) []*Body {
	bodies := make([]*Body, n)
	for i := 0; i < n; i++ {
		bodies[i] = &Body{
			ID:     i + 1,
			Radius: 2,
			Mass:   1,
		}
		bodies[i].Pos[0] = float64(i * 3)
		bodies[i].Pos[1] = float64((i % 5) * 10)
		bodies[i].Velocity[0] = float64(i%3 - 1)
	}
	return bodies
}

// TestSimulation_TickDoesNotLeakBroadphaseNodes runs several ticks and
// watches the grid's own leak-detection counters, the way
// grid_test.go's TestGrid_ClearReleasesBucketsNotRefs watches Grid.Stats
// directly: rebuildIndices must return each tick's reference lists before
// re-Adding, or the grid's live node count grows roughly linearly with the
// tick count instead of staying bounded by one tick's population.
func TestSimulation_TickDoesNotLeakBroadphaseNodes(t *testing.T) {
	bodies := seedTestBodies(40)
	cfg := broadphase.DefaultConfig().
		WithSAPCapacity(256).
		WithGridCapacity(512).
		WithGrid(20, 20, 10).
		WithTaskCapacity(256).
		WithTaskWorkers(4)

	pool := taskpool.New(cfg.TaskCapacity)
	pool.Start(cfg.TaskWorkers)

	s := New(bodies, cfg, pool)

	const ticks = 50
	for i := 0; i < ticks; i++ {
		s.Tick(1.0 / 60.0)

		// A body covering at most 2x2 cells contributes at most 8 live
		// nodes (bucket+ref per cell); a leaked reference list from an
		// earlier tick would push this well past one tick's worth.
		gridStats := s.GridStats()
		assert.LessOrEqual(t, gridStats.Alloc-gridStats.Freed, int64(8*len(bodies)),
			"tick %d: grid live node count grew past one tick's worth, a leak from rebuildIndices", i)
	}

	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	gridStats := s.GridStats()
	assert.Equal(t, gridStats.Alloc, gridStats.Freed,
		"grid must have no live nodes once every reference list has been returned")

	// The SAP list is never drained by Close: every body keeps exactly one
	// live interval node for the simulation's lifetime, replaced (not
	// added to) each tick by UpdateFast.
	sapStats := s.SAPStats()
	assert.Equal(t, int64(len(bodies)), sapStats.Alloc-sapStats.Freed,
		"sap list should hold exactly one live node per body")
}

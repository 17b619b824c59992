// Simulation wires sap.List, grid.Grid, and taskpool.Pool together behind
// the three-step per-tick control flow of spec.md §2: integrate, then
// rebuild the broadphase indices, then query and resolve.
package sim

import (
	"context"
	"sync"

	"github.com/concurrent-sim/broadphase/arena"
	"github.com/concurrent-sim/broadphase/broadphase"
	"github.com/concurrent-sim/broadphase/grid"
	"github.com/concurrent-sim/broadphase/internal/diag"
	"github.com/concurrent-sim/broadphase/sap"
)

// Simulation owns a fixed body set and the broadphase state tracking them.
// Both sap.List and grid.Grid are driven every tick so the demo exercises
// both structures' full contracts, not just one.
type Simulation struct {
	bodies   []*Body
	renderer Renderer
	logger   diag.Logger

	sapList    *sap.List
	sapHandles []sap.Handle
	grid       *grid.Grid
	gridRefs   []grid.RefList

	pool taskpoolPool

	pairMu sync.Mutex
	pairs  map[pairKey]struct{}

	ticks int64
}

type pairKey struct{ a, b int }

// Option configures a Simulation at construction.
type Option func(*Simulation)

// WithRenderer attaches a Renderer invoked once per tick. Default is
// NoOpRenderer.
func WithRenderer(r Renderer) Option {
	return func(s *Simulation) { s.renderer = r }
}

// WithLogger attaches a diagnostic logger for per-tick summaries.
func WithLogger(logger diag.Logger) Option {
	return func(s *Simulation) { s.logger = logger }
}

// New constructs a Simulation over bodies, backed by a fresh sap.List and
// grid.Grid sized from cfg, submitting its per-tick work to pool, which the
// caller creates and starts.
func New(bodies []*Body, cfg broadphase.Config, pool taskpoolPool, opts ...Option) *Simulation {
	s := &Simulation{
		bodies:     bodies,
		renderer:   NoOpRenderer{},
		logger:     diag.NewNoOpLogger(),
		sapList:    sap.New(cfg.SAPCapacity),
		sapHandles: make([]sap.Handle, len(bodies)),
		grid:       grid.New(cfg.GridWidth, cfg.GridHeight, cfg.GridCapacity, cfg.GridCellSize),
		gridRefs:   make([]grid.RefList, len(bodies)),
		pool:       pool,
		pairs:      make(map[pairKey]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i, b := range bodies {
		s.sapHandles[i] = s.sapList.Add(b.ID, b.Pos[0]-b.Radius, 2*b.Radius)
		s.gridRefs[i] = s.grid.Add(b.ID, b.Pos[0]-b.Radius, b.Pos[1]-b.Radius, b.Pos[0]+b.Radius, b.Pos[1]+b.Radius)
	}
	return s
}

// taskpoolPool is the subset of *taskpool.Pool Simulation drives.
type taskpoolPool interface {
	Submit(fn func())
	Wait()
}

// Tick runs the three-step control flow of spec.md §2 once, advancing the
// simulation by dt.
func (s *Simulation) Tick(dt float64) {
	s.integrate(dt)
	s.rebuildIndices()
	resolved := s.queryAndResolve()
	s.ticks++
	s.renderer.Frame(s.bodies)
	s.logger.Log(diag.Entry{
		Level:     diag.LevelInfo,
		Component: "sim",
		Message:   "tick complete",
		Fields: map[string]any{
			"tick":     s.ticks,
			"entities": len(s.bodies),
			"pairs":    resolved,
		},
	})
}

// integrate is step 1: submit per-entity integration tasks, wait.
func (s *Simulation) integrate(dt float64) {
	for _, b := range s.bodies {
		b := b
		s.pool.Submit(func() { b.Integrate(dt) })
	}
	s.pool.Wait()
}

// rebuildIndices is step 2: submit per-entity broadphase-update tasks that
// call sap.UpdateFast, wait, then re-Add every entity to the grid serially.
// grid.Clear runs once up front, before any task, since it is not safe
// concurrent with Add per spec §9 open question (a).
func (s *Simulation) rebuildIndices() {
	s.grid.Clear()
	for i := range s.gridRefs {
		s.grid.ReturnRefs(s.gridRefs[i])
		s.gridRefs[i] = grid.RefList{}
	}

	for i, b := range s.bodies {
		i, b := i, b
		s.pool.Submit(func() {
			h, err := s.sapList.UpdateFast(s.sapHandles[i], b.Pos[0]-b.Radius, 2*b.Radius)
			if err == nil {
				s.sapHandles[i] = h
			}
		})
	}
	s.pool.Wait()

	for i, b := range s.bodies {
		s.gridRefs[i] = s.grid.Add(b.ID, b.Pos[0]-b.Radius, b.Pos[1]-b.Radius, b.Pos[0]+b.Radius, b.Pos[1]+b.Radius)
	}
}

// queryAndResolve is step 3: submit per-entity query tasks invoking both
// structures' query_callback, deduplicating pairs seen via both, then
// resolving each confirmed overlap via the narrow phase. Returns the count
// of pairs resolved.
func (s *Simulation) queryAndResolve() int {
	byID := make(map[int]*Body, len(s.bodies))
	for _, b := range s.bodies {
		byID[b.ID] = b
	}

	s.pairMu.Lock()
	for k := range s.pairs {
		delete(s.pairs, k)
	}
	s.pairMu.Unlock()

	for i := range s.bodies {
		i := i
		s.pool.Submit(func() {
			s.sapList.QueryCallback(s.sapHandles[i], func(self, other int) {
				s.recordPair(self, other)
			})
			s.grid.QueryCallback(s.gridRefs[i], func(self, other int) {
				s.recordPair(self, other)
			})
		})
	}
	s.pool.Wait()

	resolved := 0
	for k := range s.pairs {
		a, b := byID[k.a], byID[k.b]
		if a == nil || b == nil {
			continue
		}
		if !CirclesOverlap(a, b) {
			continue // broadphase false positive (AABB corner gap or grid wrap); narrow phase filters it
		}
		ResolveElastic(a, b)
		resolved++
	}
	return resolved
}

func (s *Simulation) recordPair(self, other int) {
	k := pairKey{self, other}
	if k.a > k.b {
		k.a, k.b = k.b, k.a
	}
	s.pairMu.Lock()
	s.pairs[k] = struct{}{}
	s.pairMu.Unlock()
}

// Close clears the grid and returns every grid reference list so the last
// tick's arena nodes aren't leaked (spec §8 invariant 5).
func (s *Simulation) Close() {
	s.grid.Clear()
	for _, rl := range s.gridRefs {
		if rl.Len() > 0 {
			s.grid.ReturnRefs(rl)
		}
	}
}

// Bodies returns the simulation's live body set, for tests and the render
// loop.
func (s *Simulation) Bodies() []*Body { return s.bodies }

// SAPStats exposes the SAP list's arena leak-detection counters, for tests.
func (s *Simulation) SAPStats() arena.Stats { return s.sapList.Stats() }

// GridStats exposes the grid's arena leak-detection counters, for tests.
func (s *Simulation) GridStats() arena.Stats { return s.grid.Stats() }

// Stop drains and stops a real taskpool.Pool cleanly. It is a no-op for
// adapters (e.g. tests) that don't implement it.
func Stop(ctx context.Context, pool taskpoolPool) error {
	type stopper interface {
		Stop(context.Context) error
	}
	if st, ok := pool.(stopper); ok {
		return st.Stop(ctx)
	}
	return nil
}

// Package broadphase binds the shared contracts the sap, grid, and taskpool
// packages expose to an external collaborator: the pair-callback signature,
// arena sizing constants, and the opaque handle convention.
package broadphase

import "runtime"

// PairFunc is the candidate-pair callback invoked by sap.List.QueryCallback
// and grid.Grid.QueryCallback once per candidate pair. It must be
// thread-safe: the same broadphase instance may call it from many workers
// at once, typically sharded so that each entity is touched by at most one
// concurrent call.
type PairFunc func(self, other int)

// Config collects the arena sizing constants from spec §6.3, in the
// config-struct-with-builder-methods idiom borrowed from the pack's one
// example of it (junjiewwang-perf-analysis/pkg/parallel.PoolConfig) rather
// than the teacher's own functional options, since this is a plain sizing
// bundle rather than a constructor's variadic surface.
type Config struct {
	// SAPCapacity is the shared node capacity of the SAP list's arena.
	SAPCapacity int
	// GridCapacity is the shared node capacity of the grid's arena.
	GridCapacity int
	// GridWidth and GridHeight are the grid's cell-column and cell-row counts.
	GridWidth, GridHeight int
	// GridCellSize is the edge length of one grid cell.
	GridCellSize float64
	// TaskCapacity is the task pool's arena capacity.
	TaskCapacity int
	// TaskWorkers is the number of worker goroutines Start spawns.
	TaskWorkers int
}

// DefaultConfig returns the spec's compile-time defaults: SAP pool 102_400,
// grid pool 204_800 over a 100x100 grid, task pool 10_000, workers =
// runtime.NumCPU() (spec §6.3's closing sentence permits runtime
// configuration, so these are starting points, not constants).
func DefaultConfig() Config {
	return Config{
		SAPCapacity:  102_400,
		GridCapacity: 204_800,
		GridWidth:    100,
		GridHeight:   100,
		GridCellSize: 100,
		TaskCapacity: 10_000,
		TaskWorkers:  runtime.NumCPU(),
	}
}

// WithSAPCapacity returns a copy of c with SAPCapacity set to n.
func (c Config) WithSAPCapacity(n int) Config { c.SAPCapacity = n; return c }

// WithGridCapacity returns a copy of c with GridCapacity set to n.
func (c Config) WithGridCapacity(n int) Config { c.GridCapacity = n; return c }

// WithGrid returns a copy of c with the grid dimensions and cell size set.
func (c Config) WithGrid(width, height int, cellSize float64) Config {
	c.GridWidth, c.GridHeight, c.GridCellSize = width, height, cellSize
	return c
}

// WithTaskCapacity returns a copy of c with TaskCapacity set to n.
func (c Config) WithTaskCapacity(n int) Config { c.TaskCapacity = n; return c }

// WithTaskWorkers returns a copy of c with TaskWorkers set to n.
func (c Config) WithTaskWorkers(n int) Config { c.TaskWorkers = n; return c }

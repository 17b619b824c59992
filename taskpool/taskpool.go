// Package taskpool implements the lock-free task pool: a fixed set of
// worker goroutines draining a Treiber stack of submitted callables, with a
// spin-wait completion barrier.
//
// Submission and completion both go through a shared arena (package arena),
// so every in-flight task is a small integer slot rather than a heap
// pointer, matching the sap and grid packages' addressing discipline. The
// pool keeps its own pending-work Treiber stack layered on top of the
// arena's free-list stack — two independent lock-free stacks sharing one
// pool of nodes, per the two-stack design the task pool calls for.
package taskpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/concurrent-sim/broadphase/arena"
	"github.com/concurrent-sim/broadphase/internal/diag"
)

// taskNode is the shared arena payload: a pending callable plus this pool's
// own Treiber-stack linkage (next), separate from the arena's internal
// free-list linkage embedded via arena.Node.
type taskNode struct {
	arena.Node
	fn   func()
	next atomic.Uint64 // packed arena.FreeRef: next node in the pending stack
}

// Option configures a Pool at construction, in the teacher's own functional-
// options idiom (eventloop.Options), kept here rather than the config-struct
// idiom used by broadphase.Config.
type Option func(*Pool)

// WithLogger attaches a diagnostic logger for recovered worker panics, the
// only events the pool logs. The default is a no-op logger.
func WithLogger(logger diag.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// Pool is the lock-free task pool described in spec §4.4: add/wait/start/
// stop, with pause and a hard quit flag, driven by a fixed worker count.
type Pool struct {
	arena *arena.Pool[*taskNode]

	head atomic.Uint64 // packed arena.FreeRef: head of the pending-task stack

	issued    atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64

	paused atomic.Bool
	quit   atomic.Bool
	state  fastState

	wg     sync.WaitGroup
	logger diag.Logger
}

// New preallocates a task arena of the given capacity (spec §6.3 default:
// 10k nodes) and applies opts.
func New(capacity int, opts ...Option) *Pool {
	p := &Pool{
		arena:  arena.New(capacity, func() *taskNode { return &taskNode{} }),
		logger: diag.NewNoOpLogger(),
	}
	p.state.Store(StateAwake)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Metrics is a snapshot of the pool's monotonic counters.
type Metrics struct {
	Issued    int64
	Completed int64
	Panicked  int64
}

// Metrics reports issued/completed/panicked counters, same snapshot idiom
// as grid.Stats and arena.Stats.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		Issued:    p.issued.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Start spawns size worker goroutines (spec §4.4 "start"). Calling Start
// more than once panics.
func (p *Pool) Start(size int) {
	if size <= 0 {
		panic("taskpool: size must be positive")
	}
	if !p.state.TryTransition(StateAwake, StateRunning) {
		panic("taskpool: Start called more than once")
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.workerLoop()
	}
}

// Submit allocates a task node, attaches fn, and pushes it onto the pending
// stack (spec §4.4 "add"). Spins if the task arena is momentarily exhausted.
// Panics with ErrClosed once the pool has stopped.
func (p *Pool) Submit(fn func()) {
	if err := p.submit(fn, true); err != nil {
		panic(err) // with spin=true the only error is ErrClosed
	}
}

// TrySubmit is Submit's non-spinning counterpart (spec §7, "Arena
// exhaustion"): it returns ErrCapacityExhausted instead of spinning forever
// when the arena has no free node, and ErrClosed once the pool has stopped.
func (p *Pool) TrySubmit(fn func()) error {
	return p.submit(fn, false)
}

func (p *Pool) submit(fn func(), spin bool) error {
	if p.state.Load() == StateStopped {
		return ErrClosed
	}
	var (
		slot int
		n    *taskNode
	)
	if spin {
		slot, n = p.arena.Alloc()
	} else {
		var ok bool
		slot, n, ok = p.arena.TryAlloc()
		if !ok {
			return ErrCapacityExhausted
		}
	}
	n.fn = fn
	p.push(slot, n)
	p.issued.Add(1)
	return nil
}

// push Treiber-pushes slot onto the pending-task stack. Release ordering:
// the CAS publishing the new head happens-before any worker's pop observes
// it (spec §4.4 "add happens-before the worker executing it").
func (p *Pool) push(slot int, n *taskNode) {
	for {
		old := arena.FreeRef(p.head.Load())
		n.next.Store(uint64(old))
		next := arena.PackRef(old.Counter()+1, uint32(slot)+1)
		if p.head.CompareAndSwap(uint64(old), uint64(next)) {
			return
		}
	}
}

// pop attempts a single pending-task pop; ok is false on a momentarily
// empty stack or a lost CAS race, never on a real error (spec §4.4 step 3,
// "on empty observation, continue").
func (p *Pool) pop() (slot int, n *taskNode, ok bool) {
	old := arena.FreeRef(p.head.Load())
	if old.Index() == 0 {
		return 0, nil, false
	}
	s := old.Index() - 1
	node := p.arena.At(int(s))
	next := arena.FreeRef(node.next.Load())
	newHead := arena.PackRef(old.Counter()+1, next.Index())
	if !p.head.CompareAndSwap(uint64(old), uint64(newHead)) {
		return 0, nil, false
	}
	return int(s), node, true
}

// workerLoop is the 6-step loop of spec §4.4, run by every worker goroutine.
func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		if p.quit.Load() { // step 1
			return
		}
		if p.paused.Load() { // step 2
			runtime.Gosched()
			continue
		}
		slot, n, ok := p.pop() // step 3
		if !ok {
			runtime.Gosched()
			continue
		}
		p.execute(slot, n) // steps 4-6
	}
}

// execute invokes the task's callable, recovering a panic into a PanicError
// routed to the pool's logger (spec §7, "Callback panic" redesign), then
// recycles the node and increments completed regardless of outcome — a
// failed task is still a completed one, so Wait never hangs on a panic.
func (p *Pool) execute(slot int, n *taskNode) {
	fn := n.fn
	n.fn = nil
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Log(diag.Entry{
				Level:     diag.LevelError,
				Component: "taskpool",
				Message:   "task panicked, recovered",
				Err:       PanicError{Value: r},
			})
		}
		p.arena.Free(slot) // step 5
		p.completed.Add(1) // step 6
	}()
	fn() // step 4
}

// Wait spins until completed catches up to issued as read at call time
// (spec §4.4 "wait", §9 open question (c)): issued is read first, then
// completed is polled with acquire semantics until it is no smaller —
// add calls made after Wait begins are not included in the target.
func (p *Pool) Wait() {
	target := p.issued.Load()
	for p.completed.Load() < target {
		runtime.Gosched()
	}
}

// Pause causes every worker to yield without popping new tasks, without
// otherwise affecting issued/completed.
func (p *Pool) Pause() { p.paused.Store(true) }

// Resume releases workers paused by Pause.
func (p *Pool) Resume() { p.paused.Store(false) }

// Stop implies a final Wait (spec §7, "Shutdown with pending work" redesign)
// bounded by ctx, then raises quit and joins every worker. If ctx expires
// before completed catches up to issued, Stop returns ctx.Err() without
// raising quit, leaving the pool running.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.waitContext(ctx) {
		return ctx.Err()
	}
	return p.halt()
}

// StopNow opts out of the implicit final Wait: it returns ErrPendingWork
// immediately if issued > completed, otherwise halts exactly like Stop.
func (p *Pool) StopNow(ctx context.Context) error {
	if p.issued.Load() > p.completed.Load() {
		return ErrPendingWork
	}
	return p.halt()
}

func (p *Pool) halt() error {
	p.state.Store(StateDraining)
	p.quit.Store(true)
	p.wg.Wait()
	p.state.Store(StateStopped)
	return nil
}

func (p *Pool) waitContext(ctx context.Context) bool {
	target := p.issued.Load()
	for p.completed.Load() < target {
		select {
		case <-ctx.Done():
			return false
		default:
			runtime.Gosched()
		}
	}
	return true
}

// State reports the pool's current lifecycle state.
func (p *Pool) State() State { return p.state.Load() }

package taskpool

import "sync/atomic"

// State is the task pool's lifecycle, generalized from the teacher's
// eventloop.FastState/LoopState five-state loop lifecycle down to the four
// states a task pool actually needs.
//
//	Awake (0) -> Running (1)   [Start]
//	Running (1) -> Draining (2) [Stop/StopNow]
//	Draining (2) -> Stopped (3) [last worker exits]
type State uint32

const (
	StateAwake State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding, grounded
// verbatim on the teacher's FastState: pure atomic CAS, no mutex, no
// transition validation beyond what TryTransition's from/to pair encodes.
type fastState struct {
	_ [128]byte
	v atomic.Uint32
	_ [124]byte
}

func (s *fastState) Load() State { return State(s.v.Load()) }

func (s *fastState) Store(state State) { s.v.Store(uint32(state)) }

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

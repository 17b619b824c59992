package grid

import "errors"

// ErrCapacityExhausted is returned by TryAdd when the shared node arena has
// no free slot (spec.md §7, "Arena exhaustion" redesign).
var ErrCapacityExhausted = errors.New("grid: node arena exhausted")

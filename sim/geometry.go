// Package sim is the external collaborator: rigid-body integration, circle-
// vs-circle narrow-phase resolution, and a no-op render hook driving the
// broadphase cores through their public contracts. None of this is part of
// the broadphase's hard engineering — it exists to exercise sap, grid, and
// taskpool end-to-end.
package sim

import (
	"math"

	"github.com/paulmach/orb"
)

// Body is one simulated particle: a circle with position, velocity, and
// radius, addressed by its integer entity id across the SAP list, the grid,
// and this package's own slice.
type Body struct {
	ID       int
	Pos      orb.Point
	Velocity orb.Point
	Radius   float64
	Mass     float64
}

// Bound returns the axis-aligned bounding box of b, the shape both
// broadphase structures actually index.
func (b *Body) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Pos[0] - b.Radius, b.Pos[1] - b.Radius},
		Max: orb.Point{b.Pos[0] + b.Radius, b.Pos[1] + b.Radius},
	}
}

// Integrate advances b's position by its velocity over dt — the minimal
// rigid-body integration spec.md §2 step 1 calls for; no forces, no
// rotation, since the narrow-phase physics is explicitly out of scope.
func (b *Body) Integrate(dt float64) {
	b.Pos[0] += b.Velocity[0] * dt
	b.Pos[1] += b.Velocity[1] * dt
}

// CirclesOverlap reports whether a and b's circles intersect — the minimal
// narrow-phase filter that elides the broadphase's false positives (AABB
// corner gaps, grid toroidal wrap) before any resolution runs.
func CirclesOverlap(a, b *Body) bool {
	dx := a.Pos[0] - b.Pos[0]
	dy := a.Pos[1] - b.Pos[1]
	r := a.Radius + b.Radius
	return dx*dx+dy*dy <= r*r
}

// ResolveElastic applies a minimal 1D elastic-collision impulse along the
// line connecting a and b's centers, then separates them so they no longer
// overlap. This is the narrow-phase resolution spec.md explicitly treats as
// a Non-goal for the broadphase core — present here only so the demo loop
// has something visible to do with a confirmed pair.
func ResolveElastic(a, b *Body) {
	dx := b.Pos[0] - a.Pos[0]
	dy := b.Pos[1] - a.Pos[1]
	dist2 := dx*dx + dy*dy
	if dist2 == 0 {
		dx, dy, dist2 = 1, 0, 1
	}
	dist := math.Sqrt(dist2)
	nx, ny := dx/dist, dy/dist

	relVx := a.Velocity[0] - b.Velocity[0]
	relVy := a.Velocity[1] - b.Velocity[1]
	sep := relVx*nx + relVy*ny
	if sep < 0 {
		return // already separating
	}

	totalMass := a.Mass + b.Mass
	if totalMass == 0 {
		totalMass = 1
	}
	impulse := 2 * sep / totalMass
	a.Velocity[0] -= impulse * b.Mass * nx
	a.Velocity[1] -= impulse * b.Mass * ny
	b.Velocity[0] += impulse * a.Mass * nx
	b.Velocity[1] += impulse * a.Mass * ny

	overlap := a.Radius + b.Radius - dist
	if overlap > 0 {
		a.Pos[0] -= nx * overlap / 2
		a.Pos[1] -= ny * overlap / 2
		b.Pos[0] += nx * overlap / 2
		b.Pos[1] += ny * overlap / 2
	}
}

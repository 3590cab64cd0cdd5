package tracer

import (
	"math"

	"github.com/yenchenlin/orthographic-ngp/grid"
	"github.com/yenchenlin/orthographic-ngp/types"
)

const (
	// MaxSteps bounds how many samples a single ray may take. Rays that
	// never terminate because of an ill-formed grid are force-killed here;
	// this is a safety valve, not an error.
	MaxSteps = 1024

	// DtMin is the finest marching step, sized so MaxSteps of them cross
	// the unit-volume diagonal.
	DtMin = 1.7320508 / MaxSteps

	// DefaultConeAngle grows the step size with distance from the camera.
	DefaultConeAngle = 1.0 / 256

	// Voxel-boundary epsilon to step firmly into the next cell.
	skipEps = 1e-4
)

// StepSize derives the marching step from the distance travelled using the
// cone-angle heuristic, bounded below by DtMin and above by the coarsest
// cascade's step.
func StepSize(t, coneAngle float32, cascades int) float32 {
	dt := t * coneAngle
	if dt < DtMin {
		return DtMin
	}
	dtMax := float32(DtMin) * float32(int(1)<<(cascades-1))
	if dt > dtMax {
		return dtMax
	}
	return dt
}

// cascadeForDt picks the cascade whose cell size matches the step.
func cascadeForDt(dt float32, cascades int) int {
	c := 0
	for dt > DtMin*float32(int(1)<<c)+1e-9 && c < cascades-1 {
		c++
	}
	return c
}

// Advance moves the ray's parametric position to the next sample inside
// occupied space, skipping unoccupied cells by stepping to the next voxel
// boundary of the active cascade. Returns the sample distance, step size
// and true, or false once the ray leaves the volume at tExit.
func Advance(g *grid.Grid, origin, dir types.Vec3, t, coneAngle, tExit float32) (float32, float32, bool) {
	for {
		dt := StepSize(t, coneAngle, g.Cascades())
		t += dt
		if t >= tExit {
			return 0, 0, false
		}

		pos := origin.Add(dir.Mul(t))
		cascade := g.CascadeAt(pos)
		if cascade < 0 {
			return 0, 0, false
		}
		if dc := cascadeForDt(dt, g.Cascades()); dc > cascade {
			cascade = dc
		}

		if g.Occupied(pos, cascade) {
			return t, dt, true
		}

		// Empty cell: jump to its far boundary instead of taking many
		// tiny steps through it.
		if skip := distToNextVoxel(pos, dir, g.CellSize(cascade)); skip > dt {
			t += skip - dt
		}
	}
}

// distToNextVoxel returns the distance along dir from pos to the nearest
// voxel boundary plane of a lattice with the given cell size.
func distToNextVoxel(pos, dir types.Vec3, cellSize types.Vec3) float32 {
	best := float32(math.Inf(1))
	for axis := 0; axis < 3; axis++ {
		if dir[axis] == 0 {
			continue
		}
		cell := cellSize[axis]
		frac := pos[axis]/cell - float32(math.Floor(float64(pos[axis]/cell)))
		var d float32
		if dir[axis] > 0 {
			d = (1 - frac) * cell / dir[axis]
		} else {
			d = -frac * cell / dir[axis]
		}
		if d < best {
			best = d
		}
	}
	return best + skipEps
}

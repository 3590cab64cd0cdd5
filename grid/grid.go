// Package grid implements the cascaded occupancy index used to skip empty
// space while marching rays and to place training samples. Each cascade
// holds an EMA-smoothed optical thickness estimate per cell plus a packed
// bitfield derived by thresholding against the cascade mean.
package grid

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/types"
)

const (
	// DefaultRes is the per-cascade cell resolution.
	DefaultRes = 128

	// Cells with an optical thickness below this value contribute nothing
	// measurable to a composited ray.
	minOpticalThickness = 0.01

	// Occupancy threshold as a fraction of the cascade mean. The effective
	// threshold is the laxer (smaller) of this and minOpticalThickness.
	meanMultiplier = 1.0

	// Density estimates are refreshed from uniform samples only during the
	// first updates, before the bitfield is trustworthy enough to bias
	// sample placement.
	warmupUpdates = 16

	// The step size the optical thickness estimate is normalized to. Must
	// match the finest marching step used by the tracer.
	minStepScale = 1.7320508 / 1024 // sqrt(3) / max steps
)

// Grid is a cascaded multi-resolution occupancy index. Cascade i+1 covers
// twice the extent of cascade i around the same center, so it strictly
// contains it. The density estimate is mutated only by Update; tracing
// reads it through the bitfield without synchronization.
type Grid struct {
	res      int
	cascades int
	baseBox  types.Box
	renderBB types.Box

	density  [][]float32
	bitfield [][]uint64
	mean     []float32

	emaStep uint32
	rng     *rand.Rand
}

// Create a new occupancy grid. baseBox is the cascade-0 volume; renderBox
// limits which cells may ever be marked occupied.
func New(res, cascades int, baseBox, renderBox types.Box, seed int64) (*Grid, error) {
	if res <= 0 || cascades <= 0 {
		return nil, fmt.Errorf("grid: invalid dimensions: res %d, cascades %d", res, cascades)
	}
	if err := baseBox.Validate(); err != nil {
		return nil, err
	}
	if err := renderBox.Validate(); err != nil {
		return nil, err
	}

	cells := res * res * res
	g := &Grid{
		res:      res,
		cascades: cascades,
		baseBox:  baseBox,
		renderBB: renderBox,
		density:  make([][]float32, cascades),
		bitfield: make([][]uint64, cascades),
		mean:     make([]float32, cascades),
		rng:      rand.New(rand.NewSource(seed)),
	}
	for c := 0; c < cascades; c++ {
		g.density[c] = make([]float32, cells)
		g.bitfield[c] = make([]uint64, (cells+63)/64)
	}
	return g, nil
}

// Res returns the per-cascade cell resolution.
func (g *Grid) Res() int { return g.res }

// Cascades returns the number of cascades.
func (g *Grid) Cascades() int { return g.cascades }

// EmaStep returns the monotone update counter.
func (g *Grid) EmaStep() uint32 { return g.emaStep }

// Box returns the volume covered by the given cascade.
func (g *Grid) Box(cascade int) types.Box {
	half := g.baseBox.Diagonal().Mul(0.5 * float32(int(1)<<cascade))
	center := g.baseBox.Center()
	return types.Box{Min: center.Sub(half), Max: center.Add(half)}
}

// CellSize returns the world-space cell edge lengths at the given cascade.
func (g *Grid) CellSize(cascade int) types.Vec3 {
	return g.Box(cascade).Diagonal().Mul(1.0 / float32(g.res))
}

// CascadeAt returns the finest cascade whose volume contains pos, or -1
// when the position escapes even the coarsest cascade.
func (g *Grid) CascadeAt(pos types.Vec3) int {
	for c := 0; c < g.cascades; c++ {
		if g.Box(c).Contains(pos) {
			return c
		}
	}
	return -1
}

func (g *Grid) cellIndex(pos types.Vec3, cascade int) (int, bool) {
	rel := g.Box(cascade).Relative(pos)
	x := int(rel[0] * float32(g.res))
	y := int(rel[1] * float32(g.res))
	z := int(rel[2] * float32(g.res))
	if x < 0 || y < 0 || z < 0 || x >= g.res || y >= g.res || z >= g.res {
		return 0, false
	}
	return (z*g.res+y)*g.res + x, true
}

func (g *Grid) cellCenter(idx, cascade int) types.Vec3 {
	x := idx % g.res
	y := (idx / g.res) % g.res
	z := idx / (g.res * g.res)
	box := g.Box(cascade)
	cs := g.CellSize(cascade)
	return types.Vec3{
		box.Min[0] + (float32(x)+0.5)*cs[0],
		box.Min[1] + (float32(y)+0.5)*cs[1],
		box.Min[2] + (float32(z)+0.5)*cs[2],
	}
}

// Occupied reports whether the cell containing pos at the given cascade is
// marked occupied. Positions outside the cascade volume are unoccupied.
func (g *Grid) Occupied(pos types.Vec3, cascade int) bool {
	idx, ok := g.cellIndex(pos, cascade)
	if !ok {
		return false
	}
	return g.bitfield[cascade][idx>>6]&(1<<(uint(idx)&63)) != 0
}

// Mean returns the density mean for a cascade, for visualization tooling.
func (g *Grid) Mean(cascade int) float32 { return g.mean[cascade] }

// Density returns the raw density estimate slice for a cascade. The slice
// aliases internal state and must be treated as read-only.
func (g *Grid) Density(cascade int) []float32 { return g.density[cascade] }

// Update refreshes the density estimate by evaluating the field at a
// mixture of uniformly drawn cells and currently-occupied cells, folds the
// fresh readings in with a decay-weighted max-pool, then recomputes the
// cascade means and the bitfield. Not safe for concurrent use with itself;
// callers interleave updates with training steps.
func (g *Grid) Update(f field.Trainable, decay float32, nUniform, nNonuniform int) {
	if g.emaStep < warmupUpdates {
		// Sweep every cell until the estimate has seen the whole volume,
		// otherwise early rays skip space the field has never been probed in.
		for c := 0; c < g.cascades; c++ {
			for idx := range g.density[c] {
				g.refreshCell(f, c, idx, decay)
			}
		}
		g.rebuildMeanAndBitfield()
		g.emaStep++
		return
	}

	for c := 0; c < g.cascades; c++ {
		for i := 0; i < nUniform; i++ {
			g.refreshCell(f, c, g.rng.Intn(len(g.density[c])), decay)
		}
		for i := 0; i < nNonuniform; i++ {
			idx, ok := g.randomOccupiedCell(c)
			if !ok {
				idx = g.rng.Intn(len(g.density[c]))
			}
			g.refreshCell(f, c, idx, decay)
		}
	}

	g.rebuildMeanAndBitfield()
	g.emaStep++
}

func (g *Grid) refreshCell(f field.Trainable, cascade, idx int, decay float32) {
	cs := g.CellSize(cascade)
	pos := g.cellCenter(idx, cascade)
	// Jitter inside the cell so repeated updates probe different points.
	pos[0] += (g.rng.Float32() - 0.5) * cs[0]
	pos[1] += (g.rng.Float32() - 0.5) * cs[1]
	pos[2] += (g.rng.Float32() - 0.5) * cs[2]

	fresh := f.DensityAt(pos) * minStepScale * float32(int(1)<<cascade)
	if fresh < 0 || math.IsNaN(float64(fresh)) {
		fresh = 0
	}

	prev := g.density[cascade][idx] * decay
	if fresh > prev {
		prev = fresh
	}
	g.density[cascade][idx] = prev
}

// Pick a random occupied cell by rejection sampling against the bitfield.
func (g *Grid) randomOccupiedCell(cascade int) (int, bool) {
	cells := len(g.density[cascade])
	for try := 0; try < 64; try++ {
		idx := g.rng.Intn(cells)
		if g.bitfield[cascade][idx>>6]&(1<<(uint(idx)&63)) != 0 {
			return idx, true
		}
	}
	return 0, false
}

// Recompute per-cascade means and derive the bitfield. The bitfield is
// rebuilt in full whenever the density estimate changes so traces never
// observe a stale view within the same step.
func (g *Grid) rebuildMeanAndBitfield() {
	for c := 0; c < g.cascades; c++ {
		var sum float64
		for _, d := range g.density[c] {
			if d > 0 {
				sum += float64(d)
			}
		}
		g.mean[c] = float32(sum / float64(len(g.density[c])))

		thresh := g.mean[c] * meanMultiplier
		if thresh > minOpticalThickness {
			thresh = minOpticalThickness
		}

		words := g.bitfield[c]
		for w := range words {
			words[w] = 0
		}
		for idx, d := range g.density[c] {
			if d <= thresh {
				continue
			}
			if !g.renderBB.Contains(g.cellCenter(idx, c)) {
				continue
			}
			words[idx>>6] |= 1 << (uint(idx) & 63)
		}
	}
}

// Reset clears the density estimate, bitfield and the EMA step counter.
// Invoked when the underlying network is reset.
func (g *Grid) Reset() {
	for c := 0; c < g.cascades; c++ {
		for i := range g.density[c] {
			g.density[c][i] = 0
		}
		for i := range g.bitfield[c] {
			g.bitfield[c][i] = 0
		}
		g.mean[c] = 0
	}
	g.emaStep = 0
}

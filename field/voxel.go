package field

import (
	"math"
	"math/rand"

	"github.com/yenchenlin/orthographic-ngp/optim"
	"github.com/yenchenlin/orthographic-ngp/types"
)

const (
	// Channels per lattice vertex: r, g, b, density (all pre-activation).
	voxelChannels = 4

	// Pre-activation density clamp. exp() outside this range either
	// underflows the compositing math or blows up the gradients.
	rawDensityMin = -10.0
	rawDensityMax = 10.0

	// Initial pre-activation values. Density starts moderately positive so
	// that the first occupancy grid update sees a non-empty volume.
	initRawDensity = 0.5
	initRawJitter  = 0.05
)

// VoxelField is a trainable radiance field backed by a dense lattice of
// pre-activation RGB+density parameters with trilinear interpolation.
// Radiance uses a logistic activation, density an exponential one. It
// implements Trainable with analytic parameter and position gradients and
// serves as the reference network for the demo commands and tests.
type VoxelField struct {
	res   int
	aabb  types.Box
	seed  int64
	scale types.Vec3 // world -> lattice coordinate scale

	params []float32
	grads  []float32
	opt    *optim.Adam
}

// Create a new voxel field with res lattice vertices per axis covering the
// given bounding volume.
func NewVoxelField(res int, aabb types.Box, learningRate float32, seed int64) *VoxelField {
	n := res * res * res * voxelChannels
	d := aabb.Diagonal()
	f := &VoxelField{
		res:    res,
		aabb:   aabb,
		seed:   seed,
		scale:  types.Vec3{float32(res-1) / d[0], float32(res-1) / d[1], float32(res-1) / d[2]},
		params: make([]float32, n),
		grads:  make([]float32, n),
		opt:    optim.NewAdam(n, learningRate),
	}
	f.initParams()
	return f
}

func (f *VoxelField) initParams() {
	rng := rand.New(rand.NewSource(f.seed))
	for i := 0; i < len(f.params); i += voxelChannels {
		f.params[i+0] = float32(rng.NormFloat64()) * initRawJitter
		f.params[i+1] = float32(rng.NormFloat64()) * initRawJitter
		f.params[i+2] = float32(rng.NormFloat64()) * initRawJitter
		f.params[i+3] = initRawDensity + float32(rng.NormFloat64())*initRawJitter
	}
}

// Locate the lattice cell containing pos and the fractional offsets inside
// it. Positions outside the bounding volume clamp to the boundary cells.
func (f *VoxelField) locate(pos types.Vec3) (ix, iy, iz int, fx, fy, fz float32) {
	rel := pos.Sub(f.aabb.Min).MulVec(f.scale)
	locateAxis := func(v float32) (int, float32) {
		if v < 0 {
			return 0, 0
		}
		i := int(v)
		if i > f.res-2 {
			return f.res - 2, 1
		}
		return i, v - float32(i)
	}
	ix, fx = locateAxis(rel[0])
	iy, fy = locateAxis(rel[1])
	iz, fz = locateAxis(rel[2])
	return
}

func (f *VoxelField) vertexBase(ix, iy, iz int) int {
	return ((iz*f.res+iy)*f.res + ix) * voxelChannels
}

// Interpolate the pre-activation channel vector at pos.
func (f *VoxelField) rawAt(pos types.Vec3) [voxelChannels]float32 {
	ix, iy, iz, fx, fy, fz := f.locate(pos)

	var raw [voxelChannels]float32
	for corner := 0; corner < 8; corner++ {
		dx, dy, dz := corner&1, (corner>>1)&1, (corner>>2)&1
		w := cornerWeight(fx, fy, fz, dx, dy, dz)
		base := f.vertexBase(ix+dx, iy+dy, iz+dz)
		for c := 0; c < voxelChannels; c++ {
			raw[c] += w * f.params[base+c]
		}
	}
	return raw
}

func cornerWeight(fx, fy, fz float32, dx, dy, dz int) float32 {
	w := float32(1)
	if dx == 1 {
		w *= fx
	} else {
		w *= 1 - fx
	}
	if dy == 1 {
		w *= fy
	} else {
		w *= 1 - fy
	}
	if dz == 1 {
		w *= fz
	} else {
		w *= 1 - fz
	}
	return w
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

func expDensity(raw float32) float32 {
	if raw < rawDensityMin {
		raw = rawDensityMin
	} else if raw > rawDensityMax {
		raw = rawDensityMax
	}
	return float32(math.Exp(float64(raw)))
}

// Forward evaluates the field at every coordinate. Safe for concurrent use
// on disjoint slices; the parameters are not mutated.
func (f *VoxelField) Forward(coords []Coordinate, out []Output) {
	for i := range coords {
		raw := f.rawAt(coords[i].Pos)
		out[i] = Output{
			RGB:     types.Vec3{sigmoid(raw[0]), sigmoid(raw[1]), sigmoid(raw[2])},
			Density: expDensity(raw[3]),
		}
	}
}

// Backward accumulates parameter gradients for the given output gradients
// and, when dPos is non-nil, fills in per-sample position gradients.
func (f *VoxelField) Backward(coords []Coordinate, dOut []Output, dPos []types.Vec3) {
	for i := range coords {
		raw := f.rawAt(coords[i].Pos)

		// Chain through the activations.
		var dRaw [voxelChannels]float32
		for c := 0; c < 3; c++ {
			s := sigmoid(raw[c])
			dRaw[c] = dOut[i].RGB[c] * s * (1 - s)
		}
		if raw[3] > rawDensityMin && raw[3] < rawDensityMax {
			dRaw[3] = dOut[i].Density * expDensity(raw[3])
		}

		ix, iy, iz, fx, fy, fz := f.locate(coords[i].Pos)
		var dRel types.Vec3
		for corner := 0; corner < 8; corner++ {
			dx, dy, dz := corner&1, (corner>>1)&1, (corner>>2)&1
			w := cornerWeight(fx, fy, fz, dx, dy, dz)
			base := f.vertexBase(ix+dx, iy+dy, iz+dz)

			var dRawDotParam float32
			for c := 0; c < voxelChannels; c++ {
				f.grads[base+c] += w * dRaw[c]
				dRawDotParam += dRaw[c] * f.params[base+c]
			}

			// Trilinear weight derivatives yield the spatial gradient.
			if dPos != nil {
				wx, wy, wz := cornerWeightGrad(fx, fy, fz, dx, dy, dz)
				dRel[0] += wx * dRawDotParam
				dRel[1] += wy * dRawDotParam
				dRel[2] += wz * dRawDotParam
			}
		}
		if dPos != nil {
			dPos[i] = dRel.MulVec(f.scale)
		}
	}
}

func cornerWeightGrad(fx, fy, fz float32, dx, dy, dz int) (wx, wy, wz float32) {
	ax, bx := 1-fx, fx
	ay, by := 1-fy, fy
	az, bz := 1-fz, fz
	sx, sy, sz := float32(-1), float32(-1), float32(-1)
	if dx == 1 {
		sx = 1
	} else {
		bx = ax
	}
	if dy == 1 {
		sy = 1
	} else {
		by = ay
	}
	if dz == 1 {
		sz = 1
	} else {
		bz = az
	}
	return sx * by * bz, bx * sy * bz, bx * by * sz
}

// Step applies the accumulated gradients, dividing them by gradScale to
// undo the loss scaling, then clears the accumulator.
func (f *VoxelField) Step(gradScale float32) {
	if gradScale != 1 {
		inv := 1.0 / gradScale
		for i := range f.grads {
			f.grads[i] *= inv
		}
	}
	f.opt.Step(f.params, f.grads)
	for i := range f.grads {
		f.grads[i] = 0
	}
}

// DensityAt is a density-only probe used by the occupancy grid update.
func (f *VoxelField) DensityAt(pos types.Vec3) float32 {
	return expDensity(f.rawAt(pos)[3])
}

// Reset re-initializes the parameters and clears the optimizer state.
func (f *VoxelField) Reset() {
	f.initParams()
	for i := range f.grads {
		f.grads[i] = 0
	}
	f.opt.Reset()
}

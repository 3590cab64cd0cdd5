// Package tracer implements the occupancy-grid-accelerated volume ray
// marcher. Rendering repeatedly marches an alive set of rays, queries the
// field, composites front to back and stable-compacts the survivors; the
// same marching core places samples for the training batch builder.
package tracer

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/grid"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/types"
)

// Options is the validated configuration for a tracer instance.
type Options struct {
	// Bounding volume rays are traced inside.
	RenderBox types.Box

	// Step growth per unit distance.
	ConeAngle float32

	// Rays die once their transmittance drops below this threshold.
	MinTransmittance float32

	// Cap on field invocations per Trace call; 0 means no cap.
	MaxEvals int

	// Composited behind the residual transmittance. EnvFunc, when set,
	// overrides the constant background for escaped rays.
	Background types.Vec3
	EnvFunc    func(dir types.Vec3) types.Vec3

	// Per-pixel jitter for anti-aliasing; zero snaps to pixel centers.
	Jitter float32

	// Goroutines used inside a single Trace call; 0 selects one per CPU.
	// Callers that already parallelize across tracers should pass 1.
	Workers int
}

// Validate the options, failing fast on caller misuse.
func (o *Options) Validate() error {
	if err := o.RenderBox.Validate(); err != nil {
		return err
	}
	if o.ConeAngle < 0 {
		return fmt.Errorf("tracer: negative cone angle %g", o.ConeAngle)
	}
	if o.MinTransmittance <= 0 {
		return fmt.Errorf("tracer: min transmittance must be positive, got %g", o.MinTransmittance)
	}
	if o.Workers < 0 {
		return fmt.Errorf("tracer: negative worker count %d", o.Workers)
	}
	return nil
}

// DefaultOptions returns options for tracing the unit volume.
func DefaultOptions() Options {
	return Options{
		RenderBox:        types.Box{Min: types.Vec3{0, 0, 0}, Max: types.Vec3{1, 1, 1}},
		ConeAngle:        DefaultConeAngle,
		MinTransmittance: 0.01,
	}
}

// Tracer owns the scratch buffers for one rendering stream. Buffers grow
// monotonically with the largest requested ray count and are reused across
// frames, never shrinking mid-run.
type Tracer struct {
	grid    *grid.Grid
	opts    Options
	workers int

	rays     []Ray
	coords   []field.Coordinate
	outs     []field.Output
	aliveIdx []int
}

// Create a new tracer reading the given occupancy grid.
func New(g *grid.Grid, opts Options) (*Tracer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	return &Tracer{
		grid:    g,
		opts:    opts,
		workers: workers,
	}, nil
}

// Enlarge the scratch arena to hold at least n rays.
func (tr *Tracer) enlarge(n int) {
	if cap(tr.rays) < n {
		tr.rays = make([]Ray, 0, n)
		tr.coords = make([]field.Coordinate, n)
		tr.outs = make([]field.Output, n)
		tr.aliveIdx = make([]int, 0, n)
	}
}

// InitRaysFromCamera writes one ray per pixel of the rows [y0, y1) into the
// tracer's alive buffer and returns it. Rays that originate outside the
// render volume are advanced to its entry point, or terminated up front if
// they miss it entirely.
func (tr *Tracer) InitRaysFromCamera(view scene.View, frameW, y0, y1 int, rng *rand.Rand) []Ray {
	n := frameW * (y1 - y0)
	tr.enlarge(n)
	tr.rays = tr.rays[:0]

	for y := y0; y < y1; y++ {
		for x := 0; x < frameW; x++ {
			px, py := float32(x)+0.5, float32(y)+0.5
			if tr.opts.Jitter > 0 && rng != nil {
				px += (rng.Float32() - 0.5) * tr.opts.Jitter
				py += (rng.Float32() - 0.5) * tr.opts.Jitter
			}
			origin, dir := view.RayThrough(px, py)

			ray := Ray{
				Origin:        origin,
				Dir:           dir,
				Transmittance: 1,
				PixelIdx:      y*frameW + x,
				Alive:         true,
			}

			if !tr.opts.RenderBox.Contains(origin) {
				tMin, tMax := tr.opts.RenderBox.Intersect(origin, dir)
				if tMin > tMax || tMax <= 0 {
					// Missed the volume; the background resolve at the end
					// of Trace paints these.
					ray.Alive = false
				} else if tMin > 0 {
					ray.T = tMin
				}
			}
			tr.rays = append(tr.rays, ray)
		}
	}
	return tr.rays
}

func (tr *Tracer) background(dir types.Vec3) types.Vec3 {
	if tr.opts.EnvFunc != nil {
		return tr.opts.EnvFunc(dir)
	}
	return tr.opts.Background
}

// Trace marches every alive ray through the grid, evaluating the field and
// compositing front to back until the alive set empties or the invocation
// cap is reached, then resolves the background behind each ray's residual
// transmittance. Rays must have been produced by InitRaysFromCamera on this
// tracer. Returns the number of rendered rays.
//
// The ray array itself stays intact so per-pixel results survive; the work
// set is an index list compacted stably each round, so no empty-slot work
// is issued and survivor order is preserved.
func (tr *Tracer) Trace(f field.Trainable, rays []Ray) int {
	tr.aliveIdx = tr.aliveIdx[:0]
	for i := range rays {
		if rays[i].Alive {
			tr.aliveIdx = append(tr.aliveIdx, i)
		}
	}

	evals := 0
	for len(tr.aliveIdx) > 0 {
		if tr.opts.MaxEvals > 0 && evals >= tr.opts.MaxEvals {
			for _, i := range tr.aliveIdx {
				rays[i].Alive = false
			}
			break
		}

		// March every alive ray to its next occupied-space sample; rays
		// that leave the volume or hit the step cap die here.
		tr.parallelFor(len(tr.aliveIdx), func(start, end int) {
			for k := start; k < end; k++ {
				r := &rays[tr.aliveIdx[k]]
				t, dt, ok := tr.advanceRay(r)
				if !ok {
					r.Alive = false
					continue
				}
				r.T = t
				r.Dt = dt
				r.Steps++
			}
		})
		tr.compactIndices(rays)
		if len(tr.aliveIdx) == 0 {
			break
		}

		// One batched field evaluation for the whole alive set.
		for k, i := range tr.aliveIdx {
			r := &rays[i]
			tr.coords[k] = field.Coordinate{
				Pos: r.Origin.Add(r.Dir.Mul(r.T)),
				Dir: r.Dir,
				Dt:  r.Dt,
			}
		}
		n := len(tr.aliveIdx)
		tr.parallelFor(n, func(start, end int) {
			f.Forward(tr.coords[start:end], tr.outs[start:end])
		})
		evals += n

		tr.parallelFor(n, func(start, end int) {
			for k := start; k < end; k++ {
				compositeSample(&rays[tr.aliveIdx[k]], tr.outs[k], tr.coords[k].Dt, tr.opts.MinTransmittance)
			}
		})
		tr.compactIndices(rays)
	}

	// Blend the background behind whatever transmittance is left.
	for i := range rays {
		r := &rays[i]
		bg := tr.background(r.Dir)
		r.RGBA = r.RGBA.Add(bg.Mul(r.Transmittance).Vec4(0))
	}
	return len(rays)
}

// compactIndices drops dead rays from the work set, stable.
func (tr *Tracer) compactIndices(rays []Ray) {
	n := 0
	for _, i := range tr.aliveIdx {
		if rays[i].Alive {
			tr.aliveIdx[n] = i
			n++
		}
	}
	tr.aliveIdx = tr.aliveIdx[:n]
}

func (tr *Tracer) advanceRay(r *Ray) (float32, float32, bool) {
	if r.Steps >= MaxSteps {
		return 0, 0, false
	}
	_, tExit := tr.opts.RenderBox.Intersect(r.Origin, r.Dir)
	return Advance(tr.grid, r.Origin, r.Dir, r.T, tr.opts.ConeAngle, tExit)
}

// compositeSample folds one field sample into the ray accumulator using
// front-to-back compositing with transmittance tracking.
func compositeSample(r *Ray, out field.Output, dt, minTransmittance float32) {
	alpha := 1 - float32(math.Exp(float64(-out.Density*dt)))
	w := r.Transmittance * alpha
	r.RGBA = r.RGBA.Add(out.RGB.Mul(w).Vec4(w))
	r.Transmittance *= 1 - alpha
	if r.Transmittance < minTransmittance {
		r.Alive = false
	}
}

// parallelFor splits [0, n) across the worker pool. Chunks are disjoint so
// no synchronization beyond the final wait is needed.
func (tr *Tracer) parallelFor(n int, fn func(start, end int)) {
	if n == 0 {
		return
	}
	workers := tr.workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

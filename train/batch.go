package train

import (
	"math"

	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/tracer"
	"github.com/yenchenlin/orthographic-ngp/types"
)

// rayRecord tracks one training ray from pixel selection through gradient
// scatter: where it was drawn from, the effective camera it was generated
// with, and its (sample count, compacted offset) pair.
type rayRecord struct {
	img    int
	px, py float32

	pose   scene.Pose
	focal  types.Vec2
	origin types.Vec3
	dir    types.Vec3
	t0     float32

	n      int
	offset int

	target   types.Vec4
	bg       types.Vec3
	expScale float32

	loss  float32
	g     types.Vec3 // scaled loss gradient wrt the exposed prediction
	pred  types.Vec3
	trans float32 // residual transmittance after the last sample
}

// batchScratch holds the reusable training buffers. Capacities grow
// monotonically with the largest requested batch, never shrinking mid-run.
type batchScratch struct {
	records []rayRecord
	coords  []field.Coordinate
	outs    []field.Output
	dOut    []field.Output
	dPos    []types.Vec3
}

func (s *batchScratch) enlarge(rays, samples int) {
	if cap(s.records) < rays {
		s.records = make([]rayRecord, rays)
	}
	s.records = s.records[:rays]
	if len(s.coords) < samples {
		s.coords = make([]field.Coordinate, samples)
		s.outs = make([]field.Output, samples)
		s.dOut = make([]field.Output, samples)
		s.dPos = make([]types.Vec3, samples)
	}
}

// selectRays draws raysPerBatch ray records: pixel selection (uniform or
// error-map-biased), effective camera composition and target lookup. Runs
// serially so the session RNG stream stays reproducible.
func (t *Trainer) selectRays(raysPerBatch int) {
	t.scratch.enlarge(raysPerBatch, t.cfg.capacity())

	biased := t.cfg.SampleImageProportionalToError && t.emap.Valid()
	for i := 0; i < raysPerBatch; i++ {
		rec := &t.scratch.records[i]
		*rec = rayRecord{}

		var uv types.Vec2
		if biased {
			rec.img, uv = t.emap.Sample(t.rng)
		} else {
			rec.img = t.rng.Intn(len(t.ds.Images))
			uv = types.Vec2{t.rng.Float32(), t.rng.Float32()}
		}

		im := t.ds.Images[rec.img]
		rec.px = uv[0] * float32(im.W)
		rec.py = uv[1] * float32(im.H)
		rec.target = im.At(int(rec.px), int(rec.py))

		view := im.View
		if t.cfg.OptimizeDistortion {
			view.Distortion = t.cams.effectiveDistortion(view.Distortion)
		}
		rec.pose, rec.focal = t.cams.effectiveView(view, rec.img)
		rec.origin, rec.dir = view.RayWith(rec.pose, rec.focal, rec.px, rec.py)

		rec.t0 = t.cfg.NearDistance
		if !t.cfg.RenderBox.Contains(rec.origin) {
			tMin, tMax := t.cfg.RenderBox.Intersect(rec.origin, rec.dir)
			if tMin > tMax || tMax <= 0 {
				rec.t0 = -1 // misses the volume entirely
			} else if tMin > rec.t0 {
				rec.t0 = tMin
			}
		}

		// Stratify the march start inside the first step so repeated
		// draws of the same pixel probe different depths. With focal-plane
		// biasing enabled, high-error pixels concentrate their samples
		// toward the near end of the step.
		if rec.t0 >= 0 {
			u := t.rng.Float32()
			if t.cfg.SampleFocalPlaneProportionalToError && biased {
				w := t.emap.Weight(rec.img, uv)
				u = float32(math.Pow(float64(u), float64(1+w)))
			}
			rec.t0 += u * tracer.DtMin
		}

		rec.bg = t.cfg.Background
		if t.cfg.RandomBGColor {
			rec.bg = types.Vec3{t.rng.Float32(), t.rng.Float32(), t.rng.Float32()}
		}
		rec.expScale = 1
		if t.cfg.OptimizeExposure {
			rec.expScale = t.cams.exposureScale(rec.img)
		}
	}
}

// marchRay walks a training ray through the occupancy grid exactly as the
// renderer would, invoking emit for every surviving step up to the per-ray
// cap. Returns the number of samples produced.
func (t *Trainer) marchRay(rec *rayRecord, emit func(i int, c field.Coordinate)) int {
	if rec.t0 < 0 {
		return 0
	}
	_, tExit := t.cfg.RenderBox.Intersect(rec.origin, rec.dir)

	n := 0
	tt := rec.t0
	for n < t.cfg.MaxSamplesPerRay {
		next, dt, ok := tracer.Advance(t.grid, rec.origin, rec.dir, tt, t.cfg.ConeAngle, tExit)
		if !ok {
			break
		}
		if emit != nil {
			emit(n, field.Coordinate{
				Pos: rec.origin.Add(rec.dir.Mul(next)),
				Dir: rec.dir,
				Dt:  dt,
			})
		}
		n++
		tt = next
	}
	return n
}

// buildBatch compacts the variable-length per-ray samples into the dense
// coordinate buffer. Rays are processed in stable index order; once a
// ray's samples no longer fit the fixed capacity, it and every later ray
// are dropped whole, so the cutoff is reproducible for a given seed and
// grid state. Returns (accepted samples, pre-compaction samples).
func (t *Trainer) buildBatch(raysPerBatch int) (int, int) {
	t.selectRays(raysPerBatch)
	records := t.scratch.records

	// Count pass: march every ray without storing.
	t.parallelFor(len(records), func(start, end int) {
		for i := start; i < end; i++ {
			records[i].n = t.marchRay(&records[i], nil)
		}
	})

	// Prefix-sum compaction over the fixed-capacity buffer.
	capacity := t.cfg.capacity()
	preCompaction := 0
	offset := 0
	full := false
	for i := range records {
		rec := &records[i]
		preCompaction += rec.n
		if full || offset+rec.n > capacity {
			rec.n = 0
			rec.offset = -1 // excluded from the step entirely
			full = true
			continue
		}
		rec.offset = offset
		offset += rec.n
	}

	// Store pass: re-march accepted rays into their compacted slots. The
	// march is deterministic, so the stored samples match the counts.
	t.parallelFor(len(records), func(start, end int) {
		for i := start; i < end; i++ {
			rec := &records[i]
			if rec.n == 0 {
				continue
			}
			base := rec.offset
			t.marchRay(rec, func(s int, c field.Coordinate) {
				t.scratch.coords[base+s] = c
			})
		}
	})

	return offset, preCompaction
}

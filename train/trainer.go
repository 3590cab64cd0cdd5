// Package train implements the optimization loop that fits a trainable
// radiance field to a posed image dataset: occupancy grid maintenance,
// importance-sampled ray batches, compacted volumetric sample buffers,
// reconstruction losses and the joint refinement of the camera parameters.
package train

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/yenchenlin/orthographic-ngp/errmap"
	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/grid"
	"github.com/yenchenlin/orthographic-ngp/log"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/types"
)

var logger = log.New("train")

// Bounds for the adaptive ray count so a degenerate step can never
// collapse the batch or blow up the scratch buffers.
const (
	minRaysPerBatch = 128
	maxRaysPerBatch = 1 << 18
)

// StepResult summarizes one optimization step.
type StepResult struct {
	// Mean reconstruction loss over the rays that entered this step.
	Loss float32

	// Samples accepted into the compacted batch and the samples all rays
	// produced before the capacity cutoff.
	MeasuredBatchSize int
	PreCompactionSize int

	// Rays drawn for this step.
	Rays int
}

// Trainer drives the optimization of a field against a dataset. It owns
// the occupancy grid, the error map and the camera parameter registry, and
// reuses its scratch buffers across steps. Not safe for concurrent use.
type Trainer struct {
	cfg Config
	ds  *scene.Dataset
	f   field.Trainable

	grid *grid.Grid
	emap *errmap.Map
	cams *cameraParams
	rng  *rand.Rand

	step         int
	raysPerBatch int
	workers      int
	scratch      batchScratch
}

// New validates the dataset and configuration and assembles a training
// session. The field is used as-is; call Reset through the trainer to
// restart from scratch.
func New(ds *scene.Dataset, f field.Trainable, cfg Config) (*Trainer, error) {
	if f == nil {
		return nil, fmt.Errorf("train: nil field")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	g, err := grid.New(cfg.GridRes, cfg.GridCascades, cfg.AABB, cfg.RenderBox, cfg.Seed)
	if err != nil {
		return nil, err
	}
	em, err := errmap.New(len(ds.Images), cfg.ErrorMapRes)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	t := &Trainer{
		cfg:          cfg,
		ds:           ds,
		f:            f,
		grid:         g,
		emap:         em,
		cams:         newCameraParams(len(ds.Images), cfg),
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		raysPerBatch: cfg.RaysPerBatch,
		workers:      workers,
	}
	logger.Noticef(
		"session: %d images, %d candidate rays, grid %d^3 x%d, target batch %d",
		len(ds.Images), ds.TotalPixels(), cfg.GridRes, cfg.GridCascades, cfg.TargetBatchSize,
	)
	return t, nil
}

// Grid exposes the occupancy grid so renderers can share it with training.
func (t *Trainer) Grid() *grid.Grid { return t.grid }

// ErrorMap exposes the per-image error histogram.
func (t *Trainer) ErrorMap() *errmap.Map { return t.emap }

// StepCount returns the number of completed optimization steps.
func (t *Trainer) StepCount() int { return t.step }

// RaysPerBatch returns the current adaptive ray count.
func (t *Trainer) RaysPerBatch() int { return t.raysPerBatch }

// PoseOffset returns the learned extrinsic deltas for image i.
func (t *Trainer) PoseOffset(i int) (pos, rot types.Vec3) {
	im := &t.cams.images[i]
	return im.posOffset, im.rotOffset
}

// Exposure returns the learned log2 exposure offset for image i.
func (t *Trainer) Exposure(i int) float32 { return t.cams.images[i].exposure }

// FocalOffset returns the learned shared focal length delta.
func (t *Trainer) FocalOffset() types.Vec2 { return t.cams.focalOffset }

// DistortionOffset returns the learned shared lens distortion delta.
func (t *Trainer) DistortionOffset() [4]float32 { return t.cams.distortionOffset }

// EffectiveView returns the dataset view of image i with all learned
// camera offsets composed in, for rendering previews that track the
// refined cameras.
func (t *Trainer) EffectiveView(i int) scene.View {
	view := t.ds.Images[i].View
	view.Pose, view.Focal = t.cams.effectiveView(view, i)
	if t.cfg.OptimizeDistortion {
		view.Distortion = t.cams.effectiveDistortion(view.Distortion)
	}
	return view
}

// Reset restores the session to its initial state: field parameters,
// occupancy grid, camera offsets, error map, counters and the RNG stream.
func (t *Trainer) Reset() {
	t.f.Reset()
	t.grid.Reset()
	t.cams.reset()
	em, err := errmap.New(len(t.ds.Images), t.cfg.ErrorMapRes)
	if err != nil {
		panic(err) // validated in New
	}
	t.emap = em
	t.rng = rand.New(rand.NewSource(t.cfg.Seed))
	t.step = 0
	t.raysPerBatch = t.cfg.RaysPerBatch
}

// Step runs one optimization step: refresh the occupancy grid on its
// cadence, build a compacted sample batch, evaluate the field, scatter the
// loss gradients back through the compositing equation, update the field
// and (on their cadences) the camera parameters and the error map.
func (t *Trainer) Step() StepResult {
	if t.step%t.cfg.GridUpdateInterval == 0 {
		nUni, nNon := t.gridSampleCounts()
		t.grid.Update(t.f, t.cfg.GridDecay, nUni, nNon)
	}

	rays := t.raysPerBatch
	measured, preCompaction := t.buildBatch(rays)
	res := StepResult{
		MeasuredBatchSize: measured,
		PreCompactionSize: preCompaction,
		Rays:              rays,
	}

	coords := t.scratch.coords[:measured]
	outs := t.scratch.outs[:measured]
	dOut := t.scratch.dOut[:measured]
	records := t.scratch.records

	t.parallelFor(measured, func(start, end int) {
		t.f.Forward(coords[start:end], outs[start:end])
	})

	// Rays past the capacity cutoff are excluded; rays that missed the
	// volume still contribute a background-only prediction.
	nLoss := 0
	for i := range records {
		if records[i].offset >= 0 {
			nLoss++
		}
	}
	if nLoss == 0 {
		t.adaptRayCount(measured)
		t.step++
		return res
	}

	var lossSum float64
	var lossMu sync.Mutex
	t.parallelFor(len(records), func(start, end int) {
		var local float64
		for i := start; i < end; i++ {
			if records[i].offset < 0 {
				continue
			}
			local += float64(t.shadeRecord(&records[i], nLoss))
		}
		lossMu.Lock()
		lossSum += local
		lossMu.Unlock()
	})
	res.Loss = float32(lossSum / float64(nLoss))

	optimizeCams := t.cfg.OptimizeExtrinsics || t.cfg.OptimizeFocalLength ||
		t.cfg.OptimizeExposure || t.cfg.OptimizeDistortion

	var dPos []types.Vec3
	if optimizeCams {
		dPos = t.scratch.dPos[:measured]
	}
	t.f.Backward(coords, dOut, dPos)
	t.f.Step(LossScale)

	if optimizeCams {
		for i := range records {
			if records[i].offset >= 0 {
				t.accumulateCameraGrads(&records[i], dPos, nLoss)
			}
		}
		t.cams.stepsSinceUpdate++
		if t.cams.stepsSinceUpdate >= t.cfg.CamUpdateInterval {
			t.cams.apply(t.cfg)
		}
	}

	for i := range records {
		rec := &records[i]
		if rec.offset < 0 {
			continue
		}
		err := rec.loss
		if t.cfg.IncludeSharpnessInError {
			im := t.ds.Images[rec.img]
			err *= im.SharpnessAt(int(rec.px), int(rec.py))
		}
		uv := types.Vec2{
			rec.px / float32(t.ds.Images[rec.img].W),
			rec.py / float32(t.ds.Images[rec.img].H),
		}
		t.emap.Accumulate(rec.img, uv, err)
	}
	if (t.step+1)%t.cfg.ErrorMapUpdateInterval == 0 {
		t.emap.Rebuild()
	}

	t.adaptRayCount(measured)
	t.step++
	return res
}

// gridSampleCounts derives the per-update cell probe counts from the
// configuration, defaulting to a fixed fraction of the grid.
func (t *Trainer) gridSampleCounts() (nUniform, nNonuniform int) {
	cells := t.cfg.GridRes * t.cfg.GridRes * t.cfg.GridRes
	nUniform = t.cfg.GridUniformSamples
	if nUniform == 0 {
		nUniform = max(cells/64, 1)
	}
	nNonuniform = t.cfg.GridNonuniformSamples
	if nNonuniform == 0 {
		nNonuniform = max(cells/64, 1)
	}
	return nUniform, nNonuniform
}

// adaptRayCount steers the drawn ray count toward the configured target
// batch size using the measured samples-per-ray of this step.
func (t *Trainer) adaptRayCount(measured int) {
	if measured == 0 {
		// Empty grid or all rays missed; probe with more rays.
		t.raysPerBatch = min(t.raysPerBatch*2, maxRaysPerBatch)
		return
	}
	next := int(uint64(t.raysPerBatch) * uint64(t.cfg.TargetBatchSize) / uint64(measured))
	if next < minRaysPerBatch {
		next = minRaysPerBatch
	} else if next > maxRaysPerBatch {
		next = maxRaysPerBatch
	}
	t.raysPerBatch = next
}

// shadeRecord composites the ray's samples front to back, evaluates the
// reconstruction loss against the background-composited target and fills
// the per-sample output gradients. Records are disjoint in the sample
// buffer, so shading runs in parallel across rays. Returns the per-ray
// loss (channel mean, unscaled).
func (t *Trainer) shadeRecord(rec *rayRecord, nLoss int) float32 {
	coords := t.scratch.coords
	outs := t.scratch.outs
	dOut := t.scratch.dOut

	// Forward compositing.
	var color types.Vec3
	transmittance := float32(1)
	for s := 0; s < rec.n; s++ {
		o := outs[rec.offset+s]
		alpha := 1 - exp32(-o.Density*coords[rec.offset+s].Dt)
		w := transmittance * alpha
		color = color.Add(o.RGB.Mul(w))
		transmittance *= 1 - alpha
		if transmittance < t.cfg.MinTransmittance {
			// Drop the tail the same way the renderer would.
			for k := s + 1; k < rec.n; k++ {
				dOut[rec.offset+k] = field.Output{}
			}
			rec.n = s + 1
			break
		}
	}

	rec.trans = transmittance
	rec.pred = color.Mul(rec.expScale).Add(rec.bg.Mul(transmittance))

	// Composite the ground truth over the same background using its
	// alpha, so empty space supervises zero density.
	ta := rec.target[3]
	target := types.Vec3{
		rec.target[0]*ta + rec.bg[0]*(1-ta),
		rec.target[1]*ta + rec.bg[1]*(1-ta),
		rec.target[2]*ta + rec.bg[2]*(1-ta),
	}

	// Per-channel loss and its scaled gradient. The channel mean and the
	// batch ray average are folded into the gradient here; the loss scale
	// is divided back out by the optimizers.
	var loss float32
	var gBase types.Vec3
	for ch := 0; ch < 3; ch++ {
		v, gr := lossValueGrad(t.cfg.LossType, rec.pred[ch], target[ch])
		loss += v / 3
		gBase[ch] = gr * LossScale / 3
	}
	rec.loss = loss
	rec.g = gBase

	g := gBase.Mul(1 / float32(nLoss))
	dColor := g.Mul(rec.expScale)
	dBackground := g.Dot(rec.bg)

	// Backward compositing: walk front to back again, maintaining the
	// transmittance and the suffix radiance each sample's density shades.
	prefix := types.Vec3{}
	tr := float32(1)
	for s := 0; s < rec.n; s++ {
		idx := rec.offset + s
		o := outs[idx]
		dt := coords[idx].Dt
		alpha := 1 - exp32(-o.Density*dt)
		w := tr * alpha
		prefix = prefix.Add(o.RGB.Mul(w))
		trNext := tr * (1 - alpha)

		suffix := color.Sub(prefix)
		dOut[idx].RGB = dColor.Mul(w)
		dOut[idx].Density = dt * (dColor.Dot(o.RGB)*trNext -
			dColor.Dot(suffix) - dBackground*transmittance)

		tr = trNext
	}
	return loss
}

// accumulateCameraGrads folds one ray's positional gradients into the
// camera parameter registry. The batch average baked into dPos is undone
// first; apply re-normalizes per image over its contributing rays.
func (t *Trainer) accumulateCameraGrads(rec *rayRecord, dPos []types.Vec3, nLoss int) {
	im := &t.cams.images[rec.img]
	view := t.ds.Images[rec.img].View

	if t.cfg.OptimizeExposure {
		// pred = 2^e * color + bg * T, so d pred/d e = ln2 * 2^e * color.
		colorTerm := rec.pred.Sub(rec.bg.Mul(rec.trans))
		im.expGrad += float32(math.Ln2) * rec.g.Dot(colorTerm)
		im.rays++
	}
	if rec.n == 0 {
		return
	}

	// Aggregate the sample position gradients into ray origin and
	// direction gradients: pos = origin + t*dir.
	var dOrigin, dDir types.Vec3
	for s := 0; s < rec.n; s++ {
		dp := dPos[rec.offset+s]
		ts := t.scratch.coords[rec.offset+s].Pos.Sub(rec.origin).Dot(rec.dir)
		dOrigin = dOrigin.Add(dp)
		dDir = dDir.Add(dp.Mul(ts))
	}
	scale := float32(nLoss)
	dOrigin = dOrigin.Mul(scale)
	dDir = dDir.Mul(scale)

	if view.Projection == scene.Orthographic {
		// Translating an orthographic camera along its own axis leaves
		// every ray on the same line, so the along-axis component of the
		// origin gradient carries only march truncation noise. Keep the
		// observable part.
		dOrigin = dOrigin.Sub(rec.dir.Mul(dOrigin.Dot(rec.dir)))
	}

	if t.cfg.OptimizeExtrinsics {
		im.posGrad = im.posGrad.Add(dOrigin)
		// Rotation tangent: a pose-attached vector v perturbs as dv = w x v,
		// so dL/dw = v x dL/dv.
		rotG := rec.dir.Cross(dDir)
		arm := rec.origin.Sub(rec.pose.Pos)
		rotG = rotG.Add(arm.Cross(dOrigin))
		im.rotGrad = im.rotGrad.Add(rotG)
		if !t.cfg.OptimizeExposure {
			im.rays++
		}
	}

	right := rec.pose.Right()
	up := rec.pose.Up()
	center := view.Center

	if t.cfg.OptimizeFocalLength {
		if view.Projection == scene.Orthographic {
			// origin = pos + right*(px-cx)*fx + up*(py-cy)*fy.
			t.cams.focalGrad[0] += dOrigin.Dot(right) * (rec.px - center[0])
			t.cams.focalGrad[1] += dOrigin.Dot(up) * (rec.py - center[1])
		} else {
			// x = (px-cx)/fx before normalization; the normalization
			// Jacobian is dropped, as is usual for this refinement.
			x := (rec.px - center[0]) / rec.focal[0]
			y := (rec.py - center[1]) / rec.focal[1]
			t.cams.focalGrad[0] += -dDir.Dot(right) * x / rec.focal[0]
			t.cams.focalGrad[1] += -dDir.Dot(up) * y / rec.focal[1]
		}
		t.cams.focalRays++
	}

	if t.cfg.OptimizeDistortion && view.Projection == scene.Perspective {
		x := (rec.px - center[0]) / rec.focal[0]
		y := (rec.py - center[1]) / rec.focal[1]
		r2 := x*x + y*y
		dx := dDir.Dot(right)
		dy := dDir.Dot(up)
		t.cams.distortionGrad[0] += dx*x*r2 + dy*y*r2
		t.cams.distortionGrad[1] += dx*x*r2*r2 + dy*y*r2*r2
		t.cams.distortionGrad[2] += dx*2*x*y + dy*(r2+2*y*y)
		t.cams.distortionGrad[3] += dx*(r2+2*x*x) + dy*2*x*y
		t.cams.distortionRays++
	}
}

// parallelFor splits [0, n) into contiguous chunks and runs fn on worker
// goroutines, blocking until all chunks complete.
func (t *Trainer) parallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := t.workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

func exp32(v float32) float32 {
	return float32(math.Exp(float64(v)))
}

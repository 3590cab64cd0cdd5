package train

import (
	"testing"

	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/types"
)

// smallConfig shrinks the default session so tests stay fast while still
// exercising the full step pipeline.
func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetBatchSize = 1 << 12
	cfg.RaysPerBatch = 512
	cfg.MaxSamplesPerRay = 64
	cfg.GridRes = 16
	cfg.Workers = 1
	return cfg
}

func cubeTrainer(t *testing.T, cfg Config) *Trainer {
	t.Helper()
	ds := scene.SyntheticCube(scene.DefaultCubeOptions())
	f := field.NewVoxelField(24, ds.AABB, 0.05, cfg.Seed)
	tr, err := New(ds, f, cfg)
	if err != nil {
		t.Fatalf("unable to create trainer: %v", err)
	}
	return tr
}

func TestNewRejectsBadInputs(t *testing.T) {
	ds := scene.SyntheticCube(scene.DefaultCubeOptions())
	f := field.NewVoxelField(8, ds.AABB, 0.05, 1)

	if _, err := New(ds, nil, smallConfig()); err == nil {
		t.Fatalf("expected an error for a nil field")
	}

	bad := smallConfig()
	bad.TargetBatchSize = 0
	if _, err := New(ds, f, bad); err == nil {
		t.Fatalf("expected an error for a zero target batch size")
	}

	bad = smallConfig()
	bad.BatchCapacity = bad.MaxSamplesPerRay - 1
	if _, err := New(ds, f, bad); err == nil {
		t.Fatalf("expected an error for a batch capacity below the per-ray cap")
	}

	if _, err := New(&scene.Dataset{AABB: ds.AABB, RenderBox: ds.RenderBox}, f, smallConfig()); err == nil {
		t.Fatalf("expected an error for a dataset without images")
	}
}

func TestBatchCapacityCutoff(t *testing.T) {
	cfg := smallConfig()
	// Far below what 512 rays produce, forcing the cutoff.
	cfg.BatchCapacity = 256
	tr := cubeTrainer(t, cfg)
	tr.grid.Update(tr.f, cfg.GridDecay, 0, 0)

	accepted, preCompaction := tr.buildBatch(cfg.RaysPerBatch)
	if accepted > cfg.BatchCapacity {
		t.Fatalf("expected at most %d accepted samples; got %d", cfg.BatchCapacity, accepted)
	}
	if preCompaction < accepted {
		t.Fatalf("expected pre-compaction size >= accepted; got %d < %d", preCompaction, accepted)
	}

	// Rays are dropped whole: offsets form a contiguous prefix and once a
	// ray is cut, every later ray is cut too.
	offset := 0
	cut := false
	dropped := 0
	for i, rec := range tr.scratch.records {
		if rec.offset < 0 {
			cut = true
			dropped++
			if rec.n != 0 {
				t.Fatalf("[ray %d] expected a dropped ray to carry no samples; got %d", i, rec.n)
			}
			continue
		}
		if cut {
			t.Fatalf("[ray %d] expected every ray after the cutoff to be dropped", i)
		}
		if rec.offset != offset {
			t.Fatalf("[ray %d] expected offset %d; got %d", i, offset, rec.offset)
		}
		offset += rec.n
	}
	if offset != accepted {
		t.Fatalf("expected accepted offsets to sum to %d; got %d", accepted, offset)
	}
	if !cut {
		t.Fatalf("expected the tiny capacity to drop at least one ray")
	}
	// The ray that triggered the cutoff carried samples, so they must be
	// visible in the pre-compaction count.
	if preCompaction <= accepted {
		t.Fatalf("expected %d dropped rays to show up in the pre-compaction size %d", dropped, preCompaction)
	}
}

func TestStepIsDeterministic(t *testing.T) {
	cfg := smallConfig()
	trA := cubeTrainer(t, cfg)
	trB := cubeTrainer(t, cfg)

	for step := 0; step < 3; step++ {
		resA := trA.Step()
		resB := trB.Step()
		if resA != resB {
			t.Fatalf("[step %d] expected identical results; got %+v and %+v", step, resA, resB)
		}
	}
}

func TestResetReplaysSession(t *testing.T) {
	cfg := smallConfig()
	tr := cubeTrainer(t, cfg)

	var first [3]StepResult
	for step := 0; step < 3; step++ {
		first[step] = tr.Step()
	}

	tr.Reset()
	if tr.StepCount() != 0 || tr.RaysPerBatch() != cfg.RaysPerBatch {
		t.Fatalf("expected reset counters; got step %d, rays %d", tr.StepCount(), tr.RaysPerBatch())
	}
	for step := 0; step < 3; step++ {
		res := tr.Step()
		if res != first[step] {
			t.Fatalf("[step %d] expected a replayed result %+v; got %+v", step, first[step], res)
		}
	}
}

func TestTrainingConvergesOnCube(t *testing.T) {
	if testing.Short() {
		t.Skip("convergence test takes a few seconds")
	}

	cfg := smallConfig()
	// Forget stale occupancy fast so the cleared empty space actually
	// frees up in the bitfield within the test horizon.
	cfg.GridDecay = 0.6
	tr := cubeTrainer(t, cfg)

	const steps = 300
	var firstAvg, hundredAvg float32
	for step := 0; step < steps; step++ {
		res := tr.Step()
		if step < 10 {
			firstAvg += res.Loss / 10
		}
		if step >= 90 && step < 100 {
			hundredAvg += res.Loss / 10
		}
	}

	if firstAvg <= 0 {
		t.Fatalf("expected a positive initial loss; got %g", firstAvg)
	}
	if hundredAvg >= 0.5*firstAvg {
		t.Fatalf("expected the loss to at least halve within 100 steps; got %g -> %g", firstAvg, hundredAvg)
	}

	// The bitfield should have latched onto the cube and released the
	// empty corner.
	g := tr.Grid()
	if !g.Occupied(types.Vec3{0.37, 0.5, 0.5}, 0) {
		t.Fatalf("expected the cube surface to be marked occupied after training")
	}
	if g.Occupied(types.Vec3{0.05, 0.05, 0.05}, 0) {
		t.Fatalf("expected the empty corner to be released after training")
	}
}

func TestExtrinsicOptimizationRecoversPoseOffset(t *testing.T) {
	if testing.Short() {
		t.Skip("pose recovery takes a few seconds")
	}

	cfg := smallConfig()
	cfg.OptimizeExtrinsics = true

	ds := scene.SyntheticCube(scene.DefaultCubeOptions())
	// Record view 0 with a pose its images were not rendered from. The
	// other three views anchor the field, so the optimizer has to translate
	// view 0 back by the same amount to reconcile the scene.
	const shift = 0.04
	ds.Images[0].View.Pose = ds.Images[0].View.Pose.Offset(types.Vec3{0, shift, 0}, types.Vec3{})

	f := field.NewVoxelField(24, ds.AABB, 0.05, cfg.Seed)
	tr, err := New(ds, f, cfg)
	if err != nil {
		t.Fatalf("unable to create trainer: %v", err)
	}

	for step := 0; step < 2400; step++ {
		tr.Step()
	}

	pos, _ := tr.PoseOffset(0)
	if d := pos[1] + shift; d < -0.02 || d > 0.02 {
		t.Fatalf("expected the learned offset to settle near %g; got %v", float32(-shift), pos)
	}
	// View 0 looks along +x; translation along the view axis of an
	// orthographic camera is unobservable and must not drift.
	if pos[0] < -0.02 || pos[0] > 0.02 {
		t.Fatalf("expected no drift along the view axis; got %v", pos)
	}
	if pos[2] < -0.02 || pos[2] > 0.02 {
		t.Fatalf("expected no sideways drift; got %v", pos)
	}
}

func TestPoseOffsetsFrozenWithoutToggle(t *testing.T) {
	tr := cubeTrainer(t, smallConfig())
	for step := 0; step < 20; step++ {
		tr.Step()
	}
	for i := 0; i < 4; i++ {
		if pos, rot := tr.PoseOffset(i); pos.Len() != 0 || rot.Len() != 0 {
			t.Fatalf("[image %d] expected frozen pose offsets; got %v, %v", i, pos, rot)
		}
	}
}

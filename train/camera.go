package train

import (
	"math"

	"github.com/yenchenlin/orthographic-ngp/optim"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/types"
)

// imageParams holds the learned per-image offsets. All offsets are deltas
// applied on top of the dataset-provided camera parameters; the originals
// are never overwritten.
type imageParams struct {
	posOffset types.Vec3
	rotOffset types.Vec3
	exposure  float32

	posGrad types.Vec3
	rotGrad types.Vec3
	expGrad float32
	rays    int

	posOpt *optim.VecAdam
	rotOpt *optim.RotationAdam
	expOpt *optim.ScalarAdam
}

// cameraParams is the registry of camera parameter groups for a session:
// per-image extrinsics and exposure, plus the shared focal length and lens
// distortion offsets.
type cameraParams struct {
	images []imageParams

	focalOffset types.Vec2
	focalGrad   types.Vec2
	focalRays   int
	focalOpt    *optim.Adam

	distortionOffset [4]float32
	distortionGrad   [4]float32
	distortionRays   int
	distortionOpt    *optim.Adam

	stepsSinceUpdate int
}

func newCameraParams(n int, cfg Config) *cameraParams {
	cp := &cameraParams{
		images:        make([]imageParams, n),
		focalOpt:      optim.NewAdam(2, cfg.FocalLearningRate),
		distortionOpt: optim.NewAdam(4, cfg.DistortionLearningRate),
	}
	for i := range cp.images {
		cp.images[i].posOpt = optim.NewVecAdam(cfg.ExtrinsicLearningRate)
		cp.images[i].rotOpt = optim.NewRotationAdam(cfg.ExtrinsicLearningRate)
		cp.images[i].expOpt = optim.NewScalarAdam(cfg.ExposureLearningRate)
	}
	return cp
}

// effectiveView composes the learned offsets onto the dataset view of
// image i.
func (cp *cameraParams) effectiveView(base scene.View, i int) (scene.Pose, types.Vec2) {
	im := &cp.images[i]
	pose := base.Pose.Offset(im.posOffset, im.rotOffset)
	focal := base.Focal.Add(cp.focalOffset)
	return pose, focal
}

// exposureScale returns the learned 2^exposure multiplier for image i.
func (cp *cameraParams) exposureScale(i int) float32 {
	return float32(math.Exp2(float64(cp.images[i].exposure)))
}

// apply flushes the accumulated gradients into the optimizers. Updates are
// batched over cfg.CamUpdateInterval steps to reduce jitter; gradients are
// averaged over the contributing rays and the loss scaling divided out.
func (cp *cameraParams) apply(cfg Config) {
	for i := range cp.images {
		im := &cp.images[i]
		if im.rays > 0 {
			norm := 1.0 / (LossScale * float32(im.rays))
			if cfg.OptimizeExtrinsics {
				im.posOffset = im.posOpt.Step(im.posOffset, im.posGrad.Mul(norm))
				im.rotOffset = im.rotOpt.Step(im.rotOffset, im.rotGrad.Mul(norm))
			}
			if cfg.OptimizeExposure {
				im.exposure = im.expOpt.Step(im.exposure, im.expGrad*norm)
			}
		}
		im.posGrad = types.Vec3{}
		im.rotGrad = types.Vec3{}
		im.expGrad = 0
		im.rays = 0
	}

	if cfg.OptimizeFocalLength && cp.focalRays > 0 {
		norm := 1.0 / (LossScale * float32(cp.focalRays))
		params := []float32{cp.focalOffset[0], cp.focalOffset[1]}
		grads := []float32{cp.focalGrad[0] * norm, cp.focalGrad[1] * norm}
		cp.focalOpt.Step(params, grads)
		cp.focalOffset = types.Vec2{params[0], params[1]}
	}
	cp.focalGrad = types.Vec2{}
	cp.focalRays = 0

	if cfg.OptimizeDistortion && cp.distortionRays > 0 {
		norm := 1.0 / (LossScale * float32(cp.distortionRays))
		grads := make([]float32, 4)
		for i := range grads {
			grads[i] = cp.distortionGrad[i] * norm
		}
		cp.distortionOpt.Step(cp.distortionOffset[:], grads)
	}
	cp.distortionGrad = [4]float32{}
	cp.distortionRays = 0

	cp.stepsSinceUpdate = 0
}

// reset drops all learned offsets and optimizer state.
func (cp *cameraParams) reset() {
	for i := range cp.images {
		im := &cp.images[i]
		im.posOffset = types.Vec3{}
		im.rotOffset = types.Vec3{}
		im.exposure = 0
		im.posGrad = types.Vec3{}
		im.rotGrad = types.Vec3{}
		im.expGrad = 0
		im.rays = 0
		im.posOpt.Reset()
		im.rotOpt.Reset()
		im.expOpt.Reset()
	}
	cp.focalOffset = types.Vec2{}
	cp.focalGrad = types.Vec2{}
	cp.focalRays = 0
	cp.focalOpt.Reset()
	cp.distortionOffset = [4]float32{}
	cp.distortionGrad = [4]float32{}
	cp.distortionRays = 0
	cp.distortionOpt.Reset()
	cp.stepsSinceUpdate = 0
}

// effectiveDistortion composes the learned distortion offset onto the
// dataset distortion of a view.
func (cp *cameraParams) effectiveDistortion(base scene.Distortion) scene.Distortion {
	return scene.Distortion{
		K1: base.K1 + cp.distortionOffset[0],
		K2: base.K2 + cp.distortionOffset[1],
		P1: base.P1 + cp.distortionOffset[2],
		P2: base.P2 + cp.distortionOffset[3],
	}
}

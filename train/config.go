package train

import (
	"fmt"

	"github.com/yenchenlin/orthographic-ngp/errmap"
	"github.com/yenchenlin/orthographic-ngp/grid"
	"github.com/yenchenlin/orthographic-ngp/tracer"
	"github.com/yenchenlin/orthographic-ngp/types"
)

// LossScale is multiplied into every gradient before back-propagation and
// divided back out when updates are applied, keeping intermediate values
// inside the numeric range of low-precision compute paths. It is a global
// constant, never tuned at runtime.
const LossScale = 128.0

// Config is the explicit configuration value object for a training
// session. It is passed by value into the trainer and validated once.
type Config struct {
	// Number of samples the batch builder aims to accept per step.
	TargetBatchSize int

	// Fixed sample capacity of the batch buffers. Zero derives it from
	// TargetBatchSize. Requests beyond the capacity truncate.
	BatchCapacity int

	// Initial number of rays drawn per step; adapted toward
	// TargetBatchSize as training proceeds.
	RaysPerBatch int

	// Per-ray sample cap; excess samples are silently truncated.
	MaxSamplesPerRay int

	// Reconstruction loss.
	LossType LossType

	// Learning rates for the camera parameter groups.
	ExtrinsicLearningRate  float32
	FocalLearningRate      float32
	ExposureLearningRate   float32
	DistortionLearningRate float32

	// Per-group camera optimization toggles.
	OptimizeExtrinsics  bool
	OptimizeFocalLength bool
	OptimizeExposure    bool
	OptimizeDistortion  bool

	// Error-map driven importance sampling.
	SampleImageProportionalToError      bool
	SampleFocalPlaneProportionalToError bool
	IncludeSharpnessInError             bool
	ErrorMapRes                         int

	// Update cadences, in training steps.
	GridUpdateInterval     int
	CamUpdateInterval      int
	ErrorMapUpdateInterval int

	// Occupancy grid shape and EMA decay.
	GridRes      int
	GridCascades int
	GridDecay    float32

	// Cells probed per grid update; zero derives both from the grid size.
	GridUniformSamples    int
	GridNonuniformSamples int

	// Marching parameters.
	NearDistance     float32
	ConeAngle        float32
	MinTransmittance float32

	// Volumes: AABB is the training volume (grid cascade 0), RenderBox
	// constrains which cells may be occupied.
	AABB      types.Box
	RenderBox types.Box

	// Composite training targets over a random background so the field
	// learns zero density in empty space instead of baking in one color.
	RandomBGColor bool
	Background    types.Vec3

	Seed    int64
	Workers int
}

// DefaultConfig returns the canonical training configuration for the unit
// volume.
func DefaultConfig() Config {
	unit := types.Box{Min: types.Vec3{0, 0, 0}, Max: types.Vec3{1, 1, 1}}
	return Config{
		TargetBatchSize:  1 << 16,
		RaysPerBatch:     1 << 12,
		MaxSamplesPerRay: 128,
		LossType:         LossL2,

		ExtrinsicLearningRate:  1e-3,
		FocalLearningRate:      1e-3,
		ExposureLearningRate:   1e-3,
		DistortionLearningRate: 1e-4,

		ErrorMapRes: errmap.DefaultRes,

		GridUpdateInterval:     16,
		CamUpdateInterval:      16,
		ErrorMapUpdateInterval: 128,

		GridRes:      grid.DefaultRes,
		GridCascades: 1,
		GridDecay:    0.95,

		NearDistance:     0.05,
		ConeAngle:        tracer.DefaultConeAngle,
		MinTransmittance: 1e-4,

		AABB:          unit,
		RenderBox:     unit,
		RandomBGColor: true,
		Seed:          1337,
	}
}

// Validate the configuration, failing fast on caller misuse.
func (c *Config) Validate() error {
	if c.TargetBatchSize <= 0 {
		return fmt.Errorf("train: target batch size must be positive, got %d", c.TargetBatchSize)
	}
	if c.BatchCapacity < 0 {
		return fmt.Errorf("train: negative batch capacity %d", c.BatchCapacity)
	}
	// A capacity below the per-ray cap can reject every ray of a batch,
	// stalling the session with nothing left to optimize.
	if c.BatchCapacity > 0 && c.BatchCapacity < c.MaxSamplesPerRay {
		return fmt.Errorf("train: batch capacity %d below the per-ray sample cap %d", c.BatchCapacity, c.MaxSamplesPerRay)
	}
	if c.RaysPerBatch <= 0 {
		return fmt.Errorf("train: rays per batch must be positive, got %d", c.RaysPerBatch)
	}
	if c.MaxSamplesPerRay <= 0 {
		return fmt.Errorf("train: per-ray sample cap must be positive, got %d", c.MaxSamplesPerRay)
	}
	if c.LossType < LossL2 || c.LossType > LossLogL1 {
		return fmt.Errorf("train: unknown loss type %d", c.LossType)
	}
	if c.GridUpdateInterval <= 0 || c.CamUpdateInterval <= 0 || c.ErrorMapUpdateInterval <= 0 {
		return fmt.Errorf("train: update intervals must be positive")
	}
	if c.GridRes <= 0 || c.GridCascades <= 0 {
		return fmt.Errorf("train: invalid grid dimensions %dx%d cascades", c.GridRes, c.GridCascades)
	}
	if c.GridDecay <= 0 || c.GridDecay > 1 {
		return fmt.Errorf("train: grid decay must be in (0, 1], got %g", c.GridDecay)
	}
	if c.ErrorMapRes <= 0 {
		return fmt.Errorf("train: error map resolution must be positive, got %d", c.ErrorMapRes)
	}
	if c.GridUniformSamples < 0 || c.GridNonuniformSamples < 0 {
		return fmt.Errorf("train: negative grid sample counts")
	}
	if c.MinTransmittance <= 0 {
		return fmt.Errorf("train: min transmittance must be positive, got %g", c.MinTransmittance)
	}
	if err := c.AABB.Validate(); err != nil {
		return err
	}
	return c.RenderBox.Validate()
}

// capacity returns the fixed sample capacity of the batch buffers.
func (c *Config) capacity() int {
	if c.BatchCapacity > 0 {
		return c.BatchCapacity
	}
	// Pad so a final ray's samples rarely straddle the cutoff.
	return c.TargetBatchSize + c.MaxSamplesPerRay
}

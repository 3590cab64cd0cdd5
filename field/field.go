// Package field defines the trainable radiance field capability consumed by
// the tracer and the training loop. The production network (hash-encoded
// MLP) lives behind the Trainable interface; this package also ships a
// trilinear voxel field implementation used by the demo commands and tests.
package field

import "github.com/yenchenlin/orthographic-ngp/types"

// Coordinate is one network input sample: a position along a ray, the ray
// direction and the marching step size the sample was generated with.
type Coordinate struct {
	Pos types.Vec3
	Dir types.Vec3
	Dt  float32
}

// Output is one network output sample: linear radiance plus volume density.
type Output struct {
	RGB     types.Vec3
	Density float32
}

// Trainable is the opaque capability exposed by the underlying network.
//
// Forward and Backward operate on parallel slices; Backward accumulates
// parameter gradients internally and, when dPos is non-nil, also reports
// the gradient of the loss with respect to each sample position (used for
// camera pose refinement). Step applies the accumulated gradients, dividing
// them by gradScale to undo the numeric-range loss scaling.
type Trainable interface {
	Forward(coords []Coordinate, out []Output)
	Backward(coords []Coordinate, dOut []Output, dPos []types.Vec3)
	Step(gradScale float32)
	DensityAt(pos types.Vec3) float32
	Reset()
}

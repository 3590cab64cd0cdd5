package optim

import (
	"github.com/yenchenlin/orthographic-ngp/types"
)

// RotationAdam refines a rotation offset stored as a rotation vector (axis
// scaled by angle). Plain vector Adam on the components drifts for larger
// angles, so the bias-corrected update is computed in the tangent space and
// composed with the current rotation through quaternions.
type RotationAdam struct {
	inner *Adam
}

// Create a new rotation Adam optimizer.
func NewRotationAdam(learningRate float32) *RotationAdam {
	return &RotationAdam{inner: NewAdam(3, learningRate)}
}

// Apply one gradient step and return the composed rotation vector.
func (o *RotationAdam) Step(rot, grad types.Vec3) types.Vec3 {
	// Let the inner Adam compute the small-angle update against a zero
	// starting point; the actual rotation state is composed below.
	update := [3]float32{}
	g := [3]float32{grad[0], grad[1], grad[2]}
	o.inner.Step(update[:], g[:])

	delta := types.QuatFromRotationVec(types.Vec3{update[0], update[1], update[2]})
	current := types.QuatFromRotationVec(rot)
	return delta.Mul(current).Normalize().RotationVec()
}

// Reset the optimizer state.
func (o *RotationAdam) Reset() {
	o.inner.Reset()
}

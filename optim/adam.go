package optim

import (
	"math"

	"github.com/yenchenlin/orthographic-ngp/types"
)

// Default Adam hyper-parameters. These match the values commonly used for
// camera parameter refinement and are deliberately not exposed as knobs.
const (
	DefaultBeta1   float32 = 0.9
	DefaultBeta2   float32 = 0.99
	DefaultEpsilon float32 = 1e-8
)

// Adam maintains first/second raw moment estimates for a flat parameter
// vector and applies bias-corrected updates.
type Adam struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32

	m    []float32
	v    []float32
	step int
}

// Create a new Adam optimizer for n parameters.
func NewAdam(n int, learningRate float32) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
		Epsilon:      DefaultEpsilon,
		m:            make([]float32, n),
		v:            make([]float32, n),
	}
}

// Apply one gradient step in place. Params and grads must have the length
// the optimizer was constructed with.
func (o *Adam) Step(params, grads []float32) {
	o.step++
	c1 := 1.0 - float32(math.Pow(float64(o.Beta1), float64(o.step)))
	c2 := 1.0 - float32(math.Pow(float64(o.Beta2), float64(o.step)))

	for i, g := range grads {
		o.m[i] = o.Beta1*o.m[i] + (1-o.Beta1)*g
		o.v[i] = o.Beta2*o.v[i] + (1-o.Beta2)*g*g

		mHat := o.m[i] / c1
		vHat := o.v[i] / c2
		params[i] -= o.LearningRate * mHat / (float32(math.Sqrt(float64(vHat))) + o.Epsilon)
	}
}

// Reset the moment estimates and step counter. Old momentum is meaningless
// after the underlying parameters are re-initialized.
func (o *Adam) Reset() {
	for i := range o.m {
		o.m[i] = 0
		o.v[i] = 0
	}
	o.step = 0
}

// VecAdam is an Adam optimizer over a single 3 component vector, used for
// per-image camera parameter groups.
type VecAdam struct {
	inner *Adam
	buf   [3]float32
	grad  [3]float32
}

// Create a new 3 component vector Adam optimizer.
func NewVecAdam(learningRate float32) *VecAdam {
	return &VecAdam{inner: NewAdam(3, learningRate)}
}

// Apply one gradient step and return the updated value.
func (o *VecAdam) Step(value, grad types.Vec3) types.Vec3 {
	o.buf = [3]float32{value[0], value[1], value[2]}
	o.grad = [3]float32{grad[0], grad[1], grad[2]}
	o.inner.Step(o.buf[:], o.grad[:])
	return types.Vec3{o.buf[0], o.buf[1], o.buf[2]}
}

// Reset the optimizer state.
func (o *VecAdam) Reset() {
	o.inner.Reset()
}

// ScalarAdam is an Adam optimizer over a single scalar, used for the shared
// focal length offset.
type ScalarAdam struct {
	inner *Adam
	buf   [1]float32
	grad  [1]float32
}

// Create a new scalar Adam optimizer.
func NewScalarAdam(learningRate float32) *ScalarAdam {
	return &ScalarAdam{inner: NewAdam(1, learningRate)}
}

// Apply one gradient step and return the updated value.
func (o *ScalarAdam) Step(value, grad float32) float32 {
	o.buf[0] = value
	o.grad[0] = grad
	o.inner.Step(o.buf[:], o.grad[:])
	return o.buf[0]
}

// Reset the optimizer state.
func (o *ScalarAdam) Reset() {
	o.inner.Reset()
}

package field

import (
	"testing"

	"github.com/yenchenlin/orthographic-ngp/types"
)

func unitBox() types.Box {
	return types.Box{Min: types.Vec3{0, 0, 0}, Max: types.Vec3{1, 1, 1}}
}

// Linear functional of one output sample; its parameter gradient is exactly
// what Backward accumulates for dOut.
func probe(f *VoxelField, pos types.Vec3, dOut Output) float32 {
	var out [1]Output
	f.Forward([]Coordinate{{Pos: pos}}, out[:])
	return dOut.RGB.Dot(out[0].RGB) + dOut.Density*out[0].Density
}

func TestVoxelFieldForwardRange(t *testing.T) {
	f := NewVoxelField(4, unitBox(), 0.01, 42)

	coords := []Coordinate{
		{Pos: types.Vec3{0.1, 0.2, 0.3}},
		{Pos: types.Vec3{0.9, 0.9, 0.9}},
		{Pos: types.Vec3{0.5, 0.5, 0.5}},
	}
	out := make([]Output, len(coords))
	f.Forward(coords, out)

	for index, o := range out {
		for c := 0; c < 3; c++ {
			if o.RGB[c] <= 0 || o.RGB[c] >= 1 {
				t.Fatalf("[sample %d] expected logistic radiance in (0, 1); got %v", index, o.RGB)
			}
		}
		if o.Density <= 0 {
			t.Fatalf("[sample %d] expected positive density; got %g", index, o.Density)
		}
	}
}

func TestVoxelFieldParameterGradients(t *testing.T) {
	f := NewVoxelField(3, unitBox(), 0.01, 42)
	pos := types.Vec3{0.3, 0.6, 0.4}
	dOut := Output{RGB: types.Vec3{0.7, -0.3, 0.5}, Density: 0.4}

	f.Backward([]Coordinate{{Pos: pos}}, []Output{dOut}, nil)

	const h = 1e-3
	for i := range f.params {
		orig := f.params[i]
		f.params[i] = orig + h
		plus := probe(f, pos, dOut)
		f.params[i] = orig - h
		minus := probe(f, pos, dOut)
		f.params[i] = orig

		numeric := (plus - minus) / (2 * h)
		analytic := f.grads[i]
		if diff := absf(numeric - analytic); diff > 1e-2 && diff > 0.05*absf(numeric) {
			t.Fatalf("parameter %d: expected gradient %g; got %g", i, numeric, analytic)
		}
	}
}

func TestVoxelFieldPositionGradients(t *testing.T) {
	f := NewVoxelField(3, unitBox(), 0.01, 7)
	pos := types.Vec3{0.3, 0.6, 0.4}
	dOut := Output{RGB: types.Vec3{0.5, 0.5, 0.5}, Density: 1}

	dPos := make([]types.Vec3, 1)
	f.Backward([]Coordinate{{Pos: pos}}, []Output{dOut}, dPos)

	const h = 1e-3
	for axis := 0; axis < 3; axis++ {
		p := pos
		p[axis] += h
		plus := probe(f, p, dOut)
		p[axis] = pos[axis] - h
		minus := probe(f, p, dOut)

		numeric := (plus - minus) / (2 * h)
		analytic := dPos[0][axis]
		if diff := absf(numeric - analytic); diff > 1e-2 && diff > 0.05*absf(numeric) {
			t.Fatalf("axis %d: expected position gradient %g; got %g", axis, numeric, analytic)
		}
	}
}

func TestVoxelFieldStepMovesOutput(t *testing.T) {
	f := NewVoxelField(4, unitBox(), 0.05, 42)
	pos := types.Vec3{0.5, 0.5, 0.5}

	before := f.DensityAt(pos)
	// Push the density down for a while.
	for i := 0; i < 50; i++ {
		f.Backward([]Coordinate{{Pos: pos}}, []Output{{Density: 1}}, nil)
		f.Step(1)
	}
	after := f.DensityAt(pos)

	if after >= before {
		t.Fatalf("expected density to decrease under a positive density gradient; got %g -> %g", before, after)
	}
}

func TestVoxelFieldResetIsDeterministic(t *testing.T) {
	f := NewVoxelField(4, unitBox(), 0.05, 42)
	fresh := NewVoxelField(4, unitBox(), 0.05, 42)

	for i := 0; i < 20; i++ {
		f.Backward([]Coordinate{{Pos: types.Vec3{0.5, 0.5, 0.5}}}, []Output{{Density: 1}}, nil)
		f.Step(1)
	}
	f.Reset()

	for i := range f.params {
		if f.params[i] != fresh.params[i] {
			t.Fatalf("expected reset to reproduce the initial parameters; param %d differs", i)
		}
	}
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

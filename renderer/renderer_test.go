package renderer

import (
	"testing"

	"github.com/yenchenlin/orthographic-ngp/field"
	"github.com/yenchenlin/orthographic-ngp/grid"
	"github.com/yenchenlin/orthographic-ngp/scene"
	"github.com/yenchenlin/orthographic-ngp/tracer"
	"github.com/yenchenlin/orthographic-ngp/types"
)

type solidField struct {
	rgb   types.Vec3
	sigma float32
}

func (s *solidField) Forward(coords []field.Coordinate, out []field.Output) {
	for i := range coords {
		out[i] = field.Output{RGB: s.rgb, Density: s.sigma}
	}
}
func (s *solidField) Backward([]field.Coordinate, []field.Output, []types.Vec3) {}
func (s *solidField) Step(float32)                                              {}
func (s *solidField) Reset()                                                    {}
func (s *solidField) DensityAt(types.Vec3) float32                              { return s.sigma }

func testView() scene.View {
	return scene.View{
		Pose:       scene.LookAtPose(types.Vec3{0.5, 0.5, -1}, types.Vec3{0.5, 0.5, 0.5}, types.Vec3{0, 1, 0}),
		Projection: scene.Orthographic,
		Focal:      types.Vec2{0.05, 0.05},
		Center:     types.Vec2{4, 4},
	}
}

func TestRendererValidation(t *testing.T) {
	unit := types.Box{Min: types.Vec3{0, 0, 0}, Max: types.Vec3{1, 1, 1}}
	g, err := grid.New(8, 1, unit, unit, 1)
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{FrameW: 8, FrameH: 8, Workers: 1, Trace: tracer.DefaultOptions()}
	if _, err := NewDefault(nil, g, NaiveScheduler(), opts); err != ErrFieldNotSet {
		t.Fatalf("expected ErrFieldNotSet; got %v", err)
	}
	if _, err := NewDefault(&solidField{}, nil, NaiveScheduler(), opts); err != ErrGridNotSet {
		t.Fatalf("expected ErrGridNotSet; got %v", err)
	}

	bad := opts
	bad.FrameW = 0
	if _, err := NewDefault(&solidField{}, g, NaiveScheduler(), bad); err == nil {
		t.Fatalf("expected a degenerate frame size to fail validation")
	}
}

func TestRendererRendersFrame(t *testing.T) {
	unit := types.Box{Min: types.Vec3{0, 0, 0}, Max: types.Vec3{1, 1, 1}}
	g, err := grid.New(8, 1, unit, unit, 1)
	if err != nil {
		t.Fatal(err)
	}
	f := &solidField{rgb: types.Vec3{0.8, 0.3, 0.2}, sigma: 500}
	g.Update(f, 0.95, 0, 0)

	r, err := NewDefault(f, g, AdaptiveScheduler(), Options{
		FrameW:  8,
		FrameH:  8,
		Workers: 2,
		Trace:   tracer.DefaultOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	// Two frames so the scheduler also exercises its feedback path.
	for frame := 0; frame < 2; frame++ {
		if err := r.Render(testView()); err != nil {
			t.Fatalf("frame %d: expected render to succeed; got %v", frame, err)
		}
	}

	fb := r.Framebuffer()
	if len(fb) != 64 {
		t.Fatalf("expected a 64 pixel framebuffer; got %d", len(fb))
	}
	for idx, px := range fb {
		if px.Vec3().Sub(f.rgb).Len() > 0.05 {
			t.Fatalf("pixel %d: expected the saturated field color %v; got %v", idx, f.rgb, px.Vec3())
		}
	}

	stats := r.Stats()
	if len(stats.Workers) != 2 {
		t.Fatalf("expected stats for 2 workers; got %d", len(stats.Workers))
	}
	rows := 0
	for _, ws := range stats.Workers {
		rows += ws.BlockH
	}
	if rows != 8 {
		t.Fatalf("expected worker blocks to cover all 8 rows; got %d", rows)
	}
	if stats.RenderTime <= 0 {
		t.Fatalf("expected a positive frame render time")
	}
}

func TestRendererClose(t *testing.T) {
	unit := types.Box{Min: types.Vec3{0, 0, 0}, Max: types.Vec3{1, 1, 1}}
	g, err := grid.New(8, 1, unit, unit, 1)
	if err != nil {
		t.Fatal(err)
	}
	f := &solidField{sigma: 1}

	r, err := NewDefault(f, g, NaiveScheduler(), Options{
		FrameW:  4,
		FrameH:  4,
		Workers: 1,
		Trace:   tracer.DefaultOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}

	r.Close()
	r.Close() // second close is a no-op

	if err := r.Render(testView()); err != ErrAlreadyClosed {
		t.Fatalf("expected ErrAlreadyClosed after shutdown; got %v", err)
	}
}

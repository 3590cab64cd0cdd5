package scene

import (
	"github.com/yenchenlin/orthographic-ngp/types"
)

// SyntheticCubeOptions configures the generated cube dataset.
type SyntheticCubeOptions struct {
	ImageW, ImageH int
	Views          int        // orthogonal orthographic views around the cube
	Cube           types.Box  // the occupied volume
	Color          types.Vec3 // cube albedo
	Background     types.Vec3
}

// DefaultCubeOptions returns the canonical test scene: a solid cube in the
// middle of the unit volume observed from four orthogonal directions.
func DefaultCubeOptions() SyntheticCubeOptions {
	return SyntheticCubeOptions{
		ImageW:     32,
		ImageH:     32,
		Views:      4,
		Cube:       types.Box{Min: types.Vec3{0.35, 0.35, 0.35}, Max: types.Vec3{0.65, 0.65, 0.65}},
		Color:      types.Vec3{0.8, 0.3, 0.2},
		Background: types.Vec3{0, 0, 0},
	}
}

// SyntheticCube builds a dataset of analytically rendered orthographic
// views of a solid, uniformly colored cube inside the unit volume. Pixels
// whose ray crosses the cube receive the cube color at full alpha, all
// other pixels the background at zero alpha — exactly the image a fully
// converged radiance field would reproduce.
func SyntheticCube(opts SyntheticCubeOptions) *Dataset {
	unit := types.Box{Min: types.Vec3{0, 0, 0}, Max: types.Vec3{1, 1, 1}}
	center := unit.Center()

	// View directions: four orthogonal compass points around the Y axis,
	// then alternating top/bottom views for any additional images.
	dirs := []types.Vec3{
		{1, 0, 0}, {-1, 0, 0}, {0, 0, 1}, {0, 0, -1},
		{0, 1, 0}, {0, -1, 0},
	}

	ds := &Dataset{AABB: unit, RenderBox: unit}
	for i := 0; i < opts.Views; i++ {
		fwd := dirs[i%len(dirs)]
		up := types.Vec3{0, 1, 0}
		if fwd[1] != 0 {
			up = types.Vec3{0, 0, 1}
		}
		eye := center.Sub(fwd.Mul(1.5))

		view := View{
			Pose:       LookAtPose(eye, center, up),
			Projection: Orthographic,
			// Span 1.25 world units across the image so the whole unit
			// volume stays in frame.
			Focal:  types.Vec2{1.25 / float32(opts.ImageW), 1.25 / float32(opts.ImageH)},
			Center: types.Vec2{float32(opts.ImageW) / 2, float32(opts.ImageH) / 2},
		}

		im := &TrainingImage{
			View:   view,
			W:      opts.ImageW,
			H:      opts.ImageH,
			Pixels: make([]types.Vec4, opts.ImageW*opts.ImageH),
		}
		for y := 0; y < opts.ImageH; y++ {
			for x := 0; x < opts.ImageW; x++ {
				o, d := view.RayThrough(float32(x)+0.5, float32(y)+0.5)
				tMin, tMax := opts.Cube.Intersect(o, d)
				px := opts.Background.Vec4(0)
				if tMin <= tMax && tMax > 0 {
					px = opts.Color.Vec4(1)
				}
				im.Pixels[y*opts.ImageW+x] = px
			}
		}
		ds.Images = append(ds.Images, im)
	}
	return ds
}

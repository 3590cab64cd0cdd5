package types

import (
	"fmt"
	"math"
)

// Box defines an axis-aligned bounding box.
type Box struct {
	Min Vec3
	Max Vec3
}

// Create a cube-shaped box centered at the given point.
func CubeBox(center Vec3, halfExtent float32) Box {
	d := Vec3{halfExtent, halfExtent, halfExtent}
	return Box{
		Min: center.Sub(d),
		Max: center.Add(d),
	}
}

// Validate the box dimensions. Degenerate boxes (min >= max on any axis)
// indicate caller misuse and are reported as an error.
func (b Box) Validate() error {
	for axis := 0; axis < 3; axis++ {
		if !(b.Min[axis] < b.Max[axis]) {
			return fmt.Errorf("types: degenerate bounding box: min %v, max %v", b.Min, b.Max)
		}
	}
	return nil
}

// Get box center.
func (b Box) Center() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Get box diagonal.
func (b Box) Diagonal() Vec3 {
	return b.Max.Sub(b.Min)
}

// Check whether a point lies inside the box.
func (b Box) Contains(p Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// Map a world-space point to normalized [0,1] box coordinates.
func (b Box) Relative(p Vec3) Vec3 {
	d := b.Diagonal()
	rel := p.Sub(b.Min)
	return Vec3{rel[0] / d[0], rel[1] / d[1], rel[2] / d[2]}
}

// Slab intersection test for a ray against the box. Returns the entry and
// exit distances along the ray; the ray misses the box when tMin > tMax.
func (b Box) Intersect(origin, dir Vec3) (tMin, tMax float32) {
	tMin = float32(math.Inf(-1))
	tMax = float32(math.Inf(1))
	for axis := 0; axis < 3; axis++ {
		inv := 1.0 / dir[axis]
		t0 := (b.Min[axis] - origin[axis]) * inv
		t1 := (b.Max[axis] - origin[axis]) * inv
		if inv < 0 {
			t0, t1 = t1, t0
		}
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
	}
	return tMin, tMax
}

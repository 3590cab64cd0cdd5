package tracer

import (
	"github.com/yenchenlin/orthographic-ngp/types"
)

// Ray carries one pixel sample through the trace loop. Each ray's
// accumulator is privately owned by the tracer that created it for the
// duration of the trace; no cross-ray mutable sharing occurs.
type Ray struct {
	Origin types.Vec3
	Dir    types.Vec3

	// Parametric distance along the ray, last step size taken and marching
	// step count so far.
	T     float32
	Dt    float32
	Steps uint32

	// Front-to-back compositing state.
	RGBA          types.Vec4
	Transmittance float32

	// Payload: index of the pixel sample this ray belongs to.
	PixelIdx int

	Alive bool
}

// CompactAlive removes dead rays from the work set, preserving the relative
// order of survivors (stable partition), and returns the shrunken slice.
// Order preservation keeps image output and index-keyed sampling streams
// reproducible.
func CompactAlive(rays []Ray) []Ray {
	n := 0
	for i := range rays {
		if !rays[i].Alive {
			continue
		}
		if n != i {
			rays[n] = rays[i]
		}
		n++
	}
	return rays[:n]
}

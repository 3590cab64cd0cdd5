package scene

import (
	"math"

	"github.com/yenchenlin/orthographic-ngp/types"
)

// Projection selects how a view maps pixels to rays.
type Projection uint8

const (
	Perspective Projection = iota
	Orthographic
)

// Pose is a rigid camera-to-world transform.
type Pose struct {
	Rot types.Quat
	Pos types.Vec3
}

// Camera-space basis vectors in world space. The camera looks down +Z.
func (p Pose) Right() types.Vec3   { return p.Rot.Rotate(types.Vec3{1, 0, 0}) }
func (p Pose) Up() types.Vec3      { return p.Rot.Rotate(types.Vec3{0, 1, 0}) }
func (p Pose) Forward() types.Vec3 { return p.Rot.Rotate(types.Vec3{0, 0, 1}) }

// Compose a delta on top of this pose: the rotation offset is given as a
// rotation vector, the position offset in world units. The original pose is
// not mutated; offsets are always deltas on top of the dataset pose.
func (p Pose) Offset(posOffset, rotOffset types.Vec3) Pose {
	return Pose{
		Rot: types.QuatFromRotationVec(rotOffset).Mul(p.Rot).Normalize(),
		Pos: p.Pos.Add(posOffset),
	}
}

// LookAtPose builds a pose at eye looking toward target.
func LookAtPose(eye, target, up types.Vec3) Pose {
	fwd := target.Sub(eye).Normalize()
	right := up.Cross(fwd).Normalize()
	trueUp := fwd.Cross(right)

	// Quaternion from the orthonormal basis (shepherd's method).
	return Pose{Rot: quatFromBasis(right, trueUp, fwd), Pos: eye}
}

func quatFromBasis(x, y, z types.Vec3) types.Quat {
	m00, m01, m02 := x[0], y[0], z[0]
	m10, m11, m12 := x[1], y[1], z[1]
	m20, m21, m22 := x[2], y[2], z[2]

	trace := m00 + m11 + m22
	var q types.Quat
	switch {
	case trace > 0:
		s := sqrt32(trace+1) * 2
		q = types.Quat{W: 0.25 * s, V: types.Vec3{(m21 - m12) / s, (m02 - m20) / s, (m10 - m01) / s}}
	case m00 > m11 && m00 > m22:
		s := sqrt32(1+m00-m11-m22) * 2
		q = types.Quat{W: (m21 - m12) / s, V: types.Vec3{0.25 * s, (m01 + m10) / s, (m02 + m20) / s}}
	case m11 > m22:
		s := sqrt32(1+m11-m00-m22) * 2
		q = types.Quat{W: (m02 - m20) / s, V: types.Vec3{(m01 + m10) / s, 0.25 * s, (m12 + m21) / s}}
	default:
		s := sqrt32(1+m22-m00-m11) * 2
		q = types.Quat{W: (m10 - m01) / s, V: types.Vec3{(m02 + m20) / s, (m12 + m21) / s, 0.25 * s}}
	}
	return q.Normalize()
}

// Distortion holds the radial/tangential lens distortion coefficients
// applied to perspective pixel directions.
type Distortion struct {
	K1, K2 float32
	P1, P2 float32
}

// Zero reports whether the distortion is a no-op.
func (d Distortion) Zero() bool {
	return d.K1 == 0 && d.K2 == 0 && d.P1 == 0 && d.P2 == 0
}

func (d Distortion) apply(x, y float32) (float32, float32) {
	r2 := x*x + y*y
	radial := 1 + d.K1*r2 + d.K2*r2*r2
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*radial + 2*d.P2*x*y + d.P1*(r2+2*y*y)
	return xd, yd
}

// View describes one camera: pose, intrinsics and projection type. Focal is
// expressed in pixels for perspective views and as world units per pixel
// for orthographic ones. Center is the principal point in pixels.
type View struct {
	Pose       Pose
	Focal      types.Vec2
	Center     types.Vec2
	Projection Projection
	Distortion Distortion
}

// RayThrough generates the world-space ray for the (fractional) pixel
// coordinates px, py.
func (v View) RayThrough(px, py float32) (origin, dir types.Vec3) {
	return v.rayWith(v.Pose, v.Focal, px, py)
}

// RayWith generates a ray using an overridden pose and focal length, as
// required when per-image training offsets are in effect.
func (v View) RayWith(pose Pose, focal types.Vec2, px, py float32) (origin, dir types.Vec3) {
	return v.rayWith(pose, focal, px, py)
}

func (v View) rayWith(pose Pose, focal types.Vec2, px, py float32) (origin, dir types.Vec3) {
	if v.Projection == Orthographic {
		// Parallel rays offset across the image plane.
		dx := (px - v.Center[0]) * focal[0]
		dy := (py - v.Center[1]) * focal[1]
		origin = pose.Pos.Add(pose.Right().Mul(dx)).Add(pose.Up().Mul(dy))
		return origin, pose.Forward()
	}

	x := (px - v.Center[0]) / focal[0]
	y := (py - v.Center[1]) / focal[1]
	if !v.Distortion.Zero() {
		x, y = v.Distortion.apply(x, y)
	}
	dir = pose.Right().Mul(x).Add(pose.Up().Mul(y)).Add(pose.Forward()).Normalize()
	return pose.Pos, dir
}

func sqrt32(v float32) float32 {
	if v <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(v)))
}

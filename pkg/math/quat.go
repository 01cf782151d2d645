package math

import (
	"fmt"
	"math"
)

// Quat represents a rotation quaternion.
// W is the scalar part; Index exposes scalar-first ordering (W, X, Y, Z).
type Quat struct {
	W, X, Y, Z float32
}

// QuatIdentity returns an identity quaternion (no rotation).
func QuatIdentity() Quat {
	return Quat{W: 1}
}

// NewQuat builds a quaternion from scalar-first components.
func NewQuat(w, x, y, z float32) Quat {
	return Quat{W: w, X: x, Y: y, Z: z}
}

// QuatFromAxisAngle creates a quaternion from axis-angle rotation.
// axis should be normalized, angle is in radians.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	halfAngle := angle / 2
	s := float32(math.Sin(float64(halfAngle)))
	return Quat{
		W: float32(math.Cos(float64(halfAngle))),
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
	}
}

// Index returns component i with scalar-first semantics:
// 0 is W, 1..3 are X, Y, Z.
func (q Quat) Index(i int) (float32, error) {
	switch i {
	case 0:
		return q.W, nil
	case 1:
		return q.X, nil
	case 2:
		return q.Y, nil
	case 3:
		return q.Z, nil
	default:
		return 0, fmt.Errorf("quaternion index %d out of range", i)
	}
}

// Length returns the quaternion norm.
func (q Quat) Length() float32 {
	return float32(math.Sqrt(float64(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)))
}

// Normalize returns a normalized quaternion.
// Near-zero quaternions collapse to identity.
func (q Quat) Normalize() Quat {
	length := q.Length()
	if length < 0.0001 {
		return QuatIdentity()
	}
	invLen := 1.0 / length
	return Quat{
		W: q.W * invLen,
		X: q.X * invLen,
		Y: q.Y * invLen,
		Z: q.Z * invLen,
	}
}

// Conjugate returns the conjugate (inverse rotation for unit quaternions).
func (q Quat) Conjugate() Quat {
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Mul multiplies two quaternions (combines rotations).
func (q Quat) Mul(other Quat) Quat {
	return Quat{
		W: q.W*other.W - q.X*other.X - q.Y*other.Y - q.Z*other.Z,
		X: q.W*other.X + q.X*other.W + q.Y*other.Z - q.Z*other.Y,
		Y: q.W*other.Y - q.X*other.Z + q.Y*other.W + q.Z*other.X,
		Z: q.W*other.Z + q.X*other.Y - q.Y*other.X + q.Z*other.W,
	}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	q = q.Normalize()
	p := Quat{X: v.X, Y: v.Y, Z: v.Z}
	r := q.Mul(p).Mul(q.Conjugate())
	return Vec3{r.X, r.Y, r.Z}
}

// IsFinite reports whether no component is NaN or infinite.
func (q Quat) IsFinite() bool {
	return isFinite(q.W) && isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z)
}

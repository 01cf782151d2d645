package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// AABB represents an axis-aligned bounding box.
type AABB struct {
	Min r3.Vec
	Max r3.Vec
}

// EmptyAABB returns a box that contains nothing; Extend grows it.
func EmptyAABB() AABB {
	inf := math.Inf(1)
	return AABB{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

// IsEmpty reports whether the box contains no point.
func (b AABB) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Extend returns the box grown to contain p.
func (b AABB) Extend(p r3.Vec) AABB {
	return AABB{
		Min: r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)},
		Max: r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)},
	}
}

// Union returns the smallest box containing b and o.
func (b AABB) Union(o AABB) AABB {
	return b.Extend(o.Min).Extend(o.Max)
}

// Center returns the box midpoint.
func (b AABB) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Diagonal returns Max - Min.
func (b AABB) Diagonal() r3.Vec {
	return r3.Sub(b.Max, b.Min)
}

// SurfaceArea returns the box surface area, 0 for empty boxes.
func (b AABB) SurfaceArea() float64 {
	if b.IsEmpty() {
		return 0
	}
	d := b.Diagonal()
	return 2 * (d.X*d.Y + d.Y*d.Z + d.Z*d.X)
}

// Contains reports whether p lies inside or on the box.
func (b AABB) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// axis returns component i of v.
func axis(v r3.Vec, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// intersect runs the slab test against a ray with precomputed reciprocal
// direction. It returns the entry distance clipped to [0, tMax].
func (b AABB) intersect(origin, invDir r3.Vec, tMax float64) (float64, bool) {
	tmin, tmax := 0.0, tMax

	for i := 0; i < 3; i++ {
		o := axis(origin, i)
		inv := axis(invDir, i)
		lo, hi := axis(b.Min, i), axis(b.Max, i)
		if math.IsInf(inv, 0) {
			// Ray parallel to slab
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		t1 := (lo - o) * inv
		t2 := (hi - o) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmax < tmin {
			return 0, false
		}
	}
	return tmin, true
}

// Package geometry stores scene triangles and answers ray queries against
// them through a bounding volume hierarchy.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh errors.
var (
	ErrEmptyMesh    = errors.New("geometry: mesh has no triangles")
	ErrIndexRange   = errors.New("geometry: triangle index out of range")
	ErrNonFinite    = errors.New("geometry: vertex is not finite")
	ErrNoMaterialID = errors.New("geometry: triangle material slot out of range")
)

// Triangle indexes three mesh vertices. Material is a slot into the
// caller's material list.
type Triangle struct {
	V        [3]uint32
	Material int
}

// Mesh is an indexed triangle soup in world units.
type Mesh struct {
	Vertices  []r3.Vec
	Triangles []Triangle
}

// Validate checks indices and vertex values.
func (m *Mesh) Validate() error {
	for i, v := range m.Vertices {
		if !finite(v) {
			return fmt.Errorf("%w: vertex %d", ErrNonFinite, i)
		}
	}
	n := uint32(len(m.Vertices))
	for i, t := range m.Triangles {
		for _, idx := range t.V {
			if idx >= n {
				return fmt.Errorf("%w: triangle %d references vertex %d of %d", ErrIndexRange, i, idx, n)
			}
		}
		if t.Material < 0 {
			return fmt.Errorf("%w: triangle %d", ErrNoMaterialID, i)
		}
	}
	return nil
}

// Corners returns the three vertex positions of triangle i.
func (m *Mesh) Corners(i int) (r3.Vec, r3.Vec, r3.Vec) {
	t := m.Triangles[i]
	return m.Vertices[t.V[0]], m.Vertices[t.V[1]], m.Vertices[t.V[2]]
}

// Area returns the area of triangle i.
func (m *Mesh) Area(i int) float64 {
	a, b, c := m.Corners(i)
	return 0.5 * r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
}

// Normal returns the unit geometric normal of triangle i, following the
// counter-clockwise winding. Degenerate triangles return the zero vector.
func (m *Mesh) Normal(i int) r3.Vec {
	a, b, c := m.Corners(i)
	return unit(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
}

// Bounds returns the box around all referenced vertices.
func (m *Mesh) Bounds() AABB {
	box := EmptyAABB()
	for i := range m.Triangles {
		a, b, c := m.Corners(i)
		box = box.Extend(a).Extend(b).Extend(c)
	}
	return box
}

// Scaled returns a copy of m with every vertex multiplied by s.
func (m *Mesh) Scaled(s float64) *Mesh {
	out := &Mesh{
		Vertices:  make([]r3.Vec, len(m.Vertices)),
		Triangles: append([]Triangle(nil), m.Triangles...),
	}
	for i, v := range m.Vertices {
		out.Vertices[i] = r3.Scale(s, v)
	}
	return out
}

func unit(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/n, v)
}

func finite(v r3.Vec) bool {
	for _, f := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

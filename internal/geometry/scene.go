package geometry

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Epsilon is the self-intersection offset used by callers when spawning
// rays from surfaces, in world units.
const Epsilon = 1e-4

// Ray is a half line; Dir need not be normalised, distances are in units
// of |Dir|.
type Ray struct {
	Origin r3.Vec
	Dir    r3.Vec
}

// At returns the point at parameter t.
func (r Ray) At(t float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(t, r.Dir))
}

// Hit describes a ray-triangle intersection.
type Hit struct {
	T        float64
	Point    r3.Vec
	Normal   r3.Vec // unit geometric normal, winding order
	Triangle int
	Material int
}

// FacingNormal returns the hit normal flipped to face against dir.
func (h Hit) FacingNormal(dir r3.Vec) r3.Vec {
	if r3.Dot(h.Normal, dir) > 0 {
		return r3.Scale(-1, h.Normal)
	}
	return h.Normal
}

type prepared struct {
	v0, e1, e2 r3.Vec
	normal     r3.Vec
}

// Scene is an immutable mesh plus its acceleration structure. It is safe
// for concurrent queries.
type Scene struct {
	mesh  *Mesh
	tris  []prepared
	nodes []node
	order []int32
}

// Build validates m and constructs the hierarchy. m must not be modified
// afterwards.
func Build(m *Mesh) (*Scene, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s := &Scene{mesh: m, tris: make([]prepared, len(m.Triangles))}
	for i := range m.Triangles {
		a, b, c := m.Corners(i)
		s.tris[i] = prepared{
			v0:     a,
			e1:     r3.Sub(b, a),
			e2:     r3.Sub(c, a),
			normal: m.Normal(i),
		}
	}
	s.nodes, s.order = buildBVH(m)
	return s, nil
}

// Mesh returns the mesh the scene was built from.
func (s *Scene) Mesh() *Mesh { return s.mesh }

// TriangleCount returns the number of triangles.
func (s *Scene) TriangleCount() int { return len(s.tris) }

// NodeCount returns the number of hierarchy nodes.
func (s *Scene) NodeCount() int { return len(s.nodes) }

// Bounds returns the scene bounding box.
func (s *Scene) Bounds() AABB {
	if len(s.nodes) == 0 {
		return EmptyAABB()
	}
	return s.nodes[0].box
}

// Intersect returns the nearest hit with 0 < T < tMax.
func (s *Scene) Intersect(r Ray, tMax float64) (Hit, bool) {
	best := -1
	bestT := tMax
	s.traverse(r, func(tri int32) bool {
		if t, ok := s.tris[tri].intersect(r); ok && t < bestT {
			best, bestT = int(tri), t
		}
		return false
	}, func() float64 { return bestT })
	if best < 0 {
		return Hit{}, false
	}
	return s.hit(r, best, bestT), true
}

// Occluded reports whether any triangle lies strictly between from and to.
func (s *Scene) Occluded(from, to r3.Vec) bool {
	r := Ray{Origin: from, Dir: r3.Sub(to, from)}
	const tMax = 1 - 1e-9
	found := false
	s.traverse(r, func(tri int32) bool {
		if t, ok := s.tris[tri].intersect(r); ok && t < tMax {
			found = true
		}
		return found
	}, func() float64 { return tMax })
	return found
}

// AllHits returns every surface crossing between from and to ordered by
// distance. Crossings closer than Epsilon along the segment with the same
// plane are reported once, so shared edges do not double count.
func (s *Scene) AllHits(from, to r3.Vec) []Hit {
	r := Ray{Origin: from, Dir: r3.Sub(to, from)}
	const tMax = 1 - 1e-9
	var hits []Hit
	s.traverse(r, func(tri int32) bool {
		if t, ok := s.tris[tri].intersect(r); ok && t < tMax {
			hits = append(hits, s.hit(r, int(tri), t))
		}
		return false
	}, func() float64 { return tMax })

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].T != hits[j].T {
			return hits[i].T < hits[j].T
		}
		return hits[i].Triangle < hits[j].Triangle
	})

	length := r3.Norm(r.Dir)
	out := hits[:0]
	for _, h := range hits {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if (h.T-prev.T)*length < Epsilon && math.Abs(r3.Dot(h.Normal, prev.Normal)) > 1-1e-6 {
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

func (s *Scene) hit(r Ray, tri int, t float64) Hit {
	return Hit{
		T:        t,
		Point:    r.At(t),
		Normal:   s.tris[tri].normal,
		Triangle: tri,
		Material: s.mesh.Triangles[tri].Material,
	}
}

// traverse visits leaves whose boxes the ray enters before limit(). visit
// returns true to stop early.
func (s *Scene) traverse(r Ray, visit func(tri int32) bool, limit func() float64) {
	if len(s.nodes) == 0 {
		return
	}
	inv := r3.Vec{X: 1 / r.Dir.X, Y: 1 / r.Dir.Y, Z: 1 / r.Dir.Z}
	neg := [3]bool{r.Dir.X < 0, r.Dir.Y < 0, r.Dir.Z < 0}

	var stack [maxStackDepth]int32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		cur := stack[sp]
		n := &s.nodes[cur]
		if _, ok := n.box.intersect(r.Origin, inv, limit()); !ok {
			continue
		}
		if n.leaf() {
			for i := n.offset; i < n.offset+n.count; i++ {
				if visit(s.order[i]) {
					return
				}
			}
			continue
		}
		// Push the far child first so the near one is popped next
		left, right := cur+1, n.offset
		if neg[n.axis] {
			left, right = right, left
		}
		stack[sp] = right
		stack[sp+1] = left
		sp += 2
	}
}

// intersect is the Möller–Trumbore test; both faces count.
func (p *prepared) intersect(r Ray) (float64, bool) {
	const eps = 1e-12
	pvec := r3.Cross(r.Dir, p.e2)
	det := r3.Dot(p.e1, pvec)
	if math.Abs(det) < eps {
		return 0, false
	}
	invDet := 1 / det
	tvec := r3.Sub(r.Origin, p.v0)
	u := r3.Dot(tvec, pvec) * invDet
	if u < 0 || u > 1 {
		return 0, false
	}
	qvec := r3.Cross(tvec, p.e1)
	v := r3.Dot(r.Dir, qvec) * invDet
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := r3.Dot(p.e2, qvec) * invDet
	if t <= eps {
		return 0, false
	}
	return t, true
}

// String summarises the scene for logs.
func (s *Scene) String() string {
	return fmt.Sprintf("scene{triangles=%d nodes=%d}", len(s.tris), len(s.nodes))
}

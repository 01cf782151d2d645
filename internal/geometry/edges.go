package geometry

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultCreaseAngle is the normal deviation above which a shared edge
// diffracts, in radians.
const DefaultCreaseAngle = 20 * math.Pi / 180

// Edge is a diffracting mesh edge.
type Edge struct {
	A, B     r3.Vec
	Normals  []r3.Vec // normals of the adjacent triangles
	Boundary bool     // only one adjacent triangle
}

// Length returns |B - A|.
func (e Edge) Length() float64 { return r3.Norm(r3.Sub(e.B, e.A)) }

// Point returns A + t(B - A).
func (e Edge) Point(t float64) r3.Vec {
	return r3.Add(e.A, r3.Scale(t, r3.Sub(e.B, e.A)))
}

type edgeKey [2]uint32

// ExtractEdges returns boundary edges, non-manifold edges and creases whose
// adjacent normals deviate by more than creaseAngle. Orientation of the
// adjacent triangles is ignored. Edges come back in vertex index order.
func ExtractEdges(m *Mesh, creaseAngle float64) []Edge {
	adj := make(map[edgeKey][]int, 3*len(m.Triangles)/2)
	for i, t := range m.Triangles {
		if m.Area(i) == 0 {
			continue
		}
		for k := 0; k < 3; k++ {
			a, b := t.V[k], t.V[(k+1)%3]
			if a > b {
				a, b = b, a
			}
			key := edgeKey{a, b}
			adj[key] = append(adj[key], i)
		}
	}

	keys := make([]edgeKey, 0, len(adj))
	for k := range adj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	cosLimit := math.Cos(creaseAngle)
	var edges []Edge
	for _, k := range keys {
		tris := adj[k]
		e := Edge{A: m.Vertices[k[0]], B: m.Vertices[k[1]], Boundary: len(tris) == 1}
		for _, ti := range tris {
			e.Normals = append(e.Normals, m.Normal(ti))
		}
		if len(tris) == 2 {
			if math.Abs(r3.Dot(e.Normals[0], e.Normals[1])) >= cosLimit {
				continue
			}
		}
		edges = append(edges, e)
	}
	return edges
}

package geometry

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// SimplifyStats reports what Simplify removed.
type SimplifyStats struct {
	WeldedVertices int
	Collapsed      int // triangles with repeated corners after welding
	SubThreshold   int // triangles smaller than one weld cell
	Duplicates     int
}

// Removed returns the number of dropped triangles.
func (s SimplifyStats) Removed() int {
	return s.Collapsed + s.SubThreshold + s.Duplicates
}

type cellKey [3]int64

type triKey struct {
	v        [3]uint32
	material int
}

// Simplify welds vertices that share a tolerance-sized grid cell and
// drops triangles that collapse, fall below half a cell in area or repeat
// another triangle with the same material. The first vertex seen in a cell
// represents it. The input is not modified.
func Simplify(m *Mesh, tolerance float64) (*Mesh, SimplifyStats) {
	var stats SimplifyStats
	if tolerance <= 0 {
		return &Mesh{
			Vertices:  append([]r3.Vec(nil), m.Vertices...),
			Triangles: append([]Triangle(nil), m.Triangles...),
		}, stats
	}

	inv := 1 / tolerance
	cells := make(map[cellKey]uint32, len(m.Vertices))
	remap := make([]uint32, len(m.Vertices))
	welded := make([]r3.Vec, 0, len(m.Vertices))
	for i, v := range m.Vertices {
		k := cellKey{
			int64(math.Floor(v.X * inv)),
			int64(math.Floor(v.Y * inv)),
			int64(math.Floor(v.Z * inv)),
		}
		if idx, ok := cells[k]; ok {
			remap[i] = idx
			stats.WeldedVertices++
			continue
		}
		idx := uint32(len(welded))
		cells[k] = idx
		remap[i] = idx
		welded = append(welded, v)
	}

	minArea := 0.5 * tolerance * tolerance
	seen := make(map[triKey]struct{}, len(m.Triangles))
	kept := make([]Triangle, 0, len(m.Triangles))
	for _, t := range m.Triangles {
		a, b, c := remap[t.V[0]], remap[t.V[1]], remap[t.V[2]]
		if a == b || b == c || a == c {
			stats.Collapsed++
			continue
		}
		pa, pb, pc := welded[a], welded[b], welded[c]
		if 0.5*r3.Norm(r3.Cross(r3.Sub(pb, pa), r3.Sub(pc, pa))) < minArea {
			stats.SubThreshold++
			continue
		}
		key := triKey{v: [3]uint32{a, b, c}, material: t.Material}
		sort.Slice(key.v[:], func(i, j int) bool { return key.v[i] < key.v[j] })
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, Triangle{V: [3]uint32{a, b, c}, Material: t.Material})
	}

	return compact(welded, kept), stats
}

// compact drops vertices no triangle references, keeping relative order.
func compact(vertices []r3.Vec, tris []Triangle) *Mesh {
	used := make([]int32, len(vertices))
	for i := range used {
		used[i] = -1
	}
	out := &Mesh{Triangles: make([]Triangle, len(tris))}
	for i, t := range tris {
		for k, idx := range t.V {
			if used[idx] < 0 {
				used[idx] = int32(len(out.Vertices))
				out.Vertices = append(out.Vertices, vertices[idx])
			}
			t.V[k] = uint32(used[idx])
		}
		out.Triangles[i] = t
	}
	return out
}

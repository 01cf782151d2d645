package geometry

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// boxMesh returns the 12 triangles of an axis-aligned box.
func boxMesh(lo, hi r3.Vec, material int) *Mesh {
	v := []r3.Vec{
		{X: lo.X, Y: lo.Y, Z: lo.Z}, {X: hi.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: lo.Z}, {X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z}, {X: hi.X, Y: lo.Y, Z: hi.Z},
		{X: hi.X, Y: hi.Y, Z: hi.Z}, {X: lo.X, Y: hi.Y, Z: hi.Z},
	}
	faces := [][4]uint32{
		{0, 3, 2, 1}, {4, 5, 6, 7}, // -z, +z
		{0, 1, 5, 4}, {3, 7, 6, 2}, // -y, +y
		{0, 4, 7, 3}, {1, 2, 6, 5}, // -x, +x
	}
	m := &Mesh{Vertices: v}
	for _, f := range faces {
		m.Triangles = append(m.Triangles,
			Triangle{V: [3]uint32{f[0], f[1], f[2]}, Material: material},
			Triangle{V: [3]uint32{f[0], f[2], f[3]}, Material: material},
		)
	}
	return m
}

// quadMesh is a single square in the plane x = x0.
func quadMesh(x0, half float64) *Mesh {
	return &Mesh{
		Vertices: []r3.Vec{
			{X: x0, Y: -half, Z: -half}, {X: x0, Y: half, Z: -half},
			{X: x0, Y: half, Z: half}, {X: x0, Y: -half, Z: half},
		},
		Triangles: []Triangle{{V: [3]uint32{0, 1, 2}}, {V: [3]uint32{0, 2, 3}}},
	}
}

func merge(meshes ...*Mesh) *Mesh {
	out := &Mesh{}
	for _, m := range meshes {
		base := uint32(len(out.Vertices))
		out.Vertices = append(out.Vertices, m.Vertices...)
		for _, t := range m.Triangles {
			t.V = [3]uint32{t.V[0] + base, t.V[1] + base, t.V[2] + base}
			out.Triangles = append(out.Triangles, t)
		}
	}
	return out
}

func TestBuild_Validation(t *testing.T) {
	m := &Mesh{
		Vertices:  []r3.Vec{{}, {X: 1}, {Y: 1}},
		Triangles: []Triangle{{V: [3]uint32{0, 1, 3}}},
	}
	if _, err := Build(m); !errors.Is(err, ErrIndexRange) {
		t.Errorf("expected ErrIndexRange, got %v", err)
	}

	m.Triangles[0].V[2] = 2
	m.Vertices[1].X = math.NaN()
	if _, err := Build(m); !errors.Is(err, ErrNonFinite) {
		t.Errorf("expected ErrNonFinite, got %v", err)
	}
}

func TestIntersect_Box(t *testing.T) {
	s, err := Build(boxMesh(r3.Vec{X: -1, Y: -1, Z: -1}, r3.Vec{X: 1, Y: 1, Z: 1}, 3))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.TriangleCount() != 12 {
		t.Errorf("expected 12 triangles, got %d", s.TriangleCount())
	}

	tests := []struct {
		name   string
		dir    r3.Vec
		normal r3.Vec
	}{
		{"+x", r3.Vec{X: 1}, r3.Vec{X: 1}},
		{"-y", r3.Vec{Y: -1}, r3.Vec{Y: -1}},
		{"+z", r3.Vec{Z: 1}, r3.Vec{Z: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit, ok := s.Intersect(Ray{Dir: tt.dir}, math.Inf(1))
			if !ok {
				t.Fatal("expected hit from inside the box")
			}
			if math.Abs(hit.T-1) > 1e-9 {
				t.Errorf("T = %v, want 1", hit.T)
			}
			if hit.Material != 3 {
				t.Errorf("material = %d, want 3", hit.Material)
			}
			if n := hit.Normal; math.Abs(math.Abs(r3.Dot(n, tt.normal))-1) > 1e-9 {
				t.Errorf("normal %v not parallel to %v", n, tt.normal)
			}
			if r3.Dot(hit.FacingNormal(tt.dir), tt.dir) >= 0 {
				t.Error("facing normal should oppose the ray")
			}
		})
	}

	if _, ok := s.Intersect(Ray{Dir: r3.Vec{X: 1}}, 0.5); ok {
		t.Error("hit beyond tMax should be ignored")
	}
}

func TestIntersect_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var parts []*Mesh
	for i := 0; i < 40; i++ {
		c := r3.Vec{X: rng.Float64()*20 - 10, Y: rng.Float64()*20 - 10, Z: rng.Float64()*20 - 10}
		h := 0.2 + rng.Float64()
		parts = append(parts, boxMesh(r3.Sub(c, r3.Vec{X: h, Y: h, Z: h}), r3.Add(c, r3.Vec{X: h, Y: h, Z: h}), i))
	}
	m := merge(parts...)
	s, err := Build(m)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for i := 0; i < 500; i++ {
		r := Ray{
			Origin: r3.Vec{X: rng.Float64()*24 - 12, Y: rng.Float64()*24 - 12, Z: rng.Float64()*24 - 12},
			Dir:    r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()},
		}
		wantT := math.Inf(1)
		for ti := range s.tris {
			if tt, ok := s.tris[ti].intersect(r); ok && tt < wantT {
				wantT = tt
			}
		}
		hit, ok := s.Intersect(r, math.Inf(1))
		if ok != !math.IsInf(wantT, 1) {
			t.Fatalf("ray %d: hit=%v, brute force T=%v", i, ok, wantT)
		}
		if ok && math.Abs(hit.T-wantT) > 1e-9 {
			t.Fatalf("ray %d: T=%v, brute force %v", i, hit.T, wantT)
		}
		if s.Occluded(r.Origin, r.At(1e3)) != ok {
			t.Fatalf("ray %d: Occluded disagrees with Intersect", i)
		}
	}
}

func TestBVH_LeafSize(t *testing.T) {
	var parts []*Mesh
	for i := 0; i < 30; i++ {
		x := float64(i) * 3
		parts = append(parts, boxMesh(r3.Vec{X: x}, r3.Vec{X: x + 1, Y: 1, Z: 1}, 0))
	}
	s, err := Build(merge(parts...))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	seen := 0
	for _, n := range s.nodes {
		if n.leaf() {
			if n.count > MaxLeafSize {
				t.Errorf("leaf holds %d triangles", n.count)
			}
			seen += int(n.count)
		}
	}
	if seen != s.TriangleCount() {
		t.Errorf("leaves hold %d triangles, want %d", seen, s.TriangleCount())
	}
}

func TestOccludedAndAllHits(t *testing.T) {
	m := merge(quadMesh(1, 2), quadMesh(2, 2), quadMesh(3, 0.5))
	m.Triangles[2].Material = 1
	m.Triangles[3].Material = 1
	s, err := Build(m)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	from, to := r3.Vec{}, r3.Vec{X: 4}
	if !s.Occluded(from, to) {
		t.Error("segment through walls should be occluded")
	}
	if s.Occluded(from, r3.Vec{X: 0.5}) {
		t.Error("segment short of the first wall should be clear")
	}

	hits := s.AllHits(from, to)
	if len(hits) != 3 {
		t.Fatalf("expected 3 crossings, got %d", len(hits))
	}
	for i, want := range []float64{1, 2, 3} {
		if math.Abs(hits[i].Point.X-want) > 1e-9 {
			t.Errorf("crossing %d at x=%v, want %v", i, hits[i].Point.X, want)
		}
	}
	if hits[1].Material != 1 {
		t.Errorf("second crossing material = %d, want 1", hits[1].Material)
	}

	// the diagonal of quad 1 is shared by both of its triangles
	diag := s.AllHits(r3.Vec{Y: 1, Z: 1}, r3.Vec{X: 1.5, Y: -1, Z: -1})
	if len(diag) != 1 {
		t.Errorf("shared edge crossing reported %d times", len(diag))
	}
}

func TestEmptyScene(t *testing.T) {
	s, err := Build(&Mesh{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, ok := s.Intersect(Ray{Dir: r3.Vec{X: 1}}, math.Inf(1)); ok {
		t.Error("empty scene reported a hit")
	}
	if s.Occluded(r3.Vec{}, r3.Vec{X: 1}) {
		t.Error("empty scene reported occlusion")
	}
	if !s.Bounds().IsEmpty() {
		t.Error("empty scene bounds should be empty")
	}
}

func TestSimplify(t *testing.T) {
	m := &Mesh{
		Vertices: []r3.Vec{
			{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0},
			{X: 0.001, Y: 0.001, Z: 0}, // welds onto vertex 0
			{X: 0.5, Y: 0.5, Z: 5e-5},  // sliver corner
			{X: 5, Y: 5, Z: 5},         // unreferenced
		},
		Triangles: []Triangle{
			{V: [3]uint32{0, 1, 2}},
			{V: [3]uint32{3, 2, 1}},              // duplicate after weld
			{V: [3]uint32{0, 1, 2}, Material: 1}, // same corners, other material
			{V: [3]uint32{0, 3, 1}},              // collapses
			{V: [3]uint32{1, 2, 4}},              // degenerate sliver
		},
	}

	out, stats := Simplify(m, 0.01)
	if stats.WeldedVertices != 1 {
		t.Errorf("welded %d vertices, want 1", stats.WeldedVertices)
	}
	if stats.Duplicates != 1 || stats.Collapsed != 1 || stats.SubThreshold != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(out.Triangles) != 2 || stats.Removed() != 3 {
		t.Errorf("kept %d triangles, removed %d", len(out.Triangles), stats.Removed())
	}
	if len(out.Vertices) != 3 {
		t.Errorf("expected 3 compacted vertices, got %d", len(out.Vertices))
	}
	if err := out.Validate(); err != nil {
		t.Errorf("simplified mesh invalid: %v", err)
	}
	if len(m.Triangles) != 5 {
		t.Error("input mesh was modified")
	}

	same, stats := Simplify(m, 0)
	if len(same.Triangles) != 5 || stats.Removed() != 0 {
		t.Error("zero tolerance should keep the mesh unchanged")
	}
}

func TestExtractEdges(t *testing.T) {
	box := boxMesh(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, 0)
	edges := ExtractEdges(box, DefaultCreaseAngle)
	// 12 box edges; face diagonals are flat
	if len(edges) != 12 {
		t.Errorf("box has %d diffraction edges, want 12", len(edges))
	}
	for _, e := range edges {
		if e.Boundary {
			t.Error("closed box has no boundary edges")
		}
		if math.Abs(e.Length()-1) > 1e-9 {
			t.Errorf("edge length %v, want 1", e.Length())
		}
	}

	quad := ExtractEdges(quadMesh(0, 1), DefaultCreaseAngle)
	if len(quad) != 4 {
		t.Errorf("open quad has %d edges, want 4", len(quad))
	}
	for _, e := range quad {
		if !e.Boundary {
			t.Error("open quad edges should be boundary edges")
		}
	}
}

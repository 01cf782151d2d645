package rlr

import (
	"io"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/rlr-audio/internal/geometry"
	"github.com/Faultbox/rlr-audio/internal/material"
	"github.com/Faultbox/rlr-audio/internal/propagation"
	"github.com/Faultbox/rlr-audio/pkg/formats"
)

// LoadMeshVertices stages vertex positions, replacing any staged vertices
// and index buffers. Nothing changes when the view is rejected.
func (s *Simulator) LoadMeshVertices(v VertexData) error {
	const op = "LoadMeshVertices"
	verts, err := decodeVertices(op, v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateEmpty); err != nil {
		return err
	}
	s.vertices = toVecs(verts)
	s.groups = nil
	return nil
}

// LoadMeshIndices stages one more triangle list. Its triangles take the
// material category named by d.Material.
func (s *Simulator) LoadMeshIndices(d IndexData) error {
	const op = "LoadMeshIndices"
	indices, err := decodeIndices(op, d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateEmpty); err != nil {
		return err
	}
	s.groups = append(s.groups, indexGroup{indices: indices, category: d.Material})
	return nil
}

// LoadMeshData stages vertices and one triangle list together. Both views
// are checked before either is applied.
func (s *Simulator) LoadMeshData(v VertexData, d IndexData) error {
	const op = "LoadMeshData"
	verts, err := decodeVertices(op, v)
	if err != nil {
		return err
	}
	indices, err := decodeIndices(op, d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateEmpty); err != nil {
		return err
	}
	s.vertices = toVecs(verts)
	s.groups = []indexGroup{{indices: indices, category: d.Material}}
	return nil
}

// LoadMeshPLY stages a PLY mesh. Faces are grouped by their object id and
// categories maps ids to material categories; unmapped ids use the
// decimal id as category.
func (s *Simulator) LoadMeshPLY(r io.Reader, categories map[int32]string) error {
	const op = "LoadMeshPLY"
	m, err := formats.ReadPLY(r)
	if err != nil {
		return wrapError(InvalidParam, op, err)
	}

	groups := plyGroups(m, categories)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateEmpty); err != nil {
		return err
	}
	s.vertices = toVecs(m.Vertices)
	s.groups = groups
	s.log.Debug("ply staged",
		zap.Stringer("format", m.Format),
		zap.Int("vertices", len(m.Vertices)),
		zap.Int("triangles", len(m.Triangles)),
		zap.Int("categories", len(groups)),
	)
	return nil
}

func partName(p int) string {
	if p == 0 {
		return "mesh"
	}
	return "object " + strconv.Itoa(p-1)
}

func toVecs(verts [][3]float32) []r3.Vec {
	out := make([]r3.Vec, len(verts))
	for i, v := range verts {
		out[i] = r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
	}
	return out
}

// UploadMesh builds the acceleration structure from the staged mesh and
// every staged object, placed by its transform.
// Registered entities and previous results are discarded. Uploading with
// no staged triangles gives an empty, free-field scene.
func (s *Simulator) UploadMesh() error {
	const op = "UploadMesh"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateConfigured); err != nil {
		return err
	}

	parts := []meshPart{{vertices: s.vertices, groups: s.groups}}
	for i := range s.objects {
		parts = append(parts, s.objects[i].world())
	}

	mesh := &geometry.Mesh{}
	var categories []string
	slots := map[string]int{}
	for p, part := range parts {
		base := uint32(len(mesh.Vertices))
		mesh.Vertices = append(mesh.Vertices, part.vertices...)
		for _, g := range part.groups {
			slot, ok := slots[g.category]
			if !ok {
				slot = len(categories)
				slots[g.category] = slot
				categories = append(categories, g.category)
			}
			for i := 0; i+2 < len(g.indices); i += 3 {
				var tri [3]uint32
				for k := range tri {
					idx := g.indices[i+k]
					if int(idx) >= len(part.vertices) {
						return newError(InvalidParam, op, "%s: index %d outside %d vertices", partName(p), idx, len(part.vertices))
					}
					tri[k] = base + idx
				}
				mesh.Triangles = append(mesh.Triangles, geometry.Triangle{V: tri, Material: slot})
			}
		}
	}
	if err := mesh.Validate(); err != nil {
		return wrapError(InvalidParam, op, err)
	}

	prevMesh, prevCategories := s.mesh, s.categories
	s.mesh, s.categories = mesh, categories
	scene, err := s.buildScene()
	if err != nil {
		s.mesh, s.categories = prevMesh, prevCategories
		return wrapError(InvalidParam, op, err)
	}

	s.scene, s.dirty = scene, false
	s.entities.Clear()
	s.engine.Reset()
	s.res = nil
	s.state = stateMeshUploaded
	s.log.Info("mesh uploaded",
		zap.Int("vertices", len(mesh.Vertices)),
		zap.Int("triangles", len(mesh.Triangles)),
		zap.Int("objects", len(s.objects)),
		zap.Int("categories", len(categories)),
		zap.Int("scene_triangles", sceneTriangles(scene)),
		zap.Int("edges", len(scene.Edges)),
	)
	return nil
}

// buildScene converts the uploaded mesh to metres, optionally simplifies
// it and resolves every material slot. Must hold s.mu.
func (s *Simulator) buildScene() (*propagation.Scene, error) {
	cfg := s.cfg
	scale := float64(cfg.UnitScale)
	m := s.mesh.Scaled(scale)
	if cfg.MeshSimplification {
		var stats geometry.SimplifyStats
		m, stats = geometry.Simplify(m, float64(cfg.SimplificationTolerance)*scale)
		s.log.Debug("mesh simplified",
			zap.Int("welded", stats.WeldedVertices),
			zap.Int("removed", stats.Removed()),
		)
	}

	scene := &propagation.Scene{Materials: make([]material.Bands, len(s.categories))}
	for i, cat := range s.categories {
		mat := material.Default()
		if cfg.EnableMaterials {
			mat = s.materials.Resolve(cat)
		}
		scene.Materials[i] = mat.Resample(cfg.FrequencyBands)
	}
	if len(m.Triangles) == 0 {
		return scene, nil
	}

	g, err := geometry.Build(m)
	if err != nil {
		return nil, err
	}
	scene.Geometry = g
	scene.Edges = geometry.ExtractEdges(m, geometry.DefaultCreaseAngle)
	return scene, nil
}

func sceneTriangles(scene *propagation.Scene) int {
	if scene == nil || scene.Geometry == nil {
		return 0
	}
	return scene.Geometry.TriangleCount()
}

// TriangleCount returns the number of triangles the propagation engine
// traces against, after simplification.
func (s *Simulator) TriangleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty && !s.running && s.mesh != nil {
		if scene, err := s.buildScene(); err == nil {
			s.scene, s.dirty = scene, false
		}
	}
	return sceneTriangles(s.scene)
}

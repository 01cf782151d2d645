package rlr

import (
	"io"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/rlr-audio/internal/entity"
	rmath "github.com/Faultbox/rlr-audio/pkg/math"
	"github.com/Faultbox/rlr-audio/pkg/formats"
)

// stagedObject is a mesh placed in the scene by a rigid transform. Its
// vertices are in object space, scene units.
type stagedObject struct {
	position    r3.Vec
	orientation quat.Number
	vertices    []r3.Vec
	groups      []indexGroup
}

// meshPart is one block of staged geometry with indices local to its
// vertices.
type meshPart struct {
	vertices []r3.Vec
	groups   []indexGroup
}

func (o *stagedObject) world() meshPart {
	q := entity.NormalizeQuat(o.orientation)
	out := make([]r3.Vec, len(o.vertices))
	for i, v := range o.vertices {
		out[i] = r3.Add(entity.Rotate(q, v), o.position)
	}
	return meshPart{vertices: out, groups: o.groups}
}

// AddObject stages an empty object at the origin and returns its id.
// Objects are merged with the directly loaded mesh by UploadMesh and stay
// staged until ClearObjects.
func (s *Simulator) AddObject() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("AddObject", stateEmpty); err != nil {
		return 0, err
	}
	s.objects = append(s.objects, stagedObject{orientation: quat.Number{Real: 1}})
	return len(s.objects) - 1, nil
}

// ClearObjects drops every staged object.
func (s *Simulator) ClearObjects() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("ClearObjects", stateEmpty); err != nil {
		return err
	}
	s.objects = nil
	return nil
}

// SetObjectTransform places an object. Takes effect at the next UploadMesh.
func (s *Simulator) SetObjectTransform(id int, position rmath.Vec3, orientation rmath.Quat) error {
	const op = "SetObjectTransform"
	if !position.IsFinite() || !orientation.IsFinite() {
		return newError(InvalidParam, op, "transform is not finite")
	}
	return s.mutateObject(op, id, func(o *stagedObject) {
		o.position = toR3(position)
		o.orientation = toQuat(orientation)
	})
}

// LoadObjectMeshOBJ replaces the mesh of an object with an OBJ mesh. Its
// triangles take their usemtl material, or group name, as category.
func (s *Simulator) LoadObjectMeshOBJ(id int, r io.Reader) error {
	const op = "LoadObjectMeshOBJ"
	m, err := formats.ReadOBJ(r)
	if err != nil {
		return wrapError(InvalidParam, op, err)
	}
	return s.mutateObject(op, id, func(o *stagedObject) {
		o.vertices, o.groups = toVecs(m.Vertices), objGroups(m)
	})
}

// LoadObjectMeshPLY replaces the mesh of an object with a PLY mesh,
// categorised as in LoadMeshPLY.
func (s *Simulator) LoadObjectMeshPLY(id int, r io.Reader, categories map[int32]string) error {
	const op = "LoadObjectMeshPLY"
	m, err := formats.ReadPLY(r)
	if err != nil {
		return wrapError(InvalidParam, op, err)
	}
	return s.mutateObject(op, id, func(o *stagedObject) {
		o.vertices, o.groups = toVecs(m.Vertices), plyGroups(m, categories)
	})
}

func (s *Simulator) mutateObject(op string, id int, fn func(o *stagedObject)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateEmpty); err != nil {
		return err
	}
	if id < 0 || id >= len(s.objects) {
		return newError(InvalidParam, op, "unknown object %d", id)
	}
	fn(&s.objects[id])
	return nil
}

// LoadMeshOBJ stages an OBJ mesh in place of the directly loaded mesh.
func (s *Simulator) LoadMeshOBJ(r io.Reader) error {
	const op = "LoadMeshOBJ"
	m, err := formats.ReadOBJ(r)
	if err != nil {
		return wrapError(InvalidParam, op, err)
	}
	groups := objGroups(m)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateEmpty); err != nil {
		return err
	}
	s.vertices = toVecs(m.Vertices)
	s.groups = groups
	s.log.Debug("obj staged",
		zap.Int("vertices", len(m.Vertices)),
		zap.Int("triangles", len(m.Triangles)),
		zap.Int("categories", len(groups)),
	)
	return nil
}

// objGroups splits OBJ triangles by category in first-appearance order.
func objGroups(m *formats.OBJMesh) []indexGroup {
	var groups []indexGroup
	slot := map[string]int{}
	for i, tri := range m.Triangles {
		cat := m.Categories[i]
		g, ok := slot[cat]
		if !ok {
			g = len(groups)
			slot[cat] = g
			groups = append(groups, indexGroup{category: cat})
		}
		groups[g].indices = append(groups[g].indices, tri[:]...)
	}
	return groups
}

// plyGroups splits PLY triangles by object id. categories maps ids to
// material categories; unmapped ids use the decimal id.
func plyGroups(m *formats.PLYMesh, categories map[int32]string) []indexGroup {
	var groups []indexGroup
	slot := map[int32]int{}
	for i, tri := range m.Triangles {
		var id int32
		if m.ObjectIDs != nil {
			id = m.ObjectIDs[i]
		}
		g, ok := slot[id]
		if !ok {
			cat := ""
			if m.ObjectIDs != nil {
				cat, ok = categories[id]
				if !ok {
					cat = strconv.Itoa(int(id))
				}
			}
			g = len(groups)
			slot[id] = g
			groups = append(groups, indexGroup{category: cat})
		}
		groups[g].indices = append(groups[g].indices, tri[:]...)
	}
	return groups
}

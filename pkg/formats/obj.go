// Wavefront OBJ reader for scene geometry.
package formats

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// OBJ format errors.
var (
	ErrInvalidOBJVertex = errors.New("invalid OBJ vertex")
	ErrInvalidOBJFace   = errors.New("invalid OBJ face")
)

// OBJMesh is a parsed, triangulated OBJ mesh. Texture coordinates,
// normals, lines and points are ignored.
type OBJMesh struct {
	Vertices  [][3]float32
	Triangles [][3]uint32
	// Categories holds one name per triangle: the active usemtl material,
	// else the active group or object name, else "".
	Categories []string
	Comments   []string
}

// LoadOBJ reads and parses an OBJ file from disk.
func LoadOBJ(path string) (*OBJMesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadOBJ(f)
}

// ParseOBJ parses OBJ data from a byte slice.
func ParseOBJ(data []byte) (*OBJMesh, error) {
	return ReadOBJ(bytes.NewReader(data))
}

// ReadOBJ parses an OBJ mesh from a reader. Polygons are fan-triangulated
// and negative (relative) indices are resolved.
func ReadOBJ(r io.Reader) (*OBJMesh, error) {
	mesh := &OBJMesh{}
	var material, group string
	var poly []uint32

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		for strings.HasSuffix(text, "\\") && sc.Scan() {
			line++
			text = strings.TrimSuffix(text, "\\") + " " + strings.TrimSpace(sc.Text())
		}
		if text == "" {
			continue
		}
		if text[0] == '#' {
			mesh.Comments = append(mesh.Comments, strings.TrimSpace(text[1:]))
			continue
		}

		fields := strings.Fields(text)
		switch fields[0] {
		case "v":
			v, err := parseOBJVertex(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			mesh.Vertices = append(mesh.Vertices, v)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: %w: %d corners", line, ErrInvalidOBJFace, len(fields)-1)
			}
			poly = poly[:0]
			for _, ref := range fields[1:] {
				idx, err := resolveOBJIndex(ref, len(mesh.Vertices))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				poly = append(poly, idx)
			}
			category := material
			if category == "" {
				category = group
			}
			for k := 1; k+1 < len(poly); k++ {
				mesh.Triangles = append(mesh.Triangles, [3]uint32{poly[0], poly[k], poly[k+1]})
				mesh.Categories = append(mesh.Categories, category)
			}
		case "usemtl":
			material = strings.Join(fields[1:], " ")
		case "g", "o":
			group = strings.Join(fields[1:], " ")
		default:
			// vt, vn, vp, s, l, p, mtllib and unknown statements
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return mesh, nil
}

func parseOBJVertex(fields []string) ([3]float32, error) {
	var v [3]float32
	if len(fields) < 3 {
		return v, fmt.Errorf("%w: %d coordinates", ErrInvalidOBJVertex, len(fields))
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return v, fmt.Errorf("%w: %q", ErrInvalidOBJVertex, fields[i])
		}
		v[i] = float32(f)
	}
	return v, nil
}

// resolveOBJIndex converts a face corner ("i", "i/t", "i//n", "i/t/n") to
// a zero-based vertex index.
func resolveOBJIndex(ref string, vertices int) (uint32, error) {
	head, _, _ := strings.Cut(ref, "/")
	i, err := strconv.Atoi(head)
	if err != nil || i == 0 {
		return 0, fmt.Errorf("%w: corner %q", ErrInvalidOBJFace, ref)
	}
	if i < 0 {
		i += vertices
	} else {
		i--
	}
	if i < 0 || i >= vertices {
		return 0, fmt.Errorf("%w: corner %q references vertex outside 1..%d", ErrInvalidOBJFace, ref, vertices)
	}
	return uint32(i), nil
}

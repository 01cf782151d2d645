// PLY (Polygon File Format) reader for scene meshes with per-face object ids.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// PLY format errors.
var (
	ErrInvalidPLYMagic       = errors.New("invalid PLY magic: expected 'ply'")
	ErrUnsupportedPLYFormat  = errors.New("unsupported PLY format")
	ErrInvalidPLYHeader      = errors.New("invalid PLY header")
	ErrTruncatedPLYData      = errors.New("truncated PLY data")
	ErrMissingPLYVertexData  = errors.New("PLY vertex element lacks x/y/z")
	ErrInvalidPLYFaceIndices = errors.New("PLY face references missing vertex")
)

// PLYFormat is the body encoding declared in the header.
type PLYFormat int

const (
	PLYASCII              PLYFormat = 0
	PLYBinaryLittleEndian PLYFormat = 1
	PLYBinaryBigEndian    PLYFormat = 2
)

// String returns the header keyword for the format.
func (f PLYFormat) String() string {
	switch f {
	case PLYASCII:
		return "ascii"
	case PLYBinaryLittleEndian:
		return "binary_little_endian"
	case PLYBinaryBigEndian:
		return "binary_big_endian"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// PLYProperty describes one property of an element.
type PLYProperty struct {
	Name      string
	Type      string // scalar type, or item type for lists
	IsList    bool
	CountType string // list length type
}

// PLYElement describes one element block of the header.
type PLYElement struct {
	Name       string
	Count      int
	Properties []PLYProperty
}

// PLYMesh is a parsed, triangulated PLY mesh.
type PLYMesh struct {
	Format   PLYFormat
	Comments []string
	Elements []PLYElement

	Vertices  [][3]float32
	Triangles [][3]uint32
	// ObjectIDs holds one id per triangle, or is nil when faces carry no
	// object_id / category_id / material_id property.
	ObjectIDs []int32
}

// objectIDProperties are the face properties recognised as an object id.
var objectIDProperties = []string{"object_id", "category_id", "material_id", "segment_id"}

// LoadPLY reads and parses a PLY file from disk.
func LoadPLY(path string) (*PLYMesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePLY(data)
}

// ReadPLY parses a PLY mesh from a reader.
func ReadPLY(r io.Reader) (*PLYMesh, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParsePLY(data)
}

// ParsePLY parses PLY data from a byte slice. Polygons with more than three
// vertices are fan-triangulated.
func ParsePLY(data []byte) (*PLYMesh, error) {
	if len(data) < 4 {
		return nil, ErrTruncatedPLYData
	}
	if !bytes.HasPrefix(data, []byte("ply\n")) && !bytes.HasPrefix(data, []byte("ply\r\n")) {
		return nil, ErrInvalidPLYMagic
	}

	mesh := &PLYMesh{}
	body, err := parsePLYHeader(data, mesh)
	if err != nil {
		return nil, err
	}

	var vr plyValueReader
	switch mesh.Format {
	case PLYASCII:
		vr = newASCIIReader(body)
	case PLYBinaryLittleEndian:
		vr = &binaryReader{r: bytes.NewReader(body), order: binary.LittleEndian}
	case PLYBinaryBigEndian:
		vr = &binaryReader{r: bytes.NewReader(body), order: binary.BigEndian}
	}

	for _, el := range mesh.Elements {
		switch el.Name {
		case "vertex":
			if err := readPLYVertices(vr, el, mesh); err != nil {
				return nil, fmt.Errorf("reading vertices: %w", err)
			}
		case "face":
			if err := readPLYFaces(vr, el, mesh); err != nil {
				return nil, fmt.Errorf("reading faces: %w", err)
			}
		default:
			if err := skipPLYElement(vr, el); err != nil {
				return nil, fmt.Errorf("skipping element %s: %w", el.Name, err)
			}
		}
	}

	for _, tri := range mesh.Triangles {
		for _, idx := range tri {
			if int(idx) >= len(mesh.Vertices) {
				return nil, fmt.Errorf("%w: index %d, %d vertices", ErrInvalidPLYFaceIndices, idx, len(mesh.Vertices))
			}
		}
	}
	return mesh, nil
}

// parsePLYHeader fills format, comments and elements; returns the body bytes.
func parsePLYHeader(data []byte, mesh *PLYMesh) ([]byte, error) {
	pos := 0
	formatSeen := false
	current := -1
	for pos < len(data) {
		end := bytes.IndexByte(data[pos:], '\n')
		if end < 0 {
			break
		}
		raw := data[pos : pos+end]
		pos += end + 1
		line := strings.TrimSpace(string(raw))
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "ply":
		case "comment", "obj_info":
			mesh.Comments = append(mesh.Comments, strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
		case "format":
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPLYHeader, line)
			}
			switch fields[1] {
			case "ascii":
				mesh.Format = PLYASCII
			case "binary_little_endian":
				mesh.Format = PLYBinaryLittleEndian
			case "binary_big_endian":
				mesh.Format = PLYBinaryBigEndian
			default:
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedPLYFormat, fields[1])
			}
			formatSeen = true
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPLYHeader, line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("%w: bad element count %q", ErrInvalidPLYHeader, fields[2])
			}
			mesh.Elements = append(mesh.Elements, PLYElement{Name: fields[1], Count: count})
			current = len(mesh.Elements) - 1
		case "property":
			if current < 0 {
				return nil, fmt.Errorf("%w: property before element", ErrInvalidPLYHeader)
			}
			prop, err := parsePLYProperty(fields)
			if err != nil {
				return nil, err
			}
			el := &mesh.Elements[current]
			el.Properties = append(el.Properties, prop)
		case "end_header":
			if !formatSeen {
				return nil, fmt.Errorf("%w: missing format line", ErrInvalidPLYHeader)
			}
			return data[pos:], nil
		default:
			return nil, fmt.Errorf("%w: unknown keyword %q", ErrInvalidPLYHeader, fields[0])
		}
	}
	return nil, fmt.Errorf("%w: missing end_header", ErrTruncatedPLYData)
}

func parsePLYProperty(fields []string) (PLYProperty, error) {
	if len(fields) >= 5 && fields[1] == "list" {
		if plyTypeSize(fields[2]) == 0 || plyTypeSize(fields[3]) == 0 {
			return PLYProperty{}, fmt.Errorf("%w: bad list types %v", ErrInvalidPLYHeader, fields[2:4])
		}
		return PLYProperty{Name: fields[4], Type: fields[3], IsList: true, CountType: fields[2]}, nil
	}
	if len(fields) != 3 || plyTypeSize(fields[1]) == 0 {
		return PLYProperty{}, fmt.Errorf("%w: bad property %v", ErrInvalidPLYHeader, fields)
	}
	return PLYProperty{Name: fields[2], Type: fields[1]}, nil
}

// plyTypeSize returns the byte size of a PLY scalar type, 0 if unknown.
func plyTypeSize(t string) int {
	switch t {
	case "char", "int8", "uchar", "uint8":
		return 1
	case "short", "int16", "ushort", "uint16":
		return 2
	case "int", "int32", "uint", "uint32", "float", "float32":
		return 4
	case "double", "float64":
		return 8
	default:
		return 0
	}
}

func readPLYVertices(vr plyValueReader, el PLYElement, mesh *PLYMesh) error {
	xi, yi, zi := -1, -1, -1
	for i, p := range el.Properties {
		switch p.Name {
		case "x":
			xi = i
		case "y":
			yi = i
		case "z":
			zi = i
		}
	}
	if xi < 0 || yi < 0 || zi < 0 {
		return ErrMissingPLYVertexData
	}

	if err := checkPLYCount(vr, el); err != nil {
		return err
	}
	mesh.Vertices = make([][3]float32, 0, min(el.Count, plyPrealloc))
	values := make([]float64, len(el.Properties))
	for v := 0; v < el.Count; v++ {
		for i, p := range el.Properties {
			if p.IsList {
				if err := skipPLYList(vr, p); err != nil {
					return err
				}
				continue
			}
			val, err := vr.next(p.Type)
			if err != nil {
				return err
			}
			values[i] = val
		}
		mesh.Vertices = append(mesh.Vertices, [3]float32{float32(values[xi]), float32(values[yi]), float32(values[zi])})
	}
	return nil
}

func readPLYFaces(vr plyValueReader, el PLYElement, mesh *PLYMesh) error {
	idxProp, objProp := -1, -1
	for i, p := range el.Properties {
		if p.IsList && (p.Name == "vertex_indices" || p.Name == "vertex_index") {
			idxProp = i
		}
		if !p.IsList && objProp < 0 {
			for _, name := range objectIDProperties {
				if p.Name == name {
					objProp = i
				}
			}
		}
	}
	if idxProp < 0 {
		return fmt.Errorf("%w: face element has no vertex_indices", ErrInvalidPLYHeader)
	}

	if err := checkPLYCount(vr, el); err != nil {
		return err
	}
	mesh.Triangles = make([][3]uint32, 0, min(el.Count, plyPrealloc))
	if objProp >= 0 {
		mesh.ObjectIDs = make([]int32, 0, min(el.Count, plyPrealloc))
	}
	var poly []uint32
	for f := 0; f < el.Count; f++ {
		var objID int32
		poly = poly[:0]
		for i, p := range el.Properties {
			switch {
			case i == idxProp:
				n, err := vr.next(p.CountType)
				if err != nil {
					return err
				}
				for k := 0; k < int(n); k++ {
					v, err := vr.next(p.Type)
					if err != nil {
						return err
					}
					if v < 0 {
						return fmt.Errorf("%w: negative index", ErrInvalidPLYFaceIndices)
					}
					poly = append(poly, uint32(v))
				}
			case p.IsList:
				if err := skipPLYList(vr, p); err != nil {
					return err
				}
			default:
				v, err := vr.next(p.Type)
				if err != nil {
					return err
				}
				if i == objProp {
					objID = int32(v)
				}
			}
		}
		for k := 1; k+1 < len(poly); k++ {
			mesh.Triangles = append(mesh.Triangles, [3]uint32{poly[0], poly[k], poly[k+1]})
			if objProp >= 0 {
				mesh.ObjectIDs = append(mesh.ObjectIDs, objID)
			}
		}
	}
	return nil
}

func skipPLYElement(vr plyValueReader, el PLYElement) error {
	if len(el.Properties) == 0 {
		return nil
	}
	if err := checkPLYCount(vr, el); err != nil {
		return err
	}
	for n := 0; n < el.Count; n++ {
		for _, p := range el.Properties {
			if p.IsList {
				if err := skipPLYList(vr, p); err != nil {
					return err
				}
				continue
			}
			if _, err := vr.next(p.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

func skipPLYList(vr plyValueReader, p PLYProperty) error {
	n, err := vr.next(p.CountType)
	if err != nil {
		return err
	}
	for k := 0; k < int(n); k++ {
		if _, err := vr.next(p.Type); err != nil {
			return err
		}
	}
	return nil
}

// plyPrealloc caps the records allocated up front; slices grow past it.
const plyPrealloc = 1 << 16

// plyValueReader yields successive scalar values of the body.
type plyValueReader interface {
	next(typ string) (float64, error)
	// fits reports whether the unread body can hold count records of el.
	fits(el PLYElement, count int) bool
}

// checkPLYCount rejects element counts the remaining body cannot hold.
func checkPLYCount(vr plyValueReader, el PLYElement) error {
	if !vr.fits(el, el.Count) {
		return fmt.Errorf("%w: element %s declares %d records", ErrTruncatedPLYData, el.Name, el.Count)
	}
	return nil
}

type asciiReader struct {
	tokens [][]byte
	pos    int
}

func newASCIIReader(body []byte) *asciiReader {
	return &asciiReader{tokens: bytes.Fields(body)}
}

// fits assumes at least one token per property.
func (a *asciiReader) fits(el PLYElement, count int) bool {
	per := max(1, len(el.Properties))
	return count <= (len(a.tokens)-a.pos)/per
}

func (a *asciiReader) next(string) (float64, error) {
	if a.pos >= len(a.tokens) {
		return 0, ErrTruncatedPLYData
	}
	tok := a.tokens[a.pos]
	a.pos++
	v, err := strconv.ParseFloat(string(tok), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad value %q", ErrInvalidPLYHeader, tok)
	}
	return v, nil
}

type binaryReader struct {
	r     *bytes.Reader
	order binary.ByteOrder
	buf   [8]byte
}

// fits assumes empty lists.
func (b *binaryReader) fits(el PLYElement, count int) bool {
	per := 0
	for _, p := range el.Properties {
		if p.IsList {
			per += plyTypeSize(p.CountType)
		} else {
			per += plyTypeSize(p.Type)
		}
	}
	return count <= b.r.Len()/max(1, per)
}

func (b *binaryReader) next(typ string) (float64, error) {
	size := plyTypeSize(typ)
	if _, err := io.ReadFull(b.r, b.buf[:size]); err != nil {
		return 0, ErrTruncatedPLYData
	}
	p := b.buf[:size]
	switch typ {
	case "char", "int8":
		return float64(int8(p[0])), nil
	case "uchar", "uint8":
		return float64(p[0]), nil
	case "short", "int16":
		return float64(int16(b.order.Uint16(p))), nil
	case "ushort", "uint16":
		return float64(b.order.Uint16(p)), nil
	case "int", "int32":
		return float64(int32(b.order.Uint32(p))), nil
	case "uint", "uint32":
		return float64(b.order.Uint32(p)), nil
	case "float", "float32":
		return float64(math.Float32frombits(b.order.Uint32(p))), nil
	default:
		return math.Float64frombits(b.order.Uint64(p)), nil
	}
}

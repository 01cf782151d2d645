package rlr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ElementFormat tags the element type of a buffer view, using the
// single-character codes of the Python buffer protocol.
type ElementFormat string

const (
	FormatFloat32 ElementFormat = "f"
	FormatFloat64 ElementFormat = "d"
	FormatUint16  ElementFormat = "H"
	FormatUint32  ElementFormat = "I"
	FormatInt32   ElementFormat = "i"
)

// Size returns the element size in bytes, 0 for unknown formats.
func (f ElementFormat) Size() int {
	switch f {
	case FormatFloat32, FormatUint32, FormatInt32:
		return 4
	case FormatFloat64:
		return 8
	case FormatUint16:
		return 2
	default:
		return 0
	}
}

func (f ElementFormat) isFloat() bool { return f == FormatFloat32 || f == FormatFloat64 }

func (f ElementFormat) isUnsigned() bool { return f == FormatUint16 || f == FormatUint32 }

// VertexData is a borrowed view of vertex positions. Data is little endian
// and is only read during the call it is passed to.
type VertexData struct {
	Data        []byte
	ByteOffset  int
	VertexCount int
	// VertexStride is the distance in bytes between consecutive vertices;
	// 0 means tightly packed.
	VertexStride int
	Format       ElementFormat
	Shape        []int
}

// IndexData is a borrowed view of a flat triangle-list index buffer.
type IndexData struct {
	Data       []byte
	ByteOffset int
	IndexCount int
	Format     ElementFormat
	Shape      []int
	// Material names the material category of every triangle in the view.
	// Empty leaves the triangles on the default material.
	Material string
}

// VerticesFromFloat32 builds an (N, 3) float32 view over xyz triples.
func VerticesFromFloat32(xyz []float32) VertexData {
	data := make([]byte, 4*len(xyz))
	for i, v := range xyz {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	n := len(xyz) / 3
	return VertexData{
		Data:         data,
		VertexCount:  n,
		VertexStride: 12,
		Format:       FormatFloat32,
		Shape:        []int{n, 3},
	}
}

// IndicesFromUint32 builds a flat uint32 index view.
func IndicesFromUint32(indices []uint32, material string) IndexData {
	data := make([]byte, 4*len(indices))
	for i, v := range indices {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return IndexData{
		Data:       data,
		IndexCount: len(indices),
		Format:     FormatUint32,
		Shape:      []int{len(indices)},
		Material:   material,
	}
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, s := range shape {
		parts[i] = fmt.Sprint(s)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// decodeVertices copies the vertex positions out of v. op names the
// calling operation in errors.
func decodeVertices(op string, v VertexData) ([][3]float32, error) {
	if len(v.Shape) != 2 || v.Shape[1] != 3 || !v.Format.isFloat() || v.Shape[0] != v.VertexCount {
		return nil, newError(InvalidParam, op,
			"got array with shape %s and format %q, expected a 2D array with shape (N, 3) and float data type",
			shapeString(v.Shape), string(v.Format))
	}
	if v.VertexCount < 0 || v.ByteOffset < 0 {
		return nil, newError(InvalidParam, op, "negative count or offset")
	}
	elem := v.Format.Size()
	stride := v.VertexStride
	if stride == 0 {
		stride = 3 * elem
	}
	if v.ByteOffset%elem != 0 || stride%elem != 0 {
		return nil, newError(BadAlignment, op, "offset %d / stride %d not a multiple of %d", v.ByteOffset, stride, elem)
	}
	if stride < 3*elem {
		return nil, newError(InvalidParam, op, "stride %d shorter than a vertex", stride)
	}
	if v.VertexCount > 0 {
		room := len(v.Data) - v.ByteOffset - 3*elem
		if room < 0 || v.VertexCount-1 > room/stride {
			return nil, newError(InvalidParam, op, "buffer holds %d bytes, too short for %d vertices at offset %d stride %d",
				len(v.Data), v.VertexCount, v.ByteOffset, stride)
		}
	}

	out := make([][3]float32, v.VertexCount)
	for i := range out {
		base := v.ByteOffset + i*stride
		for k := 0; k < 3; k++ {
			p := v.Data[base+k*elem:]
			var f float32
			if v.Format == FormatFloat32 {
				f = math.Float32frombits(binary.LittleEndian.Uint32(p))
			} else {
				f = float32(math.Float64frombits(binary.LittleEndian.Uint64(p)))
			}
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				return nil, newError(InvalidParam, op, "vertex %d is not finite", i)
			}
			out[i][k] = f
		}
	}
	return out, nil
}

// decodeIndices copies triangle indices out of d. op names the calling
// operation in errors.
func decodeIndices(op string, d IndexData) ([]uint32, error) {
	if len(d.Shape) != 1 || !d.Format.isUnsigned() || d.Shape[0] != d.IndexCount {
		return nil, newError(InvalidParam, op,
			"got array with shape %s and format %q, expected a flat unsigned integer array",
			shapeString(d.Shape), string(d.Format))
	}
	if d.IndexCount < 0 || d.ByteOffset < 0 {
		return nil, newError(InvalidParam, op, "negative count or offset")
	}
	if d.IndexCount%3 != 0 {
		return nil, newError(InvalidParam, op, "index count %d is not a multiple of 3", d.IndexCount)
	}
	elem := d.Format.Size()
	if d.ByteOffset%elem != 0 {
		return nil, newError(BadAlignment, op, "offset %d not a multiple of %d", d.ByteOffset, elem)
	}
	room := len(d.Data) - d.ByteOffset
	if room < 0 || d.IndexCount > room/elem {
		return nil, newError(InvalidParam, op, "buffer holds %d bytes, too short for %d indices at offset %d",
			len(d.Data), d.IndexCount, d.ByteOffset)
	}

	out := make([]uint32, d.IndexCount)
	for i := range out {
		p := d.Data[d.ByteOffset+i*elem:]
		if d.Format == FormatUint16 {
			out[i] = uint32(binary.LittleEndian.Uint16(p))
		} else {
			out[i] = binary.LittleEndian.Uint32(p)
		}
	}
	return out, nil
}

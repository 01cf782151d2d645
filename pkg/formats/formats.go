// Package formats provides readers for scene mesh file formats.
package formats

// Note: PLY (Polygon File Format) is implemented in ply.go, Wavefront OBJ
// in obj.go

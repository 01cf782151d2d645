// Package material holds frequency-banded acoustic surface coefficients.
package material

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	lin "github.com/sgreben/piecewiselinear"

	"github.com/Faultbox/rlr-audio/pkg/encoding"
)

// Material description errors.
var (
	ErrMalformedJSON    = errors.New("material: malformed description")
	ErrMissingID        = errors.New("material: missing id")
	ErrDuplicateID      = errors.New("material: duplicate id")
	ErrEmptyCoefficient = errors.New("material: empty coefficient list")
	ErrOutOfRange       = errors.New("material: coefficient outside [0, 1]")
	ErrUnknownLabel     = errors.New("material: label references unknown material")
)

// DefaultID names the implicit fully reflective, opaque material.
const DefaultID = "default"

// Material is one surface type. Coefficient slices are kept exactly as
// supplied; their length may differ from the simulation band count.
type Material struct {
	ID           string
	Absorption   []float32
	Scattering   []float32
	Transmission []float32
}

// Bands is a material resampled to a fixed band count.
type Bands struct {
	Absorption   []float64
	Scattering   []float64
	Transmission []float64
}

// Default returns the fully reflective, opaque material.
func Default() Material {
	return Material{
		ID:           DefaultID,
		Absorption:   []float32{0},
		Scattering:   []float32{0},
		Transmission: []float32{0},
	}
}

// Table maps material ids and semantic labels to materials.
type Table struct {
	materials map[string]Material // keyed by normalised id
	labels    map[string]string   // normalised label -> normalised id
	ids       []string            // ids as supplied, in load order
}

// NewTable returns an empty table; every lookup resolves to Default.
func NewTable() *Table {
	return &Table{
		materials: map[string]Material{},
		labels:    map[string]string{},
	}
}

type jsonMaterial struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Absorption   []float32 `json:"absorption"`
	Scattering   []float32 `json:"scattering"`
	Transmission []float32 `json:"transmission"`
	// LinkedSemanticIDs are category labels resolving to this material.
	LinkedSemanticIDs []string `json:"linked_semantic_ids"`
}

type jsonTable struct {
	Materials []jsonMaterial     `json:"materials"`
	Labels    map[string]string `json:"labels"`
}

// ParseJSON builds a table from a material description, either an object
//
//	{"materials":[{"id":"carpet","absorption":[...],"scattering":[...],"transmission":[...],
//	   "linked_semantic_ids":["floor"]}],
//	 "labels":{"rug":"carpet"}}
//
// or a bare array of materials. "name" is accepted in place of "id".
// Coefficient lists may interleave frequencies and values
// ([125, 0.1, 250, 0.2, ...]); the frequencies are dropped. Missing
// scattering or transmission lists default to zero. Entries in "labels"
// take precedence over linked_semantic_ids. Unknown fields are ignored.
// Nothing is returned on error.
func ParseJSON(data []byte) (*Table, error) {
	var doc jsonTable
	trimmed := bytes.TrimSpace(data)
	var err error
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = decodeOne(trimmed, &doc.Materials)
	} else {
		err = decodeOne(trimmed, &doc)
	}
	if err != nil {
		return nil, err
	}

	t := NewTable()
	for i, jm := range doc.Materials {
		id := jm.ID
		if id == "" {
			id = jm.Name
		}
		if id == "" {
			return nil, fmt.Errorf("%w: entry %d", ErrMissingID, i)
		}
		key := encoding.NormalizeName(id)
		if _, dup := t.materials[key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}

		m := Material{ID: id}
		if m.Absorption, err = coefficients(id, "absorption", jm.Absorption, true); err != nil {
			return nil, err
		}
		if m.Scattering, err = coefficients(id, "scattering", jm.Scattering, false); err != nil {
			return nil, err
		}
		if m.Transmission, err = coefficients(id, "transmission", jm.Transmission, false); err != nil {
			return nil, err
		}
		t.materials[key] = m
		t.ids = append(t.ids, id)
	}

	for _, jm := range doc.Materials {
		target := encoding.NormalizeName(jm.ID)
		if jm.ID == "" {
			target = encoding.NormalizeName(jm.Name)
		}
		for _, label := range jm.LinkedSemanticIDs {
			key := encoding.NormalizeName(label)
			if _, taken := t.labels[key]; !taken {
				t.labels[key] = target
			}
		}
	}

	labels := make([]string, 0, len(doc.Labels))
	for label := range doc.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		target := encoding.NormalizeName(doc.Labels[label])
		if _, ok := t.materials[target]; !ok {
			return nil, fmt.Errorf("%w: %q -> %q", ErrUnknownLabel, label, doc.Labels[label])
		}
		t.labels[encoding.NormalizeName(label)] = target
	}
	return t, nil
}

// decodeOne decodes exactly one JSON value from data into v.
func decodeOne(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrMalformedJSON)
	}
	return nil
}

// interleaved reports whether values alternate ascending frequencies in Hz
// with coefficients.
func interleaved(values []float32) bool {
	if len(values) < 2 || len(values)%2 != 0 {
		return false
	}
	prev := float32(0)
	for i := 0; i < len(values); i += 2 {
		if !(values[i] > 1 && values[i] > prev) {
			return false
		}
		prev = values[i]
	}
	return true
}

func coefficients(id, field string, values []float32, required bool) ([]float32, error) {
	if values == nil && !required {
		return []float32{0}, nil
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrEmptyCoefficient, id, field)
	}
	if interleaved(values) {
		pairs := make([]float32, 0, len(values)/2)
		for i := 1; i < len(values); i += 2 {
			pairs = append(pairs, values[i])
		}
		values = pairs
	}
	out := make([]float32, len(values))
	for i, v := range values {
		if !(v >= 0 && v <= 1) {
			return nil, fmt.Errorf("%w: %s.%s[%d] = %v", ErrOutOfRange, id, field, i, v)
		}
		out[i] = v
	}
	return out, nil
}

// Len returns the number of explicit materials.
func (t *Table) Len() int { return len(t.ids) }

// IDs returns material ids in load order.
func (t *Table) IDs() []string {
	return append([]string(nil), t.ids...)
}

// Get returns the material with the given id exactly as loaded.
func (t *Table) Get(id string) (Material, bool) {
	m, ok := t.materials[encoding.NormalizeName(id)]
	if !ok {
		return Material{}, false
	}
	return clone(m), true
}

// Resolve maps a triangle category to a material. Labels are consulted
// first, then material ids; anything unresolved is Default.
func (t *Table) Resolve(category string) Material {
	key := encoding.NormalizeName(category)
	if id, ok := t.labels[key]; ok {
		key = id
	}
	if m, ok := t.materials[key]; ok {
		return m
	}
	return Default()
}

func clone(m Material) Material {
	return Material{
		ID:           m.ID,
		Absorption:   append([]float32(nil), m.Absorption...),
		Scattering:   append([]float32(nil), m.Scattering...),
		Transmission: append([]float32(nil), m.Transmission...),
	}
}

// Resample returns m's coefficients spread over n bands.
func (m Material) Resample(n int) Bands {
	return Bands{
		Absorption:   resample(m.Absorption, n),
		Scattering:   resample(m.Scattering, n),
		Transmission: resample(m.Transmission, n),
	}
}

// resample linearly interpolates values across the normalised band index.
func resample(values []float32, n int) []float64 {
	out := make([]float64, n)
	switch {
	case len(values) == 0:
		return out
	case len(values) == n:
		for i, v := range values {
			out[i] = float64(v)
		}
		return out
	case len(values) == 1 || n == 1:
		mean := 0.0
		for _, v := range values {
			mean += float64(v)
		}
		mean /= float64(len(values))
		for i := range out {
			out[i] = mean
		}
		return out
	}

	f := lin.Function{X: make([]float64, len(values)), Y: make([]float64, len(values))}
	for i, v := range values {
		f.X[i] = float64(i) / float64(len(values)-1)
		f.Y[i] = float64(v)
	}
	for i := range out {
		out[i] = clamp01(at(f, float64(i)/float64(n-1)))
	}
	return out
}

// at evaluates f, holding the end values outside and on the domain bounds.
func at(f lin.Function, x float64) float64 {
	last := len(f.X) - 1
	if x <= f.X[0] {
		return f.Y[0]
	}
	if x >= f.X[last] {
		return f.Y[last]
	}
	return f.At(x)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package entity keeps the sound sources and listeners of a scene.
package entity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Registry errors.
var (
	ErrUnknownSource   = errors.New("entity: unknown source")
	ErrUnknownListener = errors.New("entity: unknown listener")
	ErrBadRadius       = errors.New("entity: radius must be finite and non-negative")
	ErrBadTransform    = errors.New("entity: position or orientation is not finite")
)

// Forward is the local forward axis of every entity.
var Forward = r3.Vec{Z: -1}

// Source is a point emitter.
type Source struct {
	ID          int
	Position    r3.Vec
	Orientation quat.Number
	// Radius is the distance within which the source counts as moved
	// for temporal smoothing.
	Radius      float64
	Directivity *Directivity
}

// Listener is a spherical receiver.
type Listener struct {
	ID          int
	Position    r3.Vec
	Orientation quat.Number
	Radius      float64
}

// EmissionGain returns the energy factor of sound leaving s towards dir.
func (s Source) EmissionGain(dir r3.Vec) float64 {
	if s.Directivity == nil {
		return 1
	}
	fwd := Rotate(s.Orientation, Forward)
	cos := r3.Dot(fwd, dir) / math.Max(r3.Norm(dir), 1e-300)
	angle := math.Acos(math.Max(-1, math.Min(1, cos))) * 180 / math.Pi
	return s.Directivity.EnergyGain(angle)
}

// ToLocal expresses a world direction in the listener frame.
func (l Listener) ToLocal(dir r3.Vec) r3.Vec {
	return Rotate(quat.Conj(l.Orientation), dir)
}

// Rotate applies unit quaternion q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// NormalizeQuat returns q scaled to unit length; a zero quaternion becomes
// the identity.
func NormalizeQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Registry holds sources and listeners; ids are dense indices in
// registration order.
type Registry struct {
	sources   []Source
	listeners []Listener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddSource registers a source and returns its id.
func (r *Registry) AddSource(pos r3.Vec, orientation quat.Number) (int, error) {
	if !finiteVec(pos) || !finiteQuat(orientation) {
		return 0, ErrBadTransform
	}
	id := len(r.sources)
	r.sources = append(r.sources, Source{ID: id, Position: pos, Orientation: NormalizeQuat(orientation)})
	return id, nil
}

// AddListener registers a listener and returns its id.
func (r *Registry) AddListener(pos r3.Vec, orientation quat.Number, radius float64) (int, error) {
	if !finiteVec(pos) || !finiteQuat(orientation) {
		return 0, ErrBadTransform
	}
	if !validRadius(radius) {
		return 0, fmt.Errorf("%w: %v", ErrBadRadius, radius)
	}
	id := len(r.listeners)
	r.listeners = append(r.listeners, Listener{ID: id, Position: pos, Orientation: NormalizeQuat(orientation), Radius: radius})
	return id, nil
}

// Source returns the source with the given id.
func (r *Registry) Source(id int) (Source, error) {
	if id < 0 || id >= len(r.sources) {
		return Source{}, fmt.Errorf("%w: %d", ErrUnknownSource, id)
	}
	return r.sources[id], nil
}

// Listener returns the listener with the given id.
func (r *Registry) Listener(id int) (Listener, error) {
	if id < 0 || id >= len(r.listeners) {
		return Listener{}, fmt.Errorf("%w: %d", ErrUnknownListener, id)
	}
	return r.listeners[id], nil
}

// SetSourceTransform moves and turns a source.
func (r *Registry) SetSourceTransform(id int, pos r3.Vec, orientation quat.Number) error {
	if _, err := r.Source(id); err != nil {
		return err
	}
	if !finiteVec(pos) || !finiteQuat(orientation) {
		return ErrBadTransform
	}
	r.sources[id].Position = pos
	r.sources[id].Orientation = NormalizeQuat(orientation)
	return nil
}

// SetListenerTransform moves and turns a listener.
func (r *Registry) SetListenerTransform(id int, pos r3.Vec, orientation quat.Number) error {
	if _, err := r.Listener(id); err != nil {
		return err
	}
	if !finiteVec(pos) || !finiteQuat(orientation) {
		return ErrBadTransform
	}
	r.listeners[id].Position = pos
	r.listeners[id].Orientation = NormalizeQuat(orientation)
	return nil
}

// SetSourceRadius sets a source radius.
func (r *Registry) SetSourceRadius(id int, radius float64) error {
	if _, err := r.Source(id); err != nil {
		return err
	}
	if !validRadius(radius) {
		return fmt.Errorf("%w: %v", ErrBadRadius, radius)
	}
	r.sources[id].Radius = radius
	return nil
}

// SetListenerRadius sets a listener acceptance radius.
func (r *Registry) SetListenerRadius(id int, radius float64) error {
	if _, err := r.Listener(id); err != nil {
		return err
	}
	if !validRadius(radius) {
		return fmt.Errorf("%w: %v", ErrBadRadius, radius)
	}
	r.listeners[id].Radius = radius
	return nil
}

// SetSourceDirectivity attaches a pattern; nil means omnidirectional.
func (r *Registry) SetSourceDirectivity(id int, d *Directivity) error {
	if _, err := r.Source(id); err != nil {
		return err
	}
	r.sources[id].Directivity = d
	return nil
}

// Sources returns a copy of all sources.
func (r *Registry) Sources() []Source {
	return append([]Source(nil), r.sources...)
}

// Listeners returns a copy of all listeners.
func (r *Registry) Listeners() []Listener {
	return append([]Listener(nil), r.listeners...)
}

// Clear removes every entity.
func (r *Registry) Clear() {
	r.sources = nil
	r.listeners = nil
}

func validRadius(radius float64) bool {
	return radius >= 0 && !math.IsInf(radius, 0)
}

func finiteVec(v r3.Vec) bool {
	for _, f := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func finiteQuat(q quat.Number) bool {
	for _, f := range [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

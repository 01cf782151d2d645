package rlr

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/rlr-audio/internal/entity"
	rmath "github.com/Faultbox/rlr-audio/pkg/math"
)

func toR3(v rmath.Vec3) r3.Vec {
	return r3.Vec{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

func toQuat(q rmath.Quat) quat.Number {
	return quat.Number{Real: float64(q.W), Imag: float64(q.X), Jmag: float64(q.Y), Kmag: float64(q.Z)}
}

// AddSource registers an omnidirectional source and returns its id. Ids
// are dense, in registration order, and reset by UploadMesh.
func (s *Simulator) AddSource(position rmath.Vec3, orientation rmath.Quat) (int, error) {
	const op = "AddSource"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateMeshUploaded); err != nil {
		return 0, err
	}
	id, err := s.entities.AddSource(toR3(position), toQuat(orientation))
	if err != nil {
		return 0, wrapError(InvalidParam, op, err)
	}
	return id, nil
}

// AddListener registers a listener and returns its id. A zero radius uses
// the configured listener radius.
func (s *Simulator) AddListener(position rmath.Vec3, orientation rmath.Quat, radius float32) (int, error) {
	const op = "AddListener"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateMeshUploaded); err != nil {
		return 0, err
	}
	id, err := s.entities.AddListener(toR3(position), toQuat(orientation), float64(radius))
	if err != nil {
		return 0, wrapError(InvalidParam, op, err)
	}
	return id, nil
}

// SetSourceTransform moves and turns a source.
func (s *Simulator) SetSourceTransform(id int, position rmath.Vec3, orientation rmath.Quat) error {
	return s.mutateEntity("SetSourceTransform", func(r *entity.Registry) error {
		return r.SetSourceTransform(id, toR3(position), toQuat(orientation))
	})
}

// SetListenerTransform moves and turns a listener.
func (s *Simulator) SetListenerTransform(id int, position rmath.Vec3, orientation rmath.Quat) error {
	return s.mutateEntity("SetListenerTransform", func(r *entity.Registry) error {
		return r.SetListenerTransform(id, toR3(position), toQuat(orientation))
	})
}

// SetSourceRadius sets how far a source may move before temporal
// smoothing restarts for it.
func (s *Simulator) SetSourceRadius(id int, radius float32) error {
	return s.mutateEntity("SetSourceRadius", func(r *entity.Registry) error {
		return r.SetSourceRadius(id, float64(radius))
	})
}

// SetListenerRadius sets the capture radius of a listener.
func (s *Simulator) SetListenerRadius(id int, radius float32) error {
	return s.mutateEntity("SetListenerRadius", func(r *entity.Registry) error {
		return r.SetListenerRadius(id, float64(radius))
	})
}

// SetSourceDirectivity gives a source a rotationally symmetric pattern:
// gain in dB keyed by the angle in degrees off its forward axis. An empty
// map makes the source omnidirectional again.
func (s *Simulator) SetSourceDirectivity(id int, gainsDB map[float64]float64) error {
	const op = "SetSourceDirectivity"
	var d *entity.Directivity
	if len(gainsDB) > 0 {
		var err error
		if d, err = entity.NewDirectivity(gainsDB); err != nil {
			return wrapError(InvalidParam, op, err)
		}
	}
	return s.mutateEntity(op, func(r *entity.Registry) error {
		return r.SetSourceDirectivity(id, d)
	})
}

func (s *Simulator) mutateEntity(op string, fn func(r *entity.Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(op, stateMeshUploaded); err != nil {
		return err
	}
	if err := fn(s.entities); err != nil {
		return wrapError(InvalidParam, op, err)
	}
	return nil
}

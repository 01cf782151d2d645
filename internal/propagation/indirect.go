package propagation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/rlr-audio/internal/entity"
	"github.com/Faultbox/rlr-audio/internal/geometry"
)

// batchSize is the number of rays traced by one job.
const batchSize = 128

// minThroughput ends a path whose energy can no longer matter.
const minThroughput = 1e-12

type eventClass uint8

const (
	classSpecular eventClass = iota
	classDiffuse
)

// event is one energy deposit at a listener.
type event struct {
	listener int
	source   int
	class    eventClass
	time     float64
	dir      r3.Vec // world direction towards the apparent source
	energy   int    // offset into batch.energy
}

// batch is the exclusively owned output of one ray job.
type batch struct {
	events       []event
	energy       []float64
	rays         int
	contributing int
}

func (b *batch) deposit(bands int, ev event, e []float64) {
	ev.energy = len(b.energy)
	b.energy = append(b.energy, e[:bands]...)
	b.events = append(b.events, ev)
}

// energyOf returns the band energies of ev.
func (b *batch) energyOf(ev event, bands int) []float64 {
	return b.energy[ev.energy : ev.energy+bands]
}

// traceSource follows purely specular paths from source si and records
// where they cross listener spheres after at least one reflection.
func (tr *tracer) traceSource(si int, src entity.Source, listeners []entity.Listener, first, count int) *batch {
	out := &batch{rays: count}
	geo := tr.scene.Geometry
	if geo == nil {
		return out
	}
	nb := tr.bands()
	rng := batchRand(tr.set.Seed, passSource, si, first/batchSize)
	total := float64(tr.set.SourceRays)
	through := make([]float64, nb)
	dep := make([]float64, nb)

	for i := 0; i < count; i++ {
		dir := uniformSphere(rng)
		gain := src.EmissionGain(dir) / float64(nb)
		for b := range through {
			through[b] = gain
		}
		origin := src.Position
		travelled := 0.0
		hitAny := false

		for k := 0; k <= tr.set.SourceDepth; k++ {
			h, ok := geo.Intersect(geometry.Ray{Origin: origin, Dir: dir}, math.Inf(1))
			tMax := math.Inf(1)
			if ok {
				tMax = h.T
			}
			if k > 0 {
				for li, l := range listeners {
					if l.Radius <= 0 {
						continue
					}
					t, in := sphereHit(origin, dir, l.Position, l.Radius, tMax)
					if !in {
						continue
					}
					w := 4 / (total * l.Radius * l.Radius)
					for b := range dep {
						dep[b] = w * through[b]
					}
					out.deposit(nb, event{
						listener: li,
						source:   si,
						class:    classSpecular,
						time:     (travelled + t) / tr.set.SpeedOfSound,
						dir:      r3.Scale(-1, dir),
					}, dep)
					hitAny = true
				}
			}
			if !ok || k == tr.set.SourceDepth {
				break
			}

			m := tr.surface(h.Material)
			alive := false
			for b := range through {
				through[b] *= (1 - m.Absorption[b]) * (1 - m.Scattering[b])
				alive = alive || through[b] > minThroughput
			}
			if !alive {
				break
			}
			n := h.FacingNormal(dir)
			travelled += h.T
			dir = r3.Unit(reflect(dir, n))
			origin = r3.Add(h.Point, r3.Scale(geometry.Epsilon, n))
		}
		if hitAny {
			out.contributing++
		}
	}
	return out
}

// traceListener follows paths from listener li and connects every
// surface vertex to each visible source through its diffuse reflection.
// Continuation picks specular or diffuse reflection in proportion to the
// band-averaged specular fraction.
func (tr *tracer) traceListener(li int, lst entity.Listener, sources []entity.Source, first, count int) *batch {
	out := &batch{rays: count}
	geo := tr.scene.Geometry
	if geo == nil {
		return out
	}
	nb := tr.bands()
	rng := batchRand(tr.set.Seed, passListener, li, first/batchSize)
	total := float64(tr.set.IndirectRays)
	through := make([]float64, nb)
	dep := make([]float64, nb)

	for i := 0; i < count; i++ {
		dir := uniformSphere(rng)
		arrival := dir
		for b := range through {
			through[b] = 1
		}
		origin := lst.Position
		travelled := 0.0
		hitAny := false

		for k := 1; k <= tr.set.IndirectDepth; k++ {
			h, ok := geo.Intersect(geometry.Ray{Origin: origin, Dir: dir}, math.Inf(1))
			if !ok {
				break
			}
			travelled += h.T
			n := h.FacingNormal(dir)
			m := tr.surface(h.Material)
			lifted := r3.Add(h.Point, r3.Scale(geometry.Epsilon, n))

			for si, src := range sources {
				toSrc := r3.Sub(src.Position, h.Point)
				ds := r3.Norm(toSrc)
				if ds <= 0 {
					continue
				}
				cos := r3.Dot(n, toSrc) / ds
				if cos <= 0 || !tr.visible(lifted, src.Position) {
					continue
				}
				ds = math.Max(ds, minDistance)
				w := 4 * cos / (ds * ds * total) * src.EmissionGain(r3.Scale(-1, toSrc)) / float64(nb)
				contributes := false
				for b := range dep {
					dep[b] = w * through[b] * (1 - m.Absorption[b]) * m.Scattering[b]
					contributes = contributes || dep[b] > 0
				}
				if !contributes {
					continue
				}
				out.deposit(nb, event{
					listener: li,
					source:   si,
					class:    classDiffuse,
					time:     (travelled + ds) / tr.set.SpeedOfSound,
					dir:      arrival,
				}, dep)
				hitAny = true
			}

			var q float64
			for b := range through {
				q += 1 - m.Scattering[b]
			}
			q /= float64(nb)

			specular := rng.Float64() < q
			alive := false
			for b := range through {
				if specular {
					through[b] *= (1 - m.Absorption[b]) * (1 - m.Scattering[b]) / q
				} else {
					through[b] *= (1 - m.Absorption[b]) * m.Scattering[b] / (1 - q)
				}
				alive = alive || through[b] > minThroughput
			}
			if !alive {
				break
			}
			if specular {
				dir = r3.Unit(reflect(dir, n))
			} else {
				dir = cosineHemisphere(n, rng)
			}
			origin = lifted
		}
		if hitAny {
			out.contributing++
		}
	}
	return out
}

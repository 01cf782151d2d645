package propagation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/rlr-audio/internal/entity"
	"github.com/Faultbox/rlr-audio/internal/geometry"
	"github.com/Faultbox/rlr-audio/internal/ir"
	"github.com/Faultbox/rlr-audio/internal/material"
)

const (
	// minDistance keeps the inverse square law finite for coincident
	// entities, in metres.
	minDistance = 0.01
	// diffractionFanout bounds the candidate edges explored per order.
	diffractionFanout = 8
	// maxDiffractionPaths bounds the paths kept per pair.
	maxDiffractionPaths = 8
	ternaryIterations   = 48
)

// samplePoints are the listener-relative sample points of the visibility test.
var samplePoints = [...]r3.Vec{
	{}, {X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1},
}

// tracer bundles the read-only state of one run.
type tracer struct {
	set      *Settings
	scene    *Scene
	fallback material.Bands
}

func newTracer(set *Settings, scene *Scene) *tracer {
	zero := make([]float64, len(set.Bands))
	return &tracer{
		set:      set,
		scene:    scene,
		fallback: material.Bands{Absorption: zero, Scattering: zero, Transmission: zero},
	}
}

func (tr *tracer) bands() int { return len(tr.set.Bands) }

// visible reports whether the straight segment a-b is free, ignoring
// geometry within Epsilon of either end.
func (tr *tracer) visible(a, b r3.Vec) bool {
	if tr.scene.Geometry == nil {
		return true
	}
	d := r3.Sub(b, a)
	l := r3.Norm(d)
	if l <= 2*geometry.Epsilon {
		return true
	}
	u := r3.Scale(1/l, d)
	return !tr.scene.Geometry.Occluded(
		r3.Add(a, r3.Scale(geometry.Epsilon, u)),
		r3.Sub(b, r3.Scale(geometry.Epsilon, u)),
	)
}

// visibility is the fraction of listener sample points the source sees.
func (tr *tracer) visibility(s entity.Source, l entity.Listener) float64 {
	if tr.scene.Geometry == nil {
		return 1
	}
	n := len(samplePoints)
	if l.Radius <= 0 {
		n = 1
	}
	seen := 0
	for _, p := range samplePoints[:n] {
		if tr.visible(s.Position, r3.Add(l.Position, r3.Scale(l.Radius, p))) {
			seen++
		}
	}
	return float64(seen) / float64(n)
}

// spread returns the per-band free-field energy after distance d, with
// the source power split evenly across bands.
func (tr *tracer) spread(d, gain float64) []float64 {
	d = math.Max(d, minDistance)
	e := make([]float64, tr.bands())
	for b := range e {
		e[b] = gain / (float64(len(e)) * d * d)
	}
	return e
}

// arrivalDirection converts a world direction pointing from the listener
// towards the apparent source into the ambisonic frame.
func arrivalDirection(l entity.Listener, dir r3.Vec) r3.Vec {
	n := r3.Norm(dir)
	if n == 0 {
		return r3.Vec{X: 1}
	}
	return ir.ListenerToAmbisonic(l.ToLocal(r3.Scale(1/n, dir)))
}

// discrete computes the deterministic arrivals of one pair.
func (tr *tracer) discrete(s entity.Source, l entity.Listener, bd *Breakdown) []ir.Arrival {
	var arrivals []ir.Arrival
	toListener := r3.Sub(l.Position, s.Position)
	d := r3.Norm(toListener)
	delay := d / tr.set.SpeedOfSound
	dir := arrivalDirection(l, r3.Scale(-1, toListener))
	free := tr.spread(d, s.EmissionGain(toListener))
	v := tr.visibility(s, l)

	if tr.set.Direct && v > 0 {
		e := scaled(free, v)
		add(bd.Direct, e)
		arrivals = append(arrivals, ir.Arrival{Kind: ir.Direct, Delay: delay, Energy: e, Direction: dir})
	}
	if v >= 1 || tr.scene.Geometry == nil {
		return arrivals
	}

	if tr.set.Transmission {
		if e := tr.transmitted(s.Position, l.Position, free, 1-v); e != nil {
			add(bd.Transmission, e)
			arrivals = append(arrivals, ir.Arrival{Kind: ir.Transmitted, Delay: delay, Energy: e, Direction: dir})
		}
	}
	if tr.set.Diffraction && tr.set.MaxDiffractionOrder > 0 && len(tr.scene.Edges) > 0 {
		for _, p := range tr.diffractionPaths(s.Position, l.Position) {
			e := tr.diffracted(s, l.Position, p, 1-v)
			add(bd.Diffraction, e)
			last := p.points[len(p.points)-1]
			arrivals = append(arrivals, ir.Arrival{
				Kind:      ir.Diffracted,
				Delay:     p.length / tr.set.SpeedOfSound,
				Energy:    e,
				Direction: arrivalDirection(l, r3.Sub(last, l.Position)),
			})
		}
	}
	return arrivals
}

// transmitted attenuates free by the transmission of every surface the
// segment crosses. It returns nil when nothing passes.
func (tr *tracer) transmitted(from, to r3.Vec, free []float64, weight float64) []float64 {
	hits := tr.scene.Geometry.AllHits(from, to)
	if len(hits) == 0 {
		return nil
	}
	e := scaled(free, weight)
	for _, h := range hits {
		m := tr.surface(h.Material)
		for b := range e {
			e[b] *= m.Transmission[b]
		}
	}
	if sum(e) <= 0 {
		return nil
	}
	return e
}

// diffractionPath is a chain of edge points from a source to a listener.
type diffractionPath struct {
	points []r3.Vec // edge points, source side first
	length float64  // total source to listener distance
}

// diffractionPaths searches greedy edge chains around occluders up to the
// configured order, shortest first.
func (tr *tracer) diffractionPaths(src, lst r3.Vec) []diffractionPath {
	var found []diffractionPath
	used := make([]bool, len(tr.scene.Edges))

	var search func(cur r3.Vec, travelled float64, chain []r3.Vec, order int)
	search = func(cur r3.Vec, travelled float64, chain []r3.Vec, order int) {
		type candidate struct {
			edge  int
			point r3.Vec
			total float64
		}
		var cands []candidate
		for i, e := range tr.scene.Edges {
			if used[i] {
				continue
			}
			p := closestDetour(e, cur, lst)
			if r3.Norm(r3.Sub(p, cur)) <= 2*geometry.Epsilon {
				continue
			}
			cands = append(cands, candidate{edge: i, point: p, total: r3.Norm(r3.Sub(p, cur)) + r3.Norm(r3.Sub(lst, p))})
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].total < cands[j].total })

		taken := 0
		for _, c := range cands {
			if taken == diffractionFanout || len(found) == maxDiffractionPaths {
				return
			}
			if !tr.visible(cur, c.point) {
				continue
			}
			taken++
			next := append(chain[:len(chain):len(chain)], c.point)
			leg := travelled + r3.Norm(r3.Sub(c.point, cur))
			if tr.visible(c.point, lst) {
				found = append(found, diffractionPath{points: next, length: leg + r3.Norm(r3.Sub(lst, c.point))})
				continue
			}
			if order < tr.set.MaxDiffractionOrder {
				used[c.edge] = true
				search(c.point, leg, next, order+1)
				used[c.edge] = false
			}
		}
	}
	search(src, 0, nil, 1)

	sort.SliceStable(found, func(i, j int) bool { return found[i].length < found[j].length })
	return found
}

// closestDetour returns the point P on e minimising |a-P| + |P-b|.
func closestDetour(e geometry.Edge, a, b r3.Vec) r3.Vec {
	f := func(t float64) float64 {
		p := e.Point(t)
		return r3.Norm(r3.Sub(p, a)) + r3.Norm(r3.Sub(b, p))
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < ternaryIterations; i++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		if f(m1) < f(m2) {
			hi = m2
		} else {
			lo = m1
		}
	}
	return e.Point((lo + hi) / 2)
}

// diffracted applies spreading over the unfolded path and a Maekawa
// barrier loss per edge and band.
func (tr *tracer) diffracted(s entity.Source, lst r3.Vec, p diffractionPath, weight float64) []float64 {
	e := tr.spread(p.length, s.EmissionGain(r3.Sub(p.points[0], s.Position)))
	pts := make([]r3.Vec, 0, len(p.points)+2)
	pts = append(pts, s.Position)
	pts = append(pts, p.points...)
	pts = append(pts, lst)
	for i := 1; i < len(pts)-1; i++ {
		detour := r3.Norm(r3.Sub(pts[i], pts[i-1])) + r3.Norm(r3.Sub(pts[i+1], pts[i])) - r3.Norm(r3.Sub(pts[i+1], pts[i-1]))
		for b := range e {
			e[b] *= MaekawaGain(detour, tr.set.Bands[b].Center(), tr.set.SpeedOfSound)
		}
	}
	for b := range e {
		e[b] *= weight
	}
	return e
}

// MaekawaGain is the energy factor of a thin barrier whose path detour is
// delta metres, at frequency f: -10 log10(3 + 20N) dB with Fresnel number
// N = 2 delta / lambda.
func MaekawaGain(delta, f, c float64) float64 {
	n := 2 * math.Max(delta, 0) * f / c
	return 1 / (3 + 20*n)
}

// surface returns the banded coefficients of a triangle material slot;
// unknown slots are fully reflective and opaque.
func (tr *tracer) surface(slot int) material.Bands {
	if slot >= 0 && slot < len(tr.scene.Materials) {
		return tr.scene.Materials[slot]
	}
	return tr.fallback
}

func scaled(x []float64, f float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * f
	}
	return out
}

func add(dst, x []float64) {
	for i, v := range x {
		dst[i] += v
	}
}

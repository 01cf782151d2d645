package propagation

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
)

// Passes, mixed into batch seeds.
const (
	passSource   = 1
	passListener = 2
)

// batchRand returns the generator of one ray batch. The stream depends
// only on the run seed and the batch identity, never on the worker.
func batchRand(seed uint64, pass, entity, batch int) *rand.Rand {
	id := splitmix(uint64(pass)<<56 ^ uint64(entity)<<28 ^ uint64(batch))
	return rand.New(rand.NewPCG(splitmix(seed), id))
}

func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ x>>30) * 0xbf58476d1ce4e5b9
	x = (x ^ x>>27) * 0x94d049bb133111eb
	return x ^ x>>31
}

func uniformSphere(rng *rand.Rand) r3.Vec {
	z := 2*rng.Float64() - 1
	phi := 2 * math.Pi * rng.Float64()
	r := math.Sqrt(math.Max(0, 1-z*z))
	return r3.Vec{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z}
}

// cosineHemisphere samples a direction around unit n with density cos/pi.
func cosineHemisphere(n r3.Vec, rng *rand.Rand) r3.Vec {
	u, v := basis(n)
	r1, r2 := rng.Float64(), rng.Float64()
	r := math.Sqrt(r1)
	phi := 2 * math.Pi * r2
	d := r3.Add(r3.Add(r3.Scale(r*math.Cos(phi), u), r3.Scale(r*math.Sin(phi), v)),
		r3.Scale(math.Sqrt(math.Max(0, 1-r1)), n))
	return r3.Unit(d)
}

// basis returns two unit vectors completing n to an orthonormal frame.
func basis(n r3.Vec) (r3.Vec, r3.Vec) {
	a := r3.Vec{X: 1}
	if math.Abs(n.X) > 0.9 {
		a = r3.Vec{Y: 1}
	}
	u := r3.Unit(r3.Cross(a, n))
	return u, r3.Cross(n, u)
}

func reflect(d, n r3.Vec) r3.Vec {
	return r3.Sub(d, r3.Scale(2*r3.Dot(d, n), n))
}

// sphereHit tests the segment o + t*d, t in [0, tMax], against a sphere.
// d must be unit length. It returns the parameter of closest approach to
// the centre, clamped to the segment.
func sphereHit(o, d, center r3.Vec, radius, tMax float64) (float64, bool) {
	oc := r3.Sub(center, o)
	b := r3.Dot(oc, d)
	c := r3.Dot(oc, oc) - radius*radius
	if c > 0 {
		disc := b*b - c
		if disc < 0 {
			return 0, false
		}
		enter := b - math.Sqrt(disc)
		if enter < 0 || enter > tMax {
			return 0, false
		}
	}
	return math.Min(math.Max(b, 0), tMax), true
}

// Package ir turns banded energy histograms and discrete arrivals into
// multichannel impulse responses.
package ir

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxOrder is the highest supported spherical-harmonic order.
const MaxOrder = 5

// ChannelsForOrder returns (order+1)^2.
func ChannelsForOrder(order int) int {
	return (order + 1) * (order + 1)
}

// ACN returns the ambisonic channel number of degree l, index m.
func ACN(l, m int) int {
	return l*l + l + m
}

// sn3d[l][|m|] holds the SN3D normalisation sqrt((2-δm0)(l-|m|)!/(l+|m|)!).
var sn3d = func() [MaxOrder + 1][MaxOrder + 1]float64 {
	var n [MaxOrder + 1][MaxOrder + 1]float64
	for l := 0; l <= MaxOrder; l++ {
		for m := 0; m <= l; m++ {
			ratio := 1.0
			for k := l - m + 1; k <= l+m; k++ {
				ratio /= float64(k)
			}
			if m > 0 {
				ratio *= 2
			}
			n[l][m] = math.Sqrt(ratio)
		}
	}
	return n
}()

// Encode writes the real ACN/SN3D spherical harmonics of unit direction
// dir into out, which must hold ChannelsForOrder(order) values. dir uses
// the ambisonic frame: +X front, +Y left, +Z up.
func Encode(order int, dir r3.Vec, out []float64) {
	n := r3.Norm(dir)
	if n == 0 {
		for i := range out[:ChannelsForOrder(order)] {
			out[i] = 0
		}
		out[0] = 1
		return
	}
	x, y, z := dir.X/n, dir.Y/n, dir.Z/n
	azimuth := math.Atan2(y, x)

	var p [MaxOrder + 1][MaxOrder + 1]float64
	legendre(order, z, &p)

	for l := 0; l <= order; l++ {
		out[ACN(l, 0)] = p[l][0]
		for m := 1; m <= l; m++ {
			fm := float64(m)
			v := sn3d[l][m] * p[l][m]
			out[ACN(l, m)] = v * math.Cos(fm*azimuth)
			out[ACN(l, -m)] = v * math.Sin(fm*azimuth)
		}
	}
}

// legendre fills p[l][m] with associated Legendre functions of x, without
// the Condon-Shortley phase.
func legendre(order int, x float64, p *[MaxOrder + 1][MaxOrder + 1]float64) {
	s := math.Sqrt(math.Max(0, 1-x*x))
	p[0][0] = 1
	for m := 1; m <= order; m++ {
		p[m][m] = p[m-1][m-1] * float64(2*m-1) * s
	}
	for m := 0; m < order; m++ {
		p[m+1][m] = x * float64(2*m+1) * p[m][m]
	}
	for m := 0; m <= order; m++ {
		for l := m + 2; l <= order; l++ {
			p[l][m] = (float64(2*l-1)*x*p[l-1][m] - float64(l+m-1)*p[l-2][m]) / float64(l-m)
		}
	}
}

// ListenerToAmbisonic maps a direction in the listener frame (forward -Z,
// up +Y, right +X) to the ambisonic frame.
func ListenerToAmbisonic(local r3.Vec) r3.Vec {
	return r3.Vec{X: -local.Z, Y: -local.X, Z: local.Y}
}

// Package geom holds the small amount of planar geometry shared by the SPM
// transform, the swarm layer and the optimizer.
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// NormalizeAngle wraps a into (-π, π].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// Clamp keeps v inside [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Finite reports whether every component of v is a finite number.
func Finite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// ToroidalDelta returns the shortest displacement from p to q in a world that
// wraps at width x height. A zero dimension disables wrapping on that axis.
func ToroidalDelta(p, q r2.Vec, width, height float64) r2.Vec {
	d := r2.Sub(q, p)
	if width > 0 && math.Abs(d.X) > width/2 {
		d.X -= math.Copysign(width, d.X)
	}
	if height > 0 && math.Abs(d.Y) > height/2 {
		d.Y -= math.Copysign(height, d.Y)
	}
	return d
}

// Wrap maps p back into [0, width) x [0, height). A zero dimension leaves
// that axis untouched.
func Wrap(p r2.Vec, width, height float64) r2.Vec {
	if width > 0 {
		p.X = math.Mod(p.X, width)
		if p.X < 0 {
			p.X += width
		}
	}
	if height > 0 {
		p.Y = math.Mod(p.Y, height)
		if p.Y < 0 {
			p.Y += height
		}
	}
	return p
}

// ToEgo rotates a world-frame vector into the frame of an agent facing
// heading (radians, counter-clockwise from +X). In the ego frame +X is
// straight ahead and +Y is to the left.
func ToEgo(v r2.Vec, heading float64) r2.Vec {
	return r2.Rotate(v, -heading, r2.Vec{})
}

// FromEgo is the inverse of ToEgo.
func FromEgo(v r2.Vec, heading float64) r2.Vec {
	return r2.Rotate(v, heading, r2.Vec{})
}

// Polar returns range and bearing of an ego-frame displacement.
func Polar(v r2.Vec) (rng, bearing float64) {
	return r2.Norm(v), math.Atan2(v.Y, v.X)
}

// RadialTangential projects a relative velocity onto the radial and
// tangential unit vectors at bearing. Negative radial velocity is closing.
func RadialTangential(vel r2.Vec, bearing float64) (radial, tangential float64) {
	er := r2.Vec{X: math.Cos(bearing), Y: math.Sin(bearing)}
	et := r2.Vec{X: -math.Sin(bearing), Y: math.Cos(bearing)}
	return r2.Dot(vel, er), r2.Dot(vel, et)
}

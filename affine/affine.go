// Package affine provides the 2D affine transform used to place each image of
// a stereo pair inside its half of the canvas.
package affine

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// Point is a 2D point in floating point coordinates.
type Point struct {
	X, Y float64
}

func (p Point) Sub(q Point) Point   { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Add(q Point) Point   { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Mul(k float64) Point { return Point{p.X * k, p.Y * k} }

// Len2 returns the squared length of p.
func (p Point) Len2() float64 { return p.X*p.X + p.Y*p.Y }

// Rect is an axis aligned rectangle, Min inclusive and Max exclusive.
type Rect struct {
	Min, Max Point
}

func (r Rect) Dx() float64 { return r.Max.X - r.Min.X }
func (r Rect) Dy() float64 { return r.Max.Y - r.Min.Y }

// Center returns the midpoint of r.
func (r Rect) Center() Point {
	return Point{(r.Min.X + r.Max.X) / 2, (r.Min.Y + r.Max.Y) / 2}
}

// Transform maps row vectors: [x', y'] = [x, y] * [[A, B], [C, D]] + [E, F].
//
// Transform is a value type; every operation returns a new instance.
type Transform struct {
	A, B, C, D, E, F float64
}

func Identity() Transform {
	return Transform{A: 1, D: 1}
}

func Translate(dx, dy float64) Transform {
	return Transform{A: 1, D: 1, E: dx, F: dy}
}

func Scale(sx, sy float64) Transform {
	return Transform{A: sx, D: sy}
}

// Rotate returns a rotation by theta radians. With y pointing down on screen
// a positive angle turns clockwise, so (1,0) maps to (0,1) for theta = pi/2.
func Rotate(theta float64) Transform {
	sin, cos := math.Sincos(theta)
	return Transform{A: cos, B: sin, C: -sin, D: cos}
}

// Matrix returns a pure linear map with the given 2x2 coefficients.
func Matrix(a, b, c, d float64) Transform {
	return Transform{A: a, B: b, C: c, D: d}
}

// Compose returns the transform that applies base first and delta second,
// the product base * delta in row vector form.
func Compose(base, delta Transform) Transform {
	return Transform{
		A: base.A*delta.A + base.B*delta.C,
		B: base.A*delta.B + base.B*delta.D,
		C: base.C*delta.A + base.D*delta.C,
		D: base.C*delta.B + base.D*delta.D,
		E: base.E*delta.A + base.F*delta.C + delta.E,
		F: base.E*delta.B + base.F*delta.D + delta.F,
	}
}

// Then is shorthand for Compose(t, next).
func (t Transform) Then(next Transform) Transform {
	return Compose(t, next)
}

// Apply maps p through t.
func (t Transform) Apply(p Point) Point {
	return Point{
		X: t.A*p.X + t.C*p.Y + t.E,
		Y: t.B*p.X + t.D*p.Y + t.F,
	}
}

// ApplyRect returns the bounding box of r's four mapped corners.
func (t Transform) ApplyRect(r Rect) Rect {
	corners := [4]Point{
		t.Apply(r.Min),
		t.Apply(Point{r.Max.X, r.Min.Y}),
		t.Apply(r.Max),
		t.Apply(Point{r.Min.X, r.Max.Y}),
	}
	out := Rect{Min: corners[0], Max: corners[0]}
	for _, c := range corners[1:] {
		out.Min.X = math.Min(out.Min.X, c.X)
		out.Min.Y = math.Min(out.Min.Y, c.Y)
		out.Max.X = math.Max(out.Max.X, c.X)
		out.Max.Y = math.Max(out.Max.Y, c.Y)
	}
	return out
}

func (t Transform) IsIdentity() bool {
	return t == Identity()
}

// IsFinite reports whether none of the coefficients is NaN or infinite.
func (t Transform) IsFinite() bool {
	for _, v := range t.Coefficients() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ApproxEqual compares coefficients within eps.
func (t Transform) ApproxEqual(u Transform, eps float64) bool {
	a, b := t.Coefficients(), u.Coefficients()
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

// Coefficients returns A..F in order.
func (t Transform) Coefficients() [6]float64 {
	return [6]float64{t.A, t.B, t.C, t.D, t.E, t.F}
}

// FromCoefficients is the inverse of Coefficients.
func FromCoefficients(c [6]float64) Transform {
	return Transform{A: c[0], B: c[1], C: c[2], D: c[3], E: c[4], F: c[5]}
}

// Aff3 converts t to the column vector layout used by golang.org/x/image/draw.
func (t Transform) Aff3() f64.Aff3 {
	return f64.Aff3{
		t.A, t.C, t.E,
		t.B, t.D, t.F,
	}
}

func (t Transform) String() string {
	return fmt.Sprintf("[%.6f %.6f; %.6f %.6f | %.6f %.6f]", t.A, t.B, t.C, t.D, t.E, t.F)
}

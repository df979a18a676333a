package gesture

import (
	"math"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/pair"
)

// Delta computes the transform for one drag step. Start and current are in
// view pixels, pivot is the centre of the grabbed image rectangle and
// refWidth its width. Degenerate geometry yields identity.
func Delta(mode pair.Mode, pivot, start, current affine.Point, refWidth float64) affine.Transform {
	var t affine.Transform
	switch mode {
	case pair.ModeScale:
		t = scaleDelta(start.Sub(pivot), current.Sub(pivot))
	case pair.ModeMove:
		t = moveDelta(start, current, refWidth)
	case pair.ModeRotate:
		t = rotateDelta(start.Sub(pivot), current.Sub(pivot))
	case pair.ModeRotateScale:
		t = rotateScaleDelta(start.Sub(pivot), current.Sub(pivot))
	default:
		return affine.Identity()
	}
	if !t.IsFinite() {
		return affine.Identity()
	}
	return t
}

func scaleDelta(p1, p2 affine.Point) affine.Transform {
	l1 := p1.Len2()
	if l1 == 0 {
		return affine.Identity()
	}
	s := math.Sqrt(p2.Len2() / l1)
	return affine.Scale(s, s)
}

// moveDelta expresses the drag in units of the image rectangle width so the
// stored offset does not depend on the view size.
func moveDelta(start, current affine.Point, refWidth float64) affine.Transform {
	if refWidth == 0 {
		return affine.Identity()
	}
	d := current.Sub(start).Mul(1 / refWidth)
	return affine.Translate(d.X, d.Y)
}

func rotateDelta(p1, p2 affine.Point) affine.Transform {
	if p1.Len2() == 0 || p2.Len2() == 0 {
		return affine.Identity()
	}
	angle := math.Atan2(p1.X, p1.Y) - math.Atan2(p2.X, p2.Y)
	return affine.Rotate(angle)
}

// rotateScaleDelta solves a single rotation plus uniform scale from one pair
// of pivot relative vectors.
func rotateScaleDelta(p1, p2 affine.Point) affine.Transform {
	l1 := p1.Len2()
	if l1 == 0 || p1.Y == 0 {
		return affine.Identity()
	}
	s := (p1.Y*p2.X - p1.X*p2.Y) / l1
	c := (p2.Y + p1.X*s) / p1.Y
	return affine.Matrix(c, -s, s, c)
}

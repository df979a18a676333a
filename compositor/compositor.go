// Package compositor draws the slots of a pair into images: the interactive
// views, the side-by-side composite and the gray rasters the depth worker
// matches.
package compositor

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/pair"
)

// Quality picks the interpolator and which pixels of a slot to sample.
type Quality struct {
	Interp     xdraw.Interpolator
	UsePreview bool
}

var (
	// Preview is used for interactive views and the depth worker.
	Preview = Quality{Interp: xdraw.ApproxBiLinear, UsePreview: true}
	// Final is used when writing the output file.
	Final = Quality{Interp: xdraw.CatmullRom}
)

// SlotTransform returns the source-to-destination mapping used to draw an
// image of size src into rect: the image centre lands on the rect centre,
// image coordinates are normalised so the image is one unit wide, t is
// applied and the result is scaled to the rect width.
func SlotTransform(src image.Rectangle, rect image.Rectangle, t affine.Transform) affine.Transform {
	iw := float64(src.Dx())
	ih := float64(src.Dy())
	rw := float64(rect.Dx())
	cx := float64(rect.Min.X) + float64(rect.Dx())/2
	cy := float64(rect.Min.Y) + float64(rect.Dy())/2

	return affine.Translate(-float64(src.Min.X)-iw/2, -float64(src.Min.Y)-ih/2).
		Then(affine.Scale(1/iw, 1/iw)).
		Then(t).
		Then(affine.Scale(rw, rw)).
		Then(affine.Translate(cx, cy))
}

// RenderSlot draws slot into rect of dst using the slot's transform. Nothing
// outside rect is touched. An empty slot draws nothing.
func RenderSlot(dst draw.Image, rect image.Rectangle, slot pair.SlotSnapshot, q Quality) {
	src := slot.Pixels
	if q.UsePreview && slot.Preview != nil {
		src = slot.Preview
	}
	if src == nil || rect.Empty() {
		return
	}
	sb := src.Bounds()
	if sb.Empty() {
		return
	}
	interp := q.Interp
	if interp == nil {
		interp = xdraw.ApproxBiLinear
	}
	s2d := SlotTransform(sb, rect, slot.Transform)
	if !s2d.IsFinite() {
		return
	}
	interp.Transform(clip(dst, rect), s2d.Aff3(), src, sb, xdraw.Over, nil)
}

// RenderComposite splits rect into a left half [0,w/2) and a right half
// [w/2,w) and draws each side into its half.
func RenderComposite(dst draw.Image, rect image.Rectangle, snap pair.Snapshot, q Quality) {
	left, right := Halves(rect)
	RenderSlot(dst, left, snap.Left, q)
	RenderSlot(dst, right, snap.Right, q)
}

// Halves splits rect at its horizontal midpoint.
func Halves(rect image.Rectangle) (left, right image.Rectangle) {
	mid := rect.Min.X + rect.Dx()/2
	left = image.Rect(rect.Min.X, rect.Min.Y, mid, rect.Max.Y)
	right = image.Rect(mid, rect.Min.Y, rect.Max.X, rect.Max.Y)
	return left, right
}

// NewCanvas returns an opaque black RGBA image of the given size.
func NewCanvas(size image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return img
}

// Composite renders the whole pair into a new canvas of the given size.
func Composite(snap pair.Snapshot, size image.Point, q Quality) *image.RGBA {
	canvas := NewCanvas(size)
	RenderComposite(canvas, canvas.Bounds(), snap, q)
	return canvas
}

// RenderGray rasterises one slot at w x h into a gray buffer. The gray
// buffer is what the depth matcher consumes.
func RenderGray(slot pair.SlotSnapshot, w, h int, q Quality) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	RenderSlot(g, g.Bounds(), slot, q)
	return g
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// clip restricts drawing to r.
func clip(dst draw.Image, r image.Rectangle) draw.Image {
	r = r.Intersect(dst.Bounds())
	if s, ok := dst.(subImager); ok {
		if d, ok := s.SubImage(r).(draw.Image); ok {
			return d
		}
	}
	return clipped{Image: dst, r: r}
}

type clipped struct {
	draw.Image
	r image.Rectangle
}

func (c clipped) Bounds() image.Rectangle { return c.r }

func (c clipped) Set(x, y int, col color.Color) {
	if image.Pt(x, y).In(c.r) {
		c.Image.Set(x, y, col)
	}
}

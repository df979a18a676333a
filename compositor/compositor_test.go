package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/pair"
)

var red = color.RGBA{255, 0, 0, 255}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func slotOf(img image.Image, t affine.Transform) pair.SlotSnapshot {
	return pair.SlotSnapshot{Source: "x.png", Pixels: img, Preview: img, Transform: t}
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 200 && g>>8 < 50 && b>>8 < 50
}

func isBlack(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 < 30 && g>>8 < 30 && b>>8 < 30
}

func TestSlotTransformCentresImage(t *testing.T) {
	src := image.Rect(0, 0, 400, 200)
	rect := image.Rect(100, 0, 200, 100)
	m := SlotTransform(src, rect, affine.Identity())

	centre := m.Apply(affine.Point{X: 200, Y: 100})
	if math.Abs(centre.X-150) > 1e-9 || math.Abs(centre.Y-50) > 1e-9 {
		t.Errorf("image centre maps to %v; want (150,50)", centre)
	}
	corner := m.Apply(affine.Point{X: 0, Y: 0})
	if math.Abs(corner.X-100) > 1e-9 || math.Abs(corner.Y-25) > 1e-9 {
		t.Errorf("image corner maps to %v; want (100,25)", corner)
	}
}

func TestSlotTransformMoveIsRectWidths(t *testing.T) {
	src := image.Rect(0, 0, 640, 480)
	rect := image.Rect(0, 0, 300, 300)
	m := SlotTransform(src, rect, affine.Translate(1, 0))
	centre := m.Apply(affine.Point{X: 320, Y: 240})
	if math.Abs(centre.X-450) > 1e-9 {
		t.Errorf("translated centre x = %f; want 450", centre.X)
	}
}

func TestRenderSlotIdentity(t *testing.T) {
	canvas := NewCanvas(image.Pt(100, 100))
	RenderSlot(canvas, canvas.Bounds(), slotOf(solid(100, 50, red), affine.Identity()), Final)

	if !isRed(canvas.At(50, 50)) {
		t.Errorf("centre pixel = %v; want red", canvas.At(50, 50))
	}
	if !isBlack(canvas.At(50, 10)) {
		t.Errorf("pixel above the image = %v; want black", canvas.At(50, 10))
	}
}

func TestRenderSlotRotated(t *testing.T) {
	canvas := NewCanvas(image.Pt(100, 100))
	RenderSlot(canvas, canvas.Bounds(), slotOf(solid(100, 50, red), affine.Rotate(math.Pi/2)), Final)

	if !isRed(canvas.At(50, 10)) {
		t.Errorf("pixel (50,10) = %v; want red after quarter turn", canvas.At(50, 10))
	}
	if !isBlack(canvas.At(10, 50)) {
		t.Errorf("pixel (10,50) = %v; want black after quarter turn", canvas.At(10, 50))
	}
}

func TestRenderSlotClipsToRect(t *testing.T) {
	canvas := NewCanvas(image.Pt(200, 100))
	left, _ := Halves(canvas.Bounds())
	// Enlarged and moved right: would spill into the right half if unclipped.
	tr := affine.Scale(3, 3).Then(affine.Translate(0.5, 0))
	RenderSlot(canvas, left, slotOf(solid(100, 100, red), tr), Preview)

	if !isRed(canvas.At(90, 50)) {
		t.Errorf("left half pixel = %v; want red", canvas.At(90, 50))
	}
	for _, x := range []int{100, 150, 199} {
		if !isBlack(canvas.At(x, 50)) {
			t.Errorf("right half pixel x=%d = %v; want untouched black", x, canvas.At(x, 50))
		}
	}
}

func TestRenderSlotEmpty(t *testing.T) {
	canvas := NewCanvas(image.Pt(10, 10))
	RenderSlot(canvas, canvas.Bounds(), pair.SlotSnapshot{}, Final)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if !isBlack(canvas.At(x, y)) {
				t.Fatalf("empty slot drew at (%d,%d)", x, y)
			}
		}
	}
}

func TestRenderComposite(t *testing.T) {
	blue := color.RGBA{0, 0, 255, 255}
	snap := pair.Snapshot{
		Left:  slotOf(solid(100, 100, red), affine.Identity()),
		Right: slotOf(solid(100, 100, blue), affine.Identity()),
	}
	img := Composite(snap, image.Pt(200, 100), Final)

	if !isRed(img.At(50, 50)) {
		t.Errorf("left centre = %v; want red", img.At(50, 50))
	}
	r, g, b, _ := img.At(150, 50).RGBA()
	if b>>8 < 200 || r>>8 > 50 || g>>8 > 50 {
		t.Errorf("right centre = %v; want blue", img.At(150, 50))
	}
}

func TestHalves(t *testing.T) {
	l, r := Halves(image.Rect(0, 0, 201, 10))
	if l != image.Rect(0, 0, 100, 10) || r != image.Rect(100, 0, 201, 10) {
		t.Errorf("Halves = %v, %v", l, r)
	}
}

// TestRenderClippedFallback covers destinations without SubImage
func TestRenderClippedFallback(t *testing.T) {
	base := NewCanvas(image.Pt(200, 100))
	dst := clipped{Image: base, r: base.Bounds()}
	left, _ := Halves(base.Bounds())
	RenderSlot(dst, left, slotOf(solid(100, 100, red), affine.Scale(3, 3)), Preview)

	if !isRed(base.At(50, 50)) {
		t.Errorf("left pixel = %v; want red", base.At(50, 50))
	}
	if !isBlack(base.At(150, 50)) {
		t.Errorf("right pixel = %v; want black", base.At(150, 50))
	}
}

func TestRenderGray(t *testing.T) {
	g := RenderGray(slotOf(solid(64, 64, color.White), affine.Identity()), 32, 32, Preview)
	if g.Bounds().Dx() != 32 || g.GrayAt(16, 16).Y < 200 {
		t.Errorf("gray render centre = %v; want white", g.GrayAt(16, 16))
	}
}

func TestRenderViewHasGuides(t *testing.T) {
	v := RenderView(pair.SlotSnapshot{}, image.Pt(90, 90), Preview)
	if v.Bounds().Dx() != 90 {
		t.Fatalf("view size = %v", v.Bounds())
	}
	if got := ViewSize(pair.DefaultAspect, 50); got != image.Pt(400, 450) {
		t.Errorf("ViewSize = %v; want 400x450", got)
	}
}

func TestEncodeAndSaveJPEG(t *testing.T) {
	img := solid(16, 16, red)
	data, err := JPEGBytes(img, 0)
	if err != nil {
		t.Fatalf("JPEGBytes: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("decode: %v", err)
	}

	path := filepath.Join(t.TempDir(), "a-b.jpg")
	if err := SaveJPEG(path, img, 80); err != nil {
		t.Fatalf("SaveJPEG: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the output file, found %d entries", len(entries))
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil || buf.Len() == 0 {
		t.Errorf("EncodePNG: %v", err)
	}
}

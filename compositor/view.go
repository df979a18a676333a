package compositor

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/stevecastle/stereopair/pair"
)

var guideColor = color.NRGBA{R: 255, G: 255, B: 255, A: 150}

// ViewSize is the size of one interactive view: half the canvas width at the
// given scale.
func ViewSize(a pair.Aspect, scale int) image.Point {
	return image.Pt(a.W*scale/2, a.H*scale)
}

// RenderView draws one side the way the editor shows it: a hatched
// background, the transformed image and the alignment guides on top.
func RenderView(slot pair.SlotSnapshot, size image.Point, q Quality) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	FillHatch(img, img.Bounds())
	RenderSlot(img, img.Bounds(), slot, q)
	DrawGuides(img, img.Bounds())
	return img
}

// FillHatch paints rect white with a black diagonal cross pattern so empty
// areas are easy to tell apart from black image content.
func FillHatch(dst draw.Image, rect image.Rectangle) {
	draw.Draw(dst, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
	const period = 8
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dx, dy := x-rect.Min.X, y-rect.Min.Y
			if (dx+dy)%period == 0 || (dx-dy+period*rect.Dy())%period == 0 {
				dst.Set(x, y, color.Black)
			}
		}
	}
}

// DrawGuides draws lines at thirds and halves in both directions.
func DrawGuides(dst draw.Image, rect image.Rectangle) {
	w, h := rect.Dx(), rect.Dy()
	src := image.NewUniform(guideColor)
	for _, x := range []int{w / 3, w / 2, w * 2 / 3} {
		line := image.Rect(rect.Min.X+x, rect.Min.Y, rect.Min.X+x+1, rect.Max.Y)
		draw.Draw(dst, line, src, image.Point{}, draw.Over)
	}
	for _, y := range []int{h / 3, h / 2, h * 2 / 3} {
		line := image.Rect(rect.Min.X, rect.Min.Y+y, rect.Max.X, rect.Min.Y+y+1)
		draw.Draw(dst, line, src, image.Point{}, draw.Over)
	}
}

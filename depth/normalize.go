package depth

import (
	"fmt"
	"image"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultDivisor maps the default 32 pixel search range onto 0..255.
const DefaultDivisor = 2

// Normalize converts matcher output to an 8-bit image: each value is divided
// by divisor and clamped to 0..255. Invalid (negative) disparities become 0.
func Normalize(disp []int16, w, h, divisor int) (*image.Gray, error) {
	if len(disp) != w*h {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrSizeMismatch, len(disp), w, h)
	}
	if divisor <= 0 {
		divisor = DefaultDivisor
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, d := range disp {
		v := int(d) / divisor
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		img.Pix[i] = uint8(v)
	}
	return img, nil
}

// Stats summarise a depth image over its non-zero pixels.
type Stats struct {
	Coverage float64 `json:"coverage"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stdDev"`
	Median   float64 `json:"median"`
}

// ComputeStats returns Stats for img. Coverage is the fraction of non-zero
// pixels; the other fields are zero when there are none.
func ComputeStats(img *image.Gray) Stats {
	if img == nil {
		return Stats{}
	}
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return Stats{}
	}
	vals := make([]float64, 0, total)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if v := img.GrayAt(x, y).Y; v > 0 {
				vals = append(vals, float64(v))
			}
		}
	}
	s := Stats{Coverage: float64(len(vals)) / float64(total)}
	if len(vals) == 0 {
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	if len(vals) == 1 {
		s.StdDev = 0
	}
	sort.Float64s(vals)
	s.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)
	return s
}

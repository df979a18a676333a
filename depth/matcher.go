package depth

import (
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"
)

// DisparityScale is the fixed point factor of matcher output: a disparity of
// one pixel is reported as 16.
const DisparityScale = 16

// InvalidDisparity marks pixels where no match could be evaluated.
const InvalidDisparity int16 = -DisparityScale

var (
	ErrSizeMismatch  = errors.New("left and right images differ in size")
	ErrInvalidParams = errors.New("invalid matcher parameters")
)

// MaxNumDisparities is the widest search range whose fixed point output fits
// in an int16.
const MaxNumDisparities = math.MaxInt16 / DisparityScale / 16 * 16

// Params configure a block matcher.
type Params struct {
	// NumDisparities is the search range in pixels; a positive multiple of 16.
	NumDisparities int `json:"numDisparities"`
	// BlockSize is the odd side length of the matching window.
	BlockSize int `json:"blockSize"`
	// Workers bounds the goroutines used per match; 0 means GOMAXPROCS.
	Workers int `json:"workers"`
}

// DefaultParams suits the default working resolution.
func DefaultParams() Params {
	return Params{NumDisparities: 32, BlockSize: 9}
}

func (p Params) validate() error {
	if p.NumDisparities <= 0 || p.NumDisparities%16 != 0 {
		return fmt.Errorf("%w: numDisparities %d must be a positive multiple of 16", ErrInvalidParams, p.NumDisparities)
	}
	if p.NumDisparities > MaxNumDisparities {
		return fmt.Errorf("%w: numDisparities %d exceeds %d", ErrInvalidParams, p.NumDisparities, MaxNumDisparities)
	}
	if p.BlockSize < 1 || p.BlockSize%2 == 0 {
		return fmt.Errorf("%w: blockSize %d must be odd", ErrInvalidParams, p.BlockSize)
	}
	return nil
}

// Matcher computes a disparity map from a rectified gray stereo pair. The
// result has one value per pixel of left, row major, in 1/16 pixel units.
// Implementations may be slow; they are called from the depth worker only.
type Matcher interface {
	Match(left, right *image.Gray, p Params) ([]int16, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(left, right *image.Gray, p Params) ([]int16, error)

func (f MatcherFunc) Match(left, right *image.Gray, p Params) ([]int16, error) {
	return f(left, right, p)
}

// BlockMatcher finds, for every left pixel, the horizontal shift into the
// right image with the smallest sum of absolute differences over a square
// window.
type BlockMatcher struct{}

func (BlockMatcher) Match(left, right *image.Gray, p Params) ([]int16, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("%w: nil image", ErrSizeMismatch)
	}
	if left.Bounds().Size() != right.Bounds().Size() {
		return nil, fmt.Errorf("%w: %v vs %v", ErrSizeMismatch, left.Bounds().Size(), right.Bounds().Size())
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	w, h := left.Bounds().Dx(), left.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrSizeMismatch)
	}

	l := grayRows(left)
	r := grayRows(right)
	out := make([]int16, w*h)
	half := p.BlockSize / 2

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var wg sync.WaitGroup
	for _, rr := range splitRows(h, workers) {
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			for y := y0; y < y1; y++ {
				for x := 0; x < w; x++ {
					out[y*w+x] = matchPixel(l, r, w, h, x, y, half, p.NumDisparities)
				}
			}
		}(rr[0], rr[1])
	}
	wg.Wait()
	return out, nil
}

func matchPixel(l, r []uint8, w, h, x, y, half, numDisp int) int16 {
	best := -1
	bestCost := math.MaxInt
	for d := 0; d < numDisp; d++ {
		if x-d-half < 0 {
			break
		}
		if x+half >= w {
			break
		}
		cost := 0
		for dy := -half; dy <= half; dy++ {
			yy := y + dy
			if yy < 0 {
				yy = 0
			} else if yy >= h {
				yy = h - 1
			}
			row := yy * w
			for dx := -half; dx <= half; dx++ {
				a := int(l[row+x+dx])
				b := int(r[row+x+dx-d])
				if a > b {
					cost += a - b
				} else {
					cost += b - a
				}
			}
		}
		if cost < bestCost {
			bestCost = cost
			best = d
		}
	}
	if best < 0 {
		return InvalidDisparity
	}
	return int16(best * DisparityScale)
}

// grayRows returns the pixels of g as a tightly packed row major slice.
func grayRows(g *image.Gray) []uint8 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if g.Stride == w && b.Min == (image.Point{}) {
		return g.Pix[:w*h]
	}
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		off := g.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*w:(y+1)*w], g.Pix[off:off+w])
	}
	return out
}

func splitRows(h, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	if workers > h {
		workers = h
	}
	rows := make([][2]int, 0, workers)
	step := h / workers
	start := 0
	for i := 0; i < workers; i++ {
		end := start + step
		if i == workers-1 {
			end = h
		}
		rows = append(rows, [2]int{start, end})
		start = end
	}
	return rows
}

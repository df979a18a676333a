package pair

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/gift"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadImage reads and decodes the image at path, applying any EXIF
// orientation so the result is upright.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeImage(data)
}

// DecodeImage decodes an encoded image and applies its EXIF orientation.
func DecodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if format != "jpeg" && format != "tiff" {
		return img, nil
	}
	return Orient(img, readOrientation(data)), nil
}

// readOrientation returns the EXIF orientation tag, or 1 when there is none.
func readOrientation(data []byte) int {
	ex, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := ex.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// Orient rotates and mirrors img according to an EXIF orientation value.
func Orient(img image.Image, orientation int) image.Image {
	var f gift.Filter
	switch orientation {
	case 2:
		f = gift.FlipHorizontal()
	case 3:
		f = gift.Rotate180()
	case 4:
		f = gift.FlipVertical()
	case 5:
		f = gift.Transpose()
	case 6:
		f = gift.Rotate270()
	case 7:
		f = gift.Transverse()
	case 8:
		f = gift.Rotate90()
	default:
		return img
	}
	return applyFilter(img, f)
}

func applyFilter(img image.Image, f gift.Filter) image.Image {
	g := gift.New(f)
	dst := image.NewRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

package main

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
	"runtime"

	"github.com/stevecastle/stereopair/compositor"
)

const iconSize = 32

// iconPNG draws the tray icon: two overlapping frames, one per eye.
func iconPNG() ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	left := color.NRGBA{R: 220, G: 60, B: 60, A: 255}
	right := color.NRGBA{R: 40, G: 170, B: 220, A: 200}
	frame(img, image.Rect(2, 8, 22, 26), left)
	frame(img, image.Rect(10, 6, 30, 24), right)

	var buf bytes.Buffer
	if err := compositor.EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func frame(dst draw.Image, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	const t = 3
	for _, edge := range []image.Rectangle{
		{Min: r.Min, Max: image.Pt(r.Max.X, r.Min.Y+t)},
		{Min: image.Pt(r.Min.X, r.Max.Y-t), Max: r.Max},
		{Min: r.Min, Max: image.Pt(r.Min.X+t, r.Max.Y)},
		{Min: image.Pt(r.Max.X-t, r.Min.Y), Max: r.Max},
	} {
		draw.Draw(dst, edge, src, image.Point{}, draw.Over)
	}
}

// wrapICO returns an .ico container holding one PNG image.
func wrapICO(png []byte, size int) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&buf, le, [3]uint16{0, 1, 1})
	dim := uint8(size)
	if size >= 256 {
		dim = 0
	}
	buf.Write([]byte{dim, dim, 0, 0})
	binary.Write(&buf, le, [2]uint16{1, 32})
	binary.Write(&buf, le, [2]uint32{uint32(len(png)), 6 + 16})
	buf.Write(png)
	return buf.Bytes()
}

// trayIcon returns the icon bytes in the format the host tray expects.
func trayIcon() ([]byte, error) {
	data, err := iconPNG()
	if err != nil {
		return nil, err
	}
	if runtime.GOOS == "windows" {
		return wrapICO(data, iconSize), nil
	}
	return data, nil
}

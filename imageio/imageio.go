// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package imageio converts a render.Framebuffer's linear-light pixels
// into an 8-bit sRGB PNG, the path tracer's only persisted output.
package imageio

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/gviegas/pathtrace/render"
	"github.com/gviegas/pathtrace/texture"
)

const prefix = "imageio: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// ErrWrite means the PNG could not be encoded or written to disk.
var ErrWrite = newErr("could not write output image")

// ToImage tone-maps fb (linear -> sRGB) and clamps to 8 bits, returning
// a standard row-major top-down image.RGBA.
func ToImage(fb *render.Framebuffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, fb.Width, fb.Height))
	for y := 0; y < fb.Height; y++ {
		for x := 0; x < fb.Width; x++ {
			c := fb.Pix[y*fb.Width+x]
			r := to8(texture.LinearToSRGB(c[0]))
			g := to8(texture.LinearToSRGB(c[1]))
			b := to8(texture.LinearToSRGB(c[2]))
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

func to8(c float32) uint8 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 255
	}
	return uint8(c*255 + 0.5)
}

// Write tone-maps fb and encodes it as a PNG to path.
func Write(path string, fb *render.Framebuffer) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(ErrWrite, err.Error())
	}
	defer f.Close()
	return Encode(f, fb)
}

// Encode tone-maps fb and writes a PNG to w.
func Encode(w io.Writer, fb *render.Framebuffer) error {
	if err := png.Encode(w, ToImage(fb)); err != nil {
		return errors.Wrap(ErrWrite, err.Error())
	}
	return nil
}

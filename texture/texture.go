// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package texture implements the 2-D image sampler used by the path
// tracer's shading stage: bilinear filtering, clamp/repeat wrap, and the
// sRGB/normal-map unpacking that happens once at load time.
package texture

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

const prefix = "texture: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// ErrDecode means that an image file could not be decoded.
// Per the error-handling design, a failure here degrades the owning
// material to its factor-only path rather than aborting the scene load.
var ErrDecode = newErr("could not decode image")

// Wrap is a texture's addressing mode.
type Wrap int

// Wrap modes.
const (
	Clamp Wrap = iota
	Repeat
)

// Kind distinguishes how raw pixel data was (or wasn't) converted at
// load time.
type Kind int

// Texture kinds.
const (
	// Color textures are converted sRGB -> linear at load.
	Color Kind = iota
	// Normal textures are remapped [0,255] -> [-1,+1] at load.
	Normal
	// Data textures (e.g. metallic-roughness, occlusion) are left
	// as-is: already-linear scalar channels.
	Data
)

// Texture is a tightly packed, row-major image of 32-bit float channels.
// Sampling is read-only and safe for concurrent use by many goroutines,
// since a Texture is never mutated after Load/New returns.
type Texture struct {
	Width, Height int
	Channels      int // 3 (vec3) or 4 (vec4)
	Wrap          Wrap
	Pix           []float32 // len == Width*Height*Channels
}

// New creates a Texture backed by a fresh zeroed pixel buffer.
func New(width, height, channels int, wrap Wrap) *Texture {
	return &Texture{
		Width:    width,
		Height:   height,
		Channels: channels,
		Wrap:     wrap,
		Pix:      make([]float32, width*height*channels),
	}
}

// Load decodes an image file (PNG/JPEG via the stdlib image registry)
// and converts it according to kind. wrap sets the texture's addressing
// mode.
func Load(path string, kind Kind, wrap Wrap) (*Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "texture: open %q", path)
	}
	defer f.Close()
	return Decode(f, kind, wrap)
}

// Decode reads an encoded image from r and converts it according to
// kind, exactly as Load does.
func Decode(r io.Reader, kind Kind, wrap Wrap) (*Texture, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	channels := 4
	t := New(w, h, channels, wrap)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r32, g32, b32, a32 := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// image.Color.RGBA returns values in [0,65535],
			// alpha-premultiplied; textures are stored
			// straight so undo premultiplication.
			rf, gf, bf, af := un16(r32), un16(g32), un16(b32), un16(a32)
			if af > 0 && af < 1 {
				rf, gf, bf = rf/af, gf/af, bf/af
			}
			switch kind {
			case Color:
				rf, gf, bf = sRGBToLinear(rf), sRGBToLinear(gf), sRGBToLinear(bf)
			case Normal:
				rf, gf, bf = 2*rf-1, 2*gf-1, 2*bf-1
			case Data:
				// left as-is
			}
			i := (y*w + x) * channels
			t.Pix[i+0] = rf
			t.Pix[i+1] = gf
			t.Pix[i+2] = bf
			t.Pix[i+3] = af
		}
	}
	return t, nil
}

func un16(c uint32) float32 { return float32(c) / 65535 }

// wrapCoord maps a texture coordinate into [0,1) for Repeat (fractional
// part) or [0,1] for Clamp (saturated), according to w.
func wrapCoord(w Wrap, v float32) float32 {
	switch w {
	case Repeat:
		f := v - float32(math.Floor(float64(v)))
		return f
	default: // Clamp
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
}

// Sample performs bilinear-filtered sampling at uv, applying the
// texture's wrap mode first. The result has t.Channels valid components;
// callers that need a vec3 or vec4 should know the texture's Channels.
func (t *Texture) Sample(u, v float32) (r, g, b, a float32) {
	u = wrapCoord(t.Wrap, u)
	v = wrapCoord(t.Wrap, v)

	fx := u*float32(t.Width) - 0.5
	fy := v*float32(t.Height) - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	tx := fx - float32(x0)
	ty := fy - float32(y0)

	x0 = clampIdx(x0, t.Width)
	y0 = clampIdx(y0, t.Height)
	x1 := clampIdx(x0+1, t.Width)
	y1 := clampIdx(y0+1, t.Height)

	c00 := t.at(x0, y0)
	c10 := t.at(x1, y0)
	c01 := t.at(x0, y1)
	c11 := t.at(x1, y1)

	var out [4]float32
	for i := 0; i < t.Channels; i++ {
		top := c00[i] + (c10[i]-c00[i])*tx
		bot := c01[i] + (c11[i]-c01[i])*tx
		out[i] = top + (bot-top)*ty
	}
	return out[0], out[1], out[2], out[3]
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func (t *Texture) at(x, y int) (c [4]float32) {
	i := (y*t.Width + x) * t.Channels
	for k := 0; k < t.Channels; k++ {
		c[k] = t.Pix[i+k]
	}
	return
}

// sRGBToLinear converts a single sRGB-encoded channel value in [0,1] to
// linear light.
func sRGBToLinear(c float32) float32 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return float32(math.Pow(float64((c+0.055)/1.055), 2.4))
}

// LinearToSRGB converts a single linear-light channel value in [0,1] to
// the sRGB encoding.
func LinearToSRGB(c float32) float32 {
	if c <= 0.0031308 {
		return 12.92 * c
	}
	return float32(1.055*math.Pow(float64(c), 1/2.4) - 0.055)
}

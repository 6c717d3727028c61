package imaging

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Defaults used when an operation is requested without an argument.
const (
	DefaultBlurSigma      = 1.0
	DefaultSharpenSigma   = 1.0
	DefaultMedianSize     = 3
	DefaultGamma          = 2.2
	DefaultThresholdLevel = 128
)

// ParseColor parses a hex color with or without a leading '#', in the short
// (rgb) or long (rrggbb) form.
func ParseColor(s string) (color.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 3 && len(s) != 6 {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	c, err := colorful.Hex("#" + strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// Rotate turns the image clockwise by angle degrees. Uncovered corners are
// filled with bg, or transparent when bg is nil.
func (p *Pipeline) Rotate(angle float64, bg color.Color) {
	if bg == nil {
		bg = color.Transparent
	}
	p.each(func(img image.Image) image.Image {
		return imaging.Rotate(img, -angle, bg)
	})
}

// Flip mirrors the image vertically.
func (p *Pipeline) Flip() {
	p.each(func(img image.Image) image.Image { return imaging.FlipV(img) })
}

// Flop mirrors the image horizontally.
func (p *Pipeline) Flop() {
	p.each(func(img image.Image) image.Image { return imaging.FlipH(img) })
}

// Blur applies a gaussian blur.
func (p *Pipeline) Blur(sigma float64) {
	if sigma <= 0 {
		sigma = DefaultBlurSigma
	}
	p.each(func(img image.Image) image.Image { return imaging.Blur(img, sigma) })
}

// Sharpen applies an unsharp mask.
func (p *Pipeline) Sharpen(sigma float64) {
	if sigma <= 0 {
		sigma = DefaultSharpenSigma
	}
	p.each(func(img image.Image) image.Image { return imaging.Sharpen(img, sigma) })
}

// Median applies a median filter over a size x size window.
func (p *Pipeline) Median(size int) {
	if size <= 0 {
		size = DefaultMedianSize
	}
	radius := float64(size) / 2
	p.each(func(img image.Image) image.Image { return effect.Median(img, radius) })
}

// Gamma applies gamma correction.
func (p *Pipeline) Gamma(gamma float64) {
	if gamma <= 0 {
		gamma = DefaultGamma
	}
	p.each(func(img image.Image) image.Image { return adjust.Gamma(img, gamma) })
}

// Negate inverts the color channels.
func (p *Pipeline) Negate() {
	p.each(func(img image.Image) image.Image { return effect.Invert(img) })
}

// Grayscale drops the color information.
func (p *Pipeline) Grayscale() {
	p.each(func(img image.Image) image.Image { return imaging.Grayscale(img) })
}

// Threshold maps pixels with luminance at or above level to white and the rest
// to black. A level outside 1..255 uses DefaultThresholdLevel.
func (p *Pipeline) Threshold(level int) {
	if level <= 0 || level > 255 {
		level = DefaultThresholdLevel
	}
	p.each(func(img image.Image) image.Image { return segment.Threshold(img, uint8(level)) })
}

// Normalize stretches the luminance range of the image to span 0..255.
func (p *Pipeline) Normalize() {
	p.each(func(img image.Image) image.Image {
		lo, hi := lumaRange(img)
		if hi <= lo {
			return img
		}
		scale := 255 / float64(hi-lo)
		stretch := func(v uint8) uint8 {
			f := (float64(v) - float64(lo)) * scale
			switch {
			case f < 0:
				return 0
			case f > 255:
				return 255
			}
			return uint8(f + 0.5)
		}
		return adjust.Apply(img, func(c color.RGBA) color.RGBA {
			return color.RGBA{R: stretch(c.R), G: stretch(c.G), B: stretch(c.B), A: c.A}
		})
	})
}

func lumaRange(img image.Image) (uint8, uint8) {
	b := img.Bounds()
	lo, hi := uint8(255), uint8(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			if g < lo {
				lo = g
			}
			if g > hi {
				hi = g
			}
		}
	}
	return lo, hi
}

// Modulate scales brightness and saturation by the given multipliers and
// rotates the hue by hue degrees.
func (p *Pipeline) Modulate(brightness, saturation float64, hue int) {
	p.each(func(img image.Image) image.Image {
		out := img
		if brightness != 1 {
			out = adjust.Brightness(out, brightness-1)
		}
		if saturation != 1 {
			out = adjust.Saturation(out, saturation-1)
		}
		if hue%360 != 0 {
			out = adjust.Hue(out, hue)
		}
		return out
	})
}

// Tint keeps the lightness of every pixel and replaces its chroma with the
// chroma of tint, working in CIE L*a*b*.
func (p *Pipeline) Tint(tint color.Color) {
	tc, _ := colorful.MakeColor(opaque(tint))
	_, ta, tb := tc.Lab()

	p.each(func(img image.Image) image.Image {
		return adjust.Apply(img, func(c color.RGBA) color.RGBA {
			if c.A == 0 {
				return c
			}
			pc, _ := colorful.MakeColor(color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
			l, _, _ := pc.Lab()
			r, g, b := colorful.Lab(l, ta, tb).Clamped().RGB255()
			return color.RGBA{R: r, G: g, B: b, A: c.A}
		})
	})
}

// Flatten composites the image over bg, removing the alpha channel. A nil bg
// flattens onto black.
func (p *Pipeline) Flatten(bg color.Color) {
	if bg == nil {
		bg = color.Black
	}
	bg = opaque(bg)
	p.each(func(img image.Image) image.Image {
		b := img.Bounds()
		canvas := imaging.New(b.Dx(), b.Dy(), bg)
		return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
	})
}

func opaque(c color.Color) color.Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = 0xff
	return n
}

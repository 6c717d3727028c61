package transform

import (
	"image/color"

	"github.com/pornlink/ipx-super/internal/imaging"
)

// Pipeline is the set of operations steps can apply to a decoded image.
// *imaging.Pipeline implements it.
type Pipeline interface {
	Resize(width, height int, opts imaging.ResizeOptions) error
	Extract(left, top, width, height int) error
	Trim(threshold int) error
	Extend(top, right, bottom, left int, bg color.Color) error

	Rotate(angle float64, bg color.Color)
	Flip()
	Flop()
	Blur(sigma float64)
	Sharpen(sigma float64)
	Median(size int)
	Gamma(gamma float64)
	Negate()
	Normalize()
	Threshold(level int)
	Modulate(brightness, saturation float64, hue int)
	Tint(c color.Color)
	Grayscale()
	Flatten(bg color.Color)

	ToFormat(format string, opts imaging.EncodeOptions) error
	Encode() ([]byte, error)
}

// Engine decodes source bytes into a Pipeline.
type Engine interface {
	Open(data []byte, opts imaging.Options) (Pipeline, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(data []byte, opts imaging.Options) (Pipeline, error)

// Open calls f.
func (f EngineFunc) Open(data []byte, opts imaging.Options) (Pipeline, error) {
	return f(data, opts)
}

// DefaultEngine decodes with the imaging package.
var DefaultEngine Engine = EngineFunc(func(data []byte, opts imaging.Options) (Pipeline, error) {
	p, err := imaging.Open(data, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
})

// SVGOptimizer rewrites SVG sources. *svg.Optimizer implements it.
type SVGOptimizer interface {
	Optimize(data []byte) ([]byte, error)
}

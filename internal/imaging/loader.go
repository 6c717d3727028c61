package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"

	"github.com/disintegration/imaging"
)

// Options control how source bytes are decoded.
type Options struct {
	// Animated keeps every frame of an animated GIF. Other formats always
	// decode to a single frame.
	Animated bool
}

// Pipeline is a decoded image plus the pending operations and output
// settings for one transformation.
//
// Operations mutate the pipeline in place and return an error only when
// their arguments cannot be applied to the current image (for example an
// extract region outside the image bounds).
type Pipeline struct {
	frames []image.Image
	delays []int
	loop   int

	sourceFormat string
	pending      *resizeRequest

	format string
	encode EncodeOptions
}

// Open decodes data into a new pipeline. EXIF orientation is applied so the
// frames are upright.
func Open(data []byte, opts Options) (*Pipeline, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	p := &Pipeline{sourceFormat: format}

	if opts.Animated && format == "gif" {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode animated gif: %w", err)
		}
		p.frames = compositeFrames(g)
		p.delays = g.Delay
		p.loop = g.LoopCount
		return p, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	p.frames = []image.Image{img}
	return p, nil
}

// Frames returns the number of decoded frames.
func (p *Pipeline) Frames() int {
	return len(p.frames)
}

// Bounds returns the bounds of the first frame after any pending resize.
func (p *Pipeline) Bounds() image.Rectangle {
	p.flush()
	return p.frames[0].Bounds()
}

// compositeFrames renders each GIF frame onto a full-size canvas. GIF frames
// may only cover part of the logical screen, so each output frame is the
// accumulated canvas at that point in the animation.
func compositeFrames(g *gif.GIF) []image.Image {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() && len(g.Image) > 0 {
		bounds = g.Image[0].Bounds()
	}

	canvas := image.NewNRGBA(bounds)
	frames := make([]image.Image, 0, len(g.Image))
	for i, frame := range g.Image {
		var previous *image.NRGBA
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			previous = imaging.Clone(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, imaging.Clone(canvas))

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return frames
}

// each replaces every frame with fn(frame). Pending resizes are applied
// first so operations always see the requested size.
func (p *Pipeline) each(fn func(image.Image) image.Image) {
	p.flush()
	p.apply(fn)
}

func (p *Pipeline) apply(fn func(image.Image) image.Image) {
	for i, frame := range p.frames {
		p.frames[i] = fn(frame)
	}
}

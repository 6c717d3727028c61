package transform

import (
	"context"
	"fmt"

	"github.com/pornlink/ipx-super/internal/imaging"
	"github.com/pornlink/ipx-super/internal/ipxerr"
)

// DefaultQuality is the output quality when no quality modifier is given.
const DefaultQuality = 65

// Processor turns source bytes and modifiers into a processed image.
type Processor struct {
	engine Engine
	svg    SVGOptimizer
}

// NewProcessor returns a processor using engine. A nil engine uses
// DefaultEngine. A nil svg optimizer passes SVG sources through unchanged.
func NewProcessor(engine Engine, svg SVGOptimizer) *Processor {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Processor{engine: engine, svg: svg}
}

// Process detects the source format, negotiates the output format and runs
// the resolved steps. SVG sources without an explicit format are returned as
// SVG.
func (p *Processor) Process(ctx context.Context, data []byte, m Modifiers) (*imaging.Processed, error) {
	meta, err := imaging.DetectMeta(data)
	if err != nil {
		return nil, ipxerr.Errorf(ipxerr.ErrInvalidImage, "%v", err)
	}

	requested := RequestedFormat(m)
	format := NegotiateFormat(m, meta.Type)

	if meta.Type == "svg" && requested == "" {
		out := data
		if p.svg != nil {
			out, err = p.svg.Optimize(data)
			if err != nil {
				return nil, fmt.Errorf("failed to optimize svg: %w", err)
			}
		}
		return &imaging.Processed{Data: out, Format: "svg+xml", Meta: meta}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pipe, err := p.engine.Open(data, imaging.Options{Animated: Animated(m, format)})
	if err != nil {
		return nil, ipxerr.Errorf(ipxerr.ErrInvalidImage, "%v", err)
	}

	tc := &Context{Meta: meta}
	for _, s := range Resolve(m) {
		if err := s.Apply(tc, pipe, s.Arg); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if SupportedFormats[format] {
		quality := tc.Quality
		if quality == 0 {
			quality = DefaultQuality
		}
		opts := imaging.EncodeOptions{Quality: quality, Progressive: format == "jpeg"}
		if err := pipe.ToFormat(format, opts); err != nil {
			return nil, err
		}
	}

	out, err := pipe.Encode()
	if err != nil {
		return nil, err
	}
	return &imaging.Processed{Data: out, Format: format, Meta: meta}, nil
}

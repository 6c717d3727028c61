package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrUnsupportedEncoding is returned when the requested output format has no
// encoder in this engine.
var ErrUnsupportedEncoding = errors.New("unsupported output encoding")

// DefaultQuality is the lossy quality used when none is configured.
const DefaultQuality = 80

// avifSpeed trades encode time for size; 0 is slowest, 10 fastest.
const avifSpeed = 8

// EncodeOptions control the output encoder.
type EncodeOptions struct {
	// Quality is the JPEG, WebP and AVIF quality, 1..100.
	Quality int

	// Progressive requests an interlaced JPEG. The JPEG encoder in use
	// writes baseline images only, so the flag is kept but has no effect.
	Progressive bool
}

// SourceFormat returns the short name of the decoded source format.
func (p *Pipeline) SourceFormat() string {
	return p.sourceFormat
}

// CanEncode reports whether format has an encoder. HEIF output is written
// as an AV1-coded HEIF file, the same bitstream as AVIF. HEIC requires an
// HEVC encoder and has none.
func CanEncode(format string) bool {
	switch format {
	case "jpg", "jpeg", "png", "gif", "tiff", "bmp", "webp", "avif", "heif":
		return true
	}
	return false
}

func (o EncodeOptions) quality() int {
	if o.Quality <= 0 || o.Quality > 100 {
		return DefaultQuality
	}
	return o.Quality
}

// ToFormat selects the output format and encoder settings.
func (p *Pipeline) ToFormat(format string, opts EncodeOptions) error {
	if !CanEncode(format) {
		return fmt.Errorf("%w: %s", ErrUnsupportedEncoding, format)
	}
	if format == "jpg" {
		format = "jpeg"
	}
	p.format = format
	p.encode = opts
	return nil
}

// Encode flushes pending operations and encodes every frame in the selected
// format. When no format was selected the source format is kept if it can be
// encoded, and JPEG is used otherwise.
func (p *Pipeline) Encode() ([]byte, error) {
	p.flush()

	format := p.format
	if format == "" {
		format = p.sourceFormat
		if err := p.ToFormat(format, p.encode); err != nil {
			format = "jpeg"
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, p.frames[0], &jpeg.Options{Quality: p.encode.quality()})
	case "png":
		err = png.Encode(&buf, p.frames[0])
	case "gif":
		err = p.encodeGIF(&buf)
	case "tiff":
		err = tiff.Encode(&buf, p.frames[0], &tiff.Options{Compression: tiff.Deflate})
	case "bmp":
		err = bmp.Encode(&buf, p.frames[0])
	case "webp":
		err = webp.Encode(&buf, p.frames[0], webp.Options{Quality: p.encode.quality(), Method: 4})
	case "avif", "heif":
		q := p.encode.quality()
		err = avif.Encode(&buf, p.frames[0], avif.Options{
			Quality:           q,
			QualityAlpha:      q,
			Speed:             avifSpeed,
			ChromaSubsampling: image.YCbCrSubsampleRatio420,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func (p *Pipeline) encodeGIF(buf *bytes.Buffer) error {
	if len(p.frames) == 1 {
		return gif.Encode(buf, p.frames[0], nil)
	}

	g := &gif.GIF{LoopCount: p.loop}
	for i, frame := range p.frames {
		b := frame.Bounds()
		paletted := image.NewPaletted(b, palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, b, frame, b.Min)
		g.Image = append(g.Image, paletted)

		delay := 0
		if i < len(p.delays) {
			delay = p.delays[i]
		}
		g.Delay = append(g.Delay, delay)
	}
	return gif.EncodeAll(buf, g)
}

package imaging

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// DefaultTrimThreshold is the per-channel difference below which a border
// pixel counts as background when trimming.
const DefaultTrimThreshold = 10

// Extract crops the region at (left, top) with the given size.
func (p *Pipeline) Extract(left, top, width, height int) error {
	p.flush()
	bounds := p.frames[0].Bounds()

	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid extract size %dx%d", width, height)
	}
	rect := image.Rect(left, top, left+width, top+height).Add(bounds.Min)
	if !rect.In(bounds) {
		return fmt.Errorf("extract region (%d,%d)-(%d,%d) outside image bounds %dx%d",
			left, top, left+width, top+height, bounds.Dx(), bounds.Dy())
	}

	p.apply(func(img image.Image) image.Image {
		return imaging.Crop(img, rect)
	})
	return nil
}

// Trim removes a uniform border whose color matches the top-left pixel within
// threshold. A threshold of zero or less uses DefaultTrimThreshold. An image
// that is entirely background is left unchanged.
func (p *Pipeline) Trim(threshold int) error {
	p.flush()
	if threshold <= 0 {
		threshold = DefaultTrimThreshold
	}

	rect := trimRect(p.frames[0], threshold)
	if rect.Empty() || rect == p.frames[0].Bounds() {
		return nil
	}
	p.apply(func(img image.Image) image.Image {
		return imaging.Crop(img, rect)
	})
	return nil
}

func trimRect(img image.Image, threshold int) image.Rectangle {
	b := img.Bounds()
	bg := color.NRGBAModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.NRGBA)

	differs := func(x, y int) bool {
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		return absDiff(c.R, bg.R) > threshold ||
			absDiff(c.G, bg.G) > threshold ||
			absDiff(c.B, bg.B) > threshold ||
			absDiff(c.A, bg.A) > threshold
	}

	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !differs(x, y) {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX || maxY < minY {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// Extend adds a border of the given widths filled with bg. A nil bg extends
// with transparent pixels.
func (p *Pipeline) Extend(top, right, bottom, left int, bg color.Color) error {
	if top < 0 || right < 0 || bottom < 0 || left < 0 {
		return fmt.Errorf("invalid extend %d_%d_%d_%d", top, right, bottom, left)
	}
	if bg == nil {
		bg = color.Transparent
	}
	p.each(func(img image.Image) image.Image {
		b := img.Bounds()
		canvas := imaging.New(b.Dx()+left+right, b.Dy()+top+bottom, bg)
		return imaging.Paste(canvas, img, image.Pt(left, top))
	})
	return nil
}

package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// Fit modes, matching the vocabulary of the fit modifier.
const (
	FitCover   = "cover"
	FitContain = "contain"
	FitFill    = "fill"
	FitInside  = "inside"
	FitOutside = "outside"
)

// ResizeOptions carry the resize settings accumulated by context modifiers.
type ResizeOptions struct {
	Fit        string
	Position   string
	Kernel     string
	Background color.Color
	Enlarge    bool
}

type resizeRequest struct {
	width, height int
	opts          ResizeOptions
}

// Resize requests the output size. Either dimension may be zero to keep the
// aspect ratio. The resize is applied lazily; a later Resize replaces an
// earlier one that has not been applied yet.
func (p *Pipeline) Resize(width, height int, opts ResizeOptions) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("invalid resize %dx%d", width, height)
	}
	p.pending = &resizeRequest{width: width, height: height, opts: opts}
	return nil
}

// flush applies a pending resize.
func (p *Pipeline) flush() {
	if p.pending == nil {
		return
	}
	req := p.pending
	p.pending = nil
	p.apply(func(img image.Image) image.Image {
		return resize(img, req.width, req.height, req.opts)
	})
}

func resize(img image.Image, w, h int, opts ResizeOptions) image.Image {
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 || (w == 0 && h == 0) {
		return img
	}
	filter := kernelFilter(opts.Kernel)

	// One dimension given: scale preserving aspect ratio.
	if w == 0 || h == 0 {
		if !opts.Enlarge && (w == 0 || w >= sw) && (h == 0 || h >= sh) {
			return img
		}
		return imaging.Resize(img, w, h, filter)
	}

	if !opts.Enlarge && w >= sw && h >= sh {
		return img
	}

	switch opts.Fit {
	case FitFill:
		return imaging.Resize(img, w, h, filter)
	case FitInside:
		nw, nh := scaleToFit(sw, sh, w, h, false)
		return imaging.Resize(img, nw, nh, filter)
	case FitOutside:
		nw, nh := scaleToFit(sw, sh, w, h, true)
		return imaging.Resize(img, nw, nh, filter)
	case FitContain:
		nw, nh := scaleToFit(sw, sh, w, h, false)
		scaled := imaging.Resize(img, nw, nh, filter)
		bg := opts.Background
		if bg == nil {
			bg = color.Transparent
		}
		canvas := imaging.New(w, h, bg)
		return imaging.Overlay(canvas, scaled, anchorOffset(w, h, nw, nh, opts.Position), 1.0)
	default:
		return imaging.Fill(img, w, h, anchor(opts.Position), filter)
	}
}

// scaleToFit returns source dimensions scaled by the smallest (or, with
// cover set, largest) ratio that fits w x h.
func scaleToFit(sw, sh, w, h int, cover bool) (int, int) {
	rw := float64(w) / float64(sw)
	rh := float64(h) / float64(sh)
	r := math.Min(rw, rh)
	if cover {
		r = math.Max(rw, rh)
	}
	nw := int(math.Round(float64(sw) * r))
	nh := int(math.Round(float64(sh) * r))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

func kernelFilter(kernel string) imaging.ResampleFilter {
	switch strings.ToLower(kernel) {
	case "nearest":
		return imaging.NearestNeighbor
	case "box":
		return imaging.Box
	case "linear":
		return imaging.Linear
	case "cubic":
		return imaging.CatmullRom
	case "mitchell":
		return imaging.MitchellNetravali
	default:
		return imaging.Lanczos
	}
}

// anchor maps a position modifier ("top", "right bottom", "northeast",
// "left", ...) to an anchor point. Unknown positions center the image.
func anchor(position string) imaging.Anchor {
	p := strings.ToLower(strings.TrimSpace(position))
	switch p {
	case "north":
		p = "top"
	case "northeast":
		p = "right top"
	case "east":
		p = "right"
	case "southeast":
		p = "right bottom"
	case "south":
		p = "bottom"
	case "southwest":
		p = "left bottom"
	case "west":
		p = "left"
	case "northwest":
		p = "left top"
	}

	top := strings.Contains(p, "top")
	bottom := strings.Contains(p, "bottom")
	left := strings.Contains(p, "left")
	right := strings.Contains(p, "right")

	switch {
	case top && left:
		return imaging.TopLeft
	case top && right:
		return imaging.TopRight
	case bottom && left:
		return imaging.BottomLeft
	case bottom && right:
		return imaging.BottomRight
	case top:
		return imaging.Top
	case bottom:
		return imaging.Bottom
	case left:
		return imaging.Left
	case right:
		return imaging.Right
	default:
		return imaging.Center
	}
}

// anchorOffset returns where an inner w x h box sits inside an outer box.
func anchorOffset(outerW, outerH, innerW, innerH int, position string) image.Point {
	dx, dy := outerW-innerW, outerH-innerH
	x, y := dx/2, dy/2
	switch anchor(position) {
	case imaging.TopLeft:
		x, y = 0, 0
	case imaging.Top:
		y = 0
	case imaging.TopRight:
		x, y = dx, 0
	case imaging.Left:
		x = 0
	case imaging.Right:
		x = dx
	case imaging.BottomLeft:
		x, y = 0, dy
	case imaging.Bottom:
		y = dy
	case imaging.BottomRight:
		x, y = dx, dy
	}
	return image.Pt(x, y)
}

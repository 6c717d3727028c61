package transform

import (
	"image/color"
	"sort"
	"strconv"
	"strings"

	"github.com/pornlink/ipx-super/internal/imaging"
	"github.com/pornlink/ipx-super/internal/ipxerr"
)

// Context accumulates settings from context steps so later steps can read
// them. One Context belongs to a single Process call.
type Context struct {
	Meta imaging.Meta

	Quality    int
	Fit        string
	Position   string
	Background color.Color
	Enlarge    bool
	Kernel     string

	// Width and Height are the last requested output size; a width step
	// followed by a height step yields one combined resize.
	Width  int
	Height int
}

func (c *Context) resizeOptions() imaging.ResizeOptions {
	return imaging.ResizeOptions{
		Fit:        c.Fit,
		Position:   c.Position,
		Kernel:     c.Kernel,
		Background: c.Background,
		Enlarge:    c.Enlarge,
	}
}

// Step is one transformation a modifier can request.
type Step struct {
	Name    string
	Aliases []string

	// Order is the sort key. Steps without one sort by modifier name.
	Order string

	Apply func(c *Context, p Pipeline, arg string) error
}

// Ordering keys. Digits sort before modifier names, so context steps run
// first, then region selection, then resizing, then everything else
// alphabetically.
const (
	orderContext = "0"
	orderRegion  = "1"
	orderResize  = "2"
)

var steps = []Step{
	{Name: "quality", Aliases: []string{"q"}, Order: orderContext, Apply: func(c *Context, _ Pipeline, arg string) error {
		q, err := parseInt("quality", arg)
		c.Quality = q
		return err
	}},
	{Name: "fit", Order: orderContext, Apply: func(c *Context, _ Pipeline, arg string) error {
		c.Fit = arg
		return nil
	}},
	{Name: "position", Aliases: []string{"pos"}, Order: orderContext, Apply: func(c *Context, _ Pipeline, arg string) error {
		c.Position = arg
		return nil
	}},
	{Name: "background", Aliases: []string{"b"}, Order: orderContext, Apply: func(c *Context, _ Pipeline, arg string) error {
		bg, err := parseColor("background", arg)
		c.Background = bg
		return err
	}},
	{Name: "enlarge", Order: orderContext, Apply: func(c *Context, _ Pipeline, _ string) error {
		c.Enlarge = true
		return nil
	}},
	{Name: "kernel", Order: orderContext, Apply: func(c *Context, _ Pipeline, arg string) error {
		c.Kernel = arg
		return nil
	}},

	{Name: "trim", Order: orderRegion, Apply: func(_ *Context, p Pipeline, arg string) error {
		threshold, err := parseInt("trim", arg)
		if err != nil {
			return err
		}
		return p.Trim(threshold)
	}},
	{Name: "extract", Aliases: []string{"crop"}, Order: orderRegion, Apply: func(_ *Context, p Pipeline, arg string) error {
		v, err := parseInts("extract", arg, 4)
		if err != nil {
			return err
		}
		if err := p.Extract(v[0], v[1], v[2], v[3]); err != nil {
			return ipxerr.Errorf(ipxerr.ErrInvalidModifier, "extract: %v", err)
		}
		return nil
	}},

	{Name: "resize", Aliases: []string{"s"}, Order: orderResize, Apply: func(c *Context, p Pipeline, arg string) error {
		w, h, err := parseSize(arg)
		if err != nil {
			return err
		}
		c.Width, c.Height = w, h
		return p.Resize(w, h, c.resizeOptions())
	}},
	{Name: "width", Aliases: []string{"w"}, Order: orderResize, Apply: func(c *Context, p Pipeline, arg string) error {
		w, err := parseInt("width", arg)
		if err != nil {
			return err
		}
		c.Width = w
		return p.Resize(c.Width, c.Height, c.resizeOptions())
	}},
	{Name: "height", Aliases: []string{"h"}, Order: orderResize, Apply: func(c *Context, p Pipeline, arg string) error {
		h, err := parseInt("height", arg)
		if err != nil {
			return err
		}
		c.Height = h
		return p.Resize(c.Width, c.Height, c.resizeOptions())
	}},

	{Name: "blur", Apply: func(_ *Context, p Pipeline, arg string) error {
		sigma, err := parseFloat("blur", arg)
		p.Blur(sigma)
		return err
	}},
	{Name: "extend", Apply: func(c *Context, p Pipeline, arg string) error {
		v, err := parseInts("extend", arg, 4)
		if err != nil {
			return err
		}
		return p.Extend(v[0], v[1], v[2], v[3], c.Background)
	}},
	{Name: "flatten", Apply: func(c *Context, p Pipeline, _ string) error {
		p.Flatten(c.Background)
		return nil
	}},
	{Name: "flip", Apply: func(_ *Context, p Pipeline, _ string) error {
		p.Flip()
		return nil
	}},
	{Name: "flop", Apply: func(_ *Context, p Pipeline, _ string) error {
		p.Flop()
		return nil
	}},
	{Name: "gamma", Apply: func(_ *Context, p Pipeline, arg string) error {
		g, err := parseFloat("gamma", arg)
		p.Gamma(g)
		return err
	}},
	{Name: "grayscale", Apply: func(_ *Context, p Pipeline, _ string) error {
		p.Grayscale()
		return nil
	}},
	{Name: "median", Apply: func(_ *Context, p Pipeline, arg string) error {
		size, err := parseInt("median", arg)
		p.Median(size)
		return err
	}},
	{Name: "modulate", Apply: func(_ *Context, p Pipeline, arg string) error {
		b, s, h, err := parseModulate(arg)
		if err != nil {
			return err
		}
		p.Modulate(b, s, h)
		return nil
	}},
	{Name: "negate", Apply: func(_ *Context, p Pipeline, _ string) error {
		p.Negate()
		return nil
	}},
	{Name: "normalize", Apply: func(_ *Context, p Pipeline, _ string) error {
		p.Normalize()
		return nil
	}},
	{Name: "rotate", Apply: func(c *Context, p Pipeline, arg string) error {
		angle, err := parseFloat("rotate", arg)
		p.Rotate(angle, c.Background)
		return err
	}},
	{Name: "sharpen", Apply: func(_ *Context, p Pipeline, arg string) error {
		sigma, err := parseFloat("sharpen", arg)
		p.Sharpen(sigma)
		return err
	}},
	{Name: "threshold", Apply: func(_ *Context, p Pipeline, arg string) error {
		level, err := parseInt("threshold", arg)
		p.Threshold(level)
		return err
	}},
	{Name: "tint", Apply: func(_ *Context, p Pipeline, arg string) error {
		c, err := parseColor("tint", arg)
		if err != nil {
			return err
		}
		if c != nil {
			p.Tint(c)
		}
		return nil
	}},
}

var lookup = func() map[string]*Step {
	m := make(map[string]*Step)
	for i := range steps {
		s := &steps[i]
		m[s.Name] = s
		for _, a := range s.Aliases {
			m[a] = s
		}
	}
	return m
}()

// Lookup returns the step registered for a modifier name or alias.
func Lookup(modifier string) (*Step, bool) {
	s, ok := lookup[modifier]
	return s, ok
}

// Names maps every step name to its aliases.
func Names() map[string][]string {
	out := make(map[string][]string, len(steps))
	for _, s := range steps {
		out[s.Name] = append([]string(nil), s.Aliases...)
	}
	return out
}

// Resolved is a step bound to the modifier that requested it.
type Resolved struct {
	*Step
	Modifier string
	Arg      string
}

func (r Resolved) sortKey() string {
	if r.Order != "" {
		return r.Order
	}
	return r.Modifier
}

// Resolve maps modifiers to steps, dropping unknown names, and sorts them by
// ordering key and then modifier name.
func Resolve(m Modifiers) []Resolved {
	out := make([]Resolved, 0, len(m))
	for name, arg := range m {
		if s, ok := lookup[name]; ok {
			out = append(out, Resolved{Step: s, Modifier: name, Arg: arg})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].sortKey(), out[j].sortKey()
		if ki != kj {
			return ki < kj
		}
		return out[i].Modifier < out[j].Modifier
	})
	return out
}

func invalid(name, arg string) error {
	return ipxerr.Errorf(ipxerr.ErrInvalidModifier, "%s=%q", name, arg)
}

// parseInt parses an integer argument. An empty argument yields zero so the
// engine default applies.
func parseInt(name, arg string) (int, error) {
	if arg == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(arg)
	if err != nil {
		f, ferr := strconv.ParseFloat(arg, 64)
		if ferr != nil {
			return 0, invalid(name, arg)
		}
		v = int(f)
	}
	return v, nil
}

func parseFloat(name, arg string) (float64, error) {
	if arg == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, invalid(name, arg)
	}
	return v, nil
}

func parseInts(name, arg string, n int) ([]int, error) {
	parts := strings.Split(arg, "_")
	if len(parts) != n {
		return nil, invalid(name, arg)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, invalid(name, arg)
		}
		out[i] = v
	}
	return out, nil
}

// parseSize parses "WxH", "W", "Wx" or "xH". Missing dimensions are zero.
func parseSize(arg string) (int, int, error) {
	ws, hs, _ := strings.Cut(arg, "x")
	w, err := parseInt("resize", ws)
	if err != nil {
		return 0, 0, invalid("resize", arg)
	}
	h, err := parseInt("resize", hs)
	if err != nil {
		return 0, 0, invalid("resize", arg)
	}
	if w < 0 || h < 0 {
		return 0, 0, invalid("resize", arg)
	}
	return w, h, nil
}

// parseModulate parses "brightness_saturation_hue"; omitted parts keep the
// image unchanged.
func parseModulate(arg string) (float64, float64, int, error) {
	b, s, h := 1.0, 1.0, 0
	parts := strings.Split(arg, "_")
	if len(parts) > 3 {
		return 0, 0, 0, invalid("modulate", arg)
	}
	for i, p := range parts {
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, 0, 0, invalid("modulate", arg)
		}
		switch i {
		case 0:
			b = v
		case 1:
			s = v
		case 2:
			h = int(v)
		}
	}
	return b, s, h, nil
}

func parseColor(name, arg string) (color.Color, error) {
	if arg == "" {
		return nil, nil
	}
	c, err := imaging.ParseColor(arg)
	if err != nil {
		return nil, invalid(name, arg)
	}
	return c, nil
}

package transform

// Modifiers map a modifier name to its raw argument. Iteration order carries
// no meaning; unknown names are ignored.
type Modifiers map[string]string

// Get returns the first present argument among names.
func (m Modifiers) Get(names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := m[n]; ok {
			return v, true
		}
	}
	return "", false
}

// Has reports whether any of names is present.
func (m Modifiers) Has(names ...string) bool {
	_, ok := m.Get(names...)
	return ok
}

// Clone returns a copy of m.
func (m Modifiers) Clone() Modifiers {
	out := make(Modifiers, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SupportedFormats lists the output formats a request may negotiate. SVG is
// never an output format; SVG sources are passed through instead.
var SupportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"webp": true,
	"avif": true,
	"tiff": true,
	"heif": true,
	"gif":  true,
	"heic": true,
}

// RequestedFormat returns the f/format modifier with jpg normalized to jpeg.
// "auto" counts as no request.
func RequestedFormat(m Modifiers) string {
	f, _ := m.Get("f", "format")
	switch f {
	case "jpg":
		f = "jpeg"
	case "auto":
		f = ""
	}
	return f
}

// NegotiateFormat picks the output format: the requested format when it is
// supported, else the source type when supported, else jpeg.
func NegotiateFormat(m Modifiers, sourceType string) string {
	if f := RequestedFormat(m); f != "" && SupportedFormats[f] {
		return f
	}
	if SupportedFormats[sourceType] {
		return sourceType
	}
	return "jpeg"
}

// Animated reports whether all frames of the source should be kept.
func Animated(m Modifiers, format string) bool {
	return m.Has("a", "animated") || format == "gif"
}

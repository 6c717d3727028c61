package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/gen2brain/webp"
)

func TestEncode_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"jpeg", "jpeg"},
		{"jpg", "jpeg"},
		{"png", "png"},
		{"gif", "gif"},
		{"tiff", "tiff"},
		{"bmp", "bmp"},
		{"webp", "webp"},
		{"avif", "avif"},
		{"heif", "avif"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			p := openPNG(t, createPatternImage(32, 16))
			if err := p.ToFormat(tt.format, EncodeOptions{Quality: 70}); err != nil {
				t.Fatalf("ToFormat failed: %v", err)
			}
			data, err := p.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("output does not decode: %v", err)
			}
			if format != tt.want {
				t.Errorf("format: got %s, want %s", format, tt.want)
			}
			if cfg.Width != 32 || cfg.Height != 16 {
				t.Errorf("dimensions: got %dx%d, want 32x16", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestEncode_Unsupported(t *testing.T) {
	for _, format := range []string{"heic", "svg"} {
		t.Run(format, func(t *testing.T) {
			p := openPNG(t, createPatternImage(8, 8))
			err := p.ToFormat(format, EncodeOptions{})
			if !errors.Is(err, ErrUnsupportedEncoding) {
				t.Errorf("ToFormat(%s) = %v, want ErrUnsupportedEncoding", format, err)
			}
		})
	}
}

func TestEncode_DefaultsToSourceFormat(t *testing.T) {
	p := openPNG(t, createPatternImage(8, 8))
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, format, _ := image.DecodeConfig(bytes.NewReader(data)); format != "png" {
		t.Errorf("format: got %s, want png", format)
	}
}

func TestEncode_AppliesPendingResize(t *testing.T) {
	p := openPNG(t, createPatternImage(100, 50))
	if err := p.Resize(40, 0, ResizeOptions{}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output does not decode: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 20 {
		t.Errorf("dimensions: got %dx%d, want 40x20", cfg.Width, cfg.Height)
	}
}

func TestEncode_AnimatedGIF(t *testing.T) {
	data := createAnimatedGIF(t, 20, 20, color.Black, color.White, color.Black)
	p, err := Open(data, Options{Animated: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := p.Resize(10, 10, ResizeOptions{}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := p.ToFormat("gif", EncodeOptions{}); err != nil {
		t.Fatalf("ToFormat failed: %v", err)
	}

	out, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	g, err := gif.DecodeAll(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output does not decode: %v", err)
	}
	if len(g.Image) != 3 {
		t.Errorf("frames: got %d, want 3", len(g.Image))
	}
	if g.Config.Width != 10 || g.Config.Height != 10 {
		t.Errorf("dimensions: got %dx%d, want 10x10", g.Config.Width, g.Config.Height)
	}
}

func TestCanEncode(t *testing.T) {
	for _, f := range []string{"jpg", "jpeg", "png", "gif", "tiff", "bmp", "webp", "avif", "heif"} {
		if !CanEncode(f) {
			t.Errorf("CanEncode(%s) = false", f)
		}
	}
	for _, f := range []string{"heic", "svg", ""} {
		if CanEncode(f) {
			t.Errorf("CanEncode(%s) = true", f)
		}
	}
}

func TestEncode_WebPSourceKeepsFormat(t *testing.T) {
	var src bytes.Buffer
	if err := webp.Encode(&src, createPatternImage(24, 12), webp.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode webp: %v", err)
	}
	p, err := Open(src.Bytes(), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if p.SourceFormat() != "webp" {
		t.Fatalf("SourceFormat = %s, want webp", p.SourceFormat())
	}
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, format, _ := image.DecodeConfig(bytes.NewReader(data)); format != "webp" {
		t.Errorf("format: got %s, want webp", format)
	}
}

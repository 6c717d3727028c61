package imaging

import (
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func TestResize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		opts          ResizeOptions
		wantW, wantH  int
	}{
		{"cover", 50, 50, ResizeOptions{Fit: FitCover}, 50, 50},
		{"default is cover", 50, 50, ResizeOptions{}, 50, 50},
		{"contain", 50, 50, ResizeOptions{Fit: FitContain}, 50, 50},
		{"fill", 50, 50, ResizeOptions{Fit: FitFill}, 50, 50},
		{"inside", 50, 50, ResizeOptions{Fit: FitInside}, 50, 25},
		{"outside", 50, 50, ResizeOptions{Fit: FitOutside}, 100, 50},
		{"width only", 50, 0, ResizeOptions{}, 50, 25},
		{"height only", 0, 10, ResizeOptions{}, 20, 10},
		{"no enlarge", 200, 0, ResizeOptions{}, 100, 50},
		{"enlarge", 200, 0, ResizeOptions{Enlarge: true}, 200, 100},
		{"no enlarge both dims", 300, 300, ResizeOptions{Fit: FitFill}, 100, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := openPNG(t, createPatternImage(100, 50))
			if err := p.Resize(tt.width, tt.height, tt.opts); err != nil {
				t.Fatalf("Resize failed: %v", err)
			}
			if b := p.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("dimensions: got %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestResize_LastWins(t *testing.T) {
	p := openPNG(t, createPatternImage(100, 50))

	if err := p.Resize(10, 10, ResizeOptions{}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := p.Resize(20, 0, ResizeOptions{}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if b := p.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("dimensions: got %dx%d, want 20x10", b.Dx(), b.Dy())
	}
}

func TestResize_Invalid(t *testing.T) {
	p := openPNG(t, createPatternImage(10, 10))
	if err := p.Resize(-1, 10, ResizeOptions{}); err == nil {
		t.Error("Resize should fail for negative width")
	}
}

func TestResize_ContainBackground(t *testing.T) {
	p := openPNG(t, createInMemoryImage(100, 50, color.White))
	red := color.NRGBA{255, 0, 0, 255}

	if err := p.Resize(50, 50, ResizeOptions{Fit: FitContain, Background: red, Position: "top"}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	// Image is 50x25 anchored to the top; the bottom rows are background.
	if c := colorAt(p, 25, 45); c != red {
		t.Errorf("bottom padding: got %v, want %v", c, red)
	}
	if c := colorAt(p, 25, 5); c.G < 240 {
		t.Errorf("top content: got %v, want white", c)
	}
}

func TestAnchor(t *testing.T) {
	tests := []struct {
		position string
		want     imaging.Anchor
	}{
		{"", imaging.Center},
		{"centre", imaging.Center},
		{"top", imaging.Top},
		{"north", imaging.Top},
		{"right top", imaging.TopRight},
		{"northeast", imaging.TopRight},
		{"left bottom", imaging.BottomLeft},
		{"southwest", imaging.BottomLeft},
		{"west", imaging.Left},
		{"east", imaging.Right},
		{"south", imaging.Bottom},
	}

	for _, tt := range tests {
		t.Run(tt.position, func(t *testing.T) {
			if got := anchor(tt.position); got != tt.want {
				t.Errorf("anchor(%q) = %v, want %v", tt.position, got, tt.want)
			}
		})
	}
}

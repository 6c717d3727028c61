package ipx

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pornlink/ipx-super/internal/alias"
	"github.com/pornlink/ipx-super/internal/cache"
	"github.com/pornlink/ipx-super/internal/imaging"
	"github.com/pornlink/ipx-super/internal/ipxerr"
	"github.com/pornlink/ipx-super/internal/metrics"
	"github.com/pornlink/ipx-super/internal/storage"
	"github.com/pornlink/ipx-super/internal/transform"
)

type fakeStorage struct {
	name    string
	objects map[string][]byte
	maxAge  *int
	mtime   *time.Time

	metaCalls atomic.Int32
	dataCalls atomic.Int32
}

func (s *fakeStorage) Name() string { return s.name }

func (s *fakeStorage) Meta(_ context.Context, id string, _ storage.Options) (*storage.Meta, error) {
	s.metaCalls.Add(1)
	if _, ok := s.objects[id]; !ok {
		return nil, nil
	}
	return &storage.Meta{MTime: s.mtime, MaxAge: s.maxAge}, nil
}

func (s *fakeStorage) Data(_ context.Context, id string, _ storage.Options) ([]byte, error) {
	s.dataCalls.Add(1)
	data, ok := s.objects[id]
	if !ok {
		return nil, nil
	}
	return data, nil
}

type countingProcessor struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (p *countingProcessor) Process(_ context.Context, data []byte, m transform.Modifiers) (*imaging.Processed, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return &imaging.Processed{
		Data:   append([]byte("out:"), data...),
		Format: "png",
		Meta:   imaging.Meta{Type: "png", MimeType: "image/png", Width: len(m), Height: 1},
	}, nil
}

func newTestIPX(t *testing.T, opts Options) *IPX {
	t.Helper()
	x, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return x
}

func newDiskCache(t *testing.T) *cache.Cache {
	t.Helper()
	store, err := cache.NewDiskStore(cache.DiskOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}
	c, err := cache.New(cache.Options{Store: store})
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_RequiresStorage(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ipxerr.ErrNoStorage) {
		t.Errorf("expected ErrNoStorage, got %v", err)
	}
}

func TestRequest_MissingID(t *testing.T) {
	x := newTestIPX(t, Options{Storage: &fakeStorage{name: "fake"}})
	if _, err := x.Request("", nil, storage.Options{}); !errors.Is(err, ipxerr.ErrMissingID) {
		t.Errorf("expected ErrMissingID, got %v", err)
	}
}

func TestRequest_SelectsStorage(t *testing.T) {
	local := &fakeStorage{name: "local"}
	remote := &fakeStorage{name: "remote"}

	tests := []struct {
		name   string
		opts   Options
		id     string
		expect string
	}{
		{"path uses generic", Options{Storage: local, HTTPStorage: remote}, "/a.png", "local"},
		{"url uses http", Options{Storage: local, HTTPStorage: remote}, "https://example.com/a.png", "remote"},
		{"path falls back to http", Options{HTTPStorage: remote}, "/a.png", "remote"},
		{"url falls back to generic", Options{Storage: local}, "https://example.com/a.png", "local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newTestIPX(t, tt.opts)
			h, err := x.Request(tt.id, nil, storage.Options{})
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			if got := h.Storage().Name(); got != tt.expect {
				t.Errorf("expected %s, got %s", tt.expect, got)
			}
		})
	}
}

func TestRequest_ResolvesAlias(t *testing.T) {
	local := &fakeStorage{name: "local"}
	remote := &fakeStorage{name: "remote"}
	x := newTestIPX(t, Options{
		Storage:     local,
		HTTPStorage: remote,
		Aliases:     []alias.Alias{{Prefix: "/cdn", Target: "https://cdn.example.com/img"}},
	})

	h, err := x.Request("/cdn/a.png", nil, storage.Options{})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if h.ID() != "https://cdn.example.com/img/a.png" {
		t.Errorf("unexpected resolved id %q", h.ID())
	}
	if h.Storage().Name() != "remote" {
		t.Errorf("expected remote storage after alias, got %s", h.Storage().Name())
	}
}

func TestRequest_Fingerprint(t *testing.T) {
	x := newTestIPX(t, Options{Storage: &fakeStorage{name: "fake"}})

	a, _ := x.Request("/a.png", transform.Modifiers{"w": "10", "h": "20"}, storage.Options{})
	b, _ := x.Request("/a.png", transform.Modifiers{"h": "20", "w": "10"}, storage.Options{})
	c, _ := x.Request("/a.png", transform.Modifiers{"w": "11"}, storage.Options{})

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("modifier insertion order changed the fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different modifiers produced the same fingerprint")
	}
}

func TestHandle_SourceMeta(t *testing.T) {
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("default max age", func(t *testing.T) {
		s := &fakeStorage{name: "fake", objects: map[string][]byte{"/a.png": []byte("x")}, mtime: &mtime}
		x := newTestIPX(t, Options{Storage: s})
		h, _ := x.Request("/a.png", nil, storage.Options{})

		meta, err := h.SourceMeta(context.Background())
		if err != nil {
			t.Fatalf("SourceMeta failed: %v", err)
		}
		if meta.MaxAge != DefaultMaxAge {
			t.Errorf("expected max age %d, got %d", DefaultMaxAge, meta.MaxAge)
		}
		if meta.MTime == nil || !meta.MTime.Equal(mtime) {
			t.Errorf("unexpected mtime %v", meta.MTime)
		}
	})

	t.Run("backend max age", func(t *testing.T) {
		s := &fakeStorage{name: "fake", objects: map[string][]byte{"/a.png": []byte("x")}, maxAge: storage.IntPtr(300)}
		x := newTestIPX(t, Options{Storage: s, MaxAge: 120})
		h, _ := x.Request("/a.png", nil, storage.Options{})

		meta, err := h.SourceMeta(context.Background())
		if err != nil {
			t.Fatalf("SourceMeta failed: %v", err)
		}
		if meta.MaxAge != 300 {
			t.Errorf("expected max age 300, got %d", meta.MaxAge)
		}
	})

	t.Run("missing", func(t *testing.T) {
		x := newTestIPX(t, Options{Storage: &fakeStorage{name: "fake"}})
		h, _ := x.Request("/missing.png", nil, storage.Options{})
		if _, err := h.SourceMeta(context.Background()); !errors.Is(err, ipxerr.ErrResourceNotFound) {
			t.Errorf("expected ErrResourceNotFound, got %v", err)
		}
	})

	t.Run("memoized", func(t *testing.T) {
		s := &fakeStorage{name: "fake", objects: map[string][]byte{"/a.png": []byte("x")}}
		x := newTestIPX(t, Options{Storage: s})
		h, _ := x.Request("/a.png", nil, storage.Options{})
		for i := 0; i < 3; i++ {
			if _, err := h.SourceMeta(context.Background()); err != nil {
				t.Fatalf("SourceMeta failed: %v", err)
			}
		}
		if n := s.metaCalls.Load(); n != 1 {
			t.Errorf("expected 1 backend call, got %d", n)
		}
	})
}

func TestHandle_SourceData_Missing(t *testing.T) {
	x := newTestIPX(t, Options{Storage: &fakeStorage{name: "fake"}})
	h, _ := x.Request("/missing.png", nil, storage.Options{})
	if _, err := h.SourceData(context.Background()); !errors.Is(err, ipxerr.ErrResourceNotFound) {
		t.Errorf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestHandle_Process_Memoized(t *testing.T) {
	s := &fakeStorage{name: "fake", objects: map[string][]byte{"/a.png": []byte("src")}}
	p := &countingProcessor{}
	x := newTestIPX(t, Options{Storage: s, Processor: p})
	h, _ := x.Request("/a.png", transform.Modifiers{"w": "10"}, storage.Options{})

	first, err := h.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	second, err := h.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if first != second {
		t.Error("expected the same result from repeated calls")
	}
	if n := p.calls.Load(); n != 1 {
		t.Errorf("expected 1 pipeline run, got %d", n)
	}
	if n := s.dataCalls.Load(); n != 1 {
		t.Errorf("expected 1 data fetch, got %d", n)
	}
	if string(first.Data) != "out:src" {
		t.Errorf("unexpected data %q", first.Data)
	}
}

func TestHandle_Process_ErrorRetained(t *testing.T) {
	s := &fakeStorage{name: "fake", objects: map[string][]byte{"/a.png": []byte("src")}}
	p := &countingProcessor{err: ipxerr.ErrInvalidImage}
	x := newTestIPX(t, Options{Storage: s, Processor: p})
	h, _ := x.Request("/a.png", nil, storage.Options{})

	for i := 0; i < 2; i++ {
		if _, err := h.Process(context.Background()); !errors.Is(err, ipxerr.ErrInvalidImage) {
			t.Fatalf("expected ErrInvalidImage, got %v", err)
		}
	}
	if n := p.calls.Load(); n != 1 {
		t.Errorf("expected 1 pipeline run, got %d", n)
	}
}

func TestProcess_ConcurrentRequestsComputeOnce(t *testing.T) {
	s := &fakeStorage{name: "fake", objects: map[string][]byte{"/a.png": []byte("src")}}
	p := &countingProcessor{delay: 20 * time.Millisecond}
	collector := metrics.NewCollector("ipx_test", false)
	x := newTestIPX(t, Options{
		Storage:   s,
		Processor: p,
		Cache:     newDiskCache(t),
		Collector: collector,
		Latency:   metrics.NewLatencyTracker(0.01),
	})

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := x.Request("/a.png", transform.Modifiers{"w": "10"}, storage.Options{})
			if err != nil {
				errs <- err
				return
			}
			out, err := h.Process(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if string(out.Data) != "out:src" {
				errs <- errors.New("unexpected output " + string(out.Data))
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("request failed: %v", err)
	}
	if calls := p.calls.Load(); calls != 1 {
		t.Errorf("expected 1 pipeline run for %d requests, got %d", n, calls)
	}
}

func TestProcess_CacheServesLaterRequests(t *testing.T) {
	s := &fakeStorage{name: "fake", objects: map[string][]byte{"/a.png": []byte("src")}}
	p := &countingProcessor{}
	x := newTestIPX(t, Options{Storage: s, Processor: p, Cache: newDiskCache(t)})

	for i := 0; i < 3; i++ {
		h, _ := x.Request("/a.png", transform.Modifiers{"w": "10"}, storage.Options{})
		out, err := h.Process(context.Background())
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if out.Format != "png" || out.Meta.Width != 1 {
			t.Errorf("unexpected result %+v", out)
		}
	}
	if n := p.calls.Load(); n != 1 {
		t.Errorf("expected 1 pipeline run, got %d", n)
	}
	if n := s.dataCalls.Load(); n != 1 {
		t.Errorf("expected 1 data fetch, got %d", n)
	}
}

func TestProcess_WithoutCacheRecomputes(t *testing.T) {
	s := &fakeStorage{name: "fake", objects: map[string][]byte{"/a.png": []byte("src")}}
	p := &countingProcessor{}
	x := newTestIPX(t, Options{Storage: s, Processor: p})

	for i := 0; i < 2; i++ {
		h, _ := x.Request("/a.png", nil, storage.Options{})
		if _, err := h.Process(context.Background()); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}
	if n := p.calls.Load(); n != 2 {
		t.Errorf("expected 2 pipeline runs, got %d", n)
	}
}

// writeSources writes a gradient PNG and a three frame GIF below dir.
func writeSources(t *testing.T, dir string) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 48, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 5), G: uint8(y * 7), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gradient.png"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	g := &gif.GIF{}
	for _, c := range []color.Color{color.Black, color.White, color.NRGBA{R: 255, A: 255}} {
		frame := image.NewPaletted(image.Rect(0, 0, 16, 16), palette.Plan9)
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				frame.Set(x, y, c)
			}
		}
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 10)
	}
	buf.Reset()
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("gif.EncodeAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "spinner.gif"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeSources(t, dir)

	tests := []struct {
		name string
		id   string
		m    transform.Modifiers
	}{
		{"jpeg resize", "/gradient.png", transform.Modifiers{"w": "20", "f": "jpeg", "q": "70"}},
		{"png pipeline", "/gradient.png", transform.Modifiers{"resize": "24x24", "fit": "contain", "b": "ffffff", "blur": "1", "f": "png"}},
		{"webp", "/gradient.png", transform.Modifiers{"h": "16", "f": "webp"}},
		{"animated gif", "/spinner.gif", transform.Modifiers{"w": "8", "animated": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outputs [][]byte
			for i := 0; i < 2; i++ {
				fs, err := storage.NewFS(storage.FSOptions{Dir: dir})
				if err != nil {
					t.Fatalf("NewFS failed: %v", err)
				}
				x := newTestIPX(t, Options{Storage: fs})
				h, err := x.Request(tt.id, tt.m, storage.Options{})
				if err != nil {
					t.Fatalf("Request failed: %v", err)
				}
				out, err := h.Process(context.Background())
				if err != nil {
					t.Fatalf("Process failed: %v", err)
				}
				outputs = append(outputs, out.Data)
			}
			if len(outputs[0]) == 0 {
				t.Fatal("empty output")
			}
			if !bytes.Equal(outputs[0], outputs[1]) {
				t.Errorf("outputs differ: %d bytes vs %d bytes", len(outputs[0]), len(outputs[1]))
			}
		})
	}

	t.Run("animated frames survive", func(t *testing.T) {
		fs, err := storage.NewFS(storage.FSOptions{Dir: dir})
		if err != nil {
			t.Fatalf("NewFS failed: %v", err)
		}
		h, _ := newTestIPX(t, Options{Storage: fs}).Request("/spinner.gif", transform.Modifiers{"w": "8"}, storage.Options{})
		out, err := h.Process(context.Background())
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		g, err := gif.DecodeAll(bytes.NewReader(out.Data))
		if err != nil {
			t.Fatalf("output does not decode: %v", err)
		}
		if len(g.Image) != 3 {
			t.Errorf("frames: got %d, want 3", len(g.Image))
		}
	})
}

func TestProcess_FileSystemEndToEnd(t *testing.T) {
	dir := t.TempDir()

	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "red.png"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fs, err := storage.NewFS(storage.FSOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	x := newTestIPX(t, Options{Storage: fs, Cache: newDiskCache(t)})

	h, err := x.Request("/red.png", transform.Modifiers{"w": "20", "f": "jpeg"}, storage.Options{})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	out, err := h.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Format != "jpeg" {
		t.Errorf("expected jpeg, got %s", out.Format)
	}
	if out.Meta.Width != 40 || out.Meta.Height != 20 {
		t.Errorf("expected source meta 40x20, got %dx%d", out.Meta.Width, out.Meta.Height)
	}
	encoded, err := imaging.DetectMeta(out.Data)
	if err != nil {
		t.Fatalf("DetectMeta failed: %v", err)
	}
	if encoded.Type != "jpeg" || encoded.Width != 20 || encoded.Height != 10 {
		t.Errorf("expected a 20x10 jpeg, got %s %dx%d", encoded.Type, encoded.Width, encoded.Height)
	}

	meta, err := h.SourceMeta(context.Background())
	if err != nil {
		t.Fatalf("SourceMeta failed: %v", err)
	}
	if meta.MTime == nil {
		t.Error("expected an mtime from the file system")
	}
}

func TestProcess_SVGOptimizedByDefault(t *testing.T) {
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><script>alert(1)</script><rect width="10" height="10"/></svg>`)
	s := &fakeStorage{name: "fake", objects: map[string][]byte{"/logo.svg": svg}}
	x := newTestIPX(t, Options{Storage: s})

	h, _ := x.Request("/logo.svg", transform.Modifiers{"w": "5"}, storage.Options{})
	out, err := h.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Format != "svg+xml" {
		t.Errorf("expected svg+xml, got %s", out.Format)
	}
	if bytes.Contains(out.Data, []byte("<script")) {
		t.Error("expected the script element to be removed")
	}
	if !bytes.Contains(out.Data, []byte("<svg")) {
		t.Errorf("expected an svg document, got %q", out.Data)
	}
}

package imageloader_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	imageloader "github.com/Skryldev/image-loader"
	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pool"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func newLoader(t *testing.T, diskDir string) *imageloader.Loader {
	t.Helper()
	cfg := config.Default()
	cfg.MemoryCacheBytes = 16 << 20
	cfg.PoolBytes = 16 << 20
	cfg.SourceWorkers = 2
	cfg.LogLevel = "error"
	cfg.DiskCache.Dir = diskDir
	l, err := imageloader.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// countingFetcher serves in-memory bytes and counts fetches.
type countingFetcher struct {
	id    string
	data  []byte
	fail  error
	calls atomic.Int32
}

func (f *countingFetcher) ID() string { return f.id }

func (f *countingFetcher) LoadData(context.Context, core.Priority) ([]byte, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return nil, f.fail
	}
	return f.data, nil
}

func (f *countingFetcher) Cancel()  {}
func (f *countingFetcher) Cleanup() {}

func bufferOf(t *testing.T, res *core.SharedResource) *pool.PixelBuffer {
	t.Helper()
	br, ok := res.Resource().(*pool.BufferResource)
	if !ok {
		t.Fatalf("resource type: got %T, want *pool.BufferResource", res.Resource())
	}
	return br.Buffer()
}

// ── End to end ────────────────────────────────────────────────────────────────

func TestLoadSyncDecodesAndResizes(t *testing.T) {
	l := newLoader(t, "")
	src := filepath.Join(t.TempDir(), "red.png")
	if err := os.WriteFile(src, newTestPNG(t, 200, 100), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := l.FromFile(src).Resize(100, 100).LoadSync(context.Background())
	if err != nil {
		t.Fatalf("LoadSync: %v", err)
	}
	defer l.Release(res)

	buf := bufferOf(t, res)
	if buf.Width() != 100 || buf.Height() != 50 {
		t.Errorf("dims: got %dx%d, want 100x50 (aspect preserved)", buf.Width(), buf.Height())
	}
	if buf.Pix()[0] != 200 {
		t.Errorf("red channel: got %d, want 200", buf.Pix()[0])
	}
}

func TestRepeatLoadHitsMemoryCache(t *testing.T) {
	l := newLoader(t, "")
	f := &countingFetcher{id: "mem://a", data: newTestPNG(t, 64, 64)}

	res, err := l.FromFetcher(f).Resize(32, 32).LoadSync(context.Background())
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	l.Release(res)

	res2, err := l.FromFetcher(f).Resize(32, 32).LoadSync(context.Background())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	defer l.Release(res2)

	if res2 != res {
		t.Error("second load must be served from the memory cache")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetches: got %d, want 1", got)
	}
}

func TestDistinctSizesAreDistinctEntries(t *testing.T) {
	l := newLoader(t, "")
	f := &countingFetcher{id: "mem://b", data: newTestPNG(t, 64, 64)}

	resA, err := l.FromFetcher(f).Resize(32, 32).LoadSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release(resA)

	resB, err := l.FromFetcher(f).Resize(16, 16).LoadSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release(resB)

	if resA == resB {
		t.Error("different target sizes must not share one cache entry")
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetches: got %d, want 2", got)
	}
}

func TestDiskResultTierServesAcrossLoaders(t *testing.T) {
	dir := t.TempDir()
	data := newTestPNG(t, 64, 64)

	l1 := newLoader(t, dir)
	f1 := &countingFetcher{id: "disk://a", data: data}
	res, err := l1.FromFetcher(f1).Resize(32, 32).LoadSync(context.Background())
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	l1.Release(res)
	if err := l1.Close(); err != nil {
		t.Fatal(err)
	}

	// A second loader over the same directory serves the transformed result
	// from disk; the source is never re-fetched.
	l2 := newLoader(t, dir)
	f2 := &countingFetcher{id: "disk://a", fail: errors.New("must not fetch")}
	res2, err := l2.FromFetcher(f2).Resize(32, 32).LoadSync(context.Background())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	defer l2.Release(res2)

	if got := f2.calls.Load(); got != 0 {
		t.Errorf("fetches in second loader: got %d, want 0", got)
	}
	buf := bufferOf(t, res2)
	if buf.Width() != 32 || buf.Height() != 32 {
		t.Errorf("dims from disk: got %dx%d, want 32x32", buf.Width(), buf.Height())
	}
}

func TestSignatureInvalidatesKey(t *testing.T) {
	l := newLoader(t, "")
	f := &countingFetcher{id: "mem://c", data: newTestPNG(t, 64, 64)}

	res, err := l.FromFetcher(f).Resize(32, 32).Signature("v1").LoadSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	l.Release(res)

	res2, err := l.FromFetcher(f).Resize(32, 32).Signature("v2").LoadSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release(res2)

	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetches: got %d, want 2 (signature change busts the cache)", got)
	}
}

// ── Failure paths ─────────────────────────────────────────────────────────────

func TestLoadFailurePropagates(t *testing.T) {
	l := newLoader(t, "")
	f := &countingFetcher{id: "mem://fail", fail: errors.New("network down")}

	_, err := l.FromFetcher(f).Resize(32, 32).LoadSync(context.Background())
	if err == nil {
		t.Fatal("expected the fetch failure to propagate")
	}
	if !apperrors.IsCategory(err, apperrors.CategoryFetch) {
		t.Errorf("error category: got %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	l := newLoader(t, "")
	f := &countingFetcher{id: "mem://v", data: newTestPNG(t, 8, 8)}

	if _, err := l.FromFetcher(f).Resize(0, 0).Load(imageloader.Callbacks(nil, nil)); !errors.Is(err, apperrors.ErrInvalidDimensions) {
		t.Errorf("zero dimensions: got %v, want ErrInvalidDimensions", err)
	}
	if _, err := l.FromFetcher(f).Decoder("nope").Load(imageloader.Callbacks(nil, nil)); !errors.Is(err, apperrors.ErrNoDecoder) {
		t.Errorf("unknown decoder: got %v, want ErrNoDecoder", err)
	}
	if _, err := l.FromFetcher(f).Transform("nope").Load(imageloader.Callbacks(nil, nil)); !errors.Is(err, apperrors.ErrNoTransform) {
		t.Errorf("unknown transform: got %v, want ErrNoTransform", err)
	}
	if f.calls.Load() != 0 {
		t.Error("misconfigured requests must not fetch")
	}
}

// ── Memory pressure ───────────────────────────────────────────────────────────

func TestTrimMemoryDropsCachedEntries(t *testing.T) {
	l := newLoader(t, "")
	f := &countingFetcher{id: "mem://trim", data: newTestPNG(t, 64, 64)}

	res, err := l.FromFetcher(f).Resize(32, 32).LoadSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	l.Release(res)

	l.TrimMemory(core.TrimLevelModerate)

	res2, err := l.FromFetcher(f).Resize(32, 32).LoadSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release(res2)
	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetches: got %d, want 2 (trim emptied the cache)", got)
	}
}

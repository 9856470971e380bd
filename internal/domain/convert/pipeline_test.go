package convert

import (
	"bytes"
	"context"
	stdimage "image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"shopimage-server-go/internal/domain/cache"
	"shopimage-server-go/internal/platform/config"
	"shopimage-server-go/internal/platform/errors"
	"shopimage-server-go/internal/platform/storage"
)

func pngPayload(t *testing.T, w, h int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, presets map[string]config.PresetConfig) (*Pipeline, storage.BlobStore) {
	t.Helper()
	blobs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore error: %v", err)
	}
	store := cache.NewMemory(cache.Config{TTL: time.Minute})
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	p, err := NewPipeline(Options{
		Security: &config.SecurityConfig{
			MaxFileSize: 8 * 1024 * 1024,
			MaxPixels:   1 << 24,
			MaxWidth:    4096,
			MaxHeight:   4096,
		},
		Blobs:   blobs,
		Cache:   store,
		Presets: presets,
		Upload:  config.UploadConfig{MaxUploadMB: 8, MaxKB: 2048},
	})
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}
	return p, blobs
}

func TestConvertStoresArtifact(t *testing.T) {
	p, blobs := newTestPipeline(t, nil)
	ctx := context.Background()

	res, err := p.Convert(ctx, pngPayload(t, 400, 300), Params{
		Format:  "webp",
		TargetW: 100,
		TargetH: 100,
	})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if !strings.HasSuffix(res.Filename, ".webp") {
		t.Errorf("filename = %s, want .webp suffix", res.Filename)
	}
	// 400x300 cropped square then fitted into 100x100.
	if res.Width != 100 || res.Height != 100 {
		t.Errorf("dims = %dx%d, want 100x100", res.Width, res.Height)
	}
	if !res.BudgetMet {
		t.Error("expected budget met under default 2048KB")
	}
	if res.CacheHit {
		t.Error("first conversion should not be a cache hit")
	}

	blob, err := blobs.Get(ctx, res.Key)
	if err != nil {
		t.Fatalf("stored blob missing: %v", err)
	}
	if blob.ContentType != "image/webp" {
		t.Errorf("stored content type = %s, want image/webp", blob.ContentType)
	}
	if !strings.HasPrefix(res.Key, "output/") {
		t.Errorf("blob key = %s, want output/ prefix", res.Key)
	}
}

func TestConvertKeepsDimensionsWithoutTargets(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	res, err := p.Convert(context.Background(), pngPayload(t, 120, 90), Params{Format: "jpeg"})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if res.Width != 120 || res.Height != 90 {
		t.Errorf("dims = %dx%d, want unchanged 120x90", res.Width, res.Height)
	}
	if !strings.HasSuffix(res.Filename, ".jpg") {
		t.Errorf("filename = %s, want .jpg suffix", res.Filename)
	}
}

func TestConvertNeverUpscales(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	res, err := p.Convert(context.Background(), pngPayload(t, 50, 50), Params{
		Format:  "webp",
		TargetW: 500,
		TargetH: 500,
	})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if res.Width != 50 || res.Height != 50 {
		t.Errorf("dims = %dx%d, want 50x50 (no upscale)", res.Width, res.Height)
	}
}

func TestConvertLandsExactlyOnTargetBox(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	// 1005x1000 is within the crop tolerance of square, so no crop runs;
	// the resize still has to hit the box on both axes.
	res, err := p.Convert(context.Background(), pngPayload(t, 1005, 1000), Params{
		Format:  "webp",
		TargetW: 500,
		TargetH: 500,
	})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if res.Width != 500 || res.Height != 500 {
		t.Errorf("dims = %dx%d, want exactly 500x500", res.Width, res.Height)
	}
}

func TestConvertCacheHit(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	ctx := context.Background()
	payload := pngPayload(t, 200, 200)
	params := Params{Format: "webp", TargetW: 100, TargetH: 100}

	first, err := p.Convert(ctx, payload, params)
	if err != nil {
		t.Fatalf("first Convert error: %v", err)
	}
	second, err := p.Convert(ctx, payload, params)
	if err != nil {
		t.Fatalf("second Convert error: %v", err)
	}
	if !second.CacheHit {
		t.Error("expected cache hit on identical payload and params")
	}
	// Each conversion still gets its own stored name.
	if first.Filename == second.Filename {
		t.Error("expected distinct filenames per conversion")
	}
}

func TestConvertPresetFillsParams(t *testing.T) {
	p, _ := newTestPipeline(t, map[string]config.PresetConfig{
		"shopee": {MaxBytes: 2 * 1024 * 1024, TargetW: 64, TargetH: 64, Format: "webp"},
	})

	res, err := p.Convert(context.Background(), pngPayload(t, 256, 256), Params{Platform: "shopee"})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if res.Width != 64 || res.Height != 64 {
		t.Errorf("dims = %dx%d, want preset 64x64", res.Width, res.Height)
	}
	if res.Format != "webp" {
		t.Errorf("format = %s, want preset webp", res.Format)
	}
}

func TestConvertExplicitParamsBeatPreset(t *testing.T) {
	p, _ := newTestPipeline(t, map[string]config.PresetConfig{
		"shopee": {MaxBytes: 2 * 1024 * 1024, TargetW: 64, TargetH: 64, Format: "webp"},
	})

	res, err := p.Convert(context.Background(), pngPayload(t, 256, 256), Params{
		Platform: "shopee",
		TargetW:  32,
		TargetH:  32,
	})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if res.Width != 32 || res.Height != 32 {
		t.Errorf("dims = %dx%d, want explicit 32x32", res.Width, res.Height)
	}
}

func TestConvertLargeImageUnderBudget(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	res, err := p.Convert(context.Background(), pngPayload(t, 4000, 3000), Params{
		Format:   "webp",
		TargetW:  1024,
		MaxBytes: 200 * 1024,
	})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if res.Width > 1024 {
		t.Errorf("width = %d, want at most 1024", res.Width)
	}
	if res.Height != 768 {
		t.Errorf("height = %d, want 768 preserving 4:3", res.Height)
	}
	if !res.BudgetMet {
		t.Error("expected a 1024px webp to fit 200KB")
	}
	if res.SizeKB > 200 {
		t.Errorf("size = %dKB, exceeds 200KB budget", res.SizeKB)
	}
	if res.Format != "webp" {
		t.Errorf("format = %s, want webp", res.Format)
	}
}

func TestConvertRejectsOversizedUpload(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	_, err := p.Convert(context.Background(), pngPayload(t, 100, 100), Params{
		MaxUpload: 10,
	})
	if err == nil {
		t.Fatal("expected rejection for oversized upload")
	}
	if !errors.IsKind(err, errors.KindInput) {
		t.Errorf("error kind = %v, want input", err)
	}
}

func TestConvertRejectsGarbage(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	_, err := p.Convert(context.Background(), []byte("definitely not an image"), Params{})
	if err == nil {
		t.Fatal("expected rejection for undecodable payload")
	}
	if !errors.IsKind(err, errors.KindInput) {
		t.Errorf("error kind = %v, want input", err)
	}
}

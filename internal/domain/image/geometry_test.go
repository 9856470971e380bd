package image

import (
	"image"
	"image/color"
	"testing"
)

func newTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(w, 1)),
				G: uint8(y * 255 / max(h, 1)),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func TestCropToAspect(t *testing.T) {
	tests := []struct {
		name             string
		srcW, srcH       int
		targetW, targetH int
		wantW, wantH     int
	}{
		{"wide source to square", 400, 200, 100, 100, 200, 200},
		{"tall source to square", 200, 400, 100, 100, 200, 200},
		{"already square", 300, 300, 100, 100, 300, 300},
		{"wide source to portrait", 1600, 1200, 1200, 1600, 900, 1200},
		{"within tolerance untouched", 1000, 999, 1, 1, 1000, 999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestImage(tt.srcW, tt.srcH)
			got := CropToAspect(src, tt.targetW, tt.targetH)
			b := got.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("crop = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestCropToAspectIsSymmetric(t *testing.T) {
	src := newTestImage(400, 200)
	got := CropToAspect(src, 1, 1)
	b := got.Bounds()
	// 100px trimmed from each side.
	if b.Min.X != 100 || b.Max.X != 300 {
		t.Errorf("crop bounds = %v, want x range [100,300)", b)
	}
}

func TestCropToAspectZeroTargetPassesThrough(t *testing.T) {
	src := newTestImage(40, 20)
	if got := CropToAspect(src, 0, 100); got != image.Image(src) {
		t.Error("expected pass-through for zero target width")
	}
	if got := CropToAspect(src, 100, 0); got != image.Image(src) {
		t.Error("expected pass-through for zero target height")
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name           string
		w, h           int
		boundW, boundH int
		wantW, wantH   int
	}{
		{"no bounds", 800, 600, 0, 0, 800, 600},
		{"fits already", 800, 600, 1024, 1024, 800, 600},
		{"never upscales", 100, 100, 1024, 1024, 100, 100},
		{"width bound only", 2048, 1024, 1024, 0, 1024, 512},
		{"height bound only", 1024, 2048, 0, 1024, 512, 1024},
		{"both bounds limiting axis wins", 4000, 3000, 1024, 1024, 1024, 768},
		{"tall both bounds", 3000, 4000, 1024, 1024, 768, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotW, gotH := FitWithin(tt.w, tt.h, tt.boundW, tt.boundH)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Errorf("FitWithin = %dx%d, want %dx%d", gotW, gotH, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestResizeToFitReturnsSameImageWhenWithinBounds(t *testing.T) {
	src := newTestImage(100, 80)
	if got := ResizeToFit(src, 200, 200); got != image.Image(src) {
		t.Error("expected the identical image back when no resize is needed")
	}
}

func TestResizeToFitDownscales(t *testing.T) {
	src := newTestImage(2000, 1000)
	got := ResizeToFit(src, 500, 500)
	b := got.Bounds()
	if b.Dx() != 500 || b.Dy() != 250 {
		t.Errorf("resize = %dx%d, want 500x250", b.Dx(), b.Dy())
	}
}

func TestResizeExact(t *testing.T) {
	tests := []struct {
		name             string
		srcW, srcH       int
		targetW, targetH int
		wantW, wantH     int
	}{
		// Ratio drift inside the crop tolerance still lands on the box.
		{"absorbs aspect drift", 1005, 1000, 500, 500, 500, 500},
		{"never upscales", 50, 50, 500, 500, 50, 50},
		{"clamps one axis", 400, 160, 500, 200, 400, 160},
		{"plain downscale", 2000, 1000, 500, 250, 500, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestImage(tt.srcW, tt.srcH)
			got := ResizeExact(src, tt.targetW, tt.targetH)
			b := got.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("resize = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestResizeExactReturnsSameImageAtSourceSize(t *testing.T) {
	src := newTestImage(100, 80)
	if got := ResizeExact(src, 100, 80); got != image.Image(src) {
		t.Error("expected the identical image back when no resize is needed")
	}
}

func TestSaneDim(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{1024, 1024},
		{4096, 4096},
		{9999, 4096},
	}
	for _, tt := range tests {
		if got := SaneDim(tt.in); got != tt.want {
			t.Errorf("SaneDim(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

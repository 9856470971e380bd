package image

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// aspectTolerance is the ratio difference below which no crop happens.
// Keeps byte-identical pass-through for already conforming images.
const aspectTolerance = 0.01

// CropToAspect crops src symmetrically so its aspect ratio matches
// targetW:targetH. The crop always removes from the axis that is too long,
// never padding. Images whose ratio is already within tolerance are
// returned unchanged.
func CropToAspect(src image.Image, targetW, targetH int) image.Image {
	if targetW <= 0 || targetH <= 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return src
	}

	current := float64(w) / float64(h)
	want := float64(targetW) / float64(targetH)
	if math.Abs(current-want) <= aspectTolerance {
		return src
	}

	var crop image.Rectangle
	if current > want {
		// Too wide, trim left and right.
		newW := int(math.Round(float64(h) * want))
		if newW < 1 {
			newW = 1
		}
		x0 := b.Min.X + (w-newW)/2
		crop = image.Rect(x0, b.Min.Y, x0+newW, b.Max.Y)
	} else {
		// Too tall, trim top and bottom.
		newH := int(math.Round(float64(w) / want))
		if newH < 1 {
			newH = 1
		}
		y0 := b.Min.Y + (h-newH)/2
		crop = image.Rect(b.Min.X, y0, b.Max.X, y0+newH)
	}

	if sub, ok := src.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(crop)
	}

	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Copy(dst, image.Point{}, src, crop, draw.Src, nil)
	return dst
}

// FitWithin computes the output size for a downscale-only fit of (w, h)
// into the optional bounds. A zero bound leaves that axis unconstrained.
// The source size is returned unchanged when it already fits, so the
// function never upscales.
func FitWithin(w, h, boundW, boundH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 1.0
	if boundW > 0 && w > boundW {
		scale = float64(boundW) / float64(w)
	}
	if boundH > 0 && h > boundH {
		if s := float64(boundH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale >= 1.0 {
		return w, h
	}
	outW := int(math.Round(float64(w) * scale))
	outH := int(math.Round(float64(h) * scale))
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}

// ResizeToFit scales src down to fit within the optional bounds, preserving
// aspect ratio. Uses CatmullRom for output quality. Images already within
// bounds are returned unchanged.
func ResizeToFit(src image.Image, boundW, boundH int) image.Image {
	b := src.Bounds()
	outW, outH := FitWithin(b.Dx(), b.Dy(), boundW, boundH)
	if outW == b.Dx() && outH == b.Dy() {
		return src
	}
	return rescale(src, outW, outH, draw.CatmullRom)
}

// ResizeExact scales src to exactly targetW x targetH, each axis clamped
// to the source size so it never upscales. Callers crop to the target
// aspect first; ratio drift inside the crop tolerance is absorbed here
// instead of leaving the output a pixel or two short.
func ResizeExact(src image.Image, targetW, targetH int) image.Image {
	b := src.Bounds()
	w, h := targetW, targetH
	if w <= 0 || w > b.Dx() {
		w = b.Dx()
	}
	if h <= 0 || h > b.Dy() {
		h = b.Dy()
	}
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	return rescale(src, w, h, draw.CatmullRom)
}

func rescale(src image.Image, w, h int, scaler draw.Scaler) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

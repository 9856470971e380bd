package image

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"

	"shopimage-server-go/internal/platform/errors"
)

// Quality ladders for the budget search, most compressed first. WebP
// tolerates lower qualities than JPEG before visible artifacts appear.
var (
	webpQualities = []int{35, 40, 45, 50, 55, 60, 70, 80}
	jpegQualities = []int{40, 45, 50, 55, 60, 70, 80, 90}
)

const (
	// minEdge stops the scale reduction before output becomes unusable.
	minEdge = 320
	// scaleStep shrinks each axis ~15% per reduction round.
	scaleStep = 0.85
)

// EncodeUnderBudget searches for a quality and scale that fit src into
// maxBytes. The ladder is walked from the most compressed quality upward
// and the first encoding within budget wins; when even the top rung
// overshoots, the image shrinks by scaleStep and the ladder restarts. The
// search stops before an edge would land at or below minEdge. When
// nothing fits, the bottom-rung encode of the smallest frame is returned
// with BudgetMet false. A zero maxBytes disables the search and encodes
// once at the top quality.
//
// The returned bytes are exactly the encoding that satisfied the search,
// never a re-render that could drift past the budget.
func EncodeUnderBudget(src image.Image, format string, maxBytes uint64) (Artifact, error) {
	format = NormalizeFormat(format)
	qualities, err := ladderFor(format)
	if err != nil {
		return Artifact{}, err
	}

	if maxBytes == 0 {
		top := qualities[len(qualities)-1]
		data, err := encodeFrame(src, format, top)
		if err != nil {
			return Artifact{}, err
		}
		return artifactFrom(src, format, 1.0, top, data, true), nil
	}

	b := src.Bounds()
	scale := 1.0
	frame := src
	var floor []byte
	for {
		for i, q := range qualities {
			data, err := encodeFrame(frame, format, q)
			if err != nil {
				return Artifact{}, err
			}
			if uint64(len(data)) <= maxBytes {
				return artifactFrom(frame, format, scale, q, data, true), nil
			}
			if i == 0 {
				floor = data
			}
		}

		next := scale * scaleStep
		w, h := scaledDims(b.Dx(), b.Dy(), next)
		if w <= minEdge || h <= minEdge {
			break
		}
		scale = next
		frame = rescale(src, w, h, draw.CatmullRom)
	}

	// Nothing fit. Return the smallest encode already attempted.
	return artifactFrom(frame, format, scale, qualities[0], floor, false), nil
}

func artifactFrom(frame image.Image, format string, scale float64, quality int, data []byte, met bool) Artifact {
	b := frame.Bounds()
	return Artifact{
		Data:        data,
		ContentType: ContentTypeFor(format),
		Format:      format,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Quality:     quality,
		Scale:       scale,
		BudgetMet:   met,
	}
}

func encodeFrame(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case FormatPNG:
		err = png.Encode(&buf, img)
	default:
		return nil, errors.New(errors.KindEncode, "encode",
			fmt.Sprintf("unsupported output format: %s", format))
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindEncode, "encode",
			fmt.Sprintf("failed to encode %s", format), err)
	}
	return buf.Bytes(), nil
}

func ladderFor(format string) ([]int, error) {
	switch format {
	case FormatWebP:
		return webpQualities, nil
	case FormatJPEG:
		return jpegQualities, nil
	case FormatPNG:
		// PNG is lossless; the search can only vary scale.
		return []int{100}, nil
	default:
		return nil, errors.New(errors.KindInput, "encode",
			fmt.Sprintf("unsupported output format: %s", format))
	}
}

// NormalizeFormat canonicalises a requested output format. Empty input
// defaults to WebP.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatWebP:
		return FormatWebP
	case FormatJPEG, "jpg":
		return FormatJPEG
	case FormatPNG:
		return FormatPNG
	default:
		return strings.ToLower(strings.TrimSpace(format))
	}
}

func scaledDims(w, h int, scale float64) (int, int) {
	sw := int(math.Round(float64(w) * scale))
	sh := int(math.Round(float64(h) * scale))
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}

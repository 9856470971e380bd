package image

import (
	"bytes"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"shopimage-server-go/internal/platform/errors"
)

// Decode parses an image payload and reports the detected source format.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrap(errors.KindInput, "decode", "failed to decode image", err)
	}
	return img, format, nil
}

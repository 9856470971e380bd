package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Entry lifetimes per result family. Conversions are cheap to redo, so
// their entries turn over faster than the tool-backed results.
const (
	ConvertTTL  = time.Hour
	RemoveBGTTL = 2 * time.Hour
	PDFTTL      = 2 * time.Hour
)

// PayloadHash fingerprints an input payload for cache keys.
func PayloadHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConvertKey identifies a conversion result by payload and parameters.
func ConvertKey(hash string, w, h int, format string) string {
	return fmt.Sprintf("convert:%s:%d:%d:%s", hash, w, h, format)
}

// RemoveBGKey identifies a background removal result.
func RemoveBGKey(hash string, border int, color string) string {
	return fmt.Sprintf("remove_bg:%s:%d:%s", hash, border, color)
}

// PDFPageKey identifies one rasterised page of a PDF.
func PDFPageKey(hash string, page int) string {
	return fmt.Sprintf("pdf:%s:%d", hash, page)
}

// PDFAllKey identifies the full-document rasterisation of a PDF.
func PDFAllKey(hash string) string {
	return fmt.Sprintf("pdf_all:%s", hash)
}

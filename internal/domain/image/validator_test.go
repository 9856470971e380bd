package image

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"shopimage-server-go/internal/platform/config"
)

func testSecurityConfig() *config.SecurityConfig {
	return &config.SecurityConfig{
		MaxFileSize:    1 << 20,
		MaxPixels:      1 << 22,
		MaxWidth:       2048,
		MaxHeight:      2048,
		AllowedFormats: []string{"jpeg", "jpg", "png", "webp", "gif", "bmp"},
		EnableDeepScan: true,
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestValidateBytesAcceptsValidImage(t *testing.T) {
	v := NewSecurityValidator(testSecurityConfig(), nil)
	payload := encodePNG(t, newTestImage(120, 90))

	res := v.ValidateBytes(payload, "png")
	if !res.IsValid {
		t.Fatalf("expected valid, got error: %v (risk: %s)", res.Error, res.SecurityRisk)
	}
	if res.Format != "png" {
		t.Errorf("format = %s, want png", res.Format)
	}
	if res.Width != 120 || res.Height != 90 {
		t.Errorf("dims = %dx%d, want 120x90", res.Width, res.Height)
	}
	if res.FileSize != int64(len(payload)) {
		t.Errorf("file size = %d, want %d", res.FileSize, len(payload))
	}
}

func TestValidateBytesRejections(t *testing.T) {
	cfg := testSecurityConfig()
	v := NewSecurityValidator(cfg, nil)

	big := make([]byte, cfg.MaxFileSize+1)

	tests := []struct {
		name     string
		payload  []byte
		declared string
		risk     string
	}{
		{"empty payload", nil, "", ""},
		{"oversized payload", big, "png", "file too large"},
		{"unapproved format", encodePNG(t, newTestImage(4, 4)), "tiff", "unapproved format"},
		{"corrupted data", []byte("not an image at all"), "png", "corrupted image data"},
		{"executable masquerading", append([]byte{0x4D, 0x5A}, make([]byte, 64)...), "png", "corrupted image data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateBytes(tt.payload, tt.declared)
			if res.IsValid {
				t.Fatal("expected rejection")
			}
			if tt.risk != "" && res.SecurityRisk != tt.risk {
				t.Errorf("risk = %q, want %q", res.SecurityRisk, tt.risk)
			}
		})
	}
}

func TestValidateBytesRejectsOversizedDimensions(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.MaxWidth = 64
	cfg.MaxHeight = 64
	v := NewSecurityValidator(cfg, nil)

	res := v.ValidateBytes(encodePNG(t, newTestImage(128, 32)), "png")
	if res.IsValid {
		t.Fatal("expected rejection for oversized dimensions")
	}
	if res.SecurityRisk != "dimensions too large" {
		t.Errorf("risk = %q, want dimensions too large", res.SecurityRisk)
	}
}

func TestValidateBytesPixelBombRejected(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.MaxPixels = 1000
	v := NewSecurityValidator(cfg, nil)

	res := v.ValidateBytes(encodePNG(t, newTestImage(100, 100)), "png")
	if res.IsValid {
		t.Fatal("expected rejection for pixel count")
	}
	if res.SecurityRisk != "pixel count too high" {
		t.Errorf("risk = %q, want pixel count too high", res.SecurityRisk)
	}
}

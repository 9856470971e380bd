package image

// Output formats the encoder can produce.
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// MaxDim caps requested output dimensions.
const MaxDim = 4096

// SaneDim clamps a requested dimension into [1, MaxDim].
func SaneDim(v int) int {
	if v < 1 {
		return 1
	}
	if v > MaxDim {
		return MaxDim
	}
	return v
}

// ContentTypeFor returns the media type for an output format.
func ContentTypeFor(format string) string {
	switch format {
	case FormatWebP:
		return "image/webp"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// ValidationResult captures the outcome of security validation.
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Error        error
	SecurityRisk string
}

// Artifact is the product of an encode-under-budget search.
type Artifact struct {
	Data        []byte
	ContentType string
	Format      string
	Width       int
	Height      int
	Quality     int
	Scale       float64
	// BudgetMet reports whether the final bytes fit the requested budget.
	// When every quality and scale combination overshoots, the encoder
	// returns its smallest attempt with BudgetMet false instead of failing.
	BudgetMet bool
}

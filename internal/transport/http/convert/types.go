package convert

// QuotaPayload mirrors the quota headers in the response body so clients
// without header access still see their remaining allowance.
type QuotaPayload struct {
	Plan           string  `json:"plan"`
	RemainingDay   *uint64 `json:"remaining_day,omitempty"`
	RemainingMonth uint64  `json:"remaining_month"`
}

// ConvertData is the success payload of /api/convert and the tool
// endpoints that produce a single stored artifact.
type ConvertData struct {
	Filename    string       `json:"filename"`
	SizeKB      uint64       `json:"size_kb"`
	DownloadURL string       `json:"download_url"`
	Width       int          `json:"width,omitempty"`
	Height      int          `json:"height,omitempty"`
	Format      string       `json:"format,omitempty"`
	BudgetMet   bool         `json:"budget_met"`
	CacheHit    bool         `json:"cache_hit"`
	Quota       QuotaPayload `json:"quota"`
}

// BatchItem is one file's outcome inside a batch conversion.
type BatchItem struct {
	Index        int     `json:"index"`
	OK           bool    `json:"ok"`
	OriginalName string  `json:"original_name,omitempty"`
	Filename     string  `json:"filename,omitempty"`
	SizeKB       *uint64 `json:"size_kb,omitempty"`
	DownloadURL  string  `json:"download_url,omitempty"`
	BudgetMet    bool    `json:"budget_met,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// BatchData is the payload of /api/convert-batch.
type BatchData struct {
	Count int          `json:"count"`
	Items []BatchItem  `json:"items"`
	Quota QuotaPayload `json:"quota"`
}

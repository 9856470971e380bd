package config

import "time"

// DefaultConfig returns the built-in configuration. Values mirror the
// service defaults: 60 requests/minute, free plan 100/day 1000/month,
// 8MB upload ceiling and a 2048KB output budget.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:      "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			StaticDir: "",
		},
		Upload: UploadConfig{
			MaxUploadMB: 8,
			MaxBodyMB:   64,
			MaxKB:       2048,
		},
		RateLim: RateLimitConfig{
			PerMinute: 60,
			LockSecs:  0,
			IdleEvict: 30 * time.Minute,
		},
		Quota: QuotaConfig{
			DefaultPlan: "free",
			Plans: map[string]PlanConfig{
				"free":     {Daily: 100, Monthly: 1000},
				"pro":      {Daily: 0, Monthly: 5000},
				"business": {Daily: 0, Monthly: 10000},
			},
			IdleEvict:  30 * time.Minute,
			FlushEvery: 5 * time.Minute,
		},
		Security: SecurityConfig{
			MaxFileSize:    10485760,
			MaxPixels:      67108864,
			MaxWidth:       8192,
			MaxHeight:      8192,
			AllowedFormats: []string{"jpeg", "jpg", "png", "webp", "gif", "bmp"},
			EnableDeepScan: true,
		},
		Storage: StorageConfig{
			Driver: "fs",
			FS: FSStorageConfig{
				Root: "data/blobs",
			},
		},
		Database: DatabaseConfig{
			DSN: "data/shopimage.db",
		},
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    time.Hour,
		},
		Tools: ToolsConfig{
			Rasterizer: "pdftoppm",
			PDFMerge:   "scripts/merge_pdf.py",
			RemoveBG:   "scripts/remove_bg.py",
			Timeout:    60 * time.Second,
		},
		Presets: map[string]PresetConfig{
			"shopee": {
				MaxBytes: 2 * 1024 * 1024,
				TargetW:  1024,
				TargetH:  1024,
				Format:   "webp",
			},
			"lazada": {
				MaxBytes: 3 * 1024 * 1024,
				TargetW:  1200,
				TargetH:  1600,
				Format:   "webp",
			},
		},
	}
}

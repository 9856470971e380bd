package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Log      LogConfig               `yaml:"log"`
	Web      WebConfig               `yaml:"web"`
	Upload   UploadConfig            `yaml:"upload"`
	RateLim  RateLimitConfig         `yaml:"rate_limit"`
	Quota    QuotaConfig             `yaml:"quota"`
	Security SecurityConfig          `yaml:"security"`
	Storage  StorageConfig           `yaml:"storage"`
	Database DatabaseConfig          `yaml:"database"`
	Cache    CacheConfig             `yaml:"cache"`
	Tools    ToolsConfig             `yaml:"tools"`
	Presets  map[string]PresetConfig `yaml:"presets"`
}

type ServerConfig struct {
	IP      string `yaml:"ip"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type WebConfig struct {
	StaticDir string `yaml:"static_dir"`
}

// UploadConfig bounds inbound payloads and default encoder budgets.
type UploadConfig struct {
	MaxUploadMB int `yaml:"max_upload_mb"`
	MaxBodyMB   int `yaml:"max_body_mb"`
	MaxKB       int `yaml:"max_kb"`
}

// RateLimitConfig tunes the per-identity token bucket. LockSecs > 0
// enables the punitive lockout on bucket exhaustion.
type RateLimitConfig struct {
	PerMinute int           `yaml:"per_minute"`
	LockSecs  int           `yaml:"lock_secs"`
	IdleEvict time.Duration `yaml:"idle_evict"`
}

// QuotaConfig maps plan names to their limits. Daily = 0 means the plan
// has no daily cap.
type QuotaConfig struct {
	Plans       map[string]PlanConfig `yaml:"plans"`
	DefaultPlan string                `yaml:"default_plan"`
	IdleEvict   time.Duration         `yaml:"idle_evict"`
	FlushEvery  time.Duration         `yaml:"flush_every"`
}

type PlanConfig struct {
	Daily   uint64 `yaml:"daily"`
	Monthly uint64 `yaml:"monthly"`
}

type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats"`
	EnableDeepScan bool     `yaml:"enable_deep_scan"`
}

type StorageConfig struct {
	Driver string          `yaml:"driver"`
	FS     FSStorageConfig `yaml:"fs"`
}

type FSStorageConfig struct {
	Root string `yaml:"root"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type CacheConfig struct {
	Driver string           `yaml:"driver"`
	TTL    time.Duration    `yaml:"ttl"`
	Redis  RedisCacheConfig `yaml:"redis,omitempty"`
}

type RedisCacheConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// ToolsConfig points at the external helper processes.
type ToolsConfig struct {
	Rasterizer string        `yaml:"rasterizer"`
	PDFMerge   string        `yaml:"pdf_merge"`
	RemoveBG   string        `yaml:"remove_bg"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PresetConfig fills unset conversion parameters for a named platform.
type PresetConfig struct {
	MaxBytes uint64 `yaml:"max_bytes"`
	TargetW  int    `yaml:"target_w"`
	TargetH  int    `yaml:"target_h"`
	Format   string `yaml:"format"`
}

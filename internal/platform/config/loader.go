package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "shopimage-server-go/internal/platform/errors"
)

// DefaultPath is where Load looks for a YAML config file when no path is given.
const DefaultPath = ".config.yaml"

// Loader reads configuration from an optional YAML file layered over the
// built-in defaults, then applies environment variable overrides.
type Loader struct {
	useDotEnv bool
	path      string
}

func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      DefaultPath,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the YAML file location (useful for tests).
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Result captures the loaded configuration and its origin path. Path is empty
// when the configuration came entirely from defaults and the environment.
type Result struct {
	Config *Config
	Path   string
}

func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using system environment")
		}
	}

	cfg := DefaultConfig()
	path := ""

	if data, err := os.ReadFile(l.path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfig, "load",
				fmt.Sprintf("parse %s", l.path), err)
		}
		path = l.path
	} else if !os.IsNotExist(err) {
		return nil, apperrors.Wrap(apperrors.KindConfig, "load",
			fmt.Sprintf("read %s", l.path), err)
	}

	l.applyEnv(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{
		Config: cfg,
		Path:   path,
	}, nil
}

// applyEnv copies recognised environment variables over the file values.
// Variables with unparseable numbers are ignored rather than failing the boot.
func (l *Loader) applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLim.PerMinute = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_LOCK_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLim.LockSecs = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Upload.MaxUploadMB = n
		}
	}
	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		cfg.Storage.FS.Root = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return apperrors.New(apperrors.KindConfig, "validate",
			fmt.Sprintf("server port %d out of range", cfg.Server.Port))
	}
	if cfg.RateLim.PerMinute < 1 {
		return apperrors.New(apperrors.KindConfig, "validate",
			"rate_limit.per_minute must be at least 1")
	}
	if cfg.Upload.MaxUploadMB < 1 {
		return apperrors.New(apperrors.KindConfig, "validate",
			"upload.max_upload_mb must be at least 1")
	}
	if cfg.Quota.DefaultPlan != "" {
		if _, ok := cfg.Quota.Plans[cfg.Quota.DefaultPlan]; !ok {
			return apperrors.New(apperrors.KindConfig, "validate",
				fmt.Sprintf("default plan %q not defined in quota.plans", cfg.Quota.DefaultPlan))
		}
	}
	for name, plan := range cfg.Quota.Plans {
		if plan.Monthly == 0 {
			return apperrors.New(apperrors.KindConfig, "validate",
				fmt.Sprintf("plan %q has no monthly limit", name))
		}
	}
	switch cfg.Storage.Driver {
	case "fs":
	default:
		return apperrors.New(apperrors.KindConfig, "validate",
			fmt.Sprintf("unknown storage driver %q", cfg.Storage.Driver))
	}
	switch cfg.Cache.Driver {
	case "memory", "redis":
	default:
		return apperrors.New(apperrors.KindConfig, "validate",
			fmt.Sprintf("unknown cache driver %q", cfg.Cache.Driver))
	}
	for name, preset := range cfg.Presets {
		if preset.MaxBytes == 0 {
			return apperrors.New(apperrors.KindConfig, "validate",
				fmt.Sprintf("preset %q has no byte budget", name))
		}
	}
	return nil
}

package convert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shopimage-server-go/internal/domain/cache"
	"shopimage-server-go/internal/domain/image"
	"shopimage-server-go/internal/platform/config"
	"shopimage-server-go/internal/platform/errors"
	"shopimage-server-go/internal/platform/logging"
	"shopimage-server-go/internal/platform/storage"
)

// Params controls one conversion. Zero values mean "not requested": the
// preset (when Platform is set) and then the server defaults fill them in.
type Params struct {
	Platform  string
	Format    string
	MaxBytes  uint64
	TargetW   int
	TargetH   int
	MaxUpload int64
}

// Result describes a stored conversion artifact.
type Result struct {
	Filename  string `json:"filename"`
	Key       string `json:"-"`
	SizeKB    uint64 `json:"size_kb"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	BudgetMet bool   `json:"budget_met"`
	CacheHit  bool   `json:"cache_hit"`
}

// Pipeline runs the full conversion flow: validate, crop, resize, encode
// under budget, and persist. Encoded bytes are cached by payload hash and
// parameters so repeated conversions skip the encode search.
type Pipeline struct {
	validator *image.SecurityValidator
	blobs     storage.BlobStore
	cache     cache.Store
	presets   map[string]config.PresetConfig
	upload    config.UploadConfig
	logger    *logging.Logger
}

// Options configures the pipeline.
type Options struct {
	Security *config.SecurityConfig
	Blobs    storage.BlobStore
	Cache    cache.Store
	Presets  map[string]config.PresetConfig
	Upload   config.UploadConfig
	Logger   *logging.Logger
}

// NewPipeline constructs a conversion pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Security == nil {
		return nil, errors.New(errors.KindBootstrap, "convert.new", "security config is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New(errors.KindBootstrap, "convert.new", "blob store is required")
	}
	return &Pipeline{
		validator: image.NewSecurityValidator(opts.Security, opts.Logger),
		blobs:     opts.Blobs,
		cache:     opts.Cache,
		presets:   opts.Presets,
		upload:    opts.Upload,
		logger:    opts.Logger,
	}, nil
}

// ValidateUpload runs the input checks without converting anything, so
// callers can reject a bad payload before charging quota for it.
func (p *Pipeline) ValidateUpload(data []byte, params Params) error {
	_, err := p.validateInput(data, p.applyDefaults(params))
	return err
}

func (p *Pipeline) validateInput(data []byte, params Params) (image.ValidationResult, error) {
	if params.MaxUpload > 0 && int64(len(data)) > params.MaxUpload {
		return image.ValidationResult{}, errors.New(errors.KindInput, "convert",
			fmt.Sprintf("file too large (max %dMB)", params.MaxUpload/(1024*1024)))
	}
	validation := p.validator.ValidateBytes(data, "")
	if !validation.IsValid {
		if validation.Error != nil {
			return validation, errors.Wrap(errors.KindInput, "convert", "image validation failed", validation.Error)
		}
		return validation, errors.New(errors.KindInput, "convert", "image validation failed")
	}
	return validation, nil
}

// Convert processes one uploaded payload and stores the result.
func (p *Pipeline) Convert(ctx context.Context, data []byte, params Params) (*Result, error) {
	params = p.applyDefaults(params)

	validation, err := p.validateInput(data, params)
	if err != nil {
		return nil, err
	}

	format := image.NormalizeFormat(params.Format)
	hash := cache.PayloadHash(data)
	key := cache.ConvertKey(hash, params.TargetW, params.TargetH, format)

	var artifact image.Artifact
	cacheHit := false
	if cached, ok := p.cacheGet(ctx, key); ok {
		// Cached bytes carry enough to rebuild the artifact metadata.
		if decoded, _, err := image.Decode(cached); err == nil {
			b := decoded.Bounds()
			artifact = image.Artifact{
				Data:        cached,
				ContentType: image.ContentTypeFor(format),
				Format:      format,
				Width:       b.Dx(),
				Height:      b.Dy(),
				BudgetMet:   params.MaxBytes == 0 || uint64(len(cached)) <= params.MaxBytes,
			}
			cacheHit = true
		}
	}

	if !cacheHit {
		img, _, err := image.Decode(data)
		if err != nil {
			return nil, err
		}

		// Both targets set means crop to the aspect and land exactly on the
		// box; a single target is a proportional downscale.
		if params.TargetW > 0 && params.TargetH > 0 {
			img = image.CropToAspect(img, params.TargetW, params.TargetH)
			img = image.ResizeExact(img, params.TargetW, params.TargetH)
		} else {
			img = image.ResizeToFit(img, params.TargetW, params.TargetH)
		}

		artifact, err = image.EncodeUnderBudget(img, format, params.MaxBytes)
		if err != nil {
			return nil, err
		}
		p.cacheSet(ctx, key, artifact.Data)
	}

	filename := fmt.Sprintf("%s.%s", uuid.New().String(), extFor(artifact.Format))
	blobKey := fmt.Sprintf("output/%s/%s", time.Now().UTC().Format("2006-01-02"), filename)
	if err := p.blobs.Put(ctx, blobKey, storage.Blob{
		Data:        artifact.Data,
		ContentType: artifact.ContentType,
	}); err != nil {
		return nil, err
	}

	p.logger.InfoTag("PIPE", fmt.Sprintf(
		"converted %dx%d -> %dx%d %s q=%d size=%dKB budget_met=%v cache_hit=%v",
		validation.Width, validation.Height,
		artifact.Width, artifact.Height,
		artifact.Format, artifact.Quality,
		uint64(len(artifact.Data))/1024, artifact.BudgetMet, cacheHit,
	))

	return &Result{
		Filename:  filename,
		Key:       blobKey,
		SizeKB:    uint64(len(artifact.Data)) / 1024,
		Width:     artifact.Width,
		Height:    artifact.Height,
		Format:    artifact.Format,
		BudgetMet: artifact.BudgetMet,
		CacheHit:  cacheHit,
	}, nil
}

// applyDefaults resolves the preset and fills unset parameters from the
// server defaults. Explicit request values always win over the preset.
func (p *Pipeline) applyDefaults(params Params) Params {
	if preset, ok := p.presets[params.Platform]; ok {
		if params.MaxBytes == 0 {
			params.MaxBytes = preset.MaxBytes
		}
		if params.TargetW == 0 {
			params.TargetW = preset.TargetW
		}
		if params.TargetH == 0 {
			params.TargetH = preset.TargetH
		}
		if params.Format == "" {
			params.Format = preset.Format
		}
	}
	if params.MaxBytes == 0 && p.upload.MaxKB > 0 {
		params.MaxBytes = uint64(p.upload.MaxKB) * 1024
	}
	if params.MaxUpload == 0 && p.upload.MaxUploadMB > 0 {
		params.MaxUpload = int64(p.upload.MaxUploadMB) * 1024 * 1024
	}
	if params.TargetW > 0 {
		params.TargetW = image.SaneDim(params.TargetW)
	}
	if params.TargetH > 0 {
		params.TargetH = image.SaneDim(params.TargetH)
	}
	return params
}

func (p *Pipeline) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if p.cache == nil {
		return nil, false
	}
	data, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.WarnTag("CACHE", fmt.Sprintf("get failed: %v", err))
		return nil, false
	}
	return data, ok
}

func (p *Pipeline) cacheSet(ctx context.Context, key string, data []byte) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, key, data, cache.ConvertTTL); err != nil {
		p.logger.WarnTag("CACHE", fmt.Sprintf("set failed: %v", err))
	}
}

func extFor(format string) string {
	switch format {
	case image.FormatJPEG:
		return "jpg"
	case image.FormatPNG:
		return "png"
	default:
		return "webp"
	}
}

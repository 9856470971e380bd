package convert

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"shopimage-server-go/internal/domain/admission"
	"shopimage-server-go/internal/domain/cache"
	domainconvert "shopimage-server-go/internal/domain/convert"
	"shopimage-server-go/internal/domain/tools"
	"shopimage-server-go/internal/platform/config"
	"shopimage-server-go/internal/platform/errors"
	"shopimage-server-go/internal/platform/logging"
	"shopimage-server-go/internal/platform/storage"
	httptransport "shopimage-server-go/internal/transport/http"
)

// Service is the HTTP surface of the conversion domain.
type Service struct {
	cfg      *config.Config
	logger   *logging.Logger
	pipeline *domainconvert.Pipeline
	gate     *admission.Gate
	runner   *tools.Runner
	blobs    storage.BlobStore
	cache    cache.Store
}

// NewService wires the conversion endpoints.
func NewService(
	cfg *config.Config,
	logger *logging.Logger,
	pipeline *domainconvert.Pipeline,
	gate *admission.Gate,
	runner *tools.Runner,
	blobs storage.BlobStore,
	cacheStore cache.Store,
) (*Service, error) {
	if cfg == nil {
		return nil, errors.New(errors.KindBootstrap, "convert.new", "config is required")
	}
	if pipeline == nil {
		return nil, errors.New(errors.KindBootstrap, "convert.new", "pipeline is required")
	}
	if gate == nil {
		return nil, errors.New(errors.KindBootstrap, "convert.new", "admission gate is required")
	}
	if blobs == nil {
		return nil, errors.New(errors.KindBootstrap, "convert.new", "blob store is required")
	}
	return &Service{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipeline,
		gate:     gate,
		runner:   runner,
		blobs:    blobs,
		cache:    cacheStore,
	}, nil
}

// Register mounts the rate-limited conversion routes.
func (s *Service) Register(ctx context.Context, protected *gin.RouterGroup) error {
	protected.POST("/convert", s.handleConvert)
	protected.POST("/convert-batch", s.handleConvertBatch)
	protected.POST("/remove-bg", s.handleRemoveBG)
	protected.POST("/pdf/convert", s.handlePDFConvert)
	protected.POST("/pdf/merge", s.handlePDFMerge)

	s.logger.InfoTag("HTTP", "conversion routes registered")
	return nil
}

// RegisterPublic mounts the routes that bypass admission control.
func (s *Service) RegisterPublic(engine *gin.Engine) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	engine.GET("/dl/*path", s.handleDownload)
}

// queryParams reads the shared conversion parameters. Empty string values
// count as unset, matching clients that always send every field.
func queryParams(c *gin.Context) domainconvert.Params {
	return domainconvert.Params{
		Platform:  strings.TrimSpace(c.Query("platform")),
		Format:    strings.TrimSpace(c.Query("format")),
		MaxBytes:  parseUint(c.Query("max_kb")) * 1024,
		TargetW:   int(parseUint(c.Query("target_w"))),
		TargetH:   int(parseUint(c.Query("target_h"))),
		MaxUpload: int64(parseUint(c.Query("max_upload_mb"))) * 1024 * 1024,
	}
}

func parseUint(s string) uint64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func quotaPayload(q admission.QuotaDecision) QuotaPayload {
	return QuotaPayload{
		Plan:           q.Plan,
		RemainingDay:   q.RemainingDay,
		RemainingMonth: q.RemainingMonth,
	}
}

func (s *Service) downloadURL(key string) string {
	return fmt.Sprintf("%s/dl/%s", strings.TrimRight(s.cfg.Server.BaseURL, "/"), key)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// chargeQuota consumes units and attaches the quota headers. On rejection
// it writes the 429 response and returns false.
func (s *Service) chargeQuota(c *gin.Context, units uint64) (admission.QuotaDecision, bool) {
	identity, plan := httptransport.Identity(c)
	q := s.gate.ConsumeQuota(identity, plan, units)
	httptransport.SetQuotaHeaders(c, q)
	if !q.Allowed {
		httptransport.RespondError(c, http.StatusTooManyRequests,
			fmt.Sprintf("%s quota exceeded", q.Exceeded),
			gin.H{"quota": quotaPayload(q)})
		return q, false
	}
	return q, true
}

func (s *Service) handleConvert(c *gin.Context) {
	params := queryParams(c)

	fh, err := c.FormFile("file")
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "no file received", nil)
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid file", nil)
		return
	}

	// Bad payloads are rejected before any quota is spent on them.
	if err := s.pipeline.ValidateUpload(data, params); err != nil {
		s.respondPipelineError(c, err)
		return
	}

	q, ok := s.chargeQuota(c, 1)
	if !ok {
		return
	}

	res, err := s.pipeline.Convert(c.Request.Context(), data, params)
	if err != nil {
		s.respondPipelineError(c, err)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, ConvertData{
		Filename:    res.Filename,
		SizeKB:      res.SizeKB,
		DownloadURL: s.downloadURL(res.Key),
		Width:       res.Width,
		Height:      res.Height,
		Format:      res.Format,
		BudgetMet:   res.BudgetMet,
		CacheHit:    res.CacheHit,
		Quota:       quotaPayload(q),
	}, "")
}

func (s *Service) handleConvertBatch(c *gin.Context) {
	params := queryParams(c)

	form, err := c.MultipartForm()
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid multipart form", nil)
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		httptransport.RespondError(c, http.StatusBadRequest, "no files received", nil)
		return
	}

	identity, plan := httptransport.Identity(c)

	items := make([]BatchItem, 0, len(files))
	var lastQuota admission.QuotaDecision
	for i, fh := range files {
		item := BatchItem{Index: i, OriginalName: fh.Filename}

		data, err := readUpload(fh)
		if err != nil {
			item.Error = "invalid file"
			items = append(items, item)
			continue
		}

		// A file that fails validation never costs a quota unit.
		if err := s.pipeline.ValidateUpload(data, params); err != nil {
			item.Error = publicError(err)
			items = append(items, item)
			continue
		}

		// Each file is charged individually, so a batch that overruns the
		// quota partway still converts the files that fit.
		q := s.gate.ConsumeQuota(identity, plan, 1)
		lastQuota = q
		if !q.Allowed {
			item.Error = fmt.Sprintf("%s quota exceeded", q.Exceeded)
			items = append(items, item)
			continue
		}

		res, err := s.pipeline.Convert(c.Request.Context(), data, params)
		if err != nil {
			item.Error = publicError(err)
			items = append(items, item)
			continue
		}

		size := res.SizeKB
		item.OK = true
		item.Filename = res.Filename
		item.SizeKB = &size
		item.DownloadURL = s.downloadURL(res.Key)
		item.BudgetMet = res.BudgetMet
		items = append(items, item)
	}

	httptransport.SetQuotaHeaders(c, lastQuota)
	httptransport.RespondSuccess(c, http.StatusOK, BatchData{
		Count: len(items),
		Items: items,
		Quota: quotaPayload(lastQuota),
	}, "")
}

func (s *Service) handleDownload(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("path"), "/")
	blob, err := s.blobs.Get(c.Request.Context(), key)
	if err != nil {
		httptransport.RespondError(c, http.StatusNotFound, "file not found", nil)
		return
	}
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}

// respondPipelineError maps domain errors onto HTTP statuses. Upload size
// violations get 413 and undecodable payloads 415, everything else in the
// input family is a 400.
func (s *Service) respondPipelineError(c *gin.Context, err error) {
	msg := publicError(err)
	switch {
	case errors.IsKind(err, errors.KindInput) && strings.Contains(msg, "too large"):
		httptransport.RespondError(c, http.StatusRequestEntityTooLarge, msg, nil)
	case errors.IsKind(err, errors.KindInput) && strings.Contains(msg, "decode"):
		httptransport.RespondError(c, http.StatusUnsupportedMediaType, "unsupported image", nil)
	case errors.IsKind(err, errors.KindInput):
		httptransport.RespondError(c, http.StatusBadRequest, msg, nil)
	default:
		s.logger.ErrorTag("HTTP", fmt.Sprintf("conversion failed: %v", err))
		httptransport.RespondError(c, http.StatusInternalServerError, "conversion failed", nil)
	}
}

// publicError strips the internal kind/op prefix from a typed error.
func publicError(err error) string {
	var typed *errors.Error
	if e, ok := err.(*errors.Error); ok {
		typed = e
	}
	if typed != nil {
		if typed.Cause != nil {
			return fmt.Sprintf("%s: %v", typed.Message, typed.Cause)
		}
		return typed.Message
	}
	return err.Error()
}

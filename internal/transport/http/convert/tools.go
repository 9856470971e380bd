package convert

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shopimage-server-go/internal/domain/admission"
	"shopimage-server-go/internal/domain/cache"
	"shopimage-server-go/internal/platform/errors"
	"shopimage-server-go/internal/platform/storage"
	httptransport "shopimage-server-go/internal/transport/http"
)

func (s *Service) handleRemoveBG(c *gin.Context) {
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

	border := int(parseUint(c.Query("border")))
	color := strings.TrimSpace(c.Query("color"))
	if color == "" {
		color = "white"
	}

	q, ok := s.chargeQuota(c, 1)
	if !ok {
		return
	}

	key := cache.RemoveBGKey(cache.PayloadHash(data), border, color)
	result, cacheHit := s.cachedBytes(c, key)
	if !cacheHit {
		result, err = s.runner.RemoveBackground(c.Request.Context(), data, border, color)
		if err != nil {
			s.respondToolError(c, err)
			return
		}
		s.cacheBytes(c, key, result, cache.RemoveBGTTL)
	}

	s.respondStored(c, result, "png", "image/png", q, cacheHit)
}

func (s *Service) handlePDFConvert(c *gin.Context) {
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

	page := int(parseUint(c.Query("page")))

	q, ok := s.chargeQuota(c, 1)
	if !ok {
		return
	}

	hash := cache.PayloadHash(data)

	// A specific page becomes one PNG; the whole document becomes a zip
	// with one PNG per page.
	if page > 0 {
		key := cache.PDFPageKey(hash, page)
		result, cacheHit := s.cachedBytes(c, key)
		if !cacheHit {
			result, err = s.runner.RasterizePDF(c.Request.Context(), data, page)
			if err != nil {
				s.respondToolError(c, err)
				return
			}
			s.cacheBytes(c, key, result, cache.PDFTTL)
		}
		s.respondStored(c, result, "png", "image/png", q, cacheHit)
		return
	}

	key := cache.PDFAllKey(hash)
	result, cacheHit := s.cachedBytes(c, key)
	if !cacheHit {
		pages, err := s.runner.RasterizeAll(c.Request.Context(), data)
		if err != nil {
			s.respondToolError(c, err)
			return
		}
		if len(pages) == 0 {
			httptransport.RespondError(c, http.StatusBadRequest, "document has no pages", nil)
			return
		}
		result, err = zipPages(pages)
		if err != nil {
			s.logger.ErrorTag("TOOL", fmt.Sprintf("zip failed: %v", err))
			httptransport.RespondError(c, http.StatusInternalServerError, "archive failed", nil)
			return
		}
		s.cacheBytes(c, key, result, cache.PDFTTL)
	}

	s.respondStored(c, result, "zip", "application/zip", q, cacheHit)
}

func (s *Service) handlePDFMerge(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid multipart form", nil)
		return
	}
	files := form.File["file"]
	if len(files) < 2 {
		httptransport.RespondError(c, http.StatusBadRequest, "merge needs at least two files", nil)
		return
	}

	docs := make([][]byte, 0, len(files))
	for _, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			httptransport.RespondError(c, http.StatusBadRequest, "invalid file", nil)
			return
		}
		docs = append(docs, data)
	}

	q, ok := s.chargeQuota(c, 1)
	if !ok {
		return
	}

	merged, err := s.runner.MergePDFs(c.Request.Context(), docs)
	if err != nil {
		s.respondToolError(c, err)
		return
	}

	s.respondStored(c, merged, "pdf", "application/pdf", q, false)
}

// respondStored persists a tool artifact and answers with its download
// location, mirroring the shape of the conversion response.
func (s *Service) respondStored(c *gin.Context, data []byte, ext, contentType string, q admission.QuotaDecision, cacheHit bool) {
	filename := fmt.Sprintf("%s.%s", uuid.New().String(), ext)
	key := fmt.Sprintf("output/%s/%s", time.Now().UTC().Format("2006-01-02"), filename)

	if err := s.blobs.Put(c.Request.Context(), key, storage.Blob{
		Data:        data,
		ContentType: contentType,
	}); err != nil {
		s.logger.ErrorTag("STORAGE", fmt.Sprintf("store failed: %v", err))
		httptransport.RespondError(c, http.StatusInternalServerError, "upload error", nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, ConvertData{
		Filename:    filename,
		SizeKB:      uint64(len(data)) / 1024,
		DownloadURL: s.downloadURL(key),
		BudgetMet:   true,
		CacheHit:    cacheHit,
		Quota:       quotaPayload(q),
	}, "")
}

func (s *Service) respondToolError(c *gin.Context, err error) {
	if errors.IsKind(err, errors.KindInput) {
		httptransport.RespondError(c, http.StatusBadRequest, publicError(err), nil)
		return
	}
	s.logger.ErrorTag("TOOL", fmt.Sprintf("tool failed: %v", err))
	httptransport.RespondError(c, http.StatusInternalServerError, "processing failed", nil)
}

func (s *Service) cachedBytes(c *gin.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(c.Request.Context(), key)
	if err != nil {
		s.logger.WarnTag("CACHE", fmt.Sprintf("get failed: %v", err))
		return nil, false
	}
	return data, ok
}

func (s *Service) cacheBytes(c *gin.Context, key string, data []byte, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(c.Request.Context(), key, data, ttl); err != nil {
		s.logger.WarnTag("CACHE", fmt.Sprintf("set failed: %v", err))
	}
}

func zipPages(pages [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, page := range pages {
		w, err := zw.Create(fmt.Sprintf("page-%d.png", i+1))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(page); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

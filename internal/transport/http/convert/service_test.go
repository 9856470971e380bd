package convert

import (
	"bytes"
	"context"
	"encoding/json"
	stdimage "image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"shopimage-server-go/internal/domain/admission"
	"shopimage-server-go/internal/domain/cache"
	domainconvert "shopimage-server-go/internal/domain/convert"
	"shopimage-server-go/internal/platform/config"
	"shopimage-server-go/internal/platform/storage"
	httptransport "shopimage-server-go/internal/transport/http"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = "http://test"
	cfg.Storage.FS.Root = t.TempDir()
	cfg.RateLim.PerMinute = 10
	cfg.Quota.Plans = map[string]config.PlanConfig{
		"free": {Daily: 3, Monthly: 10},
		"pro":  {Daily: 0, Monthly: 100},
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()

	blobs, err := storage.NewBlobStore(cfg.Storage)
	if err != nil {
		t.Fatalf("NewBlobStore error: %v", err)
	}
	cacheStore := cache.NewMemory(cache.Config{TTL: time.Minute})
	t.Cleanup(func() { _ = cacheStore.Close(context.Background()) })

	plans := make(map[string]admission.PlanLimits, len(cfg.Quota.Plans))
	for name, p := range cfg.Quota.Plans {
		plans[name] = admission.PlanLimits{Daily: p.Daily, Monthly: p.Monthly}
	}
	gate := admission.NewGate(
		admission.NewRateLimiter(cfg.RateLim.PerMinute, 0),
		admission.NewLedger(plans, cfg.Quota.DefaultPlan),
		0, nil,
	)

	pipeline, err := domainconvert.NewPipeline(domainconvert.Options{
		Security: &cfg.Security,
		Blobs:    blobs,
		Cache:    cacheStore,
		Presets:  cfg.Presets,
		Upload:   cfg.Upload,
	})
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}

	router, err := httptransport.Build(httptransport.Options{
		Config: cfg,
		Gate:   gate,
	})
	if err != nil {
		t.Fatalf("Build router error: %v", err)
	}

	svc, err := NewService(cfg, nil, pipeline, gate, nil, blobs, cacheStore)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	if err := svc.Register(context.Background(), router.Protected); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	svc.RegisterPublic(router.Engine)

	return router.Engine
}

func pngUpload(t *testing.T, w, h int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return body, mw.FormDataContentType()
}

func doConvert(t *testing.T, engine *gin.Engine, url string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", map[string][]byte{
		"input.png": pngUpload(t, 400, 300),
	})
	req := httptest.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestConvertEndpoint(t *testing.T) {
	engine := newTestServer(t, testConfig(t))

	rec := doConvert(t, engine, "/api/convert?target_w=100&target_h=100&format=webp", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool        `json:"success"`
		Data    ConvertData `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success envelope")
	}
	if !strings.HasSuffix(resp.Data.Filename, ".webp") {
		t.Errorf("filename = %s, want .webp", resp.Data.Filename)
	}
	if !strings.HasPrefix(resp.Data.DownloadURL, "http://test/dl/output/") {
		t.Errorf("download url = %s", resp.Data.DownloadURL)
	}
	if resp.Data.Width != 100 || resp.Data.Height != 100 {
		t.Errorf("dims = %dx%d, want 100x100", resp.Data.Width, resp.Data.Height)
	}
	if resp.Data.Quota.Plan != "free" {
		t.Errorf("plan = %s, want free", resp.Data.Quota.Plan)
	}

	// Rate and quota headers must be present for browser clients.
	if rec.Header().Get("x-ratelimit-limit") != "10" {
		t.Errorf("x-ratelimit-limit = %s, want 10", rec.Header().Get("x-ratelimit-limit"))
	}
	if rec.Header().Get("x-quota-plan") != "free" {
		t.Errorf("x-quota-plan = %s, want free", rec.Header().Get("x-quota-plan"))
	}
	if rec.Header().Get("x-quota-remaining-day") != "2" {
		t.Errorf("x-quota-remaining-day = %s, want 2", rec.Header().Get("x-quota-remaining-day"))
	}

	// The stored artifact is downloadable through the proxy path.
	key := strings.TrimPrefix(resp.Data.DownloadURL, "http://test/dl/")
	dlReq := httptest.NewRequest(http.MethodGet, "/dl/"+key, nil)
	dlRec := httptest.NewRecorder()
	engine.ServeHTTP(dlRec, dlReq)
	if dlRec.Code != http.StatusOK {
		t.Fatalf("download status = %d", dlRec.Code)
	}
	if ct := dlRec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/webp") {
		t.Errorf("download content type = %s, want image/webp", ct)
	}
}

func TestConvertQuotaExhaustion(t *testing.T) {
	engine := newTestServer(t, testConfig(t))
	headers := map[string]string{"x-user-id": "u1", "x-plan": "free"}

	for i := 0; i < 3; i++ {
		rec := doConvert(t, engine, "/api/convert", headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}

	rec := doConvert(t, engine, "/api/convert", headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("x-quota-remaining-day"); got != "0" {
		t.Errorf("x-quota-remaining-day = %s, want 0", got)
	}
	if !strings.Contains(rec.Body.String(), "daily quota exceeded") {
		t.Errorf("body = %s, want daily quota message", rec.Body.String())
	}
}

func TestConvertRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLim.PerMinute = 2
	engine := newTestServer(t, cfg)
	headers := map[string]string{"x-user-id": "u1", "x-plan": "pro"}

	for i := 0; i < 2; i++ {
		rec := doConvert(t, engine, "/api/convert", headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}

	rec := doConvert(t, engine, "/api/convert", headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("retry-after") == "" {
		t.Error("expected retry-after header")
	}
	// A rate-limited request is never charged quota.
	if rec.Header().Get("x-quota-remaining-month") != "" {
		t.Error("rate-limited response should not carry quota headers")
	}
}

func TestConvertUnlimitedDailyPlan(t *testing.T) {
	engine := newTestServer(t, testConfig(t))

	rec := doConvert(t, engine, "/api/convert", map[string]string{
		"x-user-id": "u1", "x-plan": "pro",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("x-quota-remaining-day"); got != "unlimited" {
		t.Errorf("x-quota-remaining-day = %s, want unlimited", got)
	}
}

func TestConvertRejectsMissingFile(t *testing.T) {
	engine := newTestServer(t, testConfig(t))

	body, contentType := multipartBody(t, "other", map[string][]byte{"x.png": {1, 2, 3}})
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestConvertInvalidUploadNotCharged(t *testing.T) {
	engine := newTestServer(t, testConfig(t))
	headers := map[string]string{"x-user-id": "u1", "x-plan": "free"}

	body, contentType := multipartBody(t, "file", map[string][]byte{
		"bad.png": []byte("definitely not an image"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("x-quota-remaining-day") != "" {
		t.Error("rejected upload should not carry quota headers")
	}

	// The failed upload cost nothing: the next valid request still sees
	// the full daily allowance minus itself.
	rec = doConvert(t, engine, "/api/convert", headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("x-quota-remaining-day"); got != "2" {
		t.Errorf("x-quota-remaining-day = %s, want 2", got)
	}
}

func TestConvertBatchPartialQuota(t *testing.T) {
	engine := newTestServer(t, testConfig(t))
	payload := pngUpload(t, 100, 100)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for i := 0; i < 5; i++ {
		fw, _ := mw.CreateFormFile("file", "in.png")
		fw.Write(payload)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/convert-batch", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-user-id", "u1")
	req.Header.Set("x-plan", "free")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data BatchData `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Count != 5 {
		t.Fatalf("count = %d, want 5", resp.Data.Count)
	}

	// Free plan allows 3 per day: first three convert, the rest fail.
	okCount := 0
	for _, item := range resp.Data.Items {
		if item.OK {
			okCount++
		} else if !strings.Contains(item.Error, "quota") {
			t.Errorf("item %d error = %q, want quota message", item.Index, item.Error)
		}
	}
	if okCount != 3 {
		t.Errorf("converted %d items, want 3", okCount)
	}
}

func TestHealthz(t *testing.T) {
	engine := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", rec.Code, rec.Body.String())
	}
}

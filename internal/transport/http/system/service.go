package system

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"shopimage-server-go/internal/platform/config"
	"shopimage-server-go/internal/platform/errors"
	"shopimage-server-go/internal/platform/logging"
	httptransport "shopimage-server-go/internal/transport/http"
)

// Service reports process and host health for operators.
type Service struct {
	cfg     *config.Config
	logger  *logging.Logger
	started time.Time
}

func NewService(cfg *config.Config, logger *logging.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New(errors.KindBootstrap, "system.new", "config is required")
	}
	return &Service{
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
	}, nil
}

// Register mounts the status route. It sits outside the rate limited
// group so monitoring does not consume caller budgets.
func (s *Service) Register(ctx context.Context, api *gin.RouterGroup) error {
	api.GET("/system/status", s.handleStatus)
	s.logger.InfoTag("HTTP", "system routes registered")
	return nil
}

type statusPayload struct {
	Uptime     string  `json:"uptime"`
	GoVersion  string  `json:"go_version"`
	Goroutines int     `json:"goroutines"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	MemUsedMB  uint64  `json:"mem_used_mb"`
	DiskFreeGB float64 `json:"disk_free_gb"`
}

func (s *Service) handleStatus(c *gin.Context) {
	payload := statusPayload{
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload.MemPercent = vm.UsedPercent
		payload.MemUsedMB = vm.Used / (1024 * 1024)
	}
	if du, err := disk.Usage(s.cfg.Storage.FS.Root); err == nil {
		payload.DiskFreeGB = float64(du.Free) / (1024 * 1024 * 1024)
	}

	httptransport.RespondSuccess(c, http.StatusOK, payload, "")
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"shopimage-server-go/internal/domain/admission"
	"shopimage-server-go/internal/domain/cache"
	domainconvert "shopimage-server-go/internal/domain/convert"
	"shopimage-server-go/internal/domain/tools"
	platformconfig "shopimage-server-go/internal/platform/config"
	platformerrors "shopimage-server-go/internal/platform/errors"
	platformlogging "shopimage-server-go/internal/platform/logging"
	platformstorage "shopimage-server-go/internal/platform/storage"
	httptransport "shopimage-server-go/internal/transport/http"
	httpconvert "shopimage-server-go/internal/transport/http/convert"
	httpsystem "shopimage-server-go/internal/transport/http/system"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger
	db         *gorm.DB
	usageRepo  platformstorage.UsageRepository
	blobs      platformstorage.BlobStore
	cacheStore cache.Store
	gate       *admission.Gate
	pipeline   *domainconvert.Pipeline
	runner     *tools.Runner
}

// Run drives the whole service lifecycle: configuration, dependency
// initialisation, serving, and graceful shutdown.
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	flushUsage(context.Background(), state)
	if state.cacheStore != nil {
		if err := state.cacheStore.Close(context.Background()); err != nil {
			logger.WarnTag("CACHE", "cache close failed: %v", err)
		}
	}
	logger.InfoTag("BOOT", "service stopped cleanly")
	logger.Close()
	return nil
}

// InitGraph declares the boot steps and their ordering constraints.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "storage:init-blobs",
			Title:     "Initialise blob store",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initBlobStoreStep,
		},
		{
			ID:        "cache:init-store",
			Title:     "Initialise cache store",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initCacheStep,
		},
		{
			ID:        "admission:init-gate",
			Title:     "Initialise admission gate",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initGateStep,
		},
		{
			ID:        "convert:init-pipeline",
			Title:     "Initialise conversion pipeline",
			DependsOn: []string{"storage:init-blobs", "cache:init-store"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initPipelineStep,
		},
		{
			ID:        "tools:init-runner",
			Title:     "Initialise external tool runner",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initRunnerStep,
		},
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialise logging provider", err)
	}

	state.logger = logger
	source := state.configPath
	if source == "" {
		source = "defaults"
	}
	logger.InfoTag("BOOT", "logging ready [%s] config=%s", state.config.Log.Level, source)
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := platformstorage.OpenDatabase(state.config.Database.DSN)
	if err != nil {
		return err
	}
	state.db = db
	state.usageRepo = platformstorage.NewUsageRepository(db)
	state.logger.InfoTag("STORAGE", "database ready at %s", state.config.Database.DSN)
	return nil
}

func initBlobStoreStep(_ context.Context, state *appState) error {
	blobs, err := platformstorage.NewBlobStore(state.config.Storage)
	if err != nil {
		return err
	}
	state.blobs = blobs
	state.logger.InfoTag("STORAGE", "blob store ready (%s)", state.config.Storage.Driver)
	return nil
}

func initCacheStep(_ context.Context, state *appState) error {
	cfg := cache.Config{
		Driver: state.config.Cache.Driver,
		TTL:    state.config.Cache.TTL,
	}
	if cfg.Driver == cache.DriverRedis {
		cfg.Redis = &cache.RedisConfig{
			Addr:     state.config.Cache.Redis.Addr,
			Username: state.config.Cache.Redis.Username,
			Password: state.config.Cache.Redis.Password,
			DB:       state.config.Cache.Redis.DB,
			Prefix:   state.config.Cache.Redis.Prefix,
		}
	}

	store, err := cache.New(cfg)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "cache:init-store", "failed to create cache store", err)
	}
	state.cacheStore = store
	state.logger.InfoTag("CACHE", "cache ready (%s)", cfg.Driver)
	return nil
}

func initGateStep(ctx context.Context, state *appState) error {
	cfg := state.config

	plans := make(map[string]admission.PlanLimits, len(cfg.Quota.Plans))
	for name, p := range cfg.Quota.Plans {
		plans[name] = admission.PlanLimits{Daily: p.Daily, Monthly: p.Monthly}
	}

	lockout := time.Duration(cfg.RateLim.LockSecs) * time.Second
	limiter := admission.NewRateLimiter(cfg.RateLim.PerMinute, lockout)
	ledger := admission.NewLedger(plans, cfg.Quota.DefaultPlan)

	// Seed the ledger from the last persisted snapshots so quota survives
	// restarts.
	records, err := state.usageRepo.LoadAll(ctx)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		snapshots := make([]admission.UsageSnapshot, 0, len(records))
		for _, r := range records {
			snapshots = append(snapshots, admission.UsageSnapshot{
				Identity:   r.Identity,
				Plan:       r.Plan,
				Day:        r.Day,
				DayCount:   r.DayCount,
				Month:      r.Month,
				MonthCount: r.MonthCount,
				Touched:    r.UpdatedAt,
			})
		}
		ledger.Restore(snapshots)
		state.logger.InfoTag("ADMIT", "restored %d usage snapshots", len(snapshots))
	}

	idleEvict := cfg.RateLim.IdleEvict
	if cfg.Quota.IdleEvict > idleEvict {
		idleEvict = cfg.Quota.IdleEvict
	}
	state.gate = admission.NewGate(limiter, ledger, idleEvict, state.logger)
	return nil
}

func initPipelineStep(_ context.Context, state *appState) error {
	pipeline, err := domainconvert.NewPipeline(domainconvert.Options{
		Security: &state.config.Security,
		Blobs:    state.blobs,
		Cache:    state.cacheStore,
		Presets:  state.config.Presets,
		Upload:   state.config.Upload,
		Logger:   state.logger,
	})
	if err != nil {
		return err
	}
	state.pipeline = pipeline
	return nil
}

func initRunnerStep(_ context.Context, state *appState) error {
	state.runner = tools.NewRunner(state.config.Tools, state.logger)
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if _, err := startHTTPServer(state, g, groupCtx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	g.Go(func() error {
		state.gate.Run(groupCtx)
		return nil
	})

	g.Go(func() error {
		runUsageFlusher(groupCtx, state)
		return nil
	})

	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
		Gate:   state.gate,
	})
	if err != nil {
		return nil, err
	}

	convertService, err := httpconvert.NewService(
		config, logger, state.pipeline, state.gate, state.runner, state.blobs, state.cacheStore,
	)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindBootstrap, "convert:new-service", "failed to create convert service", err)
	}
	if err := convertService.Register(groupCtx, httpRouter.Protected); err != nil {
		return nil, err
	}
	convertService.RegisterPublic(httpRouter.Engine)

	systemService, err := httpsystem.NewService(config, logger)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindBootstrap, "system:new-service", "failed to create system service", err)
	}
	if err := systemService.Register(groupCtx, httpRouter.API); err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:    state.config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: httpRouter.Engine,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "server listening on %s", httpServer.Addr)
		logger.InfoTag("HTTP", "conversion endpoint: %s/api/convert", config.Server.BaseURL)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "server shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server shut down cleanly")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

// runUsageFlusher periodically persists the quota counters and reaps
// snapshots of identities the in-memory ledger has long forgotten.
func runUsageFlusher(ctx context.Context, state *appState) {
	interval := state.config.Quota.FlushEvery
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushUsage(ctx, state)
		}
	}
}

func flushUsage(ctx context.Context, state *appState) {
	snapshots := state.gate.Ledger().Snapshot()
	if len(snapshots) > 0 {
		records := make([]platformstorage.UsageRecord, 0, len(snapshots))
		for _, s := range snapshots {
			records = append(records, platformstorage.UsageRecord{
				Identity:   s.Identity,
				Plan:       s.Plan,
				Day:        s.Day,
				DayCount:   s.DayCount,
				Month:      s.Month,
				MonthCount: s.MonthCount,
				UpdatedAt:  s.Touched,
			})
		}
		if err := state.usageRepo.SaveAll(ctx, records); err != nil {
			state.logger.WarnTag("STORAGE", "usage flush failed: %v", err)
		} else {
			state.logger.DebugTag("STORAGE", "flushed %d usage snapshots", len(records))
		}
	}

	// Two months covers any window still worth restoring.
	stale := time.Now().UTC().AddDate(0, -2, 0)
	if removed, err := state.usageRepo.DeleteStale(ctx, stale); err != nil {
		state.logger.WarnTag("STORAGE", "stale snapshot cleanup failed: %v", err)
	} else if removed > 0 {
		state.logger.DebugTag("STORAGE", "removed %d stale usage snapshots", removed)
	}
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "received shutdown signal, cleaning up")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "error during shutdown: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("BOOT", "shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
	return nil
}

package httptransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"shopimage-server-go/internal/domain/admission"
	"shopimage-server-go/internal/platform/config"
	"shopimage-server-go/internal/platform/logging"
)

// Options configures the HTTP router builder.
type Options struct {
	Config *config.Config
	Logger *logging.Logger
	Gate   *admission.Gate
}

// Router bundles the gin engine and the route groups services register on.
type Router struct {
	Engine *gin.Engine
	// API carries identity resolution but no rate limiting.
	API *gin.RouterGroup
	// Protected additionally enforces the per-identity rate limit.
	Protected *gin.RouterGroup
}

// Build constructs a gin engine pre-configured with logging, recovery,
// CORS and the admission middlewares.
func Build(opts Options) (*Router, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("http router requires config")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("http router requires admission gate")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger
	}

	if opts.Config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logger))

	// Cap the whole request body; per-file ceilings are checked later by
	// the pipeline.
	if maxBody := int64(opts.Config.Upload.MaxBodyMB) << 20; maxBody > 0 {
		engine.Use(func(c *gin.Context) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
			c.Next()
		})
	}

	engine.SetTrustedProxies([]string{"0.0.0.0"})

	// The custom headers must be exposed so browser clients can read the
	// quota and rate limit state from responses.
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders: []string{"*"},
		ExposeHeaders: []string{
			"x-quota-plan",
			"x-quota-remaining-day",
			"x-quota-remaining-month",
			"x-ratelimit-limit",
			"x-ratelimit-remaining",
			"retry-after",
		},
		MaxAge: 12 * time.Hour,
	}))

	if opts.Config.Web.StaticDir != "" {
		engine.Use(static.Serve("/", static.LocalFile(opts.Config.Web.StaticDir, true)))
	}

	engine.Use(IdentityMiddleware(opts.Config.Quota.DefaultPlan))

	api := engine.Group("/api")
	protected := api.Group("")
	protected.Use(RateLimitMiddleware(opts.Gate))

	return &Router{
		Engine:    engine,
		API:       api,
		Protected: protected,
	}, nil
}

func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		if logger != nil {
			logger.Info(
				"[HTTP] %s %s -> %d (%s)",
				c.Request.Method,
				c.Request.URL.Path,
				status,
				duration,
			)
		}
	}
}

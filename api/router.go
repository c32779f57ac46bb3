package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/tabhost/api/handler"
	"github.com/use-agent/tabhost/api/middleware"
	"github.com/use-agent/tabhost/config"
	"github.com/use-agent/tabhost/tabs"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Metrics → request log
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so orchestrators and scrapers always reach them.
// ctx bounds the rate limiter's cleanup goroutine.
func NewRouter(ctx context.Context, svc *tabs.Service, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metricsMiddleware())
	r.Use(requestLogger())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(svc, startTime))

	// Protected group: auth, then rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	// Tabs
	protected.POST("/tabs", handler.OpenTab(svc))
	protected.GET("/tabs", handler.ListTabs(svc))
	protected.GET("/tabs/:id", handler.GetTab(svc))
	protected.DELETE("/tabs/:id", handler.CloseTab(svc))
	protected.POST("/tabs/:id/navigate", handler.Navigate(svc))
	protected.POST("/tabs/:id/eval", handler.Eval(svc))
	protected.POST("/tabs/:id/hibernate", handler.Hibernate(svc))
	protected.POST("/tabs/:id/wake", handler.Wake(svc))
	protected.POST("/tabs/:id/visibility", handler.Visibility(svc))
	protected.GET("/tabs/:id/snapshot", handler.Snapshot(svc))
	protected.GET("/tabs/:id/forms", handler.Forms(svc))
	protected.POST("/tabs/:id/download", handler.Download(svc))

	// Pool
	protected.GET("/pool", handler.GetPool(svc))
	protected.POST("/pool/preload", handler.Preload(svc))
	protected.POST("/pool/shrink", handler.Shrink(svc))
	protected.POST("/pool/pressure", handler.Pressure(svc))

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// Package server wires the HTTP surface: webhook intake, usage
// reporting, and license activation.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/stratobill/stratobill/internal/apikey/domain"
	"github.com/stratobill/stratobill/internal/config"
	licensedomain "github.com/stratobill/stratobill/internal/license/domain"
	"github.com/stratobill/stratobill/internal/observability/logger"
	"github.com/stratobill/stratobill/internal/observability/metrics"
	usagedomain "github.com/stratobill/stratobill/internal/usage/domain"
	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Engine     *gin.Engine
	WebhookSvc webhookdomain.Service
	UsageSvc   usagedomain.Service
	LicenseSvc licensedomain.Service
	APIKeyRepo apikeydomain.Repository
}

type Server struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	engine     *gin.Engine
	webhookSvc webhookdomain.Service
	usageSvc   usagedomain.Service
	licenseSvc licensedomain.Service
	apiKeyRepo apikeydomain.Repository
	limiter    *rateLimiter
}

// NewEngine builds the gin engine with logging and metrics middleware.
func NewEngine(cfg config.Config, log *zap.Logger, httpMetrics *metrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	engine.Use(metrics.GinMiddleware(httpMetrics))
	return engine
}

func NewServer(p Params) *Server {
	return &Server{
		db:         p.DB,
		log:        p.Log.Named("server"),
		cfg:        p.Cfg,
		engine:     p.Engine,
		webhookSvc: p.WebhookSvc,
		usageSvc:   p.UsageSvc,
		licenseSvc: p.LicenseSvc,
		apiKeyRepo: p.APIKeyRepo,
		limiter:    newRateLimiter(p.Cfg.RateLimitPerMinute, time.Minute),
	}
}

// RegisterAPIRoutes attaches all HTTP routes. The webhook endpoint
// authenticates by signature; everything else under /api/v1 requires an
// API key.
func (s *Server) RegisterAPIRoutes() {
	s.engine.GET("/healthz", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	v1.POST("/webhooks/stripe", s.HandleStripeWebhook)

	authed := v1.Group("")
	authed.Use(s.RateLimit(), s.APIKeyRequired())
	authed.POST("/usage", s.CreateUsage)
	authed.GET("/usage", s.ListUsage)
	authed.GET("/usage/summary", s.GetUsageSummary)
	authed.POST("/companies/:id/license/activate", s.ActivateLicense)
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RateLimit applies a fixed-window per-client limit keyed by API key or
// client address.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Authorization")
		if key == "" {
			key = c.ClientIP()
		}
		if !s.limiter.Allow(key) {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

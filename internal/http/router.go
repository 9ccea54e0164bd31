// Package httpapi wires the admin HTTP transport (Gin) to the application
// services, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, access logging, panic
// recovery, metrics, idempotency, rate limiting, CORS and compression.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/config"
	_ "github.com/tbourn/go-catalog-ingest/internal/docs"
	"github.com/tbourn/go-catalog-ingest/internal/http/handlers"
	"github.com/tbourn/go-catalog-ingest/internal/http/middleware"
	"github.com/tbourn/go-catalog-ingest/internal/observability"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
	"github.com/tbourn/go-catalog-ingest/internal/services"
	"github.com/tbourn/go-catalog-ingest/internal/snapshot"
)

// idempotencyKeyMaxLen matches the jobs.idempotency_key column.
const idempotencyKeyMaxLen = 255

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the admin API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id and actor
//  3. Logger: structured access log, request logger in context
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per actor/IP, bypass on replay)
//  9. CORS and gzip
func RegisterRoutes(r *gin.Engine, db *gorm.DB, store snapshot.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	queue := services.NewQueueService(db, cfg.Queue, cfg.Recovery)

	// Queue depth is collected at scrape time on a per-router registry so
	// several routers (tests, multiple listeners) can coexist.
	reg := prometheus.NewRegistry()
	reg.MustRegister(observability.NewQueueCollector(queue.Stats))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		promhttp.HandlerOpts{},
	)))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: idempotencyKeyMaxLen},
		func(ctx context.Context, key string) (bool, error) {
			_, err := repo.FindActiveJobByKey(ctx, db, key)
			if err != nil {
				return false, nil
			}
			return true, nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP())
	r.Use(rl.Handler())

	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderActor, middleware.HeaderIdempotencyKey}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			handlers.Fail(c, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	audits := services.NewAuditService(db, store)
	audits.HoldBaseline = cfg.Audit.HoldRegressionBaseline
	h := handlers.New(
		queue,
		services.NewMappingService(db),
		services.NewCatalogService(db),
		audits,
	)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/jobs", h.EnqueueJob)
		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/:id", h.GetJob)
		api.POST("/jobs/recovery/sweep", h.SweepRecovery)
		api.GET("/queue/stats", h.QueueStats)

		api.POST("/ingestion/:id/mapping", h.MapEntity)
		api.DELETE("/ingestion/:id/mapping", h.UnmapEntity)
		api.GET("/ingestion/:id/overrides", h.OverrideHistory)

		api.POST("/catalog/prune/plan", h.PlanPrune)
		api.POST("/catalog/prune/apply", h.ApplyPrune)

		api.GET("/audits/:kind", h.LatestAudit)
	}
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap fail when the handler reads the body.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

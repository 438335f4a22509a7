package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	ginapi "github.com/pilab-dev/shadow-auth/api/gin"
	"github.com/pilab-dev/shadow-auth/config"
	"github.com/pilab-dev/shadow-auth/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouteRegistrar is implemented by every API mounted on the server.
type RouteRegistrar interface {
	RegisterRoutes(r gin.IRouter)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options carries the optional parts of the server.
type Options struct {
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]HealthCheck
}

// NewHTTPServer creates and configures the Gin HTTP server.
func NewHTTPServer(cfg *config.ServerConfig, appLogger log.Logger, opts Options, apis ...RouteRegistrar) *http.Server {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(requestLogger(appLogger))
	router.Use(otelgin.Middleware(cfg.OtelServiceName))
	router.Use(ginapi.SecurityHeadersMiddleware(cfg.HSTS))

	router.GET("/healthz", healthHandler(opts.HealthChecks))
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	if len(apis) == 0 {
		appLogger.Error(context.Background(), "No API provided to NewHTTPServer, auth routes will not be registered.", nil)
	}
	for _, api := range apis {
		api.RegisterRoutes(router)
	}

	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func requestLogger(appLogger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := log.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}
		switch {
		case len(c.Errors) > 0:
			appLogger.Error(c.Request.Context(), "HTTP request failed", c.Errors.Last().Err, fields)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			appLogger.Debug(c.Request.Context(), "HTTP request", fields)
		default:
			appLogger.Info(c.Request.Context(), "HTTP request", fields)
		}
	}
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "down"
				continue
			}
			results[name] = "up"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}

// Package server exposes the translation engine over HTTP
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daeun-ops/promql-assistant-cli/internal/cache"
	"github.com/daeun-ops/promql-assistant-cli/internal/config"
	"github.com/daeun-ops/promql-assistant-cli/internal/engine"
	"github.com/daeun-ops/promql-assistant-cli/internal/errors"
	"github.com/daeun-ops/promql-assistant-cli/internal/history"
	"github.com/daeun-ops/promql-assistant-cli/internal/observability"
	"github.com/daeun-ops/promql-assistant-cli/internal/promapi"
)

// Server wires the engine, backend client and optional storage behind a gin
// router. Cache and history may be nil; translation works without them.
type Server struct {
	cfg      config.Config
	engine   *engine.Engine
	backend  *promapi.BreakerClient
	cache    *cache.TranslationCache
	history  *history.Store
	logger   *observability.Logger
	health   *observability.HealthChecker
	registry *prometheus.Registry
}

// New builds a Server. The backend is required; cache and history are
// optional and skipped when nil.
func New(cfg config.Config, eng *engine.Engine, backend *promapi.BreakerClient, tc *cache.TranslationCache, hist *history.Store, logger *observability.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	if err := observability.Register(registry); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		engine:   eng,
		backend:  backend,
		cache:    tc,
		history:  hist,
		logger:   logger,
		health:   observability.NewHealthChecker(),
		registry: registry,
	}

	s.health.Register("backend", observability.BackendHealthCheck(func(ctx context.Context) error {
		return backend.Ping(ctx)
	}))
	if tc != nil {
		s.health.Register("cache", observability.CacheHealthCheck(func(ctx context.Context) error {
			return tc.Ping(ctx)
		}))
	}
	if hist != nil {
		s.health.Register("history", observability.HistoryHealthCheck(func(ctx context.Context) error {
			return hist.Ping(ctx)
		}))
	}

	return s, nil
}

// Router builds the gin engine with all routes and middleware attached
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(observability.RecoveryMiddleware(s.logger))
	router.Use(observability.RequestLoggingMiddleware(s.logger))

	router.GET("/health", func(c *gin.Context) {
		response := s.health.GetHealthResponse(c.Request.Context())
		statusCode := http.StatusOK
		if response.Status == observability.HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, response)
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	if s.cfg.Server.BearerToken != "" {
		api.Use(bearerAuthMiddleware(s.cfg.Server.BearerToken))
	}
	{
		api.POST("/translate", s.handleTranslate)
		api.POST("/query", s.handleQuery)
		api.GET("/suggest/metrics", s.handleSuggestMetrics)
		api.GET("/suggest/labels", s.handleSuggestLabels)
		api.GET("/suggest/label-values", s.handleSuggestLabelValues)
		api.GET("/history", s.handleHistory)
	}

	return router
}

// Run starts the HTTP server on the configured port
func (s *Server) Run() error {
	port := s.cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	s.logger.Info(context.Background(), "Starting server", map[string]interface{}{
		"port":    port,
		"backend": s.backend.BaseURL(),
	})
	return s.Router().Run(":" + port)
}

// bearerAuthMiddleware rejects requests whose Authorization header does not
// carry the configured static token
func bearerAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Missing or invalid bearer token",
				},
			})
			return
		}
		c.Next()
	}
}

// formatErrorResponse renders a CodedError as the API's error envelope
func formatErrorResponse(err error) gin.H {
	if codedErr, ok := err.(*errors.CodedError); ok {
		errBody := gin.H{
			"code":    codedErr.Code,
			"message": codedErr.Message,
		}
		if codedErr.Details != "" {
			errBody["details"] = codedErr.Details
		}
		if codedErr.Suggestion != "" {
			errBody["suggestion"] = codedErr.Suggestion
		}
		if len(codedErr.Metadata) > 0 {
			errBody["metadata"] = codedErr.Metadata
		}
		return gin.H{"error": errBody}
	}

	return gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	}
}

// getErrorStatusCode maps a CodedError to an HTTP status
func getErrorStatusCode(err error) int {
	if codedErr, ok := err.(*errors.CodedError); ok {
		switch codedErr.Code {
		case errors.ErrCodeInvalidInput, errors.ErrCodeQueryValidation:
			return http.StatusBadRequest
		case errors.ErrCodeNoMatch:
			return http.StatusUnprocessableEntity
		case errors.ErrCodeBackendRequest, errors.ErrCodeBackendResponse:
			return http.StatusBadGateway
		case errors.ErrCodeBackendUnreachable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

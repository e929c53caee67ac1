// Package api exposes an analyzer over HTTP and streams its events over WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pdarray-engine/config"
	"pdarray-engine/internal/analyzer"
	"pdarray-engine/internal/auth"
	"pdarray-engine/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the trace id of a request in both directions
const RequestIDHeader = "X-Request-ID"

// Server represents the HTTP API server
type Server struct {
	// mu spans an analyzer call and the encoding of what it returned, since
	// levels keep changing with every processed bar.
	mu sync.Mutex

	router     *gin.Engine
	httpServer *http.Server
	analyzer   *analyzer.Analyzer
	hub        *WSHub
	tokens     *auth.TokenManager // nil disables bar ingestion auth
	config     config.ServerConfig
	symbol     string
	started    time.Time
	logger     zerolog.Logger
}

// NewServer creates a new API server for one instrument's analyzer.
// The caller runs and stops the hub.
func NewServer(cfg config.ServerConfig, symbol string, a *analyzer.Analyzer, hub *WSHub, logger zerolog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		analyzer: a,
		hub:      hub,
		config:   cfg,
		symbol:   symbol,
		started:  time.Now(),
		logger:   logger.With().Str("component", "API").Logger(),
	}
	if cfg.JWTSecret != "" {
		s.tokens = auth.NewTokenManager(cfg.JWTSecret, 0)
	}

	router.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	if len(cfg.AllowedOrigins) == 0 || containsWildcard(cfg.AllowedOrigins) {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", RequestIDHeader}
	router.Use(cors.New(corsConfig))

	s.setupRoutes()
	return s
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/stats", s.handleStats)
		v1.GET("/swing-points", s.handleSwingPoints)
		v1.GET("/levels", s.handleLevels)
		v1.GET("/stream", s.handleWebSocket)

		write := v1.Group("")
		if s.tokens != nil {
			write.Use(auth.Middleware(s.tokens, auth.ScopeIngest))
		}
		write.POST("/bars", s.handlePostBar)
		write.POST("/key-levels", s.handlePostKeyLevel)
		write.POST("/flush", s.handleFlush)
	}
}

// requestLogger tags each request with a trace id and logs it on completion
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, l := logging.WithTraceContext(c.Request.Context(), s.logger, c.GetHeader(RequestIDHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, logging.TraceID(ctx))

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		if status >= http.StatusInternalServerError {
			ev = l.Error()
		} else if status >= http.StatusBadRequest {
			ev = l.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("address", s.config.Address).Bool("auth", s.tokens != nil).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error":   message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

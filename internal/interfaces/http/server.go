// Package http provides the HTTP adapter over the orchestration engine.
// This is a thin layer that translates requests to engine calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
	"github.com/garyjia/pizza-workflow/internal/domain/order"
)

// Orchestrator is the engine surface the HTTP layer depends on
type Orchestrator interface {
	Start(ctx context.Context, orderID, pizzaType, size string, customer order.Customer) (*order.Order, error)
	HandleValidationDecision(ctx context.Context, dec *event.ValidationDecision) error
	GetStatus(ctx context.Context, orderID string) (*order.Order, error)
	Pause(ctx context.Context, orderID string) error
	Resume(ctx context.Context, orderID string) error
	Cancel(ctx context.Context, orderID string) error
	Delete(ctx context.Context, orderID string) error
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	engine     Orchestrator
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

// NewServer creates the HTTP server and wires its routes
func NewServer(config ServerConfig, engine Orchestrator, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		engine:   engine,
		gatherer: gatherer,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("latency", time.Since(start).String()),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.engine, s.logger)

	s.router.GET("/health", handlers.HealthCheck)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	orders := s.router.Group("/orders")
	{
		orders.POST("", handlers.CreateOrder)
		orders.GET("/:order_id", handlers.GetOrder)
		orders.DELETE("/:order_id", handlers.DeleteOrder)
	}

	workflow := s.router.Group("/workflow")
	{
		workflow.POST("/validate-pizza", handlers.ValidatePizza)
		workflow.POST("/pause-order", handlers.PauseOrder)
		workflow.POST("/resume-order", handlers.ResumeOrder)
		workflow.POST("/cancel-order", handlers.CancelOrder)
	}
}

// Start starts the HTTP server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

package api

import (
	"context"
	"net/http"
	"time"

	"example.com/ricechain/config"
	"example.com/ricechain/internal/api/handlers"
	"example.com/ricechain/internal/api/middleware"
	"example.com/ricechain/internal/metrics"
	"example.com/ricechain/internal/services"
	"example.com/ricechain/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config        config.Config
	router        *gin.Engine
	httpServer    *http.Server
	supplyService *services.SupplyService
	orderService  *services.OrderService
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	supplyService *services.SupplyService,
	orderService *services.OrderService,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:        cfg,
		supplyService: supplyService,
		orderService:  orderService,
		metrics:       metricsCollector,
		tracer:        tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     server.router,
		ReadTimeout: cfg.Server.Timeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	// Health and metrics stay outside the identity gate
	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	// Everything else requires a resolved actor
	authed := router.Group("/", middleware.Identity())

	supplyHandler := handlers.NewSupplyHandler(s.supplyService, s.tracer)
	supplyHandler.RegisterRoutes(authed)

	orderHandler := handlers.NewOrderHandler(s.orderService, s.tracer)
	orderHandler.RegisterRoutes(authed)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}

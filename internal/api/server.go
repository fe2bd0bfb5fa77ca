package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleetguard/internal/config"
	"fleetguard/internal/engine"
	"fleetguard/internal/logging"
	"fleetguard/internal/metrics"
	"fleetguard/internal/normalize"
	"fleetguard/internal/storage"
)

// Server is the HTTP surface over the engine. Handlers only translate
// requests and errors; all behavior lives in the engine.
type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	metrics *metrics.Collector
	logger  *zap.Logger
	router  *gin.Engine
}

func New(cfg *config.Config, eng *engine.Engine, collector *metrics.Collector, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:     cfg,
		engine:  eng,
		metrics: collector,
		logger:  logging.OrNop(logger),
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestMetrics(collector), requestLogger(s.logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.GET("/health", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.POST("/vehicles", s.createVehicle)
	r.GET("/vehicles", s.listVehicles)
	r.GET("/vehicles/:vin", s.getVehicle)
	r.DELETE("/vehicles/:vin", s.deleteVehicle)
	r.GET("/vehicles/:vin/alerts", s.vehicleRawAlerts)
	r.GET("/fleets/:fleet_id/vehicles", s.fleetVehicles)

	telemetry := r.Group("/telemetry")
	{
		telemetry.POST("", s.postTelemetry)
		telemetry.POST("/batch", s.postTelemetryBatch)
		telemetry.GET("/:vin/latest", s.latestTelemetry)
		telemetry.GET("/:vin/history", s.telemetryHistory)
	}

	raw := r.Group("/alerts")
	{
		raw.GET("", s.listRawAlerts)
		raw.POST("", s.raiseAlert)
		raw.GET("/:alert_id", s.getRawAlert)
	}

	sender := r.Group("/alert-sender")
	{
		sender.GET("/active-alerts", s.listIncidents)
		sender.GET("/active-alerts/:id", s.getIncident)
		sender.PUT("/active-alerts/:id", s.updateIncident)
		sender.POST("/active-alerts/:id/resolve", s.resolveIncident)
		sender.POST("/active-alerts/:id/acknowledge", s.acknowledgeIncident)
		sender.GET("/active-alerts/:id/history", s.incidentHistory)
		sender.GET("/vehicle/:vin/active-alerts", s.vehicleIncidents)
		sender.GET("/dashboard/summary", s.dashboard)
	}

	r.GET("/analytics", s.analytics)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully. It returns nil
// immediately when the API is disabled.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.API.Enabled {
		s.logger.Info("api disabled")
		return nil
	}
	httpServer := &http.Server{
		Addr:              s.cfg.API.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", s.cfg.API.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("api server error", zap.Error(err))
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("api stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	if err := s.engine.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "disconnected",
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "connected",
	})
}

// fail maps engine and storage errors onto status codes.
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, normalize.ErrInvalid), errors.Is(err, engine.ErrNothingToUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		s.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

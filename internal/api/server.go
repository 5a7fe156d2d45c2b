package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes health, stats and Prometheus metrics over HTTP
type Server struct {
	service *StatusService
	router  *gin.Engine
	http    *http.Server
}

// NewServer creates the status server
func NewServer(service *StatusService, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		service: service,
		router:  router,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background until Shutdown
func (s *Server) Start() {
	go func() {
		zap.L().Info("Status server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Status server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := s.service.HealthCheck(c.Request.Context())
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.service.Stats(c.Request.Context())
	if err != nil {
		zap.L().Error("Failed to build stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// README: API gateway; registers HTTP routes and delegates to the ride service.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"rideshare/internal/http/handlers"
	"rideshare/internal/http/middleware"
	"rideshare/internal/infra"
	"rideshare/internal/modules/ride"
)

const readyTimeout = 2 * time.Second

type ServerDeps struct {
	Rides    *ride.Service
	Verifier infra.TokenVerifier
	Logger   *logrus.Entry
	// Ready reports whether backing stores answer. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	rides    *ride.Service
	verifier infra.TokenVerifier
	log      *logrus.Entry
	ready    func(ctx context.Context) error
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		rides:    deps.Rides,
		verifier: deps.Verifier,
		log:      log,
		ready:    deps.Ready,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(s.log), middleware.Recovery(s.log))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rides := handlers.NewRideHandler(s.rides)
	api := r.Group("/api/v1/rides", middleware.Auth(s.verifier))
	api.POST("/request", rides.Request)
	api.GET("/history", rides.History)
	api.GET("/:id", rides.Get)
	api.PATCH("/:id/accept", rides.Accept)
	api.PATCH("/:id/start", rides.Start)
	api.PATCH("/:id/complete", rides.Complete)
	api.PATCH("/:id/cancel", rides.Cancel)
	return r
}

func (s *Server) health(c *gin.Context) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.log.WithError(err).Warn("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

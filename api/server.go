// api/server.go
package api

import (
	"context"
	"fmt"
	"net/http"

	"example.com/fleetwatch/services/telemetry/api/middleware"
	"example.com/fleetwatch/services/telemetry/api/routes"
	"example.com/fleetwatch/services/telemetry/config"
	"example.com/fleetwatch/services/telemetry/internal/broadcast"
	"example.com/fleetwatch/services/telemetry/internal/repository"
	"example.com/fleetwatch/services/telemetry/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	config     *config.Config
	httpServer *http.Server
	log        *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	config *config.Config,
	log *logrus.Logger,
	nrApp *newrelic.Application,
	svc service.Service,
	repo repository.Repository,
	hub *broadcast.Hub,
) *Server {
	// Set Gin mode
	gin.SetMode(config.Server.Mode)

	router := gin.New()

	// Set up middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))

	if nrApp != nil {
		router.Use(middleware.NewRelicMiddleware(nrApp))
	}

	routes.SetupRoutes(router, svc, repo, hub, log)

	return &Server{
		router: router,
		config: config,
		log:    log,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", config.Server.Port),
			Handler: router,
		},
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Infof("Starting server on port %d", s.config.Server.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

package routes

import (
	"example.com/fleetwatch/services/telemetry/api/handlers"
	"example.com/fleetwatch/services/telemetry/api/middleware"
	"example.com/fleetwatch/services/telemetry/internal/broadcast"
	"example.com/fleetwatch/services/telemetry/internal/models"
	"example.com/fleetwatch/services/telemetry/internal/repository"
	"example.com/fleetwatch/services/telemetry/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, svc service.Service, repo repository.Repository, hub *broadcast.Hub, log *logrus.Logger) {
	// Health check
	r.GET("/health", handlers.HealthCheck)

	// Live stream endpoint (websocket)
	streamHandler := handlers.NewStreamHandler(hub, repo, log)
	r.GET("/stream",
		middleware.APIKeyAuth(repo, log, models.ViewerAuthLevel),
		streamHandler.Stream)

	// API routes
	api := r.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(repo, log, models.ViewerAuthLevel))

	fleetHandler := handlers.NewFleetHandler(svc, log)
	{
		api.GET("/vehicles", fleetHandler.ListVehicles)
		api.GET("/vehicles/:id", fleetHandler.GetVehicle)
		api.GET("/devices", fleetHandler.ListDevices)
		api.GET("/geofences", fleetHandler.ListGeofences)

		// System monitoring
		api.GET("/stats/broadcaster", fleetHandler.GetBroadcasterStats)
	}
}

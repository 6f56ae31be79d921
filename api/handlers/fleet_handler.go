package handlers

import (
	"net/http"
	"strconv"

	"example.com/fleetwatch/services/telemetry/api/middleware"
	"example.com/fleetwatch/services/telemetry/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FleetHandler serves the read-only fleet endpoints used by stream clients
// to discover what they can subscribe to
type FleetHandler struct {
	svc service.Service
	log *logrus.Logger
}

// NewFleetHandler creates a new fleet handler
func NewFleetHandler(svc service.Service, log *logrus.Logger) *FleetHandler {
	return &FleetHandler{
		svc: svc,
		log: log,
	}
}

// tenantID returns the caller's organization from the authenticated API key
func (h *FleetHandler) tenantID(c *gin.Context) (uint, bool) {
	apiKey, err := middleware.GetAPIKeyFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return 0, false
	}
	return apiKey.OrganizationID, true
}

// ListVehicles handles GET /vehicles, scoped to the caller's organization
func (h *FleetHandler) ListVehicles(c *gin.Context) {
	orgID, ok := h.tenantID(c)
	if !ok {
		return
	}

	vehicles, err := h.svc.ListVehicles(c.Request.Context(), orgID)
	if err != nil {
		h.log.WithError(err).Error("Failed to list vehicles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"vehicles": vehicles})
}

// GetVehicle handles GET /vehicles/:id
func (h *FleetHandler) GetVehicle(c *gin.Context) {
	orgID, ok := h.tenantID(c)
	if !ok {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	vehicle, err := h.svc.GetVehicle(c.Request.Context(), uint(id))
	if err != nil || vehicle.OrganizationID != orgID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, vehicle)
}

// ListDevices handles GET /devices, scoped to the caller's organization
func (h *FleetHandler) ListDevices(c *gin.Context) {
	orgID, ok := h.tenantID(c)
	if !ok {
		return
	}

	devices, err := h.svc.ListDevices(c.Request.Context(), orgID)
	if err != nil {
		h.log.WithError(err).Error("Failed to list devices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list devices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// ListGeofences handles GET /geofences, scoped to the caller's organization
func (h *FleetHandler) ListGeofences(c *gin.Context) {
	orgID, ok := h.tenantID(c)
	if !ok {
		return
	}

	geofences, err := h.svc.ListGeofences(c.Request.Context(), orgID)
	if err != nil {
		h.log.WithError(err).Error("Failed to list geofences")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list geofences"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"geofences": geofences})
}

// GetBroadcasterStats handles GET /stats/broadcaster
func (h *FleetHandler) GetBroadcasterStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.BroadcasterStats())
}

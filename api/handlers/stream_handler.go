package handlers

import (
	"net/http"

	"example.com/fleetwatch/services/telemetry/api/middleware"
	"example.com/fleetwatch/services/telemetry/internal/broadcast"
	"example.com/fleetwatch/services/telemetry/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamHandler upgrades authenticated clients to websocket connections and
// manages their topic subscriptions
type StreamHandler struct {
	hub      *broadcast.Hub
	repo     repository.Repository
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *broadcast.Hub, repo repository.Repository, log *logrus.Logger) *StreamHandler {
	return &StreamHandler{
		hub:  hub,
		repo: repo,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin is handled by the platform gateway
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stream handles GET /stream. The connection is joined to its tenant topic
// from the authenticated API key; vehicle and geofence subscriptions are
// requested over the socket and validated against the tenant.
func (h *StreamHandler) Stream(c *gin.Context) {
	apiKey, err := middleware.GetAPIKeyFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	tenantID := apiKey.OrganizationID

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := broadcast.NewClient(uuid.New().String(), tenantID, conn, h.hub, h.log)

	// Tenant-wide stream is implicit for every connection
	h.hub.Join(client, broadcast.TenantTopic(tenantID))

	h.log.WithFields(logrus.Fields{
		"client": client.ID(),
		"tenant": tenantID,
	}).Info("Stream client connected")

	go client.WritePump()
	client.ReadPump(func(msg broadcast.ControlMessage) {
		h.handleControl(c, client, msg)
	})
}

// handleControl applies one subscribe/unsubscribe request after checking the
// requested topic belongs to the client's tenant
func (h *StreamHandler) handleControl(c *gin.Context, client *broadcast.Client, msg broadcast.ControlMessage) {
	topic, ok := h.authorizeTopic(c, client, msg)
	if !ok {
		return
	}

	switch msg.Action {
	case "subscribe":
		h.hub.Join(client, topic)
	case "unsubscribe":
		h.hub.Leave(client, topic)
	default:
		h.log.Debugf("Ignoring unknown stream action: %s", msg.Action)
	}
}

// authorizeTopic resolves a requested topic and verifies tenant ownership.
// The tenant topic itself cannot be joined or left by request.
func (h *StreamHandler) authorizeTopic(c *gin.Context, client *broadcast.Client, msg broadcast.ControlMessage) (broadcast.Topic, bool) {
	ctx := c.Request.Context()

	switch msg.Topic {
	case broadcast.TopicVehicle:
		vehicle, err := h.repo.FindVehicleByID(ctx, msg.ID)
		if err != nil || vehicle.OrganizationID != client.TenantID() {
			h.log.WithFields(logrus.Fields{
				"client":  client.ID(),
				"vehicle": msg.ID,
			}).Warn("Rejected vehicle subscription")
			return broadcast.Topic{}, false
		}
		return broadcast.VehicleTopic(msg.ID), true

	case broadcast.TopicGeofence:
		geofence, err := h.repo.FindGeofenceByID(ctx, msg.ID)
		if err != nil || geofence.OrganizationID != client.TenantID() {
			h.log.WithFields(logrus.Fields{
				"client":   client.ID(),
				"geofence": msg.ID,
			}).Warn("Rejected geofence subscription")
			return broadcast.Topic{}, false
		}
		return broadcast.GeofenceTopic(msg.ID), true

	default:
		h.log.Debugf("Ignoring subscription for topic kind: %s", msg.Topic)
		return broadcast.Topic{}, false
	}
}

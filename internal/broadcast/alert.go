package broadcast

import (
	"context"

	"example.com/fleetwatch/services/telemetry/internal/models"

	"github.com/sirupsen/logrus"
)

// routineAlertCodes is the closed set of alert codes that signal normal
// operation and never produce an alert broadcast
var routineAlertCodes = map[string]struct{}{
	"normal":   {},
	"periodic": {},
}

// IsRoutineAlert reports whether the code signals routine traffic. An absent
// code counts as routine.
func IsRoutineAlert(code string) bool {
	if code == "" {
		return true
	}
	_, ok := routineAlertCodes[code]
	return ok
}

// AlertForwarder hands an alert off for durable persistence by the alerts
// collaborator. The live broadcast is advisory; the durable write is where
// alert history lives.
type AlertForwarder interface {
	ForwardAlert(ctx context.Context, alert *models.AlertMessage) error
}

// AlertFanout publishes alert messages to the device's tenant topic whenever
// a sample carries a non-routine alert code. It always executes regardless of
// throttle state: suppressing an alert because of recent routine traffic
// would be a correctness defect.
type AlertFanout struct {
	hub       *Hub
	forwarder AlertForwarder
	log       *logrus.Logger
}

// NewAlertFanout creates the alert fan-out stage
func NewAlertFanout(hub *Hub, forwarder AlertForwarder, log *logrus.Logger) *AlertFanout {
	return &AlertFanout{
		hub:       hub,
		forwarder: forwarder,
		log:       log,
	}
}

// Publish broadcasts the alert to the tenant topic and, when the sample
// references a geofence, to that geofence's topic. The durable handoff is
// best-effort: a failed publish is logged, not retried.
func (f *AlertFanout) Publish(ctx context.Context, resolved *ResolvedDevice, sample *models.DeviceSample) {
	alert := &models.AlertMessage{
		DeviceUID: sample.DeviceUID,
		VehicleID: resolved.VehicleID,
		AlertCode: sample.AlertCode,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		SampledAt: sample.SampledAt,
	}

	delivered := f.hub.Publish(TenantTopic(resolved.TenantID), "alert", alert)
	if sample.GeofenceID != nil {
		delivered += f.hub.Publish(GeofenceTopic(*sample.GeofenceID), "alert", alert)
	}

	f.log.WithFields(logrus.Fields{
		"device":     sample.DeviceUID,
		"alert_code": sample.AlertCode,
		"delivered":  delivered,
	}).Info("Alert broadcast")

	if f.forwarder != nil {
		if err := f.forwarder.ForwardAlert(ctx, alert); err != nil {
			f.log.WithError(err).Warnf("Failed to forward alert for durable write: %s", sample.DeviceUID)
		}
	}
}

package broadcast

import (
	"context"
	"time"

	"example.com/fleetwatch/services/telemetry/internal/models"

	"github.com/sirupsen/logrus"
)

// Result reports what happened to one sample
type Result struct {
	Broadcast bool
	Reason    string
}

// Pipeline orchestrates the path from an inbound device sample to a
// throttled, topic-scoped broadcast. One sample is processed per goroutine;
// the throttle record lock serializes samples for the same device while
// leaving other devices fully parallel.
type Pipeline struct {
	resolver  DeviceResolver
	throttle  *ThrottleCache
	intervals Intervals
	hub       *Hub
	alerts    *AlertFanout
	log       *logrus.Logger

	// now is swappable so tests can drive the clock
	now func() time.Time
}

// NewPipeline creates the broadcast pipeline. The throttle cache is
// constructor-injected and scoped to the service lifetime: a single instance
// shared by all invocations, resettable in tests.
func NewPipeline(
	resolver DeviceResolver,
	throttle *ThrottleCache,
	intervals Intervals,
	hub *Hub,
	alerts *AlertFanout,
	log *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		throttle:  throttle,
		intervals: intervals,
		hub:       hub,
		alerts:    alerts,
		log:       log,
		now:       time.Now,
	}
}

// Process runs one sample through classify, throttle, resolve, and fan-out.
// Collaborator failures are absorbed here and reported through logs; a
// single unroutable sample must not stop telemetry flow for other devices.
func (p *Pipeline) Process(ctx context.Context, sample *models.DeviceSample) (Result, error) {
	ignitionOn := false
	if sample.IgnitionOn != nil {
		ignitionOn = *sample.IgnitionOn
	}
	speed := 0.0
	if sample.SpeedKph != nil && *sample.SpeedKph > 0 {
		speed = *sample.SpeedKph
	}
	course := 0.0
	if sample.Course != nil {
		course = *sample.Course
	}

	state, displaySpeed, isMoving := Classify(ignitionOn, speed)
	required := p.intervals.For(state)
	now := p.now()

	rec := p.throttle.Acquire(sample.DeviceUID)
	defer p.throttle.Release(rec)

	accepted, reason := rec.ShouldBroadcast(now, required)
	hasAlert := !IsRoutineAlert(sample.AlertCode)

	// A throttled sample without an alert needs no lookups and builds no
	// messages. Throttling is expected steady state, not an error.
	if !accepted && !hasAlert {
		p.log.WithFields(logrus.Fields{
			"device": sample.DeviceUID,
			"state":  state,
		}).Debugf("Sample throttled: %s", reason)
		return Result{Broadcast: false, Reason: reason}, nil
	}

	resolved, err := p.resolver.Resolve(ctx, sample.DeviceUID)
	if err != nil {
		if err == ErrDeviceNotFound {
			p.log.Warnf("Sample for unknown device dropped: %s", sample.DeviceUID)
			return Result{Broadcast: false, Reason: "device not found"}, nil
		}
		return Result{}, err
	}

	// Alerts bypass the throttle entirely
	if hasAlert {
		p.alerts.Publish(ctx, resolved, sample)
	}

	if !accepted {
		return Result{Broadcast: false, Reason: reason}, nil
	}

	// A cancelled publish must not commit the throttle state
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	msg := &models.PositionUpdateMessage{
		DeviceUID:   sample.DeviceUID,
		VehicleID:   resolved.VehicleID,
		VehicleName: resolved.VehicleName,
		Plate:       resolved.Plate,
		Latitude:    sample.Latitude,
		Longitude:   sample.Longitude,
		SpeedKph:    displaySpeed,
		Course:      course,
		IgnitionOn:  ignitionOn,
		IsMoving:    isMoving,
		SampledAt:   sample.SampledAt,
		BroadcastAt: now,
	}

	delivered := p.hub.Publish(TenantTopic(resolved.TenantID), "position", msg)
	if resolved.VehicleID != nil {
		delivered += p.hub.Publish(VehicleTopic(*resolved.VehicleID), "position", msg)
	}

	rec.Commit(now, state, displaySpeed)

	p.log.WithFields(logrus.Fields{
		"device":    sample.DeviceUID,
		"tenant":    resolved.TenantID,
		"state":     state,
		"delivered": delivered,
	}).Debug("Position broadcast")

	return Result{Broadcast: true}, nil
}

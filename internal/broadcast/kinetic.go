package broadcast

import "math"

// KineticState classifies a device's motion from ignition and speed
type KineticState string

const (
	// StateParked represents a device with ignition off
	StateParked KineticState = "parked"
	// StateStopped represents a device with ignition on but below the moving threshold
	StateStopped KineticState = "stopped"
	// StateMoving represents a device travelling at or above the moving threshold
	StateMoving KineticState = "moving"
)

// SpeedThresholdKph is the minimum speed treated as movement
const SpeedThresholdKph = 10.0

// Classify maps ignition and speed to a kinetic state and the speed shown to
// clients. Ignition-off readings always zero the displayed speed; GPS units
// report residual speed noise while parked. Negative speed must be clamped
// to 0 by the caller.
func Classify(ignitionOn bool, speedKph float64) (state KineticState, displaySpeed float64, isMoving bool) {
	if !ignitionOn {
		return StateParked, 0, false
	}

	displaySpeed = math.Round(speedKph)
	if speedKph < SpeedThresholdKph {
		return StateStopped, displaySpeed, false
	}

	return StateMoving, displaySpeed, true
}

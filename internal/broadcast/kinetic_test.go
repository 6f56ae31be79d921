package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyIgnitionOff(t *testing.T) {
	// Ignition off is parked regardless of reported speed
	state, displaySpeed, isMoving := Classify(false, 63.2)

	require.Equal(t, StateParked, state)
	require.Equal(t, 0.0, displaySpeed)
	require.False(t, isMoving)
}

func TestClassifyIgnitionOnBelowThreshold(t *testing.T) {
	state, displaySpeed, isMoving := Classify(true, 4.4)

	require.Equal(t, StateStopped, state)
	require.Equal(t, 4.0, displaySpeed)
	require.False(t, isMoving)
}

func TestClassifyAtThreshold(t *testing.T) {
	// Exactly at the threshold counts as moving
	state, displaySpeed, isMoving := Classify(true, SpeedThresholdKph)

	require.Equal(t, StateMoving, state)
	require.Equal(t, 10.0, displaySpeed)
	require.True(t, isMoving)
}

func TestClassifyJustBelowThreshold(t *testing.T) {
	state, _, isMoving := Classify(true, 9.99)

	require.Equal(t, StateStopped, state)
	require.False(t, isMoving)
}

func TestClassifyMovingRoundsDisplaySpeed(t *testing.T) {
	state, displaySpeed, isMoving := Classify(true, 45.4)

	require.Equal(t, StateMoving, state)
	require.Equal(t, 45.0, displaySpeed)
	require.True(t, isMoving)

	_, displaySpeed, _ = Classify(true, 45.5)
	require.Equal(t, 46.0, displaySpeed)
}

func TestClassifyStationaryIgnitionOn(t *testing.T) {
	// Idling at a stoplight: ignition on, zero speed
	state, displaySpeed, isMoving := Classify(true, 0)

	require.Equal(t, StateStopped, state)
	require.Equal(t, 0.0, displaySpeed)
	require.False(t, isMoving)
}

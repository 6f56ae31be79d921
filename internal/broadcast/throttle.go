package broadcast

import (
	"fmt"
	"sync"
	"time"
)

// Intervals holds the minimum time between accepted broadcasts for a device,
// keyed by its current kinetic state. Moving vehicles need frequent updates
// for live tracking; stationary vehicles do not, and parked ones even less.
type Intervals struct {
	Moving  time.Duration
	Stopped time.Duration
	Parked  time.Duration
}

// DefaultIntervals are the production throttle intervals
var DefaultIntervals = Intervals{
	Moving:  30 * time.Second,
	Stopped: 120 * time.Second,
	Parked:  600 * time.Second,
}

// For returns the required interval for the given state
func (iv Intervals) For(state KineticState) time.Duration {
	switch state {
	case StateMoving:
		return iv.Moving
	case StateStopped:
		return iv.Stopped
	default:
		return iv.Parked
	}
}

// ThrottleRecord tracks the last accepted broadcast for one device. Each
// record carries its own mutex; the pipeline holds it from the broadcast
// decision through the commit, so two concurrent samples for the same device
// cannot both pass the interval check, and a cancelled publish never commits.
type ThrottleRecord struct {
	mu            sync.Mutex
	seen          bool
	lastBroadcast time.Time
	lastState     KineticState
	lastSpeed     float64
}

// ShouldBroadcast reports whether enough time has elapsed since the last
// accepted broadcast. The first sample for a device always broadcasts. The
// caller must hold the record lock via ThrottleCache.Acquire.
func (r *ThrottleRecord) ShouldBroadcast(now time.Time, required time.Duration) (bool, string) {
	if !r.seen {
		return true, ""
	}

	elapsed := now.Sub(r.lastBroadcast)
	if elapsed >= required {
		return true, ""
	}

	return false, fmt.Sprintf("interval not reached (%ds / %ds)",
		int(elapsed.Seconds()), int(required.Seconds()))
}

// Commit records an accepted broadcast. The caller must hold the record lock.
func (r *ThrottleRecord) Commit(now time.Time, state KineticState, speedKph float64) {
	r.seen = true
	r.lastBroadcast = now
	r.lastState = state
	r.lastSpeed = speedKph
}

// LastState returns the state recorded by the most recent commit. The caller
// must hold the record lock.
func (r *ThrottleRecord) LastState() (KineticState, bool) {
	return r.lastState, r.seen
}

// ThrottleCache owns the per-device throttle records for the lifetime of the
// process. Records are created on first sample and never evicted; the device
// population is small relative to process memory. State is rebuilt from
// scratch on restart, so the first sample per device after a restart always
// broadcasts.
type ThrottleCache struct {
	mu      sync.Mutex
	records map[string]*ThrottleRecord
}

// NewThrottleCache creates an empty throttle cache
func NewThrottleCache() *ThrottleCache {
	return &ThrottleCache{
		records: make(map[string]*ThrottleRecord),
	}
}

// Acquire returns the record for the device, creating it on first use, and
// locks it. The caller must call Release when its broadcast attempt is done.
// Holding the record lock serializes all processing for one device without
// blocking any other device.
func (c *ThrottleCache) Acquire(deviceUID string) *ThrottleRecord {
	c.mu.Lock()
	rec, ok := c.records[deviceUID]
	if !ok {
		rec = &ThrottleRecord{}
		c.records[deviceUID] = rec
	}
	c.mu.Unlock()

	rec.mu.Lock()
	return rec
}

// Release unlocks a record returned by Acquire
func (c *ThrottleCache) Release(rec *ThrottleRecord) {
	rec.mu.Unlock()
}

// Len returns the number of tracked devices
func (c *ThrottleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIntervalsFor(t *testing.T) {
	iv := DefaultIntervals

	require.Equal(t, 30*time.Second, iv.For(StateMoving))
	require.Equal(t, 120*time.Second, iv.For(StateStopped))
	require.Equal(t, 600*time.Second, iv.For(StateParked))
}

func TestFirstSampleAlwaysBroadcasts(t *testing.T) {
	cache := NewThrottleCache()
	now := time.Now()

	rec := cache.Acquire("IMEI-100")
	defer cache.Release(rec)

	accepted, reason := rec.ShouldBroadcast(now, 30*time.Second)
	require.True(t, accepted)
	require.Empty(t, reason)
}

func TestThrottleRejectsWithinInterval(t *testing.T) {
	cache := NewThrottleCache()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rec := cache.Acquire("IMEI-100")
	rec.Commit(base, StateMoving, 45)
	cache.Release(rec)

	// 10 seconds later, still inside the 30 second moving interval
	rec = cache.Acquire("IMEI-100")
	defer cache.Release(rec)

	accepted, reason := rec.ShouldBroadcast(base.Add(10*time.Second), 30*time.Second)
	require.False(t, accepted)
	require.Equal(t, "interval not reached (10s / 30s)", reason)
}

func TestThrottleAcceptsAfterInterval(t *testing.T) {
	cache := NewThrottleCache()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rec := cache.Acquire("IMEI-100")
	rec.Commit(base, StateMoving, 45)

	accepted, _ := rec.ShouldBroadcast(base.Add(31*time.Second), 30*time.Second)
	require.True(t, accepted)

	// Boundary: exactly the interval elapsed is accepted
	accepted, _ = rec.ShouldBroadcast(base.Add(30*time.Second), 30*time.Second)
	require.True(t, accepted)

	cache.Release(rec)
}

func TestThrottleStateTransitionChangesInterval(t *testing.T) {
	cache := NewThrottleCache()
	iv := DefaultIntervals
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Device broadcasts while moving, then parks
	rec := cache.Acquire("IMEI-200")
	rec.Commit(base, StateMoving, 60)
	cache.Release(rec)

	// A parked sample 90s later is held to the parked interval
	rec = cache.Acquire("IMEI-200")
	accepted, _ := rec.ShouldBroadcast(base.Add(90*time.Second), iv.For(StateParked))
	require.False(t, accepted)
	cache.Release(rec)

	// The same elapsed time would have passed under the moving interval
	rec = cache.Acquire("IMEI-200")
	accepted, _ = rec.ShouldBroadcast(base.Add(90*time.Second), iv.For(StateMoving))
	require.True(t, accepted)
	cache.Release(rec)
}

func TestThrottleRecordsLastState(t *testing.T) {
	rec := &ThrottleRecord{}

	_, seen := rec.LastState()
	require.False(t, seen)

	rec.Commit(time.Now(), StateStopped, 3)

	state, seen := rec.LastState()
	require.True(t, seen)
	require.Equal(t, StateStopped, state)
}

func TestThrottleCacheIsPerDevice(t *testing.T) {
	cache := NewThrottleCache()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rec := cache.Acquire("IMEI-A")
	rec.Commit(base, StateMoving, 50)
	cache.Release(rec)

	// A different device is not throttled by IMEI-A's broadcast
	rec = cache.Acquire("IMEI-B")
	defer cache.Release(rec)

	accepted, _ := rec.ShouldBroadcast(base.Add(time.Second), 30*time.Second)
	require.True(t, accepted)
	require.Equal(t, 2, cache.Len())
}

func TestThrottleCacheConcurrentAcquire(t *testing.T) {
	cache := NewThrottleCache()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Many goroutines race on the same device; the record lock serializes
	// them so exactly one commit wins per interval window.
	var wg sync.WaitGroup
	accepts := make(chan struct{}, 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := cache.Acquire("IMEI-RACE")
			defer cache.Release(rec)

			if ok, _ := rec.ShouldBroadcast(base, 30*time.Second); ok {
				rec.Commit(base, StateMoving, 40)
				accepts <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(accepts)

	count := 0
	for range accepts {
		count++
	}
	require.Equal(t, 1, count)
	require.Equal(t, 1, cache.Len())
}

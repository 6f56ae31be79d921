package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"example.com/fleetwatch/services/telemetry/internal/models"
	"example.com/fleetwatch/services/telemetry/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// stubRepo overrides only the lookup the resolver uses
type stubRepo struct {
	repository.Repository
	device *models.Device
	err    error
	calls  int
}

func (s *stubRepo) FindDeviceByUID(ctx context.Context, uid string) (*models.Device, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.device, nil
}

// stubCache is an in-memory RedisClient
type stubCache struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	setErr error
	sets   chan string
}

func newStubCache() *stubCache {
	return &stubCache{
		data: make(map[string]string),
		sets: make(chan string, 8),
	}
}

func (c *stubCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", c.getErr
	}
	val, ok := c.data[key]
	if !ok {
		return "", redis.Nil
	}
	return val, nil
}

func (c *stubCache) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	select {
	case c.sets <- key:
	default:
	}
	return nil
}

func (c *stubCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *stubCache) Close() error { return nil }

func testDevice() *models.Device {
	vehicleID := uint(7)
	return &models.Device{
		UID:            "IMEI-100",
		OrganizationID: 1,
		VehicleID:      &vehicleID,
		Vehicle: &models.Vehicle{
			Name:  "Truck 12",
			Plate: "KDA 123X",
		},
	}
}

func TestResolverCacheMissFallsBackToRepo(t *testing.T) {
	repo := &stubRepo{device: testDevice()}
	redis := newStubCache()
	resolver := NewCachedResolver(repo, redis, time.Hour, testLogger())

	resolved, err := resolver.Resolve(context.Background(), "IMEI-100")

	require.NoError(t, err)
	require.Equal(t, "IMEI-100", resolved.DeviceUID)
	require.Equal(t, uint(1), resolved.TenantID)
	require.NotNil(t, resolved.VehicleID)
	require.Equal(t, uint(7), *resolved.VehicleID)
	require.Equal(t, "Truck 12", resolved.VehicleName)
	require.Equal(t, "KDA 123X", resolved.Plate)
	require.Equal(t, 1, repo.calls)

	// The miss is written back asynchronously
	select {
	case key := <-redis.sets:
		require.Equal(t, "resolve:device:IMEI-100", key)
	case <-time.After(2 * time.Second):
		t.Fatal("cache write-back never happened")
	}
}

func TestResolverCacheHitSkipsRepo(t *testing.T) {
	repo := &stubRepo{device: testDevice()}
	redis := newStubCache()

	cached, err := json.Marshal(&ResolvedDevice{
		DeviceUID: "IMEI-100",
		TenantID:  1,
	})
	require.NoError(t, err)
	redis.data["resolve:device:IMEI-100"] = string(cached)

	resolver := NewCachedResolver(repo, redis, time.Hour, testLogger())
	resolved, err := resolver.Resolve(context.Background(), "IMEI-100")

	require.NoError(t, err)
	require.Equal(t, uint(1), resolved.TenantID)
	require.Equal(t, 0, repo.calls)
}

func TestResolverCorruptCacheEntryFallsBack(t *testing.T) {
	repo := &stubRepo{device: testDevice()}
	redis := newStubCache()
	redis.data["resolve:device:IMEI-100"] = "{not json"

	resolver := NewCachedResolver(repo, redis, time.Hour, testLogger())
	resolved, err := resolver.Resolve(context.Background(), "IMEI-100")

	require.NoError(t, err)
	require.Equal(t, "IMEI-100", resolved.DeviceUID)
	require.Equal(t, 1, repo.calls)
}

func TestResolverUnknownDevice(t *testing.T) {
	repo := &stubRepo{err: gorm.ErrRecordNotFound}
	resolver := NewCachedResolver(repo, newStubCache(), time.Hour, testLogger())

	_, err := resolver.Resolve(context.Background(), "IMEI-GHOST")

	require.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestIsRoutineAlert(t *testing.T) {
	require.True(t, IsRoutineAlert(""))
	require.True(t, IsRoutineAlert("normal"))
	require.True(t, IsRoutineAlert("periodic"))
	require.False(t, IsRoutineAlert("geofence_exit"))
	require.False(t, IsRoutineAlert("panic_button"))
	require.False(t, IsRoutineAlert("overspeed"))
}

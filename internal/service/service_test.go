package service

import (
	"context"
	"testing"
	"time"

	"example.com/fleetwatch/services/telemetry/config"
	"example.com/fleetwatch/services/telemetry/internal/broadcast"
	"example.com/fleetwatch/services/telemetry/internal/models"
	"example.com/fleetwatch/services/telemetry/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// stubRepo serves a fixed device and can block lookups to simulate a slow
// database
type stubRepo struct {
	repository.Repository
	device  *models.Device
	blockCh chan struct{}
}

func (s *stubRepo) FindDeviceByUID(ctx context.Context, uid string) (*models.Device, error) {
	if s.blockCh != nil {
		<-s.blockCh
	}
	return s.device, nil
}

// stubCache is an always-miss RedisClient
type stubCache struct{}

func (stubCache) Get(ctx context.Context, key string) (string, error) {
	return "", redis.Nil
}

func (stubCache) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return nil
}

func (stubCache) Delete(ctx context.Context, key string) error { return nil }
func (stubCache) Close() error                                 { return nil }

// chanSubscriber surfaces delivered frames on a channel so tests can wait
// for asynchronous broadcasts
type chanSubscriber struct {
	id     string
	frames chan []byte
}

func newChanSubscriber(id string) *chanSubscriber {
	return &chanSubscriber{id: id, frames: make(chan []byte, 16)}
}

func (s *chanSubscriber) ID() string { return s.id }

func (s *chanSubscriber) Deliver(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testServiceConfig(repo repository.Repository, hub *broadcast.Hub) ServiceConfig {
	return ServiceConfig{
		Repository: repo,
		Cache:      stubCache{},
		Hub:        hub,
		Broadcast: config.BroadcastConfig{
			Workers:     2,
			QueueSize:   64,
			ResolverTTL: time.Hour,
		},
		Logger: quietLogger(),
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	hub := broadcast.NewHub(quietLogger())
	repo := &stubRepo{}

	_, err := NewService(testServiceConfig(nil, hub))
	require.EqualError(t, err, "repository is required")

	cfg := testServiceConfig(repo, hub)
	cfg.Cache = nil
	_, err = NewService(cfg)
	require.EqualError(t, err, "cache is required")

	cfg = testServiceConfig(repo, nil)
	_, err = NewService(cfg)
	require.EqualError(t, err, "hub is required")
}

func TestProcessSampleBroadcastsToSubscriber(t *testing.T) {
	vehicleID := uint(7)
	repo := &stubRepo{
		device: &models.Device{
			UID:            "IMEI-100",
			OrganizationID: 1,
			VehicleID:      &vehicleID,
			Vehicle:        &models.Vehicle{Name: "Truck 12", Plate: "KDA 123X"},
		},
	}
	hub := broadcast.NewHub(quietLogger())

	svc, err := NewService(testServiceConfig(repo, hub))
	require.NoError(t, err)
	defer svc.Shutdown()

	sub := newChanSubscriber("watcher")
	hub.Join(sub, broadcast.TenantTopic(1))

	speed := 52.0
	ignition := true
	err = svc.ProcessSample(context.Background(), &models.DeviceSample{
		DeviceUID:  "IMEI-100",
		Latitude:   -1.2921,
		Longitude:  36.8219,
		SpeedKph:   &speed,
		IgnitionOn: &ignition,
		SampledAt:  time.Now(),
	})
	require.NoError(t, err)

	select {
	case <-sub.frames:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never reached subscriber")
	}
}

func TestProcessSampleQueueFull(t *testing.T) {
	// Block the worker inside its device lookup so enqueued samples pile up
	blockCh := make(chan struct{})
	repo := &stubRepo{
		device:  &models.Device{UID: "IMEI-100", OrganizationID: 1},
		blockCh: blockCh,
	}
	hub := broadcast.NewHub(quietLogger())

	cfg := testServiceConfig(repo, hub)
	cfg.Broadcast.Workers = 1
	cfg.Broadcast.QueueSize = 2

	svc, err := NewService(cfg)
	require.NoError(t, err)
	defer func() {
		close(blockCh)
		svc.Shutdown()
	}()

	sample := &models.DeviceSample{DeviceUID: "IMEI-100", SampledAt: time.Now()}

	sawFull := false
	for i := 0; i < 10; i++ {
		if err := svc.ProcessSample(context.Background(), sample); err != nil {
			require.EqualError(t, err, "sample queue is full")
			sawFull = true
			break
		}
	}
	require.True(t, sawFull)
}

func TestBroadcasterStats(t *testing.T) {
	repo := &stubRepo{device: &models.Device{UID: "IMEI-100", OrganizationID: 1}}
	hub := broadcast.NewHub(quietLogger())

	svc, err := NewService(testServiceConfig(repo, hub))
	require.NoError(t, err)
	defer svc.Shutdown()

	sub := newChanSubscriber("watcher")
	hub.Join(sub, broadcast.TenantTopic(1))

	stats := svc.BroadcasterStats()
	require.Equal(t, 2, stats["worker_count"])
	require.Equal(t, 1, stats["subscribers"])
	require.Equal(t, 1, stats["topics"])
	require.Equal(t, 0, stats["throttled_devices"])
}

func TestShardForIsStable(t *testing.T) {
	sp := &SampleProcessor{workers: 8}

	shard := sp.shardFor("IMEI-100")
	for i := 0; i < 100; i++ {
		require.Equal(t, shard, sp.shardFor("IMEI-100"))
	}
	require.GreaterOrEqual(t, shard, 0)
	require.Less(t, shard, 8)
}

func TestShutdownStopsWorkers(t *testing.T) {
	repo := &stubRepo{device: &models.Device{UID: "IMEI-100", OrganizationID: 1}}
	hub := broadcast.NewHub(quietLogger())

	svc, err := NewService(testServiceConfig(repo, hub))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		require.NoError(t, svc.Shutdown())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

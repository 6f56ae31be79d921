package service

import (
	"context"
	"errors"
	"runtime"

	"example.com/fleetwatch/services/telemetry/config"
	"example.com/fleetwatch/services/telemetry/internal/broadcast"
	"example.com/fleetwatch/services/telemetry/internal/cache"
	"example.com/fleetwatch/services/telemetry/internal/models"
	"example.com/fleetwatch/services/telemetry/internal/repository"

	"github.com/sirupsen/logrus"
)

// Service defines the telemetry service operations
type Service interface {
	// Sample ingestion
	ProcessSample(ctx context.Context, sample *models.DeviceSample) error

	// Fleet reads
	GetDevice(ctx context.Context, id uint) (*models.Device, error)
	ListDevices(ctx context.Context, orgID uint) ([]*models.Device, error)
	GetVehicle(ctx context.Context, id uint) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, orgID uint) ([]*models.Vehicle, error)
	ListGeofences(ctx context.Context, orgID uint) ([]*models.Geofence, error)

	// Monitoring
	BroadcasterStats() map[string]interface{}
	Shutdown() error
}

// service is an implementation of the Service interface
type service struct {
	repo      repository.Repository
	cache     cache.RedisClient
	hub       *broadcast.Hub
	throttle  *broadcast.ThrottleCache
	processor *SampleProcessor
	log       *logrus.Logger
}

// ServiceConfig holds the configuration for the service
type ServiceConfig struct {
	Repository     repository.Repository
	Cache          cache.RedisClient
	Hub            *broadcast.Hub
	AlertForwarder broadcast.AlertForwarder
	Broadcast      config.BroadcastConfig
	Logger         *logrus.Logger
}

// NewService wires the broadcast pipeline and worker pool behind the
// Service interface
func NewService(cfg ServiceConfig) (Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	workerCount := cfg.Broadcast.Workers
	if workerCount <= 0 {
		workerCount = runtime.NumCPU() * 2
		if workerCount < 4 {
			workerCount = 4
		}
	}
	queueSize := cfg.Broadcast.QueueSize
	if queueSize <= 0 {
		queueSize = 10000
	}

	intervals := broadcast.DefaultIntervals
	if cfg.Broadcast.MovingInterval > 0 {
		intervals.Moving = cfg.Broadcast.MovingInterval
	}
	if cfg.Broadcast.StoppedInterval > 0 {
		intervals.Stopped = cfg.Broadcast.StoppedInterval
	}
	if cfg.Broadcast.ParkedInterval > 0 {
		intervals.Parked = cfg.Broadcast.ParkedInterval
	}

	resolver := broadcast.NewCachedResolver(cfg.Repository, cfg.Cache, cfg.Broadcast.ResolverTTL, cfg.Logger)
	throttle := broadcast.NewThrottleCache()
	alerts := broadcast.NewAlertFanout(cfg.Hub, cfg.AlertForwarder, cfg.Logger)
	pipeline := broadcast.NewPipeline(resolver, throttle, intervals, cfg.Hub, alerts, cfg.Logger)
	processor := NewSampleProcessor(pipeline, cfg.Logger, workerCount, queueSize)

	return &service{
		repo:      cfg.Repository,
		cache:     cfg.Cache,
		hub:       cfg.Hub,
		throttle:  throttle,
		processor: processor,
		log:       cfg.Logger,
	}, nil
}

// ProcessSample enqueues a sample for asynchronous processing
func (s *service) ProcessSample(ctx context.Context, sample *models.DeviceSample) error {
	return s.processor.EnqueueSample(sample)
}

// Fleet read operations

func (s *service) GetDevice(ctx context.Context, id uint) (*models.Device, error) {
	return s.repo.FindDeviceByID(ctx, id)
}

func (s *service) ListDevices(ctx context.Context, orgID uint) ([]*models.Device, error) {
	return s.repo.ListDevices(ctx, orgID)
}

func (s *service) GetVehicle(ctx context.Context, id uint) (*models.Vehicle, error) {
	return s.repo.FindVehicleByID(ctx, id)
}

func (s *service) ListVehicles(ctx context.Context, orgID uint) ([]*models.Vehicle, error) {
	return s.repo.ListVehicles(ctx, orgID)
}

func (s *service) ListGeofences(ctx context.Context, orgID uint) ([]*models.Geofence, error) {
	return s.repo.ListGeofences(ctx, orgID)
}

// BroadcasterStats returns queue, subscriber, and throttle statistics
func (s *service) BroadcasterStats() map[string]interface{} {
	stats := s.processor.QueueStats()
	stats["subscribers"] = s.hub.SubscriberCount()
	stats["topics"] = s.hub.TopicCount()
	stats["throttled_devices"] = s.throttle.Len()
	return stats
}

// Shutdown gracefully stops the service
func (s *service) Shutdown() error {
	s.log.Info("Shutting down service...")
	s.processor.Stop()
	return nil
}

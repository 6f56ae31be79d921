package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/fleetwatch/services/telemetry/internal/cache"
	"example.com/fleetwatch/services/telemetry/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrDeviceNotFound marks a sample that references a device with no
// resolvable vehicle/tenant. Terminal for that sample, never retried.
var ErrDeviceNotFound = errors.New("device not found")

// ResolvedDevice is the read-only routing view of a device: who owns it and
// which vehicle, if any, it is currently assigned to.
type ResolvedDevice struct {
	DeviceUID   string `json:"device_uid"`
	TenantID    uint   `json:"tenant_id"`
	VehicleID   *uint  `json:"vehicle_id,omitempty"`
	VehicleName string `json:"vehicle_name,omitempty"`
	Plate       string `json:"plate,omitempty"`
}

// DeviceResolver resolves a device UID to its owning vehicle and tenant
type DeviceResolver interface {
	Resolve(ctx context.Context, deviceUID string) (*ResolvedDevice, error)
}

// cachedResolver is a Redis-first resolver backed by the repository. Device
// assignments change rarely, so cached entries get a long TTL and are
// refreshed asynchronously after a miss.
type cachedResolver struct {
	repo  repository.Repository
	cache cache.RedisClient
	ttl   time.Duration
	log   *logrus.Logger
}

// NewCachedResolver creates a resolver over the repository with a Redis
// read-through cache
func NewCachedResolver(repo repository.Repository, redis cache.RedisClient, ttl time.Duration, log *logrus.Logger) DeviceResolver {
	return &cachedResolver{
		repo:  repo,
		cache: redis,
		ttl:   ttl,
		log:   log,
	}
}

func resolveCacheKey(deviceUID string) string {
	return fmt.Sprintf("resolve:device:%s", deviceUID)
}

// Resolve looks the device up in Redis first and falls back to the database
func (r *cachedResolver) Resolve(ctx context.Context, deviceUID string) (*ResolvedDevice, error) {
	cacheKey := resolveCacheKey(deviceUID)

	if cached, err := r.cache.Get(ctx, cacheKey); err == nil {
		var resolved ResolvedDevice
		if err := json.Unmarshal([]byte(cached), &resolved); err == nil {
			return &resolved, nil
		}
	}

	device, err := r.repo.FindDeviceByUID(ctx, deviceUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("device lookup failed: %w", err)
	}

	resolved := &ResolvedDevice{
		DeviceUID: device.UID,
		TenantID:  device.OrganizationID,
		VehicleID: device.VehicleID,
	}
	if device.Vehicle != nil {
		resolved.VehicleName = device.Vehicle.Name
		resolved.Plate = device.Vehicle.Plate
	}

	// Refresh the cache off the request path
	go r.updateCache(context.Background(), cacheKey, resolved)

	return resolved, nil
}

// updateCache stores a resolved device with retry and backoff
func (r *cachedResolver) updateCache(ctx context.Context, key string, resolved *ResolvedDevice) {
	payload, err := json.Marshal(resolved)
	if err != nil {
		r.log.WithError(err).Warnf("Failed to marshal resolved device for cache: %s", resolved.DeviceUID)
		return
	}

	maxRetries := 3
	backoff := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		if err := r.cache.Set(ctx, key, string(payload), r.ttl); err == nil {
			return
		} else if i < maxRetries-1 {
			time.Sleep(backoff * time.Duration(1<<uint(i)))
			continue
		} else {
			r.log.WithError(err).Warnf("Failed to cache resolved device after %d attempts: %s", maxRetries, resolved.DeviceUID)
		}
	}
}

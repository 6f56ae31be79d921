package repository

import (
	"context"

	"example.com/fleetwatch/services/telemetry/internal/database"
	"example.com/fleetwatch/services/telemetry/internal/models"
)

// Repository provides data access methods
type Repository interface {
	// Device operations
	CreateDevice(ctx context.Context, device *models.Device) error
	UpdateDevice(ctx context.Context, device *models.Device) error
	FindDeviceByID(ctx context.Context, id uint) (*models.Device, error)
	FindDeviceByUID(ctx context.Context, uid string) (*models.Device, error)
	ListDevices(ctx context.Context, orgID uint) ([]*models.Device, error)

	// Vehicle operations
	CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	FindVehicleByID(ctx context.Context, id uint) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, orgID uint) ([]*models.Vehicle, error)

	// Organization operations
	CreateOrganization(ctx context.Context, org *models.Organization) error
	FindOrganizationByID(ctx context.Context, id uint) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]*models.Organization, error)

	// Geofence operations
	FindGeofenceByID(ctx context.Context, id uint) (*models.Geofence, error)
	ListGeofences(ctx context.Context, orgID uint) ([]*models.Geofence, error)

	// APIKey operations
	CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error)
	UpdateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	DeleteAPIKey(ctx context.Context, id uint) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
}

// repo is an implementation of the Repository interface
type repo struct {
	db database.DB
}

// NewRepository creates a new repository instance
func NewRepository(db database.DB) Repository {
	return &repo{
		db: db,
	}
}

// Device operations implementation

func (r *repo) CreateDevice(ctx context.Context, device *models.Device) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Create(device).Error
}

func (r *repo) UpdateDevice(ctx context.Context, device *models.Device) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Save(device).Error
}

func (r *repo) FindDeviceByID(ctx context.Context, id uint) (*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := gormDB.WithContext(ctx).
		Preload("Organization").
		Preload("Vehicle").
		First(&device, id).Error; err != nil {
		return nil, err
	}

	return &device, nil
}

// FindDeviceByUID loads a device with its vehicle and organization. This is
// the resolution read used by the broadcast pipeline.
func (r *repo) FindDeviceByUID(ctx context.Context, uid string) (*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := gormDB.WithContext(ctx).
		Preload("Organization").
		Preload("Vehicle").
		Where("uid = ?", uid).
		First(&device).Error; err != nil {
		return nil, err
	}

	return &device, nil
}

func (r *repo) ListDevices(ctx context.Context, orgID uint) ([]*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var devices []*models.Device
	query := gormDB.WithContext(ctx).Preload("Vehicle")
	if orgID > 0 {
		query = query.Where("organization_id = ?", orgID)
	}
	if err := query.Find(&devices).Error; err != nil {
		return nil, err
	}

	return devices, nil
}

// Vehicle operations implementation

func (r *repo) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Create(vehicle).Error
}

func (r *repo) FindVehicleByID(ctx context.Context, id uint) (*models.Vehicle, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var vehicle models.Vehicle
	if err := gormDB.WithContext(ctx).
		Preload("Organization").
		First(&vehicle, id).Error; err != nil {
		return nil, err
	}

	return &vehicle, nil
}

func (r *repo) ListVehicles(ctx context.Context, orgID uint) ([]*models.Vehicle, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var vehicles []*models.Vehicle
	query := gormDB.WithContext(ctx)
	if orgID > 0 {
		query = query.Where("organization_id = ?", orgID)
	}
	if err := query.Find(&vehicles).Error; err != nil {
		return nil, err
	}

	return vehicles, nil
}

// Organization operations implementation

func (r *repo) CreateOrganization(ctx context.Context, org *models.Organization) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Create(org).Error
}

func (r *repo) FindOrganizationByID(ctx context.Context, id uint) (*models.Organization, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var org models.Organization
	if err := gormDB.WithContext(ctx).First(&org, id).Error; err != nil {
		return nil, err
	}

	return &org, nil
}

func (r *repo) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var orgs []*models.Organization
	if err := gormDB.WithContext(ctx).Find(&orgs).Error; err != nil {
		return nil, err
	}

	return orgs, nil
}

// Geofence operations implementation

func (r *repo) FindGeofenceByID(ctx context.Context, id uint) (*models.Geofence, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var geofence models.Geofence
	if err := gormDB.WithContext(ctx).First(&geofence, id).Error; err != nil {
		return nil, err
	}

	return &geofence, nil
}

func (r *repo) ListGeofences(ctx context.Context, orgID uint) ([]*models.Geofence, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var geofences []*models.Geofence
	query := gormDB.WithContext(ctx)
	if orgID > 0 {
		query = query.Where("organization_id = ?", orgID)
	}
	if err := query.Find(&geofences).Error; err != nil {
		return nil, err
	}

	return geofences, nil
}

// APIKey operations implementation

func (r *repo) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Create(apiKey).Error
}

func (r *repo) GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var apiKey models.APIKey
	if err := gormDB.WithContext(ctx).
		Preload("Organization").
		Where("key = ?", key).
		First(&apiKey).Error; err != nil {
		return nil, err
	}

	return &apiKey, nil
}

func (r *repo) UpdateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Save(apiKey).Error
}

func (r *repo) DeleteAPIKey(ctx context.Context, id uint) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Delete(&models.APIKey{}, id).Error
}

func (r *repo) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var keys []*models.APIKey
	if err := gormDB.WithContext(ctx).Preload("Organization").Find(&keys).Error; err != nil {
		return nil, err
	}

	return keys, nil
}

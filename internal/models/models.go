package models

import (
	"time"

	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// AuthorizationLevel represents the level of access for an API key
type AuthorizationLevel int

const (
	// NoAuthLevel represents public access with no authentication
	NoAuthLevel AuthorizationLevel = 0
	// ViewerAuthLevel represents read-only access, including live streams
	ViewerAuthLevel AuthorizationLevel = 1
	// WriterAuthLevel represents read-write access
	WriterAuthLevel AuthorizationLevel = 2
	// SudoAuthLevel represents administrative access
	SudoAuthLevel AuthorizationLevel = 3
)

// APIKey represents an API token with associated access level. The key's
// organization is the tenant identity used for stream isolation.
type APIKey struct {
	Model
	Key                string             `json:"key" gorm:"uniqueIndex;Column:key"`
	Name               string             `json:"name" gorm:"Column:name"`
	AuthorizationLevel AuthorizationLevel `json:"authorization_level" gorm:"Column:authorization_level"`
	Organization       *Organization      `json:"organization" gorm:"foreignKey:OrganizationID"`
	OrganizationID     uint               `json:"organization_id" gorm:"Column:organization_id"`
	ExpiresAt          *time.Time         `json:"expires_at" gorm:"Column:expires_at"`
	LastUsedAt         *time.Time         `json:"last_used_at" gorm:"Column:last_used_at"`
}

// Organization model represents a tenant: the company that owns vehicles,
// devices, and connected clients
type Organization struct {
	Model
	Name   string `json:"name" gorm:"Column:name"`
	URI    string `json:"uri" gorm:"Column:uri"`
	Active bool   `json:"active" gorm:"Column:active"`
}

// Vehicle model represents a fleet vehicle a device can be assigned to
type Vehicle struct {
	Model
	Name           string        `json:"name" gorm:"Column:name"`
	Plate          string        `json:"plate" gorm:"Column:plate"`
	Organization   *Organization `json:"organization" gorm:"foreignKey:OrganizationID"`
	OrganizationID uint          `json:"organization_id" gorm:"Column:organization_id"`
	Active         bool          `json:"active" gorm:"Column:active"`
}

// Device model represents a physical GPS/telemetry unit. A device may be
// unassigned, in which case VehicleID is nil and its samples are broadcast
// on the tenant topic only.
type Device struct {
	Model
	UID            string        `json:"uid" gorm:"uniqueIndex;Column:uid"`
	Serial         *string       `json:"serial" gorm:"Column:serial"`
	Organization   *Organization `json:"organization" gorm:"foreignKey:OrganizationID"`
	OrganizationID uint          `json:"organization_id" gorm:"Column:organization_id"`
	Vehicle        *Vehicle      `json:"vehicle" gorm:"foreignKey:VehicleID"`
	VehicleID      *uint         `json:"vehicle_id" gorm:"Column:vehicle_id"`
	Active         bool          `json:"active" gorm:"Column:active"`
}

// Geofence model represents a named geographic boundary clients can
// subscribe to for breach alerts
type Geofence struct {
	Model
	Name           string        `json:"name" gorm:"Column:name"`
	Organization   *Organization `json:"organization" gorm:"foreignKey:OrganizationID"`
	OrganizationID uint          `json:"organization_id" gorm:"Column:organization_id"`
	Definition     string        `json:"definition" gorm:"Column:definition;type:text"`
	Active         bool          `json:"active" gorm:"Column:active"`
}

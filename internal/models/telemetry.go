package models

import "time"

// DeviceSample is a validated position sample as delivered by the ingestion
// queue. Optional fields use pointers so absent values can be told apart
// from zero values.
type DeviceSample struct {
	DeviceUID  string    `json:"device_uid"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedKph   *float64  `json:"speed_kph,omitempty"`
	Course     *float64  `json:"course,omitempty"`
	IgnitionOn *bool     `json:"ignition_on,omitempty"`
	AlertCode  string    `json:"alert_code,omitempty"`
	GeofenceID *uint     `json:"geofence_id,omitempty"`
	SampledAt  time.Time `json:"sampled_at"`
}

// PositionUpdateMessage is the outbound position broadcast sent to
// subscribed clients
type PositionUpdateMessage struct {
	DeviceUID   string    `json:"device_uid"`
	VehicleID   *uint     `json:"vehicle_id,omitempty"`
	VehicleName string    `json:"vehicle_name,omitempty"`
	Plate       string    `json:"plate,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	SpeedKph    float64   `json:"speed_kph"`
	Course      float64   `json:"course"`
	IgnitionOn  bool      `json:"ignition_on"`
	IsMoving    bool      `json:"is_moving"`
	SampledAt   time.Time `json:"sampled_at"`
	BroadcastAt time.Time `json:"broadcast_at"`
}

// AlertMessage is the outbound broadcast for a non-routine alert code
type AlertMessage struct {
	DeviceUID string    `json:"device_uid"`
	VehicleID *uint     `json:"vehicle_id,omitempty"`
	AlertCode string    `json:"alert_code"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SampledAt time.Time `json:"sampled_at"`
}

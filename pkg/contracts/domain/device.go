package domain

import (
	"time"
)

// AppType distinguishes the two SignCast client applications.
// Editors consume editor seats, players consume player seats.
type AppType string

const (
	AppTypeEditor AppType = "editor"
	AppTypePlayer AppType = "player"
)

// IsValid reports whether the app type is known
func (a AppType) IsValid() bool {
	return a == AppTypeEditor || a == AppTypePlayer
}

// DeviceStatus represents the lifecycle status of a device registration.
// Deactivated is terminal; a deactivated device never returns to active.
type DeviceStatus string

const (
	DeviceStatusActive      DeviceStatus = "active"
	DeviceStatusDeactivated DeviceStatus = "deactivated"
)

// DeviceSummary is the device projection returned in activation responses
type DeviceSummary struct {
	ID          string  `json:"id"`
	DeviceID    string  `json:"device_id"`
	AppType     AppType `json:"app_type"`
	DisplayName string  `json:"display_name"`
}

// DeviceRecord is the full device view exposed on the admin surface
type DeviceRecord struct {
	ID            string       `json:"id"`
	DeviceID      string       `json:"device_id"`
	LicenseID     string       `json:"license_id"`
	AppType       AppType      `json:"app_type"`
	Status        DeviceStatus `json:"status"`
	DisplayName   string       `json:"display_name"`
	OSInfo        string       `json:"os_info"`
	ActivatedAt   time.Time    `json:"activated_at"`
	DeactivatedAt *time.Time   `json:"deactivated_at,omitempty"`
	LastSeenAt    time.Time    `json:"last_seen_at"`
}

// Package store provides the persistent registries of the licensing
// service: licenses, devices (with seat accounting), and the append-only
// audit ledger. Persistence is gorm over sqlite or postgres.
package store

import (
	"time"

	"signcast/pkg/contracts/domain"
)

// License is the persistent license row. Licenses follow a soft lifecycle;
// there is no hard-delete path.
type License struct {
	ID             string               `gorm:"column:id;primaryKey"`
	Key            string               `gorm:"column:license_key;uniqueIndex"`
	OrganizationID string               `gorm:"column:organization_id;index"`
	Plan           domain.Plan          `gorm:"column:plan"`
	Status         domain.LicenseStatus `gorm:"column:status"`
	EditorSeats    int                  `gorm:"column:editor_seats"`
	PlayerSeats    int                  `gorm:"column:player_seats"`
	ValidFrom      time.Time            `gorm:"column:valid_from"`
	ValidUntil     time.Time            `gorm:"column:valid_until"`
	CreatedAt      time.Time            `gorm:"column:created_at"`
	UpdatedAt      time.Time            `gorm:"column:updated_at"`
}

// TableName overrides the gorm default
func (License) TableName() string { return "licenses" }

// SeatLimits returns the seat allowance of this license
func (l *License) SeatLimits() domain.SeatLimits {
	return domain.SeatLimits{Editor: l.EditorSeats, Player: l.PlayerSeats}
}

// Record converts the row into its admin wire representation
func (l *License) Record() domain.LicenseRecord {
	return domain.LicenseRecord{
		ID:             l.ID,
		Key:            l.Key,
		OrganizationID: l.OrganizationID,
		Plan:           l.Plan,
		Status:         l.Status,
		SeatLimits:     l.SeatLimits(),
		ValidFrom:      l.ValidFrom,
		ValidUntil:     l.ValidUntil,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

// Device is the persistent device row. DeviceID is the client-chosen stable
// identifier; the unique index makes repeated activations idempotent at the
// storage layer.
type Device struct {
	ID            string              `gorm:"column:id;primaryKey"`
	DeviceID      string              `gorm:"column:device_id;uniqueIndex"`
	LicenseID     string              `gorm:"column:license_id;index:idx_devices_license_app"`
	AppType       domain.AppType      `gorm:"column:app_type;index:idx_devices_license_app"`
	Status        domain.DeviceStatus `gorm:"column:status"`
	DisplayName   string              `gorm:"column:display_name"`
	OSInfo        string              `gorm:"column:os_info"`
	ActivatedAt   time.Time           `gorm:"column:activated_at"`
	DeactivatedAt *time.Time          `gorm:"column:deactivated_at"`
	LastSeenAt    time.Time           `gorm:"column:last_seen_at"`
}

// TableName overrides the gorm default
func (Device) TableName() string { return "devices" }

// Summary converts the row into its activation-response representation
func (d *Device) Summary() domain.DeviceSummary {
	return domain.DeviceSummary{
		ID:          d.ID,
		DeviceID:    d.DeviceID,
		AppType:     d.AppType,
		DisplayName: d.DisplayName,
	}
}

// Record converts the row into its admin wire representation
func (d *Device) Record() domain.DeviceRecord {
	return domain.DeviceRecord{
		ID:            d.ID,
		DeviceID:      d.DeviceID,
		LicenseID:     d.LicenseID,
		AppType:       d.AppType,
		Status:        d.Status,
		DisplayName:   d.DisplayName,
		OSInfo:        d.OSInfo,
		ActivatedAt:   d.ActivatedAt,
		DeactivatedAt: d.DeactivatedAt,
		LastSeenAt:    d.LastSeenAt,
	}
}

// AuditEntry is the persistent ledger row. Rows are insert-only; no code
// path updates or deletes them.
type AuditEntry struct {
	ID        string             `gorm:"column:id;primaryKey"`
	Action    domain.AuditAction `gorm:"column:action;index"`
	ActorID   string             `gorm:"column:actor_id"`
	LicenseID string             `gorm:"column:license_id;index"`
	DeviceID  string             `gorm:"column:device_id;index"`
	Metadata  string             `gorm:"column:metadata"` // JSON-encoded map
	SourceIP  string             `gorm:"column:source_ip"`
	CreatedAt time.Time          `gorm:"column:created_at;index"`
}

// TableName overrides the gorm default
func (AuditEntry) TableName() string { return "audit_entries" }

// Package domain contains the core domain models for the SignCast licensing
// platform. These types serve as the Single Source of Truth (SSOT) shared by
// the server, the device SDK, and the admin dashboard.
package domain

import (
	"time"
)

// LicenseStatus represents the lifecycle status of a license
type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusCancelled LicenseStatus = "cancelled"
)

// Plan represents a subscription tier
type Plan string

const (
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// IsValid reports whether the plan is one of the known tiers
func (p Plan) IsValid() bool {
	switch p {
	case PlanBasic, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// SeatLimits holds the per-app-type concurrent device allowance of a license
type SeatLimits struct {
	Editor int `json:"editor" validate:"min=0"`
	Player int `json:"player" validate:"min=0"`
}

// ForAppType returns the seat limit for the given app type
func (s SeatLimits) ForAppType(appType AppType) int {
	if appType == AppTypeEditor {
		return s.Editor
	}
	return s.Player
}

// DefaultSeatLimits returns the seat allowance bundled with a plan
func DefaultSeatLimits(plan Plan) SeatLimits {
	switch plan {
	case PlanPro:
		return SeatLimits{Editor: 5, Player: 25}
	case PlanEnterprise:
		return SeatLimits{Editor: 25, Player: 250}
	default:
		return SeatLimits{Editor: 1, Player: 3}
	}
}

// PlanFeatures returns the feature flags embedded into capability tokens
// for a given plan. The device UI gates functionality on these strings.
func PlanFeatures(plan Plan) []string {
	switch plan {
	case PlanPro:
		return []string{"canvas", "playlists", "scheduling", "templates", "remote_publish"}
	case PlanEnterprise:
		return []string{"canvas", "playlists", "scheduling", "templates", "remote_publish", "multi_screen", "api_access", "sso"}
	default:
		return []string{"canvas", "playlists"}
	}
}

// LicenseSummary is the license projection returned to devices.
// Seat limits and internal identifiers are deliberately omitted.
type LicenseSummary struct {
	Plan       Plan      `json:"plan"`
	ValidUntil time.Time `json:"valid_until"`
}

// LicenseRecord is the full license view exposed on the admin surface
type LicenseRecord struct {
	ID             string        `json:"id"`
	Key            string        `json:"key"`
	OrganizationID string        `json:"organization_id"`
	Plan           Plan          `json:"plan"`
	Status         LicenseStatus `json:"status"`
	SeatLimits     SeatLimits    `json:"seat_limits"`
	ValidFrom      time.Time     `json:"valid_from"`
	ValidUntil     time.Time     `json:"valid_until"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

package domain

import (
	"time"
)

// ActivationRequest is the payload a device sends to claim a seat
type ActivationRequest struct {
	LicenseKey  string  `json:"license_key" validate:"required,min=10"`
	DeviceID    string  `json:"device_id" validate:"required,min=8,max=128"`
	AppType     AppType `json:"app_type" validate:"required,oneof=editor player"`
	DisplayName string  `json:"device_name,omitempty" validate:"max=200"`
	OSInfo      string  `json:"os_info,omitempty" validate:"max=200"`
}

// ActivationResponse is returned on successful activation or re-activation
type ActivationResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Device    DeviceSummary  `json:"device"`
	License   LicenseSummary `json:"license"`
}

// ValidateRequest asks the server whether a cached token is still honored
type ValidateRequest struct {
	Token    string `json:"token" validate:"required"`
	DeviceID string `json:"device_id" validate:"required"`
}

// TokenPayload mirrors the claims of a verified capability token
type TokenPayload struct {
	LicenseID      string    `json:"license_id"`
	OrganizationID string    `json:"organization_id"`
	DeviceID       string    `json:"device_id"`
	Plan           Plan      `json:"plan"`
	AppType        AppType   `json:"app"`
	Features       []string  `json:"features"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ValidateResponse always answers with a flag rather than an error status,
// since device UIs branch on it directly.
type ValidateResponse struct {
	Valid   bool          `json:"valid"`
	Error   string        `json:"error,omitempty"`
	Payload *TokenPayload `json:"payload,omitempty"`
}

// RefreshRequest exchanges a still-valid token for one with a fresh window
type RefreshRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
	OldToken string `json:"old_token" validate:"required"`
}

// RefreshResponse carries the re-issued token
type RefreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeactivateRequest releases a seat. The license key must match the device's
// owning license, so one organization cannot deactivate another's screens.
type DeactivateRequest struct {
	DeviceID   string `json:"device_id" validate:"required"`
	LicenseKey string `json:"license_key" validate:"required"`
}

// DeactivateResponse acknowledges a deactivation
type DeactivateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Entitlement error codes returned on the wire
const (
	CodeLicenseNotFound     = "LICENSE_NOT_FOUND"
	CodeLicenseInactive     = "LICENSE_INACTIVE"
	CodeLicenseExpired      = "LICENSE_EXPIRED"
	CodeLicenseNotYetValid  = "LICENSE_NOT_YET_VALID"
	CodeDeviceLimitReached  = "DEVICE_LIMIT_REACHED"
	CodeDeviceNotFound      = "DEVICE_NOT_FOUND"
	CodeDeviceDeactivated   = "DEVICE_DEACTIVATED"
	CodeDeviceIDMismatch    = "DEVICE_ID_MISMATCH"
	CodeLicenseMismatch     = "LICENSE_MISMATCH"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeNetworkUnavailable  = "NETWORK_UNAVAILABLE"
	CodeOfflineGraceExpired = "OFFLINE_GRACE_EXPIRED"
)

// Sentinel errors for entitlement decisions (using errors package so callers
// can branch with errors.Is)
var (
	ErrLicenseNotFound    = errors.New("license not found")
	ErrLicenseExpired     = errors.New("license expired")
	ErrLicenseNotYetValid = errors.New("license not yet valid")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceDeactivated  = errors.New("device deactivated")
	ErrDeviceIDMismatch   = errors.New("device id mismatch")
	ErrLicenseMismatch    = errors.New("license key does not own this device")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")

	// Client-side only
	ErrNetworkUnavailable  = errors.New("license server unreachable")
	ErrOfflineGraceExpired = errors.New("offline grace period expired")
)

// LicenseInactiveError carries the reason a license is not usable
// (suspended or cancelled, never expired - expiry has its own sentinel)
type LicenseInactiveError struct {
	Reason string
}

func (e *LicenseInactiveError) Error() string {
	return fmt.Sprintf("license inactive: %s", e.Reason)
}

// NewLicenseInactive creates a LicenseInactiveError
func NewLicenseInactive(reason string) *LicenseInactiveError {
	return &LicenseInactiveError{Reason: reason}
}

// DeviceLimitError reports a full seat pool for a license and app type
type DeviceLimitError struct {
	Active int
	Limit  int
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("device limit reached: %d of %d seats in use", e.Active, e.Limit)
}

// NewDeviceLimit creates a DeviceLimitError
func NewDeviceLimit(active, limit int) *DeviceLimitError {
	return &DeviceLimitError{Active: active, Limit: limit}
}

// EntitlementCode maps an entitlement error to its wire code.
// Unknown errors map to INTERNAL_SERVER_ERROR.
func EntitlementCode(err error) string {
	var inactive *LicenseInactiveError
	var limit *DeviceLimitError
	switch {
	case errors.Is(err, ErrLicenseNotFound):
		return CodeLicenseNotFound
	case errors.As(err, &inactive):
		return CodeLicenseInactive
	case errors.Is(err, ErrLicenseExpired):
		return CodeLicenseExpired
	case errors.Is(err, ErrLicenseNotYetValid):
		return CodeLicenseNotYetValid
	case errors.As(err, &limit):
		return CodeDeviceLimitReached
	case errors.Is(err, ErrDeviceNotFound):
		return CodeDeviceNotFound
	case errors.Is(err, ErrDeviceDeactivated):
		return CodeDeviceDeactivated
	case errors.Is(err, ErrDeviceIDMismatch):
		return CodeDeviceIDMismatch
	case errors.Is(err, ErrLicenseMismatch):
		return CodeLicenseMismatch
	case errors.Is(err, ErrTokenInvalid):
		return CodeTokenInvalid
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrNetworkUnavailable):
		return CodeNetworkUnavailable
	case errors.Is(err, ErrOfflineGraceExpired):
		return CodeOfflineGraceExpired
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// FromEntitlementCode maps a wire code back to its sentinel error.
// Used by the device client to rebuild typed errors from server responses.
func FromEntitlementCode(code, message string) error {
	switch code {
	case CodeLicenseNotFound:
		return ErrLicenseNotFound
	case CodeLicenseInactive:
		return NewLicenseInactive(message)
	case CodeLicenseExpired:
		return ErrLicenseExpired
	case CodeLicenseNotYetValid:
		return ErrLicenseNotYetValid
	case CodeDeviceLimitReached:
		return &DeviceLimitError{}
	case CodeDeviceNotFound:
		return ErrDeviceNotFound
	case CodeDeviceDeactivated:
		return ErrDeviceDeactivated
	case CodeDeviceIDMismatch:
		return ErrDeviceIDMismatch
	case CodeLicenseMismatch:
		return ErrLicenseMismatch
	case CodeTokenInvalid:
		return ErrTokenInvalid
	case CodeTokenExpired:
		return ErrTokenExpired
	default:
		return fmt.Errorf("%s: %s", code, message)
	}
}

// ToAPIError maps an entitlement error to the structured boundary error.
// Status mapping: 400 malformed, 401 bad token, 403 forbidden/limit/
// deactivated, 404 not found.
func ToAPIError(err error) *APIError {
	var inactive *LicenseInactiveError
	var limit *DeviceLimitError
	switch {
	case errors.Is(err, ErrLicenseNotFound):
		return New(http.StatusNotFound, CodeLicenseNotFound, "The provided license key was not found")
	case errors.As(err, &inactive):
		return NewWithDetails(http.StatusForbidden, CodeLicenseInactive,
			fmt.Sprintf("This license is %s", inactive.Reason),
			map[string]string{"reason": inactive.Reason})
	case errors.Is(err, ErrLicenseExpired):
		return New(http.StatusForbidden, CodeLicenseExpired, "This license has expired")
	case errors.Is(err, ErrLicenseNotYetValid):
		return New(http.StatusForbidden, CodeLicenseNotYetValid, "This license is not yet valid")
	case errors.As(err, &limit):
		return NewWithDetails(http.StatusForbidden, CodeDeviceLimitReached,
			fmt.Sprintf("Device limit reached: %d of %d seats in use", limit.Active, limit.Limit),
			map[string]int{"active": limit.Active, "limit": limit.Limit})
	case errors.Is(err, ErrDeviceNotFound):
		return New(http.StatusNotFound, CodeDeviceNotFound, "This device is not registered")
	case errors.Is(err, ErrDeviceDeactivated):
		return New(http.StatusForbidden, CodeDeviceDeactivated, "This device has been deactivated")
	case errors.Is(err, ErrDeviceIDMismatch):
		return New(http.StatusForbidden, CodeDeviceIDMismatch, "Token does not belong to this device")
	case errors.Is(err, ErrLicenseMismatch):
		return New(http.StatusForbidden, CodeLicenseMismatch, "License key does not own this device")
	case errors.Is(err, ErrTokenInvalid):
		return New(http.StatusUnauthorized, CodeTokenInvalid, "Token signature verification failed")
	case errors.Is(err, ErrTokenExpired):
		return New(http.StatusUnauthorized, CodeTokenExpired, "Token has expired")
	default:
		return ErrInternalServer
	}
}

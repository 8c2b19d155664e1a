package domain

import (
	"time"
)

// AuditAction enumerates the entitlement decisions recorded in the ledger
type AuditAction string

const (
	AuditActionActivation         AuditAction = "activation"
	AuditActionActivationDenied   AuditAction = "activation_denied"
	AuditActionRefresh            AuditAction = "refresh"
	AuditActionRefreshDenied      AuditAction = "refresh_denied"
	AuditActionDeactivation       AuditAction = "deactivation"
	AuditActionDeactivationDenied AuditAction = "deactivation_denied"
	AuditActionAdminLogin         AuditAction = "admin_login"
	AuditActionAdminLoginDenied   AuditAction = "admin_login_denied"
	AuditActionLicenseCreated     AuditAction = "license_created"
	AuditActionLicenseUpdated     AuditAction = "license_updated"
)

// AuditRecord is the ledger entry view exposed on the admin surface.
// Entries are append-only; there is no mutation or deletion path.
type AuditRecord struct {
	ID        string            `json:"id"`
	Action    AuditAction       `json:"action"`
	ActorID   string            `json:"actor_id,omitempty"`
	LicenseID string            `json:"license_id,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SourceIP  string            `json:"source_ip,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	apierrors "signcast/internal/errors"
	"signcast/internal/infrastructure"
	"signcast/internal/store"
	"signcast/internal/token"
	"signcast/pkg/contracts/domain"
)

type entitlementFixture struct {
	svc      EntitlementService
	licenses *store.LicenseRegistry
	devices  *store.DeviceRegistry
	ledger   *store.AuditLedger
	clock    *time.Time
}

// setNow moves the service's injectable clock
func (f *entitlementFixture) setNow(t time.Time) { *f.clock = t }

func newEntitlementFixture(t *testing.T) *entitlementFixture {
	t.Helper()
	db, err := store.OpenTest()
	require.NoError(t, err)

	logger := slog.Default()
	licenses := store.NewLicenseRegistry(db, logger)
	devices := store.NewDeviceRegistry(db, logger)
	ledger := store.NewAuditLedger(db, logger)
	t.Cleanup(ledger.Close)

	keys, err := token.NewEphemeralKeyProvider()
	require.NoError(t, err)
	codec := token.NewCodec(keys, 24*time.Hour)

	svc := NewEntitlementService(licenses, devices, ledger, codec, logger, nil)

	now := time.Now()
	svc.(*activationService).now = func() time.Time { return now }

	return &entitlementFixture{
		svc:      svc,
		licenses: licenses,
		devices:  devices,
		ledger:   ledger,
		clock:    &now,
	}
}

func (f *entitlementFixture) createLicense(t *testing.T, plan domain.Plan, editorSeats, playerSeats int, status domain.LicenseStatus, validFrom, validUntil time.Time) *store.License {
	t.Helper()
	license := &store.License{
		ID:             uuid.New().String(),
		Key:            "SGN-" + uuid.New().String()[:19],
		OrganizationID: "org-fixture",
		Plan:           plan,
		Status:         status,
		EditorSeats:    editorSeats,
		PlayerSeats:    playerSeats,
		ValidFrom:      validFrom,
		ValidUntil:     validUntil,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, f.licenses.Create(context.Background(), license))
	return license
}

func activationReq(key, deviceID string, appType domain.AppType) domain.ActivationRequest {
	return domain.ActivationRequest{
		LicenseKey:  key,
		DeviceID:    deviceID,
		AppType:     appType,
		DisplayName: "Lobby Screen",
		OSInfo:      "linux/arm64",
	}
}

func TestActivateSeatLifecycle(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	// PRO license with a single editor seat
	license := f.createLicense(t, domain.PlanPro, 1, 10,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))

	// First editor takes the seat
	respA, err := f.svc.Activate(ctx, activationReq(license.Key, "editor-dev-aaaa", domain.AppTypeEditor), "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, respA.Token)
	assert.Equal(t, domain.PlanPro, respA.License.Plan)
	assert.Equal(t, domain.AppTypeEditor, respA.Device.AppType)

	// Second editor is rejected with the seat numbers
	_, err = f.svc.Activate(ctx, activationReq(license.Key, "editor-dev-bbbb", domain.AppTypeEditor), "10.0.0.2")
	var limitErr *apierrors.DeviceLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 1, limitErr.Active)
	assert.Equal(t, 1, limitErr.Limit)

	// Players have their own pool
	_, err = f.svc.Activate(ctx, activationReq(license.Key, "player-dev-cccc", domain.AppTypePlayer), "10.0.0.3")
	require.NoError(t, err)

	// Releasing the editor seat lets the second editor in
	_, err = f.svc.Deactivate(ctx, domain.DeactivateRequest{
		DeviceID: "editor-dev-aaaa", LicenseKey: license.Key,
	}, "10.0.0.1")
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, activationReq(license.Key, "editor-dev-bbbb", domain.AppTypeEditor), "10.0.0.2")
	require.NoError(t, err)
}

func TestActivateRejectsUnusableLicenses(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	t.Run("unknown key", func(t *testing.T) {
		_, err := f.svc.Activate(ctx, activationReq("SGN-NOPE-NOPE-NOPE-NOPE", "device-unknown-1", domain.AppTypePlayer), "")
		assert.ErrorIs(t, err, apierrors.ErrLicenseNotFound)
	})

	t.Run("suspended license", func(t *testing.T) {
		license := f.createLicense(t, domain.PlanBasic, 1, 5,
			domain.LicenseStatusSuspended, now.Add(-time.Hour), now.Add(time.Hour))
		_, err := f.svc.Activate(ctx, activationReq(license.Key, "device-susp-1", domain.AppTypePlayer), "")
		var inactive *apierrors.LicenseInactiveError
		require.ErrorAs(t, err, &inactive)
		assert.Equal(t, "suspended", inactive.Reason)
	})

	t.Run("expired window", func(t *testing.T) {
		license := f.createLicense(t, domain.PlanBasic, 1, 5,
			domain.LicenseStatusActive, now.Add(-48*time.Hour), now.Add(-time.Hour))
		_, err := f.svc.Activate(ctx, activationReq(license.Key, "device-exp-1", domain.AppTypePlayer), "")
		assert.ErrorIs(t, err, apierrors.ErrLicenseExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		license := f.createLicense(t, domain.PlanBasic, 1, 5,
			domain.LicenseStatusActive, now.Add(time.Hour), now.Add(48*time.Hour))
		_, err := f.svc.Activate(ctx, activationReq(license.Key, "device-early-1", domain.AppTypePlayer), "")
		assert.ErrorIs(t, err, apierrors.ErrLicenseNotYetValid)
	})
}

func TestActivateIsIdempotentForSameDevice(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	license := f.createLicense(t, domain.PlanBasic, 1, 1,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))

	first, err := f.svc.Activate(ctx, activationReq(license.Key, "idem-device-01", domain.AppTypePlayer), "")
	require.NoError(t, err)

	// Relaunch: same device, same license. No new seat, fresh token.
	second, err := f.svc.Activate(ctx, activationReq(license.Key, "idem-device-01", domain.AppTypePlayer), "")
	require.NoError(t, err)
	assert.NotEmpty(t, second.Token)
	assert.Equal(t, first.Device.ID, second.Device.ID)

	count, err := f.devices.CountActive(ctx, license.ID, domain.AppTypePlayer)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-activation must not consume a second seat")
}

func TestActivateDeniedForDeactivatedDevice(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	license := f.createLicense(t, domain.PlanBasic, 1, 5,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))

	_, err := f.svc.Activate(ctx, activationReq(license.Key, "dead-device-01", domain.AppTypePlayer), "")
	require.NoError(t, err)
	_, err = f.svc.Deactivate(ctx, domain.DeactivateRequest{
		DeviceID: "dead-device-01", LicenseKey: license.Key,
	}, "")
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, activationReq(license.Key, "dead-device-01", domain.AppTypePlayer), "")
	assert.ErrorIs(t, err, apierrors.ErrDeviceDeactivated)
}

func TestActivateRejectsForeignDevice(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	licenseA := f.createLicense(t, domain.PlanBasic, 1, 5,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))
	licenseB := f.createLicense(t, domain.PlanBasic, 1, 5,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))

	_, err := f.svc.Activate(ctx, activationReq(licenseA.Key, "foreign-device-1", domain.AppTypePlayer), "")
	require.NoError(t, err)

	// The same device id under another license is refused
	_, err = f.svc.Activate(ctx, activationReq(licenseB.Key, "foreign-device-1", domain.AppTypePlayer), "")
	assert.ErrorIs(t, err, apierrors.ErrLicenseMismatch)
}

func TestValidate(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	license := f.createLicense(t, domain.PlanPro, 2, 10,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))
	resp, err := f.svc.Activate(ctx, activationReq(license.Key, "validate-dev-01", domain.AppTypePlayer), "")
	require.NoError(t, err)

	t.Run("honored token", func(t *testing.T) {
		result := f.svc.Validate(ctx, domain.ValidateRequest{Token: resp.Token, DeviceID: "validate-dev-01"})
		require.True(t, result.Valid)
		require.NotNil(t, result.Payload)
		assert.Equal(t, license.ID, result.Payload.LicenseID)
		assert.Equal(t, domain.PlanPro, result.Payload.Plan)
	})

	t.Run("device binding enforced", func(t *testing.T) {
		result := f.svc.Validate(ctx, domain.ValidateRequest{Token: resp.Token, DeviceID: "some-other-device"})
		require.False(t, result.Valid)
		assert.Equal(t, apierrors.CodeDeviceIDMismatch, result.Error)
	})

	t.Run("garbage token", func(t *testing.T) {
		result := f.svc.Validate(ctx, domain.ValidateRequest{Token: "garbage", DeviceID: "validate-dev-01"})
		require.False(t, result.Valid)
		assert.Equal(t, apierrors.CodeTokenInvalid, result.Error)
	})

	t.Run("expired token", func(t *testing.T) {
		f.setNow(now.Add(25 * time.Hour))
		defer f.setNow(now)
		result := f.svc.Validate(ctx, domain.ValidateRequest{Token: resp.Token, DeviceID: "validate-dev-01"})
		require.False(t, result.Valid)
		assert.Equal(t, apierrors.CodeTokenExpired, result.Error)
	})

	t.Run("revoked by deactivation", func(t *testing.T) {
		_, err := f.svc.Deactivate(ctx, domain.DeactivateRequest{
			DeviceID: "validate-dev-01", LicenseKey: license.Key,
		}, "")
		require.NoError(t, err)

		// Signature still verifies, the status check revokes it
		result := f.svc.Validate(ctx, domain.ValidateRequest{Token: resp.Token, DeviceID: "validate-dev-01"})
		require.False(t, result.Valid)
		assert.Equal(t, apierrors.CodeDeviceDeactivated, result.Error)
	})
}

func TestValidateRevokedBySuspension(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	license := f.createLicense(t, domain.PlanPro, 2, 10,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))
	resp, err := f.svc.Activate(ctx, activationReq(license.Key, "suspend-dev-01", domain.AppTypePlayer), "")
	require.NoError(t, err)

	require.NoError(t, f.licenses.UpdateStatus(ctx, license.ID, domain.LicenseStatusSuspended))

	result := f.svc.Validate(ctx, domain.ValidateRequest{Token: resp.Token, DeviceID: "suspend-dev-01"})
	require.False(t, result.Valid)
	assert.Equal(t, apierrors.CodeLicenseInactive, result.Error)
}

func TestRefresh(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	license := f.createLicense(t, domain.PlanPro, 2, 10,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))
	resp, err := f.svc.Activate(ctx, activationReq(license.Key, "refresh-dev-01", domain.AppTypePlayer), "")
	require.NoError(t, err)

	t.Run("extends the expiry window", func(t *testing.T) {
		f.setNow(now.Add(20 * time.Hour))
		refreshed, err := f.svc.Refresh(ctx, domain.RefreshRequest{
			DeviceID: "refresh-dev-01", OldToken: resp.Token,
		}, "")
		require.NoError(t, err)
		assert.True(t, refreshed.ExpiresAt.After(resp.ExpiresAt),
			"refreshed token must expire later than the original")
	})

	t.Run("rejects an already-expired token", func(t *testing.T) {
		f.setNow(now.Add(30 * time.Hour))
		_, err := f.svc.Refresh(ctx, domain.RefreshRequest{
			DeviceID: "refresh-dev-01", OldToken: resp.Token,
		}, "")
		assert.ErrorIs(t, err, apierrors.ErrTokenExpired)
	})
}

func TestRefreshClampedToLicenseValidity(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	// License ends in 10 hours, token TTL is 24 hours
	license := f.createLicense(t, domain.PlanBasic, 1, 5,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(10*time.Hour))

	resp, err := f.svc.Activate(ctx, activationReq(license.Key, "clamp-dev-01", domain.AppTypePlayer), "")
	require.NoError(t, err)
	assert.WithinDuration(t, license.ValidUntil, resp.ExpiresAt, time.Second,
		"token expiry must be clamped to license validity")

	refreshed, err := f.svc.Refresh(ctx, domain.RefreshRequest{
		DeviceID: "clamp-dev-01", OldToken: resp.Token,
	}, "")
	require.NoError(t, err)
	assert.WithinDuration(t, license.ValidUntil, refreshed.ExpiresAt, time.Second)
}

func TestDeactivate(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	license := f.createLicense(t, domain.PlanBasic, 1, 5,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))
	other := f.createLicense(t, domain.PlanBasic, 1, 5,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))

	_, err := f.svc.Activate(ctx, activationReq(license.Key, "deact-dev-01", domain.AppTypePlayer), "")
	require.NoError(t, err)

	t.Run("unknown device", func(t *testing.T) {
		_, err := f.svc.Deactivate(ctx, domain.DeactivateRequest{
			DeviceID: "never-seen-device", LicenseKey: license.Key,
		}, "")
		assert.ErrorIs(t, err, apierrors.ErrDeviceNotFound)
	})

	t.Run("wrong license key", func(t *testing.T) {
		_, err := f.svc.Deactivate(ctx, domain.DeactivateRequest{
			DeviceID: "deact-dev-01", LicenseKey: other.Key,
		}, "")
		assert.ErrorIs(t, err, apierrors.ErrLicenseMismatch)
	})

	t.Run("releases and is idempotent", func(t *testing.T) {
		resp, err := f.svc.Deactivate(ctx, domain.DeactivateRequest{
			DeviceID: "deact-dev-01", LicenseKey: license.Key,
		}, "")
		require.NoError(t, err)
		assert.True(t, resp.Success)

		again, err := f.svc.Deactivate(ctx, domain.DeactivateRequest{
			DeviceID: "deact-dev-01", LicenseKey: license.Key,
		}, "")
		require.NoError(t, err)
		assert.True(t, again.Success)
		assert.Contains(t, again.Message, "already")
	})
}

func TestDeniedActivationsAreAudited(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.setNow(now)

	license := f.createLicense(t, domain.PlanBasic, 0, 0,
		domain.LicenseStatusActive, now.Add(-time.Hour), now.Add(720*time.Hour))

	_, err := f.svc.Activate(ctx, activationReq(license.Key, "audited-dev-01", domain.AppTypePlayer), "203.0.113.9")
	var limitErr *apierrors.DeviceLimitError
	require.ErrorAs(t, err, &limitErr)

	var records []domain.AuditRecord
	require.Eventually(t, func() bool {
		records, err = f.ledger.ListByLicense(ctx, license.ID, 10, 0)
		return err == nil && len(records) == 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, domain.AuditActionActivationDenied, records[0].Action)
	assert.Equal(t, apierrors.CodeDeviceLimitReached, records[0].Metadata["reason"])
	assert.Equal(t, "203.0.113.9", records[0].SourceIP)
}

func TestSeatRejectionRecordedInMetrics(t *testing.T) {
	db, err := store.OpenTest()
	require.NoError(t, err)

	logger := slog.Default()
	licenses := store.NewLicenseRegistry(db, logger)
	devices := store.NewDeviceRegistry(db, logger)
	ledger := store.NewAuditLedger(db, logger)
	t.Cleanup(ledger.Close)

	keys, err := token.NewEphemeralKeyProvider()
	require.NoError(t, err)
	codec := token.NewCodec(keys, 24*time.Hour)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := infrastructure.NewEntitlementMetrics(provider.Meter("test"))
	require.NoError(t, err)

	svc := NewEntitlementService(licenses, devices, ledger, codec, logger, metrics)

	ctx := context.Background()
	now := time.Now()
	license := &store.License{
		ID:             uuid.New().String(),
		Key:            "SGN-" + uuid.New().String()[:19],
		OrganizationID: "org-metrics",
		Plan:           domain.PlanBasic,
		Status:         domain.LicenseStatusActive,
		EditorSeats:    0,
		PlayerSeats:    0,
		ValidFrom:      now.Add(-time.Hour),
		ValidUntil:     now.Add(720 * time.Hour),
	}
	require.NoError(t, licenses.Create(ctx, license))

	// A full seat pool must bump the rejection counter
	_, err = svc.Activate(ctx, activationReq(license.Key, "metrics-dev-01", domain.AppTypePlayer), "10.0.0.9")
	var limitErr *apierrors.DeviceLimitError
	require.ErrorAs(t, err, &limitErr)

	// A non-seat denial must not
	_, err = svc.Activate(ctx, activationReq("SGN-NOPE-NOPE-NOPE-NOPE", "metrics-dev-02", domain.AppTypePlayer), "10.0.0.9")
	require.ErrorIs(t, err, apierrors.ErrLicenseNotFound)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var rejections int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "entitlement_seat_limit_rejections_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				rejections += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), rejections)
}

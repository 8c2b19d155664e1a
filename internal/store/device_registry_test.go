package store

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "signcast/internal/errors"
	"signcast/pkg/contracts/domain"
)

func testRegistries(t *testing.T) (*LicenseRegistry, *DeviceRegistry) {
	t.Helper()
	db, err := OpenTest()
	require.NoError(t, err)
	logger := slog.Default()
	return NewLicenseRegistry(db, logger), NewDeviceRegistry(db, logger)
}

func newTestDevice(licenseID, deviceID string, appType domain.AppType) *Device {
	now := time.Now().UTC()
	return &Device{
		ID:          uuid.New().String(),
		DeviceID:    deviceID,
		LicenseID:   licenseID,
		AppType:     appType,
		Status:      domain.DeviceStatusActive,
		ActivatedAt: now,
		LastSeenAt:  now,
	}
}

func TestDeviceRegistryFindByDeviceID(t *testing.T) {
	_, devices := testRegistries(t)
	ctx := context.Background()

	_, err := devices.FindByDeviceID(ctx, "missing-device")
	assert.ErrorIs(t, err, apierrors.ErrDeviceNotFound)

	device := newTestDevice("lic-1", "device-find-001", domain.AppTypePlayer)
	require.NoError(t, devices.AdmitDevice(ctx, device, 5))

	found, err := devices.FindByDeviceID(ctx, "device-find-001")
	require.NoError(t, err)
	assert.Equal(t, device.ID, found.ID)
	assert.Equal(t, domain.DeviceStatusActive, found.Status)
}

func TestAdmitDeviceEnforcesSeatLimit(t *testing.T) {
	_, devices := testRegistries(t)
	ctx := context.Background()

	require.NoError(t, devices.AdmitDevice(ctx, newTestDevice("lic-1", "seat-dev-1", domain.AppTypePlayer), 2))
	require.NoError(t, devices.AdmitDevice(ctx, newTestDevice("lic-1", "seat-dev-2", domain.AppTypePlayer), 2))

	err := devices.AdmitDevice(ctx, newTestDevice("lic-1", "seat-dev-3", domain.AppTypePlayer), 2)
	var limitErr *apierrors.DeviceLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, limitErr.Active)
	assert.Equal(t, 2, limitErr.Limit)
}

func TestAdmitDeviceSeatPoolsPerAppType(t *testing.T) {
	_, devices := testRegistries(t)
	ctx := context.Background()

	// Fill the player pool; the editor pool must remain unaffected
	require.NoError(t, devices.AdmitDevice(ctx, newTestDevice("lic-1", "pool-player-1", domain.AppTypePlayer), 1))
	err := devices.AdmitDevice(ctx, newTestDevice("lic-1", "pool-player-2", domain.AppTypePlayer), 1)
	var limitErr *apierrors.DeviceLimitError
	require.ErrorAs(t, err, &limitErr)

	assert.NoError(t, devices.AdmitDevice(ctx, newTestDevice("lic-1", "pool-editor-1", domain.AppTypeEditor), 1))
}

func TestAdmitDeviceConcurrentExactness(t *testing.T) {
	_, devices := testRegistries(t)
	ctx := context.Background()

	const limit = 5
	const contenders = 12

	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			device := newTestDevice("lic-race", uuid.New().String(), domain.AppTypePlayer)
			results <- devices.AdmitDevice(ctx, device, limit)
		}(i)
	}
	wg.Wait()
	close(results)

	admitted, rejected := 0, 0
	for err := range results {
		var limitErr *apierrors.DeviceLimitError
		switch {
		case err == nil:
			admitted++
		case assert.ErrorAs(t, err, &limitErr):
			rejected++
		}
	}
	assert.Equal(t, limit, admitted, "exactly limit devices must be admitted")
	assert.Equal(t, contenders-limit, rejected)

	count, err := devices.CountActive(ctx, "lic-race", domain.AppTypePlayer)
	require.NoError(t, err)
	assert.Equal(t, limit, count)
}

func TestDeactivateReleasesSeat(t *testing.T) {
	_, devices := testRegistries(t)
	ctx := context.Background()
	now := time.Now()

	device := newTestDevice("lic-1", "release-dev-1", domain.AppTypePlayer)
	require.NoError(t, devices.AdmitDevice(ctx, device, 1))

	// Pool full
	err := devices.AdmitDevice(ctx, newTestDevice("lic-1", "release-dev-2", domain.AppTypePlayer), 1)
	var limitErr *apierrors.DeviceLimitError
	require.ErrorAs(t, err, &limitErr)

	require.NoError(t, devices.Deactivate(ctx, "release-dev-1", now))

	found, err := devices.FindByDeviceID(ctx, "release-dev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceStatusDeactivated, found.Status)
	require.NotNil(t, found.DeactivatedAt)

	// Seat is free again
	assert.NoError(t, devices.AdmitDevice(ctx, newTestDevice("lic-1", "release-dev-2", domain.AppTypePlayer), 1))
}

func TestDeactivateIsIdempotent(t *testing.T) {
	_, devices := testRegistries(t)
	ctx := context.Background()
	now := time.Now()

	device := newTestDevice("lic-1", "idem-dev-1", domain.AppTypePlayer)
	require.NoError(t, devices.AdmitDevice(ctx, device, 1))

	require.NoError(t, devices.Deactivate(ctx, "idem-dev-1", now))
	first, err := devices.FindByDeviceID(ctx, "idem-dev-1")
	require.NoError(t, err)
	firstTS := first.DeactivatedAt

	// Second deactivation is a no-op, the original timestamp survives
	require.NoError(t, devices.Deactivate(ctx, "idem-dev-1", now.Add(time.Hour)))
	second, err := devices.FindByDeviceID(ctx, "idem-dev-1")
	require.NoError(t, err)
	require.NotNil(t, second.DeactivatedAt)
	assert.WithinDuration(t, *firstTS, *second.DeactivatedAt, time.Second)
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	_, devices := testRegistries(t)
	ctx := context.Background()

	device := newTestDevice("lic-1", "touch-dev-1", domain.AppTypeEditor)
	require.NoError(t, devices.AdmitDevice(ctx, device, 1))

	later := time.Now().Add(2 * time.Hour)
	require.NoError(t, devices.Touch(ctx, "touch-dev-1", later))

	found, err := devices.FindByDeviceID(ctx, "touch-dev-1")
	require.NoError(t, err)
	assert.WithinDuration(t, later.UTC(), found.LastSeenAt.UTC(), time.Second)
}

package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signcast/pkg/contracts/domain"
)

func testLedger(t *testing.T) *AuditLedger {
	t.Helper()
	db, err := OpenTest()
	require.NoError(t, err)
	ledger := NewAuditLedger(db, slog.Default())
	t.Cleanup(ledger.Close)
	return ledger
}

func TestAuditLedgerRecordAndList(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	ledger.Record(ctx, AuditInput{
		Action:    domain.AuditActionActivation,
		ActorID:   "device-audit-1",
		LicenseID: "lic-audit",
		DeviceID:  "row-1",
		SourceIP:  "10.0.0.1",
		Metadata:  map[string]string{"app_type": "player"},
	})
	ledger.Record(ctx, AuditInput{
		Action:    domain.AuditActionDeactivation,
		ActorID:   "device-audit-1",
		LicenseID: "lic-audit",
		DeviceID:  "row-1",
	})

	// Writes are async; poll until the writer catches up
	var records []domain.AuditRecord
	require.Eventually(t, func() bool {
		var err error
		records, err = ledger.ListByLicense(ctx, "lic-audit", 10, 0)
		return err == nil && len(records) == 2
	}, 2*time.Second, 20*time.Millisecond)

	actions := []domain.AuditAction{records[0].Action, records[1].Action}
	assert.Contains(t, actions, domain.AuditActionActivation)
	assert.Contains(t, actions, domain.AuditActionDeactivation)

	for _, record := range records {
		if record.Action == domain.AuditActionActivation {
			assert.Equal(t, "10.0.0.1", record.SourceIP)
			assert.Equal(t, "player", record.Metadata["app_type"])
		}
	}
}

func TestAuditLedgerCloseDrainsBuffer(t *testing.T) {
	db, err := OpenTest()
	require.NoError(t, err)
	ledger := NewAuditLedger(db, slog.Default())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		ledger.Record(ctx, AuditInput{
			Action:    domain.AuditActionRefresh,
			ActorID:   "device-drain",
			LicenseID: "lic-drain",
		})
	}
	ledger.Close()

	records, err := ledger.ListByLicense(ctx, "lic-drain", 100, 0)
	require.NoError(t, err)
	assert.Len(t, records, 20, "Close must drain every buffered entry")
}

func TestAuditLedgerListPagination(t *testing.T) {
	db, err := OpenTest()
	require.NoError(t, err)
	ledger := NewAuditLedger(db, slog.Default())
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		ledger.Record(ctx, AuditInput{
			Action:    domain.AuditActionActivation,
			ActorID:   "device-page",
			LicenseID: "lic-page",
		})
	}
	ledger.Close()

	page1, err := ledger.ListByLicense(ctx, "lic-page", 5, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 5)

	page2, err := ledger.ListByLicense(ctx, "lic-page", 5, 5)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	// Other licenses are invisible
	other, err := ledger.ListByLicense(ctx, "lic-other", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

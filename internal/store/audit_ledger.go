package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"signcast/internal/infrastructure"
	"signcast/pkg/contracts/domain"
)

const auditBufferSize = 256

// AuditInput describes one entitlement decision to record
type AuditInput struct {
	Action    domain.AuditAction
	ActorID   string
	LicenseID string
	DeviceID  string
	Metadata  map[string]string
	SourceIP  string
}

// AuditLedger is the append-only record of entitlement decisions. Writes
// go through a buffered channel and a background writer so that a slow or
// failing ledger never blocks or fails an entitlement decision; a full
// buffer drops the entry with a logged warning instead.
type AuditLedger struct {
	db     *gorm.DB
	logger *slog.Logger

	entries chan AuditEntry
	done    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once
}

// NewAuditLedger creates the ledger and starts its writer goroutine
func NewAuditLedger(db *gorm.DB, logger *slog.Logger) *AuditLedger {
	l := &AuditLedger{
		db:      db,
		logger:  infrastructure.WithComponent(logger, "audit_ledger"),
		entries: make(chan AuditEntry, auditBufferSize),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Record enqueues one ledger entry. It never blocks and never returns an
// error; audit failures must not influence entitlement decisions.
func (l *AuditLedger) Record(ctx context.Context, input AuditInput) {
	entry := AuditEntry{
		ID:        uuid.New().String(),
		Action:    input.Action,
		ActorID:   input.ActorID,
		LicenseID: input.LicenseID,
		DeviceID:  input.DeviceID,
		SourceIP:  input.SourceIP,
		CreatedAt: time.Now().UTC(),
	}
	if len(input.Metadata) > 0 {
		if data, err := json.Marshal(input.Metadata); err == nil {
			entry.Metadata = string(data)
		}
	}

	select {
	case l.entries <- entry:
	default:
		l.logger.WarnContext(ctx, "audit buffer full, dropping entry",
			slog.String("action", string(entry.Action)),
			slog.String("license_id", entry.LicenseID),
			slog.String("device_id", entry.DeviceID))
	}
}

func (l *AuditLedger) writeLoop() {
	defer l.wg.Done()

	// The writer outlives any request context; its log lines still get a
	// trace id so a drained batch can be correlated.
	ctx := infrastructure.EnsureTraceID(context.Background())

	for {
		select {
		case entry := <-l.entries:
			l.persist(ctx, entry)
		case <-l.done:
			// Drain whatever is still buffered before exiting
			for {
				select {
				case entry := <-l.entries:
					l.persist(ctx, entry)
				default:
					return
				}
			}
		}
	}
}

func (l *AuditLedger) persist(ctx context.Context, entry AuditEntry) {
	err := l.db.Create(&entry).Error
	if err == nil {
		return
	}
	l.logger.WarnContext(ctx, "audit insert failed, retrying once",
		slog.String("action", string(entry.Action)),
		slog.String("error", err.Error()))
	time.Sleep(50 * time.Millisecond)
	if err := l.db.Create(&entry).Error; err != nil {
		l.logger.ErrorContext(ctx, "audit insert failed permanently, entry lost",
			slog.String("action", string(entry.Action)),
			slog.String("license_id", entry.LicenseID),
			slog.String("error", err.Error()))
	}
}

// Close stops the writer after draining buffered entries
func (l *AuditLedger) Close() {
	l.closed.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}

// ListByLicense returns ledger entries for a license, newest first
func (l *AuditLedger) ListByLicense(ctx context.Context, licenseID string, limit, offset int) ([]domain.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []AuditEntry
	err := l.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.AuditRecord, 0, len(rows))
	for _, row := range rows {
		record := domain.AuditRecord{
			ID:        row.ID,
			Action:    row.Action,
			ActorID:   row.ActorID,
			LicenseID: row.LicenseID,
			DeviceID:  row.DeviceID,
			SourceIP:  row.SourceIP,
			CreatedAt: row.CreatedAt,
		}
		if row.Metadata != "" {
			metadata := map[string]string{}
			if err := json.Unmarshal([]byte(row.Metadata), &metadata); err == nil {
				record.Metadata = metadata
			}
		}
		records = append(records, record)
	}
	return records, nil
}

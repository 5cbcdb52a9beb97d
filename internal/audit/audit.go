// Package audit is the append-only event sink every other component writes
// security-relevant events into.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/logging"
	"github.com/lazypower/confidant/internal/store"
)

// Event types.
const (
	MemoryAppend = "memory.append"
	MemoryList   = "memory.list"
	MemorySearch = "memory.search"
	MemoryRead   = "memory.read"
	MemoryDelete = "memory.delete"

	AccessEnroll       = "access.enroll"
	AccessRejected     = "access.rejected"
	AccessVerified     = "access.verified"
	AccessVerifyFailed = "access.verify_failed"
	AccessUnlock       = "access.unlock"
	AccessLogout       = "access.logout"
	AccessCleanup      = "access.cleanup"

	SearchScoped   = "search.scoped"
	SearchDenied   = "search.denied"
	SearchRejected = "search.rejected"

	AccessDenied = "access.denied"
	AuditRead    = "audit.read"
)

// Fields is the free-form payload of a record.
type Fields map[string]any

// Sink accepts audit events. Record never fails from the caller's point of
// view.
type Sink interface {
	Record(ctx context.Context, eventType, actor string, fields Fields)
}

// Log persists records in the store's hash-chained audit table.
type Log struct {
	db     *store.DB
	logger *zap.Logger
	now    func() time.Time
}

// New creates an audit log backed by db.
func New(db *store.DB, logger *zap.Logger) *Log {
	return &Log{db: db, logger: logging.OrNop(logger).Named("audit"), now: time.Now}
}

// SetClock replaces the timestamp source.
func (l *Log) SetClock(now func() time.Time) { l.now = now }

// Record appends one event. A failed write is logged and counted, never
// returned: losing an audit record must not block the operation that caused
// it.
func (l *Log) Record(ctx context.Context, eventType, actor string, fields Fields) {
	rec := &store.AuditRecord{
		TS:        l.now().UnixMilli(),
		EventType: eventType,
		Actor:     actor,
		Fields:    fields,
	}
	// A cancelled request still gets its audit record.
	if err := l.db.AppendAudit(context.WithoutCancel(ctx), rec); err != nil {
		WriteFailures.Inc()
		l.logger.Warn("audit write failed",
			zap.String("event", eventType),
			zap.String("actor", actor),
			zap.Error(err))
		return
	}
	Events.WithLabelValues(eventType).Inc()
}

// Query returns the newest records for actor, newest first. An empty actor
// returns records for everyone.
func (l *Log) Query(ctx context.Context, actor string, limit int) ([]store.AuditRecord, error) {
	return l.db.QueryAudit(ctx, actor, limit)
}

// Verify checks the hash chain and returns the id of the first tampered
// record, or 0.
func (l *Log) Verify(ctx context.Context) (int64, error) {
	return l.db.VerifyAuditChain(ctx)
}

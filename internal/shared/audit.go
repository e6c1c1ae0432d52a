package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Moderation audit actions.
const (
	AuditBanIssue    = "BAN_ISSUE"
	AuditBanLift     = "BAN_LIFT"
	AuditBanExpire   = "BAN_EXPIRE"
	AuditBanDelete   = "BAN_DELETE"
	AuditBanRepair   = "BAN_REPAIR"
	AuditBlockCreate = "BLOCK_CREATE"
	AuditBlockRemove = "BLOCK_REMOVE"
	AuditBlockPurge  = "BLOCK_PURGE"
)

// AuditLog represents a record stored in moderation_audit.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder is the write side used by services.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into moderation_audit.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Exec(ctx, `INSERT INTO moderation_audit (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	if err != nil {
		return Unavailable(err)
	}
	return nil
}

// EntityID formats numeric identifiers for audit rows.
func EntityID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// NopAudit discards audit records.
type NopAudit struct{}

// Record implements AuditRecorder.
func (NopAudit) Record(context.Context, AuditLog) error { return nil }

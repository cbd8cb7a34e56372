package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

const insertAuditLog = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES (NULLIF($1, 0), $2, $3, $4, $5, COALESCE($6, NOW()))`

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	return l.RecordMany(ctx, []AuditLog{log})
}

// RecordMany persists entries in one round trip; either all rows are written or none.
func (l *AuditLogger) RecordMany(ctx context.Context, logs []AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, log := range logs {
		if log.Action == "" || log.Entity == "" || log.EntityID == "" {
			return errors.New("audit log requires action/entity/entity_id")
		}
		metaJSON, err := json.Marshal(log.Meta)
		if err != nil {
			return err
		}
		var at *time.Time
		if !log.At.IsZero() {
			ts := log.At.UTC()
			at = &ts
		}
		batch.Queue(insertAuditLog, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

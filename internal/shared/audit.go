package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AuditLog is one committed mutation as stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (l AuditLog) validate() error {
	switch {
	case l.Action == "":
		return fmt.Errorf("audit: %w: action required", ErrValidation)
	case l.Entity == "":
		return fmt.Errorf("audit: %w: entity required", ErrValidation)
	case l.EntityID == "":
		return fmt.Errorf("audit: %w: entity id required", ErrValidation)
	}
	return nil
}

// AuditLogger appends records to audit_logs. Services call it after commit, so a
// failed write never undoes the mutation it describes.
type AuditLogger struct {
	db  Execer
	now func() time.Time
}

// NewAuditLogger returns an AuditLogger writing through db, usually the pool.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

// Record persists the log entry. A zero At is stamped with the current time and a
// nil Meta is stored as an empty object.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	if log.Meta == nil {
		log.Meta = map[string]any{}
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	if log.At.IsZero() {
		log.At = l.now()
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, nullActor(log.ActorID), log.Action, log.Entity, log.EntityID, meta, log.At.UTC())
	return err
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

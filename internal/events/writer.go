package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the journal.
const (
	TaskCreated       = "task.created"
	TaskAssigned      = "task.assigned"
	TaskCompleted     = "task.completed"
	TaskFailed        = "task.failed"
	MessageDelivered  = "message.delivered"
	MessageDropped    = "message.dropped"
	AlertRaised       = "alert.raised"
	BreakerTransition = "breaker.transition"
	SnapshotSaved     = "snapshot.saved"
	SnapshotRestored  = "snapshot.restored"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, companyID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,company_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(companyID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// Record appends a single event in its own transaction.
func (w Writer) Record(ctx context.Context, evtType, companyID, entityKind, entityID, actorID string, payload EventPayload) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, companyID, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

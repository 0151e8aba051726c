package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the append-only log.
const (
	WorkflowSubmitted    = "workflow.submitted"
	WorkflowStateChanged = "workflow.state.changed"
	WorkflowUpdated      = "workflow.updated"
	TaskAssigned         = "task.assigned"
	TaskUpdated          = "task.updated"
	TicketCreated        = "ticket.created"
	DocumentUploaded     = "document.uploaded"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction so the log entry
// commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, workflowID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,workflow_id,entity_kind,entity_id,actor_id,payload) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, workflowID, entityKind, entityID, actorID, string(data))
	return err
}

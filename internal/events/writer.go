package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	TypeRunRecorded    = "run.recorded"
	TypeConfigRejected = "config.rejected"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry is one row of the append-only event log.
type Entry struct {
	Type       string
	Repository string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

// Append writes an event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	if e.ActorID == "" {
		e.ActorID = "local"
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,repository,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), e.Type, nullable(e.Repository), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

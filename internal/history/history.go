package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart      EventType = "start"
	EventStop       EventType = "stop"
	EventExtraction EventType = "extraction"
)

// Event is one row of operational history. Fields that do not apply to the
// event type are left zero.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	// Name is the installation name for start/stop and the archive path for
	// extractions.
	Name   string `json:"name"`
	Port   int    `json:"port,omitempty"`
	PID    int64  `json:"pid,omitempty"`
	Result string `json:"result"`
	Stage  string `json:"stage,omitempty"`
	Detail string `json:"detail,omitempty"`
	// Ref correlates the event with an external id such as an extraction task.
	Ref string `json:"ref,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Schema columns shared by the SQL sinks.
const Columns = "occurred_at, event, name, port, pid, result, stage, detail, ref"

// Args returns the values for Columns in order.
func (e Event) Args() []any {
	return []any{e.OccurredAt.UTC(), string(e.Type), e.Name, e.Port, e.PID, e.Result, e.Stage, e.Detail, e.Ref}
}

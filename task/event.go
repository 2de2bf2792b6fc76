package task

import "time"

// knownTerminalStatuses lets subscribers recognize a terminal payload
// without importing the Status enum when events arrive pre-serialized
// (e.g. off a Redis stream as a bare string).
var knownTerminalStatuses = map[string]bool{
	string(StatusCompleted): true,
	string(StatusFailed):    true,
	string(StatusTimedOut):  true,
	string(StatusDenied):    true,
}

// Event is one entry in a task's append-only live-event journal.
// payload["status"], when set to a known terminal status string, tells
// subscribers the task has finished.
type Event struct {
	ID        string
	TaskID    string
	EventName string
	Payload   map[string]any
	CreatedAt time.Time
}

// IsTerminal reports whether e carries a recognized terminal status in its
// payload.
func (e Event) IsTerminal() bool {
	s, ok := e.Payload["status"].(string)
	return ok && knownTerminalStatuses[s]
}

// StatusEvent builds the status-change event emitted on every task
// transition.
func StatusEvent(id, taskID string, status Status, now time.Time) Event {
	return Event{
		ID:        id,
		TaskID:    taskID,
		EventName: "status",
		Payload:   map[string]any{"status": string(status)},
		CreatedAt: now,
	}
}

// OutputLineEvent builds a stdout/stderr line event, filtered by the
// dispatcher to the bound run before it ever reaches this layer.
func OutputLineEvent(id, taskID, stream, line string, now time.Time) Event {
	return Event{
		ID:        id,
		TaskID:    taskID,
		EventName: "output_line",
		Payload:   map[string]any{"stream": stream, "line": line},
		CreatedAt: now,
	}
}

// WarningEvent builds a non-fatal warning line, used for conditions like
// the approval gate latching its in-band elicitation off for the rest of
// a task.
func WarningEvent(id, taskID, reason string, now time.Time) Event {
	return Event{
		ID:        id,
		TaskID:    taskID,
		EventName: "warning",
		Payload:   map[string]any{"reason": reason},
		CreatedAt: now,
	}
}

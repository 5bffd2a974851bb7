package orchestrator

import "time"

// EventKind names a step of a run reported to observers.
type EventKind string

const (
	EventModelCall  EventKind = "model_call"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventFinished   EventKind = "finished"
	EventFailed     EventKind = "failed"
)

// Event is one observable step of a run.
type Event struct {
	Kind      EventKind `json:"kind"`
	RunID     string    `json:"run_id"`
	Iteration int       `json:"iteration"`
	Tool      string    `json:"tool,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives run events synchronously on the run's goroutine. It must
// not block.
type Observer func(Event)

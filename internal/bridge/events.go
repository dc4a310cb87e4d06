package bridge

import "time"

type EventType string

const (
	EventCaptureProgress EventType = "capture-progress"
	EventCaptureWarning  EventType = "capture-warning"
	EventCaptureError    EventType = "capture-error"
)

const (
	WarnNoSystemAudio = "no-system-audio"
)

// Event is a status update surfaced to the UI layer.
type Event struct {
	Type      EventType     `json:"type"`
	SessionID string        `json:"session_id"`
	Duration  time.Duration `json:"duration,omitempty"`
	Tracks    int           `json:"tracks,omitempty"`
	Warning   string        `json:"warning,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Emitter fans capture status events out to a single consumer. Emit never
// blocks the pipeline; if the consumer falls behind, events are dropped.
// A nil *Emitter is valid and discards everything.
type Emitter struct {
	ch chan Event
}

func NewEmitter(depth int) *Emitter {
	if depth <= 0 {
		depth = 16
	}
	return &Emitter{ch: make(chan Event, depth)}
}

func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *Emitter) Events() <-chan Event {
	if e == nil {
		return nil
	}
	return e.ch
}

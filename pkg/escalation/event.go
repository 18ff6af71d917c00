package escalation

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind discriminates [Event] payloads on the wire.
type EventKind string

const (
	// EventCreated is emitted once when an escalation enters the store.
	EventCreated EventKind = "escalation_created"

	// EventResolved is emitted once when an escalation is resolved.
	EventResolved EventKind = "escalation_resolved"

	// EventInsightUpdated is emitted every time insight text is attached.
	EventInsightUpdated EventKind = "insight_updated"
)

// IsValid reports whether k is a known event kind.
func (k EventKind) IsValid() bool {
	switch k {
	case EventCreated, EventResolved, EventInsightUpdated:
		return true
	}
	return false
}

// Event is a lifecycle notification fanned out to operator consoles and, for
// resolutions, to the waiting agent. Seq increases monotonically across all
// events from a single orchestrator; for one escalation, created always has a
// lower Seq than resolved.
type Event struct {
	Kind       EventKind   `json:"type"`
	Seq        uint64      `json:"seq"`
	At         time.Time   `json:"at"`
	Escalation *Escalation `json:"escalation"`
}

// UnmarshalJSON rejects events with an unknown or missing type so that
// consumers never silently act on a frame they do not understand.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !p.Kind.IsValid() {
		return fmt.Errorf("escalation: unknown event type %q", p.Kind)
	}
	*e = Event(p)
	return nil
}

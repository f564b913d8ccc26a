package recovery

import "time"

// EventType classifies recovery events.
type EventType int

const (
	// EventStarted marks the beginning of a recovery attempt.
	EventStarted EventType = iota
	// EventSucceeded marks a recovery attempt that restored health.
	EventSucceeded
	// EventFailed marks a recovery attempt that did not restore health.
	EventFailed
	// EventDegraded marks a service entering degraded state.
	EventDegraded
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Event is one append-only entry in the coordinator's recovery log.
type Event struct {
	Type    EventType
	Service string
	At      time.Time
	Details string
	Metrics map[string]any
}

// eventLog is a capacity-capped, bulk-truncated event sequence. When the
// log exceeds its capacity, the oldest quarter is dropped in one slice op.
type eventLog struct {
	max    int
	events []Event
}

func newEventLog(max int) *eventLog {
	if max <= 0 {
		max = 256
	}
	return &eventLog{max: max}
}

func (l *eventLog) append(e Event) {
	l.events = append(l.events, e)
	if len(l.events) > l.max {
		keep := l.max - l.max/4
		trimmed := make([]Event, keep)
		copy(trimmed, l.events[len(l.events)-keep:])
		l.events = trimmed
	}
}

// tail returns up to limit most recent events, oldest first. limit <= 0
// returns everything.
func (l *eventLog) tail(limit int) []Event {
	n := len(l.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

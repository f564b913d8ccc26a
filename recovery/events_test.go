package recovery

import (
	"testing"
	"time"
)

func TestEventLog_TrimsOldestQuarter(t *testing.T) {
	l := newEventLog(8)
	base := time.Now()

	for i := 0; i < 9; i++ {
		l.append(Event{Type: EventStarted, Service: "db", At: base.Add(time.Duration(i) * time.Second)})
	}

	// Exceeding the cap drops the oldest quarter in one pass.
	got := l.tail(0)
	if len(got) != 6 {
		t.Fatalf("retained events = %d, want 6", len(got))
	}
	if !got[0].At.Equal(base.Add(3 * time.Second)) {
		t.Errorf("oldest retained event at %v, want base+3s", got[0].At)
	}
	if !got[len(got)-1].At.Equal(base.Add(8 * time.Second)) {
		t.Errorf("newest retained event at %v, want base+8s", got[len(got)-1].At)
	}
}

func TestEventLog_Tail(t *testing.T) {
	l := newEventLog(16)
	for i := 0; i < 5; i++ {
		l.append(Event{Service: "db", Details: string(rune('a' + i))})
	}

	got := l.tail(2)
	if len(got) != 2 {
		t.Fatalf("tail(2) length = %d, want 2", len(got))
	}
	if got[0].Details != "d" || got[1].Details != "e" {
		t.Errorf("tail(2) = [%s, %s], want [d, e] oldest first", got[0].Details, got[1].Details)
	}

	if got := l.tail(100); len(got) != 5 {
		t.Errorf("tail(100) length = %d, want all 5", len(got))
	}
	if got := l.tail(0); len(got) != 5 {
		t.Errorf("tail(0) length = %d, want all 5", len(got))
	}
}

func TestEventLog_DefaultCapacity(t *testing.T) {
	l := newEventLog(0)
	if l.max != 256 {
		t.Errorf("default capacity = %d, want 256", l.max)
	}
}

func TestEventType_String(t *testing.T) {
	tests := []struct {
		t    EventType
		want string
	}{
		{EventStarted, "started"},
		{EventSucceeded, "succeeded"},
		{EventFailed, "failed"},
		{EventDegraded, "degraded"},
		{EventType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %s, want %s", tt.t, got, tt.want)
		}
	}
}

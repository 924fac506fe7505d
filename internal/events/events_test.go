package events

import "testing"

func TestBuilder_New(t *testing.T) {
	b := NewBuilder()
	ev := b.New(Start, 1, 6, nil)

	if ev.EventType != Start {
		t.Errorf("EventType = %v, want %v", ev.EventType, Start)
	}
	if ev.SpanID != 1 || ev.ChanID != 6 {
		t.Errorf("SpanID/ChanID = %d/%d, want 1/6", ev.SpanID, ev.ChanID)
	}
	if ev.EventID == "" {
		t.Error("EventID should not be empty")
	}

	ev2 := b.New(Up, 1, 6, nil)
	if ev2.EventID == ev.EventID {
		t.Error("each event should get a distinct correlation id")
	}
}

package outbuf

import (
	"testing"

	"fusionlink.dev/signal"
)

func TestPushCapacityExhaustionDrops(t *testing.T) {
	b := New(2)
	if !b.Push(signal.OutputEvent{Value: 1}) {
		t.Fatal("first push should succeed")
	}
	if !b.Push(signal.OutputEvent{Value: 2}) {
		t.Fatal("second push should succeed")
	}
	if b.Push(signal.OutputEvent{Value: 3}) {
		t.Error("third push should be dropped at capacity 2")
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
	if len(b.Events()) != 2 {
		t.Errorf("buffer never overwrites buffered events past capacity: got %d events", len(b.Events()))
	}
}

func TestResetReusesBackingArray(t *testing.T) {
	b := New(4)
	b.Push(signal.OutputEvent{Value: 1})
	b.Reset()
	if len(b.Events()) != 0 {
		t.Fatal("reset should clear events")
	}
	if cap(b.events) != 4 {
		t.Fatal("reset must not reallocate the backing array")
	}
}

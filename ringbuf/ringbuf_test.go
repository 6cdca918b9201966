package ringbuf

import "testing"

func TestPushPopFIFO(t *testing.T) {
	r := New(4)
	for i := 0; i < 4; i++ {
		r.Push(Sample{Source: SourceID(i), Value: uint32(i)})
	}
	for i := 0; i < 4; i++ {
		s, ok := r.Pop()
		if !ok {
			t.Fatalf("pop %d: expected a sample", i)
		}
		if s.Source != SourceID(i) {
			t.Errorf("pop %d: source = %d, want %d", i, s.Source, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("expected empty ring after draining")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	r := New(2)
	r.Push(Sample{Value: 1})
	r.Push(Sample{Value: 2})
	r.Push(Sample{Value: 3}) // drops 1

	s, ok := r.Pop()
	if !ok || s.Value != 2 {
		t.Fatalf("expected oldest remaining sample 2, got %+v ok=%v", s, ok)
	}
	s, ok = r.Pop()
	if !ok || s.Value != 3 {
		t.Fatalf("expected sample 3, got %+v ok=%v", s, ok)
	}
	if st := r.Stats(); st.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", st.Dropped)
	}
}

func TestInvariantPoppedLEPushedPlusDropped(t *testing.T) {
	r := New(8)
	for i := 0; i < 100; i++ {
		r.Push(Sample{Value: uint32(i)})
	}
	for {
		if _, ok := r.Pop(); !ok {
			break
		}
	}
	st := r.Stats()
	if st.Popped > st.Pushed+st.Dropped {
		t.Errorf("invariant violated: popped=%d pushed=%d dropped=%d", st.Popped, st.Pushed, st.Dropped)
	}
}

func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	r := New(3)
	if r.Cap() != 4 {
		t.Errorf("Cap() = %d, want 4", r.Cap())
	}
}

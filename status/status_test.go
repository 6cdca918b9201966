package status

import "testing"

func TestJoinNeverLowers(t *testing.T) {
	cases := []struct {
		a, b, want Status
	}{
		{OK, OK, OK},
		{OK, Degraded, Degraded},
		{Inconsistent, OK, Inconsistent},
		{Timeout, Error, Timeout},
		{Error, Timeout, Timeout},
	}
	for _, c := range cases {
		if got := Join(c.a, c.b); got != c.want {
			t.Errorf("Join(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestOrdering(t *testing.T) {
	order := []Status{OK, Degraded, OutOfRange, Error, Timeout, Inconsistent}
	for i := 1; i < len(order); i++ {
		if order[i] <= order[i-1] {
			t.Fatalf("lattice not strictly increasing at %d: %v <= %v", i, order[i], order[i-1])
		}
	}
}

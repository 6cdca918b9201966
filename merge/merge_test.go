package merge

import (
	"testing"

	"fusionlink.dev/signal"
	"fusionlink.dev/status"
)

func TestMedianWithOutlier(t *testing.T) {
	tbl := signal.NewTable(11)
	now := uint64(1000)
	vals := []int32{100, 102, 500}
	for i, v := range vals {
		tbl.Set(uint32(i), signal.Signal{Value: v, Status: status.OK, TimestampUs: now})
	}
	ctx := &Context{
		Inputs:    [MaxInputs]uint32{0, 1, 2},
		NIn:       3,
		Output:    10,
		Method:    Median,
		Tolerance: 50,
		StaleUs:   10_000,
		Enabled:   true,
	}
	Step(now, ctx, tbl)
	out := tbl.Get(10)
	if out.Value != 102 {
		t.Errorf("value = %d, want 102", out.Value)
	}
	if out.Status != status.Inconsistent {
		t.Errorf("status = %v, want INCONSISTENT", out.Status)
	}
}

func TestMedianEvenCountLowerMiddle(t *testing.T) {
	if got := median([]int32{1, 2, 3, 4}); got != 2 {
		t.Errorf("median of even count = %d, want lower-middle 2", got)
	}
}

func TestAverageTruncatesTowardZero(t *testing.T) {
	if got := average([]int32{-1, -2}); got != -1 {
		t.Errorf("average(-1,-2) = %d, want -1 (truncation toward zero)", got)
	}
}

func TestStaleInputsExcludedJoinsTimeout(t *testing.T) {
	tbl := signal.NewTable(4)
	now := uint64(100_000)
	tbl.Set(0, signal.Signal{Value: 10, Status: status.OK, TimestampUs: 0})
	tbl.Set(1, signal.Signal{Value: 12, Status: status.OK, TimestampUs: now})
	ctx := &Context{
		Inputs:  [MaxInputs]uint32{0, 1},
		NIn:     2,
		Output:  3,
		Method:  Average,
		StaleUs: 1_000,
		Enabled: true,
	}
	Step(now, ctx, tbl)
	if got := tbl.Get(3).Status; got != status.Timeout {
		t.Errorf("status = %v, want TIMEOUT (one stale input)", got)
	}
}

func TestDisabledSkipsEvaluation(t *testing.T) {
	tbl := signal.NewTable(3)
	tbl.Set(2, signal.Signal{Value: 7})
	ctx := &Context{Inputs: [MaxInputs]uint32{0, 1}, NIn: 2, Output: 2}
	Step(0, ctx, tbl)
	if tbl.Get(2).Value != 7 {
		t.Error("disabled merge must not write its output")
	}
}

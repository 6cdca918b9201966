package fault

import (
	"testing"

	"fusionlink.dev/signal"
	"fusionlink.dev/status"
	"fusionlink.dev/transform"
)

func TestLimpHomeRoundTrip(t *testing.T) {
	tbl := signal.NewTable(2)
	scale := &transform.Scale{FactorThousandths: 1000, HasMax: true, ClampMax: 10_000}
	ctx := &Context{
		Input: 0, FaultOutputSignal: 1,
		CheckRange: true, Min: 0, Max: 100,
		FaultLevel: 3,
		Limp: LimpHome{
			TargetScale: scale, HasOverride: true,
			OverrideFactor: 500, OverrideClampMax: 5_000,
			RestoreDelayMs: 1000,
		},
		Enabled: true,
	}

	tbl.Set(0, signal.Signal{Value: 500, Status: status.OK}) // out of range -> fault
	Step(0, ctx, tbl)
	if scale.FactorThousandths != 500 || scale.ClampMax != 5_000 {
		t.Fatalf("override not applied: %+v", scale)
	}

	tbl.Set(0, signal.Signal{Value: 50, Status: status.OK}) // back in range -> clears
	Step(500_000, ctx, tbl)

	Step(500_001, ctx, tbl)
	if scale.FactorThousandths != 500 || scale.ClampMax != 5_000 {
		t.Errorf("restored too early: %+v", scale)
	}

	Step(1_500_001, ctx, tbl)
	if scale.FactorThousandths != 1000 || scale.ClampMax != 10_000 {
		t.Errorf("not restored after delay: %+v", scale)
	}
}

func TestLimpHomeNeverStacks(t *testing.T) {
	tbl := signal.NewTable(2)
	scale := &transform.Scale{FactorThousandths: 1000, HasMax: true, ClampMax: 10_000}
	ctx := &Context{
		Input: 0, FaultOutputSignal: 1,
		CheckRange: true, Min: 0, Max: 100,
		Limp: LimpHome{
			TargetScale: scale, HasOverride: true,
			OverrideFactor: 500, OverrideClampMax: 5_000,
			RestoreDelayMs: 0,
		},
		Enabled: true,
	}
	tbl.Set(0, signal.Signal{Value: 500})
	Step(0, ctx, tbl)
	// A second fault while already overridden must not clobber the
	// saved originals with the already-overridden values.
	override(&ctx.Limp)
	tbl.Set(0, signal.Signal{Value: 50})
	Step(1, ctx, tbl) // clears, RestoreDelayMs=0 -> restores immediately
	if scale.FactorThousandths != 1000 || scale.ClampMax != 10_000 {
		t.Fatalf("originals not restored verbatim: %+v", scale)
	}
}

func TestRawWakeFiresOnOutOfRangeValue(t *testing.T) {
	var gotID uint32
	var gotValue int32
	var gotLevel uint8
	ctx := &Context{
		ID: 7, CheckRange: true, Min: 0, Max: 10, FaultLevel: 2,
		Wake: func(id uint32, v int32, level uint8) {
			gotID, gotValue, gotLevel = id, v, level
		},
		Enabled: true,
	}
	RawWake(ctx, 999)
	if gotID != 7 || gotValue != 999 || gotLevel != 2 {
		t.Errorf("wake callback got (%d, %d, %d), want (7, 999, 2)", gotID, gotValue, gotLevel)
	}
}

func TestProcessedWakeFiresOnlyOnTransition(t *testing.T) {
	calls := 0
	ctx := &Context{
		Input: 0, FaultOutputSignal: 1,
		CheckRange: true, Min: 0, Max: 100,
		Wake:    func(uint32, int32, uint8) { calls++ },
		Enabled: true,
	}
	tbl := signal.NewTable(2)
	tbl.Set(0, signal.Signal{Value: 500})
	Step(0, ctx, tbl)
	Step(1, ctx, tbl)
	Step(2, ctx, tbl)
	if calls != 1 {
		t.Errorf("wake fired %d times across 3 faulted ticks, want exactly 1", calls)
	}
}

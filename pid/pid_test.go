package pid

import (
	"testing"

	"fusionlink.dev/signal"
)

func newTestContext(tbl *signal.Table) *Context {
	ctx := NewContext()
	ctx.Setpoint, ctx.Measurement, ctx.Output = 0, 1, 2
	ctx.KP, ctx.KI, ctx.KD = 1000, 0, 0
	ctx.OutputMin, ctx.OutputMax = -1000, 1000
	ctx.IntegralMin, ctx.IntegralMax = -1_000_000, 1_000_000
	ctx.Enabled = true
	return &ctx
}

func TestFirstRunSuppressesDerivative(t *testing.T) {
	tbl := signal.NewTable(3)
	tbl.Set(0, signal.Signal{Value: 100})
	tbl.Set(1, signal.Signal{Value: 0})
	ctx := newTestContext(tbl)
	ctx.KD = 500
	Step(1000, ctx, tbl)
	if ctx.FirstRun {
		t.Error("FirstRun should clear after the first Step")
	}
}

func TestProportionalOnly(t *testing.T) {
	tbl := signal.NewTable(3)
	tbl.Set(0, signal.Signal{Value: 100})
	tbl.Set(1, signal.Signal{Value: 40})
	ctx := newTestContext(tbl)
	Step(1000, ctx, tbl)
	// error = 60, kp=1000 (x1000 scale) -> out = 60*1000/1000 = 60
	if got := tbl.Get(2).Value; got != 60 {
		t.Errorf("output = %d, want 60", got)
	}
}

func TestDeadbandSuppressesIntegral(t *testing.T) {
	tbl := signal.NewTable(3)
	tbl.Set(0, signal.Signal{Value: 100})
	tbl.Set(1, signal.Signal{Value: 99})
	ctx := newTestContext(tbl)
	ctx.Deadband = 5
	ctx.KI = 1000
	Step(1000, ctx, tbl)
	if ctx.Integral != 0 {
		t.Errorf("integral = %d, want 0 (error within deadband)", ctx.Integral)
	}
}

func TestResetOnSetpointChange(t *testing.T) {
	tbl := signal.NewTable(3)
	tbl.Set(0, signal.Signal{Value: 100})
	tbl.Set(1, signal.Signal{Value: 40})
	ctx := newTestContext(tbl)
	ctx.ResetOnSetpointChange = true
	ctx.KI = 1000
	Step(1000, ctx, tbl)
	Step(2000, ctx, tbl)
	accumulated := ctx.Integral
	if accumulated == 0 {
		t.Fatal("expected nonzero integral before setpoint change")
	}

	tbl.Set(0, signal.Signal{Value: 200})
	Step(3000, ctx, tbl)
	// The reset zeroes the integral before this tick's accumulation,
	// so the result must not simply be last tick's value plus a term.
	if ctx.Integral == accumulated {
		t.Error("integral was not reset on setpoint change")
	}
}

func TestOutputClamps(t *testing.T) {
	tbl := signal.NewTable(3)
	tbl.Set(0, signal.Signal{Value: 100000})
	tbl.Set(1, signal.Signal{Value: 0})
	ctx := newTestContext(tbl)
	Step(1000, ctx, tbl)
	if got := tbl.Get(2).Value; got != ctx.OutputMax {
		t.Errorf("output = %d, want clamp to OutputMax %d", got, ctx.OutputMax)
	}
}

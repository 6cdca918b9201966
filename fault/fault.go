// Package fault implements fault monitors with the engine's two-phase
// wake: a synchronous raw-value callback fired during ingest, and
// reversible limp-home degradation evaluated later in the tick.
package fault

import (
	"fusionlink.dev/signal"
	"fusionlink.dev/status"
	"fusionlink.dev/transform"
)

// WakeFunc is the raw-wake callback. It must be bounded, non-blocking,
// and free of engine-mutating operations beyond the few designated
// safe actions — the engine does not itself actuate from the wake, it
// only notifies.
type WakeFunc func(monitorID uint32, rawValue int32, level uint8)

// LimpHome is the reversible scale override bound to one fault
// monitor. TargetScale is adapted in place while active.
type LimpHome struct {
	TargetScale      *transform.Scale
	OverrideFactor   int32
	OverrideClampMax int32
	RestoreDelayMs   uint64
	HasOverride      bool

	// Runtime state.
	Active         bool
	FaultClearTime uint64 // ms, set when the fault first clears
	savedFactor    int32
	savedClampMax  int32
	saved          bool
}

// Context is one fault monitor binding.
type Context struct {
	ID                uint32
	Input             uint32
	FaultOutputSignal uint32

	CheckStaleness bool
	StaleTimeoutUs uint64
	CheckRange     bool
	Min, Max       int32
	CheckStatus    bool

	FaultLevel uint8 // 0..7
	Wake       WakeFunc

	Limp LimpHome

	Enabled bool

	// Runtime state.
	faulted bool
}

// RawWake is invoked synchronously from ingest, before any filtering,
// merging, scaling, or deadline delays, whenever an incoming event's
// value falls outside this monitor's configured range. It reports
// whether the value was actually out of range, so callers can count
// wake violations without re-deriving the condition.
func RawWake(ctx *Context, rawValue int32) (violated bool) {
	if !ctx.Enabled || !ctx.CheckRange {
		return false
	}
	violated = rawValue < ctx.Min || rawValue > ctx.Max
	if violated && ctx.Wake != nil {
		ctx.Wake(ctx.ID, rawValue, ctx.FaultLevel)
	}
	return violated
}

// Step evaluates the processed (filtered) fault condition for the
// tick and drives the limp-home state machine's transitions.
func Step(now uint64, ctx *Context, tbl *signal.Table) {
	if !ctx.Enabled {
		return
	}
	in := tbl.Get(ctx.Input)

	faulted := false
	if ctx.CheckRange && (in.Value < ctx.Min || in.Value > ctx.Max) {
		faulted = true
	}
	if ctx.CheckStaleness && ctx.StaleTimeoutUs > 0 && now-in.TimestampUs > ctx.StaleTimeoutUs {
		faulted = true
	}
	if ctx.CheckStatus && in.Status >= status.Error {
		faulted = true
	}

	nowMs := now / 1000
	switch {
	case faulted && !ctx.faulted:
		// OK -> faulted transition.
		sig := tbl.Get(ctx.FaultOutputSignal)
		sig.Value = int32(ctx.FaultLevel)
		sig.Status = status.Join(sig.Status, status.Degraded)
		sig.TimestampUs = now
		sig.Updated = true
		tbl.Set(ctx.FaultOutputSignal, sig)
		if ctx.Limp.HasOverride {
			override(&ctx.Limp)
		}
		if ctx.Wake != nil {
			ctx.Wake(ctx.ID, in.Value, ctx.FaultLevel)
		}
	case !faulted && ctx.faulted:
		// faulted -> OK transition: arm (or immediately fire) restore.
		sig := tbl.Get(ctx.FaultOutputSignal)
		sig.Value = 0
		sig.TimestampUs = now
		sig.Updated = true
		tbl.Set(ctx.FaultOutputSignal, sig)
		if ctx.Limp.HasOverride && ctx.Limp.Active {
			ctx.Limp.FaultClearTime = nowMs
			if ctx.Limp.RestoreDelayMs == 0 {
				restore(&ctx.Limp)
			}
		}
	case !faulted && ctx.Limp.Active && ctx.Limp.FaultClearTime != 0:
		if nowMs-ctx.Limp.FaultClearTime >= ctx.Limp.RestoreDelayMs {
			restore(&ctx.Limp)
		}
	}

	ctx.faulted = faulted
}

// override saves the target scale's current parameters (if not
// already saved — limp-home never stacks) and applies the degraded
// ones.
func override(l *LimpHome) {
	if !l.saved {
		l.savedFactor = l.TargetScale.FactorThousandths
		l.savedClampMax = l.TargetScale.ClampMax
		l.saved = true
	}
	l.TargetScale.FactorThousandths = l.OverrideFactor
	l.TargetScale.ClampMax = l.OverrideClampMax
	l.Active = true
}

// restore copies the saved originals back verbatim and marks the
// saved slot unused.
func restore(l *LimpHome) {
	if l.saved {
		l.TargetScale.FactorThousandths = l.savedFactor
		l.TargetScale.ClampMax = l.savedClampMax
		l.saved = false
	}
	l.Active = false
	l.FaultClearTime = 0
}

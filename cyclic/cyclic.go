// Package cyclic implements the engine's deadline-based periodic
// emission scheduler: drift-free absolute deadlines, at most one
// emission per context per tick.
package cyclic

import "fusionlink.dev/signal"

// Context is one periodic emission binding.
type Context struct {
	Type         signal.OutputType
	TargetID     uint32
	DeviceIndex  uint8
	SourceSignal uint32
	PeriodUs     uint64
	Priority     uint8
	Flags        uint32
	Enabled      bool

	NextDeadline uint64
}

// Due reports whether ctx should emit at now, without mutating state.
// Callers order the enabled, due contexts by (Priority desc,
// declaration index) before calling Emit, per the simultaneous-
// deadline tie-break rule.
func Due(now uint64, ctx *Context) bool {
	return ctx.Enabled && now >= ctx.NextDeadline
}

// Emit produces the output event for ctx and advances NextDeadline by
// exactly one PeriodUs — never to now — so long-run average rate
// equals the configured rate even under tick jitter. At most one
// emission per context per call; a skipped tick is caught up on a
// later call rather than looping here.
func Emit(now uint64, ctx *Context, tbl *signal.Table) signal.OutputEvent {
	src := tbl.Get(ctx.SourceSignal)
	ev := signal.OutputEvent{
		Type:        ctx.Type,
		TargetID:    ctx.TargetID,
		DeviceIndex: ctx.DeviceIndex,
		Value:       src.Value,
		Flags:       ctx.Flags,
		TimestampUs: now,
	}
	ctx.NextDeadline += ctx.PeriodUs
	return ev
}

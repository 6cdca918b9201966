// Package verified implements outputs that mirror a commanded value
// only after an independent verification signal confirms it took
// effect within a timeout.
package verified

import (
	"fusionlink.dev/signal"
	"fusionlink.dev/status"
)

type Context struct {
	CommandSignal      uint32
	VerificationSignal uint32
	OutputSignal       uint32
	OutputType         signal.OutputType
	Tolerance          uint32
	VerifyTimeoutUs    uint64
	ContinuousVerify   bool
	Enabled            bool

	// Runtime state.
	CommandTimestampUs uint64
	LastCommand        int32
	WaitingForVerify   bool
}

func Step(now uint64, ctx *Context, tbl *signal.Table) {
	if !ctx.Enabled {
		return
	}
	cmd := tbl.Get(ctx.CommandSignal)
	if cmd.Updated {
		ctx.LastCommand = cmd.Value
		ctx.WaitingForVerify = true
		ctx.CommandTimestampUs = now
	}

	out := tbl.Get(ctx.OutputSignal)
	out.TimestampUs = now
	out.Updated = true

	elapsed := ctx.WaitingForVerify && now-ctx.CommandTimestampUs >= ctx.VerifyTimeoutUs
	shouldCheck := elapsed || (ctx.ContinuousVerify && !ctx.WaitingForVerify)
	switch {
	case ctx.WaitingForVerify && !elapsed:
		// Still inside the verification window: mirror the command
		// optimistically but do not resolve pass/fail yet.
		out.Value = ctx.LastCommand
		out.Status = status.OK
	case shouldCheck:
		verify := tbl.Get(ctx.VerificationSignal)
		d := verify.Value - ctx.LastCommand
		if d < 0 {
			d = -d
		}
		out.Value = ctx.LastCommand
		if uint32(d) <= ctx.Tolerance {
			out.Status = status.OK
		} else {
			out.Status = status.Error
		}
		if elapsed {
			ctx.WaitingForVerify = false
		}
	default:
		out.Value = ctx.LastCommand
		out.Status = status.OK
	}

	tbl.Set(ctx.OutputSignal, out)
}

// Package transform implements the engine's remap and scale stages:
// cheap linear signal transforms applied after voting.
package transform

import (
	"fusionlink.dev/signal"
	"fusionlink.dev/status"
)

// Remap context: passthrough (optionally inverted) with a symmetric
// deadzone around zero.
type Remap struct {
	Input, Output uint32
	Invert        bool
	Deadzone      int32
	Enabled       bool
}

// StepRemap propagates input status unchanged when not OK; only an OK
// input is actually remapped.
func StepRemap(now uint64, ctx *Remap, tbl *signal.Table) {
	if !ctx.Enabled {
		return
	}
	in := tbl.Get(ctx.Input)
	out := tbl.Get(ctx.Output)
	out.TimestampUs = now
	out.Updated = true
	out.Status = status.Join(out.Status, in.Status)
	if in.Status == status.OK {
		v := in.Value
		if absInt32(v) <= ctx.Deadzone {
			v = 0
		} else if ctx.Invert {
			v = -v
		}
		out.Value = v
	}
	tbl.Set(ctx.Output, out)
}

// Scale context: out = clamp(sat32(in*factor/1000) + offset, min?, max?).
type Scale struct {
	Input, Output      uint32
	FactorThousandths  int32
	Offset             int32
	HasMin, HasMax     bool
	ClampMin, ClampMax int32
	Enabled            bool
}

func StepScale(now uint64, ctx *Scale, tbl *signal.Table) {
	if !ctx.Enabled {
		return
	}
	in := tbl.Get(ctx.Input)
	out := tbl.Get(ctx.Output)
	out.TimestampUs = now
	out.Updated = true
	out.Status = status.Join(out.Status, in.Status)
	if in.Status == status.OK {
		product := int64(in.Value) * int64(ctx.FactorThousandths)
		scaled := saturate(product / 1000)
		v := saturate(int64(scaled) + int64(ctx.Offset))
		if ctx.HasMin && v < ctx.ClampMin {
			v = ctx.ClampMin
		}
		if ctx.HasMax && v > ctx.ClampMax {
			v = ctx.ClampMax
		}
		out.Value = v
	}
	tbl.Set(ctx.Output, out)
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// saturate performs the saturating cast from a 64-bit intermediate
// into int32 range, used both for the factor multiply (detected
// before the divide by 1000) and the offset add.
func saturate(v int64) int32 {
	switch {
	case v > int64(1<<31-1):
		return 1<<31 - 1
	case v < -int64(1<<31):
		return -1 << 31
	default:
		return int32(v)
	}
}

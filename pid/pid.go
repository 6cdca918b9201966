// Package pid implements the engine's closed-loop control stage: a
// fixed-point PID controller operating directly on signal values.
package pid

import "fusionlink.dev/signal"

// Context is one PID loop binding. Gains and the accumulated integral
// are scaled by 1000 to keep the whole computation in fixed-point
// 64-bit arithmetic.
type Context struct {
	Setpoint, Measurement, Output uint32

	KP, KI, KD int64 // x1000

	OutputMin, OutputMax     int32
	IntegralMin, IntegralMax int64
	Deadband                 int32

	// SampleTimeUs is the fixed evaluation period; 0 means evaluate
	// every tick regardless of elapsed time.
	SampleTimeUs uint64

	ResetOnSetpointChange bool

	// Runtime state.
	Integral     int64
	LastError    int32
	LastSetpoint int32
	LastTimeUs   uint64
	FirstRun     bool
	Enabled      bool
}

// NewContext returns a Context with FirstRun set, so the first Step
// call suppresses the derivative term as required.
func NewContext() Context {
	return Context{FirstRun: true}
}

// Step evaluates one PID context for the current tick.
func Step(now uint64, ctx *Context, tbl *signal.Table) {
	if !ctx.Enabled {
		return
	}
	if ctx.SampleTimeUs > 0 && ctx.LastTimeUs != 0 && now-ctx.LastTimeUs < ctx.SampleTimeUs {
		return
	}

	setpoint := tbl.Get(ctx.Setpoint).Value
	measurement := tbl.Get(ctx.Measurement).Value

	if ctx.ResetOnSetpointChange && setpoint != ctx.LastSetpoint {
		ctx.Integral = 0
		ctx.LastError = 0
	}
	ctx.LastSetpoint = setpoint

	errVal := setpoint - measurement

	if absInt32(errVal) > ctx.Deadband {
		dtUs := now - ctx.LastTimeUs
		if !ctx.FirstRun && dtUs > 0 {
			// Trapezoidal accumulation over the elapsed interval,
			// expressed in error*microseconds then divided by 1000,
			// i.e. error*milliseconds (error*seconds*1000 fixed point).
			avg := int64(errVal+ctx.LastError) / 2
			ctx.Integral += avg * int64(dtUs) / 1000
		} else {
			ctx.Integral += int64(errVal)
		}
		if ctx.Integral > ctx.IntegralMax {
			ctx.Integral = ctx.IntegralMax
		}
		if ctx.Integral < ctx.IntegralMin {
			ctx.Integral = ctx.IntegralMin
		}
	}

	var derivative int64
	if !ctx.FirstRun {
		dtUs := now - ctx.LastTimeUs
		if dtUs > 0 {
			derivative = int64(errVal-ctx.LastError) * 1000 / int64(dtUs)
		}
	}

	out := ctx.KP*int64(errVal) + ctx.KI*ctx.Integral/1000 + ctx.KD*derivative
	out /= 1000

	clamped := int32(out)
	if out > int64(ctx.OutputMax) {
		clamped = ctx.OutputMax
	} else if out < int64(ctx.OutputMin) {
		clamped = ctx.OutputMin
	}

	sig := tbl.Get(ctx.Output)
	sig.Value = clamped
	sig.TimestampUs = now
	sig.Updated = true
	tbl.Set(ctx.Output, sig)

	ctx.LastError = errVal
	ctx.LastTimeUs = now
	ctx.FirstRun = false
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Package merge implements the engine's voting stage: combining 2..8
// redundant input signals into one canonical value via median,
// average, min, or max, with an optional tolerance check.
package merge

import (
	"sort"

	"fusionlink.dev/signal"
	"fusionlink.dev/status"
)

// Method selects the voting algorithm.
type Method uint8

const (
	Median Method = iota
	Average
	Min
	Max
)

const MaxInputs = 8

// Context is one merge/voter binding, declared at init and never
// destroyed.
type Context struct {
	Inputs    [MaxInputs]uint32
	NIn       int
	Output    uint32
	Method    Method
	Tolerance uint32
	StaleUs   uint64
	Enabled   bool
}

// Step evaluates one merge context against now and the signal table,
// in declaration order relative to sibling contexts (the caller is
// responsible for iterating contexts in order).
//
// Returns true if the tolerance check failed this tick (status was
// raised to Inconsistent), for tick_stats bookkeeping.
func Step(now uint64, ctx *Context, tbl *signal.Table) (inconsistent bool) {
	if !ctx.Enabled {
		return false
	}
	var values [MaxInputs]int32
	var statuses [MaxInputs]status.Status
	n := 0
	for i := 0; i < ctx.NIn; i++ {
		s := tbl.Get(ctx.Inputs[i])
		if ctx.StaleUs > 0 && now-s.TimestampUs > ctx.StaleUs {
			continue
		}
		if s.Status >= status.Error {
			continue
		}
		values[n] = s.Value
		statuses[n] = s.Status
		n++
	}

	out := status.OK
	for i := 0; i < n; i++ {
		out = status.Join(out, statuses[i])
	}
	if n < ctx.NIn {
		out = status.Join(out, status.Timeout)
	}

	var result int32
	if n == 0 {
		result = 0
		out = status.Join(out, status.Timeout)
	} else {
		switch ctx.Method {
		case Median:
			result = median(values[:n])
		case Average:
			result = average(values[:n])
		case Min:
			result = minOf(values[:n])
		case Max:
			result = maxOf(values[:n])
		}
		if ctx.Tolerance > 0 {
			var worst uint32
			for i := 0; i < n; i++ {
				d := values[i] - result
				if d < 0 {
					d = -d
				}
				if ud := uint32(d); ud > worst {
					worst = ud
				}
			}
			if worst > ctx.Tolerance {
				out = status.Join(out, status.Inconsistent)
				inconsistent = true
			}
		}
	}

	sig := tbl.Get(ctx.Output)
	sig.Value = result
	sig.Status = status.Join(sig.Status, out)
	sig.TimestampUs = now
	sig.Updated = true
	tbl.Set(ctx.Output, sig)
	return inconsistent
}

// median sorts a local copy and, for an even count, returns the lower
// middle element.
func median(values []int32) int32 {
	cp := append([]int32(nil), values...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	n := len(cp)
	return cp[(n-1)/2]
}

func average(values []int32) int32 {
	var sum int64
	for _, v := range values {
		sum += int64(v)
	}
	return saturate(sum / int64(len(values)))
}

func minOf(values []int32) int32 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []int32) int32 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// saturate clamps a 64-bit intermediate into the int32 range rather
// than wrapping.
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

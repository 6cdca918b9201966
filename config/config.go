// Package config holds the frozen, fixed-capacity set of engine
// contexts handed to the engine at init, and validates that every
// signal index any context references is in range.
//
// The device-tree generator that assigns those indices is a
// build-time, out-of-core pipeline (see SPEC_FULL.md §2); this
// package only ever consumes its output, either as a Go literal
// (tests, a statically linked binary) or as a CBOR-encoded table
// decoded at process start.
package config

import (
	"fmt"
	"strings"

	"fusionlink.dev/cyclic"
	"fusionlink.dev/fault"
	"fusionlink.dev/merge"
	"fusionlink.dev/pid"
	"fusionlink.dev/signal"
	"fusionlink.dev/transform"
	"fusionlink.dev/verified"
)

// OutputBinding ties a signal to an egress point: whenever the bound
// signal is updated in a tick, the engine's on-change phase emits one
// output event for it.
type OutputBinding struct {
	SourceSignal uint32
	Type         signal.OutputType
	TargetID     uint32
	DeviceIndex  uint8
	Flags        uint32
	Enabled      bool
}

// Config is the frozen set of contexts and sizing handed to the
// engine at Init. All slices are allocated once, at the declared
// capacity, and never reallocated.
type Config struct {
	NumSignals int

	// SignalStaleUs declares the per-signal staleness timeout (phase
	// 2), indexed by signal id; zero means staleness is never
	// evaluated for that signal.
	SignalStaleUs []uint64

	Merges         []merge.Context
	Remaps         []transform.Remap
	Scales         []transform.Scale
	Faults         []fault.Context
	Verifieds      []verified.Context
	PIDs           []pid.Context
	Cyclics        []cyclic.Context
	OutputBindings []OutputBinding

	RingbufCapacity int
	OutputBufferCap int
}

// ConfigError aggregates every rejected signal index found during
// validation, rather than failing on the first one, so a bad
// generator run surfaces its whole damage in one report.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %d problem(s): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks invariant 2 of the data model: every signal index
// referenced by any context is < NumSignals. It returns a non-nil
// *ConfigError (via the error interface) when any reference is out of
// range.
func (c *Config) Validate() error {
	errs := &ConfigError{}
	n := uint32(c.NumSignals)
	check := func(where string, id uint32) {
		if id >= n {
			errs.add("%s: signal index %d out of range [0,%d)", where, id, n)
		}
	}

	for i, m := range c.Merges {
		for k := 0; k < m.NIn; k++ {
			check(fmt.Sprintf("merge[%d].Inputs[%d]", i, k), m.Inputs[k])
		}
		check(fmt.Sprintf("merge[%d].Output", i), m.Output)
		if m.NIn > merge.MaxInputs {
			errs.add("merge[%d]: NIn=%d exceeds MaxInputs=%d", i, m.NIn, merge.MaxInputs)
		}
	}
	for i, r := range c.Remaps {
		check(fmt.Sprintf("remap[%d].Input", i), r.Input)
		check(fmt.Sprintf("remap[%d].Output", i), r.Output)
	}
	for i, s := range c.Scales {
		check(fmt.Sprintf("scale[%d].Input", i), s.Input)
		check(fmt.Sprintf("scale[%d].Output", i), s.Output)
	}
	for i, f := range c.Faults {
		check(fmt.Sprintf("fault[%d].Input", i), f.Input)
		check(fmt.Sprintf("fault[%d].FaultOutputSignal", i), f.FaultOutputSignal)
		if f.FaultLevel > 7 {
			errs.add("fault[%d]: FaultLevel=%d exceeds max 7", i, f.FaultLevel)
		}
	}
	for i, v := range c.Verifieds {
		check(fmt.Sprintf("verified[%d].CommandSignal", i), v.CommandSignal)
		check(fmt.Sprintf("verified[%d].VerificationSignal", i), v.VerificationSignal)
		check(fmt.Sprintf("verified[%d].OutputSignal", i), v.OutputSignal)
	}
	for i, p := range c.PIDs {
		check(fmt.Sprintf("pid[%d].Setpoint", i), p.Setpoint)
		check(fmt.Sprintf("pid[%d].Measurement", i), p.Measurement)
		check(fmt.Sprintf("pid[%d].Output", i), p.Output)
	}
	for i, cy := range c.Cyclics {
		check(fmt.Sprintf("cyclic[%d].SourceSignal", i), cy.SourceSignal)
	}
	for i, ob := range c.OutputBindings {
		check(fmt.Sprintf("outputBinding[%d].SourceSignal", i), ob.SourceSignal)
	}

	if len(errs.Problems) > 0 {
		return errs
	}
	return nil
}

package config

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"fusionlink.dev/cyclic"
	"fusionlink.dev/fault"
	"fusionlink.dev/merge"
	"fusionlink.dev/pid"
	"fusionlink.dev/transform"
	"fusionlink.dev/verified"
)

// wireTable is the plain data table the device-tree generator emits.
// It mirrors Config but keeps limp-home target scales as an index
// into Scales rather than a pointer, since pointers don't survive
// CBOR encoding.
type wireTable struct {
	NumSignals      int
	SignalStaleUs   []uint64
	RingbufCapacity int
	OutputBufferCap int

	Merges         []merge.Context
	Remaps         []transform.Remap
	Scales         []transform.Scale
	Verifieds      []verified.Context
	PIDs           []pid.Context
	Cyclics        []cyclic.Context
	OutputBindings []OutputBinding

	Faults []wireFault
}

type wireFault struct {
	ID                uint32
	Input             uint32
	FaultOutputSignal uint32
	CheckStaleness    bool
	StaleTimeoutUs    uint64
	CheckRange        bool
	Min, Max          int32
	CheckStatus       bool
	FaultLevel        uint8
	Enabled           bool

	HasLimp          bool
	LimpTargetScale  int // index into wireTable.Scales
	OverrideFactor   int32
	OverrideClampMax int32
	RestoreDelayMs   uint64
}

// Load decodes a CBOR-encoded configuration table, as produced by the
// external device-tree generator in deterministic ("core det") mode,
// and wires limp-home targets to their scale contexts by index.
//
// Wake callbacks are never part of the wire format: they are Go
// closures supplied by the caller after Load, via AttachWake.
func Load(data []byte) (*Config, error) {
	var wt wireTable
	if err := cbor.Unmarshal(data, &wt); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	cfg := &Config{
		NumSignals:      wt.NumSignals,
		SignalStaleUs:   wt.SignalStaleUs,
		RingbufCapacity: wt.RingbufCapacity,
		OutputBufferCap: wt.OutputBufferCap,
		Merges:          wt.Merges,
		Remaps:          wt.Remaps,
		Scales:          wt.Scales,
		Verifieds:       wt.Verifieds,
		PIDs:            wt.PIDs,
		Cyclics:         wt.Cyclics,
		OutputBindings:  wt.OutputBindings,
		Faults:          make([]fault.Context, len(wt.Faults)),
	}

	for i, wf := range wt.Faults {
		fc := fault.Context{
			ID:                wf.ID,
			Input:             wf.Input,
			FaultOutputSignal: wf.FaultOutputSignal,
			CheckStaleness:    wf.CheckStaleness,
			StaleTimeoutUs:    wf.StaleTimeoutUs,
			CheckRange:        wf.CheckRange,
			Min:               wf.Min,
			Max:               wf.Max,
			CheckStatus:       wf.CheckStatus,
			FaultLevel:        wf.FaultLevel,
			Enabled:           wf.Enabled,
		}
		if wf.HasLimp {
			if wf.LimpTargetScale < 0 || wf.LimpTargetScale >= len(cfg.Scales) {
				return nil, fmt.Errorf("config: fault[%d]: limp-home target scale index %d out of range", i, wf.LimpTargetScale)
			}
			fc.Limp = fault.LimpHome{
				TargetScale:      &cfg.Scales[wf.LimpTargetScale],
				HasOverride:      true,
				OverrideFactor:   wf.OverrideFactor,
				OverrideClampMax: wf.OverrideClampMax,
				RestoreDelayMs:   wf.RestoreDelayMs,
			}
		}
		cfg.Faults[i] = fc
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AttachWake binds the raw/processed wake callback for fault monitor
// index i after Load, since callbacks are Go closures and never part
// of the generated wire table.
func AttachWake(cfg *Config, i int, fn fault.WakeFunc) error {
	if i < 0 || i >= len(cfg.Faults) {
		return fmt.Errorf("config: fault index %d out of range", i)
	}
	cfg.Faults[i].Wake = fn
	return nil
}

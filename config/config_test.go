package config

import (
	"testing"

	"github.com/fxamacker/cbor/v2"

	"fusionlink.dev/merge"
	"fusionlink.dev/transform"
)

func TestValidateRejectsOutOfRangeIndex(t *testing.T) {
	cfg := &Config{
		NumSignals: 4,
		Merges: []merge.Context{
			{Inputs: [merge.MaxInputs]uint32{0, 1}, NIn: 2, Output: 99, Enabled: true},
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error for an out-of-range output index")
	}
	var cerr *ConfigError
	if !asConfigError(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if len(cerr.Problems) != 1 {
		t.Errorf("problems = %d, want 1", len(cerr.Problems))
	}
}

func TestValidateAcceptsInRangeConfig(t *testing.T) {
	cfg := &Config{
		NumSignals: 4,
		Merges: []merge.Context{
			{Inputs: [merge.MaxInputs]uint32{0, 1}, NIn: 2, Output: 2, Enabled: true},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLoadDecodesAndWiresLimpHome(t *testing.T) {
	table := wireTable{
		NumSignals: 3,
		Scales: []transform.Scale{
			{Input: 0, Output: 1, FactorThousandths: 1000, HasMax: true, ClampMax: 10_000, Enabled: true},
		},
		Faults: []wireFault{
			{
				ID: 0, Input: 2, FaultOutputSignal: 2,
				CheckRange: true, Min: 0, Max: 100,
				HasLimp: true, LimpTargetScale: 0,
				OverrideFactor: 500, OverrideClampMax: 5_000, RestoreDelayMs: 1000,
				Enabled: true,
			},
		},
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		t.Fatal(err)
	}
	data, err := enc.Marshal(table)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Faults[0].Limp.TargetScale != &cfg.Scales[0] {
		t.Error("limp-home target scale was not wired to the decoded scale slot")
	}
}

func TestLoadRejectsOutOfRangeLimpTarget(t *testing.T) {
	table := wireTable{
		NumSignals: 2,
		Faults: []wireFault{
			{HasLimp: true, LimpTargetScale: 5},
		},
	}
	enc, _ := cbor.CoreDetEncOptions().EncMode()
	data, err := enc.Marshal(table)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Load(data); err == nil {
		t.Error("expected an error for an out-of-range limp-home target index")
	}
}

func asConfigError(err error, target **ConfigError) bool {
	ce, ok := err.(*ConfigError)
	if ok {
		*target = ce
	}
	return ok
}

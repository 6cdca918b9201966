// Package signal holds the canonical per-signal state table the
// engine reads and writes every tick, and the event vocabulary that
// flows in and out of it.
package signal

import "fusionlink.dev/status"

// Signal is one fixed-index slot of canonical state.
type Signal struct {
	Value       int32
	Status      status.Status
	TimestampUs uint64
	StaleUs     uint64
	Updated     bool
}

// Table is a dense, fixed-capacity array of signals indexed directly
// by id. No hashing and no dynamic registration: ids are assigned at
// build time by the (out-of-core) device-tree generator.
type Table struct {
	signals []Signal
}

// NewTable allocates a table for exactly n signals. The slice is sized
// once and never reallocated.
func NewTable(n int) *Table {
	return &Table{signals: make([]Signal, n)}
}

func (t *Table) Len() int { return len(t.signals) }

func (t *Table) Valid(id uint32) bool { return int(id) < len(t.signals) }

func (t *Table) Get(id uint32) Signal { return t.signals[id] }

func (t *Table) Set(id uint32, s Signal) { t.signals[id] = s }

// Join raises the status of signal id without lowering it, per the
// lattice's monotone-upward rule.
func (t *Table) Join(id uint32, s status.Status) {
	sig := &t.signals[id]
	sig.Status = status.Join(sig.Status, s)
}

// ClearUpdated clears the Updated flag on every signal. Called once at
// the end of a tick, after all outputs have been evaluated.
func (t *Table) ClearUpdated() {
	for i := range t.signals {
		t.signals[i].Updated = false
	}
}

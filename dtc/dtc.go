// Package dtc implements a bounded diagnostic-trouble-code table keyed
// by (SPN, FMI), its J1939 DM1/DM2 wire encoding (PGN 65226), and a
// CBOR snapshot export for the UDS diagnostic dump DID.
package dtc

import (
	"github.com/fxamacker/cbor/v2"
)

// PGNDM1 is the J1939 Active DTCs broadcast PGN. DM2 (previously
// active / stored DTCs) reuses the same frame shape.
const PGNDM1 = 65226

// State tracks a DTC's lifecycle.
type State uint8

const (
	StateInactive State = iota
	StatePending
	StateConfirmed
	StateStored
)

// Lamp is the MIL severity associated with a DTC.
type Lamp uint8

const (
	LampOff Lamp = iota
	LampAmber
	LampAmberFlash
	LampRed
)

// Entry is one diagnostic trouble code.
type Entry struct {
	SPN             uint32
	FMI             uint8
	OccurrenceCount uint8
	State           State
	Lamp            Lamp
	FirstDetectedUs uint64
	LastActiveUs    uint64
}

type key struct {
	spn uint32
	fmi uint8
}

// Table is a fixed-capacity DTC store.
type Table struct {
	capacity int
	entries  map[key]*Entry
	order    []key // insertion order; DM1/DM2 report the first matching entry

	dm1PeriodMs uint64
	nextDM1Ms   uint64
}

// NewTable builds a Table with room for capacity distinct (spn,fmi) entries.
func NewTable(capacity int, dm1PeriodMs uint64) *Table {
	return &Table{
		capacity:    capacity,
		entries:     make(map[key]*Entry, capacity),
		dm1PeriodMs: dm1PeriodMs,
	}
}

// SetActive records an occurrence of (spn,fmi). A new entry is
// inserted as CONFIRMED with occurrence_count=1; an existing one has
// its occurrence count bumped (saturating at 255) and last_active_us
// refreshed, reviving a STORED entry back to CONFIRMED. Returns true
// if the table was full and a genuinely new DTC had to be dropped.
func (t *Table) SetActive(spn uint32, fmi uint8, lamp Lamp, now uint64) (dropped bool) {
	k := key{spn, fmi}
	if e, ok := t.entries[k]; ok {
		if e.OccurrenceCount < 255 {
			e.OccurrenceCount++
		}
		e.LastActiveUs = now
		e.Lamp = lamp
		if e.State == StateStored {
			e.State = StateConfirmed
		}
		return false
	}
	if len(t.entries) >= t.capacity {
		return true
	}
	t.entries[k] = &Entry{
		SPN: spn, FMI: fmi, OccurrenceCount: 1,
		State: StateConfirmed, Lamp: lamp,
		FirstDetectedUs: now, LastActiveUs: now,
	}
	t.order = append(t.order, k)
	return false
}

// Clear transitions (spn,fmi) out of the active set: to STORED if
// retain is true (so it still reports via DM2), or removed entirely
// (freeing its table slot) if not.
func (t *Table) Clear(spn uint32, fmi uint8, retain bool) {
	k := key{spn, fmi}
	e, ok := t.entries[k]
	if !ok {
		return
	}
	if retain {
		e.State = StateStored
		return
	}
	delete(t.entries, k)
	for i, o := range t.order {
		if o == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Get returns the entry for (spn,fmi), if any.
func (t *Table) Get(spn uint32, fmi uint8) (Entry, bool) {
	e, ok := t.entries[key{spn, fmi}]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MILStatus is the maximum lamp severity across active (PENDING or
// CONFIRMED) DTCs; STORED and cleared entries do not drive the lamp.
func (t *Table) MILStatus() Lamp {
	max := LampOff
	for _, e := range t.entries {
		if e.State != StateConfirmed && e.State != StatePending {
			continue
		}
		if e.Lamp > max {
			max = e.Lamp
		}
	}
	return max
}

func (t *Table) firstInState(s1, s2 State) (Entry, bool) {
	for _, k := range t.order {
		e := t.entries[k]
		if e.State == s1 || e.State == s2 {
			return *e, true
		}
	}
	return Entry{}, false
}

// lampFields maps a single aggregate Lamp onto J1939's four-lamp
// status/flash byte layout. Only the MIL field is driven; the red
// stop, amber warning, and protect lamp fields are not modelled and
// always report off.
func lampFields(l Lamp) (statusByte, flashByte byte) {
	milOn := byte(0)
	milFlash := byte(0)
	if l != LampOff {
		milOn = 0b01
	}
	if l == LampAmberFlash {
		milFlash = 0b01
	}
	return milOn, milFlash
}

func packDTC(e Entry) (b2, b3, b4, b5 byte) {
	b2 = byte(e.SPN)
	b3 = byte(e.SPN >> 8)
	b4 = byte(e.SPN>>16&0x07) | (e.FMI&0x1F)<<3
	b5 = e.OccurrenceCount & 0x7F
	return
}

func unpackDTC(b2, b3, b4, b5 byte) (spn uint32, fmi uint8, occurrence uint8) {
	spn = uint32(b2) | uint32(b3)<<8 | uint32(b4&0x07)<<16
	fmi = b4 >> 3
	occurrence = b5 & 0x7F
	return
}

// Frame is a J1939 DM1/DM2-shaped 8-byte payload.
type Frame [8]byte

// BuildDM1 constructs the active-DTC broadcast frame: the first
// PENDING or CONFIRMED entry in insertion order, or an all-clear frame
// if none are active.
func (t *Table) BuildDM1() Frame {
	var f Frame
	e, ok := t.firstInState(StatePending, StateConfirmed)
	if !ok {
		f[0], f[1] = 0, 0
		for i := 2; i < 8; i++ {
			f[i] = 0xFF
		}
		return f
	}
	f[0], f[1] = lampFields(e.Lamp)
	f[2], f[3], f[4], f[5] = packDTC(e)
	f[6], f[7] = 0xFF, 0xFF
	return f
}

// BuildDM2 is DM1's shape over STORED entries.
func (t *Table) BuildDM2() Frame {
	var f Frame
	e, ok := t.firstInState(StateStored, StateStored)
	if !ok {
		f[0], f[1] = 0, 0
		for i := 2; i < 8; i++ {
			f[i] = 0xFF
		}
		return f
	}
	f[0], f[1] = lampFields(e.Lamp)
	f[2], f[3], f[4], f[5] = packDTC(e)
	f[6], f[7] = 0xFF, 0xFF
	return f
}

// ParseDM1 is the inverse of BuildDM1/BuildDM2: it recovers the SPN,
// FMI, occurrence count, and whether the MIL lamp is on/flashing.
// Returns ok=false for an all-clear frame (bytes 2-7 all 0xFF).
func ParseDM1(f Frame) (spn uint32, fmi uint8, occurrence uint8, lampOn, lampFlash bool, ok bool) {
	if f[2] == 0xFF && f[3] == 0xFF && f[4] == 0xFF && f[5] == 0xFF {
		return 0, 0, 0, false, false, false
	}
	spn, fmi, occurrence = unpackDTC(f[2], f[3], f[4], f[5])
	lampOn = f[0]&0x03 != 0
	lampFlash = f[1]&0x03 != 0
	return spn, fmi, occurrence, lampOn, lampFlash, true
}

// DM1Due reports whether the broadcast period has elapsed, advancing
// the internal deadline like the engine's cyclic scheduler.
func (t *Table) DM1Due(nowUs uint64) bool {
	if t.dm1PeriodMs == 0 {
		return false
	}
	nowMs := nowUs / 1000
	if nowMs < t.nextDM1Ms {
		return false
	}
	if t.nextDM1Ms == 0 {
		t.nextDM1Ms = nowMs + t.dm1PeriodMs
	} else {
		t.nextDM1Ms += t.dm1PeriodMs
	}
	return true
}

// snapshotEntry is the CBOR wire shape for one table row, stable
// across core field additions to Entry.
type snapshotEntry struct {
	SPN             uint32 `cbor:"spn"`
	FMI             uint8  `cbor:"fmi"`
	OccurrenceCount uint8  `cbor:"count"`
	State           uint8  `cbor:"state"`
	Lamp            uint8  `cbor:"lamp"`
	FirstDetectedUs uint64 `cbor:"first_us"`
	LastActiveUs    uint64 `cbor:"last_us"`
}

// Dump encodes the full table deterministically for the UDS dump DID.
func (t *Table) Dump() ([]byte, error) {
	out := make([]snapshotEntry, 0, len(t.order))
	for _, k := range t.order {
		e := t.entries[k]
		out = append(out, snapshotEntry{
			SPN: e.SPN, FMI: e.FMI, OccurrenceCount: e.OccurrenceCount,
			State: uint8(e.State), Lamp: uint8(e.Lamp),
			FirstDetectedUs: e.FirstDetectedUs, LastActiveUs: e.LastActiveUs,
		})
	}
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(out)
}

// Package j1939 implements a protocol.Driver for SAE J1939: 29-bit CAN
// identifiers, PGN-addressed messages, and rate-gated cyclic
// transmission. The caller supplies the Driver's storage up front;
// Init allocates its lookup maps and Decode allocates the event slice
// it returns.
package j1939

import (
	"encoding/binary"

	"fusionlink.dev/protocol"
	"fusionlink.dev/signal"
	"fusionlink.dev/status"
)

// EEC1 is the Electronic Engine Controller 1 message (PGN 61444):
// engine speed and percent torque, the canonical J1939 round-trip
// example.
const (
	PGNEEC1 = 61444

	rpmResolution   = 0.125 // rpm per bit
	torqueOffset    = -125  // percent
	torqueResolution = 1    // percent per bit
)

// ID builds a 29-bit J1939 identifier from its fields.
//
//	prio(3) | EDP(1) | DP(1) | PF(8) | PS(8) | SA(8)
func ID(priority uint8, pf, ps, sa uint8) uint32 {
	return uint32(priority&0x7)<<26 | uint32(pf)<<16 | uint32(ps)<<8 | uint32(sa)
}

// PGN extracts the 18-bit parameter group number from a 29-bit id:
// bits 25..8, with PDU1 format (PF < 240) zeroing the PS (destination
// address) byte.
func PGN(id uint32) uint32 {
	pf := uint8(id >> 16)
	ps := uint8(id >> 8)
	if pf < 240 {
		ps = 0
	}
	return (id>>8)&0x30000 | uint32(pf)<<8 | uint32(ps)
}

func SourceAddress(id uint32) uint8 { return uint8(id) }

// EncodeEEC1 packs rpm (0..8031.875, 0.125 rpm/bit) and torque percent
// (-125..125) into an EEC1 payload.
func EncodeEEC1(rpm uint16, torquePercent int16) [8]byte {
	var d [8]byte
	d[0] = 0xFF // reference torque / engine torque mode: not used
	d[1] = byte(torquePercent - torqueOffset)
	rpmRaw := uint16(float64(rpm) / rpmResolution)
	binary.LittleEndian.PutUint16(d[3:5], rpmRaw)
	for i := 5; i < 8; i++ {
		d[i] = 0xFF
	}
	return d
}

// DecodeEEC1 is the inverse of EncodeEEC1.
func DecodeEEC1(d [8]byte) (rpm uint16, torquePercent int16) {
	torquePercent = int16(d[1]) + torqueOffset
	rpmRaw := binary.LittleEndian.Uint16(d[3:5])
	rpm = uint16(float64(rpmRaw) * rpmResolution)
	return rpm, torquePercent
}

type cyclicState struct {
	pgn          uint32
	sources      []uint32
	periodMs     uint32
	onChange     bool
	nextDueMs    uint64
	lastEncoded  [8]byte
	hasLastValue bool
}

// Driver implements protocol.Driver for J1939.
type Driver struct {
	nodeAddr uint8
	decode   map[uint32][]uint32 // PGN -> target signal ids
	encode   map[uint32]*cyclicState
	cache    map[uint32]int32 // signal id -> last known value
}

var _ protocol.Driver = (*Driver)(nil)

func (d *Driver) Init(cfg protocol.Config) error {
	d.nodeAddr = cfg.NodeAddress
	d.decode = make(map[uint32][]uint32, len(cfg.Decode))
	for _, m := range cfg.Decode {
		d.decode[m.ID] = m.Targets
	}
	d.encode = make(map[uint32]*cyclicState, len(cfg.Encode))
	d.cache = make(map[uint32]int32)
	for _, m := range cfg.Encode {
		d.encode[m.ID] = &cyclicState{
			pgn:      m.ID,
			sources:  m.Sources,
			periodMs: m.PeriodMs,
			onChange: m.OnChange,
		}
	}
	return nil
}

func (d *Driver) Decode(now uint64, f protocol.Frame) []signal.Event {
	pgn := PGN(f.ID)
	targets, ok := d.decode[pgn]
	if !ok || len(targets) == 0 {
		return nil
	}
	events := make([]signal.Event, 0, len(targets))
	switch pgn {
	case PGNEEC1:
		rpm, torque := DecodeEEC1(f.Data)
		if len(targets) > 0 {
			events = append(events, signal.Event{SourceID: targets[0], Value: int32(rpm), Status: status.OK, TimestampUs: now})
		}
		if len(targets) > 1 {
			events = append(events, signal.Event{SourceID: targets[1], Value: int32(torque), Status: status.OK, TimestampUs: now})
		}
	default:
		// Generic single-signal PGNs: first two data bytes as a
		// little-endian signed 16-bit value.
		if len(targets) > 0 {
			v := int16(binary.LittleEndian.Uint16(f.Data[0:2]))
			events = append(events, signal.Event{SourceID: targets[0], Value: int32(v), Status: status.OK, TimestampUs: now})
		}
	}
	return events
}

func (d *Driver) Encode(id uint32) (protocol.Frame, bool) {
	st, ok := d.encode[id]
	if !ok {
		return protocol.Frame{}, false
	}
	data := d.encodeFrame(st)
	return protocol.Frame{
		ID:       ID(6, uint8(id>>8), uint8(id), d.nodeAddr),
		Data:     data,
		Len:      8,
		Extended: true,
	}, true
}

func (d *Driver) encodeFrame(st *cyclicState) [8]byte {
	switch st.pgn {
	case PGNEEC1:
		var rpm int32
		var torque int32
		if len(st.sources) > 0 {
			rpm = d.cache[st.sources[0]]
		}
		if len(st.sources) > 1 {
			torque = d.cache[st.sources[1]]
		}
		return EncodeEEC1(uint16(rpm), int16(torque))
	default:
		var buf [8]byte
		if len(st.sources) > 0 {
			binary.LittleEndian.PutUint16(buf[0:2], uint16(int16(d.cache[st.sources[0]])))
		}
		return buf
	}
}

// GetCyclic is rate-gated by each encode map entry's PeriodMs.
func (d *Driver) GetCyclic(now uint64) []protocol.Frame {
	nowMs := now / 1000
	var out []protocol.Frame
	for id, st := range d.encode {
		if st.periodMs == 0 {
			continue
		}
		if nowMs < st.nextDueMs {
			continue
		}
		f, ok := d.Encode(id)
		if ok {
			out = append(out, f)
		}
		if st.nextDueMs == 0 {
			st.nextDueMs = nowMs + uint64(st.periodMs)
		} else {
			st.nextDueMs += uint64(st.periodMs)
		}
	}
	return out
}

func (d *Driver) UpdateSignal(id uint32, value int32, now uint64) {
	d.cache[id] = value
	for _, st := range d.encode {
		if !st.onChange {
			continue
		}
		for _, s := range st.sources {
			if s == id {
				// On-change frames are surfaced through GetCyclic by
				// forcing the next-due time into the past; the
				// dispatcher's next periodic poll picks it up.
				st.nextDueMs = 0
			}
		}
	}
}

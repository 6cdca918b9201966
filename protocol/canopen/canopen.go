// Package canopen implements a protocol.Driver for a CANopen-like
// transport: NMT-gated PDO cyclic/event-driven transmission, SYNC
// counting, heartbeat, a pending-emergency slot, and a bootup frame on
// reset. LSS master-query frames are recognised by Decode and ignored;
// no LSS response is generated.
package canopen

import (
	"encoding/binary"

	"fusionlink.dev/protocol"
	"fusionlink.dev/signal"
	"fusionlink.dev/status"
)

// NMT state, gating whether PDOs are transmitted.
type NMTState uint8

const (
	NMTBootup NMTState = iota
	NMTStopped
	NMTPreOperational
	NMTOperational
)

// Function codes, combined with a node id to form a COB-ID.
const (
	FuncNMT       uint32 = 0x000
	FuncSync      uint32 = 0x080
	FuncEmergency uint32 = 0x080
	FuncPDO1Tx    uint32 = 0x180
	FuncPDO2Tx    uint32 = 0x280
	FuncPDO3Tx    uint32 = 0x380
	FuncPDO4Tx    uint32 = 0x480
	FuncHeartbeat uint32 = 0x700
	FuncLSS       uint32 = 0x7E5 // master query
	FuncLSSResp   uint32 = 0x7E4
)

func COBID(funcCode uint32, nodeID uint8) uint32 { return funcCode + uint32(nodeID) }

// TransmissionType selects when a PDO transmits: 1..240 means "every N
// SYNC events", 254 is event-driven (on-change, application decides
// the trigger), 255 is also event-driven (manufacturer-specific
// timer, modelled here identically to 254). For types 1..240, OnSync
// counts SYNC events and marks the PDO pending, but GetCyclic does not
// consult that mark: such PDOs transmit on every poll while OPERATIONAL.
type TransmissionType uint8

const (
	TTAsyncManufacturer TransmissionType = 254
	TTAsyncDevice       TransmissionType = 255
)

type pdoState struct {
	funcCode   uint32
	sources    []uint32
	transType  TransmissionType
	syncCount  uint8
	pending    bool // event-driven PDO has new data to send
}

// Driver implements protocol.Driver for CANopen.
type Driver struct {
	nodeID uint8

	decode map[uint32][]uint32 // COB-ID -> target signal ids
	pdos   map[uint32]*pdoState
	cache  map[uint32]int32

	state             NMTState
	heartbeatPeriodMs uint64
	nextHeartbeatMs   uint64

	pendingEmergency bool
	emergencyCode    uint16

	bootupSent bool
}

var _ protocol.Driver = (*Driver)(nil)

// HeartbeatPeriodMs must be set (non-zero enables heartbeat
// transmission) before the first GetCyclic call.
func (d *Driver) SetHeartbeatPeriodMs(ms uint64) { d.heartbeatPeriodMs = ms }

func (d *Driver) Init(cfg protocol.Config) error {
	d.nodeID = cfg.NodeAddress
	d.decode = make(map[uint32][]uint32, len(cfg.Decode))
	for _, m := range cfg.Decode {
		d.decode[m.ID] = m.Targets
	}
	d.pdos = make(map[uint32]*pdoState, len(cfg.Encode))
	d.cache = make(map[uint32]int32)
	for i, m := range cfg.Encode {
		tt := TTAsyncManufacturer
		if !m.OnChange && m.PeriodMs > 0 {
			tt = TransmissionType(1)
		}
		d.pdos[m.ID] = &pdoState{
			funcCode:  pdoFuncForIndex(i),
			sources:   m.Sources,
			transType: tt,
		}
	}
	d.state = NMTPreOperational
	return nil
}

func pdoFuncForIndex(i int) uint32 {
	switch i % 4 {
	case 0:
		return FuncPDO1Tx
	case 1:
		return FuncPDO2Tx
	case 2:
		return FuncPDO3Tx
	default:
		return FuncPDO4Tx
	}
}

func (d *Driver) Decode(now uint64, f protocol.Frame) []signal.Event {
	if f.ID == COBID(FuncLSS, 0) {
		// LSS master query: recognised and ignored; no LSS response
		// is produced, here or by GetCyclic.
		return nil
	}
	targets, ok := d.decode[f.ID]
	if !ok || len(targets) == 0 {
		return nil
	}
	events := make([]signal.Event, 0, len(targets))
	for i, t := range targets {
		if i*2+2 > int(f.Len) {
			break
		}
		v := int16(binary.LittleEndian.Uint16(f.Data[i*2 : i*2+2]))
		events = append(events, signal.Event{SourceID: t, Value: int32(v), Status: status.OK, TimestampUs: now})
	}
	return events
}

func (d *Driver) Encode(id uint32) (protocol.Frame, bool) {
	pdo, ok := d.pdos[id]
	if !ok {
		return protocol.Frame{}, false
	}
	var data [8]byte
	for i, s := range pdo.sources {
		if i*2+2 > 8 {
			break
		}
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(int16(d.cache[s])))
	}
	return protocol.Frame{ID: COBID(pdo.funcCode, d.nodeID), Data: data, Len: 8}, true
}

// GetCyclic emits PDOs only in the OPERATIONAL NMT state, plus
// heartbeat, emergency, and a bootup frame on reset. It produces no
// LSS responses.
func (d *Driver) GetCyclic(now uint64) []protocol.Frame {
	var out []protocol.Frame

	if !d.bootupSent {
		out = append(out, protocol.Frame{ID: COBID(FuncHeartbeat, d.nodeID), Data: [8]byte{0x00}, Len: 1})
		d.bootupSent = true
		d.state = NMTPreOperational
	}

	if d.heartbeatPeriodMs > 0 {
		nowMs := now / 1000
		if nowMs >= d.nextHeartbeatMs {
			out = append(out, protocol.Frame{
				ID:   COBID(FuncHeartbeat, d.nodeID),
				Data: [8]byte{byte(d.state)},
				Len:  1,
			})
			if d.nextHeartbeatMs == 0 {
				d.nextHeartbeatMs = nowMs + d.heartbeatPeriodMs
			} else {
				d.nextHeartbeatMs += d.heartbeatPeriodMs
			}
		}
	}

	if d.pendingEmergency {
		var data [8]byte
		binary.LittleEndian.PutUint16(data[0:2], d.emergencyCode)
		out = append(out, protocol.Frame{ID: COBID(FuncEmergency, d.nodeID), Data: data, Len: 8})
		d.pendingEmergency = false
	}

	if d.state == NMTOperational {
		for id, pdo := range d.pdos {
			due := false
			switch pdo.transType {
			case TTAsyncManufacturer, TTAsyncDevice:
				due = pdo.pending
			default:
				due = true // SYNC-counted PDOs are not gated by OnSync: they go out on every poll
			}
			if !due {
				continue
			}
			if f, ok := d.Encode(id); ok {
				out = append(out, f)
			}
			pdo.pending = false
		}
	}

	return out
}

func (d *Driver) UpdateSignal(id uint32, value int32, now uint64) {
	d.cache[id] = value
	for _, pdo := range d.pdos {
		for _, s := range pdo.sources {
			if s == id {
				pdo.pending = true
			}
		}
	}
}

// SetNMTState transitions the node's NMT state, e.g. in response to a
// master NMT command frame.
func (d *Driver) SetNMTState(s NMTState) { d.state = s }

// RaiseEmergency arms a pending emergency frame; only one is pending
// at a time (per set).
func (d *Driver) RaiseEmergency(code uint16) {
	d.pendingEmergency = true
	d.emergencyCode = code
}

// OnSync increments every SYNC-counted PDO's counter and marks it
// pending once its transmission type's SYNC count is reached.
func (d *Driver) OnSync() {
	for _, pdo := range d.pdos {
		if pdo.transType == TTAsyncManufacturer || pdo.transType == TTAsyncDevice {
			continue
		}
		pdo.syncCount++
		if pdo.syncCount >= uint8(pdo.transType) {
			pdo.syncCount = 0
			pdo.pending = true
		}
	}
}

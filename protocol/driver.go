// Package protocol defines the generic driver contract that backs
// CAN, J1939, CANopen, and similar transports: decode inbound frames
// into engine events, encode engine-sourced values into frames, and
// emit cyclic/heartbeat traffic on request.
package protocol

import "fusionlink.dev/signal"

// Frame is a transport-level CAN frame as it crosses the platform
// boundary in either direction.
type Frame struct {
	ID          uint32
	Data        [8]byte
	Len         uint8
	Extended    bool // 29-bit identifier (J1939, CANopen with EDS)
	TimestampUs uint64
}

// DecodeMap binds a protocol id (PGN, COB-ID, or raw CAN id) to the
// engine signal ids it populates.
type DecodeMap struct {
	ID      uint32
	Targets []uint32
}

// EncodeMap binds a protocol id to the engine signal ids it reads
// from, its declared period, and whether it also sends on change.
type EncodeMap struct {
	ID       uint32
	Sources  []uint32
	PeriodMs uint32
	OnChange bool
}

// Config is the frozen binding table handed to a driver at Init.
type Config struct {
	NodeAddress uint8
	Decode      []DecodeMap
	Encode      []EncodeMap
}

// Driver is the small, closed polymorphic interface every concrete
// protocol driver implements; the engine's dispatcher treats every
// driver uniformly through this interface, the one place user
// extension is a real requirement.
type Driver interface {
	// Init binds node address and decode/encode maps. It is called
	// once, before any Decode/Encode/GetCyclic/UpdateSignal call.
	Init(cfg Config) error

	// Decode parses an inbound frame into zero or more ingest events.
	// It is pure: no driver state changes as a result of a Decode
	// call (unlike UpdateSignal).
	Decode(now uint64, f Frame) []signal.Event

	// Encode packs engine-sourced values for a specific protocol id
	// into an outbound frame. ok is false if id is not in the
	// driver's encode map.
	Encode(id uint32) (Frame, bool)

	// GetCyclic returns every frame whose cyclic period has elapsed
	// at now, plus any heartbeat/emergency/bootup traffic the driver
	// schedules on its own (CANopen).
	GetCyclic(now uint64) []Frame

	// UpdateSignal maintains the driver's internal encode cache; the
	// engine calls this whenever a mapped signal updates.
	UpdateSignal(id uint32, value int32, now uint64)
}

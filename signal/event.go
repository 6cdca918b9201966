package signal

import "fusionlink.dev/status"

// Event is an immutable ingest record, produced by mid-level decoders
// from raw hardware samples or from inbound protocol frames.
type Event struct {
	SourceID    uint32
	Value       int32
	Status      status.Status
	TimestampUs uint64
}

// OutputType enumerates the egress transports an output event may
// target.
type OutputType uint8

const (
	OutputCAN OutputType = iota
	OutputJ1939
	OutputCANopen
	OutputGPIO
	OutputPWM
	OutputDAC
	OutputSPI
	OutputI2C
	OutputUART
	OutputModbus
)

func (t OutputType) String() string {
	switch t {
	case OutputCAN:
		return "CAN"
	case OutputJ1939:
		return "J1939"
	case OutputCANopen:
		return "CANopen"
	case OutputGPIO:
		return "GPIO"
	case OutputPWM:
		return "PWM"
	case OutputDAC:
		return "DAC"
	case OutputSPI:
		return "SPI"
	case OutputI2C:
		return "I2C"
	case OutputUART:
		return "UART"
	case OutputModbus:
		return "Modbus"
	default:
		return "UNKNOWN"
	}
}

// OutputEvent is produced into the fixed-capacity per-tick buffer;
// the post-tick dispatcher drains and routes it.
type OutputEvent struct {
	Type        OutputType
	TargetID    uint32
	DeviceIndex uint8
	Value       int32
	Flags       uint32
	TimestampUs uint64
}

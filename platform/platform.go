// Package platform defines the non-blocking hardware sink contract the
// engine's post-tick dispatcher and protocol drivers are built
// against, plus a Mock implementation for tests. The engine itself
// never imports a concrete platform; only the top-level binary wires
// one in.
package platform

// Platform is the sink/time contract a host provides to the engine.
// All sinks are best-effort and non-blocking: failure is returned to
// the caller. cmd/fusiond's dispatcher logs it as a warning and does
// not retry or block; it keeps no count of failed outputs.
type Platform interface {
	// Now returns monotonic microseconds, free-running and wrapping
	// only at the width of uint64.
	Now() uint64

	GPIOSet(pin uint32, high bool) error
	PWMSet(channel uint32, dutyPermille uint16) error
	DACWrite(channel uint32, value int32) error
	UARTSend(port uint32, data []byte) error
	SPISend(bus uint32, data []byte) ([]byte, error)
	I2CWrite(bus uint32, addr uint8, data []byte) error
	I2CRead(bus uint32, addr uint8, n int) ([]byte, error)
	CANSend(id uint32, data [8]byte, length uint8, extended bool) error
	ModbusWrite(slave uint8, register uint16, value uint16) error

	Logf(format string, args ...any)
}

// Call records one sink invocation against a Mock.
type Call struct {
	Method string
	Args   []any
}

// Mock is a Platform recorder for tests: every call is logged and any
// method can be made to fail on demand via Fail.
type Mock struct {
	NowUs uint64
	Calls []Call
	Fail  map[string]error

	CANOut []CANFrame
}

// CANFrame is a transmitted frame captured by Mock.CANSend.
type CANFrame struct {
	ID       uint32
	Data     [8]byte
	Len      uint8
	Extended bool
}

// NewMock returns a ready-to-use Mock.
func NewMock() *Mock { return &Mock{Fail: make(map[string]error)} }

func (m *Mock) record(method string, args ...any) {
	m.Calls = append(m.Calls, Call{Method: method, Args: args})
}

var _ Platform = (*Mock)(nil)

func (m *Mock) Now() uint64 { return m.NowUs }

func (m *Mock) GPIOSet(pin uint32, high bool) error {
	m.record("GPIOSet", pin, high)
	return m.Fail["GPIOSet"]
}

func (m *Mock) PWMSet(channel uint32, dutyPermille uint16) error {
	m.record("PWMSet", channel, dutyPermille)
	return m.Fail["PWMSet"]
}

func (m *Mock) DACWrite(channel uint32, value int32) error {
	m.record("DACWrite", channel, value)
	return m.Fail["DACWrite"]
}

func (m *Mock) UARTSend(port uint32, data []byte) error {
	m.record("UARTSend", port, data)
	return m.Fail["UARTSend"]
}

func (m *Mock) SPISend(bus uint32, data []byte) ([]byte, error) {
	m.record("SPISend", bus, data)
	if err := m.Fail["SPISend"]; err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

func (m *Mock) I2CWrite(bus uint32, addr uint8, data []byte) error {
	m.record("I2CWrite", bus, addr, data)
	return m.Fail["I2CWrite"]
}

func (m *Mock) I2CRead(bus uint32, addr uint8, n int) ([]byte, error) {
	m.record("I2CRead", bus, addr, n)
	if err := m.Fail["I2CRead"]; err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

func (m *Mock) CANSend(id uint32, data [8]byte, length uint8, extended bool) error {
	m.record("CANSend", id, data, length, extended)
	if err := m.Fail["CANSend"]; err != nil {
		return err
	}
	m.CANOut = append(m.CANOut, CANFrame{ID: id, Data: data, Len: length, Extended: extended})
	return nil
}

func (m *Mock) ModbusWrite(slave uint8, register uint16, value uint16) error {
	m.record("ModbusWrite", slave, register, value)
	return m.Fail["ModbusWrite"]
}

func (m *Mock) Logf(format string, args ...any) {
	m.record("Logf", append([]any{format}, args...)...)
}

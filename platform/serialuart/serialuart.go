// Package serialuart implements platform.Platform's UART sink over a
// real serial port, opened the way driver/mjolnir does it: try each
// candidate device path and use the first that succeeds.
package serialuart

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"fusionlink.dev/platform"
)

// Device is a platform.Platform backed by one serial port. Only
// UARTSend is meaningful; every other sink reports unsupported.
type Device struct {
	port   io.ReadWriteCloser
	opened time.Time
}

var _ platform.Platform = (*Device)(nil)

// Open tries each device path in order and binds to the first that opens.
func Open(devicePaths []string, baud int) (*Device, error) {
	if len(devicePaths) == 0 {
		return nil, errors.New("serialuart: no device specified")
	}
	var firstErr error
	for _, dev := range devicePaths {
		p, err := serial.OpenPort(&serial.Config{Name: dev, Baud: baud})
		if err == nil {
			return &Device{port: p, opened: time.Now()}, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func (d *Device) Close() error { return d.port.Close() }

func (d *Device) Now() uint64 { return uint64(time.Since(d.opened).Microseconds()) }

func (d *Device) UARTSend(port uint32, data []byte) error {
	_, err := d.port.Write(data)
	return err
}

func (d *Device) Logf(format string, args ...any) { fmt.Printf(format+"\n", args...) }

func unsupported(method string) error { return fmt.Errorf("serialuart: %s not supported", method) }

func (d *Device) GPIOSet(uint32, bool) error                       { return unsupported("GPIOSet") }
func (d *Device) PWMSet(uint32, uint16) error                      { return unsupported("PWMSet") }
func (d *Device) DACWrite(uint32, int32) error                     { return unsupported("DACWrite") }
func (d *Device) SPISend(uint32, []byte) ([]byte, error)           { return nil, unsupported("SPISend") }
func (d *Device) I2CWrite(uint32, uint8, []byte) error             { return unsupported("I2CWrite") }
func (d *Device) I2CRead(uint32, uint8, int) ([]byte, error)       { return nil, unsupported("I2CRead") }
func (d *Device) CANSend(uint32, [8]byte, uint8, bool) error       { return unsupported("CANSend") }
func (d *Device) ModbusWrite(uint8, uint16, uint16) error          { return unsupported("ModbusWrite") }

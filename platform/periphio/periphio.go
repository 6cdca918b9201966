// Package periphio implements platform.Platform's GPIO/PWM/SPI/I2C
// sinks over periph.io, the way driver/wshat opens GPIO pins by name
// through the periph.io registry.
package periphio

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"fusionlink.dev/platform"
)

// Config maps the engine's logical pin/bus ids onto periph.io names,
// e.g. {3: "GPIO6"} or {0: "/dev/spidev0.0"}.
type Config struct {
	GPIOPins map[uint32]string
	SPIBuses map[uint32]string
	I2CBuses map[uint32]string
}

// Device is a platform.Platform backed by periph.io host drivers.
type Device struct {
	pins     map[uint32]gpio.PinIO
	spiPorts map[uint32]spi.PortCloser
	i2cBuses map[uint32]i2c.BusCloser
	start    time.Time
}

var _ platform.Platform = (*Device)(nil)

// Open initialises periph.io's host drivers and resolves every name in cfg.
func Open(cfg Config) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periphio: host init: %w", err)
	}
	d := &Device{
		pins:     make(map[uint32]gpio.PinIO, len(cfg.GPIOPins)),
		spiPorts: make(map[uint32]spi.PortCloser, len(cfg.SPIBuses)),
		i2cBuses: make(map[uint32]i2c.BusCloser, len(cfg.I2CBuses)),
		start:    time.Now(),
	}
	for id, name := range cfg.GPIOPins {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("periphio: unknown GPIO pin %q", name)
		}
		d.pins[id] = pin
	}
	for id, name := range cfg.SPIBuses {
		port, err := spireg.Open(name)
		if err != nil {
			return nil, fmt.Errorf("periphio: spi %q: %w", name, err)
		}
		d.spiPorts[id] = port
	}
	for id, name := range cfg.I2CBuses {
		bus, err := i2creg.Open(name)
		if err != nil {
			return nil, fmt.Errorf("periphio: i2c %q: %w", name, err)
		}
		d.i2cBuses[id] = bus
	}
	return d, nil
}

func (d *Device) Now() uint64 { return uint64(time.Since(d.start).Microseconds()) }

func (d *Device) GPIOSet(pin uint32, high bool) error {
	p, ok := d.pins[pin]
	if !ok {
		return fmt.Errorf("periphio: unknown GPIO pin %d", pin)
	}
	level := gpio.Low
	if high {
		level = gpio.High
	}
	return p.Out(level)
}

func (d *Device) PWMSet(channel uint32, dutyPermille uint16) error {
	p, ok := d.pins[channel]
	if !ok {
		return fmt.Errorf("periphio: unknown PWM pin %d", channel)
	}
	duty := gpio.Duty(uint32(dutyPermille) * uint32(gpio.DutyMax) / 1000)
	return p.PWM(duty, physic.KiloHertz)
}

func (d *Device) SPISend(bus uint32, data []byte) ([]byte, error) {
	port, ok := d.spiPorts[bus]
	if !ok {
		return nil, fmt.Errorf("periphio: unknown SPI bus %d", bus)
	}
	conn, err := port.Connect(1*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}
	rx := make([]byte, len(data))
	if err := conn.Tx(data, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (d *Device) I2CWrite(bus uint32, addr uint8, data []byte) error {
	b, ok := d.i2cBuses[bus]
	if !ok {
		return fmt.Errorf("periphio: unknown I2C bus %d", bus)
	}
	return b.Tx(uint16(addr), data, nil)
}

func (d *Device) I2CRead(bus uint32, addr uint8, n int) ([]byte, error) {
	b, ok := d.i2cBuses[bus]
	if !ok {
		return nil, fmt.Errorf("periphio: unknown I2C bus %d", bus)
	}
	rx := make([]byte, n)
	if err := b.Tx(uint16(addr), nil, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (d *Device) Logf(format string, args ...any) { fmt.Printf(format+"\n", args...) }

func unsupported(method string) error { return fmt.Errorf("periphio: %s not supported", method) }

func (d *Device) DACWrite(uint32, int32) error               { return unsupported("DACWrite") }
func (d *Device) UARTSend(uint32, []byte) error              { return unsupported("UARTSend") }
func (d *Device) CANSend(uint32, [8]byte, uint8, bool) error { return unsupported("CANSend") }
func (d *Device) ModbusWrite(uint8, uint16, uint16) error    { return unsupported("ModbusWrite") }

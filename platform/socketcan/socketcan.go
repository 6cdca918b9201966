// Package socketcan implements platform.Platform's CAN sink over a
// Linux SocketCAN raw socket (AF_CAN/SOCK_RAW/CAN_RAW).
package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"fusionlink.dev/platform"
)

// frameSize is sizeof(struct can_frame): id(4) + len(1) + pad(3) + data(8).
const frameSize = 16

// Device is a platform.Platform backed by one SocketCAN interface.
// Only CANSend (and Recv, for inbound frames) is meaningful; every
// other sink reports unsupported.
type Device struct {
	fd    int
	start time.Time
}

var _ platform.Platform = (*Device)(nil)

// Open binds a raw CAN socket to the named interface (e.g. "can0").
func Open(ifaceName string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: %w", err)
	}
	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind: %w", err)
	}
	return &Device{fd: fd, start: time.Now()}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

func (d *Device) Now() uint64 { return uint64(time.Since(d.start).Microseconds()) }

// CANSend writes one frame to the bound interface.
func (d *Device) CANSend(id uint32, data [8]byte, length uint8, extended bool) error {
	var frame [frameSize]byte
	canID := id
	if extended {
		canID |= unix.CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(frame[0:4], canID)
	frame[4] = length
	copy(frame[8:8+length], data[:length])
	_, err := unix.Write(d.fd, frame[:])
	return err
}

// Recv blocks for the next inbound frame; callers feed it to a
// protocol driver's Decode.
func (d *Device) Recv() (id uint32, data [8]byte, length uint8, extended bool, err error) {
	var frame [frameSize]byte
	n, err := unix.Read(d.fd, frame[:])
	if err != nil {
		return 0, data, 0, false, err
	}
	if n < frameSize {
		return 0, data, 0, false, fmt.Errorf("socketcan: short read (%d bytes)", n)
	}
	raw := binary.LittleEndian.Uint32(frame[0:4])
	extended = raw&unix.CAN_EFF_FLAG != 0
	id = raw &^ (unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG | unix.CAN_ERR_FLAG)
	length = frame[4]
	copy(data[:], frame[8:16])
	return id, data, length, extended, nil
}

func (d *Device) Logf(format string, args ...any) { fmt.Printf(format+"\n", args...) }

func unsupported(method string) error { return fmt.Errorf("socketcan: %s not supported", method) }

func (d *Device) GPIOSet(uint32, bool) error                 { return unsupported("GPIOSet") }
func (d *Device) PWMSet(uint32, uint16) error                { return unsupported("PWMSet") }
func (d *Device) DACWrite(uint32, int32) error               { return unsupported("DACWrite") }
func (d *Device) UARTSend(uint32, []byte) error              { return unsupported("UARTSend") }
func (d *Device) SPISend(uint32, []byte) ([]byte, error)     { return nil, unsupported("SPISend") }
func (d *Device) I2CWrite(uint32, uint8, []byte) error       { return unsupported("I2CWrite") }
func (d *Device) I2CRead(uint32, uint8, int) ([]byte, error) { return nil, unsupported("I2CRead") }
func (d *Device) ModbusWrite(uint8, uint16, uint16) error    { return unsupported("ModbusWrite") }

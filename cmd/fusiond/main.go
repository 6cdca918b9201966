// Command fusiond runs the signal-fusion engine against a CBOR
// configuration table on a cadence, dispatching its output events to
// the platform sinks.
package main

import (
	"fmt"
	"os"
	"time"

	"log"

	"go.uber.org/automaxprocs/maxprocs"

	"fusionlink.dev/config"
	"fusionlink.dev/engine"
	"fusionlink.dev/platform"
	"fusionlink.dev/signal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.Printf("fusiond: GOMAXPROCS tuning skipped: %v", err)
	}

	if len(os.Args) != 2 {
		return fmt.Errorf("usage: %s <config.cbor>", os.Args[0])
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		return fmt.Errorf("fusiond: reading config: %w", err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		return fmt.Errorf("fusiond: loading config: %w", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("fusiond: constructing engine: %w", err)
	}

	plat := platform.NewMock() // replaced by a real platform.Platform at deployment
	loop(eng, plat)
	return nil
}

const tickPeriod = 10 * time.Millisecond

func loop(eng *engine.Engine, plat platform.Platform) {
	var events []signal.Event
	start := time.Now()
	for {
		now := uint64(time.Since(start).Microseconds())
		stats := eng.Step(now, events)
		events = events[:0]
		dispatch(plat, eng.Output())
		if stats.EventsDropped > 0 {
			plat.Logf("fusiond: %d output events dropped this tick", stats.EventsDropped)
		}
		time.Sleep(tickPeriod)
	}
}

// dispatch routes every output event produced by the last Step to its
// platform sink. Sink failures are logged, not counted; they never
// block or retry.
func dispatch(plat platform.Platform, evs []signal.OutputEvent) {
	for _, ev := range evs {
		var err error
		switch ev.Type {
		case signal.OutputGPIO:
			err = plat.GPIOSet(ev.TargetID, ev.Value != 0)
		case signal.OutputPWM:
			err = plat.PWMSet(ev.TargetID, uint16(ev.Value))
		case signal.OutputDAC:
			err = plat.DACWrite(ev.TargetID, ev.Value)
		case signal.OutputUART:
			var buf [4]byte
			buf[0] = byte(ev.Value)
			buf[1] = byte(ev.Value >> 8)
			buf[2] = byte(ev.Value >> 16)
			buf[3] = byte(ev.Value >> 24)
			err = plat.UARTSend(ev.TargetID, buf[:])
		case signal.OutputModbus:
			err = plat.ModbusWrite(uint8(ev.DeviceIndex), uint16(ev.TargetID), uint16(ev.Value))
		default:
			// CAN/J1939/CANopen/SPI/I2C outputs are routed through a
			// protocol driver's Encode before reaching a platform sink;
			// that composition lives in the host integration, not here.
			continue
		}
		if err != nil {
			plat.Logf("fusiond: sink %v failed for target %d: %v", ev.Type, ev.TargetID, err)
		}
	}
}

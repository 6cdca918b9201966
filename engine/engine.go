// Package engine implements the deterministic tick orchestrator: the
// single pure function that turns raw ingest events into validated
// output events, in the strict phase order of SPEC_FULL.md §4.D.
package engine

import (
	"sort"

	"fusionlink.dev/config"
	"fusionlink.dev/cyclic"
	"fusionlink.dev/fault"
	"fusionlink.dev/merge"
	"fusionlink.dev/outbuf"
	"fusionlink.dev/pid"
	"fusionlink.dev/signal"
	"fusionlink.dev/status"
	"fusionlink.dev/transform"
	"fusionlink.dev/verified"
)

// Engine owns the signal table and every fixed-capacity context array
// for one tick domain. It is reentrant with respect to ISR producers
// (which interact only through a ringbuffer the caller drains into
// Step's event batch; the Engine holds no ringbuffer itself) but is not
// reentrant with itself: exactly one goroutine may call Step at a time.
type Engine struct {
	signals *signal.Table
	cfg     *config.Config
	out     *outbuf.Buffer

	cyclicOrder []int // indices into cfg.Cyclics, priority-then-declaration order
}

// New validates cfg and constructs an Engine ready for Step.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		signals: signal.NewTable(cfg.NumSignals),
		cfg:     cfg,
		out:     outbuf.New(cfg.OutputBufferCap),
	}
	for id, staleUs := range cfg.SignalStaleUs {
		if staleUs == 0 {
			continue
		}
		s := e.signals.Get(uint32(id))
		s.StaleUs = staleUs
		e.signals.Set(uint32(id), s)
	}
	e.cyclicOrder = make([]int, len(cfg.Cyclics))
	for i := range e.cyclicOrder {
		e.cyclicOrder[i] = i
	}
	sort.SliceStable(e.cyclicOrder, func(a, b int) bool {
		return cfg.Cyclics[e.cyclicOrder[a]].Priority > cfg.Cyclics[e.cyclicOrder[b]].Priority
	})
	return e, nil
}

// Signals exposes the canonical table for accessors (value/status
// reads, test assertions).
func (e *Engine) Signals() *signal.Table { return e.signals }

// Config returns the frozen configuration this engine was built from,
// for accessors that toggle per-context enable/disable or read
// limp-home state.
func (e *Engine) Config() *config.Config { return e.cfg }

// TickStats reports the bounded work done by one Step call.
type TickStats struct {
	EventsIngested     int
	EventsEmitted      int
	EventsDropped      uint64
	MergesInconsistent int
	WakeViolations     int
	CyclicsEmitted     int
}

// Step runs one deterministic tick. now is the monotonic clock in
// microseconds; events is the batch of ingest events collected since
// the previous tick. No phase performs unbounded iteration and no
// phase calls a suspending platform operation.
func (e *Engine) Step(now uint64, events []signal.Event) TickStats {
	var stats TickStats
	e.out.Reset()
	droppedBefore := e.out.Dropped()

	e.ingest(now, events, &stats)
	e.staleness(now)
	e.merges(now, &stats)
	e.remaps(now)
	e.scales(now)
	e.faults(now)
	e.pids(now)
	e.verifieds(now)
	e.onChangeOutputs(now, &stats)
	e.cyclics(now, &stats)

	stats.EventsDropped = e.out.Dropped() - droppedBefore
	e.signals.ClearUpdated()
	return stats
}

// Output returns the events produced by the most recent Step; the
// buffer is cleared at the start of the next Step. The caller (the
// post-tick dispatcher) owns routing them to protocol encoders or
// platform sinks.
func (e *Engine) Output() []signal.OutputEvent { return e.out.Events() }

// Phase 1: ingest. Later events in the same batch win on value but
// join (never lower) status against any prior event targeting the
// same signal this tick. Raw hardware-wake fires here, before any
// filtering, merging, scaling, or deadline delays.
func (e *Engine) ingest(now uint64, events []signal.Event, stats *TickStats) {
	for _, ev := range events {
		if !e.signals.Valid(ev.SourceID) {
			continue
		}
		prior := e.signals.Get(ev.SourceID)
		st := ev.Status
		if prior.Updated {
			// An earlier event in this batch already wrote the signal.
			st = status.Join(prior.Status, ev.Status)
		}
		e.signals.Set(ev.SourceID, signal.Signal{
			Value:       ev.Value,
			Status:      st,
			TimestampUs: ev.TimestampUs,
			StaleUs:     prior.StaleUs,
			Updated:     true,
		})
		stats.EventsIngested++

		for i := range e.cfg.Faults {
			f := &e.cfg.Faults[i]
			if f.Input == ev.SourceID && fault.RawWake(f, ev.Value) {
				stats.WakeViolations++
			}
		}
	}
}

// Phase 2: input staleness.
func (e *Engine) staleness(now uint64) {
	for i := 0; i < e.signals.Len(); i++ {
		s := e.signals.Get(uint32(i))
		if s.StaleUs > 0 && now-s.TimestampUs > s.StaleUs {
			e.signals.Join(uint32(i), status.Timeout)
		}
	}
}

// Phase 3: merges, in declaration order.
func (e *Engine) merges(now uint64, stats *TickStats) {
	for i := range e.cfg.Merges {
		if merge.Step(now, &e.cfg.Merges[i], e.signals) {
			stats.MergesInconsistent++
		}
	}
}

// Phase 4: remaps.
func (e *Engine) remaps(now uint64) {
	for i := range e.cfg.Remaps {
		transform.StepRemap(now, &e.cfg.Remaps[i], e.signals)
	}
}

// Phase 5: scales.
func (e *Engine) scales(now uint64) {
	for i := range e.cfg.Scales {
		transform.StepScale(now, &e.cfg.Scales[i], e.signals)
	}
}

// Phase 6: fault monitors (processed).
func (e *Engine) faults(now uint64) {
	for i := range e.cfg.Faults {
		fault.Step(now, &e.cfg.Faults[i], e.signals)
	}
}

// Phase 7: PIDs.
func (e *Engine) pids(now uint64) {
	for i := range e.cfg.PIDs {
		pid.Step(now, &e.cfg.PIDs[i], e.signals)
	}
}

// Phase 8: verified outputs.
func (e *Engine) verifieds(now uint64) {
	for i := range e.cfg.Verifieds {
		verified.Step(now, &e.cfg.Verifieds[i], e.signals)
	}
}

// Phase 9: on-change outputs. Every binding whose source signal was
// updated this tick emits one event; capacity exhaustion drops later
// emissions without overwriting buffered ones.
func (e *Engine) onChangeOutputs(now uint64, stats *TickStats) {
	for i := range e.cfg.OutputBindings {
		b := &e.cfg.OutputBindings[i]
		if !b.Enabled {
			continue
		}
		s := e.signals.Get(b.SourceSignal)
		if !s.Updated {
			continue
		}
		ev := signal.OutputEvent{
			Type:        b.Type,
			TargetID:    b.TargetID,
			DeviceIndex: b.DeviceIndex,
			Value:       s.Value,
			Flags:       b.Flags,
			TimestampUs: now,
		}
		if e.out.Push(ev) {
			stats.EventsEmitted++
		}
	}
}

// Phase 10: cyclic outputs, ordered by priority then declaration
// index; at most one emission per context per tick.
func (e *Engine) cyclics(now uint64, stats *TickStats) {
	for _, idx := range e.cyclicOrder {
		ctx := &e.cfg.Cyclics[idx]
		if !cyclic.Due(now, ctx) {
			continue
		}
		ev := cyclic.Emit(now, ctx, e.signals)
		if e.out.Push(ev) {
			stats.EventsEmitted++
			stats.CyclicsEmitted++
		}
	}
}

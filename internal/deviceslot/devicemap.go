package deviceslot

import (
	"log"
	"sync"
	"time"

	"github.com/schollz/collidertracker/internal/bali"
)

// Output is anything that can realize a resolved Event: a MIDI port, an OSC
// target, or the drop sink bound to slot 0.
type Output interface {
	Dispatch(ev bali.Event)
}

// WorldInterface is the scheduler's entire view of everything downstream of
// the VM: one Dispatch call per resolved effect, with device routing hidden
// behind the event's slot number (spec.md §4.D).
type WorldInterface interface {
	Dispatch(ev bali.Event)
}

// TimedMessage pairs a resolved Event with the wall-clock micros at which
// Map.Dispatch enqueued it. runTransport delivers messages in queue order as
// soon as it receives them; it does not wait for AtMicros.
type TimedMessage struct {
	AtMicros int64
	Event    bali.Event
}

// DropOutput is bound to slot 0 and to any unbound slot: a silent sink so a
// script referencing a device that was never configured never panics or
// blocks, matching the VM's "never abort the caller" failure model.
type DropOutput struct{}

// Dispatch discards ev.
func (DropOutput) Dispatch(bali.Event) {}

// transportQueueSize bounds the channel between the scheduler goroutine and
// the output transport goroutine (spec.md §5: "the output transport is a
// separate consumer on its own thread"). Sized generously above any single
// tick's expected event count; a full queue means the transport is falling
// behind, not that the scheduler should block.
const transportQueueSize = 1024

// Map routes events to the Output bound to their Device slot number. Dispatch
// is called from the scheduler's own goroutine and must never block on I/O;
// it hands events to a dedicated transport goroutine over a bounded channel
// instead of calling the (possibly blocking) Output directly.
type Map struct {
	mu    sync.RWMutex
	slots map[int]Output
	queue chan TimedMessage
}

// NewMap returns a Map with slot 0 pre-bound to DropOutput, and starts its
// output transport goroutine.
func NewMap() *Map {
	m := &Map{
		slots: map[int]Output{0: DropOutput{}},
		queue: make(chan TimedMessage, transportQueueSize),
	}
	go m.runTransport()
	return m
}

// runTransport is the single consumer of m.queue: it owns every
// (potentially blocking) call into a bound Output, off the scheduler thread.
func (m *Map) runTransport() {
	for tm := range m.queue {
		m.Get(tm.Event.Device).Dispatch(tm.Event)
	}
}

// Bind assigns out to slot, replacing whatever was bound there before.
func (m *Map) Bind(slot int, out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = out
}

// Unbind removes whatever is bound to slot, falling back to DropOutput.
func (m *Map) Unbind(slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slot)
}

// Get returns the Output bound to slot, or DropOutput if none is bound.
func (m *Map) Get(slot int) Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if out, ok := m.slots[slot]; ok {
		return out
	}
	log.Printf("[DEVICEMAP] slot %d not bound, dropping event", slot)
	return DropOutput{}
}

// Dispatch implements WorldInterface by handing ev to the output transport
// goroutine as a TimedMessage. EventNop is always dropped without enqueuing
// since it exists purely to carry a delay gap's Duration. The send is
// non-blocking: a full queue means the transport can't keep up, and the
// event is dropped and logged rather than stalling the scheduler thread.
func (m *Map) Dispatch(ev bali.Event) {
	if ev.Kind == bali.EventNop {
		return
	}
	select {
	case m.queue <- TimedMessage{AtMicros: time.Now().UnixMicro(), Event: ev}:
	default:
		log.Printf("[DEVICEMAP] output transport queue full, dropping event for slot %d", ev.Device)
	}
}

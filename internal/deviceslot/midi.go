// Package deviceslot maps the BaliContext "device" slot number onto a real
// output: a MIDI port, an OSC client, or the Dirt/SuperDirt world sink
// (spec.md §4.D device map). Grounded on
// original_source and the teacher's internal/midiconnector +
// internal/midiplayer device-lookup-by-name and raw status-byte send style.
package deviceslot

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/schollz/collidertracker/internal/bali"
)

// MIDIOutput is a single opened MIDI output port, addressed by raw status
// bytes, matching midiconnector's NoteOn/NoteOff send style.
type MIDIOutput struct {
	mu      sync.Mutex
	name    string
	out     drivers.Out
	notesOn map[uint8]uint8 // note -> channel, for Close()'s all-notes-off sweep
}

// findPortName resolves a user-supplied substring to one of the available
// port names, trying exact, then prefix, then contains — pulled out as a
// pure function so it's testable without a real MIDI backend.
func findPortName(substr string, available []string) (string, error) {
	lower := strings.ToLower(substr)
	for _, n := range available {
		if strings.EqualFold(n, substr) {
			return n, nil
		}
	}
	for _, n := range available {
		if strings.HasPrefix(strings.ToLower(n), lower) {
			return n, nil
		}
	}
	for _, n := range available {
		if strings.Contains(strings.ToLower(n), lower) {
			return n, nil
		}
	}
	return "", fmt.Errorf("deviceslot: no MIDI output matching %q", substr)
}

// ListMIDIOutputs returns the names of every available MIDI output port.
func ListMIDIOutputs() []string {
	var names []string
	for _, out := range midi.GetOutPorts() {
		names = append(names, out.String())
	}
	return names
}

// OpenMIDIOutput finds and opens the MIDI output port whose name matches
// nameSubstring (see findPortName), mirroring midiconnector.New/Open.
func OpenMIDIOutput(nameSubstring string) (*MIDIOutput, error) {
	name, err := findPortName(nameSubstring, ListMIDIOutputs())
	if err != nil {
		return nil, err
	}
	out, err := midi.FindOutPort(name)
	if err != nil {
		return nil, fmt.Errorf("deviceslot: find port %q: %w", name, err)
	}
	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("deviceslot: open port %q: %w", name, err)
	}
	log.Printf("[DEVICESLOT] opened MIDI output %q", name)
	return &MIDIOutput{name: name, out: out, notesOn: make(map[uint8]uint8)}, nil
}

func (m *MIDIOutput) send(bytes ...byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.out.Send(bytes); err != nil {
		log.Printf("[DEVICESLOT] MIDI send error on %q: %v", m.name, err)
		return err
	}
	return nil
}

// Dispatch realizes a resolved Event against this MIDI port; Osc/Dirt events
// are logged and dropped since they don't apply to a MIDI output, and Nop is
// dropped silently.
func (m *MIDIOutput) Dispatch(ev bali.Event) {
	ch := uint8(ev.Channel & 0x0f)
	switch ev.Kind {
	case bali.EventNote:
		note, vel := uint8(ev.Note&0x7f), uint8(ev.Velocity&0x7f)
		if err := m.send(0x90|ch, note, vel); err == nil {
			m.mu.Lock()
			m.notesOn[note] = ch
			m.mu.Unlock()
		}
	case bali.EventProgramChange:
		m.send(0xC0|ch, uint8(ev.Value&0x7f))
	case bali.EventControlChange:
		m.send(0xB0|ch, uint8(ev.CCNumber&0x7f), uint8(ev.Value&0x7f))
	case bali.EventAftertouch:
		m.send(0xA0|ch, uint8(ev.Note&0x7f), uint8(ev.Value&0x7f))
	case bali.EventChannelPressure:
		m.send(0xD0|ch, uint8(ev.Value&0x7f))
	case bali.EventSysEx:
		m.send(append([]byte{0xF0}, append(ev.SysEx, 0xF7)...)...)
	case bali.EventTransportStart:
		m.send(0xFA)
	case bali.EventTransportStop:
		m.send(0xFC)
	case bali.EventTransportContinue:
		m.send(0xFB)
	case bali.EventTransportClock:
		m.send(0xF8)
	case bali.EventTransportReset:
		m.send(0xFF)
	case bali.EventNop:
	default:
		log.Printf("[DEVICESLOT] MIDI output %q cannot dispatch event kind %d, dropping", m.name, ev.Kind)
	}
}

// Close sends a note-off for every note this output left sounding, then
// closes the port, mirroring midiconnector.Device.Close's all-notes-off
// sweep so a script reload never leaves stuck notes.
func (m *MIDIOutput) Close() error {
	m.mu.Lock()
	pending := m.notesOn
	m.notesOn = make(map[uint8]uint8)
	m.mu.Unlock()
	for note, ch := range pending {
		m.send(0x80|ch, note, 0)
	}
	return m.out.Close()
}

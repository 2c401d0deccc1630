package deviceslot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schollz/collidertracker/internal/bali"
)

func TestFindPortNameExactBeatsPrefixBeatsContains(t *testing.T) {
	// "Bluetooth USB MIDI" contains "usb" and precedes the prefix match;
	// "Internal MIDI Extra" has prefix "Internal MIDI" and precedes the exact
	// match. Neither may win.
	devices := []string{"Bluetooth USB MIDI", "USB MIDI Device", "Internal MIDI Extra", "Internal MIDI"}

	name, err := findPortName("usb", devices)
	assert.NoError(t, err)
	assert.Equal(t, "USB MIDI Device", name)

	name, err = findPortName("Internal MIDI", devices)
	assert.NoError(t, err)
	assert.Equal(t, "Internal MIDI", name)
}

func TestFindPortNameNoMatch(t *testing.T) {
	_, err := findPortName("nonexistent", []string{"USB MIDI Device"})
	assert.Error(t, err)
}

// recordingOutput is safe for concurrent Dispatch calls from the transport
// goroutine while the test reads recorded() from its own goroutine.
type recordingOutput struct {
	mu     sync.Mutex
	events []bali.Event
}

func (r *recordingOutput) Dispatch(ev bali.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingOutput) recorded() []bali.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bali.Event(nil), r.events...)
}

func TestMapDropsUnboundSlot(t *testing.T) {
	m := NewMap()
	m.Dispatch(bali.Event{Kind: bali.EventNote, Device: 5})
	// No panic, and slot 0 remains the explicit drop sink.
	assert.IsType(t, DropOutput{}, m.Get(0))
}

func TestMapRoutesToSlot(t *testing.T) {
	m := NewMap()
	rec := &recordingOutput{}
	m.Bind(3, rec)

	m.Dispatch(bali.Event{Kind: bali.EventNote, Device: 3, Note: 60})
	m.Dispatch(bali.Event{Kind: bali.EventNop, Device: 3})

	// Dispatch only enqueues; the transport goroutine consumes asynchronously.
	require.Eventually(t, func() bool { return len(rec.recorded()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 60, rec.recorded()[0].Note)
}

func TestMapUnbindFallsBackToDrop(t *testing.T) {
	m := NewMap()
	rec := &recordingOutput{}
	m.Bind(3, rec)
	m.Unbind(3)

	m.Dispatch(bali.Event{Kind: bali.EventNote, Device: 3})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.recorded())
}

func TestMapDispatchDoesNotBlockWhenQueueFull(t *testing.T) {
	m := NewMap()
	block := make(chan struct{})
	rec := &blockingOutput{release: block}
	m.Bind(1, rec)

	// Saturate the queue past its capacity; Dispatch must never block the
	// caller even though the bound Output's first Dispatch call is stuck.
	done := make(chan struct{})
	go func() {
		for i := 0; i < transportQueueSize+8; i++ {
			m.Dispatch(bali.Event{Kind: bali.EventNote, Device: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full transport queue")
	}
	close(block)
}

// blockingOutput simulates a slow/blocking Output so the queue saturates;
// its first Dispatch call blocks on release.
type blockingOutput struct {
	once    sync.Once
	release chan struct{}
}

func (b *blockingOutput) Dispatch(bali.Event) {
	b.once.Do(func() { <-b.release })
}

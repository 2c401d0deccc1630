package server

import (
	"log"
	"sync"

	"github.com/schollz/collidertracker/internal/clock"
	"github.com/schollz/collidertracker/internal/deviceslot"
	"github.com/schollz/collidertracker/internal/scene"
	"github.com/schollz/collidertracker/internal/scheduler"
)

// State is the shared data every connection handler reads and mutates,
// grounded on original_source/core/src/server.rs's ServerState.
type State struct {
	Clock   clock.Clock
	Devices *deviceslot.Map

	// Messages carries ClientMessage-derived scheduler.Message values to the
	// single scheduler goroutine; Notify receives scheduler.Notification
	// broadcasts back, fanned out to every connected client by runBroadcaster.
	Messages chan scheduler.Message
	Notify   chan scheduler.Notification

	AvailableCompilers []string
	SyntaxDefinitions  map[string]string

	// RelayClient is the optional wide-area forwarder from spec.md §1;
	// defaults to NoRelay so the server runs fully without one.
	RelayClient RelayClient

	mu          sync.Mutex
	clients     map[string]*client
	deviceNames map[int]deviceDescriptor

	sceneMu    sync.RWMutex
	sceneImage *scene.Scene
}

type deviceDescriptor struct {
	name string
	kind string
}

// NewState builds a server-side State with an empty scene image of the
// given loop length in beats.
func NewState(c clock.Clock, devices *deviceslot.Map, messages chan scheduler.Message, notify chan scheduler.Notification, sceneLength int) *State {
	if sceneLength <= 0 {
		sceneLength = 4
	}
	return &State{
		Clock:       c,
		Devices:     devices,
		Messages:    messages,
		Notify:      notify,
		RelayClient: NoRelay{},
		clients:     make(map[string]*client),
		deviceNames: make(map[int]deviceDescriptor),
		sceneImage:  scene.NewScene(sceneLength),
	}
}

func (s *State) sceneSnapshot() *scene.Scene {
	s.sceneMu.RLock()
	defer s.sceneMu.RUnlock()
	return s.sceneImage.Clone()
}

func (s *State) setScene(sc *scene.Scene) {
	s.sceneMu.Lock()
	s.sceneImage = sc
	s.sceneMu.Unlock()
}

func (s *State) deviceList() []DeviceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]DeviceEntry, 0, len(s.deviceNames))
	for slot, d := range s.deviceNames {
		entries = append(entries, DeviceEntry{Slot: slot, Name: d.name, Kind: d.kind})
	}
	return entries
}

func (s *State) clientNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	return names
}

func (s *State) addClient(c *client) (added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[c.name]; exists {
		return false
	}
	s.clients[c.name] = c
	return true
}

func (s *State) renameClient(oldName, newName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[oldName]; ok {
		delete(s.clients, oldName)
		c.name = newName
		s.clients[newName] = c
	}
}

func (s *State) removeClient(name string) {
	s.mu.Lock()
	delete(s.clients, name)
	s.mu.Unlock()
}

// broadcastLatest overwrites every other client's "latest value" slot,
// skipping from (the originator), matching the watch-channel semantics
// spec.md §5 describes for anything except Chat: slow clients may miss
// intermediate values of the same kind, only the newest matters.
func (s *State) broadcastLatest(msg ServerMessage, from string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.clients {
		if name == from {
			continue
		}
		c.setLatest(msg)
	}
}

// broadcastChat enqueues msg on every other client's ordered chat queue, so
// chat is never coalesced or reordered. A client whose queue is full misses
// the message, and the drop is logged.
func (s *State) broadcastChat(msg ServerMessage, from string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.clients {
		if name == from {
			continue
		}
		select {
		case c.chatQueue <- msg:
		default:
			log.Printf("[SERVER] chat queue full for %s, dropping message", name)
		}
	}
}

// broadcastAll overwrites every client's "latest value" slot, the
// originator's included; used for device-list and similar messages that
// must reach every peer.
func (s *State) broadcastAll(msg ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.setLatest(msg)
	}
}

// runBroadcaster drains scheduler notifications, updates the scene image
// snapshot, and fans each one out to connected clients as a ServerMessage
// (spec.md §4.E's notification fan-out table). Runs for the lifetime of the
// server on its own goroutine.
func (s *State) runBroadcaster() {
	for n := range s.Notify {
		s.applyNotificationToSceneImage(n)
		msg, originator, ok := translateNotification(n, s)
		if !ok {
			continue
		}
		if n.Kind == scheduler.NotifyChatReceived {
			s.broadcastChat(msg, originator)
			continue
		}
		if originator != "" {
			s.broadcastLatest(msg, originator)
		} else {
			s.broadcastAll(msg)
		}
	}
}

func (s *State) applyNotificationToSceneImage(n scheduler.Notification) {
	if n.Scene != nil {
		s.setScene(n.Scene)
	}
}

package server

import "log"

// RelayClient is the optional wide-area forwarder spec.md §1 names as "an
// opaque optional forwarder": something a deployment can plug in to mirror
// client activity to an upstream relay service. Grounded on
// original_source/core/src/server.rs's relay_client field and its
// should_relay/is_connected/send_update call sequence in on_message; the
// concrete RelayClient implementation itself isn't part of the retrieved
// source, so only the seam is modeled here.
type RelayClient interface {
	IsConnected() bool
	SendUpdate(msg ClientMessage) error
}

// NoRelay is the zero-configuration RelayClient: always disconnected, so
// the server runs fully without wide-area relay.
type NoRelay struct{}

func (NoRelay) IsConnected() bool              { return false }
func (NoRelay) SendUpdate(ClientMessage) error { return nil }

// shouldRelay reports whether kind is worth forwarding to a relay — purely
// local queries never leave this process, mirroring RelayClient::should_relay.
func shouldRelay(kind ClientKind) bool {
	switch kind {
	case ClientGetClock, ClientGetPeers, ClientGetSnapshot, ClientRequestDeviceList,
		ClientGetScene, ClientGetScript:
		return false
	default:
		return true
	}
}

// relayIfConnected forwards msg to s.RelayClient when relaying applies and
// a relay is actually connected, logging (not failing the request) on error —
// matching on_message's "log and continue" relay-failure handling.
func relayIfConnected(msg ClientMessage, s *State) {
	if s.RelayClient == nil || !shouldRelay(msg.Kind) || !s.RelayClient.IsConnected() {
		return
	}
	if err := s.RelayClient.SendUpdate(msg); err != nil {
		log.Printf("[RELAY] failed to forward message kind %d: %v", msg.Kind, err)
	}
}

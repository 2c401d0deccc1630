package server

import (
	"bufio"
	"context"
	"log"
	"net"
)

// DefaultClientName is assigned before a client completes the SetName
// handshake, matching original_source/core/src/server.rs's DEFAULT_CLIENT_NAME.
const DefaultClientName = "Unknown musician"

// client tracks one connected peer's name and outbound delivery channels.
// latest implements the watch-channel "only the newest value matters"
// semantics for everything except chat; chatQueue is a bounded FIFO so chat
// messages are never coalesced or reordered (spec.md §5).
type client struct {
	name      string
	addr      string
	latest    chan ServerMessage
	chatQueue chan ServerMessage
}

func newClient(addr string) *client {
	return &client{
		name:      DefaultClientName,
		addr:      addr,
		latest:    make(chan ServerMessage, 1),
		chatQueue: make(chan ServerMessage, 64),
	}
}

// setLatest overwrites the pending "latest" slot, dropping whatever was
// there before — a slow reader only ever sees the newest value of a kind.
func (c *client) setLatest(msg ServerMessage) {
	for {
		select {
		case c.latest <- msg:
			return
		default:
			select {
			case <-c.latest:
			default:
			}
		}
	}
}

// HandleConn runs the full lifecycle of one client connection: handshake,
// then the steady-state read/broadcast loop, until EOF, a write error, or
// ctx cancellation. Grounded on original_source/core/src/server.rs's
// process_client.
func HandleConn(ctx context.Context, conn net.Conn, state *State) {
	defer conn.Close()
	addr := conn.RemoteAddr().String()
	reader := bufio.NewReaderSize(conn, 32*1024)
	writer := bufio.NewWriterSize(conn, 32*1024)

	c := newClient(addr)
	log.Printf("[SERVER] new connection from %s", addr)

	if !handshake(reader, writer, state, c) {
		return
	}
	defer func() {
		state.removeClient(c.name)
		state.broadcastAll(ServerMessage{Kind: ServerPeersUpdated, Peers: state.clientNames()})
		log.Printf("[SERVER] client '%s' disconnected", c.name)
	}()

	readCh := make(chan ClientMessage, 1)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			var msg ClientMessage
			if err := ReadFrame(reader, &msg); err != nil {
				readErrCh <- err
				return
			}
			readCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			log.Printf("[SERVER] read error from %s (%s): %v", c.name, addr, err)
			return
		case msg := <-readCh:
			resp := onMessage(msg, state, &c.name)
			if err := WriteFrame(writer, resp, resp.compressionStrategy()); err != nil {
				log.Printf("[SERVER] write error to %s: %v", c.name, err)
				return
			}
		case msg := <-c.chatQueue:
			if err := WriteFrame(writer, msg, msg.compressionStrategy()); err != nil {
				log.Printf("[SERVER] write error to %s: %v", c.name, err)
				return
			}
		case msg := <-c.latest:
			if err := WriteFrame(writer, msg, msg.compressionStrategy()); err != nil {
				log.Printf("[SERVER] write error to %s: %v", c.name, err)
				return
			}
		}
	}
}

// handshake expects the client's first message to be SetName; it rejects
// empty/reserved/duplicate names and otherwise replies with Hello, matching
// spec.md §4.E's handshake state machine.
func handshake(reader *bufio.Reader, writer *bufio.Writer, state *State, c *client) bool {
	var first ClientMessage
	if err := ReadFrame(reader, &first); err != nil {
		log.Printf("[SERVER] handshake read error from %s: %v", c.addr, err)
		return false
	}
	if first.Kind != ClientSetName {
		log.Printf("[SERVER] connection %s sent %d before SetName, rejecting", c.addr, first.Kind)
		_ = WriteFrame(writer, ServerMessage{Kind: ServerConnectionRefused, ErrorMessage: "Invalid handshake sequence."}, CompressNever)
		return false
	}

	name := first.Name
	if name == "" || name == DefaultClientName {
		log.Printf("[SERVER] connection %s rejected: invalid username %q", c.addr, name)
		_ = WriteFrame(writer, ServerMessage{Kind: ServerConnectionRefused, ErrorMessage: "Invalid username (empty or reserved)."}, CompressNever)
		return false
	}

	c.name = name
	if !state.addClient(c) {
		log.Printf("[SERVER] connection %s rejected: username %q already taken", c.addr, name)
		_ = WriteFrame(writer, ServerMessage{Kind: ServerConnectionRefused, ErrorMessage: "Username '" + name + "' is already taken."}, CompressNever)
		return false
	}

	log.Printf("[SERVER] client %s identified as %q", c.addr, name)
	state.broadcastAll(ServerMessage{Kind: ServerPeersUpdated, Peers: state.clientNames()})

	hello := ServerMessage{
		Kind:                 ServerHello,
		Username:             name,
		Scene:                state.sceneSnapshot(),
		Devices:              state.deviceList(),
		Peers:                state.clientNames(),
		Tempo:                state.Clock.Tempo(),
		Beat:                 state.Clock.Beat(),
		Quantum:              state.Clock.Quantum(),
		NumPeers:             len(state.clientNames()),
		StartStopSyncEnabled: true,
		IsPlaying:            state.Clock.SessionState().IsPlaying(),
		AvailableCompilers:   state.AvailableCompilers,
		SyntaxDefinitions:    state.SyntaxDefinitions,
	}
	if err := WriteFrame(writer, hello, hello.compressionStrategy()); err != nil {
		log.Printf("[SERVER] failed to send Hello to %s: %v", name, err)
		state.removeClient(name)
		return false
	}
	return true
}

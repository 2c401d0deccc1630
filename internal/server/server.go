package server

import (
	"context"
	"fmt"
	"log"
	"net"
)

// Server listens for TCP connections and spawns one HandleConn goroutine per
// client, mirroring original_source/core/src/server.rs's SovaCoreServer.
type Server struct {
	IP   string
	Port int
}

// ListenAndServe runs the accept loop until ctx is cancelled (e.g. on
// Ctrl-C). Cancelling ctx also ends every connection past its handshake:
// HandleConn returns on ctx.Done and closes its socket.
func (s *Server) ListenAndServe(ctx context.Context, state *State) error {
	addr := fmt.Sprintf("%s:%d", s.IP, s.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer listener.Close()
	log.Printf("[SERVER] listening on %s", addr)

	go state.runBroadcaster()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Printf("[SERVER] shutting down accept loop")
				return nil
			default:
				log.Printf("[SERVER] accept error: %v", err)
				return err
			}
		}
		go HandleConn(ctx, conn, state)
	}
}

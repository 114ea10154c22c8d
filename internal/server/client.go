package server

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/ianremillard/burrow/internal/proto"
)

// clientState is the lifecycle of one connection.
//
//	CONNECTED ──ATTACH/RESIZE──▶ ATTACHED ──DETACH──▶ DETACHED
//	    │                            │                    │
//	    └──────── EOF / error / idle timeout ─────────────┴──▶ DISCONNECTED
//
// DISCONNECTED is terminal; the record is reaped at the top of the next
// tick and its socket closed then.
type clientState int

const (
	stateConnected clientState = iota
	stateAttached
	stateDetached
	stateDisconnected
)

func (s clientState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateAttached:
		return "attached"
	case stateDetached:
		return "detached"
	case stateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// client is the per-connection record.  It is created on accept, mutated
// only by the loop goroutine, and destroyed on reap.
type client struct {
	fd           int
	state        clientState
	lastActivity time.Time

	in  proto.ClientPacketState // record being received
	out proto.ServerPacketState // record being sent (aliases the loop's broadcast buffer)

	// Readiness interest for the next tick, recomputed every pass.
	wantRead  bool
	wantWrite bool

	// Position in the current poll set; -1 when the socket sat out the
	// last poll (dormant under backpressure).
	pollIdx int
}

// acceptClient performs one non-blocking accept and registers the new
// connection in CONNECTED state.  Accept failures are silently ignored —
// readiness can be spurious and the next tick retries.
func (s *Server) acceptClient(now time.Time) *client {
	nfd, _, err := unix.Accept(s.listenFD)
	if err != nil {
		return nil
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return nil
	}
	unix.CloseOnExec(nfd)

	c := &client{
		fd:           nfd,
		state:        stateConnected,
		lastActivity: now,
		pollIdx:      -1,
	}
	s.clients = append(s.clients, c)
	s.log.WithField("fd", nfd).Debug("client connected")
	return c
}

// reapDisconnected removes and closes every client observed in
// DISCONNECTED.  Runs at the top of each tick, before readiness is
// rebuilt, so a dead socket never re-enters the poll set.
func (s *Server) reapDisconnected() {
	kept := s.clients[:0]
	for _, c := range s.clients {
		if c.state == stateDisconnected {
			unix.Close(c.fd)
			s.log.WithField("fd", c.fd).Debug("client reaped")
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(s.clients); i++ {
		s.clients[i] = nil
	}
	s.clients = kept
}

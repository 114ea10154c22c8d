// Package server implements the burrowd event loop: a single-threaded,
// readiness-driven multiplexer between one PTY master and any number of
// attached clients on a Unix domain socket.
//
// Architecture overview
// ─────────────────────
//
//	clients ──recv──▶ inbound ring ──write──▶ PTY master ──▶ shell
//	shell ──▶ PTY master ──read──▶ broadcast record ──send──▶ every client
//
// One goroutine owns every descriptor.  Each tick it rebuilds the poll set
// from scratch, blocks in poll(2), then runs a bounded amount of work per
// ready descriptor.  Two rules keep memory bounded and byte order exact:
//
//   - The PTY is only read again once every client has fully drained the
//     previous broadcast record (lockstep fan-out; the kernel PTY buffer
//     is the flow control against the shell).
//   - A CONTENT packet that cannot be queued leaves its client's socket
//     out of the poll set until the queue drains (backpressure, no loss).
//
// Nothing in the steady state allocates: packet buffers are fixed arrays,
// the inbound queue is a ring, and the poll set reuses one slice.
package server

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ianremillard/burrow/internal/proto"
)

// Defaults for Config zero values.
const (
	// DefaultClientTimeout evicts a client that has been owed output for
	// this long without making progress.
	DefaultClientTimeout = 100 * time.Second

	// DefaultQueueCap bounds the inbound CONTENT ring.
	DefaultQueueCap = 32

	listenBacklog = 16
)

// Config carries everything the loop inherits from its surroundings: an
// already-open PTY master driving an already-started child, and the
// filesystem path to bind.
type Config struct {
	SocketPath string
	PTY        int // PTY master file descriptor; the server takes ownership
	ChildPID   int // child process group leader; 0 disables signalling

	ClientTimeout time.Duration // default DefaultClientTimeout
	QueueCap      int           // default DefaultQueueCap
	Log           *logrus.Logger
}

// Server owns the listening socket, the PTY master, and all client
// connections.  All fields are confined to the loop goroutine except the
// child-exit slots, which the shell watcher stores through NotifyChildExit.
type Server struct {
	cfg      Config
	listenFD int
	ptyFD    int
	childPID int

	// wakeR/wakeW is a self-pipe: NotifyChildExit writes one byte so a
	// loop blocked in poll(2) observes the exit promptly.
	wakeR, wakeW int

	clients []*client
	queue   packetQueue

	// outRec is the broadcast record.  PTY reads land directly in its
	// payload region; every client's output state aliases it during a
	// fan-out generation.
	outRec [proto.ServerPacketSize]byte

	// ptyIn holds the queue head while it is being written to the PTY,
	// surviving partial writes across ticks.
	ptyIn     proto.ClientPacket
	ptyInOff  int
	ptyInBusy bool

	// Readiness interest for the PTY, recomputed every tick.
	armPtyRead  bool
	armPtyWrite bool

	// running flips false on a fatal PTY error (the usual sign the child
	// is gone); the loop then exits once every client has drained.
	running bool

	childExited atomic.Bool
	childStatus atomic.Int32

	// Poll set, rebuilt each tick.  listenIdx/wakeIdx/ptyIdx locate the
	// fixed members; clients carry their own index.
	pfds      []unix.PollFd
	listenIdx int
	wakeIdx   int
	ptyIdx    int

	// pollTimeout is milliseconds for poll(2); -1 blocks indefinitely.
	// Tests shorten it to step the loop deterministically.
	pollTimeout int

	log *logrus.Logger
}

// New binds the socket, configures every descriptor non-blocking, and
// returns a server ready to Run.  The caller still owns the socket path
// for cleanup ordering; Close unlinks it.
func New(cfg Config) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("server: socket path required")
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = DefaultClientTimeout
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultQueueCap
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
		cfg.Log.SetOutput(io.Discard)
	}

	listenFD, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(listenFD)
	if err := unix.SetNonblock(listenFD, true); err != nil {
		unix.Close(listenFD)
		return nil, fmt.Errorf("set listen non-blocking: %w", err)
	}
	if err := unix.Bind(listenFD, &unix.SockaddrUnix{Name: cfg.SocketPath}); err != nil {
		unix.Close(listenFD)
		return nil, fmt.Errorf("bind %s: %w", cfg.SocketPath, err)
	}
	if err := unix.Listen(listenFD, listenBacklog); err != nil {
		unix.Close(listenFD)
		unix.Unlink(cfg.SocketPath)
		return nil, fmt.Errorf("listen %s: %w", cfg.SocketPath, err)
	}

	if err := unix.SetNonblock(cfg.PTY, true); err != nil {
		unix.Close(listenFD)
		unix.Unlink(cfg.SocketPath)
		return nil, fmt.Errorf("set pty non-blocking: %w", err)
	}

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(listenFD)
		unix.Unlink(cfg.SocketPath)
		return nil, fmt.Errorf("wakeup pipe: %w", err)
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])

	s := &Server{
		cfg:         cfg,
		listenFD:    listenFD,
		ptyFD:       cfg.PTY,
		childPID:    cfg.ChildPID,
		wakeR:       p[0],
		wakeW:       p[1],
		queue:       newPacketQueue(cfg.QueueCap),
		running:     true,
		pollTimeout: -1,
		log:         cfg.Log,
	}
	return s, nil
}

// Run drives the loop until the child is gone and every client has
// drained.  Only a failure of poll(2) itself is returned as an error;
// everything else is absorbed into client disconnects or shutdown.
func (s *Server) Run() error {
	s.log.WithField("socket", s.cfg.SocketPath).Info("session ready")
	for {
		s.reapDisconnected()
		if err := s.poll(); err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if done := s.tick(); done {
			break
		}
	}
	s.log.WithField("status", s.ExitStatus()).Info("session finished")
	return nil
}

// Close releases every descriptor and unlinks the socket path.  Safe to
// call after Run returns; also used by the termination path.
func (s *Server) Close() {
	for _, c := range s.clients {
		unix.Close(c.fd)
	}
	s.clients = nil
	unix.Close(s.listenFD)
	unix.Close(s.wakeR)
	unix.Close(s.wakeW)
	unix.Close(s.ptyFD)
	unix.Unlink(s.cfg.SocketPath)
}

// NotifyChildExit records the child's exit status and wakes the loop.
// Called from the shell watcher goroutine; the loop itself never reaps.
func (s *Server) NotifyChildExit(status int) {
	s.childStatus.Store(int32(status))
	s.childExited.Store(true)
	var b [1]byte
	unix.Write(s.wakeW, b[:])
}

// ExitStatus returns the child's recorded exit status, or 0 if the child
// has not been observed to exit.
func (s *Server) ExitStatus() int {
	if !s.childExited.Load() {
		return 0
	}
	return int(s.childStatus.Load())
}

// poll rebuilds the readiness set from the interest flags computed by the
// previous tick and blocks until something is ready.  Membership is never
// carried forward: a descriptor with no armed interest sits the round out
// entirely, so a hung-up peer cannot spin the loop while backpressured.
func (s *Server) poll() error {
	s.pfds = s.pfds[:0]
	add := func(fd int, events int16) int {
		s.pfds = append(s.pfds, unix.PollFd{Fd: int32(fd), Events: events})
		return len(s.pfds) - 1
	}

	s.listenIdx = add(s.listenFD, unix.POLLIN)
	s.wakeIdx = add(s.wakeR, unix.POLLIN)

	s.ptyIdx = -1
	var ev int16
	if s.armPtyRead {
		ev |= unix.POLLIN
	}
	if s.armPtyWrite {
		ev |= unix.POLLOUT
	}
	if ev != 0 {
		s.ptyIdx = add(s.ptyFD, ev)
	}

	for _, c := range s.clients {
		c.pollIdx = -1
		ev = 0
		if c.wantRead {
			ev |= unix.POLLIN
		}
		if c.wantWrite {
			ev |= unix.POLLOUT
		}
		if ev != 0 {
			c.pollIdx = add(c.fd, ev)
		}
	}

	for {
		_, err := unix.Poll(s.pfds, s.pollTimeout)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// readable reports read-side readiness at a poll index.  Hang-up and
// error conditions count: the subsequent read is what classifies them.
func (s *Server) readable(idx int) bool {
	return idx >= 0 && s.pfds[idx].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
}

// writable reports write-side readiness at a poll index.
func (s *Server) writable(idx int) bool {
	return idx >= 0 && s.pfds[idx].Revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0
}

// tick runs one full pass over everything poll reported.  Returns true
// when the loop should exit: the child is gone and every client has
// drained its final bytes.
func (s *Server) tick() (done bool) {
	now := time.Now()
	cutoff := now.Add(-s.cfg.ClientTimeout)

	if s.readable(s.wakeIdx) {
		s.drainWake()
	}
	if s.readable(s.listenIdx) {
		s.acceptClient(now)
	}

	// PTY read.  A successful read starts a fan-out generation: every
	// client is pointed at the fresh record, and no further PTY read is
	// armed until all of them drain it.
	ptyData := false
	clientsReady := true
	if s.armPtyRead && s.readable(s.ptyIdx) {
		n, err := unix.Read(s.ptyFD, s.outRec[proto.ServerHeaderLen:])
		switch {
		case transientErr(err):
			// Readiness was spurious; retry next tick.
		case err != nil || n == 0:
			// The usual path here is EIO once the shell has exited and
			// the kernel buffer is drained.
			s.running = false
		default:
			proto.EncodeServerHeader(s.outRec[:], n)
			ptyData = true
			clientsReady = false
		}
	}

	for _, c := range s.clients {
		s.serveClient(c, now, cutoff, ptyData, &clientsReady)
	}

	// Arm the PTY read only when a non-empty client list is fully
	// attached and drained.  If that moment arrives after the child is
	// gone, the session is over.
	s.armPtyRead = false
	if clientsReady {
		if !s.running {
			return true
		}
		if len(s.clients) > 0 {
			s.armPtyRead = true
		}
	}

	if s.armPtyWrite && s.writable(s.ptyIdx) {
		s.drainQueue()
	}
	s.armPtyWrite = !s.queue.empty()

	return false
}

// serveClient is one client's share of a tick: receive, dispatch, fan-out,
// send, then the eviction and gating bookkeeping.
func (s *Server) serveClient(c *client, now, cutoff time.Time, ptyData bool, clientsReady *bool) {
	c.wantRead = false
	c.wantWrite = false

	// Receive into the in-progress record.
	if s.readable(c.pollIdx) && !c.in.Complete() {
		n, err := unix.Read(c.fd, c.in.Buffered())
		switch {
		case transientErr(err):
		case err != nil || n == 0:
			c.state = stateDisconnected
			return
		default:
			c.in.Advance(n)
		}
	}

	// Dispatch a completed record.  CONTENT that cannot be queued stays
	// in place unacknowledged: wantRead remains false and the socket sits
	// out the next poll until capacity frees up.
	if c.in.Complete() {
		pkt := c.in.Packet()
		handled := true
		switch pkt.Type {
		case proto.MsgContent:
			handled = s.queue.enqueue(&pkt)
		case proto.MsgAttach, proto.MsgResize:
			c.state = stateAttached
			s.setWinsize(pkt.Winsize())
			s.signalWinch()
		case proto.MsgRedraw:
			s.signalWinch()
		case proto.MsgDetach:
			c.state = stateDetached
		default:
			// Unknown type: swallow the record.
		}
		if handled {
			c.in.Reset()
			c.wantRead = true
		}
	} else {
		c.wantRead = true
	}

	// Fan-out.  Every live client gets the reference, whatever its
	// state; a client that attaches mid-generation sees the tail of
	// output rather than silence.
	if ptyData {
		c.out.Set(s.outRec[:])
		c.lastActivity = now
	}

	// Send from the aliased record at this client's own offset.
	if s.writable(c.pollIdx) && !c.out.Complete() {
		n, err := unix.Write(c.fd, c.out.Remaining())
		switch {
		case transientErr(err):
		case err != nil || n == 0:
			c.state = stateDisconnected
			return
		default:
			c.out.Advance(n)
			c.lastActivity = now
		}
	}

	// A client still owed bytes either keeps the generation open or, if
	// it has stalled past the timeout, is evicted so one dead terminal
	// cannot wedge the whole session.
	if !c.out.Complete() {
		if c.lastActivity.Before(cutoff) {
			s.log.WithField("fd", c.fd).Info("client timed out")
			c.state = stateDisconnected
		} else if c.out.Nonempty() {
			*clientsReady = false
			c.wantWrite = true
		}
	}

	if c.state != stateAttached {
		*clientsReady = false
	}
}

// drainQueue writes queued CONTENT to the PTY until the queue empties or
// the PTY stops accepting.  The head packet is copied out once and written
// incrementally; it is only dequeued after its last byte lands, so a
// partial write never reorders or drops input.
func (s *Server) drainQueue() {
	for !s.queue.empty() {
		if !s.ptyInBusy {
			s.ptyIn = *s.queue.peek()
			s.ptyInOff = 0
			s.ptyInBusy = true
		}
		remaining := s.ptyIn.Content()[s.ptyInOff:]
		if len(remaining) > 0 {
			n, err := unix.Write(s.ptyFD, remaining)
			if transientErr(err) {
				return
			}
			if err != nil {
				s.running = false
				return
			}
			s.ptyInOff += n
			if n < len(remaining) {
				return
			}
		}
		s.queue.dequeue()
		s.ptyInBusy = false
		s.ptyInOff = 0
	}
}

// setWinsize applies a client's window size to the PTY.  Failures are
// ignored: the descriptor may be a test double, and a resize that cannot
// land is not worth killing the session over.
func (s *Server) setWinsize(ws proto.Winsize) {
	err := unix.IoctlSetWinsize(s.ptyFD, unix.TIOCSWINSZ, &unix.Winsize{
		Row:    ws.Rows,
		Col:    ws.Cols,
		Xpixel: ws.Xpix,
		Ypixel: ws.Ypix,
	})
	if err != nil {
		s.log.WithError(err).Debug("set window size")
	}
}

// signalWinch tells the child's process group its window changed.
func (s *Server) signalWinch() {
	if s.childPID > 0 {
		unix.Kill(-s.childPID, unix.SIGWINCH)
	}
}

func (s *Server) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(s.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// transientErr reports the errno values that mean "try again next tick"
// on a non-blocking descriptor.
func transientErr(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

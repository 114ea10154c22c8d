// Package client implements the attaching side of a burrow session: put
// the local terminal in raw mode, forward stdin to the server as CONTENT
// packets, mirror PTY output from the server, and track window changes.
package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/ianremillard/burrow/internal/proto"
)

// DetachKey is the byte that ends an attach session: Ctrl-\ (FS).  It is
// intercepted locally and never reaches the remote shell.
const DetachKey byte = 0x1C

// Attach connects to the session socket and proxies the terminal until
// the user hits the detach key or the server goes away.  Returns nil in
// both cases; only a deliberate detach prints a message.  Errors are
// returned only for failures before the proxy starts.
func Attach(sockPath string) error {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return fmt.Errorf("connect to session: %w", err)
	}
	defer conn.Close()

	stdinFD := int(os.Stdin.Fd())

	ws := currentWinsize(stdinFD)
	if err := writePacket(conn, proto.AttachPacket(ws)); err != nil {
		return fmt.Errorf("send attach: %w", err)
	}
	// Ask the shell to repaint so a reattach shows a live screen instead
	// of a stale prompt.
	if err := writePacket(conn, proto.RedrawPacket()); err != nil {
		return fmt.Errorf("send redraw: %w", err)
	}

	oldState, err := term.MakeRaw(stdinFD)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		term.Restore(stdinFD, oldState)
		os.Stdout.WriteString("\r\n")
	}()

	// Window changes are re-announced to the server for the lifetime of
	// the attach.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			writePacket(conn, proto.ResizePacket(currentWinsize(stdinFD)))
		}
	}()

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	var detached atomic.Bool

	// stdin → CONTENT packets, watching for the detach key.
	go func() {
		defer closeDone()
		buf := make([]byte, proto.MaxContent)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				before, detach := splitDetach(buf[:n], DetachKey)
				if len(before) > 0 {
					if err := writePacket(conn, proto.ContentPacket(before)); err != nil {
						return
					}
				}
				if detach {
					detached.Store(true)
					writePacket(conn, proto.DetachPacket())
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Server records → stdout.
	go func() {
		defer closeDone()
		var rec [proto.ServerPacketSize]byte
		for {
			if _, err := io.ReadFull(conn, rec[:]); err != nil {
				return
			}
			os.Stdout.Write(proto.ServerPayload(rec[:]))
		}
	}()

	<-done
	if detached.Load() {
		fmt.Fprintf(os.Stderr, "\r\ndetached\r\n")
	}
	return nil
}

// splitDetach scans one stdin chunk for the detach key.  It returns the
// bytes before the key (all bytes when absent) and whether the key was
// seen; bytes after the key are dropped, matching what the user expects
// when mashing the detach chord.
func splitDetach(buf []byte, key byte) ([]byte, bool) {
	for i, b := range buf {
		if b == key {
			return buf[:i], true
		}
	}
	return buf, false
}

// currentWinsize reads the controlling terminal's geometry, pixel fields
// included.  A non-terminal stdin yields a zero size, which the server
// applies as-is.
func currentWinsize(fd int) proto.Winsize {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return proto.Winsize{}
	}
	return proto.Winsize{
		Rows: ws.Row,
		Cols: ws.Col,
		Xpix: ws.Xpixel,
		Ypix: ws.Ypixel,
	}
}

// writePacket sends one full client record.  net.Conn writes are
// blocking, so a record is never torn.
func writePacket(conn net.Conn, pkt proto.ClientPacket) error {
	var rec [proto.ClientPacketSize]byte
	pkt.Encode(rec[:])
	_, err := conn.Write(rec[:])
	return err
}

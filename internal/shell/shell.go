// Package shell starts the child shell on a fresh PTY and watches it.
//
// The server loop deliberately knows nothing about process management: it
// inherits an open PTY master and a pid.  This package is the other half —
// allocate the PTY, put the shell in its own session so window-change
// signals can target the whole group, and report the exit status back
// without the loop ever calling wait itself.
package shell

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// Shell is one running child attached to a PTY master.
type Shell struct {
	PTY *os.File // master side; the server takes over its descriptor
	PID int

	cmd *exec.Cmd
}

// Start launches command under a new PTY with the given initial size.
// pty.Start puts the child in a new session with the slave as its
// controlling terminal, so the child is its own process group leader and
// kill(-pid, …) reaches the whole job.
func Start(command string, args []string, ws *pty.Winsize) (*Shell, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptm, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return nil, fmt.Errorf("pty start %s: %w", command, err)
	}

	return &Shell{
		PTY: ptm,
		PID: cmd.Process.Pid,
		cmd: cmd,
	}, nil
}

// Watch reaps the child in the background and hands its exit status to
// notify exactly once.  A signal death is reported shell-style as
// 128+signal.
func (sh *Shell) Watch(notify func(status int)) {
	go func() {
		err := sh.cmd.Wait()
		status := 0
		if err != nil {
			status = 1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					status = 128 + int(ws.Signal())
				} else {
					status = exitErr.ExitCode()
				}
			}
		}
		notify(status)
	}()
}

// Terminate kills the child's process group.  Used on daemon shutdown;
// for an already-dead child this is a no-op.
func (sh *Shell) Terminate() {
	if sh.PID <= 0 {
		return
	}
	// pty.Start made the child a session leader, so PGID == PID; Getpgid
	// keeps that explicit rather than assumed.
	if pgid, err := syscall.Getpgid(sh.PID); err == nil && pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGHUP)
		return
	}
	syscall.Kill(sh.PID, syscall.SIGHUP)
}

// Close releases the master descriptor.
func (sh *Shell) Close() error {
	if sh.PTY != nil {
		return sh.PTY.Close()
	}
	return nil
}

package shell

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitStatus(t *testing.T, sh *Shell) int {
	t.Helper()
	statusCh := make(chan int, 1)
	sh.Watch(func(status int) { statusCh <- status })
	select {
	case status := <-statusCh:
		return status
	case <-time.After(10 * time.Second):
		t.Fatal("child did not exit")
		return -1
	}
}

func TestStartReportsExitStatus(t *testing.T) {
	sh, err := Start("sh", []string{"-c", "exit 7"}, &pty.Winsize{Rows: 24, Cols: 80})
	require.NoError(t, err)
	defer sh.Close()

	assert.Equal(t, 7, waitStatus(t, sh))
}

func TestStartCleanExitIsZero(t *testing.T) {
	sh, err := Start("sh", []string{"-c", "true"}, &pty.Winsize{Rows: 24, Cols: 80})
	require.NoError(t, err)
	defer sh.Close()

	assert.Equal(t, 0, waitStatus(t, sh))
}

func TestStartUnknownCommandFails(t *testing.T) {
	_, err := Start("definitely-not-a-real-command-9b2f", nil, &pty.Winsize{Rows: 24, Cols: 80})
	assert.Error(t, err)
}

func TestShellOutputArrivesOnMaster(t *testing.T) {
	sh, err := Start("sh", []string{"-c", "printf burrowing"}, &pty.Winsize{Rows: 24, Cols: 80})
	require.NoError(t, err)
	defer sh.Close()

	// Read until the expected bytes have appeared; the PTY may deliver
	// them in any number of chunks.
	deadline := time.Now().Add(10 * time.Second)
	var got []byte
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := sh.PTY.Read(buf)
		if n > 0 {
			got = append(got, buf[:n]...)
		}
		if string(got) == "burrowing" || err != nil {
			break
		}
	}
	assert.Equal(t, "burrowing", string(got))
}

func TestStartAppliesInitialSize(t *testing.T) {
	sh, err := Start("sh", []string{"-c", "sleep 5"}, &pty.Winsize{Rows: 41, Cols: 132})
	require.NoError(t, err)
	defer func() {
		sh.Terminate()
		sh.Close()
	}()

	ws, err := pty.GetsizeFull(sh.PTY)
	require.NoError(t, err)
	assert.Equal(t, uint16(41), ws.Rows)
	assert.Equal(t, uint16(132), ws.Cols)
}

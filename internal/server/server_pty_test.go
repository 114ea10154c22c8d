package server

import (
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"

	"github.com/ianremillard/burrow/internal/proto"
)

// TestSessionRoundTripOnRealPTY runs the loop against an actual PTY pair
// with a cat-alike on the slave side, end to end: attach applies the
// window size, CONTENT flows to the "shell", its output fans back out,
// and slave EOF winds the session down cleanly.
func TestSessionRoundTripOnRealPTY(t *testing.T) {
	// ptm's descriptor is handed to the server, which owns and closes it.
	ptm, pts, err := pty.Open()
	require.NoError(t, err)

	// Raw mode on the slave: no echo, no output post-processing, so the
	// bytes on the wire are exactly the bytes written.
	_, err = term.MakeRaw(int(pts.Fd()))
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	sockPath := filepath.Join(t.TempDir(), "pty.sock")
	srv, err := New(Config{
		SocketPath: sockPath,
		PTY:        int(ptm.Fd()),
		Log:        log,
	})
	require.NoError(t, err)

	// Stand-in shell: mirror every byte back, like cat.
	go io.Copy(pts, pts)

	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run() }()

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	sendPacket(t, conn, proto.AttachPacket(proto.Winsize{Rows: 30, Cols: 100}))
	sendPacket(t, conn, proto.ContentPacket([]byte("ping")))

	// The mirror may return the bytes in several reads, hence several
	// records; collect payloads until the echo is complete.
	got := make([]byte, 0, 4)
	for len(got) < 4 {
		got = append(got, recvRecord(t, conn)...)
	}
	assert.Equal(t, []byte("ping"), got)

	// Window-size changes land on the PTY before any later input from
	// the same client, so by echo time the resize has been applied.
	ws, err := pty.GetsizeFull(ptm)
	require.NoError(t, err)
	assert.Equal(t, uint16(30), ws.Rows)
	assert.Equal(t, uint16(100), ws.Cols)

	// Slave gone = shell gone: the loop exits once the client drained.
	pts.Close()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("loop did not shut down after slave EOF")
	}
	assert.Equal(t, 0, srv.ExitStatus())
	srv.Close()
}

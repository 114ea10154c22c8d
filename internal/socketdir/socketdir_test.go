package socketdir

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDir, dir)

	root, err := Root()
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestSocketPathLayout(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDir, dir)

	p, err := SocketPath("work")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sockets", "work.sock"), p)

	// Dir() must have created the sockets directory, access-restricted.
	info, err := os.Stat(filepath.Join(dir, "sockets"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestMetaRoundTrip(t *testing.T) {
	t.Setenv(EnvDir, t.TempDir())

	m := Meta{
		SessionID: "2d9c0f6e-8b3a-4a3e-9a51-0c1de1f2a3b4",
		Name:      "work",
		PID:       4242,
		Shell:     "zsh",
		StartedAt: "2026-08-01T10:00:00Z",
	}
	require.NoError(t, WriteMeta(m))

	got, err := ReadMeta("work")
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestAcquireIsExclusivePerName(t *testing.T) {
	t.Setenv(EnvDir, t.TempDir())

	lk, err := Acquire("work")
	require.NoError(t, err)

	_, err = Acquire("work")
	assert.ErrorContains(t, err, "already running")

	// A different name is unaffected.
	lk2, err := Acquire("other")
	require.NoError(t, err)
	Release("other", lk2)

	// Releasing frees the name for reuse.
	Release("work", lk)
	lk3, err := Acquire("work")
	require.NoError(t, err)
	Release("work", lk3)
}

func TestAcquireSweepsStaleSocket(t *testing.T) {
	t.Setenv(EnvDir, t.TempDir())

	// A socket file with no listener behind it is what a crashed daemon
	// leaves; Acquire must clear it out.
	sock, err := SocketPath("work")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(sock, nil, 0o600))

	lk, err := Acquire("work")
	require.NoError(t, err)
	defer Release("work", lk)

	_, statErr := os.Stat(sock)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquireRejectsBadNames(t *testing.T) {
	t.Setenv(EnvDir, t.TempDir())

	for _, name := range []string{"", "a/b", "..", "."} {
		_, err := Acquire(name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestListReportsLiveness(t *testing.T) {
	t.Setenv(EnvDir, t.TempDir())

	liveSock, err := SocketPath("live")
	require.NoError(t, err)
	ln, err := net.Listen("unix", liveSock)
	require.NoError(t, err)
	defer ln.Close()

	deadSock, err := SocketPath("dead")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(deadSock, nil, 0o600))

	require.NoError(t, WriteMeta(Meta{Name: "live", PID: 1234, Shell: "sh"}))

	entries, err := List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.True(t, byName["live"].Alive)
	assert.Equal(t, 1234, byName["live"].Meta.PID)
	assert.False(t, byName["dead"].Alive)
}

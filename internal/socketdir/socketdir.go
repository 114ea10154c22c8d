// Package socketdir resolves where burrow sessions rendezvous on the
// filesystem and what lives there: per-session socket, lock file, and a
// small metadata record.
//
// Layout under $BURROW_DIR (default ~/.burrow):
//
//	sockets/<name>.sock   – the session's Unix domain socket
//	sockets/<name>.lock   – flock'd while a burrowd owns the name
//	sockets/<name>.yaml   – session metadata (id, pid, shell, start time)
package socketdir

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// EnvDir overrides the data directory, mirroring the usual pattern of
// pointing a test or a second profile at a scratch location.
const EnvDir = "BURROW_DIR"

// Root returns the burrow data directory.
func Root() (string, error) {
	if env := os.Getenv(EnvDir); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".burrow"), nil
}

// Dir returns the sockets directory, creating it 0700 if needed.  The
// mode gates access to every session socket inside.
func Dir() (string, error) {
	root, err := Root()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "sockets")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create socket dir: %w", err)
	}
	return dir, nil
}

// SocketPath returns the socket path for a session name.
func SocketPath(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".sock"), nil
}

func lockPath(dir, name string) string {
	return filepath.Join(dir, name+".lock")
}

func metaPath(dir, name string) string {
	return filepath.Join(dir, name+".yaml")
}

// Meta is the per-session metadata record written by burrowd at startup.
type Meta struct {
	SessionID string `yaml:"session_id"`
	Name      string `yaml:"name"`
	PID       int    `yaml:"pid"`
	Shell     string `yaml:"shell"`
	StartedAt string `yaml:"started_at"`
}

// WriteMeta persists the session metadata next to the socket.
func WriteMeta(m Meta) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath(dir, m.Name), data, 0o600)
}

// ReadMeta loads a session's metadata record.
func ReadMeta(name string) (Meta, error) {
	dir, err := Dir()
	if err != nil {
		return Meta{}, err
	}
	data, err := os.ReadFile(metaPath(dir, name))
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("parse session metadata %s: %w", name, err)
	}
	return m, nil
}

// Acquire claims a session name.  The flock survives for the daemon's
// lifetime; a second daemon with the same name fails here instead of
// fighting over the socket.  A stale socket left by a crashed daemon is
// detected with a dial probe and swept away.
func Acquire(name string) (*flock.Flock, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	lk := flock.New(lockPath(dir, name))
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock session %q: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("session %q is already running", name)
	}

	sock := filepath.Join(dir, name+".sock")
	if _, err := os.Stat(sock); err == nil {
		if conn, err := net.DialTimeout("unix", sock, 500*time.Millisecond); err == nil {
			conn.Close()
			lk.Unlock()
			return nil, fmt.Errorf("session %q is already running", name)
		}
		os.Remove(sock)
	}

	return lk, nil
}

// Release drops the lock and removes the session's files.
func Release(name string, lk *flock.Flock) {
	dir, err := Dir()
	if err == nil {
		os.Remove(metaPath(dir, name))
		os.Remove(filepath.Join(dir, name+".sock"))
	}
	if lk != nil {
		lk.Unlock()
		os.Remove(lk.Path())
	}
}

// Entry describes one session found in the sockets directory.
type Entry struct {
	Name  string
	Path  string
	Alive bool
	Meta  Meta
}

// List scans the sockets directory and probes each socket for liveness.
func List() ([]Entry, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sock") {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".sock")
		e := Entry{Name: name, Path: filepath.Join(dir, f.Name())}
		if conn, err := net.DialTimeout("unix", e.Path, 250*time.Millisecond); err == nil {
			conn.Close()
			e.Alive = true
		}
		if m, err := ReadMeta(name); err == nil {
			e.Meta = m
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// validName rejects empty names and names that would escape the sockets
// directory.  Names are not checked against the bookkeeping suffixes.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("session name required")
	}
	if strings.ContainsAny(name, "/\x00") || name == "." || name == ".." {
		return fmt.Errorf("invalid session name %q", name)
	}
	return nil
}

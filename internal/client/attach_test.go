package client

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/burrow/internal/proto"
)

func TestSplitDetach(t *testing.T) {
	cases := []struct {
		name   string
		in     []byte
		before []byte
		detach bool
	}{
		{"no key", []byte("ls -la\r"), []byte("ls -la\r"), false},
		{"key alone", []byte{DetachKey}, []byte{}, true},
		{"key after input", []byte{'a', 'b', DetachKey}, []byte("ab"), true},
		{"bytes after key are dropped", []byte{'a', DetachKey, 'z'}, []byte("a"), true},
		{"empty chunk", nil, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, detach := splitDetach(tc.in, DetachKey)
			assert.Equal(t, tc.detach, detach)
			assert.Equal(t, len(tc.before), len(before))
			assert.Equal(t, string(tc.before), string(before))
		})
	}
}

func TestCurrentWinsizeOnNonTerminal(t *testing.T) {
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()

	// /dev/null is not a terminal; the attach must degrade to a zero
	// size rather than fail.
	assert.Equal(t, proto.Winsize{}, currentWinsize(int(f.Fd())))
}

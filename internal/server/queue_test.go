package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/burrow/internal/proto"
)

func contentPkt(s string) proto.ClientPacket {
	return proto.ContentPacket([]byte(s))
}

func TestQueueFIFOOrder(t *testing.T) {
	q := newPacketQueue(4)
	assert.True(t, q.empty())

	for _, s := range []string{"a", "b", "c"} {
		p := contentPkt(s)
		require.True(t, q.enqueue(&p))
	}

	for _, want := range []string{"a", "b", "c"} {
		require.False(t, q.empty())
		assert.Equal(t, []byte(want), q.peek().Content())
		q.dequeue()
	}
	assert.True(t, q.empty())
}

func TestQueueRefusesWhenFullWithoutOverwrite(t *testing.T) {
	q := newPacketQueue(2)
	a, b, c := contentPkt("a"), contentPkt("b"), contentPkt("c")

	require.True(t, q.enqueue(&a))
	require.True(t, q.enqueue(&b))
	require.True(t, q.full())

	// The refused packet must not disturb what is queued.
	assert.False(t, q.enqueue(&c))
	assert.Equal(t, []byte("a"), q.peek().Content())
	assert.Equal(t, 2, q.count)
}

func TestQueueWrapsAround(t *testing.T) {
	q := newPacketQueue(2)

	// Cycle enough packets through a two-slot ring to wrap the indices
	// several times; order must survive.
	next := 0
	for i := 0; i < 7; i++ {
		p := contentPkt(string(rune('a' + i)))
		require.True(t, q.enqueue(&p))
		if q.full() {
			assert.Equal(t, []byte(string(rune('a'+next))), q.peek().Content())
			q.dequeue()
			next++
		}
	}
	for !q.empty() {
		assert.Equal(t, []byte(string(rune('a'+next))), q.peek().Content())
		q.dequeue()
		next++
	}
	assert.Equal(t, 7, next)
}

func TestQueueCopiesValues(t *testing.T) {
	q := newPacketQueue(1)
	p := contentPkt("orig")
	require.True(t, q.enqueue(&p))

	// Mutating the caller's packet after enqueue must not reach the ring.
	p.Payload[0] = 'X'
	assert.Equal(t, []byte("orig"), q.peek().Content())
}

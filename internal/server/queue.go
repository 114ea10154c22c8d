package server

import "github.com/ianremillard/burrow/internal/proto"

// packetQueue is a fixed-capacity ring of CONTENT packets awaiting delivery
// to the PTY.  Values are copied in on enqueue and stay in place until fully
// written out, so a slow PTY never costs an allocation.
//
// A full queue refuses the enqueue; the loop responds by leaving the
// producing client's socket dormant (backpressure) rather than dropping
// the packet.
type packetQueue struct {
	pkts   []proto.ClientPacket
	insert int
	remove int
	count  int
}

func newPacketQueue(capacity int) packetQueue {
	return packetQueue{pkts: make([]proto.ClientPacket, capacity)}
}

func (q *packetQueue) empty() bool {
	return q.count == 0
}

func (q *packetQueue) full() bool {
	return q.count == len(q.pkts)
}

// enqueue copies pkt into the ring.  Returns false when the ring is full;
// nothing is overwritten.
func (q *packetQueue) enqueue(pkt *proto.ClientPacket) bool {
	if q.full() {
		return false
	}
	q.pkts[q.insert] = *pkt
	q.insert = (q.insert + 1) % len(q.pkts)
	q.count++
	return true
}

// peek returns the head packet without removing it.  Call only when
// non-empty.
func (q *packetQueue) peek() *proto.ClientPacket {
	return &q.pkts[q.remove]
}

// dequeue discards the head packet.  Call only when non-empty.
func (q *packetQueue) dequeue() {
	q.remove = (q.remove + 1) % len(q.pkts)
	q.count--
}

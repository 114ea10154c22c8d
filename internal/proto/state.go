package proto

// ClientPacketState tracks the partial receive of one client record.  The
// record is complete exactly when the offset has reached the full record
// size; until then Buffered() is the recv target for the remaining bytes.
type ClientPacketState struct {
	buf [ClientPacketSize]byte
	off int
}

// Complete reports whether the full record has been received.
func (s *ClientPacketState) Complete() bool {
	return s.off == ClientPacketSize
}

// Buffered returns the byte range still owed by the peer.  A readiness
// read lands directly in this slice; Advance records how much arrived.
func (s *ClientPacketState) Buffered() []byte {
	return s.buf[s.off:]
}

// Advance moves the receive offset forward by n bytes.
func (s *ClientPacketState) Advance(n int) {
	s.off += n
}

// Reset discards the current record so the next receive starts fresh.
func (s *ClientPacketState) Reset() {
	s.off = 0
}

// Packet decodes the completed record.  Call only when Complete.
func (s *ClientPacketState) Packet() ClientPacket {
	return DecodeClientPacket(s.buf[:])
}

// ServerPacketState tracks the partial send of one server record to one
// client.  All clients alias the same loop-owned record; only the offset
// is per-client.  A nil record means the client is owed nothing.
type ServerPacketState struct {
	rec []byte
	off int
}

// Set points the state at a freshly produced record and rewinds the
// send offset.
func (s *ServerPacketState) Set(rec []byte) {
	s.rec = rec
	s.off = 0
}

// Complete reports whether the client is owed no further bytes.
func (s *ServerPacketState) Complete() bool {
	return s.rec == nil || s.off == len(s.rec)
}

// Nonempty reports whether the referenced record carries any payload.
func (s *ServerPacketState) Nonempty() bool {
	return s.rec != nil && len(ServerPayload(s.rec)) > 0
}

// Remaining returns the bytes still owed to the client.
func (s *ServerPacketState) Remaining() []byte {
	return s.rec[s.off:]
}

// Advance moves the send offset forward by n bytes.
func (s *ServerPacketState) Advance(n int) {
	s.off += n
}

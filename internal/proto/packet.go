// Package proto defines the wire protocol spoken between burrow (client)
// and burrowd (server) over a Unix domain socket.
//
// Both directions use fixed-size records transmitted whole:
//
//	Client → Server : ClientPacket  { type u32 | len u32 | payload[MaxContent] }
//	Server → Client : ServerPacket  { len u32  | buf[MaxPTYRead] }
//
// For CONTENT packets only the first len payload bytes are meaningful; the
// remainder of the record is padding.  ATTACH and RESIZE carry a window size
// in the first eight payload bytes.  Because every record has a known size,
// partial reads and writes reduce to tracking a single byte offset — there
// is no parser and no re-framing on slow sockets.
//
// Byte order is host-native.  The socket never leaves the machine; a
// heterogeneous transport would need an explicit byte-order choice here.
package proto

import "encoding/binary"

// Client packet types.
const (
	MsgContent uint32 = 1
	MsgAttach  uint32 = 2
	MsgDetach  uint32 = 3
	MsgResize  uint32 = 4
	MsgRedraw  uint32 = 5
)

// Record geometry.  MaxContent bounds a single CONTENT payload; MaxPTYRead
// bounds a single read from the PTY master.
const (
	MaxContent = 4096
	MaxPTYRead = 4096

	clientHeaderSize = 8 // type u32 + len u32
	serverHeaderSize = 4 // len u32

	// ClientPacketSize and ServerPacketSize are the full on-wire record
	// sizes.  Every record occupies exactly this many bytes on the socket.
	ClientPacketSize = clientHeaderSize + MaxContent
	ServerPacketSize = serverHeaderSize + MaxPTYRead
)

// Winsize is the terminal geometry carried by ATTACH and RESIZE packets.
// It mirrors struct winsize from tty(4).
type Winsize struct {
	Rows uint16
	Cols uint16
	Xpix uint16
	Ypix uint16
}

// ClientPacket is one decoded client → server record.
type ClientPacket struct {
	Type    uint32
	Len     uint32
	Payload [MaxContent]byte
}

// Content returns the meaningful payload bytes of a CONTENT packet.
func (p *ClientPacket) Content() []byte {
	return p.Payload[:p.Len]
}

// Winsize decodes the window size of an ATTACH or RESIZE packet.
func (p *ClientPacket) Winsize() Winsize {
	return Winsize{
		Rows: binary.NativeEndian.Uint16(p.Payload[0:2]),
		Cols: binary.NativeEndian.Uint16(p.Payload[2:4]),
		Xpix: binary.NativeEndian.Uint16(p.Payload[4:6]),
		Ypix: binary.NativeEndian.Uint16(p.Payload[6:8]),
	}
}

// Encode serialises the packet into dst, which must hold ClientPacketSize
// bytes.  The payload region past Len is copied as-is (undefined padding).
func (p *ClientPacket) Encode(dst []byte) {
	binary.NativeEndian.PutUint32(dst[0:4], p.Type)
	binary.NativeEndian.PutUint32(dst[4:8], p.Len)
	copy(dst[clientHeaderSize:ClientPacketSize], p.Payload[:])
}

// DecodeClientPacket deserialises a full record.  Len is clamped to
// MaxContent so a corrupt or hostile header can never index past the
// payload array.
func DecodeClientPacket(src []byte) ClientPacket {
	var p ClientPacket
	p.Type = binary.NativeEndian.Uint32(src[0:4])
	p.Len = binary.NativeEndian.Uint32(src[4:8])
	if p.Len > MaxContent {
		p.Len = MaxContent
	}
	copy(p.Payload[:], src[clientHeaderSize:ClientPacketSize])
	return p
}

// ContentPacket builds a CONTENT packet from at most MaxContent bytes.
func ContentPacket(b []byte) ClientPacket {
	p := ClientPacket{Type: MsgContent, Len: uint32(len(b))}
	copy(p.Payload[:], b)
	return p
}

// AttachPacket builds an ATTACH packet carrying the client's window size.
func AttachPacket(ws Winsize) ClientPacket {
	return winsizePacket(MsgAttach, ws)
}

// ResizePacket builds a RESIZE packet carrying the client's window size.
func ResizePacket(ws Winsize) ClientPacket {
	return winsizePacket(MsgResize, ws)
}

// DetachPacket builds a DETACH packet.
func DetachPacket() ClientPacket {
	return ClientPacket{Type: MsgDetach}
}

// RedrawPacket builds a REDRAW packet.
func RedrawPacket() ClientPacket {
	return ClientPacket{Type: MsgRedraw}
}

func winsizePacket(typ uint32, ws Winsize) ClientPacket {
	p := ClientPacket{Type: typ}
	binary.NativeEndian.PutUint16(p.Payload[0:2], ws.Rows)
	binary.NativeEndian.PutUint16(p.Payload[2:4], ws.Cols)
	binary.NativeEndian.PutUint16(p.Payload[4:6], ws.Xpix)
	binary.NativeEndian.PutUint16(p.Payload[6:8], ws.Ypix)
	return p
}

// EncodeServerHeader stamps the payload length into an outbound server
// record.  The caller reads PTY bytes directly into rec[ServerHeaderLen:]
// and then stamps the header, so fan-out needs no copy.
func EncodeServerHeader(rec []byte, n int) {
	binary.NativeEndian.PutUint32(rec[0:4], uint32(n))
}

// ServerHeaderLen is the offset of the payload within a server record.
const ServerHeaderLen = serverHeaderSize

// ServerPayload returns the meaningful bytes of a full server record,
// clamping the declared length to the record bounds.
func ServerPayload(rec []byte) []byte {
	n := binary.NativeEndian.Uint32(rec[0:4])
	if n > MaxPTYRead {
		n = MaxPTYRead
	}
	return rec[serverHeaderSize : serverHeaderSize+int(n)]
}

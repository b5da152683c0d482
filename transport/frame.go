package transport

import (
	"encoding/binary"
	"net/netip"
)

// decodeMsgLen extracts the total frame length (header plus body,
// network byte order) from the first four bytes of a header buffer.
func decodeMsgLen(header []byte) uint32 {
	return binary.BigEndian.Uint32(header[:4])
}

// ConnType identifies the transport a frame arrived over. Only TCP is
// wired today; the type stays open for a future realization over a
// different substrate.
type ConnType uint8

const (
	// ConnTypeTCP marks a frame delivered over a TCP connection.
	ConnTypeTCP ConnType = iota
)

// RecvInfo is delivered to Handler for every assembled frame, and once
// more with Payload == nil when the connection is torn down, provided the
// Handler had established an upper handle for it.
type RecvInfo struct {
	// Payload is the whole frame: the header bytes followed by the body,
	// msgLen bytes in all. Nil on the terminal, teardown-only delivery.
	Payload []byte

	// PeerIP and PeerPort identify the remote end of the connection.
	PeerIP   netip.Addr
	PeerPort uint16

	// Shared is the handle the application passed to New, echoed
	// unchanged into every RecvInfo.
	Shared any

	// Upper is the per-connection handle the Handler itself returned
	// from a previous call for this same connection, or nil on the
	// connection's first frame.
	Upper any

	// Conn identifies the connection for Send/Close/PeerAddr. It
	// remains safe to call even after teardown: Close does nothing,
	// Send returns ErrConnClosed and PeerAddr returns the zero address.
	Conn *Conn

	// ConnType is the substrate the frame arrived over.
	ConnType ConnType
}

// Handler classifies and processes one assembled frame, or the
// terminal teardown event when info.Payload is nil. Its return value
// becomes the connection's new upper handle; returning nil requests
// teardown of the connection.
type Handler func(info RecvInfo) (upper any)

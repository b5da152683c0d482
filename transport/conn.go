package transport

import (
	"net/netip"

	"github.com/framewire/tcprpc/internal/sockutil"
)

// Conn is the opaque, non-owning handle given to the application for
// Send and Close. The application must not retain assumptions about its
// underlying descriptor; it remains safe to call even after the
// connection has already been torn down, at which point calls become
// no-ops or return ErrConnClosed.
type Conn struct {
	fd  int
	gen uint32
	w   *worker
}

// PeerAddr returns the connection's peer IPv4 address and port. Returns
// the zero address if the connection no longer exists.
func (c *Conn) PeerAddr() (netip.Addr, uint16) {
	if s, ok := c.w.table.get(c.fd, c.gen); ok {
		return s.peerIP, s.peerPort
	}
	return netip.Addr{}, 0
}

// Send writes b directly to the connection's descriptor, looping past
// short writes until the whole buffer is written or an error occurs. It
// makes no framing decisions of its own; the caller supplies a fully
// formed byte sequence, header included if one is needed.
func (c *Conn) Send(b []byte) (int, error) {
	if _, ok := c.w.table.get(c.fd, c.gen); !ok {
		return 0, ErrConnClosed
	}
	return sockutil.WriteFull(c.fd, b)
}

// Close tears down the connection. Idempotent: a call that races the
// worker's own teardown (e.g. the peer having just disconnected)
// observes the generation mismatch and does nothing.
func (c *Conn) Close() {
	c.w.teardown(c.fd, c.gen)
}

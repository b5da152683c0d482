// Package sockutil wraps the raw socket syscalls the transport package
// needs to register descriptors directly with its own epoll instances.
// net.Listener/net.Conn are deliberately not used here: Go's runtime
// netpoller would otherwise also claim these descriptors, defeating the
// point of driving epoll by hand.
package sockutil

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Listen opens, binds, and starts listening on a TCPv4 socket at
// ip:port, returning its file descriptor. SO_REUSEADDR is always set so
// a restart does not stall on TIME_WAIT, matching taosOpenTcpServerSocket.
func Listen(ip string, port uint16, backlog int) (int, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return -1, fmt.Errorf("sockutil: parse bind address %q: %w", ip, err)
	}
	if !addr.Is4() {
		return -1, fmt.Errorf("sockutil: bind address %q is not IPv4", ip)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("sockutil: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sockutil: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sockutil: bind %s:%d: %w", ip, port, err)
	}

	if backlog <= 0 {
		backlog = 128
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sockutil: listen: %w", err)
	}

	return fd, nil
}

// LocalPort returns the port a listening socket was actually bound to,
// letting callers request an ephemeral port (0) and discover the real
// one afterward.
func LocalPort(listenFd int) (uint16, error) {
	sa, err := unix.Getsockname(listenFd)
	if err != nil {
		return 0, fmt.Errorf("sockutil: getsockname: %w", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("sockutil: listening socket is not IPv4")
	}
	return uint16(sa4.Port), nil
}

// Accept accepts one pending connection on listenFd, returning its
// descriptor and the peer's IPv4 address and port. Callers are expected
// to have set listenFd non-blocking; on an empty accept queue this
// returns unix.EAGAIN, same as the underlying syscall.
func Accept(listenFd int) (fd int, peerIP netip.Addr, peerPort uint16, err error) {
	nfd, sa, err := unix.Accept(listenFd)
	if err != nil {
		return -1, netip.Addr{}, 0, err
	}

	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(nfd)
		return -1, netip.Addr{}, 0, fmt.Errorf("sockutil: accepted non-IPv4 peer")
	}

	return nfd, netip.AddrFrom4(sa4.Addr), uint16(sa4.Port), nil
}

// SetKeepalive enables TCP keepalive on fd, the equivalent of
// taosKeepTcpAlive.
func SetKeepalive(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("sockutil: setsockopt SO_KEEPALIVE: %w", err)
	}
	return nil
}

// ReadFull reads exactly len(buf) bytes from fd, the blocking
// read-exact primitive taosReadMsg performs for both the header and the
// body of a frame. A short read (connection closed mid-frame) is
// reported by returning the partial count alongside the error or a nil
// error with n < len(buf).
func ReadFull(fd int, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := unix.Read(fd, buf[read:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return read, err
		}
		if n == 0 {
			return read, nil // peer closed
		}
		read += n
	}
	return read, nil
}

// WriteFull writes all of b to fd, looping past short writes and EINTR.
func WriteFull(fd int, b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := unix.Write(fd, b[written:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return written, err
		}
		written += n
	}
	return written, nil
}

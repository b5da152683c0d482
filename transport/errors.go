package transport

import "errors"

var (
	// ErrInvalidConfig is returned by New when an option combination
	// cannot produce a usable server (e.g. zero workers, a header
	// shorter than the msgLen field itself).
	ErrInvalidConfig = errors.New("tcprpc: invalid configuration")

	// ErrNilHandler is returned by New when handler is nil.
	ErrNilHandler = errors.New("tcprpc: handler must not be nil")

	// ErrAlreadyStarted is returned by Start on a server that is already running.
	ErrAlreadyStarted = errors.New("tcprpc: server already started")

	// ErrNotStarted is returned by Stop and Snapshot on a server that was never started.
	ErrNotStarted = errors.New("tcprpc: server not started")

	// ErrConnClosed is returned by Conn.Send once the connection has
	// already been torn down.
	ErrConnClosed = errors.New("tcprpc: connection closed")
)

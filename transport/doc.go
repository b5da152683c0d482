// Package transport implements a multi-threaded, length-prefixed TCP
// frame transport: a fixed Acceptor goroutine distributes newly accepted
// connections round-robin across a fixed pool of epoll-driven Worker
// goroutines, each of which reads complete frames (a small fixed header
// followed by a body) and dispatches them to an application-supplied
// Handler.
//
// # Architecture
//
// [Server] owns the listening socket, the acceptor, and the worker pool.
// Each worker runs its own epoll instance and connection table; a
// connection is owned by exactly one worker for its entire lifetime.
// Shutdown is driven by a dedicated eventfd per goroutine rather than
// thread cancellation, since Go has no equivalent of pthread_cancel.
//
// # Connection identity
//
// A connection is identified by its file descriptor plus a generation
// counter, guarding against the operating system reusing a closed
// descriptor's number for an unrelated new connection while a stale
// [Conn] handle is still outstanding.
package transport

package transport

import (
	"net/netip"
	"sync"
)

// connSlot is one tracked connection: per-socket state owned by exactly
// one worker.
type connSlot struct {
	fd       int
	gen      uint32
	peerIP   netip.Addr
	peerPort uint16
	upper    any
	upperSet bool
}

// table is a worker's connection registry, keyed by file descriptor. The
// generation counter on every slot is what makes a (fd, gen) pair safe to
// hold onto across teardown races: a *Conn is valid only while its pair
// still matches the slot the table currently holds for that fd, which
// also defeats the fd-reuse hazard a bare pointer-identity check cannot
// see — the kernel is free to hand a just-closed socket's fd number to a
// brand new connection before a stale handle is used.
type table struct {
	mu      sync.Mutex
	cond    sync.Cond
	slots   map[int]*connSlot
	nextGen uint32
	stopped bool
}

func newTable() *table {
	t := &table{slots: make(map[int]*connSlot)}
	t.cond.L = &t.mu
	return t
}

// insert registers a freshly accepted connection and returns its generation.
func (t *table) insert(fd int, ip netip.Addr, port uint16) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextGen++
	gen := t.nextGen
	t.slots[fd] = &connSlot{fd: fd, gen: gen, peerIP: ip, peerPort: port}
	t.cond.Signal()
	return gen
}

// get returns a copy of the live slot for (fd, gen), or false if stale.
func (t *table) get(fd int, gen uint32) (connSlot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[fd]
	if !ok || s.gen != gen {
		return connSlot{}, false
	}
	return *s, true
}

// currentGen returns the generation currently registered for fd, if any.
func (t *table) currentGen(fd int) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[fd]
	if !ok {
		return 0, false
	}
	return s.gen, true
}

// setUpper stores the connection's new upper handle.
func (t *table) setUpper(fd int, gen uint32, upper any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[fd]
	if !ok || s.gen != gen {
		return false
	}
	s.upper = upper
	s.upperSet = true
	return true
}

// remove unregisters (fd, gen) if it is still live, returning its final
// state. A second call for the same pair — or any call after the fd has
// already been reused by a newer connection — is a no-op, which is the
// idempotent-close property the Conn.Close contract relies on.
func (t *table) remove(fd int, gen uint32) (connSlot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[fd]
	if !ok || s.gen != gen {
		return connSlot{}, false
	}
	delete(t.slots, fd)
	return *s, true
}

// count returns the number of live connections.
func (t *table) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// liveFDs snapshots the fds of every currently live connection.
func (t *table) liveFDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fds := make([]int, 0, len(t.slots))
	for fd := range t.slots {
		fds = append(fds, fd)
	}
	return fds
}

// waitNonEmpty blocks until at least one connection is registered or the
// table is stopped. This is an optimization to avoid spinning an epoll
// instance with an empty interest set, not a correctness lock: a race
// between the count reaching zero and a new connection arriving is
// resolved by the next insert's Signal waking this wait on its next pass.
func (t *table) waitNonEmpty() (stopped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.slots) == 0 && !t.stopped {
		t.cond.Wait()
	}
	return t.stopped
}

func (t *table) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *table) stop() {
	t.mu.Lock()
	t.stopped = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

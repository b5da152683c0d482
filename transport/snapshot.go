package transport

import "net/netip"

// WorkerSnapshot is one worker's read-only connection census.
type WorkerSnapshot struct {
	WorkerID int
	Label    string
	Peers    []netip.AddrPort
}

// Snapshot returns, for every worker, its current live connection
// count and peer list. Safe to call concurrently with a running server;
// the result is a point-in-time view and may be stale by the time the
// caller inspects it.
func (s *Server) Snapshot() ([]WorkerSnapshot, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	workers := s.workers
	label := s.cfg.label
	s.mu.Unlock()

	out := make([]WorkerSnapshot, len(workers))
	for i, w := range workers {
		var peers []netip.AddrPort
		for _, fd := range w.table.liveFDs() {
			gen, ok := w.table.currentGen(fd)
			if !ok {
				continue
			}
			slot, ok := w.table.get(fd, gen)
			if !ok {
				continue
			}
			peers = append(peers, netip.AddrPortFrom(slot.peerIP, slot.peerPort))
		}
		out[i] = WorkerSnapshot{WorkerID: w.id, Label: label, Peers: peers}
	}
	return out, nil
}

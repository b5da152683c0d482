package transport

import (
	"fmt"
	"net/netip"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/framewire/tcprpc/internal/logging"
	"github.com/framewire/tcprpc/internal/sockutil"
)

// maxReadinessEvents bounds a single epoll_wait batch.
const maxReadinessEvents = 10

// worker is one I/O goroutine: one epoll instance, one connection
// table, running the readiness loop and frame-read state machine. It is
// pinned to its OS thread for the lifetime of the loop, the direct
// analogue of one pthread per SThreadObj in the design this was adapted
// from.
type worker struct {
	id      int
	label   string
	epfd    int
	wakeFd  int
	table   *table
	shared  any
	handler Handler
	log     logging.Logger

	headerLen int
	prelude   int
	bufPool   *sync.Pool

	exited chan struct{}
}

func newWorker(id int, cfg *config, handler Handler, shared any) (*worker, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("tcprpc: worker %d epoll_create1: %w", id, err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("tcprpc: worker %d eventfd: %w", id, err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("tcprpc: worker %d register wake fd: %w", id, err)
	}

	headerLen := cfg.headerLen
	prelude := cfg.prelude

	w := &worker{
		id:        id,
		label:     cfg.label,
		epfd:      epfd,
		wakeFd:    wakeFd,
		table:     newTable(),
		shared:    shared,
		handler:   handler,
		log:       cfg.logger,
		headerLen: headerLen,
		prelude:   prelude,
		exited:    make(chan struct{}),
	}
	w.bufPool = &sync.Pool{
		New: func() any {
			b := make([]byte, 0, prelude+headerLen+256)
			return &b
		},
	}
	return w, nil
}

// close releases a worker's descriptors. Only safe to call before run
// has been started, or after it has exited.
func (w *worker) close() {
	unix.Close(w.wakeFd)
	unix.Close(w.epfd)
}

// register adds a freshly accepted connection to this worker: epoll
// registration first, and only on success is the connection published
// into the table. EPOLLPRI is kept, matching the source's out-of-band
// readiness registration; EPOLLWAKEUP is deliberately not set — it is a
// Linux power-management flag requiring CAP_BLOCK_SUSPEND, orthogonal to
// Go's concurrency model; the dedicated wake eventfd already covers this
// worker's own wake-up need.
func (w *worker) register(fd int, ip netip.Addr, port uint16) error {
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLPRI,
		Fd:     int32(fd),
	}); err != nil {
		return fmt.Errorf("tcprpc: epoll_ctl add fd %d: %w", fd, err)
	}
	w.table.insert(fd, ip, port)
	return nil
}

// wake unblocks a worker currently parked in epoll_wait.
func (w *worker) wake() {
	var one [8]byte
	one[7] = 1
	unix.Write(w.wakeFd, one[:])
}

// run is the worker's main loop: the idle gate, the readiness wait, and
// per-event dispatch.
func (w *worker) run() {
	defer close(w.exited)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var events [maxReadinessEvents]unix.EpollEvent

	for {
		if stopped := w.table.waitNonEmpty(); stopped {
			return
		}

		n, err := unix.EpollWait(w.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.log.Warn("epoll_wait failed", "label", w.label, "worker_id", w.id, "error", err)
			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == w.wakeFd {
				continue
			}
			w.handleEvent(fd, events[i].Events)
		}

		if w.table.isStopped() {
			return
		}
	}
}

func (w *worker) handleEvent(fd int, evMask uint32) {
	gen, ok := w.table.currentGen(fd)
	if !ok {
		return // already torn down; epoll_wait can still report a batch that raced a Close
	}

	if evMask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		w.teardown(fd, gen)
		return
	}

	if evMask&(unix.EPOLLIN|unix.EPOLLPRI) == 0 {
		return
	}

	w.readFrame(fd, gen)
}

// readFrame performs the blocking read-exact of the header, then the
// body, matching the two-stage read the worker loop performs per
// readable connection. Any short read is treated as connection teardown.
func (w *worker) readFrame(fd int, gen uint32) {
	header := make([]byte, w.headerLen)
	n, err := sockutil.ReadFull(fd, header)
	if err != nil || n != len(header) {
		w.log.Debug("short header read", "label", w.label, "worker_id", w.id, "fd", fd, "read", n, "error", err)
		w.teardown(fd, gen)
		return
	}

	msgLen := decodeMsgLen(header)
	if int(msgLen) < w.headerLen {
		w.log.Warn("invalid msgLen", "label", w.label, "worker_id", w.id, "fd", fd, "msg_len", msgLen)
		w.teardown(fd, gen)
		return
	}

	bufPtr := w.bufPool.Get().(*[]byte)
	total := w.prelude + int(msgLen)
	buf := *bufPtr
	if cap(buf) < total {
		buf = make([]byte, total)
	} else {
		buf = buf[:total]
	}
	copy(buf[w.prelude:], header)

	bodyLen := int(msgLen) - w.headerLen
	if bodyLen > 0 {
		body := buf[w.prelude+w.headerLen : w.prelude+int(msgLen)]
		n, err := sockutil.ReadFull(fd, body)
		if err != nil || n != bodyLen {
			w.log.Debug("short body read", "label", w.label, "worker_id", w.id, "fd", fd, "read", n, "want", bodyLen, "error", err)
			w.releaseBuf(bufPtr)
			w.teardown(fd, gen)
			return
		}
	}

	slot, ok := w.table.get(fd, gen)
	if !ok {
		// torn down by a concurrent Close while this read was blocked.
		w.releaseBuf(bufPtr)
		return
	}

	info := RecvInfo{
		Payload:  buf[w.prelude:],
		PeerIP:   slot.peerIP,
		PeerPort: slot.peerPort,
		Shared:   w.shared,
		Upper:    slot.upper,
		Conn:     &Conn{fd: fd, gen: gen, w: w},
		ConnType: ConnTypeTCP,
	}

	upper := w.handler(info)
	w.releaseBuf(bufPtr)

	if upper == nil {
		w.teardown(fd, gen)
		return
	}
	w.table.setUpper(fd, gen, upper)
}

func (w *worker) releaseBuf(bufPtr *[]byte) {
	*bufPtr = (*bufPtr)[:0]
	w.bufPool.Put(bufPtr)
}

// teardown removes (fd, gen) from the table, deregisters and closes the
// descriptor, and — only if the connection ever acquired an upper handle
// — delivers the terminal callback.
//
// The table removal happens first and gates everything after it: only
// the single goroutine that wins the remove() race may deregister and
// close the fd. Closing the same fd twice from two racing teardowns
// would risk closing an unrelated connection the kernel had already
// reused that fd number for.
func (w *worker) teardown(fd int, gen uint32) {
	slot, ok := w.table.remove(fd, gen)
	if !ok {
		return
	}

	unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)

	if slot.upperSet {
		w.handler(RecvInfo{
			Payload:  nil,
			PeerIP:   slot.peerIP,
			PeerPort: slot.peerPort,
			Shared:   w.shared,
			Upper:    slot.upper,
			Conn:     &Conn{fd: fd, gen: gen, w: w},
			ConnType: ConnTypeTCP,
		})
	}

	w.log.Debug("connection torn down", "label", w.label, "worker_id", w.id, "fd", fd)
}

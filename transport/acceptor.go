package transport

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/framewire/tcprpc/internal/logging"
	"github.com/framewire/tcprpc/internal/sockutil"
)

// acceptor owns the listening socket and distributes newly accepted
// connections across the worker pool by strict round-robin. It has no
// load awareness of any kind.
type acceptor struct {
	listenFd  int
	epfd      int
	wakeFd    int
	workers   []*worker
	nextID    int
	keepalive bool
	log       logging.Logger
	label     string
	exited    chan struct{}
}

func newAcceptor(cfg *config, workers []*worker, listenFd int) (*acceptor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("tcprpc: acceptor epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("tcprpc: acceptor eventfd: %w", err)
	}
	if err := unix.SetNonblock(listenFd, true); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("tcprpc: set listen fd nonblocking: %w", err)
	}
	for _, fd := range []int{listenFd, wakeFd} {
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}); err != nil {
			unix.Close(wakeFd)
			unix.Close(epfd)
			return nil, fmt.Errorf("tcprpc: register acceptor fd %d: %w", fd, err)
		}
	}

	return &acceptor{
		listenFd:  listenFd,
		epfd:      epfd,
		wakeFd:    wakeFd,
		workers:   workers,
		keepalive: cfg.keepalive,
		log:       cfg.logger,
		label:     cfg.label,
		exited:    make(chan struct{}),
	}, nil
}

func (a *acceptor) run() {
	defer close(a.exited)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var events [maxReadinessEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(a.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			a.log.Warn("acceptor epoll_wait failed", "label", a.label, "error", err)
			continue
		}

		stop := false
		for i := 0; i < n; i++ {
			switch int(events[i].Fd) {
			case a.wakeFd:
				stop = true
			case a.listenFd:
				a.drainAccepts()
			}
		}
		if stop {
			return
		}
	}
}

// drainAccepts accepts every pending connection on the non-blocking
// listening socket until EAGAIN, the level-triggered-epoll equivalent of
// a blocking accept loop that still cooperates with the stop wake fd.
func (a *acceptor) drainAccepts() {
	for {
		fd, ip, port, err := sockutil.Accept(a.listenFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			a.log.Warn("accept failed", "label", a.label, "error", err)
			return
		}

		if a.keepalive {
			if err := sockutil.SetKeepalive(fd); err != nil {
				a.log.Debug("enable keepalive failed", "label", a.label, "fd", fd, "error", err)
			}
		}

		w := a.workers[a.nextID%len(a.workers)]
		a.nextID++

		if err := w.register(fd, ip, port); err != nil {
			a.log.Warn("register connection failed", "label", a.label, "fd", fd, "error", err)
			unix.Close(fd)
			continue
		}

		a.log.Debug("accepted connection", "label", a.label, "worker_id", w.id, "fd", fd, "peer", ip.String(), "port", port)
	}
}

func (a *acceptor) stop() {
	var one [8]byte
	one[7] = 1
	unix.Write(a.wakeFd, one[:])
}

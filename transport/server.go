package transport

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/framewire/tcprpc/internal/sockutil"
)

// Server is the aggregate object owning the acceptor, the worker pool,
// and the server's static configuration. Start and Stop are the only
// public lifecycle operations; everything else is handed out through
// Conn values delivered in RecvInfo.
type Server struct {
	cfg     *config
	handler Handler
	shared  any

	mu        sync.Mutex
	started   bool
	listenFd  int
	boundPort uint16
	workers   []*worker
	acc       *acceptor
}

// Addr returns the address the server is currently bound to. Only
// meaningful while the server is started; useful when the server was
// constructed with an ephemeral port (New(..., 0, ...)) and the caller
// needs to discover which port the OS actually chose.
func (s *Server) Addr() (string, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.bindIP, s.boundPort
}

// New constructs a Server bound to bindIP:bindPort, dispatching
// assembled frames to handler, with sharedHandle echoed into every
// RecvInfo as Shared. The server is not listening until Start succeeds.
func New(bindIP string, bindPort uint16, handler Handler, sharedHandle any, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.workerCount <= 0 || cfg.headerLen < 4 {
		return nil, ErrInvalidConfig
	}
	cfg.bindIP = bindIP
	cfg.bindPort = bindPort

	return &Server{cfg: cfg, handler: handler, shared: sharedHandle}, nil
}

// Start allocates the worker pool, opens the listening socket, and
// spawns the acceptor and worker goroutines. On any failure all partial
// initialization is undone and the server remains stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	workers := make([]*worker, s.cfg.workerCount)
	for i := range workers {
		w, err := newWorker(i, s.cfg, s.handler, s.shared)
		if err != nil {
			for _, done := range workers[:i] {
				done.close()
			}
			return err
		}
		workers[i] = w
	}

	listenFd, err := sockutil.Listen(s.cfg.bindIP, s.cfg.bindPort, s.cfg.acceptBacklog)
	if err != nil {
		for _, w := range workers {
			w.close()
		}
		return fmt.Errorf("tcprpc: start %s: %w", s.cfg.label, err)
	}

	boundPort, err := sockutil.LocalPort(listenFd)
	if err != nil {
		unix.Close(listenFd)
		for _, w := range workers {
			w.close()
		}
		return err
	}

	acc, err := newAcceptor(s.cfg, workers, listenFd)
	if err != nil {
		unix.Close(listenFd)
		for _, w := range workers {
			w.close()
		}
		return err
	}

	for _, w := range workers {
		go w.run()
	}
	go acc.run()

	s.workers = workers
	s.listenFd = listenFd
	s.boundPort = boundPort
	s.acc = acc
	s.started = true

	s.cfg.logger.Info("tcp server started", "label", s.cfg.label, "bind_ip", s.cfg.bindIP, "bind_port", s.cfg.bindPort, "workers", len(workers))
	return nil
}

// Stop cancels the acceptor and every worker via their wake
// descriptors, tears down all remaining connections, joins every
// goroutine, and releases all descriptors.
//
// Connections are torn down directly from this call before each
// worker's wake is signalled, matching the intended teardown-before-exit
// ordering. A worker's own goroutine genuinely blocked inside a read on
// one of those connections at the moment Stop runs will only observe
// the closed descriptor once that read itself returns; Go has no
// mechanism to interrupt a blocking syscall on another goroutine's
// behalf, which is the same limitation the pthread_cancel-based original
// this was adapted from carries for the identical reason.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}

	var errs error

	s.acc.stop()
	<-s.acc.exited
	if err := unix.Close(s.listenFd); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("tcprpc: close listen fd: %w", err))
	}
	unix.Close(s.acc.wakeFd)
	unix.Close(s.acc.epfd)

	for _, w := range s.workers {
		for _, fd := range w.table.liveFDs() {
			if gen, ok := w.table.currentGen(fd); ok {
				w.teardown(fd, gen)
			}
		}
		w.table.stop()
		w.wake()
		<-w.exited
		unix.Close(w.wakeFd)
		if err := unix.Close(w.epfd); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("tcprpc: worker %d close epoll fd: %w", w.id, err))
		}
	}

	s.started = false
	s.cfg.logger.Info("tcp server stopped", "label", s.cfg.label)
	return errs
}

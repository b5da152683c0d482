package transport

import "github.com/framewire/tcprpc/internal/logging"

// Option configures a Server before Start, mirroring the functional
// options pattern used throughout the wider ecosystem this package was
// adapted from.
type Option func(*config)

type config struct {
	bindIP   string
	bindPort uint16

	label         string
	workerCount   int
	headerLen     int
	prelude       int
	keepalive     bool
	acceptBacklog int
	logger        logging.Logger
}

func defaultConfig() *config {
	return &config{
		label:         "tcprpc",
		workerCount:   4,
		headerLen:     16,
		prelude:       0,
		keepalive:     true,
		acceptBacklog: 128,
		logger:        logging.NopLogger{},
	}
}

// WithLabel names the server for logging and Snapshot output.
func WithLabel(label string) Option {
	return func(c *config) { c.label = label }
}

// WithWorkerCount sets the fixed worker pool size. Values <= 0 are ignored.
func WithWorkerCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workerCount = n
		}
	}
}

// WithHeaderSize sets the fixed frame header length in bytes. The first
// four bytes of the header always carry the total frame length. Values
// below 4 are ignored.
func WithHeaderSize(n int) Option {
	return func(c *config) {
		if n >= 4 {
			c.headerLen = n
		}
	}
}

// WithReservedPrelude reserves n bytes ahead of the header copy in each
// frame buffer. RecvInfo.Payload starts after the reserved bytes, so
// Handler has no access to them through the frame it receives.
func WithReservedPrelude(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.prelude = n
		}
	}
}

// WithKeepalive toggles SO_KEEPALIVE on accepted connections. Enabled by default.
func WithKeepalive(enabled bool) Option {
	return func(c *config) { c.keepalive = enabled }
}

// WithAcceptBacklog sets the listen() backlog. Values <= 0 are ignored.
func WithAcceptBacklog(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.acceptBacklog = n
		}
	}
}

// WithLogger installs a structured logger. A nil logger is ignored.
func WithLogger(l logging.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

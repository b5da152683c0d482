package transport_test

import (
	"encoding/binary"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/framewire/tcprpc/examples/syntheticpeer"
	"github.com/framewire/tcprpc/transport"
)

const testHeaderLen = 8

func newTestServer(t *testing.T, handler transport.Handler, opts ...transport.Option) (*transport.Server, string) {
	t.Helper()

	allOpts := append([]transport.Option{
		transport.WithHeaderSize(testHeaderLen),
		transport.WithWorkerCount(3),
	}, opts...)

	srv, err := transport.New("127.0.0.1", 0, handler, nil, allOpts...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		_ = srv.Stop()
	})

	ip, port := srv.Addr()
	addr := ip + ":" + strconv.Itoa(int(port))
	return srv, addr
}

func recordingHandler(frames *int32, terminals *int32) transport.Handler {
	return func(info transport.RecvInfo) any {
		if info.Payload == nil {
			atomic.AddInt32(terminals, 1)
			return nil
		}
		atomic.AddInt32(frames, 1)
		return struct{}{}
	}
}

func TestSingleFrameCleanClose(t *testing.T) {
	var frames, terminals int32
	_, addr := newTestServer(t, recordingHandler(&frames, &terminals))

	peer, err := syntheticpeer.Dial(addr, testHeaderLen)
	require.NoError(t, err)

	require.NoError(t, peer.WriteFrame([]byte("hello")))
	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&frames) == 1 && atomic.LoadInt32(&terminals) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTwoFramesSameConnection(t *testing.T) {
	var frames, terminals int32
	_, addr := newTestServer(t, recordingHandler(&frames, &terminals))

	peer, err := syntheticpeer.Dial(addr, testHeaderLen)
	require.NoError(t, err)

	require.NoError(t, peer.WriteFrame([]byte("one")))
	require.NoError(t, peer.WriteFrame([]byte("two")))
	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&frames) == 2 && atomic.LoadInt32(&terminals) == 1
	}, time.Second, 5*time.Millisecond)
}

// liveConnCount sums live peers across every worker's snapshot.
func liveConnCount(t *testing.T, srv *transport.Server) int {
	t.Helper()
	snap, err := srv.Snapshot()
	require.NoError(t, err)
	total := 0
	for _, ws := range snap {
		total += len(ws.Peers)
	}
	return total
}

func TestShortHeaderTearsDownConnection(t *testing.T) {
	var frames, terminals int32
	srv, addr := newTestServer(t, recordingHandler(&frames, &terminals))

	peer, err := syntheticpeer.Dial(addr, testHeaderLen)
	require.NoError(t, err)

	// Write fewer bytes than the header requires, then close: the worker's
	// read-exact on the header must see a short read and tear down without
	// ever invoking the handler for a frame. No upper handle is ever
	// established, so per scenario 3 no terminal callback fires either.
	require.NoError(t, peer.WriteRaw([]byte{0, 0, 0}))
	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool {
		return liveConnCount(t, srv) == 0
	}, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&frames))
	require.EqualValues(t, 0, atomic.LoadInt32(&terminals))
}

func TestBodyLengthMismatchTearsDownConnection(t *testing.T) {
	var frames, terminals int32
	srv, addr := newTestServer(t, recordingHandler(&frames, &terminals))

	peer, err := syntheticpeer.Dial(addr, testHeaderLen)
	require.NoError(t, err)

	header := make([]byte, testHeaderLen)
	binary.BigEndian.PutUint32(header[:4], uint32(testHeaderLen+50)) // promises 50 body bytes
	require.NoError(t, peer.WriteRaw(header))
	require.NoError(t, peer.WriteRaw([]byte("too short")))
	require.NoError(t, peer.Close())

	// As with a short header, no upper handle is ever established here
	// (the handler is never reached), so scenario 4 expects zero terminal
	// callbacks alongside the teardown.
	require.Eventually(t, func() bool {
		return liveConnCount(t, srv) == 0
	}, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&frames))
	require.EqualValues(t, 0, atomic.LoadInt32(&terminals))
}

func TestHandlerNilReturnRequestsTeardownWithoutTerminalCallback(t *testing.T) {
	var terminalCalls int32

	handler := func(info transport.RecvInfo) any {
		if info.Payload == nil {
			atomic.AddInt32(&terminalCalls, 1)
			return nil
		}
		return nil // first frame requests immediate teardown, no upper ever set
	}

	_, addr := newTestServer(t, handler)

	peer, err := syntheticpeer.Dial(addr, testHeaderLen)
	require.NoError(t, err)
	require.NoError(t, peer.WriteFrame([]byte("x")))

	// Connection should be torn down by the server without an upper
	// handle ever being established, so no terminal callback fires.
	require.NoError(t, peer.Close())

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&terminalCalls))
}

func TestRoundRobinAcrossWorkers(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]struct{}{}

	handler := func(info transport.RecvInfo) any {
		if info.Payload == nil {
			return nil
		}
		mu.Lock()
		seen[string(info.Payload)] = struct{}{}
		mu.Unlock()
		return struct{}{}
	}

	srv, addr := newTestServer(t, handler, transport.WithWorkerCount(3))

	var peers []*syntheticpeer.Peer
	for i := 0; i < 6; i++ {
		p, err := syntheticpeer.Dial(addr, testHeaderLen)
		require.NoError(t, err)
		require.NoError(t, p.WriteFrame([]byte{byte('a' + i)}))
		peers = append(peers, p)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 6
	}, time.Second, 5*time.Millisecond)

	snap, err := srv.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap, 3)

	total := 0
	for _, ws := range snap {
		require.Len(t, ws.Peers, 2)
		total += len(ws.Peers)
	}
	require.Equal(t, 6, total)

	require.NoError(t, syntheticpeer.CloseAll(peers...))
}

func TestGracefulStopUnderIdleLoad(t *testing.T) {
	var terminals int32
	handler := func(info transport.RecvInfo) any {
		if info.Payload == nil {
			atomic.AddInt32(&terminals, 1)
			return nil
		}
		return struct{}{}
	}

	srv, err := transport.New("127.0.0.1", 0, handler, nil,
		transport.WithHeaderSize(testHeaderLen),
		transport.WithWorkerCount(3),
	)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	ip, port := srv.Addr()
	addr := ip + ":" + strconv.Itoa(int(port))

	const n = 5
	var peers []*syntheticpeer.Peer
	for i := 0; i < n; i++ {
		p, derr := syntheticpeer.Dial(addr, testHeaderLen)
		require.NoError(t, derr)
		require.NoError(t, p.WriteFrame([]byte("idle")))
		peers = append(peers, p)
	}

	require.Eventually(t, func() bool {
		snap, serr := srv.Snapshot()
		if serr != nil {
			return false
		}
		total := 0
		for _, ws := range snap {
			total += len(ws.Peers)
		}
		return total == n
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop())
	require.EqualValues(t, n, atomic.LoadInt32(&terminals))

	_ = syntheticpeer.CloseAll(peers...)
}

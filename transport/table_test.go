package transport

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTableGenerationGuardsAgainstFdReuse(t *testing.T) {
	tb := newTable()
	ip := netip.MustParseAddr("127.0.0.1")

	genA := tb.insert(7, ip, 1111)
	require.Equal(t, 1, tb.count())

	slotA, ok := tb.get(7, genA)
	require.True(t, ok)
	require.Equal(t, 7, slotA.fd)

	removed, ok := tb.remove(7, genA)
	require.True(t, ok)
	require.Equal(t, genA, removed.gen)
	require.Equal(t, 0, tb.count())

	// The OS hands fd 7 to a brand new connection.
	genB := tb.insert(7, ip, 2222)
	require.NotEqual(t, genA, genB)

	// A handle still carrying the old generation must not resolve to the
	// new connection, and must not be removable.
	_, ok = tb.get(7, genA)
	require.False(t, ok)
	_, ok = tb.remove(7, genA)
	require.False(t, ok)

	_, ok = tb.get(7, genB)
	require.True(t, ok)
}

func TestTableRemoveIsIdempotent(t *testing.T) {
	tb := newTable()
	gen := tb.insert(3, netip.MustParseAddr("10.0.0.1"), 80)

	_, ok := tb.remove(3, gen)
	require.True(t, ok)

	_, ok = tb.remove(3, gen)
	require.False(t, ok)
}

func TestTableWaitNonEmptyUnblocksOnInsertAndStop(t *testing.T) {
	tb := newTable()

	done := make(chan bool, 1)
	go func() {
		done <- tb.waitNonEmpty()
	}()

	time.Sleep(10 * time.Millisecond)
	gen := tb.insert(1, netip.MustParseAddr("127.0.0.1"), 9)

	select {
	case stopped := <-done:
		require.False(t, stopped)
	case <-time.After(time.Second):
		t.Fatal("waitNonEmpty did not unblock on insert")
	}

	tb.remove(1, gen)

	go func() {
		done <- tb.waitNonEmpty()
	}()
	time.Sleep(10 * time.Millisecond)
	tb.stop()

	select {
	case stopped := <-done:
		require.True(t, stopped)
	case <-time.After(time.Second):
		t.Fatal("waitNonEmpty did not unblock on stop")
	}
}

func TestTableSetUpperRequiresMatchingGeneration(t *testing.T) {
	tb := newTable()
	gen := tb.insert(5, netip.MustParseAddr("127.0.0.1"), 42)

	require.True(t, tb.setUpper(5, gen, "handle"))
	slot, ok := tb.get(5, gen)
	require.True(t, ok)
	require.Equal(t, "handle", slot.upper)
	require.True(t, slot.upperSet)

	require.False(t, tb.setUpper(5, gen+1, "stale"))
}

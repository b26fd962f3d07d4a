package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/config"
	"github.com/ArianTa/flightconsensus/log/telemetry"
)

// fakeNetwork wires a small set of fakeTransport peers together in memory,
// standing in for real Links so broadcast tests don't need sockets.
type fakeNetwork struct {
	mu    sync.Mutex
	peers map[int]*fakeTransport
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{peers: make(map[int]*fakeTransport)}
}

func (n *fakeNetwork) add(process int) *fakeTransport {
	t := &fakeTransport{process: process, net: n}
	n.mu.Lock()
	n.peers[process] = t
	n.mu.Unlock()
	return t
}

type fakeTransport struct {
	abstraction.Registrable
	process int
	net     *fakeNetwork
}

func (t *fakeTransport) Send(dest, callbackID int, args []interface{}, kwargs map[string]interface{}) error {
	t.net.mu.Lock()
	target := t.net.peers[dest]
	t.net.mu.Unlock()
	if target == nil {
		return nil
	}
	go target.Dispatch(callbackID, t.process, args, kwargs)
	return nil
}

func testLogger() telemetry.Logger {
	return telemetry.NewRegistry().Get(0, "test")
}

func TestBestEffortBroadcastDeliversToAllPeers(t *testing.T) {
	net := newFakeNetwork()
	trans := map[int]*fakeTransport{1: net.add(1), 2: net.add(2), 3: net.add(3)}

	bebs := make(map[int]*BestEffort)
	delivered := make(map[int]chan []interface{}, 3)
	for id, tr := range trans {
		b := NewBestEffort(tr, testLogger())
		for other := range trans {
			if other != id {
				b.AddPeers(other)
			}
		}
		ch := make(chan []interface{}, 10)
		delivered[id] = ch
		b.Register(func(source int, args []interface{}, kwargs map[string]interface{}) {
			ch <- args
		})
		bebs[id] = b
	}

	bebs[1].Broadcast(0, []interface{}{"hello"}, nil)

	for _, id := range []int{2, 3} {
		select {
		case got := <-delivered[id]:
			require.Equal(t, []interface{}{"hello"}, got)
		case <-time.After(time.Second):
			t.Fatalf("peer %d never delivered broadcast", id)
		}
	}
}

func TestEagerReliableBroadcastDeduplicatesAndPropagates(t *testing.T) {
	net := newFakeNetwork()
	trans := map[int]*fakeTransport{1: net.add(1), 2: net.add(2), 3: net.add(3)}

	erbs := make(map[int]*EagerReliable)
	delivered := make(map[int]chan []interface{}, 3)
	for id, tr := range trans {
		b := NewBestEffort(tr, testLogger())
		for other := range trans {
			if other != id {
				b.AddPeers(other)
			}
		}
		conf := config.New(id)
		e := NewEagerReliable(b, conf, testLogger())
		ch := make(chan []interface{}, 10)
		delivered[id] = ch
		e.Register(func(source int, args []interface{}, kwargs map[string]interface{}) {
			ch <- args
		})
		erbs[id] = e
	}

	erbs[1].Broadcast(0, []interface{}{"vote"}, nil)

	for _, id := range []int{2, 3} {
		select {
		case got := <-delivered[id]:
			require.Equal(t, []interface{}{"vote"}, got)
		case <-time.After(time.Second):
			t.Fatalf("peer %d never delivered broadcast", id)
		}

		select {
		case <-delivered[id]:
			t.Fatalf("peer %d delivered the same broadcast twice", id)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func TestEagerReliableBroadcastRingEviction(t *testing.T) {
	net := newFakeNetwork()
	tr := net.add(1)
	b := NewBestEffort(tr, testLogger())
	conf := config.New(1, config.WithRingBufferSize(2))
	e := NewEagerReliable(b, conf, testLogger())

	require.True(t, e.markSeen(ringKey{ts: 1, origin: 1}))
	require.True(t, e.markSeen(ringKey{ts: 2, origin: 1}))
	require.True(t, e.markSeen(ringKey{ts: 3, origin: 1}))
	require.False(t, e.markSeen(ringKey{ts: 2, origin: 1}))
	require.True(t, e.markSeen(ringKey{ts: 1, origin: 1}))
}

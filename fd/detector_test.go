package fd

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/config"
	"github.com/ArianTa/flightconsensus/log/telemetry"
)

// fakeNetwork wires fakeTransports together in-memory, standing in for
// link.Link so the detector's heartbeat/reply logic can be tested without
// real sockets.
type fakeNetwork struct {
	mu    sync.Mutex
	peers map[int]*fakeTransport
}

func newFakeNetwork() *fakeNetwork { return &fakeNetwork{peers: make(map[int]*fakeTransport)} }

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

	mu     sync.Mutex
	silent bool
}

func (t *fakeTransport) Send(dest, callbackID int, args []interface{}, kwargs map[string]interface{}) error {
	t.mu.Lock()
	silent := t.silent
	t.mu.Unlock()
	if silent {
		return nil
	}

	t.net.mu.Lock()
	target := t.net.peers[dest]
	t.net.mu.Unlock()
	if target == nil {
		return nil
	}
	go target.Dispatch(callbackID, t.process, args, kwargs)
	return nil
}

func (t *fakeTransport) goSilent() {
	t.mu.Lock()
	t.silent = true
	t.mu.Unlock()
}

func testLogger() telemetry.Logger {
	return telemetry.NewRegistry().Get(0, "test")
}

func testConfig(process int) *config.Peer {
	return config.New(process, config.WithTimeout(100*time.Millisecond))
}

func TestDetectorNeverAccusesACorrectPeer(t *testing.T) {
	net := newFakeNetwork()
	a := New(net.add(0), testConfig(0), testLogger())
	b := New(net.add(1), testConfig(1), testLogger())
	a.AddPeers(1)
	b.AddPeers(0)

	detected := make(chan int, 1)
	a.Subscribe(func(args ...interface{}) {
		if len(args) > 0 {
			if p, ok := args[0].(int); ok {
				detected <- p
			}
		}
	})

	a.Start()
	defer a.Stop()
	b.Start()
	defer b.Stop()

	select {
	case p := <-detected:
		t.Fatalf("peer %d accused while still correct", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDetectorEventuallyDetectsACrashedPeer(t *testing.T) {
	net := newFakeNetwork()
	a := New(net.add(0), testConfig(0), testLogger())
	crashed := net.add(1)

	a.AddPeers(1)

	detected := make(chan int, 1)
	a.Subscribe(func(args ...interface{}) {
		if len(args) > 0 {
			if p, ok := args[0].(int); ok {
				detected <- p
			}
		}
	})

	a.Start()
	defer a.Stop()

	// Simulate a crash: peer 1 stops answering REQUEST heartbeats.
	crashed.goSilent()

	select {
	case p := <-detected:
		require.Equal(t, 1, p)
	case <-time.After(time.Second):
		t.Fatal("crashed peer was never detected")
	}
}

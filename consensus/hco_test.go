package consensus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/broadcast"
	"github.com/ArianTa/flightconsensus/log/telemetry"
)

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

// TestHierarchicalConsensusAllPropose has every peer propose its own id
// and checks all of them converge on peer 0's proposal (§4.6's
// tie-break: highest-ranked *live* proposer wins, which for an all-live
// run means the lowest numeric id).
func TestHierarchicalConsensusAllPropose(t *testing.T) {
	const n = 4
	net := newFakeNetwork()
	bebs := make(map[int]*broadcast.BestEffort)
	for p := 0; p < n; p++ {
		tr := net.add(p)
		b := broadcast.NewBestEffort(tr, testLogger())
		bebs[p] = b
	}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			bebs[p].AddPeers(q)
		}
	}

	decided := make(map[int]chan interface{}, n)
	hcos := make(map[int]*HierarchicalConsensus, n)
	for p := 0; p < n; p++ {
		h := New(bebs[p], nil, p, n, testLogger())
		ch := make(chan interface{}, 1)
		decided[p] = ch
		h.Subscribe(func(args ...interface{}) {
			if len(args) > 0 {
				ch <- args[0]
			}
		})
		h.Start()
		hcos[p] = h
	}

	for p := 0; p < n; p++ {
		hcos[p].Propose(p)
	}

	for p := 0; p < n; p++ {
		select {
		case v := <-decided[p]:
			require.Equal(t, 0, v, "peer %d decided wrong value", p)
		case <-time.After(2 * time.Second):
			t.Fatalf("peer %d never decided", p)
		}
	}
}

// TestHierarchicalConsensusSurvivesCrash simulates peer 0, the
// highest-ranked proposer, crashing before it proposes; the remaining peers must still
// agree (on one of the survivors' values) instead of stalling forever.
func TestHierarchicalConsensusSurvivesCrash(t *testing.T) {
	const n = 3
	net := newFakeNetwork()
	bebs := make(map[int]*broadcast.BestEffort)
	for p := 0; p < n; p++ {
		tr := net.add(p)
		bebs[p] = broadcast.NewBestEffort(tr, testLogger())
	}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			bebs[p].AddPeers(q)
		}
	}

	decided := make(map[int]chan interface{}, n)
	hcos := make(map[int]*HierarchicalConsensus, n)
	for p := 1; p < n; p++ {
		h := New(bebs[p], nil, p, n, testLogger())
		ch := make(chan interface{}, 1)
		decided[p] = ch
		h.Subscribe(func(args ...interface{}) {
			if len(args) > 0 {
				ch <- args[0]
			}
		})
		h.Start()
		hcos[p] = h
	}

	// Peer 0 is "crashed": every survivor learns about it directly.
	for p := 1; p < n; p++ {
		hcos[p].PeerFailure(0)
		hcos[p].Propose(p)
	}

	for p := 1; p < n; p++ {
		select {
		case v := <-decided[p]:
			require.Equal(t, 1, v, "peer %d decided wrong value", p)
		case <-time.After(2 * time.Second):
			t.Fatalf("peer %d never decided", p)
		}
	}
}

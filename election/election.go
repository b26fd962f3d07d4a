// Package election implements Leader Election (spec §4.7): a dedicated
// Hierarchical Consensus instance that repeatedly agrees on the
// lowest-numbered surviving peer.
package election

import (
	"sync"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/broadcast"
	"github.com/ArianTa/flightconsensus/consensus"
	"github.com/ArianTa/flightconsensus/log/telemetry"
	"github.com/ArianTa/flightconsensus/wire"
)

// Detector is the subset of fd.Detector's API election needs.
type Detector interface {
	Subscribe(fn abstraction.Callback)
}

// LeaderElection is Subscribable: subscribers are notified with the
// elected peer id each time a new leader is agreed on.
type LeaderElection struct {
	*abstraction.Subscribable

	self int
	n    int
	log  telemetry.Logger

	newHCO func() *consensus.HierarchicalConsensus

	// hcoMu guards hco, read by Stop (any goroutine) and written only
	// from this instance's own worker (startElectionIfNeeded).
	hcoMu sync.Mutex
	hco   *consensus.HierarchicalConsensus

	detected   map[int]bool
	inElection bool

	// leaderMu guards leader/haveLeader, which are written only from this
	// instance's own worker (handleDecided) but read by Leader() from any
	// caller's goroutine (voting's get_leader entry point).
	leaderMu   sync.Mutex
	leader     int
	haveLeader bool
}

// New creates a leader election instance for self among n peers
// (0..n-1), broadcasting its own consensus rounds over beb and tracking
// crashes via pfd. newHCO is called once per election round to obtain a
// fresh Hierarchical Consensus instance, since each decision needs its
// own (§4.6's "one instance per decision").
func New(beb *broadcast.BestEffort, pfd Detector, self, n int, log telemetry.Logger) *LeaderElection {
	e := &LeaderElection{
		Subscribable: abstraction.NewSubscribable(abstraction.New(log)),
		self:         self,
		n:            n,
		log:          log,
		detected:     make(map[int]bool),
		leader:       -1,
	}
	e.newHCO = func() *consensus.HierarchicalConsensus {
		detected := make([]int, 0, len(e.detected))
		for p, d := range e.detected {
			if d {
				detected = append(detected, p)
			}
		}
		return consensus.New(beb, nil, self, n, log, detected...)
	}

	e.Handle("peerFailure", e.handlePeerFailure)
	e.Handle("decided", e.handleDecided)

	if pfd != nil {
		pfd.Subscribe(func(args ...interface{}) {
			if len(args) == 0 {
				return
			}
			p, ok := wire.AsInt(args[0])
			if !ok {
				return
			}
			e.Trigger("peerFailure", []interface{}{p}, nil)
		})
	}
	return e
}

// Start launches the worker and kicks off the first election round.
func (e *LeaderElection) Start() {
	e.Subscribable.Start()
	e.Trigger("peerFailure", []interface{}{-1}, nil)
}

// Stop halts this election's own worker along with whichever Hierarchical
// Consensus instance its current round owns — each round's instance is
// never otherwise stopped once it decides (§4.6 gives it no natural end
// of its own), so Election must own that lifetime.
func (e *LeaderElection) Stop() {
	e.Subscribable.Stop()
	e.hcoMu.Lock()
	hco := e.hco
	e.hcoMu.Unlock()
	if hco != nil {
		hco.Stop()
	}
}

func (e *LeaderElection) handlePeerFailure(args []interface{}, kwargs map[string]interface{}) {
	p := args[0].(int)
	if p >= 0 {
		e.detected[p] = true
	}

	// A crash while a round is already in flight must reach that round's
	// consensus instance directly, or its finished rendezvous would wait
	// forever on a peer that will never report in.
	e.hcoMu.Lock()
	hco := e.hco
	e.hcoMu.Unlock()
	if p >= 0 && hco != nil {
		hco.PeerFailure(p)
	}

	e.startElectionIfNeeded()
}

// startElectionIfNeeded begins a new round unless one is already
// in flight (§4.7: "if not already in election").
func (e *LeaderElection) startElectionIfNeeded() {
	if e.inElection {
		return
	}
	e.inElection = true
	e.setLeader(-1, false)

	candidate := e.lowestSurviving()

	e.hcoMu.Lock()
	previous := e.hco
	hco := e.newHCO()
	e.hco = hco
	e.hcoMu.Unlock()
	// The previous round's instance already decided (handleDecided only
	// reaches here after "decided" fired) and is never needed again.
	if previous != nil {
		previous.Stop()
	}

	hco.Subscribe(func(args ...interface{}) {
		var v interface{}
		if len(args) > 0 {
			v = args[0]
		}
		e.Trigger("decided", []interface{}{v}, nil)
	})
	hco.Start()
	hco.Propose(candidate)
}

func (e *LeaderElection) lowestSurviving() int {
	for p := 0; p < e.n; p++ {
		if !e.detected[p] {
			return p
		}
	}
	return -1
}

func (e *LeaderElection) handleDecided(args []interface{}, kwargs map[string]interface{}) {
	e.inElection = false
	v, ok := wire.AsInt(args[0])
	if !ok || e.detected[v] {
		e.startElectionIfNeeded()
		return
	}
	e.setLeader(v, true)
	e.CallCallbacks(v)
}

func (e *LeaderElection) setLeader(v int, have bool) {
	e.leaderMu.Lock()
	e.leader = v
	e.haveLeader = have
	e.leaderMu.Unlock()
}

// Leader reports the last agreed leader, if any.
func (e *LeaderElection) Leader() (int, bool) {
	e.leaderMu.Lock()
	defer e.leaderMu.Unlock()
	return e.leader, e.haveLeader
}

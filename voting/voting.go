// Package voting implements Majority Voting (spec §4.8): the top-level
// per-peer coordinator that owns the whole stack (link, failure
// detector, best-effort and eager reliable broadcast, leader election,
// and one Hierarchical Consensus instance per round) and drives a
// leader-initiated broadcast-vote-then-consensus round.
package voting

import (
	"sync"
	"time"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/broadcast"
	"github.com/ArianTa/flightconsensus/config"
	"github.com/ArianTa/flightconsensus/consensus"
	"github.com/ArianTa/flightconsensus/election"
	"github.com/ArianTa/flightconsensus/fd"
	"github.com/ArianTa/flightconsensus/link"
	"github.com/ArianTa/flightconsensus/log/telemetry"
	"github.com/ArianTa/flightconsensus/wire"
)

// pollInterval paces the bounded waits in Vote/GetLeader. The spec
// expresses those waits as suspension on a boolean event with a bounded
// timeout (§5); Go has no native timed condition variable, so this polls
// at a short, fixed interval instead of blocking on a cond.
const pollInterval = 5 * time.Millisecond

// DecideFunc computes this peer's local accept/reject vote for a
// proposed value. It is supplied by the flight-control application.
type DecideFunc func(value interface{}) bool

// DeliverFunc is invoked with the original proposition once consensus
// accepts it. It is supplied by the flight-control application.
type DeliverFunc func(proposition interface{})

// historyLimit bounds the supplemented History() accessor.
const historyLimit = 64

// Voting is one peer's Majority Voting coordinator (§4.8).
type Voting struct {
	*abstraction.Abstraction

	conf *config.Peer
	log  telemetry.Logger

	Link     *link.Link
	Detector *fd.Detector
	Beb      *broadcast.BestEffort
	Erb      *broadcast.EagerReliable
	Election *election.LeaderElection

	self int
	n    int

	decide  DecideFunc
	deliver DeliverFunc

	newVoteID     int
	voteReceiveID int

	detected    map[int]bool
	votes       map[bool]int
	voted       map[int]bool
	proposition interface{}

	// hcoMu guards hco, read by Stop (any goroutine) and written only from
	// this instance's own worker (decideRound).
	hcoMu sync.Mutex
	hco   *consensus.HierarchicalConsensus

	mu                sync.Mutex
	finishedConsensus bool
	consensusResult   bool

	histMu  sync.Mutex
	history []bool
}

// New wires a complete peer: a Link bound to conf, a PFD and BEB/ERB over
// it, a dedicated LeaderElection, and this voting coordinator. peers is
// the full membership (including self), numbered 0..len(peers)-1, which
// every layer's rank arithmetic assumes. decide and deliver hook into
// the application layer; either may be nil if this peer only
// participates in voting without ever needing to run them (decide
// defaults to always-false, deliver to a no-op).
func New(conf *config.Peer, peers []int, log telemetry.Logger, decide DecideFunc, deliver DeliverFunc) (*Voting, error) {
	l, err := link.New(conf, log)
	if err != nil {
		return nil, err
	}
	if decide == nil {
		decide = func(interface{}) bool { return false }
	}
	if deliver == nil {
		deliver = func(interface{}) {}
	}

	n := len(peers)
	detector := fd.New(l, conf, log)
	beb := broadcast.NewBestEffort(l, log)
	erb := broadcast.NewEagerReliable(beb, conf, log)
	le := election.New(beb, detector, conf.ProcessNumber, n, log)

	// BEB/ERB broadcasts address the whole membership including self
	// (original_source/basic_abstraction/broadcast.py's own test wires
	// add_peers with its own id included) — a peer's own datagram to its
	// own socket is delivered back to it like any other. The failure
	// detector only ever tracks others.
	beb.AddPeers(peers...)
	for _, p := range peers {
		if p != conf.ProcessNumber {
			detector.AddPeers(p)
		}
	}

	v := &Voting{
		Abstraction: abstraction.New(log),
		conf:        conf,
		log:         log,
		Link:        l,
		Detector:    detector,
		Beb:         beb,
		Erb:         erb,
		Election:    le,
		self:        conf.ProcessNumber,
		n:           n,
		decide:      decide,
		deliver:     deliver,
		detected:    make(map[int]bool),
		votes:       make(map[bool]int),
		voted:       make(map[int]bool),
	}
	v.finishedConsensus = true

	v.newVoteID = erb.Register(v.onNewVoteWire)
	v.voteReceiveID = erb.Register(v.onVoteReceiveWire)

	v.Handle("new_vote", v.handleNewVote)
	v.Handle("vote_receive", v.handleVoteReceive)
	v.Handle("peer_failure", v.handlePeerFailure)
	v.Handle("consensus_decided", v.handleConsensusDecided)

	detector.Subscribe(func(args ...interface{}) {
		if len(args) == 0 {
			return
		}
		p, ok := wire.AsInt(args[0])
		if !ok {
			return
		}
		v.Trigger("peer_failure", []interface{}{p}, nil)
	})

	return v, nil
}

// Start launches the link, failure detector, broadcasts, election and
// this coordinator's own worker, in leaf-first order.
func (v *Voting) Start() {
	v.Link.Start()
	v.Detector.Start()
	v.Election.Start()
	v.Abstraction.Start()
}

// Stop tears the stack down in reverse order, including whichever
// Hierarchical Consensus instance the last voting round created — like
// Election's, it has no natural end of its own once it decides.
func (v *Voting) Stop() {
	v.Abstraction.Stop()
	v.hcoMu.Lock()
	hco := v.hco
	v.hcoMu.Unlock()
	if hco != nil {
		hco.Stop()
	}
	v.Election.Stop()
	v.Detector.Stop()
	v.Link.Stop()
}

// Vote is the leader-only entry point (§4.8). It waits for a finished
// election; if this peer isn't leader (or isn't alive), it returns
// false without side effects. It then waits for any previous round to
// finish (returning false if it does not finish in time), ERB-broadcasts
// the new proposal to the whole membership, and waits for this round's
// consensus outcome.
func (v *Voting) Vote(value interface{}) bool {
	leader, ok := v.awaitLeader(v.conf.Timeout / 3)
	if !ok || leader != v.self || !v.Alive() {
		return false
	}

	if !v.awaitConsensusFinished(v.conf.Timeout / 3) {
		return false
	}

	// Mark the round as started before broadcasting, so the wait below
	// cannot return the previous round's result before this peer's own
	// new_vote has been processed.
	v.mu.Lock()
	v.finishedConsensus = false
	v.mu.Unlock()

	v.Erb.Broadcast(v.newVoteID, []interface{}{value}, nil)

	if !v.awaitConsensusFinished(v.conf.Timeout) {
		return false
	}
	v.mu.Lock()
	result := v.consensusResult
	v.mu.Unlock()
	return result
}

// GetLeader is the get_leader entry point (§4.8): waits for a finished
// election and returns the last elected leader.
func (v *Voting) GetLeader() (int, bool) {
	return v.awaitLeader(v.conf.Timeout / 3)
}

// History returns up to the last historyLimit consensus outcomes, oldest
// first. Supplemented accessor, not in the distilled spec.
func (v *Voting) History() []bool {
	v.histMu.Lock()
	defer v.histMu.Unlock()
	out := make([]bool, len(v.history))
	copy(out, v.history)
	return out
}

func (v *Voting) awaitLeader(timeout time.Duration) (int, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if leader, ok := v.Election.Leader(); ok {
			return leader, true
		}
		if time.Now().After(deadline) {
			return -1, false
		}
		time.Sleep(pollInterval)
	}
}

func (v *Voting) awaitConsensusFinished(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		v.mu.Lock()
		done := v.finishedConsensus
		v.mu.Unlock()
		if done {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

func (v *Voting) onNewVoteWire(source int, args []interface{}, kwargs map[string]interface{}) {
	if len(args) == 0 {
		v.log.Warnf("voting: new_vote with no value from %d", source)
		return
	}
	v.Trigger("new_vote", []interface{}{source, args[0]}, nil)
}

func (v *Voting) onVoteReceiveWire(source int, args []interface{}, kwargs map[string]interface{}) {
	if len(args) == 0 {
		v.log.Warnf("voting: vote_receive with no value from %d", source)
		return
	}
	v.Trigger("vote_receive", []interface{}{source, args[0]}, nil)
}

func (v *Voting) handleNewVote(args []interface{}, kwargs map[string]interface{}) {
	source := args[0].(int)
	value := args[1]

	v.mu.Lock()
	leader, haveLeader := v.Election.Leader()
	if !haveLeader || source != leader {
		v.mu.Unlock()
		return
	}
	v.finishedConsensus = false
	v.mu.Unlock()

	// votes/voted are left alone here: ERB gives no cross-origin ordering
	// (§5), so another peer's vote_receive for this same round can already
	// have arrived and been tallied before this peer processes new_vote.
	// They are only cleared after a round's tally completes, in
	// decideRound, matching the original's clear-after-tally.
	v.proposition = value

	vote := v.decide(value)
	v.Erb.Broadcast(v.voteReceiveID, []interface{}{vote}, nil)
}

func (v *Voting) handleVoteReceive(args []interface{}, kwargs map[string]interface{}) {
	source := args[0].(int)
	vote, ok := args[1].(bool)
	if !ok {
		v.log.Warnf("voting: malformed vote from %d", source)
		return
	}

	v.votes[vote]++
	v.voted[source] = true

	if !v.everyLivePeerVoted() {
		return
	}
	v.decideRound()
}

func (v *Voting) everyLivePeerVoted() bool {
	for p := 0; p < v.n; p++ {
		if v.detected[p] {
			continue
		}
		if !v.voted[p] {
			return false
		}
	}
	return true
}

// tallyWinner picks the vote value with the highest tally. Ties are
// broken deterministically by preferring false (reject) as the more
// conservative outcome.
func (v *Voting) tallyWinner() bool {
	trueCount := v.votes[true]
	falseCount := v.votes[false]
	if trueCount > falseCount {
		return true
	}
	return false
}

func (v *Voting) handleConsensusDecided(args []interface{}, kwargs map[string]interface{}) {
	decided, _ := args[0].(bool)

	v.mu.Lock()
	v.consensusResult = decided
	v.finishedConsensus = true
	v.mu.Unlock()

	v.recordHistory(decided)

	if decided {
		v.deliver(v.proposition)
	}
}

func (v *Voting) recordHistory(decided bool) {
	v.histMu.Lock()
	v.history = append(v.history, decided)
	if len(v.history) > historyLimit {
		v.history = v.history[len(v.history)-historyLimit:]
	}
	v.histMu.Unlock()
}

func (v *Voting) handlePeerFailure(args []interface{}, kwargs map[string]interface{}) {
	p := args[0].(int)
	v.detected[p] = true
	v.Beb.RemovePeer(p)

	// A crash mid-round must also reach whichever consensus instance is
	// currently deciding, or its finished/finished_peers rendezvous would
	// wait forever on a peer that will never report in.
	v.hcoMu.Lock()
	hco := v.hco
	v.hcoMu.Unlock()
	if hco != nil {
		hco.PeerFailure(p)
	}

	// Treat p as if it had finished voting so a round already under way
	// doesn't stall waiting on a peer that will never reply (§4.8).
	v.voted[p] = true
	if len(v.votes) > 0 && v.everyLivePeerVoted() {
		v.decideRound()
	}
}

// decideRound tallies the current round's votes, resets for the next
// one, and proposes the winner into a fresh consensus instance. Shared
// between handleVoteReceive's normal completion path and
// handlePeerFailure's early-completion path.
func (v *Voting) decideRound() {
	winner := v.tallyWinner()
	v.votes = make(map[bool]int)
	v.voted = make(map[int]bool)

	detected := make([]int, 0, len(v.detected))
	for p, d := range v.detected {
		if d {
			detected = append(detected, p)
		}
	}

	v.hcoMu.Lock()
	previous := v.hco
	hco := consensus.New(v.Beb, nil, v.self, v.n, v.log, detected...)
	v.hco = hco
	v.hcoMu.Unlock()
	// The previous round already decided (decideRound only runs again
	// once this round's own vote tally completes) and is never revisited.
	if previous != nil {
		previous.Stop()
	}

	hco.Subscribe(func(args ...interface{}) {
		var decided bool
		if len(args) > 0 {
			if b, ok := args[0].(bool); ok {
				decided = b
			}
		}
		v.Trigger("consensus_decided", []interface{}{decided}, nil)
	})
	hco.Start()
	hco.Propose(winner)
}

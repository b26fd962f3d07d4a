// Package consensus implements Hierarchical Consensus (spec §4.6): one
// round-robin agreement instance per decision, built from a Perfect
// Failure Detector and a Best-Effort Broadcast.
package consensus

import (
	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/broadcast"
	"github.com/ArianTa/flightconsensus/log/telemetry"
	"github.com/ArianTa/flightconsensus/wire"
)

// Detector is the subset of fd.Detector's API a consensus instance needs.
type Detector interface {
	Subscribe(fn abstraction.Callback)
}

// HierarchicalConsensus is one consensus instance (§4.6). Rank equals
// peer id; the membership is assumed to be the contiguous range
// [0, len(peers)), which is how every peer is numbered elsewhere in this
// stack (link, failure detector, broadcast).
type HierarchicalConsensus struct {
	*abstraction.Subscribable

	beb  *broadcast.BestEffort
	self int
	n    int
	log  telemetry.Logger

	receiveID  int
	finishedID int

	round        int
	proposal     interface{}
	proposer     int
	delivered    map[int]bool
	broadcasting bool
	decided      interface{}

	detected      map[int]bool
	finishedPeers map[int]bool
}

// New creates a Hierarchical Consensus instance for self among n peers
// (ids 0..n-1), broadcasting over beb. detected seeds peers already known
// crashed before this instance exists (a PFD fires each crash exactly
// once, so an instance created after the notification must be told
// directly or it waits forever on a rank that will never report in). If
// pfd is non-nil, the instance also subscribes to its crash notifications
// directly; callers that want to drive peerFailure themselves (e.g. when
// composing with an existing subscription) may pass nil and call
// PeerFailure explicitly.
func New(beb *broadcast.BestEffort, pfd Detector, self, n int, log telemetry.Logger, detected ...int) *HierarchicalConsensus {
	h := &HierarchicalConsensus{
		Subscribable:  abstraction.NewSubscribable(abstraction.New(log)),
		beb:           beb,
		self:          self,
		n:             n,
		log:           log,
		proposer:      -1,
		delivered:     make(map[int]bool),
		detected:      make(map[int]bool),
		finishedPeers: make(map[int]bool),
	}
	for _, p := range detected {
		h.detected[p] = true
	}
	h.receiveID = beb.Register(h.onReceiveWire)
	h.finishedID = beb.Register(h.onFinishedWire)

	h.Handle("propose", h.handlePropose)
	h.Handle("receive", h.handleReceive)
	h.Handle("peerFailure", h.handlePeerFailure)
	h.Handle("finished", h.handleFinished)

	if pfd != nil {
		pfd.Subscribe(func(args ...interface{}) {
			if len(args) == 0 {
				return
			}
			p, ok := wire.AsInt(args[0])
			if !ok {
				return
			}
			h.PeerFailure(p)
		})
	}
	return h
}

// Propose submits v as this peer's candidate value. Only the first
// proposal in a round takes effect (§4.6): later calls are no-ops until
// the instance resets.
func (h *HierarchicalConsensus) Propose(v interface{}) {
	h.Trigger("propose", []interface{}{v}, nil)
}

// PeerFailure reports peer p as crashed, per fd.Detector's subscription.
func (h *HierarchicalConsensus) PeerFailure(p int) {
	h.Trigger("peerFailure", []interface{}{p}, nil)
}

func (h *HierarchicalConsensus) handlePropose(args []interface{}, kwargs map[string]interface{}) {
	v := args[0]
	if h.proposal == nil {
		h.proposal = v
	}
	h.roundUpdate()
}

func (h *HierarchicalConsensus) handleReceive(args []interface{}, kwargs map[string]interface{}) {
	source := args[0].(int)
	value := args[1]
	h.receive(source, value)
}

func (h *HierarchicalConsensus) handlePeerFailure(args []interface{}, kwargs map[string]interface{}) {
	p := args[0].(int)
	h.detected[p] = true
	h.roundUpdate()
	h.finished(p)
}

func (h *HierarchicalConsensus) handleFinished(args []interface{}, kwargs map[string]interface{}) {
	source := args[0].(int)
	h.finished(source)
}

func (h *HierarchicalConsensus) receive(source int, value interface{}) {
	if h.detected[source] {
		return
	}
	if source < h.self && source > h.proposer {
		h.proposal = value
		h.proposer = source
	}
	h.delivered[source] = true
	h.roundUpdate()
}

// roundUpdate is §4.6's round_update: advance past detected/delivered
// ranks, reset on exhaustion, or broadcast the decision once it's this
// peer's turn.
func (h *HierarchicalConsensus) roundUpdate() {
	for h.round < h.n && (h.detected[h.round] || h.delivered[h.round]) {
		h.round++
	}
	if h.round == h.n {
		h.resetRound()
		h.broadcastFinished()
		return
	}
	if h.round == h.self && h.proposal != nil && !h.broadcasting {
		h.broadcasting = true
		h.decided = h.proposal
		h.beb.Broadcast(h.receiveID, []interface{}{h.decided}, nil)
	}
}

func (h *HierarchicalConsensus) resetRound() {
	h.round = 0
	h.proposal = nil
	h.proposer = -1
	h.delivered = make(map[int]bool)
	h.broadcasting = false
}

func (h *HierarchicalConsensus) broadcastFinished() {
	h.beb.Broadcast(h.finishedID, nil, nil)
}

// finished marks source as having finished this instance and, once every
// non-detected peer has, fires subscribers with the decided value and
// resets finished_peers for the next pass (§4.6).
func (h *HierarchicalConsensus) finished(source int) {
	h.finishedPeers[source] = true
	for p := 0; p < h.n; p++ {
		if h.detected[p] {
			continue
		}
		if !h.finishedPeers[p] {
			return
		}
	}
	decided := h.decided
	h.finishedPeers = make(map[int]bool)
	h.CallCallbacks(decided)
}

func (h *HierarchicalConsensus) onReceiveWire(source int, args []interface{}, kwargs map[string]interface{}) {
	if len(args) == 0 {
		h.log.Warnf("hco: receive with no value from %d", source)
		return
	}
	h.Trigger("receive", []interface{}{source, args[0]}, nil)
}

func (h *HierarchicalConsensus) onFinishedWire(source int, args []interface{}, kwargs map[string]interface{}) {
	h.Trigger("finished", []interface{}{source}, nil)
}

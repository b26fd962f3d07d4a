// Package broadcast implements Best-Effort Broadcast and Eager Reliable
// Broadcast (spec §4.4, §4.5), layered over a Perfect Link.
package broadcast

import (
	"sync"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/log/telemetry"
	"github.com/ArianTa/flightconsensus/wire"
)

// Transport is the subset of Link's API BEB needs.
type Transport interface {
	Send(dest, callbackID int, args []interface{}, kwargs map[string]interface{}) error
	Register(fn abstraction.Client) int
}

// BestEffort is the Best-Effort Broadcast abstraction: if a correct peer
// broadcasts m, every correct peer eventually delivers m (§4.4). It is
// Registrable over its own upper-layer clients, multiplexed by client id.
type BestEffort struct {
	abstraction.Registrable

	link  Transport
	linkID int
	log   telemetry.Logger

	mu    sync.Mutex
	peers map[int]struct{}
}

// NewBestEffort wires a BestEffort broadcast over link.
func NewBestEffort(link Transport, log telemetry.Logger) *BestEffort {
	b := &BestEffort{link: link, log: log, peers: make(map[int]struct{})}
	b.linkID = link.Register(b.onReceive)
	return b
}

// AddPeers adds destinations for future broadcasts.
func (b *BestEffort) AddPeers(peers ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range peers {
		b.peers[p] = struct{}{}
	}
}

// RemovePeer stops future broadcasts from reaching p, used when the peer
// has been detected as crashed (§4.8's peer_failure handler).
func (b *BestEffort) RemovePeer(p int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, p)
}

func (b *BestEffort) peerList() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, 0, len(b.peers))
	for p := range b.peers {
		out = append(out, p)
	}
	return out
}

// Broadcast sends (clientID, args, kwargs) to every known peer. The
// sender's own id is prepended on the receiving side by the calling
// convention (§4.4), so the wire payload here only carries clientID plus
// the caller's own args.
func (b *BestEffort) Broadcast(clientID int, args []interface{}, kwargs map[string]interface{}) {
	wireArgs := append([]interface{}{clientID}, args...)
	for _, p := range b.peerList() {
		if err := b.link.Send(p, b.linkID, wireArgs, kwargs); err != nil {
			b.log.Debugf("beb: broadcast to %d failed: %v", p, err)
		}
	}
}

func (b *BestEffort) onReceive(source int, args []interface{}, kwargs map[string]interface{}) {
	if len(args) == 0 {
		b.log.Warnf("beb: received message with no client id from %d", source)
		return
	}
	clientID, ok := wire.AsInt(args[0])
	if !ok {
		b.log.Warnf("beb: malformed client id from %d", source)
		return
	}
	b.Dispatch(clientID, source, args[1:], kwargs)
}

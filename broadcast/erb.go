package broadcast

import (
	"sync"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/config"
	"github.com/ArianTa/flightconsensus/log/telemetry"
	"github.com/ArianTa/flightconsensus/wire"
)

// ringKey identifies a broadcast uniquely across the whole run: a
// per-sender monotone timestamp paired with the originating peer (§4.5).
type ringKey struct {
	ts     int
	origin int
}

// EagerReliable is Eager Reliable Broadcast (§4.5): wraps a BestEffort
// broadcast so that if any correct peer delivers m, every correct peer
// eventually delivers m too, by re-broadcasting on first delivery.
type EagerReliable struct {
	abstraction.Registrable

	beb        *BestEffort
	bebClient  int
	process    int
	log        telemetry.Logger

	tsMu sync.Mutex
	ts   int

	ringMu   sync.Mutex
	ringCap  int
	ring     []ringKey
	ringSeen map[ringKey]struct{}
}

// NewEagerReliable wraps beb for conf.ProcessNumber, with a duplicate
// ring buffer sized conf.RingBufferSize (default 20, per §4.5).
func NewEagerReliable(beb *BestEffort, conf *config.Peer, log telemetry.Logger) *EagerReliable {
	cap := conf.RingBufferSize
	if cap <= 0 {
		cap = config.DefaultRingBufferSize
	}
	e := &EagerReliable{
		beb:      beb,
		process:  conf.ProcessNumber,
		log:      log,
		ringCap:  cap,
		ringSeen: make(map[ringKey]struct{}, cap),
	}
	e.bebClient = beb.Register(e.onDeliver)
	return e
}

// Broadcast eagerly broadcasts (clientID, args, kwargs), tagged with a
// fresh (timestamp, origin) pair identifying this broadcast for the
// whole run.
func (e *EagerReliable) Broadcast(clientID int, args []interface{}, kwargs map[string]interface{}) {
	e.tsMu.Lock()
	e.ts++
	ts := e.ts
	e.tsMu.Unlock()

	tagged := []interface{}{ts, e.process, clientID, args, kwargs}
	e.beb.Broadcast(e.bebClient, tagged, nil)
}

func (e *EagerReliable) onDeliver(source int, args []interface{}, kwargs map[string]interface{}) {
	if len(args) != 5 {
		e.log.Warnf("erb: malformed tagged message from %d", source)
		return
	}
	ts, ok1 := wire.AsInt(args[0])
	origin, ok2 := wire.AsInt(args[1])
	clientID, ok3 := wire.AsInt(args[2])
	innerArgs, ok4 := wire.AsSlice(args[3])
	innerKwargs, ok5 := wire.AsKwargs(args[4])
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		e.log.Warnf("erb: malformed tagged message fields from %d", source)
		return
	}

	key := ringKey{ts: ts, origin: origin}
	if !e.markSeen(key) {
		return
	}

	e.Dispatch(clientID, origin, innerArgs, innerKwargs)
	e.beb.Broadcast(e.bebClient, args, nil)
}

// markSeen reports whether key is new, recording it and evicting the
// oldest entry once the ring exceeds its capacity.
func (e *EagerReliable) markSeen(key ringKey) bool {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()

	if _, seen := e.ringSeen[key]; seen {
		return false
	}

	e.ring = append(e.ring, key)
	e.ringSeen[key] = struct{}{}
	if len(e.ring) > e.ringCap {
		oldest := e.ring[0]
		e.ring = e.ring[1:]
		delete(e.ringSeen, oldest)
	}
	return true
}

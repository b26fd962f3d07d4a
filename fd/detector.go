// Package fd implements the Perfect Failure Detector (spec §4.3): a
// periodic heartbeat probe over the link that eventually detects every
// crashed peer and never accuses a correct one.
package fd

import (
	"sync"
	"time"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/config"
	"github.com/ArianTa/flightconsensus/log/telemetry"
)

// Transport is the subset of Link's API the detector needs, isolated so
// tests can stub it without a real socket.
type Transport interface {
	Send(dest, callbackID int, args []interface{}, kwargs map[string]interface{}) error
	Register(fn abstraction.Client) int
}

// Detector is the Perfect Failure Detector. It is Subscribable: every
// subscriber is called exactly once per (observer, suspect) pair in a run.
type Detector struct {
	*abstraction.Subscribable

	trans Transport
	conf  *config.Peer
	log   telemetry.Logger

	reqID, replyID int

	mu       sync.Mutex
	peers    map[int]struct{}
	detected map[int]struct{}
	correct  map[int]struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a detector bound to trans (normally a *link.Link). The
// returned detector still needs AddPeers and Start.
func New(trans Transport, conf *config.Peer, log telemetry.Logger) *Detector {
	d := &Detector{
		Subscribable: abstraction.NewSubscribable(abstraction.New(log)),
		trans:        trans,
		conf:         conf,
		log:          log,
		peers:        make(map[int]struct{}),
		detected:     make(map[int]struct{}),
		correct:      make(map[int]struct{}),
		stop:         make(chan struct{}),
	}
	d.reqID = trans.Register(d.onRequest)
	d.replyID = trans.Register(d.onReply)
	return d
}

// AddPeers adds peers to track. Calling it twice with the same ids is a
// no-op for the already-tracked ones (§8 idempotence). Newly added peers
// are seeded into the correct set so the very first heartbeat round
// doesn't falsely accuse a peer that simply hasn't had a chance to reply
// yet.
func (d *Detector) AddPeers(peers ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range peers {
		d.peers[p] = struct{}{}
		d.correct[p] = struct{}{}
	}
}

// Start launches the event worker and the periodic heartbeat task.
func (d *Detector) Start() {
	d.Subscribable.Start()
	d.wg.Add(1)
	go d.heartbeatLoop()
}

// Stop halts the heartbeat task and the event worker.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
	d.Subscribable.Stop()
}

// Detected reports whether p has been reported crashed.
func (d *Detector) Detected(p int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.detected[p]
	return ok
}

func (d *Detector) heartbeatLoop() {
	defer d.wg.Done()
	period := d.conf.Timeout / 10
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick is one round of §4.3's algorithm: send REQUEST to every live
// tracked peer, then classify anyone who didn't reply since the last
// tick as newly detected, then clear the correct set for the next round.
func (d *Detector) tick() {
	d.mu.Lock()
	live := make([]int, 0, len(d.peers))
	for p := range d.peers {
		if _, dead := d.detected[p]; !dead {
			live = append(live, p)
		}
	}
	d.mu.Unlock()

	for _, p := range live {
		d.trans.Send(p, d.reqID, nil, nil)
	}

	d.mu.Lock()
	newlyDetected := make([]int, 0)
	for p := range d.peers {
		if _, dead := d.detected[p]; dead {
			continue
		}
		if _, ok := d.correct[p]; !ok {
			d.detected[p] = struct{}{}
			newlyDetected = append(newlyDetected, p)
		}
	}
	d.correct = make(map[int]struct{})
	d.mu.Unlock()

	for _, p := range newlyDetected {
		d.log.Debugf("peer %d detected as crashed", p)
		d.CallCallbacks(p)
	}
}

func (d *Detector) onRequest(source int, args []interface{}, kwargs map[string]interface{}) {
	d.trans.Send(source, d.replyID, nil, nil)
}

func (d *Detector) onReply(source int, args []interface{}, kwargs map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.correct[source] = struct{}{}
}

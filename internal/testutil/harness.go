// Package testutil builds small in-process peer clusters for tests,
// mirroring the teacher's UnityCluster: real sockets, sandboxed per test,
// parallel teardown.
package testutil

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ArianTa/flightconsensus/config"
	"github.com/ArianTa/flightconsensus/log/telemetry"
	"github.com/ArianTa/flightconsensus/voting"
)

// Cluster is a set of peers sharing one sandboxed socket directory so
// their fairlosslink{n}.socket files never collide with another test
// binary's.
type Cluster struct {
	T      *testing.T
	Peers  []*voting.Voting
	group  sync.WaitGroup
}

// NewCluster builds n peers numbered 0..n-1, each with a dedicated
// decide/deliver hook, sharing conf options applied to every peer
// (timeouts, ring buffer size, simulated loss). Sockets live under
// t.TempDir(), isolated from any other test.
func NewCluster(t *testing.T, n int, decide func(peer int) voting.DecideFunc, deliver func(peer int) voting.DeliverFunc, opts ...config.Option) *Cluster {
	dir := t.TempDir()
	registry := telemetry.NewRegistry()

	peers := make([]int, n)
	for i := range peers {
		peers[i] = i
	}

	c := &Cluster{T: t}
	for i := 0; i < n; i++ {
		peerOpts := append([]config.Option{config.WithSocketDir(dir)}, opts...)
		conf := config.New(i, peerOpts...)
		log := registry.Get(i, "voting")

		var d voting.DecideFunc
		if decide != nil {
			d = decide(i)
		}
		var dl voting.DeliverFunc
		if deliver != nil {
			dl = deliver(i)
		}

		v, err := voting.New(conf, peers, log, d, dl)
		if err != nil {
			t.Fatalf("peer %d: %v", i, err)
		}
		c.Peers = append(c.Peers, v)
	}
	return c
}

// Start launches every peer.
func (c *Cluster) Start() {
	for _, p := range c.Peers {
		p.Start()
	}
}

// Stop tears every peer down in parallel, mirroring UnityCluster.Off, then
// verifies no goroutines were leaked in the process — the same
// WaitThisOrTimeout-then-goleak.VerifyNone sequence the teacher's own
// fuzzy tests run after shutting a cluster down.
func (c *Cluster) Stop() {
	off := func() {
		for _, p := range c.Peers {
			c.group.Add(1)
			go func(p *voting.Voting) {
				defer c.group.Done()
				p.Stop()
			}(p)
		}
		c.group.Wait()
	}

	if !WaitThisOrTimeout(off, 10*time.Second) {
		c.T.Error("cluster failed to shut down within timeout")
		return
	}
	goleak.VerifyNone(c.T)
}

// AwaitLeader polls every peer for a converged leader within timeout.
func (c *Cluster) AwaitLeader(timeout time.Duration) (int, bool) {
	deadline := time.Now().Add(timeout)
	for {
		leader, ok := c.Peers[0].GetLeader()
		if ok {
			allAgree := true
			for _, p := range c.Peers[1:] {
				l, o := p.GetLeader()
				if !o || l != leader {
					allAgree = false
					break
				}
			}
			if allAgree {
				return leader, true
			}
		}
		if time.Now().After(deadline) {
			return -1, false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// WaitThisOrTimeout runs cb and reports whether it finished within
// duration, matching the teacher's own helper of the same name.
func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

// Package config holds the per-peer configuration threaded through every
// abstraction, replacing the teacher's BaseConfiguration/ClusterConfiguration
// pair with one struct scoped to this spec's single-peer-per-process model.
package config

import "time"

const (
	// DefaultTimeout is §5's TIMEOUT constant: the base unit every
	// abstraction's suspension points are expressed in multiples of.
	DefaultTimeout = time.Second

	// DefaultRingBufferSize is the Eager Reliable Broadcast delivered-set
	// capacity from §3/§9.
	DefaultRingBufferSize = 20

	// DefaultSocketDir is where Perfect Link binds its
	// fairlosslink{n}.socket files per §6.
	DefaultSocketDir = "/tmp"

	// ProtocolVersion is the wire protocol version every peer must agree on.
	ProtocolVersion = "1.0.0"
)

// Peer is the configuration for one peer's entire abstraction stack.
type Peer struct {
	// ProcessNumber is this peer's identity (§3).
	ProcessNumber int

	// Timeout is the base TIMEOUT unit (§5); all derived suspension
	// points (link recv timeout, PFD period, voting waits) scale off it.
	Timeout time.Duration

	// RingBufferSize bounds the ERB delivered-message ring (§3, §9).
	RingBufferSize int

	// SocketDir overrides where link sockets are created, letting tests
	// sandbox their unix sockets instead of colliding on /tmp.
	SocketDir string

	// SimulatedLoss randomly drops outbound link sends with this
	// probability in [0,1]; 1 drops every send. Restored from the original FairLossLink's
	// loss parameter (original_source/basic_abstraction/link.py);
	// zero in production, used for fault-injection tests/demos only.
	SimulatedLoss float64

	// ProtocolVersion is sent with, and compared against the version
	// carried by, every link message (§7).
	ProtocolVersion string
}

// Option mutates a Peer configuration being built.
type Option func(*Peer)

// New builds a Peer configuration for the given process number, applying
// defaults and then any supplied options.
func New(processNumber int, opts ...Option) *Peer {
	p := &Peer{
		ProcessNumber:   processNumber,
		Timeout:         DefaultTimeout,
		RingBufferSize:  DefaultRingBufferSize,
		SocketDir:       DefaultSocketDir,
		ProtocolVersion: ProtocolVersion,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithTimeout overrides the base TIMEOUT unit.
func WithTimeout(d time.Duration) Option {
	return func(p *Peer) { p.Timeout = d }
}

// WithRingBufferSize overrides the ERB delivered-message ring capacity.
func WithRingBufferSize(n int) Option {
	return func(p *Peer) { p.RingBufferSize = n }
}

// WithSocketDir overrides the directory link sockets are created in.
func WithSocketDir(dir string) Option {
	return func(p *Peer) { p.SocketDir = dir }
}

// WithSimulatedLoss sets a send-path loss probability for fault injection.
func WithSimulatedLoss(fraction float64) Option {
	return func(p *Peer) { p.SimulatedLoss = fraction }
}

// WithProtocolVersion overrides the protocol version this peer announces
// and checks incoming messages against. Mainly for tests exercising the
// version-mismatch rejection path.
func WithProtocolVersion(v string) Option {
	return func(p *Peer) { p.ProtocolVersion = v }
}

// Package link implements the Perfect Link abstraction (spec §4.2): a
// point-to-point, non-duplicating, no-creation message channel over
// host-local unix datagram sockets addressed by process_number.
package link

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/ArianTa/flightconsensus/abstraction"
	"github.com/ArianTa/flightconsensus/config"
	"github.com/ArianTa/flightconsensus/consensus"
	"github.com/ArianTa/flightconsensus/log/telemetry"
	"github.com/ArianTa/flightconsensus/wire"
)

var processFromPath = regexp.MustCompile(`fairlosslink(\d+)\.socket$`)

// Link is the Perfect Link for one peer: a unix datagram socket bound to
// /tmp/fairlosslink{process_number}.socket (or conf.SocketDir), a
// dedicated listener goroutine, and a Registrable dispatch table for
// upper-layer clients (§4.2, §6).
type Link struct {
	abstraction.Registrable

	conf *config.Peer
	log  telemetry.Logger

	mu    sync.Mutex
	conn  *net.UnixConn
	alive bool
	wg    sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New binds the link's socket for conf.ProcessNumber. It unlinks a stale
// socket file left behind by a prior crash exactly once, then fails if
// the bind still collides (§7's "socket bind collision" policy).
func New(conf *config.Peer, log telemetry.Logger) (*Link, error) {
	l := &Link{
		conf: conf,
		log:  log,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano() + int64(conf.ProcessNumber))),
	}

	addr := l.addressFor(conf.ProcessNumber)
	if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("link: removing stale socket %s: %w", addr, err)
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: addr, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("link: bind %s: %w", addr, err)
	}
	l.conn = conn
	return l, nil
}

func (l *Link) addressFor(process int) string {
	return filepath.Join(l.conf.SocketDir, fmt.Sprintf("fairlosslink%d.socket", process))
}

// Start launches the listener goroutine.
func (l *Link) Start() {
	l.mu.Lock()
	l.alive = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.listen()
}

// Stop closes the socket, unblocking the listener, and waits for it to exit.
func (l *Link) Stop() {
	l.mu.Lock()
	if !l.alive {
		l.mu.Unlock()
		return
	}
	l.alive = false
	l.mu.Unlock()

	l.conn.Close()
	l.wg.Wait()
}

// Send serializes (callbackID, args, kwargs) and writes it to dest's
// socket. Oversized messages fail loudly to the caller (§7); transport
// write failures are logged and dropped, never retried at this layer
// (§7, §9 open question 1).
func (l *Link) Send(dest, callbackID int, args []interface{}, kwargs map[string]interface{}) error {
	if l.conf.SimulatedLoss > 0 {
		l.rngMu.Lock()
		drop := l.rng.Float64() < l.conf.SimulatedLoss
		l.rngMu.Unlock()
		if drop {
			l.log.Debugf("simulated loss: dropping message to %d", dest)
			return nil
		}
	}

	data, err := wire.Encode(wire.Message{
		CallbackID: callbackID,
		Args:       args,
		Kwargs:     kwargs,
		Version:    l.conf.ProtocolVersion,
	})
	if err != nil {
		return err
	}

	destAddr := &net.UnixAddr{Name: l.addressFor(dest), Net: "unixgram"}
	if _, err := l.conn.WriteToUnix(data, destAddr); err != nil {
		l.log.Debugf("message to %d dropped: %v", dest, err)
		return nil
	}
	return nil
}

func (l *Link) listen() {
	defer l.wg.Done()
	buf := make([]byte, wire.MaxMessageSize)
	for {
		l.conn.SetReadDeadline(time.Now().Add(l.conf.Timeout))
		n, srcAddr, err := l.conn.ReadFromUnix(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if !l.Alive() {
					return
				}
				continue
			}
			// Socket closed by Stop(), or another terminal error.
			return
		}

		source, ok := extractProcess(srcAddr)
		if !ok {
			l.log.Warnf("received malformed source address %v", srcAddr)
			continue
		}

		m, err := wire.Decode(buf[:n])
		if err != nil {
			l.log.Warnf("received malformed message from %d: %v", source, err)
			continue
		}
		if m.Version != "" {
			if err := consensus.CheckProtocolVersion(l.conf.ProtocolVersion, m.Version); err != nil {
				l.log.Warnf("rejecting message from %d: %v", source, err)
				continue
			}
		}
		l.Dispatch(m.CallbackID, source, m.Args, m.Kwargs)
	}
}

// Alive reports whether Stop has not yet been called.
func (l *Link) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive
}

func extractProcess(addr *net.UnixAddr) (int, bool) {
	if addr == nil {
		return 0, false
	}
	m := processFromPath.FindStringSubmatch(addr.Name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

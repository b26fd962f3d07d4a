// Package abstraction implements the runtime every higher-level component
// (link, failure detector, broadcast, consensus, election, voting) is
// built on: one unbounded, strictly serial event queue per instance,
// drained by exactly one worker, per spec §4.1.
package abstraction

import (
	"container/list"
	"sync"

	"github.com/ArianTa/flightconsensus/log/telemetry"
)

// HandlerFunc is the signature every registered handler must have. Events
// carry positional and keyword arguments, per §3's Event triple; Go code
// is statically typed so handlers take the concrete args they expect and
// ignore the keyword map unless they need it.
type HandlerFunc func(args []interface{}, kwargs map[string]interface{})

// event is the (handler_name, positional_args, keyword_args) triple from
// §3, queued for serial dispatch.
type event struct {
	name   string
	args   []interface{}
	kwargs map[string]interface{}
}

// Abstraction is the base runtime: an unbounded FIFO event queue plus one
// worker goroutine draining it serially, and an alive flag. Handlers never
// run concurrently with each other on the same Abstraction (§4.1 contract).
type Abstraction struct {
	Log telemetry.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *list.List
	alive    bool
	stopped  chan struct{}
	handlers map[string]HandlerFunc
}

// New creates a fresh Abstraction; call Start to launch its worker.
func New(log telemetry.Logger) *Abstraction {
	a := &Abstraction{
		Log:      log,
		queue:    list.New(),
		stopped:  make(chan struct{}),
		handlers: make(map[string]HandlerFunc),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Handle registers (or replaces) the handler for an event name. Late
// binding: handlers are looked up by name at dequeue time, not at
// Trigger time, exactly as §4.1 specifies.
func (a *Abstraction) Handle(name string, fn HandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[name] = fn
}

// Start launches the worker goroutine.
func (a *Abstraction) Start() {
	a.mu.Lock()
	a.alive = true
	a.mu.Unlock()
	go a.run()
}

// Stop marks the abstraction dead. Pending queued events are discarded
// silently; the handler currently executing (if any) runs to completion,
// per §5's cancellation contract.
func (a *Abstraction) Stop() {
	a.mu.Lock()
	if !a.alive {
		a.mu.Unlock()
		return
	}
	a.alive = false
	a.queue.Init()
	a.mu.Unlock()
	a.cond.Broadcast()
	close(a.stopped)
}

// Alive reports whether Stop has not yet been called.
func (a *Abstraction) Alive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// Trigger enqueues an event by handler name. Per §4.1's universal
// resolution rule, names are plain strings here since Go has no
// attribute-based "stable name" duck typing; callers pass the handler's
// name directly (usually a package-level const).
func (a *Abstraction) Trigger(name string, args []interface{}, kwargs map[string]interface{}) {
	a.mu.Lock()
	if !a.alive {
		a.mu.Unlock()
		return
	}
	a.queue.PushBack(event{name: name, args: args, kwargs: kwargs})
	a.mu.Unlock()
	a.cond.Signal()
}

func (a *Abstraction) run() {
	for {
		a.mu.Lock()
		for a.queue.Len() == 0 && a.alive {
			a.cond.Wait()
		}
		if !a.alive {
			a.mu.Unlock()
			return
		}
		front := a.queue.Front()
		a.queue.Remove(front)
		handlers := a.handlers
		a.mu.Unlock()

		ev := front.Value.(event)
		fn, ok := handlers[ev.name]
		if !ok {
			a.Log.Errorf("unknown handler %q", ev.name)
			continue
		}
		fn(ev.args, ev.kwargs)
	}
}

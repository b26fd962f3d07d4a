package abstraction

import "sync"

// Client is invoked when a Registrable dispatches an inbound message to
// callback_id. source is the sender's peer id (prepended by the
// broadcast/link calling convention before upper layers see it, per §4.4).
type Client func(source int, args []interface{}, kwargs map[string]interface{})

// Registrable owns the ordered sequence of callback_id -> Client entries
// described in §3's "Callback registration" and §4.1's Registrable
// specialization. Go's static typing replaces Python's
// generate_caller/generate_abstraction_caller hook: concrete components
// (Link, BEB, ERB) expose their own typed Send/Broadcast methods, and
// Register returns a plain integer callback_id rather than a caller
// closure. Those components own no event queue: Send/Broadcast do the
// I/O directly on the calling goroutine. Serial per-client order on the
// receiving side comes only from RegisterAbstraction, which forwards into
// the target's own queue.
type Registrable struct {
	mu      sync.Mutex
	clients []Client
}

// Register appends a direct callable client and returns its callback_id.
// The same id must be assigned in the same order at every peer (§3's
// wiring-order invariant) — callers are responsible for registering in
// an agreed-upon order across peers.
func (r *Registrable) Register(fn Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = append(r.clients, fn)
	return len(r.clients) - 1
}

// RegisterAbstraction appends a client that forwards through target's own
// event queue, preserving target's per-instance serial order.
func (r *Registrable) RegisterAbstraction(target *Abstraction, handlerName string) int {
	return r.Register(func(source int, args []interface{}, kwargs map[string]interface{}) {
		full := append([]interface{}{source}, args...)
		target.Trigger(handlerName, full, kwargs)
	})
}

// Dispatch forwards an inbound message to the client registered under id.
// Unknown ids are ignored; a peer may legitimately receive a message for
// an id it hasn't registered yet during startup races.
func (r *Registrable) Dispatch(id int, source int, args []interface{}, kwargs map[string]interface{}) {
	r.mu.Lock()
	var fn Client
	if id >= 0 && id < len(r.clients) {
		fn = r.clients[id]
	}
	r.mu.Unlock()
	if fn != nil {
		fn(source, args, kwargs)
	}
}

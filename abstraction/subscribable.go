package abstraction

import "sync"

// Callback is a plain subscriber function, invoked with whatever
// positional arguments the Subscribable's event carries.
type Callback func(args ...interface{})

// Subscribable is an Abstraction that keeps an ordered set of callbacks
// and notifies all of them on CallCallbacks, per §4.1. Order of
// iteration over callbacks is not an observable guarantee.
type Subscribable struct {
	*Abstraction

	cbMu      sync.Mutex
	callbacks []Callback
}

// NewSubscribable wraps a fresh Abstraction with subscription support.
func NewSubscribable(base *Abstraction) *Subscribable {
	return &Subscribable{Abstraction: base}
}

// Subscribe appends a direct callable, invoked synchronously by
// CallCallbacks.
func (s *Subscribable) Subscribe(fn Callback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// SubscribeAbstraction appends a shim that, when invoked, enqueues the
// named event on other's own queue — preserving other's serial per-
// instance ordering instead of running inline on the subscriber's thread.
func (s *Subscribable) SubscribeAbstraction(other *Abstraction, handlerName string) {
	s.Subscribe(func(args ...interface{}) {
		other.Trigger(handlerName, args, nil)
	})
}

// CallCallbacks fires every registered callback with the same arguments.
func (s *Subscribable) CallCallbacks(args ...interface{}) {
	s.cbMu.Lock()
	callbacks := make([]Callback, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.Unlock()

	for _, cb := range callbacks {
		cb(args...)
	}
}

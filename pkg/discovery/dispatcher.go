package discovery

import (
	"sync"
	"sync/atomic"
)

// notification is one pending Observer call, tagged with the run that
// produced it.
type notification struct {
	generation uint64
	deliver    func(Observer)
}

// dispatcher serializes Observer calls onto one goroutine. Notifications from
// a run that is no longer active are dropped right before delivery.
type dispatcher struct {
	observer Observer
	active   *atomic.Uint64
	queue    *mailbox[notification]
	done     chan struct{}

	delivering sync.Mutex // held across the generation check and the Observer call
}

func newDispatcher(observer Observer, active *atomic.Uint64) *dispatcher {
	d := &dispatcher{
		observer: observer,
		active:   active,
		queue:    newMailbox[notification](),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		n, ok := d.queue.next()
		if !ok {
			return
		}
		d.delivering.Lock()
		if n.generation == d.active.Load() {
			n.deliver(d.observer)
		}
		d.delivering.Unlock()
	}
}

// wait returns once no Observer call that passed the generation check is
// still running. Calling it from an Observer callback deadlocks.
func (d *dispatcher) wait() {
	d.delivering.Lock()
	d.delivering.Unlock() //nolint:staticcheck // empty critical section
}

func (d *dispatcher) discover(generation uint64, service DiscoveredService) {
	d.queue.push(notification{generation, func(o Observer) { o.OnDiscover(service) }})
}

func (d *dispatcher) fail(generation uint64, configuration Configuration, kind ErrorKind) {
	d.queue.push(notification{generation, func(o Observer) { o.OnFail(configuration, kind) }})
}

func (d *dispatcher) disappear(generation uint64, service DiscoveredService) {
	d.queue.push(notification{generation, func(o Observer) { o.OnDisappear(service) }})
}

// close stops accepting notifications. It does not wait for an in-progress
// Observer call, so it is safe to reach from inside one.
func (d *dispatcher) close() {
	d.queue.close()
}

package discoverytest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// Recorder is an Observer that keeps every notification as a
// discovery.Event. It also flags overlapping calls, which a Session must
// never make.
type Recorder struct {
	mu         sync.Mutex
	events     []discovery.Event
	calls      atomic.Int32
	overlapped atomic.Bool
	changed    chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{}, 1)}
}

func (r *Recorder) OnDiscover(service discovery.DiscoveredService) {
	r.add(discovery.DiscoveredEvent{Service: service})
}

func (r *Recorder) OnFail(configuration discovery.Configuration, kind discovery.ErrorKind) {
	r.add(discovery.FailedEvent{Configuration: configuration, Kind: kind})
}

func (r *Recorder) OnDisappear(service discovery.DiscoveredService) {
	r.add(discovery.DisappearedEvent{Service: service})
}

func (r *Recorder) add(ev discovery.Event) {
	if r.calls.Add(1) > 1 {
		r.overlapped.Store(true)
	}
	defer r.calls.Add(-1)

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []discovery.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]discovery.Event(nil), r.events...)
}

// Overlapped reports whether two Observer calls ever ran at the same time.
func (r *Recorder) Overlapped() bool {
	return r.overlapped.Load()
}

// WaitFor blocks until at least n events were recorded or timeout elapses,
// and returns the events seen.
func (r *Recorder) WaitFor(n int, timeout time.Duration) []discovery.Event {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		events := r.Events()
		if len(events) >= n {
			return events
		}
		select {
		case <-r.changed:
		case <-deadline.C:
			return r.Events()
		}
	}
}

var _ discovery.Observer = (*Recorder)(nil)

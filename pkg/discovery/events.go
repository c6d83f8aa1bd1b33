package discovery

// DiscoveredService pairs a service snapshot with the Configuration that
// found it. A new value is built for every notification.
type DiscoveredService struct {
	Configuration Configuration
	Service       ServiceInfo
}

// Observer receives the outcome of a Session. All calls for one Session are
// made from a single goroutine, one at a time, in the order the Session
// produced them.
type Observer interface {
	// OnDiscover is called when a matching instance has been resolved.
	OnDiscover(service DiscoveredService)
	// OnFail is called when browsing or resolving failed for a configuration.
	OnFail(configuration Configuration, kind ErrorKind)
	// OnDisappear is called when a tracked instance went away.
	OnDisappear(service DiscoveredService)
}

// Handlers adapts plain functions to Observer. Nil fields are skipped.
type Handlers struct {
	OnDiscover  func(DiscoveredService)
	OnFail      func(Configuration, ErrorKind)
	OnDisappear func(DiscoveredService)
}

type handlerObserver struct {
	h Handlers
}

func (o handlerObserver) OnDiscover(service DiscoveredService) {
	if o.h.OnDiscover != nil {
		o.h.OnDiscover(service)
	}
}

func (o handlerObserver) OnFail(configuration Configuration, kind ErrorKind) {
	if o.h.OnFail != nil {
		o.h.OnFail(configuration, kind)
	}
}

func (o handlerObserver) OnDisappear(service DiscoveredService) {
	if o.h.OnDisappear != nil {
		o.h.OnDisappear(service)
	}
}

// Event is a marker interface for the values a ChannelObserver emits.
// Only types from this package satisfy it.
type Event interface {
	isDiscoveryEvent()
}

type event struct{}

func (event) isDiscoveryEvent() {}

// DiscoveredEvent mirrors Observer.OnDiscover.
type DiscoveredEvent struct {
	event
	Service DiscoveredService
}

// FailedEvent mirrors Observer.OnFail.
type FailedEvent struct {
	event
	Configuration Configuration
	Kind          ErrorKind
}

// DisappearedEvent mirrors Observer.OnDisappear.
type DisappearedEvent struct {
	event
	Service DiscoveredService
}

var (
	_ Event = DiscoveredEvent{}
	_ Event = FailedEvent{}
	_ Event = DisappearedEvent{}
)

// ChannelObserver forwards every notification to a channel. Sends block, so
// a reader that stops consuming stalls delivery for its Session only.
type ChannelObserver chan<- Event

func (c ChannelObserver) OnDiscover(service DiscoveredService) {
	c <- DiscoveredEvent{Service: service}
}

func (c ChannelObserver) OnFail(configuration Configuration, kind ErrorKind) {
	c <- FailedEvent{Configuration: configuration, Kind: kind}
}

func (c ChannelObserver) OnDisappear(service DiscoveredService) {
	c <- DisappearedEvent{Service: service}
}

package discovery

import "time"

// Provider is the DNS-SD implementation a Session drives. It owns the
// network side of browsing and resolving; the Session only correlates its
// callbacks.
//
// Listener methods may be called from any goroutine, including from inside
// Browse or Resolve. They never block.
type Provider interface {
	// Browse starts browsing for serviceType in domain ("" selects the
	// provider's default domain). A non-nil error is reported to the caller
	// as a browsing failure.
	Browse(serviceType, domain string, l BrowseListener) (BrowseHandle, error)
}

// BrowseHandle is an active browse operation.
type BrowseHandle interface {
	// Stop cancels the browse. It must not wait for the network to quiesce.
	Stop()
}

// Advertisement is a service instance reported by a browse. Two
// advertisements are the same instance only if they are the same handle;
// providers must hand out a comparable value (usually a pointer) and reuse
// it for every callback about that instance.
type Advertisement interface {
	Name() string
	Type() string
	Domain() string

	// Endpoint returns the current snapshot of the instance. It is safe to
	// call concurrently with the provider's own goroutines.
	Endpoint() ServiceInfo

	// Resolve starts resolving the instance. The provider enforces timeout
	// and reports the outcome through l.
	Resolve(timeout time.Duration, l ResolveListener)

	// Stop cancels an in-flight resolve, if any.
	Stop()
}

// BrowseListener receives browse callbacks. moreComing is a batching hint
// only.
type BrowseListener interface {
	Found(ad Advertisement, moreComing bool)
	Removed(ad Advertisement, moreComing bool)
	BrowseFailed(err error)
}

// ResolveListener receives resolve callbacks.
type ResolveListener interface {
	Resolved(ad Advertisement)
	ResolveFailed(ad Advertisement, err error)
}

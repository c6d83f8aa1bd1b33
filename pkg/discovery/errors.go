package discovery

import "errors"

var (
	// ErrNoConfigurations is returned when a Session is built without any
	// Configuration.
	ErrNoConfigurations = errors.New("discovery: at least one configuration is required")

	// ErrNoProvider is returned when a Session is built without a Provider.
	ErrNoProvider = errors.New("discovery: a provider is required")

	// ErrSessionClosed is returned by Run on a Session that was already closed.
	ErrSessionClosed = errors.New("discovery: session closed")
)

// ErrorKind classifies the failures reported through Observer.OnFail.
type ErrorKind int

const (
	// Unknown is never produced; it exists so that the zero value is not a
	// real failure.
	Unknown ErrorKind = iota
	// BrowsingFailure means the provider could not start or continue
	// browsing for a configuration.
	BrowsingFailure
	// ResolvingTimeout is reserved. Providers only report a generic resolve
	// failure, so a resolve that times out surfaces as ResolvingFailure.
	ResolvingTimeout
	// ResolvingFailure means one advertisement could not be resolved.
	ResolvingFailure
)

func (k ErrorKind) String() string {
	switch k {
	case BrowsingFailure:
		return "browsing failure"
	case ResolvingTimeout:
		return "resolving timeout"
	case ResolvingFailure:
		return "resolving failure"
	default:
		return "unknown"
	}
}

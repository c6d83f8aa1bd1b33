package discovery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultResolveTimeout bounds every resolve a Session starts.
const DefaultResolveTimeout = 10 * time.Second

// Option customizes a Session.
type Option func(*Session)

// WithResolveTimeout sets the timeout handed to Advertisement.Resolve.
// Non-positive values are ignored.
func WithResolveTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.resolveTimeout = d
		}
	}
}

// WithDomain sets the browse domain. The empty string, the default, lets the
// provider pick (local. for multicast DNS).
func WithDomain(domain string) Option {
	return func(s *Session) {
		s.domain = domain
	}
}

// WithLogger sets the logger used for session diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session discovers, for each of its configurations, the matching service
// instances a Provider reports, resolves them and tells an Observer.
//
// A Session is idle until Start and idle again after Stop. All bookkeeping
// happens on one control-loop goroutine; provider callbacks are queued to it
// and Observer calls are queued to a separate dispatcher goroutine. Close
// must be called to release both goroutines and any provider state; Run does
// that automatically.
type Session struct {
	configurations []Configuration
	provider       Provider
	resolveTimeout time.Duration
	domain         string
	logger         *slog.Logger

	inbox    *mailbox[loopMessage]
	sink     *dispatcher
	active   atomic.Uint64 // generation whose events may reach the observer, 0 when idle
	loopDone chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	// Owned by the control loop.
	generation uint64
	items      []*sessionItem
	ads        *arena
}

// New creates an idle Session that reports to observer. A nil observer
// discards every notification.
func New(configurations []Configuration, observer Observer, provider Provider, opts ...Option) (*Session, error) {
	if len(configurations) == 0 {
		return nil, ErrNoConfigurations
	}
	if provider == nil {
		return nil, ErrNoProvider
	}
	if observer == nil {
		observer = handlerObserver{}
	}

	s := &Session{
		configurations: append([]Configuration(nil), configurations...),
		provider:       provider,
		resolveTimeout: DefaultResolveTimeout,
		logger:         slog.Default(),
		inbox:          newMailbox[loopMessage](),
		loopDone:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", uuid.New().String()[:8])
	s.sink = newDispatcher(observer, &s.active)

	go s.loop()
	return s, nil
}

// NewWithHandlers is New for callers that prefer plain functions over an
// Observer implementation.
func NewWithHandlers(configurations []Configuration, handlers Handlers, provider Provider, opts ...Option) (*Session, error) {
	return New(configurations, handlerObserver{handlers}, provider, opts...)
}

// Configurations returns a copy of the configurations the Session searches for.
func (s *Session) Configurations() []Configuration {
	return append([]Configuration(nil), s.configurations...)
}

// Start begins browsing for every configuration. A running Session is fully
// stopped first, so no handle of the previous run survives into the new one.
func (s *Session) Start() {
	s.do(func() {
		s.teardown()
		s.startItems()
	})
}

// Stop cancels every browse and resolve of the current run. Once Stop
// returns, no notification of that run starts an Observer call. A call that
// was already running keeps running; use StopAndWait to wait for it.
// Stopping an idle Session does nothing. Stop may be called from an Observer
// callback.
func (s *Session) Stop() {
	s.do(s.teardown)
}

// StopAndWait is Stop followed by waiting for an Observer call that is
// already in progress to return. Afterwards the Observer hears nothing more
// from the stopped run. It must not be called from an Observer callback.
func (s *Session) StopAndWait() {
	s.Stop()
	s.sink.wait()
}

// Running reports whether the Session has an active run.
func (s *Session) Running() bool {
	return s.active.Load() != 0
}

// Close stops the Session and releases its goroutines. It is safe to call
// more than once and from inside an Observer callback. Start and Stop do
// nothing after Close.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Stop()
		s.closed.Store(true)
		s.inbox.close()
		<-s.loopDone
		s.sink.close()
	})
	return nil
}

// Run starts the Session and keeps it running until ctx is done, then closes
// it.
func (s *Session) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.Start()
	<-ctx.Done()
	return s.Close()
}

// do runs fn on the control loop and waits for it. It returns false when
// the Session is closed.
func (s *Session) do(fn func()) bool {
	done := make(chan struct{})
	if !s.inbox.push(command{fn: fn, done: done}) {
		return false
	}
	<-done
	return true
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		msg, ok := s.inbox.next()
		if !ok {
			return
		}
		switch m := msg.(type) {
		case command:
			m.fn()
			close(m.done)
		case providerEvent:
			s.handle(m)
		}
	}
}

func (s *Session) startItems() {
	s.generation++
	gen := s.generation
	s.items = make([]*sessionItem, 0, len(s.configurations))
	s.ads = newArena()
	s.active.Store(gen)

	s.logger.Info("Starting discovery", "configurations", len(s.configurations))
	for i, cfg := range s.configurations {
		l := &browseListener{index: i}
		l.session, l.generation = s, gen
		item := newSessionItem(cfg, l)
		s.items = append(s.items, item)

		handle, err := s.provider.Browse(cfg.ServiceType, s.domain, l)
		if err != nil {
			s.logger.Error("Failed to start browsing", "type", cfg.ServiceType, "error", err)
			s.sink.fail(gen, cfg, BrowsingFailure)
			continue
		}
		item.browse = handle
	}
}

// teardown detaches every listener of the current run before cancelling the
// operation it belongs to, then forgets the run.
func (s *Session) teardown() {
	if s.items == nil {
		return
	}
	s.active.Store(0)

	for _, item := range s.items {
		item.listener.detach()
		for id := range item.ads {
			if e := s.ads.entry(id); e != nil {
				e.listener.detach()
			}
		}
	}
	for _, item := range s.items {
		if item.browse != nil {
			item.browse.Stop()
		}
		for id := range item.ads {
			s.ads.release(id)
		}
	}

	s.logger.Info("Stopped discovery", "generation", s.generation)
	s.items = nil
	s.ads = nil
}

func (s *Session) handle(ev providerEvent) {
	if s.items == nil || ev.run() != s.generation {
		return
	}

	switch e := ev.(type) {
	case foundEvent:
		s.handleFound(e)
	case browseFailedEvent:
		item := s.items[e.index]
		s.logger.Warn("Browsing failed", "type", item.configuration.ServiceType, "error", e.err)
		s.sink.fail(s.generation, item.configuration, BrowsingFailure)
	case removedEvent:
		s.handleRemoved(e)
	case resolvedEvent:
		item, _, ok := s.owner(e.ad)
		if !ok {
			return
		}
		service := DiscoveredService{Configuration: item.configuration, Service: e.ad.Endpoint()}
		s.logger.Debug("Resolved service", "name", e.ad.Name(), "type", e.ad.Type())
		s.sink.discover(s.generation, service)
	case resolveFailedEvent:
		item, _, ok := s.owner(e.ad)
		if !ok {
			return
		}
		s.logger.Warn("Resolving failed", "name", e.ad.Name(), "type", e.ad.Type(), "error", e.err)
		s.sink.fail(s.generation, item.configuration, ResolvingFailure)
	}
}

func (s *Session) handleFound(e foundEvent) {
	item := s.items[e.index]
	if !Matches(item.configuration, e.ad.Name()) {
		s.logger.Debug("Ignoring service", "name", e.ad.Name(), "prefix", item.configuration.ServiceNamePrefix)
		return
	}

	gen := s.generation
	id := s.ads.wrap(e.ad, func() *resolveListener {
		l := &resolveListener{}
		l.session, l.generation = s, gen
		return l
	})
	item.track(id)
	s.logger.Debug("Found service", "name", e.ad.Name(), "type", e.ad.Type(), "more_coming", e.moreComing)
	e.ad.Resolve(s.resolveTimeout, s.ads.entry(id).listener)
}

func (s *Session) handleRemoved(e removedEvent) {
	item, id, ok := s.owner(e.ad)
	if !ok {
		return
	}
	item.untrack(id)
	service := DiscoveredService{Configuration: item.configuration, Service: e.ad.Endpoint()}
	if !s.tracked(id) {
		s.ads.release(id)
	}
	s.logger.Debug("Service disappeared", "name", e.ad.Name(), "type", e.ad.Type(), "more_coming", e.moreComing)
	s.sink.disappear(s.generation, service)
}

// owner finds the item tracking ad. Items are scanned in configuration order
// and the first one that tracks the handle wins.
func (s *Session) owner(ad Advertisement) (*sessionItem, adID, bool) {
	id, ok := s.ads.lookup(ad)
	if !ok {
		return nil, 0, false
	}
	for _, item := range s.items {
		if item.contains(id) {
			return item, id, true
		}
	}
	return nil, 0, false
}

func (s *Session) tracked(id adID) bool {
	for _, item := range s.items {
		if item.contains(id) {
			return true
		}
	}
	return false
}

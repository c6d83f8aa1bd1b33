package finder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/lanServiceFinder/internal/app"
	appevents "github.com/rescp17/lanServiceFinder/internal/app_events"
	"github.com/rescp17/lanServiceFinder/internal/app_events/finder"
	"github.com/rescp17/lanServiceFinder/internal/config"
	"github.com/rescp17/lanServiceFinder/pkg/backend"
	"github.com/rescp17/lanServiceFinder/pkg/concurrency"
	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// App is the main application logic controller for the finder.
type App struct {
	backend    backend.Backend
	session    *discovery.Session
	state      *app.StateManager
	guard      *concurrency.ConcurrencyGuard // one announcement at a time
	uiMessages chan tea.Msg                  // App -> TUI
	appEvents  chan appevents.AppEvent       // TUI -> App
	done       chan struct{}
	doneOnce   sync.Once
}

// NewApp creates a new finder application instance searching for what cfg
// describes through b.
func NewApp(cfg *config.Config, b backend.Backend) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		backend:    b,
		state:      app.NewStateManager(),
		guard:      concurrency.NewConcurrencyGuard(),
		uiMessages: make(chan tea.Msg, 10),
		appEvents:  make(chan appevents.AppEvent),
		done:       make(chan struct{}),
	}

	opts := append(cfg.SessionOptions(), discovery.WithLogger(slog.Default().With("component", "finder")))
	session, err := discovery.NewWithHandlers(cfg.Searches, discovery.Handlers{
		OnDiscover:  a.onDiscover,
		OnFail:      a.onFail,
		OnDisappear: a.onDisappear,
	}, b, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery session: %w", err)
	}
	a.session = session
	return a, nil
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// Services returns the current service table.
func (a *App) Services() []app.Entry {
	return a.state.Snapshot()
}

// Running reports whether discovery is active.
func (a *App) Running() bool {
	return a.session.Running()
}

// Run starts discovery and the application's main event loop. It returns
// once ctx is done, after the session has been closed.
func (a *App) Run(ctx context.Context) error {
	defer a.session.Close()

	g, ctx := errgroup.WithContext(ctx)
	context.AfterFunc(ctx, a.closeDone)

	a.startDiscovery()

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case event := <-a.appEvents:
				switch e := event.(type) {
				case finder.RestartDiscoveryEvent:
					a.startDiscovery()
				case finder.StopDiscoveryEvent:
					a.stopDiscovery()
				case finder.AnnounceEvent:
					a.startAnnounce(ctx, g, e.Service)
				}
			}
		}
	})
	return g.Wait()
}

func (a *App) closeDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *App) startDiscovery() {
	// the previous run must be silent before Clear, or it could refill the table
	a.session.StopAndWait()
	a.state.Clear()
	a.session.Start()
	slog.Info("Discovery started")
	a.send(finder.DiscoveryStateMsg{Running: true})
	a.send(finder.ServicesUpdatedMsg{})
}

func (a *App) stopDiscovery() {
	a.session.StopAndWait()
	a.state.Clear()
	slog.Info("Discovery stopped")
	a.send(finder.DiscoveryStateMsg{Running: false})
	a.send(finder.ServicesUpdatedMsg{})
}

// startAnnounce publishes service until ctx is done. Only one announcement
// runs at a time.
func (a *App) startAnnounce(ctx context.Context, g *errgroup.Group, service discovery.ServiceInfo) {
	g.Go(func() error {
		err := a.guard.ExecuteWithContext(ctx, func(ctx context.Context) error {
			a.send(finder.AnnouncingMsg{Service: service})
			return a.backend.Announce(ctx, service)
		})
		switch {
		case errors.Is(err, concurrency.ErrBusy):
			a.sendAndLogError("An announcement is already running", err)
		case err != nil && !errors.Is(err, context.Canceled):
			a.sendAndLogError("Announcement failed", err)
		}
		return nil
	})
}

func (a *App) onDiscover(service discovery.DiscoveredService) {
	if _, isNew := a.state.Upsert(service); isNew {
		slog.Info("Service discovered",
			"name", service.Service.Name,
			"type", service.Service.Type,
			"addr", service.Service.Addr(),
			"port", service.Service.Port)
	}
	a.send(finder.ServicesUpdatedMsg{Services: a.state.Snapshot()})
}

func (a *App) onDisappear(service discovery.DiscoveredService) {
	if !a.state.Remove(service) {
		return
	}
	slog.Info("Service disappeared", "name", service.Service.Name, "type", service.Service.Type)
	a.send(finder.ServicesUpdatedMsg{Services: a.state.Snapshot()})
}

func (a *App) onFail(configuration discovery.Configuration, kind discovery.ErrorKind) {
	slog.Warn("Search failed", "search", configuration.String(), "kind", kind.String())
	a.send(finder.SearchFailedMsg{Configuration: configuration, Kind: kind})
}

// send delivers msg to the UI unless the App is shutting down.
func (a *App) send(msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	case <-a.done:
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(baseMessage string, err error) {
	slog.Error(baseMessage, "error", err)
	a.send(appevents.Error{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}

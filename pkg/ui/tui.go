package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/lanServiceFinder/internal/app_events"
	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// AppController is the part of the app the TUI talks to.
type AppController interface {
	UIMessages() <-chan tea.Msg
	AppEvents() chan<- appevents.AppEvent
}

type model struct {
	appController AppController
	watch         watchModel
}

// InitialModel returns the watch TUI for appController. fixture is what the
// announce key publishes.
func InitialModel(appController AppController, searches []discovery.Configuration, fixture discovery.ServiceInfo) tea.Model {
	return model{
		appController: appController,
		watch:         initWatchModel(searches, fixture),
	}
}

func (m model) Init() tea.Cmd {
	return m.initWatch()
}

func (m model) View() string {
	s := m.watchView()
	s += "\nPress ctrl + c to quit"
	return s
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m.updateWatch(msg)
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m *model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		return <-m.appController.UIMessages()
	}
}

// sendAppEvent hands event to the app controller off the update loop.
func (m *model) sendAppEvent(event appevents.AppEvent) tea.Cmd {
	events := m.appController.AppEvents()
	return func() tea.Msg {
		events <- event
		return nil
	}
}

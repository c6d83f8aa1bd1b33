package ui

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rescp17/lanServiceFinder/internal/app"
	appevents "github.com/rescp17/lanServiceFinder/internal/app_events"
	finderEvent "github.com/rescp17/lanServiceFinder/internal/app_events/finder"
	"github.com/rescp17/lanServiceFinder/internal/style"
	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// maxFailures is how many search failures the status area keeps.
const maxFailures = 3

type KeyMap struct {
	Restart  key.Binding
	Stop     key.Binding
	Announce key.Binding
	Quit     key.Binding
}

// DefaultKeyMap provides sensible default keybindings.
var DefaultKeyMap = KeyMap{
	Restart:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart")),
	Stop:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
	Announce: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "announce fixture")),
	Quit:     key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
}

type watchModel struct {
	spinner    spinner.Model
	table      table.Model
	searches   []discovery.Configuration
	fixture    discovery.ServiceInfo
	running    bool
	services   []app.Entry
	failures   []string
	announcing string
	lastError  error
}

var columns = []table.Column{
	{Title: "Name", Width: 28},
	{Title: "Type", Width: 16},
	{Title: "Address", Width: 24},
	{Title: "Port", Width: 6},
	{Title: "Search", Width: 20},
}

func initWatchModel(searches []discovery.Configuration, fixture discovery.ServiceInfo) watchModel {
	t := table.New(
		table.WithColumns(columns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(0),
	)
	t.SetStyles(style.NewTableStyles())

	return watchModel{
		spinner:  style.NewSpinner(),
		table:    t,
		searches: searches,
		fixture:  fixture,
		running:  true,
	}
}

func (m *model) initWatch() tea.Cmd {
	return tea.Batch(m.watch.spinner.Tick, m.listenForAppMessages())
}

// serviceRows renders entries as table rows.
func serviceRows(entries []app.Entry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		svc := e.Service.Service
		addr := "-"
		if ip := svc.Addr(); ip != nil {
			addr = ip.String()
		}
		search := e.Service.Configuration.ServiceNamePrefix
		if search == "" {
			search = "*"
		}
		rows = append(rows, table.Row{svc.Name, svc.Type, addr, strconv.Itoa(svc.Port), search})
	}
	return rows
}

func (m *model) updateServiceTable(entries []app.Entry) {
	m.watch.services = entries
	rows := serviceRows(entries)
	m.watch.table.SetRows(rows)
	m.watch.table.SetHeight(len(rows) + 1)
}

func (m *model) updateWatch(msg tea.Msg) (tea.Model, tea.Cmd) {
	if cmd, processed := m.handleWatchAppEvent(msg); processed {
		return m, cmd
	}

	var cmds []tea.Cmd
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(keyMsg, DefaultKeyMap.Quit):
			return m, tea.Quit
		case key.Matches(keyMsg, DefaultKeyMap.Restart):
			m.watch.failures = nil
			m.watch.lastError = nil
			cmds = append(cmds, m.sendAppEvent(finderEvent.RestartDiscoveryEvent{}))
		case key.Matches(keyMsg, DefaultKeyMap.Stop):
			cmds = append(cmds, m.sendAppEvent(finderEvent.StopDiscoveryEvent{}))
		case key.Matches(keyMsg, DefaultKeyMap.Announce):
			cmds = append(cmds, m.sendAppEvent(finderEvent.AnnounceEvent{Service: m.watch.fixture}))
		default:
			var cmd tea.Cmd
			m.watch.table, cmd = m.watch.table.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var spinCmd tea.Cmd
	m.watch.spinner, spinCmd = m.watch.spinner.Update(msg)
	cmds = append(cmds, spinCmd)

	return m, tea.Batch(cmds...)
}

func (m *model) handleWatchAppEvent(msg tea.Msg) (tea.Cmd, bool) {
	switch msg := msg.(type) {
	case finderEvent.ServicesUpdatedMsg:
		slog.Debug("Discovery update", "service_count", len(msg.Services))
		m.updateServiceTable(msg.Services)
		return m.listenForAppMessages(), true // Continue listening
	case finderEvent.DiscoveryStateMsg:
		m.watch.running = msg.Running
		return m.listenForAppMessages(), true
	case finderEvent.SearchFailedMsg:
		failure := fmt.Sprintf("%s: %s", msg.Configuration, msg.Kind)
		m.watch.failures = append(m.watch.failures, failure)
		if len(m.watch.failures) > maxFailures {
			m.watch.failures = m.watch.failures[len(m.watch.failures)-maxFailures:]
		}
		return m.listenForAppMessages(), true
	case finderEvent.AnnouncingMsg:
		m.watch.announcing = msg.Service.Name
		return m.listenForAppMessages(), true
	case appevents.Error:
		m.watch.lastError = msg.Err
		return m.listenForAppMessages(), true
	}
	return nil, false
}

func (m *model) watchView() string {
	var b strings.Builder

	state := style.RunningStyle.Render("running")
	if !m.watch.running {
		state = style.StoppedStyle.Render("stopped")
	}
	fmt.Fprintf(&b, "\n%s %s\n", style.TitleStyle.Render("lanServiceFinder"), state)
	for _, s := range m.watch.searches {
		fmt.Fprintf(&b, "  searching %s\n", style.HighlightFontStyle.Render(s.String()))
	}

	switch {
	case !m.watch.running:
		b.WriteString("\nDiscovery stopped. Press r to restart.\n")
	case len(m.watch.services) == 0:
		fmt.Fprintf(&b, "\n%s Looking for services...\n", m.watch.spinner.View())
	default:
		fmt.Fprintf(&b, "\n✔  Found %d service(s)\n", len(m.watch.services))
		b.WriteString(style.BaseStyle.Render(m.watch.table.View()) + "\n")
	}

	if m.watch.announcing != "" {
		fmt.Fprintf(&b, "Announcing %s\n", style.HighlightFontStyle.Render(m.watch.announcing))
	}
	for _, f := range m.watch.failures {
		b.WriteString(style.ErrorStyle.Render("search failed: "+f) + "\n")
	}
	if m.watch.lastError != nil {
		b.WriteString(style.ErrorStyle.Render(m.watch.lastError.Error()) + "\n")
	}

	help := fmt.Sprintf("  %s %s  %s %s  %s %s",
		DefaultKeyMap.Restart.Help().Key, DefaultKeyMap.Restart.Help().Desc,
		DefaultKeyMap.Stop.Help().Key, DefaultKeyMap.Stop.Help().Desc,
		DefaultKeyMap.Announce.Help().Key, DefaultKeyMap.Announce.Help().Desc,
	)
	b.WriteString(style.HelpStyle.Render(help))
	return b.String()
}

package finder

import (
	"github.com/rescp17/lanServiceFinder/internal/app"
	appevents "github.com/rescp17/lanServiceFinder/internal/app_events"
	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// --- App Events (from TUI to App) ---

// RestartDiscoveryEvent restarts the discovery session from scratch.
type RestartDiscoveryEvent struct {
	appevents.Event
}

// StopDiscoveryEvent stops the discovery session and clears the table.
type StopDiscoveryEvent struct {
	appevents.Event
}

// AnnounceEvent publishes Service on the network until the App stops.
type AnnounceEvent struct {
	appevents.Event
	Service discovery.ServiceInfo
}

var (
	_ appevents.AppEvent = (*RestartDiscoveryEvent)(nil)
	_ appevents.AppEvent = (*StopDiscoveryEvent)(nil)
	_ appevents.AppEvent = (*AnnounceEvent)(nil)
)

// --- UI Messages (from App to TUI) ---

// ServicesUpdatedMsg carries the whole service table after a change.
type ServicesUpdatedMsg struct {
	appevents.UIMessage
	Services []app.Entry
}

// SearchFailedMsg reports a failure of one search.
type SearchFailedMsg struct {
	appevents.UIMessage
	Configuration discovery.Configuration
	Kind          discovery.ErrorKind
}

// DiscoveryStateMsg reports whether the session is running.
type DiscoveryStateMsg struct {
	appevents.UIMessage
	Running bool
}

// AnnouncingMsg reports that the App started publishing Service.
type AnnouncingMsg struct {
	appevents.UIMessage
	Service discovery.ServiceInfo
}

var (
	_ appevents.AppUIMessage = ServicesUpdatedMsg{}
	_ appevents.AppUIMessage = SearchFailedMsg{}
	_ appevents.AppUIMessage = DiscoveryStateMsg{}
	_ appevents.AppUIMessage = AnnouncingMsg{}
)

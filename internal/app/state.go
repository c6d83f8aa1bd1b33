package app

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// Entry is one row of the live service table.
type Entry struct {
	Service   discovery.DiscoveredService
	FirstSeen time.Time
	LastSeen  time.Time
}

// Key identifies an entry: the search that found it and the fully qualified
// instance name. Two searches reporting the same instance get a row each.
func (e Entry) Key() string {
	return entryKey(e.Service)
}

func entryKey(service discovery.DiscoveredService) string {
	return service.Configuration.ServiceType + "|" + service.Configuration.ServiceNamePrefix + "|" + service.Service.InstanceName()
}

// StateManager holds the services currently discovered, keyed by search and
// instance name, in a concurrent-safe manner.
type StateManager struct {
	mu       sync.Mutex
	services map[string]Entry
	now      func() time.Time
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{
		services: make(map[string]Entry),
		now:      time.Now,
	}
}

// Upsert records a discovery and reports whether the instance was new.
// A rediscovered instance keeps its FirstSeen time.
func (m *StateManager) Upsert(service discovery.DiscoveredService) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := entryKey(service)
	entry, ok := m.services[key]
	if !ok {
		entry.FirstSeen = now
	}
	entry.Service = service
	entry.LastSeen = now
	m.services[key] = entry
	return entry, !ok
}

// Remove forgets an instance and reports whether it was known.
func (m *StateManager) Remove(service discovery.DiscoveredService) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryKey(service)
	_, ok := m.services[key]
	delete(m.services, key)
	return ok
}

// Clear forgets every instance.
func (m *StateManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.services)
}

func (m *StateManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.services)
}

// Snapshot returns the entries ordered by service type, then instance name,
// then search prefix.
func (m *StateManager) Snapshot() []Entry {
	m.mu.Lock()
	entries := make([]Entry, 0, len(m.services))
	for _, e := range m.services {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Or(
			cmp.Compare(a.Service.Service.Type, b.Service.Service.Type),
			cmp.Compare(a.Service.Service.Name, b.Service.Service.Name),
			cmp.Compare(a.Service.Configuration.ServiceNamePrefix, b.Service.Configuration.ServiceNamePrefix),
		)
	})
	return entries
}

package discovery

import "sync/atomic"

// adID is the session-owned identifier of an advertisement handle.
type adID uint64

// sessionItem is the per-configuration state of one run: its browse and the
// advertisements that browse reported and that matched.
type sessionItem struct {
	configuration Configuration
	listener      *browseListener
	browse        BrowseHandle
	ads           map[adID]struct{}
}

func newSessionItem(cfg Configuration, listener *browseListener) *sessionItem {
	return &sessionItem{
		configuration: cfg,
		listener:      listener,
		ads:           make(map[adID]struct{}),
	}
}

// track adds id. Callers check Matches first.
func (i *sessionItem) track(id adID) {
	i.ads[id] = struct{}{}
}

func (i *sessionItem) untrack(id adID) {
	delete(i.ads, id)
}

func (i *sessionItem) contains(id adID) bool {
	_, ok := i.ads[id]
	return ok
}

type adEntry struct {
	handle   Advertisement
	listener *resolveListener
}

// arena maps provider advertisement handles to session-owned IDs for the
// lifetime of one run. Lookups go by handle identity.
type arena struct {
	next     adID
	byHandle map[Advertisement]adID
	entries  map[adID]*adEntry
}

func newArena() *arena {
	return &arena{
		byHandle: make(map[Advertisement]adID),
		entries:  make(map[adID]*adEntry),
	}
}

// wrap returns the ID for ad, allocating one (with its resolve listener) on
// first sight.
func (a *arena) wrap(ad Advertisement, newListener func() *resolveListener) adID {
	if id, ok := a.byHandle[ad]; ok {
		return id
	}
	a.next++
	id := a.next
	a.byHandle[ad] = id
	a.entries[id] = &adEntry{handle: ad, listener: newListener()}
	return id
}

func (a *arena) lookup(ad Advertisement) (adID, bool) {
	id, ok := a.byHandle[ad]
	return id, ok
}

func (a *arena) entry(id adID) *adEntry {
	return a.entries[id]
}

// release detaches the resolve listener before stopping the handle, then
// forgets the entry. Releasing an unknown ID is a no-op.
func (a *arena) release(id adID) {
	e, ok := a.entries[id]
	if !ok {
		return
	}
	e.listener.detach()
	e.handle.Stop()
	delete(a.entries, id)
	delete(a.byHandle, e.handle)
}

func (a *arena) len() int {
	return len(a.entries)
}

// listener is the part shared by browse and resolve listeners: the run it
// belongs to and whether the Session still wants its callbacks.
type listener struct {
	session    *Session
	generation uint64
	detached   atomic.Bool
}

func (l *listener) detach() {
	l.detached.Store(true)
}

func (l *listener) post(ev providerEvent) {
	if l.detached.Load() {
		return
	}
	l.session.inbox.push(ev)
}

type browseListener struct {
	listener
	index int
}

func (l *browseListener) Found(ad Advertisement, moreComing bool) {
	l.post(foundEvent{l.generation, l.index, ad, moreComing})
}

func (l *browseListener) Removed(ad Advertisement, moreComing bool) {
	l.post(removedEvent{l.generation, ad, moreComing})
}

func (l *browseListener) BrowseFailed(err error) {
	l.post(browseFailedEvent{l.generation, l.index, err})
}

type resolveListener struct {
	listener
}

func (l *resolveListener) Resolved(ad Advertisement) {
	l.post(resolvedEvent{l.generation, ad})
}

func (l *resolveListener) ResolveFailed(ad Advertisement, err error) {
	l.post(resolveFailedEvent{l.generation, ad, err})
}

// loopMessage is anything the control loop consumes.
type loopMessage interface {
	isLoopMessage()
}

type loopMarker struct{}

func (loopMarker) isLoopMessage() {}

// command runs fn on the control loop and closes done afterwards.
type command struct {
	loopMarker
	fn   func()
	done chan struct{}
}

// providerEvent is the tagged union of provider callbacks.
type providerEvent interface {
	loopMessage
	run() uint64
}

type foundEvent struct {
	generation uint64
	index      int
	ad         Advertisement
	moreComing bool
}

type removedEvent struct {
	generation uint64
	ad         Advertisement
	moreComing bool
}

type browseFailedEvent struct {
	generation uint64
	index      int
	err        error
}

type resolvedEvent struct {
	generation uint64
	ad         Advertisement
}

type resolveFailedEvent struct {
	generation uint64
	ad         Advertisement
	err        error
}

func (foundEvent) isLoopMessage()         {}
func (removedEvent) isLoopMessage()       {}
func (browseFailedEvent) isLoopMessage()  {}
func (resolvedEvent) isLoopMessage()      {}
func (resolveFailedEvent) isLoopMessage() {}

func (e foundEvent) run() uint64         { return e.generation }
func (e removedEvent) run() uint64       { return e.generation }
func (e browseFailedEvent) run() uint64  { return e.generation }
func (e resolvedEvent) run() uint64      { return e.generation }
func (e resolveFailedEvent) run() uint64 { return e.generation }

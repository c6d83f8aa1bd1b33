package discoverytest

import (
	"fmt"
	"testing"
	"time"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// Callback is one provider callback captured by Listener.
type Callback struct {
	Op         string // found, removed, browse-failed, resolved, resolve-failed
	Ad         discovery.Advertisement
	MoreComing bool
	Err        error
}

func (c Callback) String() string {
	if c.Ad == nil {
		return fmt.Sprintf("%s(%v)", c.Op, c.Err)
	}
	return fmt.Sprintf("%s(%s)", c.Op, c.Ad.Name())
}

// Listener implements both BrowseListener and ResolveListener and queues
// every callback it receives. It is meant for exercising real Provider
// implementations.
type Listener struct {
	C chan Callback
}

func NewListener() *Listener {
	return &Listener{C: make(chan Callback, 256)}
}

func (l *Listener) Found(ad discovery.Advertisement, moreComing bool) {
	l.C <- Callback{Op: "found", Ad: ad, MoreComing: moreComing}
}

func (l *Listener) Removed(ad discovery.Advertisement, moreComing bool) {
	l.C <- Callback{Op: "removed", Ad: ad, MoreComing: moreComing}
}

func (l *Listener) BrowseFailed(err error) {
	l.C <- Callback{Op: "browse-failed", Err: err}
}

func (l *Listener) Resolved(ad discovery.Advertisement) {
	l.C <- Callback{Op: "resolved", Ad: ad}
}

func (l *Listener) ResolveFailed(ad discovery.Advertisement, err error) {
	l.C <- Callback{Op: "resolve-failed", Ad: ad, Err: err}
}

// Next returns the next callback or fails the test after timeout.
func (l *Listener) Next(t testing.TB, timeout time.Duration) Callback {
	t.Helper()
	select {
	case c := <-l.C:
		return c
	case <-time.After(timeout):
		t.Fatalf("no provider callback within %v", timeout)
		return Callback{}
	}
}

// Quiet fails the test if any callback arrives within d.
func (l *Listener) Quiet(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case c := <-l.C:
		t.Fatalf("unexpected provider callback %v", c)
	case <-time.After(d):
	}
}

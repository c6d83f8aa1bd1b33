// Package discoverytest provides an in-memory discovery.Provider whose
// callbacks are fired by the test, and an Observer that records what it
// receives.
package discoverytest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// Provider records every operation in call order and hands out Browse
// values the test drives. Callbacks fired on a stopped Browse or
// Advertisement are still delivered, like a platform provider that keeps
// calling back while it shuts down.
type Provider struct {
	// AutoResolve makes Resolve report success synchronously, from inside
	// the call.
	AutoResolve bool

	mu        sync.Mutex
	calls     []string
	browses   []*Browse
	browseErr map[string]error
	announce  error
}

func NewProvider() *Provider {
	return &Provider{browseErr: make(map[string]error)}
}

// FailBrowse makes every later Browse for serviceType return err.
func (p *Provider) FailBrowse(serviceType string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.browseErr[serviceType] = err
}

// FailAnnounce makes every later Announce return err at once.
func (p *Provider) FailAnnounce(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announce = err
}

// Announce records "announce Name" and blocks until ctx is done.
func (p *Provider) Announce(ctx context.Context, service discovery.ServiceInfo) error {
	p.mu.Lock()
	p.calls = append(p.calls, "announce "+service.Name)
	err := p.announce
	p.mu.Unlock()
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (p *Provider) Browse(serviceType, domain string, l discovery.BrowseListener) (discovery.BrowseHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "browse "+serviceType)
	if err := p.browseErr[serviceType]; err != nil {
		return nil, err
	}
	b := &Browse{provider: p, ServiceType: serviceType, Domain: domain, listener: l}
	p.browses = append(p.browses, b)
	return b, nil
}

func (p *Provider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

// Calls returns the operations seen so far, e.g. "browse _http._tcp",
// "stop-browse _http._tcp", "resolve Printer", "stop-resolve Printer".
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Browses returns every Browse created, in creation order.
func (p *Provider) Browses() []*Browse {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Browse(nil), p.browses...)
}

// Latest returns the most recent Browse for serviceType, or nil.
func (p *Provider) Latest(serviceType string) *Browse {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.browses) - 1; i >= 0; i-- {
		if p.browses[i].ServiceType == serviceType {
			return p.browses[i]
		}
	}
	return nil
}

// Browse is one browse operation of a Provider.
type Browse struct {
	ServiceType string
	Domain      string

	provider *Provider
	listener discovery.BrowseListener
	stopped  atomic.Bool
}

func (b *Browse) Stop() {
	b.stopped.Store(true)
	b.provider.record("stop-browse " + b.ServiceType)
}

func (b *Browse) Stopped() bool {
	return b.stopped.Load()
}

// Announce reports ad as found.
func (b *Browse) Announce(ad *Advertisement, moreComing bool) {
	ad.mu.Lock()
	ad.provider = b.provider
	ad.mu.Unlock()
	b.listener.Found(ad, moreComing)
}

// Withdraw reports ad as removed.
func (b *Browse) Withdraw(ad *Advertisement, moreComing bool) {
	b.listener.Removed(ad, moreComing)
}

// Fail reports a browse failure.
func (b *Browse) Fail(err error) {
	b.listener.BrowseFailed(err)
}

// Advertisement is a test-controlled service instance.
type Advertisement struct {
	provider *Provider

	mu       sync.Mutex
	info     discovery.ServiceInfo
	listener discovery.ResolveListener
	resolves int
	timeout  time.Duration
	stopped  bool
}

func NewAdvertisement(name, serviceType string) *Advertisement {
	return &Advertisement{info: discovery.ServiceInfo{
		Name:   name,
		Type:   serviceType,
		Domain: discovery.DefaultDomain,
	}}
}

// WithEndpoint sets what Endpoint reports once resolved.
func (a *Advertisement) WithEndpoint(host string, port int, ips ...net.IP) *Advertisement {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info.Host = host
	a.info.Port = port
	a.info.IPs = ips
	return a
}

func (a *Advertisement) Name() string   { return a.info.Name }
func (a *Advertisement) Type() string   { return a.info.Type }
func (a *Advertisement) Domain() string { return a.info.Domain }

func (a *Advertisement) Endpoint() discovery.ServiceInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

func (a *Advertisement) Resolve(timeout time.Duration, l discovery.ResolveListener) {
	a.mu.Lock()
	a.listener = l
	a.resolves++
	a.timeout = timeout
	a.stopped = false
	p := a.provider
	a.mu.Unlock()

	if p != nil {
		p.record("resolve " + a.info.Name)
		if p.AutoResolve {
			l.Resolved(a)
		}
	}
}

func (a *Advertisement) Stop() {
	a.mu.Lock()
	a.stopped = true
	p := a.provider
	a.mu.Unlock()
	if p != nil {
		p.record("stop-resolve " + a.info.Name)
	}
}

// Succeed reports the last Resolve as successful.
func (a *Advertisement) Succeed() error {
	l, err := a.resolveListener()
	if err != nil {
		return err
	}
	l.Resolved(a)
	return nil
}

// Fail reports the last Resolve as failed.
func (a *Advertisement) Fail(cause error) error {
	l, err := a.resolveListener()
	if err != nil {
		return err
	}
	l.ResolveFailed(a, cause)
	return nil
}

func (a *Advertisement) resolveListener() (discovery.ResolveListener, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil, fmt.Errorf("advertisement %q was never resolved", a.info.Name)
	}
	return a.listener, nil
}

func (a *Advertisement) ResolveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolves
}

// Timeout returns the timeout of the last Resolve.
func (a *Advertisement) Timeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timeout
}

func (a *Advertisement) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

var (
	_ discovery.Provider      = (*Provider)(nil)
	_ discovery.Announcer     = (*Provider)(nil)
	_ discovery.BrowseHandle  = (*Browse)(nil)
	_ discovery.Advertisement = (*Advertisement)(nil)
)

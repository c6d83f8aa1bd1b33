// Package dnssd implements discovery.Provider on top of
// github.com/brutella/dnssd, a pure Go mDNS/DNS-SD stack.
package dnssd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	brutella "github.com/brutella/dnssd"
	dnssdlog "github.com/brutella/dnssd/log"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

type (
	lookupTypeFunc     func(ctx context.Context, service string, add brutella.AddFunc, rmv brutella.RmvFunc) error
	lookupInstanceFunc func(ctx context.Context, instance string) (brutella.Service, error)
)

// Provider browses with dnssd.LookupType and resolves with
// dnssd.LookupInstance.
type Provider struct {
	lookupType     lookupTypeFunc
	lookupInstance lookupInstanceFunc
}

// New returns a Provider and silences dnssd's own loggers.
func New() *Provider {
	QuietLogs()
	return &Provider{
		lookupType:     brutella.LookupType,
		lookupInstance: brutella.LookupInstance,
	}
}

// QuietLogs discards dnssd's package level log output.
func QuietLogs() {
	dnssdlog.Info.SetOutput(io.Discard)
	dnssdlog.Debug.SetOutput(io.Discard)
}

func (p *Provider) Browse(serviceType, domain string, l discovery.BrowseListener) (discovery.BrowseHandle, error) {
	if domain == "" {
		domain = discovery.DefaultDomain
	}
	service := fmt.Sprintf("%s.%s.", strings.Trim(serviceType, "."), strings.Trim(domain, "."))

	ctx, cancel := context.WithCancel(context.Background())
	b := &browse{
		provider: p,
		cancel:   cancel,
		listener: l,
		ads:      make(map[string]*advertisement),
	}

	go func() {
		err := p.lookupType(ctx, service, b.add, b.remove)
		if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			slog.Warn("mDNS lookup stopped", "service", service, "error", err)
			l.BrowseFailed(fmt.Errorf("mDNS lookup failed: %w", err))
		}
	}()
	return b, nil
}

type browse struct {
	provider *Provider
	cancel   context.CancelFunc
	listener discovery.BrowseListener

	mu  sync.Mutex
	ads map[string]*advertisement // keyed by instance name while present
}

func (b *browse) Stop() {
	b.cancel()
}

func (b *browse) add(e brutella.BrowseEntry) {
	info := entryInfo(e)
	key := info.InstanceName()

	b.mu.Lock()
	if ad, ok := b.ads[key]; ok {
		ad.update(info)
		b.mu.Unlock()
		return
	}
	ad := &advertisement{provider: b.provider, info: info}
	b.ads[key] = ad
	b.mu.Unlock()

	b.listener.Found(ad, false)
}

func (b *browse) remove(e brutella.BrowseEntry) {
	key := entryInfo(e).InstanceName()

	b.mu.Lock()
	ad, ok := b.ads[key]
	delete(b.ads, key)
	b.mu.Unlock()

	if ok {
		b.listener.Removed(ad, false)
	}
}

func entryInfo(e brutella.BrowseEntry) discovery.ServiceInfo {
	return discovery.ServiceInfo{
		Name:   e.Name,
		Type:   strings.Trim(e.Type, "."),
		Domain: strings.Trim(e.Domain, "."),
		Host:   e.Host,
		IPs:    e.IPs,
		Port:   e.Port,
		Text:   e.Text,
	}
}

type advertisement struct {
	provider *Provider

	mu     sync.Mutex
	info   discovery.ServiceInfo
	cancel context.CancelFunc
}

func (a *advertisement) Name() string   { return a.Endpoint().Name }
func (a *advertisement) Type() string   { return a.Endpoint().Type }
func (a *advertisement) Domain() string { return a.Endpoint().Domain }

func (a *advertisement) Endpoint() discovery.ServiceInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

func (a *advertisement) update(info discovery.ServiceInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(info.IPs) == 0 {
		info.IPs = a.info.IPs
	}
	a.info = info
}

func (a *advertisement) Resolve(timeout time.Duration, l discovery.ResolveListener) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.cancel = cancel
	instance := a.info.InstanceName()
	a.mu.Unlock()

	go func() {
		defer cancel()
		svc, err := a.provider.lookupInstance(ctx, instance)
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		if err != nil {
			l.ResolveFailed(a, fmt.Errorf("resolve %s: %w", instance, err))
			return
		}

		a.mu.Lock()
		a.info.Host = svc.Host
		a.info.Port = svc.Port
		if len(svc.IPs) > 0 {
			a.info.IPs = svc.IPs
		}
		if len(svc.Text) > 0 {
			a.info.Text = svc.Text
		}
		a.mu.Unlock()
		l.Resolved(a)
	}()
}

func (a *advertisement) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// Announce publishes serviceInfo with a dnssd responder until ctx is done.
func (p *Provider) Announce(ctx context.Context, serviceInfo discovery.ServiceInfo) error {
	text := serviceInfo.Text
	if text == nil {
		text = map[string]string{"desc": "lanServiceFinder fixture"}
	}

	cfg := brutella.Config{
		Name:   serviceInfo.Name,
		Type:   serviceInfo.Type,
		Domain: serviceInfo.Domain,
		// mdns will multicast to ip address, so we can leave it nil
		IPs:  serviceInfo.IPs,
		Text: text,
		Port: serviceInfo.Port,
	}

	service, err := brutella.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := brutella.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	slog.Info("Announcing service", "name", serviceInfo.Name, "type", serviceInfo.Type, "port", serviceInfo.Port)
	if err = rp.Respond(ctx); err != nil {
		// Context cancellation is not an error in normal operation
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to respond to mDNS service: %w", err)
	}
	return nil
}

var (
	_ discovery.Provider  = (*Provider)(nil)
	_ discovery.Announcer = (*Provider)(nil)
)

// Package zeroconf implements discovery.Provider on top of
// github.com/grandcat/zeroconf.
package zeroconf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	gz "github.com/grandcat/zeroconf"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// resolver is the subset of *zeroconf.Resolver the provider uses; it allows
// for mocking in tests.
type resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *gz.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *gz.ServiceEntry) error
}

// ErrNotFound is reported when a lookup ends without an answer for the
// instance.
var ErrNotFound = errors.New("zeroconf: instance not found")

type Provider struct {
	newResolver func() (resolver, error)
}

func New() *Provider {
	return &Provider{
		newResolver: func() (resolver, error) {
			return gz.NewResolver(nil)
		},
	}
}

func (p *Provider) Browse(serviceType, domain string, l discovery.BrowseListener) (discovery.BrowseHandle, error) {
	r, err := p.newResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &browse{
		provider: p,
		cancel:   cancel,
		listener: l,
		ads:      make(map[string]*advertisement),
	}

	entries := make(chan *gz.ServiceEntry)
	go b.consume(ctx, entries)

	if err := r.Browse(ctx, strings.Trim(serviceType, "."), fqdnDomain(domain), entries); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to browse %s: %w", serviceType, err)
	}
	return b, nil
}

type browse struct {
	provider *Provider
	cancel   context.CancelFunc
	listener discovery.BrowseListener

	mu  sync.Mutex
	ads map[string]*advertisement
}

func (b *browse) Stop() {
	b.cancel()
}

func (b *browse) consume(ctx context.Context, entries <-chan *gz.ServiceEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if e == nil || ctx.Err() != nil {
				continue
			}
			b.handle(e)
		}
	}
}

func (b *browse) handle(e *gz.ServiceEntry) {
	info := entryInfo(e)
	key := info.InstanceName()

	b.mu.Lock()
	ad, known := b.ads[key]
	if e.TTL == 0 {
		// goodbye packet
		delete(b.ads, key)
		b.mu.Unlock()
		if known {
			b.listener.Removed(ad, false)
		}
		return
	}
	if known {
		b.mu.Unlock()
		ad.update(info)
		return
	}
	ad = &advertisement{provider: b.provider, info: info}
	b.ads[key] = ad
	b.mu.Unlock()

	b.listener.Found(ad, false)
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
	a.info = info
}

func (a *advertisement) Resolve(timeout time.Duration, l discovery.ResolveListener) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.cancel = cancel
	info := a.info
	a.mu.Unlock()

	go func() {
		defer cancel()
		resolved, err := a.provider.lookup(ctx, info)
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		if err != nil {
			l.ResolveFailed(a, err)
			return
		}
		a.update(resolved)
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

// lookup queries the instance and returns the first matching answer.
func (p *Provider) lookup(ctx context.Context, info discovery.ServiceInfo) (discovery.ServiceInfo, error) {
	r, err := p.newResolver()
	if err != nil {
		return info, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	entries := make(chan *gz.ServiceEntry)
	if err := r.Lookup(ctx, info.Name, strings.Trim(info.Type, "."), fqdnDomain(info.Domain), entries); err != nil {
		return info, fmt.Errorf("lookup %s: %w", info.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return info, fmt.Errorf("lookup %s: %w", info.Name, ctx.Err())
		case e, ok := <-entries:
			if !ok {
				return info, ErrNotFound
			}
			if e != nil && e.Instance == info.Name && e.TTL > 0 {
				return entryInfo(e), nil
			}
		}
	}
}

func entryInfo(e *gz.ServiceEntry) discovery.ServiceInfo {
	ips := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	ips = append(ips, e.AddrIPv4...)
	ips = append(ips, e.AddrIPv6...)
	return discovery.ServiceInfo{
		Name:   e.Instance,
		Type:   strings.Trim(e.Service, "."),
		Domain: strings.Trim(e.Domain, "."),
		Host:   e.HostName,
		IPs:    ips,
		Port:   e.Port,
		Text:   parseText(e.Text),
	}
}

// parseText turns "key=value" TXT strings into a map. A string without '='
// is a boolean attribute and maps to the empty value.
func parseText(txt []string) map[string]string {
	if len(txt) == 0 {
		return nil
	}
	m := make(map[string]string, len(txt))
	for _, kv := range txt {
		k, v, _ := strings.Cut(kv, "=")
		if k == "" {
			continue
		}
		if _, dup := m[k]; !dup {
			m[k] = v
		}
	}
	return m
}

func formatText(m map[string]string) []string {
	txt := make([]string, 0, len(m))
	for k, v := range m {
		txt = append(txt, k+"="+v)
	}
	return txt
}

func fqdnDomain(domain string) string {
	domain = strings.Trim(domain, ".")
	if domain == "" {
		domain = discovery.DefaultDomain
	}
	return domain + "."
}

// Announce registers serviceInfo with a zeroconf server until ctx is done.
func (p *Provider) Announce(ctx context.Context, serviceInfo discovery.ServiceInfo) error {
	server, err := gz.Register(
		serviceInfo.Name,
		strings.Trim(serviceInfo.Type, "."),
		fqdnDomain(serviceInfo.Domain),
		serviceInfo.Port,
		formatText(serviceInfo.Text),
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	defer server.Shutdown()

	slog.Info("Announcing service", "name", serviceInfo.Name, "type", serviceInfo.Type, "port", serviceInfo.Port)
	<-ctx.Done()
	return nil
}

var (
	_ discovery.Provider  = (*Provider)(nil)
	_ discovery.Announcer = (*Provider)(nil)
)

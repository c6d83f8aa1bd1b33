// Package mdnsquery implements discovery.Provider with repeated one-shot
// queries from github.com/hashicorp/mdns. The library has no continuous
// browse, so presence is derived from query rounds: an instance is found when
// it first answers and removed after it stays silent for MissedRounds rounds.
package mdnsquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	hmdns "github.com/hashicorp/mdns"
	"github.com/miekg/dns"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultRoundTimeout = 2 * time.Second
	DefaultMissedRounds = 3
)

// ErrNotFound is reported when a resolve query ends without an answer for
// the instance.
var ErrNotFound = errors.New("mdns: instance not found")

type Provider struct {
	Interval     time.Duration // pause between query rounds
	RoundTimeout time.Duration // how long a round listens for answers
	MissedRounds int           // silent rounds before an instance is removed

	query func(*hmdns.QueryParam) error
}

func New() *Provider {
	return &Provider{
		Interval:     DefaultInterval,
		RoundTimeout: DefaultRoundTimeout,
		MissedRounds: DefaultMissedRounds,
		query:        hmdns.Query,
	}
}

func (p *Provider) Browse(serviceType, domain string, l discovery.BrowseListener) (discovery.BrowseHandle, error) {
	if domain == "" {
		domain = discovery.DefaultDomain
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &browse{
		provider:    p,
		serviceType: strings.Trim(serviceType, "."),
		domain:      strings.Trim(domain, "."),
		cancel:      cancel,
		listener:    l,
		ads:         make(map[string]*advertisement),
		missed:      make(map[string]int),
	}
	go b.loop(ctx)
	return b, nil
}

type browse struct {
	provider    *Provider
	serviceType string
	domain      string
	cancel      context.CancelFunc
	listener    discovery.BrowseListener

	ads    map[string]*advertisement // owned by loop
	missed map[string]int
}

func (b *browse) Stop() {
	b.cancel()
}

// loop continuously queries for the service type
func (b *browse) loop(ctx context.Context) {
	for {
		seen, err := b.provider.round(b.serviceType, b.domain, b.provider.RoundTimeout, nil)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("mDNS query failed", "service", b.serviceType, "error", err)
			b.listener.BrowseFailed(fmt.Errorf("mDNS query failed: %w", err))
			return
		}
		b.reconcile(ctx, seen)

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.provider.Interval):
		}
	}
}

// reconcile diffs one round of answers against the known instances.
func (b *browse) reconcile(ctx context.Context, seen map[string]discovery.ServiceInfo) {
	var found, removed []*advertisement

	for key, info := range seen {
		b.missed[key] = 0
		if ad, ok := b.ads[key]; ok {
			ad.update(info)
			continue
		}
		ad := &advertisement{provider: b.provider, info: info}
		b.ads[key] = ad
		found = append(found, ad)
	}

	for key, ad := range b.ads {
		if _, ok := seen[key]; ok {
			continue
		}
		b.missed[key]++
		if b.missed[key] >= b.provider.MissedRounds {
			delete(b.ads, key)
			delete(b.missed, key)
			removed = append(removed, ad)
		}
	}

	for i, ad := range found {
		if ctx.Err() != nil {
			return
		}
		b.listener.Found(ad, i < len(found)-1)
	}
	for i, ad := range removed {
		if ctx.Err() != nil {
			return
		}
		b.listener.Removed(ad, i < len(removed)-1)
	}
}

// round runs one query and collects the answers for serviceType keyed by
// instance name. match, if set, sees each answer as it arrives until it
// returns true.
func (p *Provider) round(serviceType, domain string, timeout time.Duration, match func(discovery.ServiceInfo) bool) (map[string]discovery.ServiceInfo, error) {
	entries := make(chan *hmdns.ServiceEntry, 16)
	seen := make(map[string]discovery.ServiceInfo)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			info, ok := entryInfo(entry, serviceType, domain)
			if !ok {
				continue
			}
			seen[info.InstanceName()] = info
			if match != nil && match(info) {
				match = nil
			}
		}
	}()

	params := &hmdns.QueryParam{
		Service: serviceType,
		Domain:  domain,
		Timeout: timeout,
		Entries: entries,
	}
	err := p.query(params)
	close(entries)
	<-done
	return seen, err
}

// entryInfo converts a query answer, dropping answers for other services.
func entryInfo(entry *hmdns.ServiceEntry, serviceType, domain string) (discovery.ServiceInfo, bool) {
	if entry == nil {
		return discovery.ServiceInfo{}, false
	}
	labels := dns.SplitDomainName(entry.Name)
	if len(labels) < 2 {
		return discovery.ServiceInfo{}, false
	}
	suffix := strings.Join(labels[1:], ".")
	if !strings.EqualFold(suffix, serviceType+"."+domain) {
		return discovery.ServiceInfo{}, false
	}

	var ips []net.IP
	if entry.AddrV4 != nil {
		ips = append(ips, entry.AddrV4)
	}
	if entry.AddrV6 != nil {
		ips = append(ips, entry.AddrV6)
	}
	return discovery.ServiceInfo{
		Name:   unescapeLabel(labels[0]),
		Type:   serviceType,
		Domain: domain,
		Host:   entry.Host,
		IPs:    ips,
		Port:   entry.Port,
		Text:   parseText(entry.InfoFields),
	}, true
}

// unescapeLabel reverses presentation format escaping (\. and \DDD).
func unescapeLabel(label string) string {
	if !strings.Contains(label, `\`) {
		return label
	}
	var b strings.Builder
	for i := 0; i < len(label); i++ {
		c := label[i]
		if c != '\\' || i+1 >= len(label) {
			b.WriteByte(c)
			continue
		}
		if i+3 < len(label) && isDigits(label[i+1:i+4]) {
			if n, _ := strconv.Atoi(label[i+1 : i+4]); n < 256 {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(label[i+1])
		i++
	}
	return b.String()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseText(fields []string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]string, len(fields))
	for _, kv := range fields {
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

type advertisement struct {
	provider *Provider

	mu      sync.Mutex
	info    discovery.ServiceInfo
	attempt uint64 // bumped by Resolve and Stop; stale attempts stay quiet
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

func (a *advertisement) current(attempt uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempt == attempt
}

// Resolve completes from the browse answer when it already carries an
// address and port, which is the normal case since the library only reports
// complete entries. Otherwise it runs a dedicated query.
func (a *advertisement) Resolve(timeout time.Duration, l discovery.ResolveListener) {
	a.mu.Lock()
	a.attempt++
	attempt := a.attempt
	info := a.info
	a.mu.Unlock()

	if info.Port != 0 && len(info.IPs) > 0 {
		go func() {
			if a.current(attempt) {
				l.Resolved(a)
			}
		}()
		return
	}

	go func() {
		key := info.InstanceName()
		answered := make(chan discovery.ServiceInfo, 1)
		go func() {
			_, err := a.provider.round(info.Type, info.Domain, timeout, func(got discovery.ServiceInfo) bool {
				if got.InstanceName() != key {
					return false
				}
				answered <- got
				return true
			})
			if err != nil {
				slog.Debug("mDNS resolve query failed", "instance", key, "error", err)
			}
			close(answered)
		}()

		got, ok := <-answered
		if !a.current(attempt) {
			return
		}
		if !ok {
			l.ResolveFailed(a, fmt.Errorf("resolve %s: %w", key, ErrNotFound))
			return
		}
		a.update(got)
		l.Resolved(a)
	}()
}

func (a *advertisement) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempt++
}

// Announce serves serviceInfo from an mDNS server until ctx is done.
func (p *Provider) Announce(ctx context.Context, serviceInfo discovery.ServiceInfo) error {
	ips := serviceInfo.IPs
	if len(ips) == 0 {
		var err error
		if ips, err = getLocalIPs(); err != nil {
			return fmt.Errorf("failed to get local IPs: %w", err)
		}
	}

	// the library wants a fully qualified domain and fills in local. for ""
	domain := strings.Trim(serviceInfo.Domain, ".")
	if domain != "" {
		domain = dns.Fqdn(domain)
	}
	service, err := hmdns.NewMDNSService(
		serviceInfo.Name,
		strings.Trim(serviceInfo.Type, "."),
		domain,
		"",
		serviceInfo.Port,
		ips,
		formatText(serviceInfo.Text),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := hmdns.NewServer(&hmdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	defer server.Shutdown()

	slog.Info("Announcing service", "name", serviceInfo.Name, "type", serviceInfo.Type, "port", serviceInfo.Port)
	<-ctx.Done()
	return nil
}

func formatText(m map[string]string) []string {
	txt := make([]string, 0, len(m))
	for k, v := range m {
		txt = append(txt, k+"="+v)
	}
	return txt
}

// getLocalIPs returns the IPv4 addresses of the interfaces that are up
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}

var (
	_ discovery.Provider  = (*Provider)(nil)
	_ discovery.Announcer = (*Provider)(nil)
)

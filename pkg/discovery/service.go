package discovery

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
)

const (
	DefaultServiceType = "_http._tcp"
	DefaultDomain      = "local"
)

// ServiceInfo is a snapshot of a service instance as reported by a provider.
// Host, IPs and Port are only meaningful once the instance has been resolved.
type ServiceInfo struct {
	Name   string            // instance name, e.g. "Office Printer"
	Type   string            // service type, e.g. "_http._tcp"
	Domain string            // domain, e.g. "local"
	Host   string            // target host name
	IPs    []net.IP          // resolved addresses
	Port   int               // resolved port
	Text   map[string]string // TXT record key/values
}

// Addr returns the preferred address of the instance: the first IPv4
// address if there is one, otherwise the first address, otherwise nil.
func (s ServiceInfo) Addr() net.IP {
	for _, ip := range s.IPs {
		if ip.To4() != nil {
			return ip
		}
	}
	if len(s.IPs) > 0 {
		return s.IPs[0]
	}
	return nil
}

// InstanceName returns the fully qualified service instance name,
// e.g. "Office\ Printer._http._tcp.local.".
func (s ServiceInfo) InstanceName() string {
	domain := s.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	return EscapeInstance(s.Name) + "." + dns.Fqdn(strings.Trim(s.Type, ".")+"."+strings.Trim(domain, "."))
}

// EscapeInstance escapes the characters of an instance label that are
// special in presentation format.
func EscapeInstance(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', ' ', '\\', '(', ')', ';', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Announcer publishes a service instance on the local network until ctx is
// done. It is used to advertise fixtures that a Session can then discover.
type Announcer interface {
	Announce(ctx context.Context, service ServiceInfo) error
}

// Package backend selects an mDNS stack by name.
package backend

import (
	"fmt"
	"strings"

	"github.com/rescp17/lanServiceFinder/pkg/backend/dnssd"
	"github.com/rescp17/lanServiceFinder/pkg/backend/mdnsquery"
	"github.com/rescp17/lanServiceFinder/pkg/backend/zeroconf"
	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

const (
	DNSSD    = "dnssd"
	Zeroconf = "zeroconf"
	MDNS     = "mdns"

	Default = DNSSD
)

// Backend can both browse for and announce services.
type Backend interface {
	discovery.Provider
	discovery.Announcer
}

var constructors = map[string]func() Backend{
	DNSSD:    func() Backend { return dnssd.New() },
	Zeroconf: func() Backend { return zeroconf.New() },
	MDNS:     func() Backend { return mdnsquery.New() },
}

// Names lists the known backends, default first.
func Names() []string {
	return []string{DNSSD, Zeroconf, MDNS}
}

// Open returns a fresh backend. The empty name selects Default.
func Open(name string) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = Default
	}
	newBackend, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return newBackend(), nil
}

package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Configuration describes what a Session searches for.
// An empty ServiceNamePrefix matches every instance of ServiceType.
type Configuration struct {
	ServiceType       string `yaml:"type"`
	ServiceNamePrefix string `yaml:"prefix,omitempty"`
}

// Validate checks that ServiceType has the "_service._proto" form.
// Session construction does not call it; callers that build configurations
// from user input should.
func (c Configuration) Validate() error {
	if c.ServiceType == "" {
		return errors.New("service type is required")
	}
	labels := dns.SplitDomainName(c.ServiceType)
	if len(labels) != 2 {
		return fmt.Errorf("service type %q must have exactly two labels, e.g. _http._tcp", c.ServiceType)
	}
	if len(labels[0]) < 2 || !strings.HasPrefix(labels[0], "_") {
		return fmt.Errorf("service label %q must start with an underscore", labels[0])
	}
	if labels[1] != "_tcp" && labels[1] != "_udp" {
		return fmt.Errorf("protocol label %q must be _tcp or _udp", labels[1])
	}
	return nil
}

func (c Configuration) String() string {
	if c.ServiceNamePrefix == "" {
		return c.ServiceType
	}
	return fmt.Sprintf("%s (prefix %q)", c.ServiceType, c.ServiceNamePrefix)
}

// Matches reports whether an advertised instance name is in scope for cfg.
// The comparison is a plain byte prefix test: no case folding, no
// normalization.
func Matches(cfg Configuration, name string) bool {
	if cfg.ServiceNamePrefix == "" {
		return true
	}
	return strings.HasPrefix(name, cfg.ServiceNamePrefix)
}

// Package config holds the settings of a lanServiceFinder run and loads them
// from a YAML search file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rescp17/lanServiceFinder/pkg/backend"
	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// Config holds everything needed to build a discovery session.
//
//	backend: dnssd
//	domain: local
//	resolve_timeout: 5s
//	searches:
//	  - type: _ipp._tcp
//	    prefix: Office
//	  - type: _http._tcp
type Config struct {
	Backend        string                    `yaml:"backend"`
	Domain         string                    `yaml:"domain,omitempty"`
	ResolveTimeout time.Duration             `yaml:"resolve_timeout"`
	Searches       []discovery.Configuration `yaml:"searches"`
}

// DefaultConfig searches for every _http._tcp instance with the default
// backend.
func DefaultConfig() *Config {
	return &Config{
		Backend:        backend.Default,
		ResolveTimeout: discovery.DefaultResolveTimeout,
		Searches: []discovery.Configuration{
			{ServiceType: discovery.DefaultServiceType},
		},
	}
}

// FromFile returns the defaults overlaid with the YAML file at filename.
func FromFile(filename string) (*Config, error) {
	c := DefaultConfig()
	return c, c.LoadFile(filename)
}

// FromReader returns the defaults overlaid with the YAML document in r.
func FromReader(r io.Reader) (*Config, error) {
	c := DefaultConfig()
	return c, c.Unmarshal(r)
}

// LoadFile overlays the YAML file at filename onto c.
func (c *Config) LoadFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return c.Unmarshal(f)
}

// Unmarshal overlays the YAML document in r onto c. Unknown keys are
// rejected; an empty document leaves c unchanged.
func (c *Config) Unmarshal(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Marshal writes c as YAML.
func (c *Config) Marshal(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if !slices.Contains(backend.Names(), c.Backend) {
		return fmt.Errorf("backend must be one of %v", backend.Names())
	}
	if c.ResolveTimeout <= 0 {
		return errors.New("resolve_timeout must be positive")
	}
	if len(c.Searches) == 0 {
		return errors.New("searches cannot be empty")
	}
	for i, s := range c.Searches {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("searches[%d]: %w", i, err)
		}
	}
	return nil
}

// SessionOptions returns the discovery options c describes.
func (c *Config) SessionOptions() []discovery.Option {
	return []discovery.Option{
		discovery.WithResolveTimeout(c.ResolveTimeout),
		discovery.WithDomain(c.Domain),
	}
}

package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/lanServiceFinder/internal/config"
	"github.com/rescp17/lanServiceFinder/pkg/discovery"
	"github.com/rescp17/lanServiceFinder/pkg/discovery/discoverytest"
)

// runConfig executes "config" with args and decodes what it prints.
func runConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"config", "--log-file", ""}, args...))
	if err := cmd.Execute(); err != nil {
		return nil, err
	}
	return config.FromReader(&out)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg, err := runConfig(t)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	cfg, err = runConfig(t,
		"--type", "_ipp._tcp", "-t", "_http._tcp",
		"--prefix", "Office",
		"--backend", "ZEROCONF",
		"--timeout", "3s",
	)
	require.NoError(t, err)
	assert.Equal(t, "zeroconf", cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, []discovery.Configuration{
		{ServiceType: "_ipp._tcp", ServiceNamePrefix: "Office"},
		{ServiceType: "_http._tcp", ServiceNamePrefix: "Office"},
	}, cfg.Searches)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searches.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"backend: mdns",
		"resolve_timeout: 2s",
		"searches:",
		"  - type: _ipp._tcp",
		"  - type: _printer._tcp",
		"    prefix: Lab",
	}, "\n")), 0o644))

	cfg, err := runConfig(t, "--config", path, "--prefix", "Office")
	require.NoError(t, err)
	assert.Equal(t, "mdns", cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, []discovery.Configuration{
		{ServiceType: "_ipp._tcp", ServiceNamePrefix: "Office"},
		{ServiceType: "_printer._tcp", ServiceNamePrefix: "Office"},
	}, cfg.Searches)
}

func TestInvalidFlagsAreRejected(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown backend", []string{"--backend", "bonjour"}},
		{"bad service type", []string{"--type", "printer"}},
		{"non positive timeout", []string{"--timeout", "0s"}},
		{"missing config file", []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runConfig(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBrowsePrintsEvents(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Searches = []discovery.Configuration{{ServiceType: "_ipp._tcp", ServiceNamePrefix: "Office"}}
	p := discoverytest.NewProvider()
	p.AutoResolve = true

	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- browse(ctx, &out, cfg, p) }()

	require.Eventually(t, func() bool { return p.Latest("_ipp._tcp") != nil }, time.Second, 10*time.Millisecond)
	b := p.Latest("_ipp._tcp")

	ad := discoverytest.NewAdvertisement("Office Printer", "_ipp._tcp").
		WithEndpoint("printer.local.", 631, net.ParseIP("10.0.0.7"))
	b.Announce(ad, false)
	b.Announce(discoverytest.NewAdvertisement("Lab Printer", "_ipp._tcp"), false)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Office Printer") }, time.Second, 10*time.Millisecond)

	b.Withdraw(ad, false)
	b.Fail(errors.New("socket closed"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "browsing failure") }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("browse did not return after cancel")
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "   NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "+  Office Printer"))
	assert.Contains(t, lines[1], "10.0.0.7")
	assert.Contains(t, lines[1], "631")
	assert.True(t, strings.HasPrefix(lines[2], "-  Office Printer"))
	assert.True(t, strings.HasPrefix(lines[3], `!  _ipp._tcp (prefix "Office")`))
	assert.NotContains(t, out.String(), "Lab Printer")
}

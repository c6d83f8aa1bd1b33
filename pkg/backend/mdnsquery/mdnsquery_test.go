package mdnsquery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	hmdns "github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
	"github.com/rescp17/lanServiceFinder/pkg/discovery/discoverytest"
)

func answer(name string) *hmdns.ServiceEntry {
	return &hmdns.ServiceEntry{
		Name:       name,
		Host:       "printer.local.",
		AddrV4:     net.ParseIP("10.0.0.7"),
		Port:       631,
		InfoFields: []string{"rp=ipp/print"},
	}
}

// rounds returns a query func that answers round i with script[i] and then
// stays silent.
func rounds(script ...[]*hmdns.ServiceEntry) (func(*hmdns.QueryParam) error, func() []*hmdns.QueryParam) {
	var mu sync.Mutex
	var params []*hmdns.QueryParam
	query := func(p *hmdns.QueryParam) error {
		mu.Lock()
		i := len(params)
		params = append(params, p)
		mu.Unlock()
		if i < len(script) {
			for _, e := range script[i] {
				p.Entries <- e
			}
		}
		return nil
	}
	seen := func() []*hmdns.QueryParam {
		mu.Lock()
		defer mu.Unlock()
		return append([]*hmdns.QueryParam(nil), params...)
	}
	return query, seen
}

func testProvider(query func(*hmdns.QueryParam) error) *Provider {
	return &Provider{
		Interval:     time.Millisecond,
		RoundTimeout: time.Millisecond,
		MissedRounds: 2,
		query:        query,
	}
}

func TestBrowseFindsThenRemovesAfterMissedRounds(t *testing.T) {
	query, params := rounds(
		[]*hmdns.ServiceEntry{answer(`Office\ Printer._ipp._tcp.local.`), answer("other._http._tcp.local.")},
		[]*hmdns.ServiceEntry{answer(`Office\ Printer._ipp._tcp.local.`)},
	)
	l := discoverytest.NewListener()

	h, err := testProvider(query).Browse("_ipp._tcp", "", l)
	require.NoError(t, err)
	defer h.Stop()

	found := l.Next(t, time.Second)
	require.Equal(t, "found", found.Op)
	assert.False(t, found.MoreComing)
	assert.Equal(t, "Office Printer", found.Ad.Name())
	assert.Equal(t, "_ipp._tcp", found.Ad.Type())
	assert.Equal(t, "local", found.Ad.Domain())
	assert.Equal(t, 631, found.Ad.Endpoint().Port)

	removed := l.Next(t, time.Second)
	require.Equal(t, "removed", removed.Op)
	assert.Same(t, found.Ad, removed.Ad)

	p := params()
	require.NotEmpty(t, p)
	assert.Equal(t, "_ipp._tcp", p[0].Service)
	assert.Equal(t, "local", p[0].Domain)
	assert.Equal(t, time.Millisecond, p[0].Timeout)
	assert.GreaterOrEqual(t, len(p), 4, "removal needs the answer round plus two silent rounds")
}

func TestBrowseBatchesMoreComing(t *testing.T) {
	query, _ := rounds([]*hmdns.ServiceEntry{
		answer("a._ipp._tcp.local."),
		answer("b._ipp._tcp.local."),
	})
	l := discoverytest.NewListener()

	h, err := testProvider(query).Browse("_ipp._tcp", "local", l)
	require.NoError(t, err)
	defer h.Stop()

	first := l.Next(t, time.Second)
	second := l.Next(t, time.Second)
	assert.True(t, first.MoreComing)
	assert.False(t, second.MoreComing)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{first.Ad.Name(), second.Ad.Name()})
}

func TestBrowseQueryErrorIsReported(t *testing.T) {
	l := discoverytest.NewListener()
	h, err := testProvider(func(*hmdns.QueryParam) error {
		return errors.New("failed to bind to any multicast udp port")
	}).Browse("_ipp._tcp", "local", l)
	require.NoError(t, err)
	defer h.Stop()

	cb := l.Next(t, time.Second)
	assert.Equal(t, "browse-failed", cb.Op)
	assert.ErrorContains(t, cb.Err, "multicast")
	l.Quiet(t, 20*time.Millisecond)
}

func TestResolveUsesCompleteBrowseAnswer(t *testing.T) {
	called := false
	p := testProvider(func(*hmdns.QueryParam) error {
		called = true
		return nil
	})
	ad := &advertisement{provider: p, info: discovery.ServiceInfo{
		Name: "Office Printer", Type: "_ipp._tcp", Domain: "local",
		IPs: []net.IP{net.ParseIP("10.0.0.7")}, Port: 631,
	}}
	l := discoverytest.NewListener()

	ad.Resolve(time.Second, l)

	cb := l.Next(t, time.Second)
	assert.Equal(t, "resolved", cb.Op)
	assert.False(t, called)
}

func TestResolveQueriesIncompleteAnswer(t *testing.T) {
	query, _ := rounds([]*hmdns.ServiceEntry{
		answer("other._ipp._tcp.local."),
		answer(`Office\ Printer._ipp._tcp.local.`),
	})
	ad := &advertisement{provider: testProvider(query), info: discovery.ServiceInfo{
		Name: "Office Printer", Type: "_ipp._tcp", Domain: "local",
	}}
	l := discoverytest.NewListener()

	ad.Resolve(time.Second, l)

	cb := l.Next(t, time.Second)
	require.Equal(t, "resolved", cb.Op)
	assert.Equal(t, 631, ad.Endpoint().Port)
	assert.Equal(t, "ipp/print", ad.Endpoint().Text["rp"])
}

func TestResolveWithoutAnswerFails(t *testing.T) {
	query, _ := rounds()
	ad := &advertisement{provider: testProvider(query), info: discovery.ServiceInfo{
		Name: "gone", Type: "_ipp._tcp", Domain: "local",
	}}
	l := discoverytest.NewListener()

	ad.Resolve(time.Millisecond, l)

	cb := l.Next(t, time.Second)
	assert.Equal(t, "resolve-failed", cb.Op)
	assert.ErrorIs(t, cb.Err, ErrNotFound)
}

func TestStoppedResolveStaysQuiet(t *testing.T) {
	release := make(chan struct{})
	ad := &advertisement{
		provider: testProvider(func(*hmdns.QueryParam) error {
			<-release
			return nil
		}),
		info: discovery.ServiceInfo{Name: "gone", Type: "_ipp._tcp", Domain: "local"},
	}
	l := discoverytest.NewListener()

	ad.Resolve(time.Second, l)
	ad.Stop()
	close(release)

	l.Quiet(t, 50*time.Millisecond)
}

func TestEntryInfo(t *testing.T) {
	_, ok := entryInfo(nil, "_ipp._tcp", "local")
	assert.False(t, ok)
	_, ok = entryInfo(answer("local."), "_ipp._tcp", "local")
	assert.False(t, ok)
	_, ok = entryInfo(answer("x._http._tcp.local."), "_ipp._tcp", "local")
	assert.False(t, ok)

	e := answer(`Caf\195\169\.Bar._IPP._tcp.local.`)
	e.AddrV6 = net.ParseIP("fe80::7")
	info, ok := entryInfo(e, "_ipp._tcp", "local")
	require.True(t, ok)
	assert.Equal(t, "Café.Bar", info.Name)
	assert.Len(t, info.IPs, 2)
	assert.Equal(t, "10.0.0.7", info.Addr().String())
}

func TestUnescapeLabel(t *testing.T) {
	tests := map[string]string{
		"plain":           "plain",
		`Office\ Printer`: "Office Printer",
		`v1\.2`:           "v1.2",
		`back\\slash`:     `back\slash`,
		`\065BC`:          "ABC",
		`trailing\`:       `trailing\`,
		`not\12`:          "not12",
	}
	for in, want := range tests {
		assert.Equal(t, want, unescapeLabel(in), in)
	}
}

func TestAnnounceStopsWithContext(t *testing.T) {
	// Skip mDNS tests in CI environment as they may be unreliable
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- New().Announce(ctx, discovery.ServiceInfo{
			Name: "test-instance", Type: "_test-service._tcp", Domain: "local", Port: 8080,
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Service announcement did not complete in time")
	}
}

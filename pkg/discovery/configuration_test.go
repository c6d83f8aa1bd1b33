package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		target string
		want   bool
	}{
		{"no prefix matches anything", "", "Anything At All", true},
		{"no prefix matches empty name", "", "", true},
		{"exact name", "GCXDNSKitTest", "GCXDNSKitTest", true},
		{"longer name", "GCXDNSKitTest", "GCXDNSKitTestExtra", true},
		{"prefix not at start", "GCXDNSKitTest", "XGCXDNSKitTest", false},
		{"case sensitive", "GCXDNSKitTest", "gcxdnskittest", false},
		{"shorter name", "GCXDNSKitTest", "GCX", false},
		{"no unicode normalization", "Caf\u00e9", "Cafe\u0301 Bar", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Configuration{ServiceType: "_http._tcp", ServiceNamePrefix: tt.prefix}
			assert.Equal(t, tt.want, Matches(cfg, tt.target))
		})
	}
}

func TestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name        string
		serviceType string
		expectError bool
	}{
		{"tcp service", "_http._tcp", false},
		{"udp service", "_openscreen._udp", false},
		{"trailing dot", "_ipp._tcp.", false},
		{"empty", "", true},
		{"single label", "_http", true},
		{"with domain", "_http._tcp.local.", true},
		{"missing underscore", "http._tcp", true},
		{"bare underscore", "_._tcp", true},
		{"unknown protocol", "_http._sctp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Configuration{ServiceType: tt.serviceType}.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigurationString(t *testing.T) {
	assert.Equal(t, "_http._tcp", Configuration{ServiceType: "_http._tcp"}.String())
	assert.Equal(t, `_http._tcp (prefix "Office")`, Configuration{ServiceType: "_http._tcp", ServiceNamePrefix: "Office"}.String())
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "browsing failure", BrowsingFailure.String())
	assert.Equal(t, "resolving timeout", ResolvingTimeout.String())
	assert.Equal(t, "resolving failure", ResolvingFailure.String())
	assert.Equal(t, "unknown", ErrorKind(42).String())
}

package endpoint

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/protocol"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func urls(eps []Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.URL
	}
	return out
}

func TestResolve_SinglePortNoProxy(t *testing.T) {
	r := Resolver{KnownPorts: []string{"8080"}}

	eps := r.Resolve("host")

	require.Len(t, eps, 3)
	assert.Equal(t, []Endpoint{
		{URL: "ws://host:8080/telemetry/v2/stream", Version: protocol.V2},
		{URL: "ws://host:8080/telemetry/v1/stream", Version: protocol.V1},
		{URL: "ws://host:8080/stream", Version: protocol.V1},
	}, eps)
}

func TestResolve_ExplicitPortOverridesKnownPorts(t *testing.T) {
	r := Resolver{SiteSecure: true, KnownPorts: []string{"8080", "9090"}}

	eps := r.Resolve("metrics.example.com:7000")

	assert.Equal(t, []string{
		"wss://metrics.example.com:7000/telemetry/v2/stream",
		"wss://metrics.example.com:7000/telemetry/v1/stream",
		"wss://metrics.example.com:7000/stream",
	}, urls(eps))
}

func TestResolve_MultiplePortsGroupInOrder(t *testing.T) {
	r := Resolver{KnownPorts: []string{"8080", "9090"}}

	eps := r.Resolve("host")

	require.Len(t, eps, 6)
	for _, ep := range eps[:3] {
		assert.Contains(t, ep.URL, ":8080/")
	}
	for _, ep := range eps[3:] {
		assert.Contains(t, ep.URL, ":9090/")
	}
}

func TestResolve_ProxyInsecurePage(t *testing.T) {
	r := Resolver{
		ProxyEnabled: true,
		ProxyBase:    mustURL(t, "http://dash.local:3000/app/"),
		KnownPorts:   []string{"8080"},
	}

	eps := r.Resolve("host")

	require.Len(t, eps, 6)
	assert.Equal(t, "ws://dash.local:3000/app/v1/proxy/stream?uri="+
		url.QueryEscape("ws://host:8080/telemetry/v2/stream"), eps[3].URL)
	assert.Equal(t, protocol.V2, eps[3].Version)
	assert.Equal(t, protocol.V1, eps[4].Version)
	assert.Equal(t, protocol.V1, eps[5].Version)
	for _, ep := range eps[3:] {
		assert.NotContains(t, ep.URL, url.QueryEscape("wss://"))
	}
}

func TestResolver_ProxyRoute(t *testing.T) {
	assert.Equal(t, "/v1/proxy/stream", Resolver{}.ProxyRoute())
	assert.Equal(t, "/v1/proxy/stream", Resolver{ProxyBase: mustURL(t, "http://dash.local:3000")}.ProxyRoute())
	assert.Equal(t, "/portal/v1/proxy/stream", Resolver{ProxyBase: mustURL(t, "https://dash.local/portal")}.ProxyRoute())
	assert.Equal(t, "/portal/v1/proxy/stream", Resolver{ProxyBase: mustURL(t, "https://dash.local/portal/")}.ProxyRoute())
}

func TestResolve_ProxySecurePageAddsInsecureTargets(t *testing.T) {
	r := Resolver{
		SiteSecure:   true,
		ProxyEnabled: true,
		ProxyBase:    mustURL(t, "https://dash.example.com/"),
		KnownPorts:   []string{"8080"},
	}

	eps := r.Resolve("host")

	require.Len(t, eps, 9)
	prefix := "wss://dash.example.com:443/v1/proxy/stream?uri="
	assert.Equal(t, prefix+url.QueryEscape("wss://host:8080/telemetry/v2/stream"), eps[3].URL)
	assert.Equal(t, prefix+url.QueryEscape("ws://host:8080/telemetry/v2/stream"), eps[6].URL)
	assert.Equal(t, prefix+url.QueryEscape("ws://host:8080/stream"), eps[8].URL)
}

func TestResolve_DirectPrecedesProxied(t *testing.T) {
	r := Resolver{
		SiteSecure:   true,
		ProxyEnabled: true,
		ProxyBase:    mustURL(t, "https://dash.example.com:8443/"),
		KnownPorts:   []string{"1", "2", "3"},
	}

	eps := r.Resolve("host")

	seenProxy := false
	for _, ep := range eps {
		proxied := strings.Contains(ep.URL, ProxyPath)
		if seenProxy {
			assert.True(t, proxied, "direct endpoint %s after proxied one", ep.URL)
		}
		seenProxy = seenProxy || proxied
	}
	assert.True(t, seenProxy)
	assert.Equal(t, eps, r.Resolve("host"))
}

func TestResolve_LoopbackSkipsProxy(t *testing.T) {
	r := Resolver{
		ProxyEnabled: true,
		ProxyBase:    mustURL(t, "http://dash.local/"),
		KnownPorts:   []string{"8080"},
	}

	for _, host := range []string{"localhost", "127.0.0.1", "[::1]", "LOCALHOST"} {
		t.Run(host, func(t *testing.T) {
			assert.Len(t, r.Resolve(host), 3)
		})
	}
}

func TestResolve_EmptyInputs(t *testing.T) {
	assert.Empty(t, Resolver{KnownPorts: []string{"8080"}}.Resolve(""))
	assert.Empty(t, Resolver{KnownPorts: []string{"8080"}}.Resolve("   "))
	assert.Empty(t, Resolver{}.Resolve("host"))
}

func TestResolve_IPv6Literal(t *testing.T) {
	r := Resolver{KnownPorts: []string{"8080"}}

	eps := r.Resolve("[fe80::1]:9000")

	require.Len(t, eps, 3)
	assert.Equal(t, "ws://[fe80::1]:9000/telemetry/v2/stream", eps[0].URL)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, IsLoopback("localhost"))
	assert.True(t, IsLoopback("::1"))
	assert.False(t, IsLoopback("10.0.0.1"))
	assert.False(t, IsLoopback("localhost.example.com"))
}

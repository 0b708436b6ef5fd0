// Package endpoint expands a server specification into the ordered list of
// WebSocket endpoints a connection engine walks: direct endpoints first,
// then endpoints routed through the local proxy.
package endpoint

import (
	"net"
	"net/url"
	"strings"

	"github.com/c360/streamview/protocol"
)

// Stream paths in priority order.
const (
	PathV2     = "/telemetry/v2/stream"
	PathV1     = "/telemetry/v1/stream"
	PathLegacy = "/stream"

	// ProxyPath is appended to the proxy base path.
	ProxyPath = "v1/proxy/stream"
)

var streamPaths = []struct {
	path    string
	version protocol.Version
}{
	{PathV2, protocol.V2},
	{PathV1, protocol.V1},
	{PathLegacy, protocol.V1},
}

// Endpoint is one dialable URL with the protocol version it speaks.
type Endpoint struct {
	URL     string           `json:"url"`
	Version protocol.Version `json:"version"`
}

// Resolver holds the environment needed to expand server specs.
type Resolver struct {
	// SiteSecure selects wss for direct endpoints.
	SiteSecure bool
	// ProxyEnabled adds proxied endpoints for non-loopback hosts.
	ProxyEnabled bool
	// ProxyBase is the scheme, host, port and path the proxy is served
	// under, e.g. wss://dash.example.com:443/. Required when ProxyEnabled.
	ProxyBase *url.URL
	// KnownPorts are tried when the server spec has no explicit port.
	KnownPorts []string
}

// Resolve returns the candidate endpoints for serverSpec ("host" or
// "host:port"). The order is deterministic: for each port the V2, V1 and
// legacy direct URLs, then, if the proxy applies, the same triple per port
// through the proxy, followed on secure sites by a proxied triple aimed at
// the insecure direct URL. An empty host or no usable port yields nil.
func (r Resolver) Resolve(serverSpec string) []Endpoint {
	host, ports := r.splitSpec(serverSpec)
	if host == "" || len(ports) == 0 {
		return nil
	}

	scheme := "ws"
	if r.SiteSecure {
		scheme = "wss"
	}

	var out []Endpoint
	for _, port := range ports {
		out = append(out, triple(directPrefix(scheme, host, port), nil)...)
	}

	if !r.ProxyEnabled || r.ProxyBase == nil || IsLoopback(host) {
		return out
	}

	proxy := r.proxyURL()
	for _, port := range ports {
		out = append(out, triple(directPrefix(scheme, host, port), proxy)...)
		if r.SiteSecure {
			out = append(out, triple(directPrefix("ws", host, port), proxy)...)
		}
	}
	return out
}

// splitSpec separates host and port. Bracketed IPv6 literals are accepted.
func (r Resolver) splitSpec(spec string) (string, []string) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", nil
	}
	if host, port, err := net.SplitHostPort(spec); err == nil {
		if port == "" {
			return host, r.KnownPorts
		}
		return host, []string{port}
	}
	host := strings.TrimSuffix(strings.TrimPrefix(spec, "["), "]")
	return host, r.KnownPorts
}

func directPrefix(scheme, host, port string) string {
	return scheme + "://" + net.JoinHostPort(host, port)
}

// triple builds the three stream endpoints for prefix, wrapping each through
// the proxy when proxy is non-nil.
func triple(prefix string, proxy *url.URL) []Endpoint {
	out := make([]Endpoint, 0, len(streamPaths))
	for _, sp := range streamPaths {
		target := prefix + sp.path
		if proxy == nil {
			out = append(out, Endpoint{URL: target, Version: sp.version})
			continue
		}
		out = append(out, Endpoint{URL: ProxiedURL(proxy, target), Version: sp.version})
	}
	return out
}

// proxyURL returns <scheme>://<host>:<port><path>v1/proxy/stream.
func (r Resolver) proxyURL() *url.URL {
	u := *r.ProxyBase
	u.RawQuery = ""
	u.Fragment = ""
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if u.Port() == "" {
		if u.Scheme == "wss" {
			u.Host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			u.Host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.Path += ProxyPath
	return &u
}

// ProxyRoute is the request path the proxy answers on for this resolver's
// proxy base, e.g. /portal/v1/proxy/stream.
func (r Resolver) ProxyRoute() string {
	if r.ProxyBase == nil {
		return "/" + ProxyPath
	}
	return r.proxyURL().Path
}

// ProxiedURL wraps target as the uri query parameter of the proxy URL.
func ProxiedURL(proxy *url.URL, target string) string {
	return proxy.String() + "?uri=" + url.QueryEscape(target)
}

// IsLoopback reports whether host names this machine, in which case the
// proxy could add nothing a direct connection cannot reach.
func IsLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

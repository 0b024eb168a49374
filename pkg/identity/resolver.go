// Package identity derives the rate-limit key for an inbound HTTP request.
//
// The key is the client address: the left-most entry of the forwarded-address
// header when present, otherwise the transport peer. Addresses are parsed and
// normalized, so "::ffff:192.0.2.1", "192.0.2.1" and "192.0.2.1:4711" are the
// same client. An authenticated principal can be folded into the key with
// WithPrincipal.
//
// A request with no usable address fails with ErrIdentityUnresolvable. Callers
// that prefer to throttle such requests together can opt into a shared bucket
// with WithAnonymousKey; nothing falls back to it implicitly.
package identity

import (
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/manenim/gateway-admission/pkg/limiter"
)

const DefaultForwardedHeader = "X-Forwarded-For"

var ErrIdentityUnresolvable = errors.New("identity: client address unresolvable")

// PrincipalFunc returns the authenticated principal of a request, or "" when
// the request is not authenticated.
type PrincipalFunc func(r *http.Request) string

type Resolver struct {
	header         string
	trustForwarded bool
	principal      PrincipalFunc
	anonymousKey   string
}

type Option func(*Resolver)

// WithForwardedHeader changes the header read for the proxy chain.
func WithForwardedHeader(name string) Option {
	return func(r *Resolver) {
		if name != "" {
			r.header = http.CanonicalHeaderKey(name)
		}
	}
}

// WithTrustForwarded controls whether the forwarded header is read at all.
// Disable it when the gateway is reachable without a proxy in front, since
// clients can then forge the header.
func WithTrustForwarded(trust bool) Option {
	return func(r *Resolver) {
		r.trustForwarded = trust
	}
}

func WithPrincipal(fn PrincipalFunc) Option {
	return func(r *Resolver) {
		r.principal = fn
	}
}

// WithAnonymousKey makes requests without a usable address share one bucket
// under key instead of failing.
func WithAnonymousKey(key string) Option {
	return func(r *Resolver) {
		r.anonymousKey = key
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		header:         DefaultForwardedHeader,
		trustForwarded: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identity to rate-limit req under.
func (r *Resolver) Resolve(req *http.Request) (limiter.Identity, error) {
	addr, ok := r.address(req)
	if !ok {
		if r.anonymousKey != "" {
			return limiter.Identity{Namespace: limiter.NamespaceAnonymous, Key: r.anonymousKey}, nil
		}
		return limiter.Identity{}, ErrIdentityUnresolvable
	}

	if r.principal != nil {
		if p := r.principal(req); p != "" {
			// an address never contains '/', so the first one separates the parts
			return limiter.Identity{Namespace: limiter.NamespacePrincipal, Key: addr + "/" + p}, nil
		}
	}
	return limiter.Identity{Namespace: limiter.NamespaceIP, Key: addr}, nil
}

func (r *Resolver) address(req *http.Request) (string, bool) {
	if r.trustForwarded {
		if chain := req.Header.Get(r.header); chain != "" {
			first, _, _ := strings.Cut(chain, ",")
			if addr, ok := parseAddr(first); ok {
				return addr, true
			}
		}
	}
	return parseAddr(req.RemoteAddr)
}

// parseAddr accepts "ip", "ip:port" and "[ipv6]:port" and returns the
// canonical text form of the ip.
func parseAddr(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	ip, err := netip.ParseAddr(s)
	if err != nil || ip.IsUnspecified() {
		return "", false
	}
	return ip.Unmap().WithZone("").String(), true
}

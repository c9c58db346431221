// Package transport owns the pooled outbound RoundTrippers the dispatcher
// uses to reach upstreams (spec.md §4.7). Adapted from the teacher's
// internal/forward/registry.go, which pre-registers "http1"/"auto" and
// leaves a comment that h2c/h3 should be "registered lazily in another
// file when needed" — this package fills that in with a real
// golang.org/x/net/http2 transport for HTTP/2 and h2c origins, the
// natural golang.org/x sibling of the teacher's already-used
// golang.org/x/time.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Well-known transport names, one per config.Protocol upstream flavor.
const (
	ProtoHTTP1 = "http1" // strictly HTTP/1.1 to upstream
	ProtoAuto  = "auto"  // ALPN, allow h2 over TLS when available
	ProtoH2C   = "h2c"   // HTTP/2 over plaintext (prior-knowledge)
	ProtoGRPC  = "grpc"  // same ALPN transport as auto: h2 only over TLS
)

// Options tunes the default transports (spec.md §4.7/§5 pool sizing).
type Options struct {
	DialTimeout   time.Duration
	DialKeepAlive time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	MaxConnsPerHost     int

	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration

	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
}

// DefaultOptions mirrors the teacher's battle-tested proxy settings, with
// IdleConnTimeout matching spec.md §4.7's T_idle_conn default of 90s.
func DefaultOptions() Options {
	return Options{
		DialTimeout:           5 * time.Second,
		DialKeepAlive:         60 * time.Second,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Factory returns a RoundTripper by name.
type Factory interface {
	Get(name string) http.RoundTripper
	Register(name string, rt http.RoundTripper)
	CloseIdle()
}

// Registry is a threadsafe map of named RoundTrippers.
type Registry struct {
	mu    sync.RWMutex
	store map[string]http.RoundTripper
	opts  Options
}

func NewDefaultRegistry() *Registry { return NewRegistry(DefaultOptions()) }

// NewRegistry builds a registry with the given options and pre-registers
// http1/auto/h2c/grpc.
func NewRegistry(opts Options) *Registry {
	r := &Registry{store: make(map[string]http.RoundTripper), opts: opts}
	r.store[ProtoHTTP1] = r.newHTTP1()
	r.store[ProtoAuto] = r.newAuto()
	r.store[ProtoH2C] = r.newH2C()
	r.store[ProtoGRPC] = r.newAuto()
	return r
}

func (r *Registry) Get(name string) http.RoundTripper {
	r.mu.RLock()
	rt, ok := r.store[name]
	r.mu.RUnlock()
	if ok && rt != nil {
		return rt
	}
	r.mu.RLock()
	fb := r.store[ProtoHTTP1]
	r.mu.RUnlock()
	return fb
}

func (r *Registry) Register(name string, rt http.RoundTripper) {
	if name == "" || rt == nil {
		return
	}
	r.mu.Lock()
	r.store[name] = rt
	r.mu.Unlock()
}

// CloseIdle calls CloseIdleConnections on every transport that supports it.
func (r *Registry) CloseIdle() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.store {
		if closer, ok := rt.(interface{ CloseIdleConnections() }); ok {
			closer.CloseIdleConnections()
		}
	}
}

func (r *Registry) newHTTP1() http.RoundTripper {
	dialer := &net.Dialer{Timeout: r.opts.DialTimeout, KeepAlive: r.opts.DialKeepAlive}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: r.opts.InsecureSkipVerify, RootCAs: r.opts.RootCAs, NextProtos: []string{"http/1.1"}},
		MaxIdleConns:          r.opts.MaxIdleConns,
		MaxIdleConnsPerHost:   r.opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       r.opts.IdleConnTimeout,
		MaxConnsPerHost:       r.opts.MaxConnsPerHost,
		TLSHandshakeTimeout:   r.opts.TLSHandshakeTimeout,
		ExpectContinueTimeout: r.opts.ExpectContinueTimeout,
	}
	if r.opts.ResponseHeaderTimeout > 0 {
		tr.ResponseHeaderTimeout = r.opts.ResponseHeaderTimeout
	}
	return tr
}

func (r *Registry) newAuto() http.RoundTripper {
	dialer := &net.Dialer{Timeout: r.opts.DialTimeout, KeepAlive: r.opts.DialKeepAlive}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true, // ALPN to h2 when possible
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: r.opts.InsecureSkipVerify, RootCAs: r.opts.RootCAs},
		MaxIdleConns:          r.opts.MaxIdleConns,
		MaxIdleConnsPerHost:   r.opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       r.opts.IdleConnTimeout,
		MaxConnsPerHost:       r.opts.MaxConnsPerHost,
		TLSHandshakeTimeout:   r.opts.TLSHandshakeTimeout,
		ExpectContinueTimeout: r.opts.ExpectContinueTimeout,
	}
	if r.opts.ResponseHeaderTimeout > 0 {
		tr.ResponseHeaderTimeout = r.opts.ResponseHeaderTimeout
	}
	return tr
}

// newH2C dials HTTP/2 with prior knowledge over a plain TCP connection —
// upstreams that speak h2c (no TLS, no ALPN negotiation), as used by
// gRPC servers that don't terminate TLS at this hop.
func (r *Registry) newH2C() http.RoundTripper {
	dialer := &net.Dialer{Timeout: r.opts.DialTimeout, KeepAlive: r.opts.DialKeepAlive}
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

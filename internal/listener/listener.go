// Package listener owns the per-port accept loops spec.md §4.1 and §9
// describe: one running listener per (port, protocol, tls_domains)
// tuple, started when a reload introduces it, left running untouched
// when a reload leaves the tuple unchanged, and drained (default 30s)
// when a reload removes it.
//
// Grounded in the teacher's cmd/gateway/main.go single-listener
// bootstrap and internal/handler/tcp.go's raw accept loop, generalized
// from one fixed *http.Server to a Manager that reconciles a set of
// listeners against a router.Snapshot on every config reload.
package listener

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/spire-proxy/spire/internal/cert"
	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/dispatcher"
	"github.com/spire-proxy/spire/internal/gateway"
	"github.com/spire-proxy/spire/internal/logging"
	"github.com/spire-proxy/spire/internal/router"
)

// DefaultDrainTimeout is spec.md §9's default grace period for a
// listener whose tuple was removed by a reload.
const DefaultDrainTimeout = 30 * time.Second

type tuple struct {
	port     uint16
	protocol config.Protocol
	domains  string // sorted, joined TLS domains; part of listener identity
}

// running is one active listener: either an *http.Server (HTTP1/HTTP2,
// TLS or not) or a raw TCP accept loop.
type running struct {
	tuple    tuple
	httpSrv  *http.Server
	tcpLn    net.Listener
	tcpStop  chan struct{}
	tcpWG    sync.WaitGroup
}

// Manager reconciles the desired listener set (from the latest
// router.Snapshot) against the listeners actually running.
type Manager struct {
	mu       sync.Mutex
	running  map[tuple]*running
	gateway  *gateway.Gateway
	dispatch *dispatcher.Dispatcher
	certs    *cert.Store
	log      *logrus.Logger
	drain    time.Duration
}

func NewManager(gw *gateway.Gateway, disp *dispatcher.Dispatcher, certs *cert.Store, log *logrus.Logger) *Manager {
	return &Manager{
		running:  make(map[tuple]*running),
		gateway:  gw,
		dispatch: disp,
		certs:    certs,
		log:      log,
		drain:    DefaultDrainTimeout,
	}
}

// Len reports the number of listeners currently running, for callers
// (admin's config PUT handler, tests) that need to observe a Reconcile's
// effect without reaching into Manager's internals.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func tupleOf(s *router.Server) tuple {
	names := make([]string, 0, len(s.TLSDomains))
	for d := range s.TLSDomains {
		names = append(names, d)
	}
	sort.Strings(names)
	return tuple{port: s.ListenPort, protocol: s.Protocol, domains: strings.Join(names, ",")}
}

// Reconcile starts listeners for servers introduced since the last call,
// leaves listeners whose tuple is unchanged alone, and drains listeners
// for tuples no longer present.
func (m *Manager) Reconcile(servers []*router.Server) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[tuple]*router.Server, len(servers))
	for _, s := range servers {
		want[tupleOf(s)] = s
	}

	for tp, r := range m.running {
		if _, ok := want[tp]; !ok {
			m.drainLocked(tp, r)
		}
	}
	for tp, s := range want {
		if _, ok := m.running[tp]; ok {
			continue
		}
		r, err := m.start(s)
		if err != nil {
			m.log.WithError(err).WithField("port", s.ListenPort).Error("failed to start listener")
			continue
		}
		m.running[tp] = r
	}
}

func (m *Manager) drainLocked(tp tuple, r *running) {
	delete(m.running, tp)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.drain)
		defer cancel()
		if r.httpSrv != nil {
			_ = r.httpSrv.Shutdown(ctx)
		}
		if r.tcpLn != nil {
			close(r.tcpStop)
			_ = r.tcpLn.Close()
			r.tcpWG.Wait()
		}
		m.log.WithField("port", tp.port).Info("listener drained")
	}()
}

func (m *Manager) start(s *router.Server) (*running, error) {
	tp := tupleOf(s)
	addr := portAddr(s.ListenPort)

	switch s.Protocol {
	case config.ProtocolTCP:
		return m.startTCP(tp, addr, s.ListenPort)
	default:
		return m.startHTTP(tp, addr, s)
	}
}

func (m *Manager) startHTTP(tp tuple, addr string, s *router.Server) (*running, error) {
	handler := m.gateway.ForPort(s.ListenPort)

	srv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	switch s.Protocol {
	case config.ProtocolHTTP1:
		srv.Handler = handler
	case config.ProtocolHTTP2:
		// h2c: HTTP/2 without TLS, negotiated via prior-knowledge or
		// upgrade, golang.org/x/net/http2/h2c fills the gap net/http
		// itself leaves for cleartext HTTP/2.
		h2s := &http2.Server{}
		srv.Handler = h2c.NewHandler(handler, h2s)
	case config.ProtocolHTTPS:
		srv.Handler = handler
		srv.TLSConfig = m.tlsConfig()
	case config.ProtocolHTTP2TLS:
		srv.Handler = handler
		srv.TLSConfig = m.tlsConfig()
		srv.TLSConfig.NextProtos = []string{"h2", "http/1.1"}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		var serveErr error
		if s.Protocol == config.ProtocolHTTPS || s.Protocol == config.ProtocolHTTP2TLS {
			serveErr = srv.ServeTLS(ln, "", "")
		} else {
			serveErr = srv.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			m.log.WithError(serveErr).WithField("port", s.ListenPort).Error("listener stopped")
		}
	}()

	return &running{tuple: tp, httpSrv: srv}, nil
}

func (m *Manager) tlsConfig() *tls.Config {
	return &tls.Config{GetCertificate: m.certs.GetCertificate}
}

func (m *Manager) startTCP(tp tuple, addr string, port uint16) (*running, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := &running{tuple: tp, tcpLn: ln, tcpStop: make(chan struct{})}
	r.tcpWG.Add(1)
	go func() {
		defer r.tcpWG.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-r.tcpStop:
					return
				default:
					m.log.WithError(err).WithField("port", port).Warn("tcp accept failed")
					return
				}
			}
			go m.handleTCP(conn, port)
		}
	}()
	return r, nil
}

func (m *Manager) handleTCP(conn net.Conn, port uint16) {
	defer logging.Recover(m.log, "tcp-connection")
	defer conn.Close()
	snap := m.gateway.Bus.Snapshot()
	if snap == nil {
		conn.Close()
		return
	}
	server, ok := snap.ServerByPort(port)
	if !ok || len(server.Routes) == 0 {
		conn.Close()
		return
	}
	route := server.Routes[0]
	ep, ok := m.gateway.Balancer.Select(route.Forward, nil)
	if !ok {
		conn.Close()
		return
	}
	timeout := config.TimeoutSpec{}
	if route.Timeout != nil {
		timeout = *route.Timeout
	}
	m.dispatch.DispatchTCP(conn, ep, timeout, dispatcher.Feedback{
		UnhealthyThreshold: config.DefaultUnhealthyThreshold,
		HealthyThreshold:   config.DefaultHealthyThreshold,
	})
}

func portAddr(port uint16) string {
	return ":" + itoa(port)
}

func itoa(port uint16) string {
	if port == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	n := port
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// DrainAll shuts down every running listener immediately (process
// shutdown, not reload-driven drain).
func (m *Manager) DrainAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var wg sync.WaitGroup
	for tp, r := range m.running {
		wg.Add(1)
		go func(r *running) {
			defer wg.Done()
			if r.httpSrv != nil {
				_ = r.httpSrv.Shutdown(ctx)
			}
			if r.tcpLn != nil {
				close(r.tcpStop)
				_ = r.tcpLn.Close()
				r.tcpWG.Wait()
			}
		}(r)
		delete(m.running, tp)
	}
	wg.Wait()
}

// Package router compiles a []config.Server into an immutable Snapshot
// (spec.md §3 RouteTable) and resolves requests against it (spec.md §4.1).
// Compilation — including all regex compilation — happens once per
// reload, never on the request hot path.
//
// Snapshot lifetime follows spec.md §9's resolution of the "old snapshots
// retained until the last in-flight request completes" requirement: a
// request pins the *Snapshot pointer it resolved against for its whole
// lifetime (see internal/control.Bus.Current), and Go's garbage collector
// keeps that snapshot alive for as long as any request still references
// it. No manual reference counting is needed.
package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/matcher"
)

// Route is a compiled config.Route: matchers ready to evaluate, everything
// else passed through for the middleware pipeline and dispatcher to use.
type Route struct {
	ID          string
	Matchers    []matcher.Matcher
	Forward     config.ForwardSpec
	Middlewares []config.MiddlewareSpec
	PathRewrite *config.RewriteSpec
	HealthCheck *config.HealthSpec
	Timeout     *config.TimeoutSpec
}

func (rt *Route) matches(r *http.Request) bool {
	for _, m := range rt.Matchers {
		if !m.Match(r) {
			return false
		}
	}
	return true
}

// Server is a compiled config.Server: its routes in declared order.
type Server struct {
	ListenPort uint16
	Protocol   config.Protocol
	TLSDomains map[string]struct{}
	Routes     []*Route
}

// Snapshot is the immutable, atomically-swappable routing table
// (spec.md §3 RouteTable).
type Snapshot struct {
	byPort map[uint16]*Server
}

// Servers returns every compiled server, for listener bootstrap/diffing.
func (s *Snapshot) Servers() []*Server {
	out := make([]*Server, 0, len(s.byPort))
	for _, srv := range s.byPort {
		out = append(out, srv)
	}
	return out
}

func (s *Snapshot) ServerByPort(port uint16) (*Server, bool) {
	srv, ok := s.byPort[port]
	return srv, ok
}

// Build compiles a full config into a Snapshot. A matcher compile failure
// (e.g. bad regex) fails the whole build; the caller must keep the
// previous Snapshot active (spec.md §9).
func Build(servers []config.Server) (*Snapshot, error) {
	byPort := make(map[uint16]*Server, len(servers))
	for _, s := range servers {
		routes := make([]*Route, 0, len(s.Routes))
		for _, r := range s.Routes {
			if s.Protocol == config.ProtocolTCP && r.Forward.Kind == config.ForwardHeaderBased {
				return nil, fmt.Errorf("port %d: header_based forward is not supported on a tcp server (no HTTP headers to match on)", s.ListenPort)
			}
			ms, err := matcher.Compile(r.Matchers)
			if err != nil {
				return nil, err
			}
			routes = append(routes, &Route{
				ID:          r.ID,
				Matchers:    ms,
				Forward:     r.Forward,
				Middlewares: r.Middlewares,
				PathRewrite: r.PathRewrite,
				HealthCheck: r.HealthCheck,
				Timeout:     r.Timeout,
			})
		}
		domains := make(map[string]struct{}, len(s.TLSDomains))
		for _, d := range s.TLSDomains {
			domains[strings.ToLower(d)] = struct{}{}
		}
		byPort[s.ListenPort] = &Server{
			ListenPort: s.ListenPort,
			Protocol:   s.Protocol,
			TLSDomains: domains,
			Routes:     routes,
		}
	}
	return &Snapshot{byPort: byPort}, nil
}

// Resolve iterates server.Routes in declared order; the first route whose
// matchers all hold wins (spec.md §4.1). Deterministic: always the same
// result for the same (request, snapshot) pair.
func Resolve(server *Server, r *http.Request) (*Route, bool) {
	for _, route := range server.Routes {
		if route.matches(r) {
			return route, true
		}
	}
	return nil, false
}

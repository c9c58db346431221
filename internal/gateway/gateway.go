// Package gateway wires the router, matcher, load balancer, middleware
// chain, and dispatcher into the single http.Handler a listener binds to
// spec.md §4.1's per-port accept loop. It is the request-path equivalent
// of the teacher's internal/handler.Gateway — adapted from a single
// fixed routing table and balancer set to the hot-swappable
// control.Bus snapshot the rest of this module is built around, and from
// one reverse-proxy shape to the full matcher -> forward -> middleware ->
// dispatch pipeline spec.md §5 describes.
package gateway

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spire-proxy/spire/internal/breaker"
	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/control"
	"github.com/spire-proxy/spire/internal/dispatcher"
	"github.com/spire-proxy/spire/internal/lb"
	"github.com/spire-proxy/spire/internal/logging"
	"github.com/spire-proxy/spire/internal/metrics"
	"github.com/spire-proxy/spire/internal/middleware"
	"github.com/spire-proxy/spire/internal/router"
	"github.com/spire-proxy/spire/internal/spireerr"
)

// Gateway serves one listener's traffic by re-resolving the active
// control.Bus snapshot on every request, so a hot reload takes effect
// for the very next request without restarting the listener.
type Gateway struct {
	Bus        *control.Bus
	Balancer   *lb.Balancer
	Dispatcher *dispatcher.Dispatcher
	Metrics    *metrics.Registry
	Log        *logrus.Logger
}

func New(bus *control.Bus, disp *dispatcher.Dispatcher, m *metrics.Registry, log *logrus.Logger) *Gateway {
	return &Gateway{
		Bus:        bus,
		Balancer:   lb.New(bus.Health, bus.Cursors),
		Dispatcher: disp,
		Metrics:    m,
		Log:        log,
	}
}

// ForPort returns an http.Handler bound to one listener's port. The
// returned handler re-reads the Bus snapshot per request, so it stays
// correct across reloads without the listener itself restarting.
func (g *Gateway) ForPort(port uint16) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, port)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, port uint16) {
	start := time.Now()
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)
	if g.Log != nil {
		defer logging.Recover(g.Log, "http-request")
	}
	lw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	var routeID, status string
	defer func() {
		if g.Metrics != nil {
			g.Metrics.IncRequest(routeID, status)
		}
		if g.Log != nil {
			g.Log.WithFields(logrus.Fields{
				"request_id":  requestID,
				"route":       routeID,
				"status":      lw.code,
				"duration_ms": time.Since(start).Milliseconds(),
				"method":      r.Method,
				"path":        r.URL.Path,
			}).Info("request")
		}
	}()

	snap := g.Bus.Snapshot()
	if snap == nil {
		dispatcher.WriteError(lw, r, spireerr.ErrNoRouteMatched)
		status = strconv.Itoa(lw.code)
		return
	}
	server, ok := snap.ServerByPort(port)
	if !ok {
		dispatcher.WriteError(lw, r, spireerr.ErrNoRouteMatched)
		status = strconv.Itoa(lw.code)
		return
	}
	route, ok := router.Resolve(server, r)
	if !ok {
		dispatcher.WriteError(lw, r, spireerr.ErrNoRouteMatched)
		status = strconv.Itoa(lw.code)
		return
	}
	routeID = route.ID

	deps := middleware.Deps{
		RouteID:      route.ID,
		TokenBuckets: g.Bus.TokenBuckets,
		Windows:      g.Bus.Windows,
		Breakers:     g.Bus.Breakers,
		JWKS:         g.Bus.JWKS,
	}
	chain, err := middleware.Build(route.Middlewares, deps)
	if err != nil {
		dispatcher.WriteError(lw, r, spireerr.ErrConfigInvalid)
		status = strconv.Itoa(lw.code)
		return
	}

	res, traversed := chain.Request(lw, r)
	if res.Done {
		// Symmetric unwind (spec.md §4.6/§9): every middleware that saw
		// on_request also gets a chance at on_response, even though this
		// response never reached the dispatcher. Every OnResponse in this
		// package writes straight to lw.Header() rather than reading the
		// *http.Response it's handed, so a nil resp here is safe — it's
		// only ever a real upstream response on the non-short-circuit path
		// below.
		chain.Response(lw, r, nil, traversed)
		for k, vv := range res.Headers {
			for _, v := range vv {
				lw.Header().Add(k, v)
			}
		}
		dispatcher.WriteTerminal(lw, r, statusOr(res.StatusCode, http.StatusForbidden), res.Body)
		status = strconv.Itoa(lw.code)
		return
	}

	if route.Forward.Kind == config.ForwardFile {
		g.serveFile(lw, r, route)
		status = strconv.Itoa(lw.code)
		return
	}

	ep, ok := g.Balancer.Select(route.Forward, r)
	if !ok {
		err := spireerr.ErrNoEndpointAvailable
		if route.Forward.Kind == config.ForwardHeaderBased {
			http.NotFound(lw, r)
			status = strconv.Itoa(lw.code)
			return
		}
		dispatcher.WriteError(lw, r, err)
		status = strconv.Itoa(lw.code)
		return
	}
	g.Bus.Health.Touch(ep.Identity)

	breakerKey := ""
	var breakerCfg breaker.Config
	for _, mw := range route.Middlewares {
		if mw.Kind == config.MiddlewareCircuitBreaker {
			breakerKey = route.ID
			breakerCfg = breaker.Config{
				Threshold: mw.BreakerThreshold,
				Window:    mw.BreakerWindow,
				Cooldown:  mw.BreakerCooldown,
			}
			break
		}
	}
	unhealthy, healthy, passive5xxOnly := healthThresholds(route.HealthCheck)

	timeout := config.TimeoutSpec{}
	if route.Timeout != nil {
		timeout = *route.Timeout
	}

	resp, err := g.Dispatcher.Dispatch(r, ep, route.PathRewrite, timeout, dispatcher.Feedback{
		BreakerKey:         breakerKey,
		BreakerConfig:      breakerCfg,
		UnhealthyThreshold: unhealthy,
		HealthyThreshold:   healthy,
		Passive5xxOnly:     passive5xxOnly,
	})
	if err != nil {
		dispatcher.WriteError(lw, r, err)
		status = strconv.Itoa(lw.code)
		return
	}
	defer resp.Body.Close()

	chain.Response(lw, r, resp, traversed)
	dispatcher.WriteResponse(lw, resp)
	status = strconv.Itoa(resp.StatusCode)
}

func statusOr(code, fallback int) int {
	if code == 0 {
		return fallback
	}
	return code
}

func healthThresholds(spec *config.HealthSpec) (unhealthy, healthy int, passive5xxOnly bool) {
	if spec == nil {
		return config.DefaultUnhealthyThreshold, config.DefaultHealthyThreshold, true
	}
	return spec.UnhealthyThreshold, spec.HealthyThreshold, spec.Passive5xxOnly
}

// serveFile answers a File forward directly from disk, the one forward
// kind the load balancer never selects an endpoint for (spec.md §4.2).
// http.FileServer only ever resolves a directory request against a
// hardcoded "index.html", so a directory request is checked against the
// configured FileIndexFiles candidates (in order) before falling back to
// FileServer's default behavior for every other request.
func (g *Gateway) serveFile(w http.ResponseWriter, r *http.Request, route *router.Route) {
	if index := indexFileFor(route.Forward.FileRoot, r.URL.Path, route.Forward.FileIndexFiles); index != "" {
		http.ServeFile(w, r, index)
		return
	}
	http.FileServer(http.Dir(route.Forward.FileRoot)).ServeHTTP(w, r)
}

// indexFileFor returns the first of candidates that exists as a regular
// file inside the directory urlPath resolves to under root, or "" if
// urlPath isn't a directory request or none of the candidates exist.
func indexFileFor(root, urlPath string, candidates []string) string {
	if len(candidates) == 0 || !strings.HasSuffix(urlPath, "/") {
		return ""
	}
	dir := filepath.Join(root, filepath.FromSlash(path.Clean("/"+urlPath)))
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return ""
	}
	for _, name := range candidates {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	code      int
	bytes     int64
	wroteCode bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteCode {
		return
	}
	w.wroteCode = true
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteCode {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

package middleware

import (
	"net"
	"net/http"
	"strconv"

	"github.com/spire-proxy/spire/internal/config"
)

// rateLimit implements spec.md §4.5: admission via either a token
// bucket or a fixed window, keyed by route_id plus an optional
// dimension (global | client_ip | header_value).
type rateLimit struct {
	deps Deps
	spec config.MiddlewareSpec
}

func newRateLimit(spec config.MiddlewareSpec, deps Deps) (*rateLimit, error) {
	return &rateLimit{deps: deps, spec: spec}, nil
}

func (m *rateLimit) key(r *http.Request) string {
	dim := ""
	switch m.spec.RateLimitDim {
	case "client_ip":
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			dim = host
		} else {
			dim = r.RemoteAddr
		}
	case "header_value":
		dim = r.Header.Get(m.spec.RateLimitHeader)
	}
	if dim == "" {
		return m.deps.RouteID
	}
	return m.deps.RouteID + "|" + dim
}

func (m *rateLimit) OnRequest(_ http.ResponseWriter, r *http.Request) Result {
	key := m.key(r)

	var allowed bool
	var retryAfterSeconds int
	if m.spec.RateLimitAlgo == "fixed_window" {
		allowed = m.deps.Windows.Allow(key, m.spec.RateLimitLimit, m.spec.RateLimitWindow)
		if !allowed {
			retryAfterSeconds = int(m.spec.RateLimitWindow.Seconds())
		}
	} else {
		ok, wait := m.deps.TokenBuckets.Allow(key, m.spec.RateLimitCapacity, m.spec.RateLimitRate)
		allowed = ok
		retryAfterSeconds = int(wait.Seconds())
	}
	if allowed {
		return pass()
	}
	res := terminal(http.StatusTooManyRequests, "rate limited")
	res.Headers = http.Header{"Retry-After": {strconv.Itoa(retryAfterSeconds)}}
	return res
}

func (*rateLimit) OnResponse(http.ResponseWriter, *http.Request, *http.Response) {}

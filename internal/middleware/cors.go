package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/spire-proxy/spire/internal/config"
)

// cors implements spec.md §4.6's preflight handling: an OPTIONS request
// carrying Access-Control-Request-Method is answered directly (never
// reaches the dispatcher); every other response from an allowed origin
// gets Access-Control-Allow-Origin added on the way out.
type cors struct {
	allowOrigins []string
	allowMethods string
	allowHeaders string
	maxAge       string
}

func newCORS(spec config.MiddlewareSpec) *cors {
	return &cors{
		allowOrigins: spec.CORSAllowOrigins,
		allowMethods: strings.Join(spec.CORSAllowMethods, ", "),
		allowHeaders: strings.Join(spec.CORSAllowHeaders, ", "),
		maxAge:       strconv.Itoa(int(spec.CORSMaxAge.Seconds())),
	}
}

func (m *cors) originFor(r *http.Request) string {
	origin := r.Header.Get("Origin")
	for _, allowed := range m.allowOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

func (m *cors) OnRequest(w http.ResponseWriter, r *http.Request) Result {
	allowedOrigin := m.originFor(r)
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", m.allowMethods)
			w.Header().Set("Access-Control-Allow-Headers", m.allowHeaders)
			w.Header().Set("Access-Control-Max-Age", m.maxAge)
			return terminal(http.StatusNoContent, "")
		}
		return terminal(http.StatusForbidden, "cors origin not allowed")
	}
	return pass()
}

func (m *cors) OnResponse(w http.ResponseWriter, r *http.Request, _ *http.Response) {
	if allowedOrigin := m.originFor(r); allowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
	}
}

package middleware

import (
	"net/http"

	"github.com/spire-proxy/spire/internal/config"
)

// headerEdit is the shared add/remove/override logic spec.md §4.6 gives
// both request_headers and rewrite_headers; each gets its own wrapper
// type below so only the intended side of the proxy is ever touched —
// request_headers must stay inert during the response unwind.
type headerEdit struct {
	add      map[string]string
	remove   []string
	override map[string]string
}

func newHeaderEditConfig(spec config.MiddlewareSpec) headerEdit {
	return headerEdit{add: spec.HeaderAdd, remove: spec.HeaderRemove, override: spec.HeaderOverride}
}

func (m headerEdit) apply(h http.Header) {
	for k, v := range m.add {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}
	for _, k := range m.remove {
		h.Del(k)
	}
	for k, v := range m.override {
		h.Set(k, v)
	}
}

// requestHeaders implements the request_headers middleware: edits the
// outgoing upstream request only, never the downstream response.
type requestHeaders struct{ headerEdit }

func newRequestHeaders(spec config.MiddlewareSpec) *requestHeaders {
	return &requestHeaders{headerEdit: newHeaderEditConfig(spec)}
}

func (m *requestHeaders) OnRequest(_ http.ResponseWriter, r *http.Request) Result {
	m.apply(r.Header)
	return pass()
}

func (*requestHeaders) OnResponse(http.ResponseWriter, *http.Request, *http.Response) {}

// rewriteHeaders implements the rewrite_headers middleware: edits the
// downstream response only; it has no request phase.
type rewriteHeaders struct{ headerEdit }

func newRewriteHeaders(spec config.MiddlewareSpec) *rewriteHeaders {
	return &rewriteHeaders{headerEdit: newHeaderEditConfig(spec)}
}

func (*rewriteHeaders) OnRequest(http.ResponseWriter, *http.Request) Result { return pass() }

func (m *rewriteHeaders) OnResponse(w http.ResponseWriter, _ *http.Request, _ *http.Response) {
	m.apply(w.Header())
}

// Package middleware implements the per-route middleware pipeline of
// spec.md §4.6: an ordered chain of request-phase hooks, each able to
// short-circuit with a terminal response, followed by response-phase
// hooks run in reverse only over the middlewares actually traversed on
// the request path (the "symmetric unwind" rule — a middleware that
// never saw on_request never sees on_response).
//
// Build runs each route's middlewares in the order the route declares
// them (spec.md §3's "ordered list<Middleware>"); spec.md §4.6's
// forward_headers/allow_deny_list/authentication/rate_limit/
// circuit_breaker/cors/request_headers sequence is only the recommended
// order for config authors, not one Build imposes on its own. rewrite_headers
// is the one exception: it always runs last on the way out, regardless of
// where it's declared, since it edits the response after every other
// middleware has already seen it.
// path_rewrite and dispatch are not middlewares; the caller applies them
// between Chain.Request and the dispatcher, then runs Chain.Response
// (which folds in rewrite_headers) on the way out.
package middleware

import (
	"net/http"

	"github.com/spire-proxy/spire/internal/config"
)

// Result is what a request-phase hook returns: either "continue" (Done
// false) or a terminal response (Done true) that skips both the
// remaining request-phase hooks and the dispatcher.
type Result struct {
	Done       bool
	StatusCode int
	Body       string
	Headers    http.Header
}

func pass() Result { return Result{} }

func terminal(status int, body string) Result {
	return Result{Done: true, StatusCode: status, Body: body}
}

// Middleware is one pipeline stage. OnRequest runs on the way in;
// OnResponse runs on the way out, only if OnRequest for this instance
// ran (including the stage whose OnRequest terminated the chain).
type Middleware interface {
	OnRequest(w http.ResponseWriter, r *http.Request) Result
	OnResponse(w http.ResponseWriter, r *http.Request, resp *http.Response)
}

// Chain is the compiled, ordered middleware list for one route.
type Chain struct {
	stages         []Middleware
	rewriteHeaders Middleware
}

// Build compiles specs into a pipeline that runs in specs' own declared
// order. rewrite_headers is pulled out of the request-phase sequence
// wherever it appears and always applied last in Chain.Response, since
// it is a response-only hook.
func Build(specs []config.MiddlewareSpec, deps Deps) (*Chain, error) {
	var stages []Middleware
	var rewrite Middleware
	for _, spec := range specs {
		m, err := build(spec.Kind, spec, deps)
		if err != nil {
			return nil, err
		}
		if spec.Kind == config.MiddlewareRewriteHeaders {
			rewrite = m
			continue
		}
		stages = append(stages, m)
	}
	return &Chain{stages: stages, rewriteHeaders: rewrite}, nil
}

func build(k config.MiddlewareKind, spec config.MiddlewareSpec, deps Deps) (Middleware, error) {
	switch k {
	case config.MiddlewareForwardHeaders:
		return newForwardHeaders(), nil
	case config.MiddlewareAllowDenyList:
		return newAllowDenyList(spec)
	case config.MiddlewareAuthentication:
		return newAuthentication(spec, deps)
	case config.MiddlewareRateLimit:
		return newRateLimit(spec, deps)
	case config.MiddlewareCircuitBreaker:
		return newCircuitBreaker(spec, deps)
	case config.MiddlewareCORS:
		return newCORS(spec), nil
	case config.MiddlewareRequestHeaders:
		return newRequestHeaders(spec), nil
	case config.MiddlewareRewriteHeaders:
		return newRewriteHeaders(spec), nil
	default:
		return passthrough{}, nil
	}
}

// Request runs the request-phase hooks in order, stopping at the first
// terminal Result. traversed is the prefix that actually ran, needed by
// Response's symmetric unwind.
func (c *Chain) Request(w http.ResponseWriter, r *http.Request) (Result, []Middleware) {
	traversed := make([]Middleware, 0, len(c.stages))
	for _, m := range c.stages {
		traversed = append(traversed, m)
		if res := m.OnRequest(w, r); res.Done {
			return res, traversed
		}
	}
	return pass(), traversed
}

// Response runs the response-phase hooks in reverse over traversed, then
// applies rewrite_headers last (outermost on the way out, spec.md §4.6).
func (c *Chain) Response(w http.ResponseWriter, r *http.Request, resp *http.Response, traversed []Middleware) {
	for i := len(traversed) - 1; i >= 0; i-- {
		traversed[i].OnResponse(w, r, resp)
	}
	if c.rewriteHeaders != nil {
		c.rewriteHeaders.OnResponse(w, r, resp)
	}
}

type passthrough struct{}

func (passthrough) OnRequest(http.ResponseWriter, *http.Request) Result { return pass() }
func (passthrough) OnResponse(http.ResponseWriter, *http.Request, *http.Response) {}

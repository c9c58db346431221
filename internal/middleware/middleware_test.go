package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spire-proxy/spire/internal/breaker"
	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/ratelimit"
)

func newDeps() Deps {
	return Deps{
		RouteID:      "r1",
		TokenBuckets: ratelimit.NewTokenBuckets(),
		Windows:      ratelimit.NewWindows(),
		Breakers:     breaker.NewRegistry(),
	}
}

func TestChainRunsDeclaredOrderNotCanonicalOrder(t *testing.T) {
	// allow_deny_list is declared before forward_headers here, the reverse
	// of spec.md §4.6's recommended canonical order. Build must still run
	// allow_deny_list first, so it short-circuits before forward_headers
	// ever sees the request.
	specs := []config.MiddlewareSpec{
		{Kind: config.MiddlewareAllowDenyList, DenyCIDRs: []string{"10.0.0.0/8"}},
		{Kind: config.MiddlewareForwardHeaders},
	}
	chain, err := Build(specs, newDeps())
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:1111"
	w := httptest.NewRecorder()

	res, traversed := chain.Request(w, r)
	if !res.Done || res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected deny, got %+v", res)
	}
	if len(traversed) != 1 {
		t.Fatalf("expected allow_deny_list to short-circuit before forward_headers ran, got %d traversed", len(traversed))
	}
}

func TestChainRunsForwardHeadersFirstWhenDeclaredFirst(t *testing.T) {
	specs := []config.MiddlewareSpec{
		{Kind: config.MiddlewareForwardHeaders},
		{Kind: config.MiddlewareAllowDenyList, DenyCIDRs: []string{"10.0.0.0/8"}},
	}
	chain, err := Build(specs, newDeps())
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:1111"
	w := httptest.NewRecorder()

	res, traversed := chain.Request(w, r)
	if !res.Done || res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected deny, got %+v", res)
	}
	if len(traversed) != 2 {
		t.Fatalf("expected forward_headers to run before allow_deny_list denied, got %d traversed", len(traversed))
	}
}

func TestRateLimitTokenBucket(t *testing.T) {
	specs := []config.MiddlewareSpec{
		{Kind: config.MiddlewareRateLimit, RateLimitAlgo: "token_bucket", RateLimitCapacity: 1, RateLimitRate: 0.001, RateLimitDim: "global"},
	}
	chain, err := Build(specs, newDeps())
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	res, _ := chain.Request(w, r)
	if res.Done {
		t.Fatalf("first request should be admitted, got %+v", res)
	}
	res2, _ := chain.Request(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !res2.Done || res2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request should be rate limited, got %+v", res2)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	deps := newDeps()
	specs := []config.MiddlewareSpec{
		{Kind: config.MiddlewareCircuitBreaker, BreakerThreshold: 2, BreakerWindow: time.Minute, BreakerCooldown: time.Minute},
	}
	chain, err := Build(specs, deps)
	if err != nil {
		t.Fatal(err)
	}
	deps.Breakers.RecordFailure("r1", breaker.Config{Threshold: 2, Window: time.Minute, Cooldown: time.Minute})
	deps.Breakers.RecordFailure("r1", breaker.Config{Threshold: 2, Window: time.Minute, Cooldown: time.Minute})

	res, _ := chain.Request(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !res.Done || res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected breaker-open rejection, got %+v", res)
	}
}

func TestCORSPreflight(t *testing.T) {
	specs := []config.MiddlewareSpec{
		{Kind: config.MiddlewareCORS, CORSAllowOrigins: []string{"https://example.com"}, CORSAllowMethods: []string{"GET"}},
	}
	chain, err := Build(specs, newDeps())
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://example.com")
	r.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()

	res, _ := chain.Request(w, r)
	if !res.Done || res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected preflight no-content, got %+v", res)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
		t.Fatalf("missing allow-origin header")
	}
}

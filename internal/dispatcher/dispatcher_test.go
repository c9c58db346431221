package dispatcher

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/spire-proxy/spire/internal/breaker"
	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/health"
	"github.com/spire-proxy/spire/internal/spireerr"
	"github.com/spire-proxy/spire/internal/transport"
)

func newDispatcher() *Dispatcher {
	return New(transport.NewDefaultRegistry(), health.NewRegistry(), breaker.NewRegistry(), nil)
}

func endpointFor(t *testing.T, srv *httptest.Server) config.Endpoint {
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host := u.Hostname()
	port, _ := strconv.Atoi(u.Port())
	return config.Endpoint{Scheme: "http", Authority: host, Port: uint16(port), Identity: srv.URL}
}

func TestDispatchProxiesResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	d := newDispatcher()
	ep := endpointFor(t, upstream)
	r := httptest.NewRequest(http.MethodGet, "/widgets", nil)

	resp, err := d.Dispatch(r, ep, nil, config.TimeoutSpec{}, Feedback{UnhealthyThreshold: 3, HealthyThreshold: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	w := httptest.NewRecorder()
	WriteResponse(w, resp)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w.Header().Get("X-Upstream") != "yes" {
		t.Fatalf("expected upstream header to pass through")
	}
	if w.Body.String() != "ok" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}

func TestDispatchAppliesPathRewrite(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	d := newDispatcher()
	ep := endpointFor(t, upstream)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/widgets", nil)

	rewrite := &config.RewriteSpec{Pattern: "^/api/v1/", Replacement: "/internal/"}
	resp, err := d.Dispatch(r, ep, rewrite, config.TimeoutSpec{}, Feedback{UnhealthyThreshold: 3, HealthyThreshold: 2})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if gotPath != "/internal/widgets" {
		t.Fatalf("expected rewritten path, got %q", gotPath)
	}
}

func TestDispatchRecordsPassiveFailureOn5xx(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	d := newDispatcher()
	ep := endpointFor(t, upstream)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	for i := 0; i < 3; i++ {
		resp, err := d.Dispatch(r, ep, nil, config.TimeoutSpec{}, Feedback{UnhealthyThreshold: 3, HealthyThreshold: 2})
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if d.Health.IsHealthy(ep.Identity) {
		t.Fatalf("expected endpoint to be marked unhealthy after 3 consecutive 5xx")
	}
}

func TestDispatchRecordsPassiveSuccessOn4xxWhenPassive5xxOnly(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	d := newDispatcher()
	ep := endpointFor(t, upstream)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	d.Health.RecordFailure(ep.Identity, 1)
	if d.Health.IsHealthy(ep.Identity) {
		t.Fatal("expected endpoint seeded as unhealthy")
	}

	resp, err := d.Dispatch(r, ep, nil, config.TimeoutSpec{}, Feedback{UnhealthyThreshold: 3, HealthyThreshold: 1, Passive5xxOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if !d.Health.IsHealthy(ep.Identity) {
		t.Fatalf("expected a 404 to count as passive success under Passive5xxOnly and recover the endpoint")
	}
}

func TestDispatchRecordsPassiveFailureOn4xxWhenNotPassive5xxOnly(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	d := newDispatcher()
	ep := endpointFor(t, upstream)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	for i := 0; i < 3; i++ {
		resp, err := d.Dispatch(r, ep, nil, config.TimeoutSpec{}, Feedback{UnhealthyThreshold: 3, HealthyThreshold: 2, Passive5xxOnly: false})
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if d.Health.IsHealthy(ep.Identity) {
		t.Fatalf("expected a 404 to count as passive failure once Passive5xxOnly is false")
	}
}

func TestDispatchRecordFailureUsesRouteBreakerConfig(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	d := newDispatcher()
	ep := endpointFor(t, upstream)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	cfg := breaker.Config{Threshold: 1, Window: time.Minute, Cooldown: time.Minute}
	fb := Feedback{BreakerKey: "route-1", BreakerConfig: cfg, UnhealthyThreshold: 3, HealthyThreshold: 2}

	if !d.Breakers.Allow(fb.BreakerKey, cfg) {
		t.Fatal("expected breaker closed before any failures")
	}

	resp, err := d.Dispatch(r, ep, nil, config.TimeoutSpec{}, fb)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if d.Breakers.Allow(fb.BreakerKey, cfg) {
		t.Fatalf("expected a single failure to trip a breaker configured with Threshold: 1")
	}
}

func TestDispatchConnectFailureReturnsUpstreamConnectFailed(t *testing.T) {
	d := newDispatcher()
	ep := config.Endpoint{Scheme: "http", Authority: "127.0.0.1", Port: 1, Identity: "unreachable"}
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := d.Dispatch(r, ep, nil, config.TimeoutSpec{}, Feedback{UnhealthyThreshold: 3, HealthyThreshold: 2})
	if !errors.Is(err, spireerr.ErrUpstreamConnectFailed) {
		t.Fatalf("expected ErrUpstreamConnectFailed, got %v", err)
	}
	if spireerr.HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("expected 502 mapping, got %d", spireerr.HTTPStatus(err))
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "spire.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesMinimalValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
admin:
  listen: ":9902"
log_level: debug
servers:
  - listen_port: 8080
    protocol: http1
    routes:
      - id: root
        matchers:
          - kind: path
            path_kind: prefix
            value: /
        forward:
          kind: single
          endpoint: http://127.0.0.1:9000
`)
	servers, adminListen, logLevel, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adminListen != ":9902" || logLevel != "debug" {
		t.Fatalf("unexpected admin/log settings: %q %q", adminListen, logLevel)
	}
	if len(servers) != 1 || servers[0].ListenPort != 8080 || servers[0].Protocol != ProtocolHTTP1 {
		t.Fatalf("unexpected servers: %+v", servers)
	}
	route := servers[0].Routes[0]
	if route.ID != "root" || route.Forward.Kind != ForwardSingle {
		t.Fatalf("unexpected route: %+v", route)
	}
	if route.Forward.Single.Authority != "127.0.0.1" || route.Forward.Single.Port != 9000 {
		t.Fatalf("unexpected endpoint: %+v", route.Forward.Single)
	}
}

func TestLoadDefaultsAdminListenAndLogLevel(t *testing.T) {
	path := writeTempConfig(t, `
servers:
  - listen_port: 80
    protocol: http1
    routes:
      - id: root
        matchers:
          - kind: path
            value: /
        forward:
          kind: single
          endpoint: http://upstream:80
`)
	_, adminListen, logLevel, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if adminListen != ":9901" {
		t.Fatalf("expected default admin listen :9901, got %q", adminListen)
	}
	if logLevel != "info" {
		t.Fatalf("expected default log level info, got %q", logLevel)
	}
}

func TestLoadRejectsEmptyServers(t *testing.T) {
	path := writeTempConfig(t, "servers: []\n")
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected an error for a config with no servers")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, _, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestNormalizeServersRejectsUnknownProtocol(t *testing.T) {
	_, err := normalizeServers([]rawServer{{ListenPort: 80, Protocol: "carrier-pigeon"}})
	if err == nil {
		t.Fatal("expected an error for an unknown protocol")
	}
}

func TestNormalizeServersUppercasesAndTrimsProtocol(t *testing.T) {
	servers, err := normalizeServers([]rawServer{{
		ListenPort: 80,
		Protocol:   " http1 ",
		Routes: []rawRoute{{
			ID:       "r",
			Matchers: []rawMatcher{{Kind: "path", Value: "/"}},
			Forward:  rawForward{Kind: "single", Endpoint: "http://upstream:80"},
		}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if servers[0].Protocol != ProtocolHTTP1 {
		t.Fatalf("expected protocol to normalize to HTTP1, got %q", servers[0].Protocol)
	}
}

func TestNormalizeRouteRequiresAtLeastOneMatcher(t *testing.T) {
	_, err := normalizeRoute(rawRoute{ID: "r", Forward: rawForward{Kind: "single", Endpoint: "http://upstream:80"}})
	if err == nil {
		t.Fatal("expected an error when a route has no matchers")
	}
}

func TestNormalizeRouteRequiresID(t *testing.T) {
	_, err := normalizeRoute(rawRoute{
		Matchers: []rawMatcher{{Kind: "path", Value: "/"}},
		Forward:  rawForward{Kind: "single", Endpoint: "http://upstream:80"},
	})
	if err == nil {
		t.Fatal("expected an error when a route has no id")
	}
}

func TestNormalizeMatcherDefaultsPathKindToPrefix(t *testing.T) {
	m, err := normalizeMatcher(rawMatcher{Kind: "path", Value: "/api"})
	if err != nil {
		t.Fatal(err)
	}
	if m.PathKind != PathPrefix {
		t.Fatalf("expected default path kind prefix, got %q", m.PathKind)
	}
}

func TestNormalizeMatcherRejectsMethodWithoutMethods(t *testing.T) {
	if _, err := normalizeMatcher(rawMatcher{Kind: "method"}); err == nil {
		t.Fatal("expected an error for a method matcher with no methods listed")
	}
}

func TestNormalizeMatcherRejectsUnknownKind(t *testing.T) {
	if _, err := normalizeMatcher(rawMatcher{Kind: "smell"}); err == nil {
		t.Fatal("expected an error for an unknown matcher kind")
	}
}

func TestParseEndpointDefaultsPortByScheme(t *testing.T) {
	ep, err := parseEndpoint("https://api.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if ep.Port != 443 {
		t.Fatalf("expected https to default to port 443, got %d", ep.Port)
	}

	ep2, err := parseEndpoint("http://api.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if ep2.Port != 80 {
		t.Fatalf("expected http to default to port 80, got %d", ep2.Port)
	}
}

func TestParseEndpointRejectsUnsupportedScheme(t *testing.T) {
	if _, err := parseEndpoint("ftp://example.com"); err == nil {
		t.Fatal("expected an error for an unsupported scheme")
	}
}

func TestParseEndpointRejectsMissingHost(t *testing.T) {
	if _, err := parseEndpoint("http://"); err == nil {
		t.Fatal("expected an error for an endpoint with no host")
	}
}

func TestNormalizeForwardWeightedDefaultsMissingWeightToOne(t *testing.T) {
	spec, err := normalizeForward(rawForward{
		Kind: "weighted",
		Entries: []rawEndpointEntry{
			{Endpoint: "http://a:80", Weight: 0},
			{Endpoint: "http://b:80", Weight: 3},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if spec.WeightedEntries[0].Weight != 1 {
		t.Fatalf("expected a zero weight to default to 1, got %d", spec.WeightedEntries[0].Weight)
	}
	if spec.WeightedEntries[1].Weight != 3 {
		t.Fatalf("expected an explicit weight to be preserved, got %d", spec.WeightedEntries[1].Weight)
	}
}

func TestNormalizeForwardFileDefaultsIndexFiles(t *testing.T) {
	spec, err := normalizeForward(rawForward{Kind: "file", Root: "/srv/static"})
	if err != nil {
		t.Fatal(err)
	}
	if len(spec.FileIndexFiles) != 1 || spec.FileIndexFiles[0] != "index.html" {
		t.Fatalf("expected default index files [index.html], got %v", spec.FileIndexFiles)
	}
}

func TestNormalizeForwardFileRequiresRoot(t *testing.T) {
	if _, err := normalizeForward(rawForward{Kind: "file"}); err == nil {
		t.Fatal("expected an error when file forward has no root_path")
	}
}

func TestNormalizeForwardHeaderBasedRequiresHeaderNameAndEntries(t *testing.T) {
	if _, err := normalizeForward(rawForward{Kind: "header_based"}); err == nil {
		t.Fatal("expected an error when header_based forward has no header_name or entries")
	}
}

func TestNormalizeForwardRejectsUnknownKind(t *testing.T) {
	if _, err := normalizeForward(rawForward{Kind: "teleport"}); err == nil {
		t.Fatal("expected an error for an unknown forward kind")
	}
}

func TestNormalizeMiddlewareRateLimitParsesWindow(t *testing.T) {
	mw, err := normalizeMiddleware(rawMiddleware{Kind: "rate_limit", Window: "30s", Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if mw.RateLimitWindow != 30*time.Second || mw.RateLimitLimit != 100 {
		t.Fatalf("unexpected rate limit spec: %+v", mw)
	}
}

func TestNormalizeMiddlewareRateLimitRejectsBadWindow(t *testing.T) {
	if _, err := normalizeMiddleware(rawMiddleware{Kind: "rate_limit", Window: "soon"}); err == nil {
		t.Fatal("expected an error for an unparsable rate_limit window")
	}
}

func TestNormalizeMiddlewareCircuitBreakerDefaultsThreshold(t *testing.T) {
	mw, err := normalizeMiddleware(rawMiddleware{Kind: "circuit_breaker"})
	if err != nil {
		t.Fatal(err)
	}
	if mw.BreakerThreshold != 5 {
		t.Fatalf("expected default breaker threshold 5, got %d", mw.BreakerThreshold)
	}
}

func TestNormalizeMiddlewareRejectsUnknownKind(t *testing.T) {
	if _, err := normalizeMiddleware(rawMiddleware{Kind: "teleport"}); err == nil {
		t.Fatal("expected an error for an unknown middleware kind")
	}
}

func TestNormalizeHealthAppliesDefaults(t *testing.T) {
	h, err := normalizeHealth(&rawHealth{Path: "/healthz"})
	if err != nil {
		t.Fatal(err)
	}
	if h.UnhealthyThreshold != DefaultUnhealthyThreshold || h.HealthyThreshold != DefaultHealthyThreshold {
		t.Fatalf("expected default thresholds, got %+v", h)
	}
	if h.Interval != 10*time.Second || h.Timeout != 2*time.Second {
		t.Fatalf("expected default interval/timeout, got %+v", h)
	}
	if !h.Passive5xxOnly {
		t.Fatal("expected passive_5xx_only to default true")
	}
}

func TestNormalizeHealthRespectsExplicitPassive5xxOnlyFalse(t *testing.T) {
	f := false
	h, err := normalizeHealth(&rawHealth{Passive5xxOnly: &f})
	if err != nil {
		t.Fatal(err)
	}
	if h.Passive5xxOnly {
		t.Fatal("expected an explicit false to be respected")
	}
}

func TestNormalizeTimeoutDefaultsConnectTimeout(t *testing.T) {
	tm, err := normalizeTimeout(&rawTimeout{})
	if err != nil {
		t.Fatal(err)
	}
	if tm.ConnectTimeout != DefaultConnectTimeout {
		t.Fatalf("expected default connect timeout, got %v", tm.ConnectTimeout)
	}
}

func TestNormalizeTimeoutRejectsBadDuration(t *testing.T) {
	if _, err := normalizeTimeout(&rawTimeout{Upstream: "a while"}); err == nil {
		t.Fatal("expected an error for an unparsable upstream timeout")
	}
}

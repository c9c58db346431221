package matcher

import (
	"net/http/httptest"
	"testing"

	"github.com/spire-proxy/spire/internal/config"
)

func compileOneSpec(t *testing.T, s config.MatcherSpec) Matcher {
	t.Helper()
	ms, err := Compile([]config.MatcherSpec{s})
	if err != nil {
		t.Fatal(err)
	}
	return ms[0]
}

func TestPathPrefixMatchesSegmentBoundary(t *testing.T) {
	m := compileOneSpec(t, config.MatcherSpec{Kind: config.MatcherPath, PathKind: config.PathPrefix, PathValue: "/api"})

	cases := map[string]bool{
		"/api":      true,
		"/api/":     true,
		"/api/v1":   true,
		"/apiary":   false,
		"/other":    false,
	}
	for path, want := range cases {
		r := httptest.NewRequest("GET", path, nil)
		if got := m.Match(r); got != want {
			t.Errorf("path %q: got %v, want %v", path, got, want)
		}
	}
}

func TestPathExact(t *testing.T) {
	m := compileOneSpec(t, config.MatcherSpec{Kind: config.MatcherPath, PathKind: config.PathExact, PathValue: "/widgets"})
	if !m.Match(httptest.NewRequest("GET", "/widgets", nil)) {
		t.Fatal("expected exact match")
	}
	if m.Match(httptest.NewRequest("GET", "/widgets/1", nil)) {
		t.Fatal("expected no match on a longer path")
	}
}

func TestPathRegexCompileErrorRejectsWholeBatch(t *testing.T) {
	_, err := Compile([]config.MatcherSpec{
		{Kind: config.MatcherPath, PathKind: config.PathRegex, PathValue: "("},
	})
	if err == nil {
		t.Fatal("expected a compile error for invalid regex")
	}
}

func TestHostMatchIsCaseInsensitiveAndStripsPort(t *testing.T) {
	m := compileOneSpec(t, config.MatcherSpec{Kind: config.MatcherHost, HostValue: "Example.com"})
	r := httptest.NewRequest("GET", "/", nil)
	r.Host = "EXAMPLE.COM:8443"
	if !m.Match(r) {
		t.Fatal("expected case-insensitive, port-stripped host match")
	}
}

func TestHeaderExact(t *testing.T) {
	m := compileOneSpec(t, config.MatcherSpec{Kind: config.MatcherHeader, HeaderName: "X-Env", HeaderValue: "prod"})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Env", "prod")
	if !m.Match(r) {
		t.Fatal("expected header exact match")
	}
	r.Header.Set("X-Env", "staging")
	if m.Match(r) {
		t.Fatal("expected no match for a different header value")
	}
}

func TestHeaderSplitMatchesAnyToken(t *testing.T) {
	m := compileOneSpec(t, config.MatcherSpec{Kind: config.MatcherHeader, HeaderKind: config.HeaderSplit, HeaderName: "X-Tags", HeaderValue: "beta"})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Tags", "alpha, beta , gamma")
	if !m.Match(r) {
		t.Fatal("expected split match on comma-separated list")
	}
}

func TestMethodMatchIsCaseInsensitive(t *testing.T) {
	m := compileOneSpec(t, config.MatcherSpec{Kind: config.MatcherMethod, Methods: []string{"get", "POST"}})
	if !m.Match(httptest.NewRequest("GET", "/", nil)) {
		t.Fatal("expected GET to match")
	}
	if !m.Match(httptest.NewRequest("post", "/", nil)) {
		t.Fatal("expected lowercase post request method to match POST entry")
	}
	if m.Match(httptest.NewRequest("DELETE", "/", nil)) {
		t.Fatal("expected DELETE not to match")
	}
}

func TestUnknownMatcherKindErrors(t *testing.T) {
	_, err := Compile([]config.MatcherSpec{{Kind: "bogus"}})
	if err == nil {
		t.Fatal("expected an error for an unknown matcher kind")
	}
}

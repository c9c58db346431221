// Package matcher compiles config.MatcherSpec descriptors into runtime
// predicates once at snapshot-build time (spec.md §4.1). The request hot
// path only ever calls Match; it never compiles a regex.
//
// Shaped after original_source/rust-proxy/src/vojo/matcher.rs's
// MatcherRule enum (Path/Host/Header/Method, with Host/Header lazily
// compiling a regex), generalized to spec.md §3's additional Path "regex"
// kind and Header "split" kind.
package matcher

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/spire-proxy/spire/internal/config"
)

// Matcher is a single compiled predicate over a request.
type Matcher interface {
	Match(r *http.Request) bool
}

// Compile builds the AND-list of matchers for one route. A compile error
// (bad regex) is returned so the caller (router.Build) can reject the
// whole snapshot and keep the previous one active.
func Compile(specs []config.MatcherSpec) ([]Matcher, error) {
	out := make([]Matcher, 0, len(specs))
	for i, s := range specs {
		m, err := compileOne(s)
		if err != nil {
			return nil, fmt.Errorf("matcher[%d]: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func compileOne(s config.MatcherSpec) (Matcher, error) {
	switch s.Kind {
	case config.MatcherPath:
		switch s.PathKind {
		case config.PathExact:
			return pathExact{value: s.PathValue}, nil
		case config.PathRegex:
			re, err := regexp.Compile(s.PathValue)
			if err != nil {
				return nil, fmt.Errorf("path regex %q: %w", s.PathValue, err)
			}
			return pathRegex{re: re}, nil
		default:
			return pathPrefix{value: s.PathValue}, nil
		}
	case config.MatcherHost:
		return host{value: strings.ToLower(s.HostValue)}, nil
	case config.MatcherHeader:
		switch s.HeaderKind {
		case config.HeaderRegex:
			re, err := regexp.Compile(s.HeaderValue)
			if err != nil {
				return nil, fmt.Errorf("header regex %q: %w", s.HeaderValue, err)
			}
			return headerRegex{name: s.HeaderName, re: re}, nil
		case config.HeaderSplit:
			return headerSplit{name: s.HeaderName, value: s.HeaderValue}, nil
		default:
			return headerExact{name: s.HeaderName, value: s.HeaderValue}, nil
		}
	case config.MatcherMethod:
		set := make(map[string]struct{}, len(s.Methods))
		for _, m := range s.Methods {
			set[strings.ToUpper(m)] = struct{}{}
		}
		return method{set: set}, nil
	default:
		return nil, fmt.Errorf("unknown matcher kind %q", s.Kind)
	}
}

// --- Path ---

// pathPrefix matches on path segment boundaries: "/api" matches "/api",
// "/api/", "/api/v1" but not "/apiary".
type pathPrefix struct{ value string }

func (m pathPrefix) Match(r *http.Request) bool {
	return pathPrefixMatch(r.URL.Path, m.value)
}

func pathPrefixMatch(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

type pathExact struct{ value string }

func (m pathExact) Match(r *http.Request) bool { return r.URL.Path == m.value }

type pathRegex struct{ re *regexp.Regexp }

func (m pathRegex) Match(r *http.Request) bool { return m.re.MatchString(r.URL.Path) }

// --- Host ---

// host compares Host/:authority case-insensitively after stripping port.
type host struct{ value string }

func (m host) Match(r *http.Request) bool {
	h := r.Host
	if h == "" {
		h = r.URL.Host
	}
	return strings.EqualFold(hostOnly(h), m.value)
}

func hostOnly(h string) string {
	if i := strings.LastIndexByte(h, ':'); i >= 0 {
		// guard against IPv6 literals like "[::1]:8080"
		if !strings.Contains(h[i:], "]") {
			return h[:i]
		}
	}
	return strings.Trim(h, "[]")
}

// --- Header ---

type headerExact struct{ name, value string }

func (m headerExact) Match(r *http.Request) bool { return r.Header.Get(m.name) == m.value }

type headerRegex struct {
	name string
	re   *regexp.Regexp
}

func (m headerRegex) Match(r *http.Request) bool { return m.re.MatchString(r.Header.Get(m.name)) }

// headerSplit comma-splits the header value with ASCII whitespace trim
// (RFC 7230 comma-separated list grammar) and matches if any token equals
// the configured value. Quoted commas inside a single token are not
// unquoted (spec.md §9 open question): a token is taken verbatim between
// separating commas.
type headerSplit struct{ name, value string }

func (m headerSplit) Match(r *http.Request) bool {
	raw := r.Header.Get(m.name)
	if raw == "" {
		return false
	}
	for _, tok := range strings.Split(raw, ",") {
		if strings.Trim(tok, " \t") == m.value {
			return true
		}
	}
	return false
}

// --- Method ---

type method struct{ set map[string]struct{} }

func (m method) Match(r *http.Request) bool {
	_, ok := m.set[strings.ToUpper(r.Method)]
	return ok
}

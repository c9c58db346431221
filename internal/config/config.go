package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the top-level YAML document shape the loader accepts. Field
// names intentionally mirror the teacher's flat "entrypoint/services/routes"
// shape, generalized to the full Server/Route/Matcher/ForwardSpec schema of
// spec.md §3 and §6.
type File struct {
	Servers  []rawServer `yaml:"servers"`
	Admin    rawAdmin    `yaml:"admin"`
	LogLevel string      `yaml:"log_level"`
}

type rawAdmin struct {
	Listen string `yaml:"listen"`
}

type rawServer struct {
	ListenPort uint16      `yaml:"listen_port"`
	Protocol   string      `yaml:"protocol"`
	TLSDomains []string    `yaml:"tls_domains"`
	Routes     []rawRoute  `yaml:"routes"`
}

type rawRoute struct {
	ID          string           `yaml:"id"`
	Matchers    []rawMatcher     `yaml:"matchers"`
	Forward     rawForward       `yaml:"forward"`
	Middlewares []rawMiddleware  `yaml:"middlewares"`
	PathRewrite *rawRewrite      `yaml:"path_rewrite"`
	HealthCheck *rawHealth       `yaml:"health_check"`
	Timeout     *rawTimeout      `yaml:"timeout"`
}

type rawMatcher struct {
	Kind    string   `yaml:"kind"`
	Value   string   `yaml:"value"`
	Kind2   string   `yaml:"path_kind"` // prefix|exact|regex, reused for header_kind
	Name    string   `yaml:"name"`      // header name
	Methods []string `yaml:"methods"`
}

type rawEndpointEntry struct {
	Endpoint string `yaml:"endpoint"`
	Weight   uint32 `yaml:"weight"`
	Header   string `yaml:"header_value"`
}

type rawForward struct {
	Kind       string             `yaml:"kind"`
	Endpoint   string             `yaml:"endpoint"`
	Entries    []rawEndpointEntry `yaml:"entries"`
	HeaderName string             `yaml:"header_name"`
	Root       string             `yaml:"root_path"`
	IndexFiles []string           `yaml:"index_files"`
}

type rawMiddleware struct {
	Kind string `yaml:"kind"`

	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`

	AuthKind   string `yaml:"auth_kind"`
	Header     string `yaml:"header"`
	Value      string `yaml:"value"`
	User       string `yaml:"user"`
	Pass       string `yaml:"pass"`
	Issuer     string `yaml:"issuer"`
	JWKSURL    string `yaml:"jwks_url"`
	Audience   string `yaml:"audience"`
	SigningKey string `yaml:"signing_key"`

	Algo      string  `yaml:"algo"`
	Capacity  float64 `yaml:"capacity"`
	Rate      float64 `yaml:"rate"`
	Window    string  `yaml:"window"`
	Limit     int     `yaml:"limit"`
	Dimension string  `yaml:"dimension"`

	Threshold string `yaml:"threshold"`
	Cooldown  string `yaml:"cooldown"`

	AllowOrigins []string `yaml:"allow_origins"`
	AllowMethods []string `yaml:"allow_methods"`
	AllowHeaders []string `yaml:"allow_headers"`
	MaxAge       string   `yaml:"max_age"`

	Add      map[string]string `yaml:"add"`
	Remove   []string          `yaml:"remove"`
	Override map[string]string `yaml:"override"`
}

type rawRewrite struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type rawHealth struct {
	Path               string `yaml:"path"`
	Interval           string `yaml:"interval"`
	Timeout            string `yaml:"timeout"`
	UnhealthyThreshold int    `yaml:"unhealthy_threshold"`
	HealthyThreshold   int    `yaml:"healthy_threshold"`
	Passive5xxOnly     *bool  `yaml:"passive_5xx_only"`
}

type rawTimeout struct {
	Upstream string `yaml:"upstream"`
	Connect  string `yaml:"connect"`
}

// Default thresholds (spec.md §4.3).
const (
	DefaultUnhealthyThreshold = 3
	DefaultHealthyThreshold   = 2
	DefaultConnectTimeout     = 2 * time.Second
	DefaultIdleConnTimeout    = 90 * time.Second
)

// Load reads and normalizes a YAML config file into the runtime data model.
// It performs structural validation only; regex compilation and the
// "reject on failure, keep previous snapshot" rule live in
// internal/router.Build (spec.md §9).
func Load(path string) ([]Server, string, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, "", "", fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, "", "", fmt.Errorf("yaml: %w", err)
	}
	servers, err := normalizeServers(f.Servers)
	if err != nil {
		return nil, "", "", err
	}
	adminListen := f.Admin.Listen
	if adminListen == "" {
		adminListen = ":9901"
	}
	logLevel := f.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	return servers, adminListen, logLevel, nil
}

func normalizeServers(rs []rawServer) ([]Server, error) {
	if len(rs) == 0 {
		return nil, fmt.Errorf("servers: at least one is required")
	}
	out := make([]Server, 0, len(rs))
	for i, rsv := range rs {
		proto := Protocol(strings.ToUpper(strings.TrimSpace(rsv.Protocol)))
		switch proto {
		case ProtocolHTTP1, ProtocolHTTPS, ProtocolHTTP2, ProtocolHTTP2TLS, ProtocolTCP:
		default:
			return nil, fmt.Errorf("servers[%d]: unknown protocol %q", i, rsv.Protocol)
		}
		routes := make([]Route, 0, len(rsv.Routes))
		for j, rr := range rsv.Routes {
			route, err := normalizeRoute(rr)
			if err != nil {
				return nil, fmt.Errorf("servers[%d].routes[%d]: %w", i, j, err)
			}
			if proto == ProtocolTCP && route.Forward.Kind == ForwardHeaderBased {
				return nil, fmt.Errorf("servers[%d].routes[%d]: header_based forward is not supported on a tcp server (no HTTP headers to match on)", i, j)
			}
			routes = append(routes, route)
		}
		out = append(out, Server{
			ListenPort: rsv.ListenPort,
			Protocol:   proto,
			TLSDomains: rsv.TLSDomains,
			Routes:     routes,
		})
	}
	return out, nil
}

func normalizeRoute(rr rawRoute) (Route, error) {
	if len(rr.Matchers) == 0 {
		return Route{}, fmt.Errorf("at least one matcher is required")
	}
	matchers := make([]MatcherSpec, 0, len(rr.Matchers))
	for _, rm := range rr.Matchers {
		m, err := normalizeMatcher(rm)
		if err != nil {
			return Route{}, err
		}
		matchers = append(matchers, m)
	}
	fwd, err := normalizeForward(rr.Forward)
	if err != nil {
		return Route{}, err
	}
	mws := make([]MiddlewareSpec, 0, len(rr.Middlewares))
	for _, rm := range rr.Middlewares {
		mw, err := normalizeMiddleware(rm)
		if err != nil {
			return Route{}, err
		}
		mws = append(mws, mw)
	}
	var rewrite *RewriteSpec
	if rr.PathRewrite != nil {
		rewrite = &RewriteSpec{Pattern: rr.PathRewrite.Pattern, Replacement: rr.PathRewrite.Replacement}
	}
	var health *HealthSpec
	if rr.HealthCheck != nil {
		health, err = normalizeHealth(rr.HealthCheck)
		if err != nil {
			return Route{}, err
		}
	}
	var timeout *TimeoutSpec
	if rr.Timeout != nil {
		timeout, err = normalizeTimeout(rr.Timeout)
		if err != nil {
			return Route{}, err
		}
	}
	id := rr.ID
	if id == "" {
		return Route{}, fmt.Errorf("route id is required")
	}
	return Route{
		ID:          id,
		Matchers:    matchers,
		Forward:     fwd,
		Middlewares: mws,
		PathRewrite: rewrite,
		HealthCheck: health,
		Timeout:     timeout,
	}, nil
}

func normalizeMatcher(rm rawMatcher) (MatcherSpec, error) {
	switch MatcherKind(rm.Kind) {
	case MatcherPath:
		kind := PathKind(rm.Kind2)
		if kind == "" {
			kind = PathPrefix
		}
		return MatcherSpec{Kind: MatcherPath, PathValue: rm.Value, PathKind: kind}, nil
	case MatcherHost:
		return MatcherSpec{Kind: MatcherHost, HostValue: rm.Value}, nil
	case MatcherHeader:
		kind := HeaderKind(rm.Kind2)
		if kind == "" {
			kind = HeaderExact
		}
		return MatcherSpec{Kind: MatcherHeader, HeaderName: rm.Name, HeaderValue: rm.Value, HeaderKind: kind}, nil
	case MatcherMethod:
		if len(rm.Methods) == 0 {
			return MatcherSpec{}, fmt.Errorf("method matcher requires methods")
		}
		return MatcherSpec{Kind: MatcherMethod, Methods: rm.Methods}, nil
	default:
		return MatcherSpec{}, fmt.Errorf("unknown matcher kind %q", rm.Kind)
	}
}

func parseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q missing host", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "grpc", "tcp":
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
	host := u.Hostname()
	portStr := u.Port()
	var port uint16
	if portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Endpoint{}, fmt.Errorf("endpoint %q: bad port: %w", raw, err)
		}
		port = uint16(p)
	} else if scheme == "https" || scheme == "grpc" {
		port = 443
	} else {
		port = 80
	}
	identity := fmt.Sprintf("%s://%s:%d", scheme, strings.ToLower(host), port)
	return Endpoint{Scheme: scheme, Authority: host, Port: port, Identity: identity}, nil
}

func normalizeForward(rf rawForward) (ForwardSpec, error) {
	spec := ForwardSpec{Kind: ForwardKind(rf.Kind)}
	switch spec.Kind {
	case ForwardSingle:
		ep, err := parseEndpoint(rf.Endpoint)
		if err != nil {
			return ForwardSpec{}, err
		}
		spec.Single = ep
		spec.Identity = "single:" + ep.Identity
	case ForwardWeighted:
		if len(rf.Entries) == 0 {
			return ForwardSpec{}, fmt.Errorf("weighted forward requires entries")
		}
		var ids []string
		for _, e := range rf.Entries {
			ep, err := parseEndpoint(e.Endpoint)
			if err != nil {
				return ForwardSpec{}, err
			}
			w := e.Weight
			if w == 0 {
				w = 1
			}
			spec.WeightedEntries = append(spec.WeightedEntries, WeightedEntry{Endpoint: ep, Weight: w})
			ids = append(ids, fmt.Sprintf("%s:%d", ep.Identity, w))
		}
		spec.Identity = "weighted:" + strings.Join(ids, ",")
	case ForwardPoll:
		if len(rf.Entries) == 0 {
			return ForwardSpec{}, fmt.Errorf("poll forward requires entries")
		}
		var ids []string
		for _, e := range rf.Entries {
			ep, err := parseEndpoint(e.Endpoint)
			if err != nil {
				return ForwardSpec{}, err
			}
			spec.PollEntries = append(spec.PollEntries, ep)
			ids = append(ids, ep.Identity)
		}
		spec.Identity = "poll:" + strings.Join(ids, ",")
	case ForwardRandom:
		if len(rf.Entries) == 0 {
			return ForwardSpec{}, fmt.Errorf("random forward requires entries")
		}
		var ids []string
		for _, e := range rf.Entries {
			ep, err := parseEndpoint(e.Endpoint)
			if err != nil {
				return ForwardSpec{}, err
			}
			spec.RandomEntries = append(spec.RandomEntries, ep)
			ids = append(ids, ep.Identity)
		}
		spec.Identity = "random:" + strings.Join(ids, ",")
	case ForwardHeaderBased:
		if rf.HeaderName == "" || len(rf.Entries) == 0 {
			return ForwardSpec{}, fmt.Errorf("header_based forward requires header_name and entries")
		}
		spec.HeaderName = rf.HeaderName
		var ids []string
		for _, e := range rf.Entries {
			ep, err := parseEndpoint(e.Endpoint)
			if err != nil {
				return ForwardSpec{}, err
			}
			spec.HeaderBasedEntries = append(spec.HeaderBasedEntries, HeaderBasedEntry{HeaderValue: e.Header, Endpoint: ep})
			ids = append(ids, e.Header+"="+ep.Identity)
		}
		spec.Identity = "header_based:" + rf.HeaderName + ":" + strings.Join(ids, ",")
	case ForwardFile:
		if rf.Root == "" {
			return ForwardSpec{}, fmt.Errorf("file forward requires root_path")
		}
		spec.FileRoot = rf.Root
		spec.FileIndexFiles = rf.IndexFiles
		if len(spec.FileIndexFiles) == 0 {
			spec.FileIndexFiles = []string{"index.html"}
		}
		spec.Identity = "file:" + rf.Root
	default:
		return ForwardSpec{}, fmt.Errorf("unknown forward kind %q", rf.Kind)
	}
	return spec, nil
}

func normalizeMiddleware(rm rawMiddleware) (MiddlewareSpec, error) {
	mw := MiddlewareSpec{Kind: MiddlewareKind(rm.Kind)}
	switch mw.Kind {
	case MiddlewareForwardHeaders:
	case MiddlewareAllowDenyList:
		mw.AllowCIDRs = rm.Allow
		mw.DenyCIDRs = rm.Deny
	case MiddlewareAuthentication:
		mw.AuthKind = AuthKind(rm.AuthKind)
		mw.APIKeyHeader = rm.Header
		mw.APIKeyValue = rm.Value
		mw.BasicUser = rm.User
		mw.BasicPass = rm.Pass
		mw.JWTIssuer = rm.Issuer
		mw.JWTJWKSURL = rm.JWKSURL
		mw.JWTAudience = rm.Audience
		mw.JWTSigningKey = rm.SigningKey
	case MiddlewareRateLimit:
		mw.RateLimitAlgo = rm.Algo
		mw.RateLimitCapacity = rm.Capacity
		mw.RateLimitRate = rm.Rate
		mw.RateLimitLimit = rm.Limit
		mw.RateLimitDim = rm.Dimension
		mw.RateLimitHeader = rm.Header
		if rm.Window != "" {
			d, err := time.ParseDuration(rm.Window)
			if err != nil {
				return MiddlewareSpec{}, fmt.Errorf("rate_limit.window: %w", err)
			}
			mw.RateLimitWindow = d
		}
	case MiddlewareCircuitBreaker:
		threshold := 5
		if rm.Threshold != "" {
			n, err := strconv.Atoi(rm.Threshold)
			if err != nil {
				return MiddlewareSpec{}, fmt.Errorf("circuit_breaker.threshold: %w", err)
			}
			threshold = n
		}
		mw.BreakerThreshold = threshold
		if rm.Window != "" {
			d, err := time.ParseDuration(rm.Window)
			if err != nil {
				return MiddlewareSpec{}, fmt.Errorf("circuit_breaker.window: %w", err)
			}
			mw.BreakerWindow = d
		}
		if rm.Cooldown != "" {
			d, err := time.ParseDuration(rm.Cooldown)
			if err != nil {
				return MiddlewareSpec{}, fmt.Errorf("circuit_breaker.cooldown: %w", err)
			}
			mw.BreakerCooldown = d
		}
	case MiddlewareCORS:
		mw.CORSAllowOrigins = rm.AllowOrigins
		mw.CORSAllowMethods = rm.AllowMethods
		mw.CORSAllowHeaders = rm.AllowHeaders
		if rm.MaxAge != "" {
			d, err := time.ParseDuration(rm.MaxAge)
			if err != nil {
				return MiddlewareSpec{}, fmt.Errorf("cors.max_age: %w", err)
			}
			mw.CORSMaxAge = d
		}
	case MiddlewareRequestHeaders, MiddlewareRewriteHeaders:
		mw.HeaderAdd = rm.Add
		mw.HeaderRemove = rm.Remove
		mw.HeaderOverride = rm.Override
	default:
		return MiddlewareSpec{}, fmt.Errorf("unknown middleware kind %q", rm.Kind)
	}
	return mw, nil
}

func normalizeHealth(rh *rawHealth) (*HealthSpec, error) {
	h := &HealthSpec{
		Path:               rh.Path,
		UnhealthyThreshold: rh.UnhealthyThreshold,
		HealthyThreshold:   rh.HealthyThreshold,
		Passive5xxOnly:     true,
	}
	if h.UnhealthyThreshold <= 0 {
		h.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if h.HealthyThreshold <= 0 {
		h.HealthyThreshold = DefaultHealthyThreshold
	}
	if rh.Passive5xxOnly != nil {
		h.Passive5xxOnly = *rh.Passive5xxOnly
	}
	if rh.Interval != "" {
		d, err := time.ParseDuration(rh.Interval)
		if err != nil {
			return nil, fmt.Errorf("health_check.interval: %w", err)
		}
		h.Interval = d
	} else {
		h.Interval = 10 * time.Second
	}
	if rh.Timeout != "" {
		d, err := time.ParseDuration(rh.Timeout)
		if err != nil {
			return nil, fmt.Errorf("health_check.timeout: %w", err)
		}
		h.Timeout = d
	} else {
		h.Timeout = 2 * time.Second
	}
	return h, nil
}

func normalizeTimeout(rt *rawTimeout) (*TimeoutSpec, error) {
	t := &TimeoutSpec{ConnectTimeout: DefaultConnectTimeout}
	if rt.Upstream != "" {
		d, err := time.ParseDuration(rt.Upstream)
		if err != nil {
			return nil, fmt.Errorf("timeout.upstream: %w", err)
		}
		t.UpstreamTimeout = d
	}
	if rt.Connect != "" {
		d, err := time.ParseDuration(rt.Connect)
		if err != nil {
			return nil, fmt.Errorf("timeout.connect: %w", err)
		}
		t.ConnectTimeout = d
	}
	return t, nil
}

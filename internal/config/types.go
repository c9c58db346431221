// Package config holds the declarative, uncompiled data model that the
// YAML loader produces (spec.md §3). Nothing in this package runs on the
// request hot path: routers/matchers/balancers compile these descriptors
// once at snapshot-build time (see internal/router.Build).
package config

import "time"

// Protocol enumerates the listener protocols spec.md §3 names.
type Protocol string

const (
	ProtocolHTTP1    Protocol = "HTTP1"
	ProtocolHTTPS    Protocol = "HTTPS"
	ProtocolHTTP2    Protocol = "HTTP2"
	ProtocolHTTP2TLS Protocol = "HTTP2TLS"
	ProtocolTCP      Protocol = "TCP"
)

// Server is one listener's routing table (spec.md §3 Server).
type Server struct {
	ListenPort uint16
	Protocol   Protocol
	TLSDomains []string
	Routes     []Route
}

// Route is one entry in a Server's ordered route list; first match wins.
type Route struct {
	ID          string
	Matchers    []MatcherSpec
	Forward     ForwardSpec
	Middlewares []MiddlewareSpec
	PathRewrite *RewriteSpec
	HealthCheck *HealthSpec
	Timeout     *TimeoutSpec
}

// MatcherSpec is a tagged union mirroring spec.md §3 Matcher.
type MatcherSpec struct {
	Kind MatcherKind

	// Path
	PathValue string
	PathKind  PathKind // prefix | exact | regex

	// Host
	HostValue string

	// Header
	HeaderName  string
	HeaderValue string
	HeaderKind  HeaderKind // exact | regex | split

	// Method
	Methods []string
}

type MatcherKind string

const (
	MatcherPath   MatcherKind = "path"
	MatcherHost   MatcherKind = "host"
	MatcherHeader MatcherKind = "header"
	MatcherMethod MatcherKind = "method"
)

type PathKind string

const (
	PathPrefix PathKind = "prefix"
	PathExact  PathKind = "exact"
	PathRegex  PathKind = "regex"
)

type HeaderKind string

const (
	HeaderExact HeaderKind = "exact"
	HeaderRegex HeaderKind = "regex"
	HeaderSplit HeaderKind = "split"
)

// Endpoint is one upstream address (spec.md §3 Endpoint). Identity is a
// stable key surviving reload when the descriptor is unchanged; it indexes
// health/breaker/limiter state in the keyed registries.
type Endpoint struct {
	Scheme    string // http | https | grpc | tcp
	Authority string
	Port      uint16
	Identity  string
}

// ForwardKind tags the ForwardSpec union (spec.md §3 ForwardSpec).
type ForwardKind string

const (
	ForwardSingle      ForwardKind = "single"
	ForwardWeighted    ForwardKind = "weighted"
	ForwardPoll        ForwardKind = "poll"
	ForwardRandom      ForwardKind = "random"
	ForwardHeaderBased ForwardKind = "header_based"
	ForwardFile        ForwardKind = "file"
)

type WeightedEntry struct {
	Endpoint Endpoint
	Weight   uint32
}

type HeaderBasedEntry struct {
	HeaderValue string
	Endpoint    Endpoint
}

type ForwardSpec struct {
	Kind ForwardKind

	Single Endpoint

	WeightedEntries []WeightedEntry

	PollEntries   []Endpoint
	RandomEntries []Endpoint

	HeaderBasedEntries []HeaderBasedEntry
	HeaderName         string

	FileRoot       string
	FileIndexFiles []string

	// Identity groups this ForwardSpec for Poll-cursor sharing; stable
	// across reload when the descriptor is textually unchanged.
	Identity string
}

// MiddlewareKind tags the per-route middleware chain (spec.md §4.6).
type MiddlewareKind string

const (
	MiddlewareForwardHeaders MiddlewareKind = "forward_headers"
	MiddlewareAllowDenyList  MiddlewareKind = "allow_deny_list"
	MiddlewareAuthentication MiddlewareKind = "authentication"
	MiddlewareRateLimit      MiddlewareKind = "rate_limit"
	MiddlewareCircuitBreaker MiddlewareKind = "circuit_breaker"
	MiddlewareCORS           MiddlewareKind = "cors"
	MiddlewareRequestHeaders MiddlewareKind = "request_headers"
	MiddlewareRewriteHeaders MiddlewareKind = "rewrite_headers"
)

type AuthKind string

const (
	AuthAPIKey AuthKind = "api_key"
	AuthBasic  AuthKind = "basic"
	AuthJWT    AuthKind = "jwt"
)

type MiddlewareSpec struct {
	Kind MiddlewareKind

	// allow_deny_list
	AllowCIDRs []string
	DenyCIDRs  []string

	// authentication
	AuthKind      AuthKind
	APIKeyHeader  string // header name, or "query:<param>" form
	APIKeyValue   string
	BasicUser     string
	BasicPass     string
	JWTIssuer     string
	JWTJWKSURL    string
	JWTAudience   string
	JWTSigningKey string // static HMAC secret, used when JWKSURL is empty

	// rate_limit
	RateLimitAlgo     string // "token_bucket" | "fixed_window"
	RateLimitCapacity float64
	RateLimitRate     float64
	RateLimitWindow   time.Duration
	RateLimitLimit    int
	RateLimitDim      string // "global" | "client_ip" | "header_value"
	RateLimitHeader   string

	// circuit_breaker
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration

	// cors
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	CORSMaxAge       time.Duration

	// request_headers / rewrite_headers
	HeaderAdd      map[string]string
	HeaderRemove   []string
	HeaderOverride map[string]string
}

// RewriteSpec computes the outgoing path from the incoming path by pattern
// replacement (spec.md §4.7).
type RewriteSpec struct {
	Pattern     string
	Replacement string
}

// HealthSpec configures active probing for the endpoints a route forwards
// to (spec.md §4.3).
type HealthSpec struct {
	Path               string // HTTP probe path; ignored for TCP probes
	Interval           time.Duration
	Timeout            time.Duration
	UnhealthyThreshold int
	HealthyThreshold   int
	Passive5xxOnly     bool
}

// TimeoutSpec bounds upstream time (spec.md §4.7).
type TimeoutSpec struct {
	UpstreamTimeout time.Duration
	ConnectTimeout  time.Duration
}

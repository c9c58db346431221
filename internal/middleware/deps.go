package middleware

import (
	"github.com/spire-proxy/spire/internal/breaker"
	"github.com/spire-proxy/spire/internal/jwks"
	"github.com/spire-proxy/spire/internal/ratelimit"
)

// Deps carries the keyed, cross-request state rate_limit,
// circuit_breaker, and authentication consult. RouteID scopes
// rate_limit/circuit_breaker keys to the owning route (spec.md
// §4.4/§4.5: both are keyed by route_id plus an optional dimension).
// JWKS is shared across every route and keyed by jwks_url instead, since
// two routes naming the same issuer should share one cached key set.
type Deps struct {
	RouteID      string
	TokenBuckets *ratelimit.TokenBuckets
	Windows      *ratelimit.Windows
	Breakers     *breaker.Registry
	JWKS         *jwks.Registry
}

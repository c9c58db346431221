package middleware

import (
	"net/http"

	"github.com/spire-proxy/spire/internal/breaker"
	"github.com/spire-proxy/spire/internal/config"
)

// circuitBreaker gates admission per spec.md §4.4's Closed/Open/HalfOpen
// state table. It does not record outcomes itself — the dispatcher calls
// Breakers.RecordSuccess/RecordFailure once the upstream result is known,
// since only it sees whether the round trip actually succeeded.
type circuitBreaker struct {
	deps Deps
	cfg  breaker.Config
}

func newCircuitBreaker(spec config.MiddlewareSpec, deps Deps) (*circuitBreaker, error) {
	return &circuitBreaker{
		deps: deps,
		cfg: breaker.Config{
			Threshold: spec.BreakerThreshold,
			Window:    spec.BreakerWindow,
			Cooldown:  spec.BreakerCooldown,
		},
	}, nil
}

func (m *circuitBreaker) OnRequest(_ http.ResponseWriter, r *http.Request) Result {
	if !m.deps.Breakers.Allow(m.deps.RouteID, m.cfg) {
		return terminal(http.StatusServiceUnavailable, "circuit breaker open")
	}
	return pass()
}

func (*circuitBreaker) OnResponse(http.ResponseWriter, *http.Request, *http.Response) {}

// Package control implements the config control bus of spec.md §9: an
// atomically-swapped pointer to the active router.Snapshot, plus the
// supporting load-balancer cursor and health/breaker registries that
// outlive any one snapshot. Requests already in flight retain the
// *router.Snapshot they started with via their own local variable — Go's
// garbage collector keeps that snapshot (and everything it points to)
// alive for exactly as long as any goroutine still holds the pointer, so
// no manual reference counting is needed to satisfy "retained until the
// last in-flight request completes."
package control

import (
	"sync/atomic"

	"github.com/spire-proxy/spire/internal/breaker"
	"github.com/spire-proxy/spire/internal/cert"
	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/health"
	"github.com/spire-proxy/spire/internal/jwks"
	"github.com/spire-proxy/spire/internal/lb"
	"github.com/spire-proxy/spire/internal/ratelimit"
	"github.com/spire-proxy/spire/internal/router"
)

// Bus holds the single swappable snapshot pointer read by every listener
// and dispatcher, plus the long-lived keyed state the router doesn't own.
type Bus struct {
	snapshot atomic.Pointer[router.Snapshot]
	raw      atomic.Pointer[[]config.Server]

	Health       *health.Registry
	Breakers     *breaker.Registry
	TokenBuckets *ratelimit.TokenBuckets
	Windows      *ratelimit.Windows
	Cursors      *lb.Cursors
	Certs        *cert.Store
	JWKS         *jwks.Registry
}

func NewBus() *Bus {
	return &Bus{
		Health:       health.NewRegistry(),
		Breakers:     breaker.NewRegistry(),
		TokenBuckets: ratelimit.NewTokenBuckets(),
		Windows:      ratelimit.NewWindows(),
		Cursors:      lb.NewCursors(),
		Certs:        cert.NewStore(),
		JWKS:         jwks.NewRegistry(),
	}
}

// Snapshot returns the currently active routing snapshot. Callers should
// take this once per request and use the same value throughout, not
// re-fetch mid-request — that is what makes "retained until the last
// in-flight request completes" true without extra bookkeeping.
func (b *Bus) Snapshot() *router.Snapshot { return b.snapshot.Load() }

// Swap installs next as the active snapshot, publishing it to every
// subsequent Snapshot() call. Previously accepted requests keep whatever
// *router.Snapshot they already captured.
func (b *Bus) Swap(next *router.Snapshot) { b.snapshot.Store(next) }

// RawConfig returns the config.Server list the active snapshot was built
// from, for the /config GET admin contract's canonical-form requirement.
func (b *Bus) RawConfig() []config.Server {
	p := b.raw.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SwapConfig records the config.Server list alongside the compiled
// Snapshot it produced. Callers must call this together with Swap so
// RawConfig and Snapshot never observe inconsistent reloads.
func (b *Bus) SwapConfig(servers []config.Server) { b.raw.Store(&servers) }

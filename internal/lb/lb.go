// Package lb implements the load-balancer policies of spec.md §4.2: given
// a route's ForwardSpec and a request, select an upstream Endpoint,
// consulting the health registry and falling back to the full endpoint
// set when every candidate is Unhealthy (the "none healthy" policy, so a
// transient health blip never blackholes a route).
//
// Weighted draws from a cumulative-weight array rather than the teacher's
// smooth-weighted-round-robin sequence generator — spec.md §4.2 specifies
// a uniform draw proportional to weight, which smooth WRR does not
// produce on every individual pick (it spreads picks evenly over a
// sequence, not independently per request). DESIGN.md records this as a
// resolved Open Question: the teacher's sequencing approach is kept for
// Poll (round-robin is exactly what it was built for) and dropped for
// Weighted.
package lb

import (
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/health"
)

// Cursors holds the shared Poll cursor per ForwardSpec identity. A cursor
// survives reload when the ForwardSpec's Identity is unchanged, keeping
// the round-robin sequence continuous across a config update.
type Cursors struct {
	mu      sync.Mutex
	byIdent map[string]*atomic.Uint64
}

func NewCursors() *Cursors { return &Cursors{byIdent: make(map[string]*atomic.Uint64)} }

func (c *Cursors) get(identity string) *atomic.Uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.byIdent[identity]
	if !ok {
		cur = &atomic.Uint64{}
		c.byIdent[identity] = cur
	}
	return cur
}

// Balancer binds a health registry and the Poll cursor set.
type Balancer struct {
	Health  *health.Registry
	Cursors *Cursors
}

func New(h *health.Registry, c *Cursors) *Balancer {
	return &Balancer{Health: h, Cursors: c}
}

// filterHealthy returns the subset of eps that are not Unhealthy, or eps
// unchanged if every one of them is (spec.md §4.2 fallback policy).
func (b *Balancer) filterHealthy(eps []config.Endpoint) []config.Endpoint {
	out := make([]config.Endpoint, 0, len(eps))
	for _, e := range eps {
		if b.Health.IsHealthy(e.Identity) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return eps
	}
	return out
}

// Select picks an endpoint for spec given the incoming request. ok is
// false on spec.md §4.2's NoEndpoint condition (empty entry list, or a
// header_based forward with no matching entry).
func (b *Balancer) Select(spec config.ForwardSpec, r *http.Request) (config.Endpoint, bool) {
	switch spec.Kind {
	case config.ForwardSingle:
		return spec.Single, true
	case config.ForwardWeighted:
		return b.selectWeighted(spec)
	case config.ForwardPoll:
		return b.selectPoll(spec)
	case config.ForwardRandom:
		return b.selectRandom(spec)
	case config.ForwardHeaderBased:
		return b.selectHeaderBased(spec, r)
	default:
		return config.Endpoint{}, false
	}
}

func (b *Balancer) selectWeighted(spec config.ForwardSpec) (config.Endpoint, bool) {
	entries := spec.WeightedEntries
	if len(entries) == 0 {
		return config.Endpoint{}, false
	}
	weights := make([]uint32, len(entries))
	var total uint32
	for i, e := range entries {
		w := e.Weight
		if !b.Health.IsHealthy(e.Endpoint.Identity) {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		// every endpoint unhealthy: fall back to the declared weights.
		total = 0
		for i, e := range entries {
			weights[i] = e.Weight
			total += e.Weight
		}
	}
	if total == 0 {
		return config.Endpoint{}, false
	}
	draw := rand.Uint32N(total)
	var cum uint32
	for i, w := range weights {
		cum += w
		if draw < cum {
			return entries[i].Endpoint, true
		}
	}
	return entries[len(entries)-1].Endpoint, true
}

func (b *Balancer) selectPoll(spec config.ForwardSpec) (config.Endpoint, bool) {
	if len(spec.PollEntries) == 0 {
		return config.Endpoint{}, false
	}
	filtered := b.filterHealthy(spec.PollEntries)
	if len(filtered) == 0 {
		return config.Endpoint{}, false
	}
	cursor := b.Cursors.get(spec.Identity)
	idx := cursor.Add(1) % uint64(len(filtered))
	return filtered[idx], true
}

func (b *Balancer) selectRandom(spec config.ForwardSpec) (config.Endpoint, bool) {
	if len(spec.RandomEntries) == 0 {
		return config.Endpoint{}, false
	}
	filtered := b.filterHealthy(spec.RandomEntries)
	if len(filtered) == 0 {
		return config.Endpoint{}, false
	}
	return filtered[rand.IntN(len(filtered))], true
}

func (b *Balancer) selectHeaderBased(spec config.ForwardSpec, r *http.Request) (config.Endpoint, bool) {
	v := r.Header.Get(spec.HeaderName)
	if v == "" {
		return config.Endpoint{}, false
	}
	for _, e := range spec.HeaderBasedEntries {
		if e.HeaderValue == v {
			return e.Endpoint, true
		}
	}
	return config.Endpoint{}, false
}

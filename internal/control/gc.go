package control

import (
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultIdle is spec.md §3's T_idle: the span an entry can go unreferenced
// by the active snapshot before its keyed state (health, breaker,
// rate-limit) is reclaimed.
const DefaultIdle = 5 * time.Minute

// defaultGCInterval is how often the sweep runs; it only needs to be
// comfortably smaller than DefaultIdle.
const defaultGCInterval = time.Minute

// GC runs a periodic sweep over every keyed registry the Bus owns,
// mirroring health.Prober's use of robfig/cron/v3 for a fixed-interval
// background job rather than a hand-rolled time.Ticker goroutine.
type GC struct {
	bus  *Bus
	idle time.Duration
	cron *cron.Cron
}

// NewGC builds a GC job over bus's registries. idle <= 0 uses DefaultIdle.
func NewGC(bus *Bus, idle time.Duration) *GC {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &GC{bus: bus, idle: idle, cron: cron.New()}
}

func (g *GC) Start() {
	_, _ = g.cron.AddFunc("@every "+defaultGCInterval.String(), g.sweep)
	g.cron.Start()
}

func (g *GC) Stop() { g.cron.Stop() }

func (g *GC) sweep() {
	g.bus.Health.GC(g.idle)
	g.bus.Breakers.GC(g.idle)
	g.bus.TokenBuckets.GC(g.idle)
	g.bus.Windows.GC(g.idle)
}

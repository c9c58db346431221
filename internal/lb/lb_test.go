package lb

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/health"
)

func newBalancer() *Balancer {
	return New(health.NewRegistry(), NewCursors())
}

func TestSelectSingle(t *testing.T) {
	b := newBalancer()
	spec := config.ForwardSpec{Kind: config.ForwardSingle, Single: config.Endpoint{Authority: "a", Identity: "a"}}
	ep, ok := b.Select(spec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !ok || ep.Authority != "a" {
		t.Fatalf("got %v, %v", ep, ok)
	}
}

func TestSelectPollRoundRobins(t *testing.T) {
	b := newBalancer()
	spec := config.ForwardSpec{
		Kind: config.ForwardPoll,
		PollEntries: []config.Endpoint{
			{Authority: "a", Identity: "a"},
			{Authority: "b", Identity: "b"},
		},
		Identity: "poll-1",
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		ep, ok := b.Select(spec, r)
		if !ok {
			t.Fatal("expected ok")
		}
		seen[ep.Authority]++
	}
	if seen["a"] != 5 || seen["b"] != 5 {
		t.Fatalf("expected even split, got %v", seen)
	}
}

func TestSelectPollSkipsUnhealthy(t *testing.T) {
	b := newBalancer()
	b.Health.RecordFailure("b", 1)
	spec := config.ForwardSpec{
		Kind: config.ForwardPoll,
		PollEntries: []config.Endpoint{
			{Authority: "a", Identity: "a"},
			{Authority: "b", Identity: "b"},
		},
		Identity: "poll-2",
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for i := 0; i < 5; i++ {
		ep, ok := b.Select(spec, r)
		if !ok || ep.Authority != "a" {
			t.Fatalf("expected only a, got %v ok=%v", ep, ok)
		}
	}
}

func TestSelectWeightedFallsBackWhenAllUnhealthy(t *testing.T) {
	b := newBalancer()
	b.Health.RecordFailure("a", 1)
	b.Health.RecordFailure("b", 1)
	spec := config.ForwardSpec{
		Kind: config.ForwardWeighted,
		WeightedEntries: []config.WeightedEntry{
			{Endpoint: config.Endpoint{Authority: "a", Identity: "a"}, Weight: 1},
			{Endpoint: config.Endpoint{Authority: "b", Identity: "b"}, Weight: 1},
		},
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := b.Select(spec, r)
	if !ok {
		t.Fatal("expected fallback selection, not NoEndpoint")
	}
}

func TestSelectHeaderBasedNoMatch(t *testing.T) {
	b := newBalancer()
	spec := config.ForwardSpec{
		Kind:       config.ForwardHeaderBased,
		HeaderName: "X-Shard",
		HeaderBasedEntries: []config.HeaderBasedEntry{
			{HeaderValue: "east", Endpoint: config.Endpoint{Authority: "a", Identity: "a"}},
		},
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Shard", "west")
	if _, ok := b.Select(spec, r); ok {
		t.Fatal("expected no match")
	}
}

func TestSelectHeaderBasedMatch(t *testing.T) {
	b := newBalancer()
	spec := config.ForwardSpec{
		Kind:       config.ForwardHeaderBased,
		HeaderName: "X-Shard",
		HeaderBasedEntries: []config.HeaderBasedEntry{
			{HeaderValue: "east", Endpoint: config.Endpoint{Authority: "a", Identity: "a"}},
		},
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Shard", "east")
	ep, ok := b.Select(spec, r)
	if !ok || ep.Authority != "a" {
		t.Fatalf("got %v, %v", ep, ok)
	}
}

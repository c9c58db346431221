package health

import (
	"testing"

	"github.com/spire-proxy/spire/internal/config"
)

func TestTargetsFromServersSkipsRoutesWithoutHealthCheck(t *testing.T) {
	servers := []config.Server{
		{
			ListenPort: 8080,
			Routes: []config.Route{
				{
					ID:          "probed",
					Forward:     config.ForwardSpec{Kind: config.ForwardSingle, Single: config.Endpoint{Scheme: "http", Authority: "a", Port: 80, Identity: "a:80"}},
					HealthCheck: &config.HealthSpec{UnhealthyThreshold: 3, HealthyThreshold: 2},
				},
				{
					ID:      "unprobed",
					Forward: config.ForwardSpec{Kind: config.ForwardSingle, Single: config.Endpoint{Scheme: "http", Authority: "b", Port: 80, Identity: "b:80"}},
				},
			},
		},
	}

	targets := TargetsFromServers(servers)
	if len(targets) != 1 {
		t.Fatalf("expected exactly 1 active-probe target, got %d: %+v", len(targets), targets)
	}
	if targets[0].Key != "a:80" {
		t.Fatalf("expected the health_check-configured endpoint to be probed, got %q", targets[0].Key)
	}
}

func TestTargetsFromServersDedupesSharedEndpoint(t *testing.T) {
	shared := config.Endpoint{Scheme: "http", Authority: "shared", Port: 80, Identity: "shared:80"}
	servers := []config.Server{
		{
			ListenPort: 8080,
			Routes: []config.Route{
				{ID: "r1", Forward: config.ForwardSpec{Kind: config.ForwardSingle, Single: shared}, HealthCheck: &config.HealthSpec{}},
				{ID: "r2", Forward: config.ForwardSpec{Kind: config.ForwardSingle, Single: shared}, HealthCheck: &config.HealthSpec{}},
			},
		},
	}

	targets := TargetsFromServers(servers)
	if len(targets) != 1 {
		t.Fatalf("expected the shared endpoint to be deduped across routes, got %d", len(targets))
	}
}

func TestTargetsFromServersFlattensEveryForwardKind(t *testing.T) {
	hc := &config.HealthSpec{}
	servers := []config.Server{
		{
			ListenPort: 8080,
			Routes: []config.Route{
				{
					ID: "poll",
					Forward: config.ForwardSpec{
						Kind: config.ForwardPoll,
						PollEntries: []config.Endpoint{
							{Scheme: "http", Authority: "p1", Port: 80, Identity: "p1:80"},
							{Scheme: "http", Authority: "p2", Port: 80, Identity: "p2:80"},
						},
					},
					HealthCheck: hc,
				},
				{
					ID: "weighted",
					Forward: config.ForwardSpec{
						Kind: config.ForwardWeighted,
						WeightedEntries: []config.WeightedEntry{
							{Endpoint: config.Endpoint{Scheme: "http", Authority: "w1", Port: 80, Identity: "w1:80"}, Weight: 1},
						},
					},
					HealthCheck: hc,
				},
			},
		},
	}

	targets := TargetsFromServers(servers)
	if len(targets) != 3 {
		t.Fatalf("expected 3 flattened targets across poll+weighted, got %d: %+v", len(targets), targets)
	}
}

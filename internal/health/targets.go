package health

import "github.com/spire-proxy/spire/internal/config"

// TargetsFromServers flattens every endpoint of every route that
// configures health_check into the flat list a Prober schedules against
// (spec.md §4.3: "for each endpoint referenced by a route with
// health_check, a scheduler runs probes" — a route with none gets no
// active probing, only the dispatcher's passive signal). Shared by
// cmd/spire's boot/file-reload path and internal/admin's config PUT
// handler, so both reconciliation paths schedule probes identically.
func TargetsFromServers(servers []config.Server) []Target {
	var out []Target
	seen := make(map[string]struct{})
	add := func(ep config.Endpoint, spec *config.HealthSpec) {
		if spec == nil || ep.Identity == "" {
			return
		}
		if _, ok := seen[ep.Identity]; ok {
			return
		}
		seen[ep.Identity] = struct{}{}
		out = append(out, Target{
			Key:       ep.Identity,
			Scheme:    ep.Scheme,
			Authority: ep.Authority,
			Port:      ep.Port,
			Spec:      *spec,
		})
	}
	for _, s := range servers {
		for _, r := range s.Routes {
			switch r.Forward.Kind {
			case config.ForwardSingle:
				add(r.Forward.Single, r.HealthCheck)
			case config.ForwardWeighted:
				for _, e := range r.Forward.WeightedEntries {
					add(e.Endpoint, r.HealthCheck)
				}
			case config.ForwardPoll:
				for _, e := range r.Forward.PollEntries {
					add(e, r.HealthCheck)
				}
			case config.ForwardRandom:
				for _, e := range r.Forward.RandomEntries {
					add(e, r.HealthCheck)
				}
			case config.ForwardHeaderBased:
				for _, e := range r.Forward.HeaderBasedEntries {
					add(e.Endpoint, r.HealthCheck)
				}
			}
		}
	}
	return out
}

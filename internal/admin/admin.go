// Package admin implements the five contract endpoints spec.md §6 names
// as a collaborator surface around the control bus and certificate
// store: /health, /config (GET/PUT), /metrics, /certificates (GET/POST).
//
// Grounded in cla9-loadbalancer/internal/rest/server and
// internal/rest/resource — the pack's only gorilla/mux user, whose
// RouteConfig table and decode-validate-delegate handler shape this
// package generalizes from cluster/backend CRUD to Spire's config and
// certificate surface.
package admin

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/control"
	"github.com/spire-proxy/spire/internal/health"
	"github.com/spire-proxy/spire/internal/listener"
	"github.com/spire-proxy/spire/internal/metrics"
	"github.com/spire-proxy/spire/internal/router"
)

// Server exposes the admin contract surface on its own listener, wired
// to the same control.Bus the data-plane listeners read. Listeners and
// Prober mirror the file-watch reload path's reconciliation
// (cmd/spire/main.go's reload) so a config PUT here starts/drains
// listeners and reschedules active health probes exactly the same way
// a file-based reload does (spec.md §4.8).
type Server struct {
	Bus       *control.Bus
	Metrics   *metrics.Registry
	Log       *logrus.Logger
	Listeners *listener.Manager
	Prober    *health.Prober
}

func New(bus *control.Bus, m *metrics.Registry, log *logrus.Logger, listeners *listener.Manager, prober *health.Prober) *Server {
	return &Server{Bus: bus, Metrics: m, Log: log, Listeners: listeners, Prober: prober}
}

// Handler builds the gorilla/mux router for the five contract endpoints.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/config", s.getConfig).Methods(http.MethodGet)
	r.HandleFunc("/config", s.putConfig).Methods(http.MethodPut)
	r.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/certificates", s.listCertificates).Methods(http.MethodGet)
	r.HandleFunc("/certificates", s.uploadCertificate).Methods(http.MethodPost)
	return r
}

// health answers 200 "ok" once a snapshot has been published; before the
// first successful reload there is nothing yet to serve traffic for.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if s.Bus.Snapshot() == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// getConfig returns the canonical, already-normalized form of the
// servers the active snapshot was built from.
func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(configPayload{Servers: s.Bus.RawConfig()}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// configPayload is the PUT body: a full replacement server list. Spire
// validates only that the payload decodes into the data model and that
// router.Build accepts it; richer schema validation is the YAML
// loader's job (spec.md §1), exercised identically on the file-reload
// path via internal/config.
type configPayload struct {
	Servers []config.Server `json:"servers"`
}

// putConfig replaces the active snapshot through the same build-then-
// atomically-swap path a file reload uses (spec.md §9), so a rejected
// payload leaves the previous snapshot serving traffic untouched.
func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var payload configPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := router.Build(payload.Servers)
	if err != nil {
		http.Error(w, "invalid config: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.Bus.SwapConfig(payload.Servers)
	s.Bus.Swap(snap)
	if s.Listeners != nil {
		s.Listeners.Reconcile(snap.Servers())
	}
	if s.Prober != nil {
		s.Prober.Sync(health.TargetsFromServers(payload.Servers))
	}
	if s.Log != nil {
		s.Log.WithField("servers", len(payload.Servers)).Info("config replaced via admin API")
	}
	w.WriteHeader(http.StatusOK)
}

type certificateList struct {
	Domains []string `json:"domains"`
}

func (s *Server) listCertificates(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(certificateList{Domains: s.Bus.Certs.Domains()})
}

type certificateUpload struct {
	Domain    string `json:"domain"`
	CertPEM   string `json:"cert_pem"`
	KeyPEM    string `json:"key_pem"`
	IsDefault bool   `json:"is_default"`
}

// uploadCertificate installs one certificate/key pair into the shared
// cert.Store, which hot-swaps its whole map rather than mutating in
// place so concurrent TLS handshakes never see a half-updated store.
func (s *Server) uploadCertificate(w http.ResponseWriter, r *http.Request) {
	var req certificateUpload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Domain == "" {
		http.Error(w, "domain is required", http.StatusBadRequest)
		return
	}
	if err := s.Bus.Certs.Load(req.Domain, []byte(req.CertPEM), []byte(req.KeyPEM), req.IsDefault); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.Log != nil {
		s.Log.WithField("domain", req.Domain).Info("certificate installed via admin API")
	}
	w.WriteHeader(http.StatusCreated)
}

// Package cert implements the SNI-keyed certificate store of spec.md
// §4.1's TLS listeners: a domain-to-certificate map with a default entry
// for SNI names that match nothing, fed into tls.Config.GetCertificate.
//
// Grounded in original_source/rust-proxy/src/vojo/sni_cert_resolver.rs's
// SniCertResolver — the domain map plus "no SNI match -> default cert"
// fallback carries over directly; Go's crypto/tls.Certificate replaces
// rustls's sign::CertifiedKey, and GetCertificate's callback shape is the
// stdlib's native equivalent of ResolvesServerCert::resolve.
package cert

import (
	"crypto/tls"
	"fmt"
	"sync"
)

// Store is a threadsafe, hot-swappable SNI certificate map. Certificates
// are installed as a whole new map on each admin update — never mutated
// in place — so concurrent TLS handshakes never observe a partially
// updated store (spec.md §9's snapshot-swap discipline, applied here to
// certificates rather than routes).
type Store struct {
	mu      sync.RWMutex
	byDomain map[string]*tls.Certificate
	def      *tls.Certificate
}

func NewStore() *Store {
	return &Store{byDomain: make(map[string]*tls.Certificate)}
}

// Set installs a full replacement certificate map, and def as the default
// certificate served when the hello carries no SNI name or none matches.
func (s *Store) Set(certs map[string]*tls.Certificate, def *tls.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDomain = certs
	s.def = def
}

// Load parses one certificate/key pair and installs it under domain,
// additionally marking it the default when isDefault is true.
func (s *Store) Load(domain string, certPEM, keyPEM []byte, isDefault bool) error {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("cert: parse %s: %w", domain, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]*tls.Certificate, len(s.byDomain)+1)
	for d, c := range s.byDomain {
		next[d] = c
	}
	next[domain] = &cert
	s.byDomain = next
	if isDefault {
		s.def = &cert
	}
	return nil
}

// GetCertificate implements tls.Config.GetCertificate: exact SNI match,
// falling back to the default certificate when the hello carries no name
// or no entry matches it.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if hello.ServerName != "" {
		if c, ok := s.byDomain[hello.ServerName]; ok {
			return c, nil
		}
	}
	if s.def != nil {
		return s.def, nil
	}
	return nil, fmt.Errorf("cert: no certificate for %q", hello.ServerName)
}

// Domains reports the currently installed SNI domains (admin surface
// read, spec.md §4.1).
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byDomain))
	for d := range s.byDomain {
		out = append(out, d)
	}
	return out
}

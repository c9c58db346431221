package middleware

import (
	"net"
	"net/http"

	"github.com/spire-proxy/spire/internal/config"
)

// allowDenyList implements spec.md §4.6's CIDR allow/deny gate. No
// example repo in the retrieval pack carries a dedicated CIDR-set
// library; net.ParseCIDR/net.IPNet.Contains is the idiomatic stdlib tool
// for this and the teacher's proxy code favors hand-rolled primitives
// for this class of small, self-contained check.
type allowDenyList struct {
	allow []*net.IPNet
	deny  []*net.IPNet
}

func newAllowDenyList(spec config.MiddlewareSpec) (*allowDenyList, error) {
	m := &allowDenyList{}
	for _, c := range spec.AllowCIDRs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		m.allow = append(m.allow, n)
	}
	for _, c := range spec.DenyCIDRs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		m.deny = append(m.deny, n)
	}
	return m, nil
}

// OnRequest denies if the client IP matches any deny CIDR (deny wins
// over allow, spec.md §4.6), otherwise admits if either the allow list
// is empty or the IP matches one of its entries.
func (m *allowDenyList) OnRequest(_ http.ResponseWriter, r *http.Request) Result {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return terminal(http.StatusForbidden, "access denied")
	}
	for _, n := range m.deny {
		if n.Contains(ip) {
			return terminal(http.StatusForbidden, "access denied")
		}
	}
	if len(m.allow) == 0 {
		return pass()
	}
	for _, n := range m.allow {
		if n.Contains(ip) {
			return pass()
		}
	}
	return terminal(http.StatusForbidden, "access denied")
}

func (*allowDenyList) OnResponse(http.ResponseWriter, *http.Request, *http.Response) {}

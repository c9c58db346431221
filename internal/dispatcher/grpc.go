package dispatcher

import (
	"net/http"
	"strconv"

	"github.com/spire-proxy/spire/internal/spireerr"
)

// isGRPC reports whether r carries a gRPC content-type, the signal
// spec.md §4.7 uses to decide whether a Spire-originated rejection (no
// endpoint, breaker open, rate limited, ...) should be written as gRPC
// trailers instead of a plain HTTP error body.
func isGRPC(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return len(ct) >= 16 && ct[:16] == "application/grpc"
}

// WriteError writes err as either a gRPC-trailer response (status 200,
// grpc-status/grpc-message trailers, per the gRPC-over-HTTP/2 wire
// contract) or a plain HTTP error, depending on the request's
// content-type. Spire never decodes the protobuf payload either way.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if !isGRPC(r) {
		http.Error(w, err.Error(), spireerr.HTTPStatus(err))
		return
	}
	st := spireerr.GRPCStatus(err)
	w.Header().Set("Content-Type", "application/grpc")
	w.WriteHeader(http.StatusOK)
	w.Header().Set(http.TrailerPrefix+"Grpc-Status", strconv.Itoa(int(st.Code())))
	w.Header().Set(http.TrailerPrefix+"Grpc-Message", st.Message())
}

// WriteTerminal writes a middleware short-circuit's status/body pair
// (allow_deny_list, authentication, rate_limit, circuit_breaker, cors —
// none of which carry one of spireerr's sentinel errors), applying the
// same gRPC-trailers-vs-plain-HTTP-body branch WriteError does so a
// breaker-open or rate-limited rejection on a gRPC route still produces
// trailers the client can parse.
func WriteTerminal(w http.ResponseWriter, r *http.Request, status int, body string) {
	if !isGRPC(r) {
		if body != "" {
			http.Error(w, body, status)
		} else {
			w.WriteHeader(status)
		}
		return
	}
	code := spireerr.GRPCCodeFromHTTPStatus(status)
	w.Header().Set("Content-Type", "application/grpc")
	w.WriteHeader(http.StatusOK)
	w.Header().Set(http.TrailerPrefix+"Grpc-Status", strconv.Itoa(int(code)))
	if body != "" {
		w.Header().Set(http.TrailerPrefix+"Grpc-Message", body)
	}
}

package spireerr

import (
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrNoRouteMatched, 404},
		{ErrNoEndpointAvailable, 503},
		{ErrAuthRejected, 401},
		{ErrAccessDenied, 403},
		{ErrRateLimited, 429},
		{ErrUpstreamConnectFailed, 502},
		{ErrUpstreamTimeout, 504},
		{ErrUpstreamClosedPrematurely, 502},
		{ErrBreakerOpen, 503},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestHTTPStatusUnrecognizedErrorDefaultsTo502(t *testing.T) {
	if got := HTTPStatus(fmt.Errorf("something else")); got != 502 {
		t.Fatalf("expected 502 for an unrecognized error, got %d", got)
	}
}

func TestHTTPStatusWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("dial: %w", ErrUpstreamConnectFailed)
	if got := HTTPStatus(wrapped); got != 502 {
		t.Fatalf("expected wrapped ErrUpstreamConnectFailed to map to 502, got %d", got)
	}
}

func TestRetryAfterUnwrapsToRateLimited(t *testing.T) {
	var err error = &RetryAfter{Seconds: 5}
	if HTTPStatus(err) != 429 {
		t.Fatalf("expected RetryAfter to map to 429 via Unwrap")
	}
}

func TestGRPCStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{ErrNoRouteMatched, codes.NotFound},
		{ErrNoEndpointAvailable, codes.Unavailable},
		{ErrAuthRejected, codes.Unauthenticated},
		{ErrAccessDenied, codes.PermissionDenied},
		{ErrRateLimited, codes.ResourceExhausted},
		{ErrUpstreamConnectFailed, codes.Unavailable},
		{ErrUpstreamTimeout, codes.DeadlineExceeded},
		{ErrUpstreamClosedPrematurely, codes.Aborted},
		{ErrBreakerOpen, codes.Unavailable},
	}
	for _, c := range cases {
		if got := GRPCStatus(c.err).Code(); got != c.want {
			t.Errorf("GRPCStatus(%v).Code() = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestGRPCStatusUnrecognizedErrorIsInternal(t *testing.T) {
	if got := GRPCStatus(fmt.Errorf("oops")).Code(); got != codes.Internal {
		t.Fatalf("expected codes.Internal for unrecognized error, got %v", got)
	}
}

package spireerr

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCStatus maps a core error kind to a gRPC status, mirroring HTTPStatus
// for routes whose content-type is application/grpc. Spire never decodes
// the protobuf payload; it only needs the status/codes vocabulary so a
// breaker/ratelimit/timeout rejection produces trailers a gRPC client can
// parse instead of a bare HTTP error body.
func GRPCStatus(err error) *status.Status {
	switch {
	case errors.Is(err, ErrNoRouteMatched):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, ErrNoEndpointAvailable):
		return status.New(codes.Unavailable, err.Error())
	case errors.Is(err, ErrAuthRejected):
		return status.New(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrAccessDenied):
		return status.New(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrRateLimited):
		return status.New(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrUpstreamConnectFailed):
		return status.New(codes.Unavailable, err.Error())
	case errors.Is(err, ErrUpstreamTimeout):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrUpstreamClosedPrematurely):
		return status.New(codes.Aborted, err.Error())
	case errors.Is(err, ErrBreakerOpen):
		return status.New(codes.Unavailable, err.Error())
	default:
		return status.New(codes.Internal, err.Error())
	}
}

// GRPCCodeFromHTTPStatus maps a plain HTTP status to the gRPC code a
// gRPC client expects, for rejections that only ever have a status/body
// pair to work from (middleware short-circuits) rather than one of this
// package's sentinel errors. The mapping follows the reverse of gRPC's
// own HTTP-status-for-code table (grpc/grpc's http2_transport.go).
func GRPCCodeFromHTTPStatus(httpStatus int) codes.Code {
	switch httpStatus {
	case 400:
		return codes.InvalidArgument
	case 401:
		return codes.Unauthenticated
	case 403:
		return codes.PermissionDenied
	case 404:
		return codes.NotFound
	case 409:
		return codes.Aborted
	case 429:
		return codes.ResourceExhausted
	case 499:
		return codes.Canceled
	case 501:
		return codes.Unimplemented
	case 503:
		return codes.Unavailable
	case 504:
		return codes.DeadlineExceeded
	default:
		return codes.Unknown
	}
}

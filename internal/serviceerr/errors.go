package serviceerr

import (
	"errors"
	"net/http"
)

// Code is a machine readable error code returned in the "error" field of
// an error response body.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeUpstream       Code = "upstream_error"
	CodeUnknown        Code = "unknown"
)

// Error is returned by the flow controller and the middleware. The HTTP layer
// renders it as { "error": Err, "error_description": Description }.
type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrBadRequest   = &Error{Err: CodeInvalidRequest, Description: "invalid request"}
	ErrUnauthorized = &Error{Err: CodeUnauthorized, Description: "Unauthorized"}
	ErrForbidden    = &Error{Err: CodeForbidden, Description: "Not available in production"}
	ErrUpstream     = &Error{Err: CodeUpstream, Description: "Authorization with the platform failed"}
	ErrUnknown      = &Error{Err: CodeUnknown, Description: "Internal server error"}
)

// BadRequest returns an invalid_request error carrying a caller facing
// description of the missing or malformed input.
func BadRequest(description string) *Error {
	return &Error{Err: CodeInvalidRequest, Description: description}
}

// Storage level sentinels.
var (
	ErrNotFound  = errors.New("not found")
	ErrInvalidID = errors.New("invalid id")
)

// As extracts the service error from a wrapped chain. Errors without a
// service error in the chain are reported as ErrUnknown.
func As(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}

	return ErrUnknown
}

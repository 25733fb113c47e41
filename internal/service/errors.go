package service

import (
	"fmt"
	"net/http"
)

// Error is a domain error returned by service methods. Handlers pass it
// to RespondError unchanged.
type Error struct {
	Kind    ErrorKind
	Code    string      // machine-readable, e.g. "pricing_unavailable"
	Message string      // human-readable
	Details interface{} // optional payload echoed to the caller
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorKind decides the HTTP status of an Error.
type ErrorKind int

const (
	ErrInternal ErrorKind = iota
	ErrBadRequest
	ErrNotFound
	ErrUnavailable
)

var kindStatus = map[ErrorKind]int{
	ErrInternal:    http.StatusInternalServerError,
	ErrBadRequest:  http.StatusBadRequest,
	ErrNotFound:    http.StatusNotFound,
	ErrUnavailable: http.StatusServiceUnavailable,
}

// HTTPStatus maps a kind to its response status; unknown kinds are 500.
func (k ErrorKind) HTTPStatus() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Codes of the error taxonomy. Node failures never reach a caller; the
// watcher retries them.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeNotFound           = "not_found"
	CodeTierNotOffered     = "tier_not_offered"
	CodePricingUnavailable = "pricing_unavailable"
	CodeAddressIssuance    = "address_issuance_failed"
	CodeInternal           = "internal_error"
)

func NewBadRequest(code, message string) *Error {
	return &Error{Kind: ErrBadRequest, Code: code, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

func NewUnavailable(code, message string) *Error {
	return &Error{Kind: ErrUnavailable, Code: code, Message: message}
}

// WithDetails attaches a payload to the error and returns it.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

package driven

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared by the driven adapters and the application layer.
var (
	// ErrValidation indicates a request was rejected before any network call,
	// e.g. an empty identifier list or a malformed identifier.
	ErrValidation = errors.New("invalid request")

	// ErrProductNotFound indicates the upstream lookup succeeded but returned
	// no product for the requested identifier.
	ErrProductNotFound = errors.New("product not found")

	// ErrCredentialsMissing indicates the API access key, secret key or
	// partner tag is not configured.
	ErrCredentialsMissing = errors.New("api credentials not configured")

	// ErrInvalidProduct indicates a product without identifier or title was
	// offered for storage.
	ErrInvalidProduct = errors.New("product requires identifier and title")
)

// UpstreamError is returned when the product API answers with a non-200
// status or with an Errors payload.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream error (status %d): %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// DecodeError is returned when an upstream response body is not valid JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode upstream response: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an error for callers that need to tell "no data"
// apart from "transient failure".
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindCredentials ErrorKind = "credentials"
	KindUpstream    ErrorKind = "upstream"
	KindTransport   ErrorKind = "transport"
	KindInternal    ErrorKind = "internal"
)

// Classify maps err onto the error taxonomy. Network failures, timeouts and
// cancellations are transport errors; anything unrecognized is internal.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var upstream *UpstreamError
	var decode *DecodeError
	var netErr net.Error

	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidProduct):
		return KindValidation
	case errors.Is(err, ErrProductNotFound):
		return KindNotFound
	case errors.Is(err, ErrCredentialsMissing):
		return KindCredentials
	case errors.As(err, &upstream), errors.As(err, &decode):
		return KindUpstream
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransport
	default:
		return KindInternal
	}
}

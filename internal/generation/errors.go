package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Kind is the closed failure taxonomy shared by providers, the extractor and
// the orchestrator.
type Kind string

const (
	KindUnknown               Kind = "unknown"
	KindIncomplete            Kind = "incomplete"
	KindJSONParse             Kind = "json_parse"
	KindRateLimit             Kind = "rate_limit"
	KindInvalidRequest        Kind = "invalid_request"
	KindSegmentRetryExhausted Kind = "segment_retry_exhausted"
	KindSchemaValidation      Kind = "schema_validation"
	KindTransient             Kind = "transient"
)

// Error carries a taxonomy kind alongside the underlying cause.
type Error struct {
	Kind       Kind
	Provider   string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "generation error"
	}
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.Status != 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, e.Status)
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError wraps err with kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds an Error of kind with a formatted cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. Errors that carry no explicit kind are mapped from
// context, network and timeout conditions; everything else is unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}

// RetryAfterOf returns the provider-suggested wait, if any.
func RetryAfterOf(err error) time.Duration {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.RetryAfter
	}
	return 0
}

// FromStatus maps an HTTP status returned by provider into the taxonomy.
func FromStatus(provider string, status int, err error) *Error {
	kind := KindUnknown
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity, status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = KindInvalidRequest
	case status == http.StatusRequestTimeout, status >= 500 && status <= 599:
		kind = KindTransient
	}
	if err == nil {
		err = fmt.Errorf("API returned status %d", status)
	}
	return &Error{Kind: kind, Provider: provider, Status: status, Err: err}
}

// FromTransport classifies an error raised before any HTTP status was seen.
func FromTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var genErr *Error
	if errors.As(err, &genErr) {
		return err
	}
	return &Error{Kind: KindTransient, Provider: provider, Err: err}
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

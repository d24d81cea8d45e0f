package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can react without string matching.
type Kind int

const (
	// KindUnknown is the zero value; treated as an internal error.
	KindUnknown Kind = iota
	// KindNotFound: the upstream confirmed the resource does not exist.
	KindNotFound
	// KindInvalidRequest: malformed input, rejected before any network call.
	KindInvalidRequest
	// KindUpstreamUnavailable: the retry budget was exhausted against a
	// retryable failure class.
	KindUpstreamUnavailable
	// KindRateLimited: the local rate limiter wait exceeded its maximum.
	KindRateLimited
	// KindParseFailure: a successful response could not be turned into a
	// domain record.
	KindParseFailure
	// KindCacheCorruption: a stored disk entry could not be read back.
	// Always recovered locally; never surfaced to callers.
	KindCacheCorruption
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindParseFailure:
		return "parse_failure"
	case KindCacheCorruption:
		return "cache_corruption"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a kind to the status the front-end responds with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindParseFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the classified error returned across the cache and fetch layers.
type Error struct {
	Kind     Kind
	Message  string
	Target   string // upstream URL or cache key the failure relates to
	Attempts int    // fetch attempts consumed, 0 when not applicable
	cause    error
}

func (e *Error) Error() string {
	s := e.Message
	if e.Target != "" {
		s = fmt.Sprintf("%s (target=%s)", s, e.Target)
	}
	if e.Attempts > 0 {
		s = fmt.Sprintf("%s (attempts=%d)", s, e.Attempts)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", s, e.cause)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithTarget returns a copy carrying the upstream target.
func (e *Error) WithTarget(target string) *Error {
	c := *e
	c.Target = target
	return &c
}

// WithAttempts returns a copy carrying the attempt count.
func (e *Error) WithAttempts(n int) *Error {
	c := *e
	c.Attempts = n
	return &c
}

// KindOf extracts the kind from any error in the chain, KindUnknown if none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// payload is the JSON wire shape written to front-end clients.
type payload struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Target   string `json:"target,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// WriteJSON writes the error to an HTTP response with its mapped status.
// Unclassified errors are written as a generic internal error so upstream
// details never leak.
func WriteJSON(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var ce *Error
	if !errors.As(err, &ce) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(payload{Error: "internal", Message: "internal error"})
		return
	}

	w.WriteHeader(ce.Kind.HTTPStatus())
	json.NewEncoder(w).Encode(payload{
		Error:    ce.Kind.String(),
		Message:  ce.Message,
		Target:   ce.Target,
		Attempts: ce.Attempts,
	})
}

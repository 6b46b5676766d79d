// Package apperr holds the error taxonomy shared by the provider gateway,
// the CMS gateway and the job pipeline.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for propagation and user-facing messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindTransport
	KindNotFound
	KindRateLimit
	KindTimeout
	KindMalformedResponse
	KindUnsupportedProvider
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindMalformedResponse:
		return "malformed_response"
	case KindUnsupportedProvider:
		return "unsupported_provider"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the concrete error type for every classified failure.
type Error struct {
	Kind       Kind
	Op         string // e.g. "wordpress list posts", "gemini generate text"
	Provider   string // provider identity, empty for CMS errors
	StatusCode int    // transport status code, 0 when not applicable
	Message    string
	Err        error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrAuthentication      = &Error{Kind: KindAuthentication}
	ErrTransport           = &Error{Kind: KindTransport}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrRateLimit           = &Error{Kind: KindRateLimit}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrMalformedResponse   = &Error{Kind: KindMalformedResponse}
	ErrUnsupportedProvider = &Error{Kind: KindUnsupportedProvider}
	ErrValidation          = &Error{Kind: KindValidation}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, ErrRateLimit) works on any wrapped *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Validation is shorthand for a missing or invalid configuration field.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// FromStatus maps an HTTP status code to a kind:
// 401/403 auth, 404 not found, 429 rate limit, anything else transport.
func FromStatus(op string, status int, body string) *Error {
	kind := KindTransport
	switch status {
	case 401, 403:
		kind = KindAuthentication
	case 404:
		kind = KindNotFound
	case 429:
		kind = KindRateLimit
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Message: body}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable reports whether err is a rate-limit failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// UserMessage renders a plain-language message for err, naming the provider where known.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "Processing was cancelled."
	}
	var e *Error
	if !errors.As(err, &e) {
		if errors.Is(err, context.DeadlineExceeded) {
			return "The request timed out. Try again later."
		}
		return "Unexpected error: " + err.Error()
	}
	who := "the service"
	if e.Provider != "" {
		who = e.Provider
	}
	switch e.Kind {
	case KindAuthentication:
		if e.Provider != "" {
			return fmt.Sprintf("Authentication with %s failed. Check the API key for this provider.", who)
		}
		return "WordPress rejected the credentials. Check the username and application password, and that the user may edit posts and upload media."
	case KindTransport:
		msg := fmt.Sprintf("Could not reach %s", who)
		if e.StatusCode != 0 {
			msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
		}
		return msg + ". Check the site URL and network connectivity; if the REST API is behind a proxy or CORS policy, allow requests from this host."
	case KindNotFound:
		if e.Provider != "" {
			return fmt.Sprintf("%s returned 404 Not Found. Check the model name configured for this provider.", capitalize(who))
		}
		return "The WordPress REST API was not found. Check the site URL and that the REST API is enabled."
	case KindRateLimit:
		return fmt.Sprintf("%s is rate limiting requests and retries were exhausted. Try again later.", capitalize(who))
	case KindTimeout:
		return fmt.Sprintf("The request to %s timed out.", who)
	case KindMalformedResponse:
		msg := fmt.Sprintf("%s returned a response that could not be used", capitalize(who))
		if e.Message != "" {
			msg += ": " + e.Message
		}
		return msg + "."
	case KindUnsupportedProvider:
		return fmt.Sprintf("The provider %q is not supported yet. Choose another provider.", who)
	case KindValidation:
		return "Configuration is incomplete: " + e.Message
	}
	return "Unexpected error: " + err.Error()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

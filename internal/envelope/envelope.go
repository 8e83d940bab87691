// Package envelope defines the uniform success/error wrapper returned from
// every dispatched tool call, and the closed error taxonomy used across the
// gateway.
//
// DESIGN: Vendor SDK/HTTP failures are mapped to tagged error values at the
// upstream client boundary, so the dispatcher and tests work with data, not
// exception hierarchies. A raw error must never reach a caller: the
// dispatcher converts everything to an Envelope.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the machine-matchable error category.
type Kind string

const (
	KindUnknownTool        Kind = "unknown_tool"
	KindInvalidArguments   Kind = "invalid_arguments"
	KindMissingCredentials Kind = "missing_credentials"
	KindAuthError          Kind = "auth_error"    // vendor 401/403, never retried
	KindRateLimited        Kind = "rate_limited"  // 429 after exhausted retries
	KindClientError        Kind = "client_error"  // other vendor 4xx
	KindServerError        Kind = "server_error"  // vendor 5xx after retry
	KindTransportError     Kind = "transport_error"
	KindInternal           Kind = "internal" // recovered panic or unclassified handler error
)

// Error is a tagged gateway error. Details optionally carries the vendor
// error body verbatim for diagnosability.
type Error struct {
	Kind    Kind            `json:"kind"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates a tagged error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches a vendor-provided details blob.
func (e *Error) WithDetails(details []byte) *Error {
	if json.Valid(details) {
		e.Details = details
	} else if len(details) > 0 {
		// Vendor returned non-JSON (HTML error pages etc.) - wrap as string.
		quoted, _ := json.Marshal(string(details))
		e.Details = quoted
	}
	return e
}

// Envelope is the uniform JSON wrapper for a tool call outcome. Exactly one
// of Result or Err is set.
type Envelope struct {
	Result any    `json:"result,omitempty"`
	Err    *Error `json:"error,omitempty"`
}

// Success wraps a handler return value.
func Success(result any) Envelope {
	return Envelope{Result: result}
}

// Failure wraps a tagged error.
func Failure(err *Error) Envelope {
	return Envelope{Err: err}
}

// OK reports whether the envelope carries a result.
func (e Envelope) OK() bool {
	return e.Err == nil
}

// Classify maps an arbitrary handler error to a tagged Error. Already-tagged
// errors pass through unchanged; anything else becomes KindInternal.
func Classify(err error) *Error {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}

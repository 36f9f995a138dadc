package ws

import "errors"

// The error taxonomy of the realtime core. Everything an operation can
// fail with maps onto one of these; the hub translates them into wire
// error events for the originating connection only — operation failures
// are never broadcast.
var (
	// ErrValidation: the request shape was wrong (empty body, bad id).
	// The connection stays open; the client shows inline feedback.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden: sender is not a member of the conversation. Logged,
	// connection stays open.
	ErrForbidden = errors.New("not a conversation member")

	// ErrTransientDelivery: persistence or fan-out I/O failed. Sends
	// fail fast rather than queueing indefinitely; the retry processor
	// owns redelivery for already-persisted messages.
	ErrTransientDelivery = errors.New("transient delivery failure")
)

// Wire error codes for ErrorPayload.Code.
const (
	CodeValidation = "validation_error"
	CodeForbidden  = "forbidden"
	CodeTransient  = "transient_delivery_failure"
	CodeInternal   = "error"
)

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrTransientDelivery):
		return CodeTransient
	default:
		return CodeInternal
	}
}

package domain

import "fmt"

// ErrorKind is the closed error taxonomy surfaced to control-plane callers
// and used for transport error classification inside the runner.
type ErrorKind string

const (
	KindValidation         ErrorKind = "VALIDATION"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindIllegalTransition  ErrorKind = "ILLEGAL_TRANSITION"
	KindTransportTransient ErrorKind = "TRANSPORT_TRANSIENT"
	KindTransportPermanent ErrorKind = "TRANSPORT_PERMANENT"
	KindRecipientInvalid   ErrorKind = "RECIPIENT_INVALID"
	KindChannelUnhealthy   ErrorKind = "CHANNEL_UNHEALTHY"
	KindInternal           ErrorKind = "INTERNAL"
)

// Error is the envelope returned by every failed control-plane call.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a taxonomy error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// SendErrorKind classifies a single failed transport send. The retryable set
// is {TRANSIENT_NETWORK, RATE_LIMIT}; everything else is terminal for the item.
type SendErrorKind string

const (
	SendTransientNetwork  SendErrorKind = "TRANSIENT_NETWORK"
	SendRateLimit         SendErrorKind = "RATE_LIMIT"
	SendPermissionRevoked SendErrorKind = "PERMISSION_REVOKED"
	SendRecipientInvalid  SendErrorKind = "RECIPIENT_INVALID"
	SendUnknown           SendErrorKind = "UNKNOWN"
)

// Retryable reports whether the kind is eligible for another attempt.
func (k SendErrorKind) Retryable() bool {
	return k == SendTransientNetwork || k == SendRateLimit
}

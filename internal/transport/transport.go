// Package transport abstracts the external chat provider. The runner and the
// validation cache only see the ChatTransport capability; the wire-level
// gateway client is one implementation of it.
package transport

import (
	"context"
	"errors"
	"net"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

// SendRequest is one outbound message.
type SendRequest struct {
	ChannelID string
	Address   string
	Body      string
	// Headers carries the per-campaign fingerprint headers. The transport
	// forwards them verbatim.
	Headers map[string]string
}

// SendResult is a successful delivery.
type SendResult struct {
	ProviderMessageID string
}

// ChatTransport is the capability the execution core requires from the chat
// provider.
type ChatTransport interface {
	// ExistsOnPlatform checks whether an address is a deliverable recipient.
	// Returns the provider handle when the platform exposes one.
	ExistsOnPlatform(ctx context.Context, address string) (exists bool, handle string, err error)

	// Send delivers one message. Failures should be returned as *SendError
	// so the runner can classify them; any other error is treated as UNKNOWN.
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// SendError is a classified transport failure.
type SendError struct {
	Kind       domain.SendErrorKind
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Classify maps an error from Send into the send-failure taxonomy. Timeouts
// and network-level failures count as transient so the retry budget applies.
func Classify(err error) domain.SendErrorKind {
	if err == nil {
		return ""
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.SendTransientNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return domain.SendTransientNetwork
	}
	return domain.SendUnknown
}

package transport

import (
	"context"
	"fmt"

	"github.com/alpha-xone/langchat/pkg/conversation"
	"github.com/alpha-xone/langchat/pkg/events"
)

// StreamInput is the payload sent when creating a run on a thread.
type StreamInput struct {
	AgentID  string                    `json:"agent_id,omitempty"`
	Messages conversation.Conversation `json:"messages"`
}

// Stream is a pull iterator over wire events. Next blocks until the next
// event is available, the stream closes (io.EOF) or ctx is done.
type Stream interface {
	Next(ctx context.Context) (*events.WireEvent, error)
	// RunID identifies the run on the server, for best-effort cancellation.
	RunID() string
	Close() error
}

// Transport is the boundary to the remote agent service. The session
// controller consumes exactly this surface; Client is the HTTP
// implementation.
type Transport interface {
	CreateThread(ctx context.Context, metadata map[string]interface{}) (string, error)
	OpenStream(ctx context.Context, threadID string, input StreamInput) (Stream, error)
	CancelStream(ctx context.Context, threadID string, runID string) error
	DeleteThread(ctx context.Context, id string) error
	RenameThread(ctx context.Context, id string, title string) error
	BatchDeleteThreads(ctx context.Context, ids []string) error
}

// AuthError marks a missing or rejected credential. The caller may retry
// after re-authentication.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d)", e.Status)
}

// NetworkError wraps connection, DNS and timeout failures. Retryable by
// explicit user action, never automatically.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProtocolError marks a malformed wire payload. Event-level protocol errors
// are logged and skipped; they never abort a stream.
type ProtocolError struct {
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

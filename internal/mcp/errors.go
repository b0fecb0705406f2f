package mcp

import (
	"context"
	"errors"

	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/danmuck/mcpbridge/internal/protocol/session"
)

var (
	ErrAddressRequired    = errors.New("mcp: service address required")
	ErrToolNameRequired   = errors.New("mcp: tool name required")
	ErrHandshakeTimeout   = errors.New("mcp: handshake timeout waiting for endpoint")
	ErrHandshakeTransport = errors.New("mcp: handshake transport error")
	ErrCallTimeout        = session.ErrCallTimeout
	ErrStaleSession       = errors.New("mcp: stale session")
	ErrSessionClosed      = errors.New("mcp: session closed")
	ErrCallTransport      = errors.New("mcp: call transport error")
	ErrMalformedResponse  = jsonrpc.ErrMalformedResponse

	errInvalidated = errors.New("session invalidated")
)

// undeliveredError marks a failure that happened before the service could
// have seen the request.
type undeliveredError struct {
	err error
}

func (e *undeliveredError) Error() string { return e.err.Error() }
func (e *undeliveredError) Unwrap() error { return e.err }

func undelivered(err error) error {
	return &undeliveredError{err: err}
}

// IsRetryable reports whether err warrants one retry on a freshly negotiated
// session. Call timeouts and stale sessions always qualify. Closed sessions
// and transport failures qualify only when the request never left the
// client, since the service may already have run a delivered call.
// Handshake failures, caller cancellation and remote method errors are not
// retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	if errors.Is(err, ErrCallTimeout) || errors.Is(err, ErrStaleSession) {
		return true
	}
	var pre *undeliveredError
	if !errors.As(err, &pre) {
		return false
	}
	return errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrCallTransport)
}

func outcomeLabel(err error) string {
	var rpcErr *jsonrpc.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rpcErr):
		return "remote_error"
	case errors.Is(err, ErrCallTimeout):
		return "timeout"
	case errors.Is(err, ErrStaleSession):
		return "stale_session"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, ErrHandshakeTransport):
		return "handshake_error"
	case errors.Is(err, ErrCallTransport):
		return "transport_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

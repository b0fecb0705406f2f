package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"github.com/danmuck/mcpbridge/internal/observability"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/danmuck/mcpbridge/internal/protocol/session"
	"github.com/google/uuid"
)

// maxAttempts is the first attempt plus one retry on a fresh session.
const maxAttempts = 2

// Call sends method/params to the service at address and waits for the
// correlated response. Timeouts and stale sessions are retried exactly once
// against a freshly negotiated session, as are closed sessions and transport
// failures that hit before the request was written. Remote method errors are
// returned as *jsonrpc.Error.
func (c *Client) Call(ctx context.Context, address, credential, method string, params any) (json.RawMessage, error) {
	server := normalizeAddress(address)
	if server == "" {
		return nil, ErrAddressRequired
	}
	start := time.Now()

	var (
		result json.RawMessage
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var s *Session
		result, s, err = c.attempt(ctx, server, credential, method, params)
		if err == nil || !IsRetryable(err) {
			break
		}
		if attempt == maxAttempts {
			err = fmt.Errorf("mcp: %s failed after retry: %w", method, err)
			break
		}

		reason := outcomeLabel(err)
		observability.RecordRetry(server, reason)
		c.log.Warn().
			Str("server", server).
			Str("method", method).
			Int("attempt", attempt).
			Err(err).
			Msg("call failed; retrying on fresh session")
		if s != nil {
			c.registry.retireSession(s)
		}
		if werr := c.sleepBackoff(ctx, attempt); werr != nil {
			err = werr
			break
		}
	}

	observability.RecordCall(server, method, outcomeLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attempt runs one pass: session, register, POST, then inline ack or stream
// frame. The session is returned so the caller can retire it.
func (c *Client) attempt(ctx context.Context, server, credential, method string, params any) (json.RawMessage, *Session, error) {
	s, err := c.registry.Get(ctx, server, credential)
	if err != nil {
		return nil, nil, err
	}
	result, err := c.exchange(ctx, s, method, params)
	return result, s, err
}

// exchange sends one request on s and waits for its correlated response.
func (c *Client) exchange(ctx context.Context, s *Session, method string, params any) (json.RawMessage, error) {
	id := newCallID()
	pc, err := s.pending.Register(id, method, c.cfg.CallTimeout)
	if err != nil {
		return nil, undelivered(err)
	}
	log := c.log.With().Str("server", s.address).Str("method", method).Str("call_id", id).Logger()

	inline, err := c.post(ctx, s, jsonrpc.NewRequest(id, method, params))
	if err != nil {
		s.pending.Remove(id)
		log.Debug().Err(err).Msg("call post failed")
		return nil, err
	}
	if inline != nil {
		log.Debug().Msg("inline response")
		s.pending.Fulfill(id, session.Outcome{Response: *inline})
	}

	select {
	case out := <-pc.Done():
		if out.Err != nil {
			return nil, out.Err
		}
		if out.Response.Error != nil {
			return nil, out.Response.Error
		}
		return out.Response.Result, nil
	case <-ctx.Done():
		s.pending.Remove(id)
		return nil, ctx.Err()
	}
}

// post writes one request to the session's call URL. It returns the inline
// response when the acknowledgment body carries one for the same id.
// Failures before the request body was written are marked undelivered.
func (c *Client) post(ctx context.Context, s *Session, req jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}
	httpReq, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, s.CallURL(), bytes.NewReader(body))
	if err != nil {
		return nil, undelivered(fmt.Errorf("%w: %v", ErrCallTransport, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuthorization(httpReq, s.credential)

	resp, err := c.calls.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !wrote.Load() {
			return nil, undelivered(fmt.Errorf("%w: %v", ErrCallTransport, err))
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: awaiting ack: %v", ErrCallTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCallTransport, err)
	}
	defer resp.Body.Close()
	limit := c.cfg.MaxResponseBytes
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read ack: %v", ErrCallTransport, err)
	}
	oversized := int64(len(raw)) > limit
	if oversized {
		raw = raw[:limit]
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: status=%d", ErrStaleSession, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		if inline, ok := inlineResponse(raw, req.ID); ok && !oversized {
			return inline, nil
		}
		return nil, fmt.Errorf("%w: status=%d body=%q", ErrCallTransport, resp.StatusCode, truncate(raw, 256))
	}
	if oversized {
		c.log.Warn().
			Str("server", s.address).
			Str("call_id", req.ID).
			Int64("limit", limit).
			Msg("acknowledgment body exceeds response limit")
		return nil, fmt.Errorf("%w: acknowledgment exceeds %d bytes", ErrMalformedResponse, limit)
	}
	if inline, ok := inlineResponse(raw, req.ID); ok {
		return inline, nil
	}
	return nil, nil
}

func inlineResponse(raw []byte, id string) (*jsonrpc.Response, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	resp, err := jsonrpc.DecodeResponse(raw)
	if err != nil || resp.IDString() != id {
		return nil, false
	}
	return &resp, true
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	c.rngMu.Lock()
	delay := c.cfg.Backoff.Delay(attempt, c.rng)
	c.rngMu.Unlock()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// newCallID returns a UUIDv7: millisecond timestamp plus 74 random bits.
func newCallID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

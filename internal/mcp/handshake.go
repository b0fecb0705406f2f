package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/mcpbridge/internal/auth"
	"github.com/danmuck/mcpbridge/internal/observability"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/danmuck/mcpbridge/internal/protocol/session"
	"github.com/danmuck/mcpbridge/internal/protocol/sse"
)

const streamPath = "/sse"

type endpointResult struct {
	callURL string
	err     error
}

// handshake opens the event stream for address and waits for the endpoint
// frame. The stream stays open for the life of the returned Session.
func (c *Client) handshake(ctx context.Context, address, credential string, onClose func(*Session)) (*Session, error) {
	base := normalizeAddress(address)
	if base == "" {
		return nil, ErrAddressRequired
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, base+streamPath, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTransport, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	setAuthorization(req, credential)

	s := newSession(base, credential, cancel, onClose, c.log)
	endpoint := make(chan endpointResult, 1)

	c.log.Debug().Str("server", base).Msg("handshake start")
	go c.readLoop(req, s, endpoint)

	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case res := <-endpoint:
		if res.err != nil {
			cancel()
			observability.RecordHandshake(base, "error")
			c.log.Warn().Str("server", base).Err(res.err).Msg("handshake failed")
			return nil, res.err
		}
		s.markLive()
		observability.RecordHandshake(base, "ok")
		c.log.Info().Str("server", base).Str("call_url", res.callURL).Msg("handshake complete")
		return s, nil
	case <-timer.C:
		cancel()
		observability.RecordHandshake(base, "timeout")
		c.log.Warn().Str("server", base).Dur("timeout", c.cfg.HandshakeTimeout).Msg("handshake timed out")
		return nil, fmt.Errorf("%w: after %s", ErrHandshakeTimeout, c.cfg.HandshakeTimeout)
	case <-ctx.Done():
		cancel()
		observability.RecordHandshake(base, "canceled")
		return nil, ctx.Err()
	}
}

// readLoop is the only consumer of the stream. Before the endpoint frame it
// resolves the handshake; afterwards it routes message frames to pending
// calls. It tears the session down when the stream ends.
func (c *Client) readLoop(req *http.Request, s *Session, endpoint chan<- endpointResult) {
	resp, err := c.stream.Do(req)
	if err != nil {
		endpoint <- endpointResult{err: fmt.Errorf("%w: %v", ErrHandshakeTransport, err)}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		endpoint <- endpointResult{err: fmt.Errorf("%w: status=%d", ErrHandshakeTransport, resp.StatusCode)}
		return
	}

	reader := sse.NewReader(resp.Body, c.cfg.Frames)
	established := false
	for {
		f, err := reader.Next()
		if err != nil {
			if !established {
				endpoint <- endpointResult{err: fmt.Errorf("%w: stream ended before endpoint: %v", ErrHandshakeTransport, err)}
				s.teardown(err)
				return
			}
			s.teardown(err)
			return
		}

		switch f.Event {
		case sse.EventEndpoint:
			if established {
				c.log.Debug().Str("server", s.address).Str("data", f.Data).Msg("endpoint frame after handshake ignored")
				continue
			}
			callURL, err := resolveCallURL(s.address, f.Data)
			if err != nil {
				endpoint <- endpointResult{err: fmt.Errorf("%w: %v", ErrHandshakeTransport, err)}
				s.teardown(err)
				return
			}
			s.callURL = callURL
			established = true
			endpoint <- endpointResult{callURL: callURL}
		case sse.EventMessage:
			c.dispatch(s, f)
		default:
			c.log.Trace().Str("server", s.address).Str("event", f.Event).Msg("frame ignored")
		}
	}
}

// dispatch correlates one message frame. Undecodable or unmatched frames are
// logged and dropped; the owning call, if any, times out normally.
func (c *Client) dispatch(s *Session, f sse.Frame) {
	resp, err := jsonrpc.DecodeResponse([]byte(f.Data))
	if err != nil {
		if errors.Is(err, jsonrpc.ErrMissingID) {
			observability.RecordDroppedFrame(s.address, "notification")
			c.log.Debug().Str("server", s.address).Msg("notification frame ignored")
			return
		}
		observability.RecordDroppedFrame(s.address, "malformed")
		c.log.Warn().Str("server", s.address).Err(err).Msg("malformed message frame dropped")
		return
	}
	id := resp.IDString()
	if !s.pending.Fulfill(id, session.Outcome{Response: resp}) {
		observability.RecordDroppedFrame(s.address, "unmatched")
		c.log.Debug().Str("server", s.address).Str("call_id", id).Msg("no pending call for message frame")
	}
}

func normalizeAddress(address string) string {
	return strings.TrimRight(strings.TrimSpace(address), "/")
}

// resolveCallURL joins the base address with the endpoint payload. An
// absolute URL payload is used as-is.
func resolveCallURL(base, data string) (string, error) {
	path := strings.TrimSpace(data)
	if path == "" {
		return "", errors.New("empty endpoint payload")
	}
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path, nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

func setAuthorization(req *http.Request, credential string) {
	if header := auth.BearerHeader(credential); header != "" {
		req.Header.Set("Authorization", header)
	}
}

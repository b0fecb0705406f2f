package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/mcpbridge/internal/observability"
	"github.com/danmuck/mcpbridge/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Session is the negotiated state for one service address: the call URL
// received during handshake, the open event stream and the pending calls.
type Session struct {
	address    string
	credential string
	callURL    string
	createdAt  time.Time

	pending *session.PendingTable
	cancel  context.CancelFunc
	onClose func(*Session)
	log     zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
	live      atomic.Bool
	mu        sync.Mutex
	err       error
}

// SessionInfo is a point-in-time view of a cached session.
type SessionInfo struct {
	Address   string    `json:"address"`
	CallURL   string    `json:"call_url"`
	Pending   int       `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
}

func newSession(address, credential string, cancel context.CancelFunc, onClose func(*Session), log zerolog.Logger) *Session {
	return &Session{
		address:    address,
		credential: credential,
		createdAt:  time.Now(),
		pending:    session.NewPendingTable(),
		cancel:     cancel,
		onClose:    onClose,
		log:        log,
		done:       make(chan struct{}),
	}
}

func (s *Session) Address() string {
	return s.address
}

// CallURL is immutable once the handshake has completed.
func (s *Session) CallURL() string {
	return s.callURL
}

func (s *Session) Pending() int {
	return s.pending.Len()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the reason the session ended, or nil while it is live.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Address:   s.address,
		CallURL:   s.callURL,
		Pending:   s.pending.Len(),
		CreatedAt: s.createdAt,
	}
}

// Close tears the session down and releases its pending calls.
func (s *Session) Close() error {
	s.teardown(errInvalidated)
	return nil
}

// closeWhenIdle tears the session down after its last pending call resolves.
// Calls still awaiting a frame keep the stream open until their own deadline.
func (s *Session) closeWhenIdle() {
	go func() {
		select {
		case <-s.pending.Idle():
		case <-s.done:
			return
		}
		s.teardown(errInvalidated)
	}()
}

func (s *Session) markLive() {
	s.live.Store(true)
	observability.SessionOpened()
	if s.Closed() && s.live.Swap(false) {
		observability.SessionClosed()
	}
}

// teardown runs once: it marks the session closed before notifying the
// registry, so a concurrent store never caches a dead session.
func (s *Session) teardown(cause error) {
	s.closeOnce.Do(func() {
		err := ErrSessionClosed
		if cause != nil && !errors.Is(cause, ErrSessionClosed) {
			err = fmt.Errorf("%w: %v", ErrSessionClosed, cause)
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)

		if s.cancel != nil {
			s.cancel()
		}
		released := s.pending.FailAll(err)
		if s.live.Swap(false) {
			observability.SessionClosed()
		}
		s.log.Info().
			Str("server", s.address).
			Int("released", released).
			AnErr("cause", cause).
			Msg("session closed")
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

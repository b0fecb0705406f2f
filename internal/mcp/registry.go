package mcp

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// HandshakeFunc negotiates a new Session for address. onClose must be
// invoked when the session's stream ends.
type HandshakeFunc func(ctx context.Context, address, credential string, onClose func(*Session)) (*Session, error)

// Registry caches one live Session per base address and coalesces
// concurrent handshakes for the same address into a single attempt. It
// never opens connections itself.
type Registry struct {
	handshake HandshakeFunc

	mu       sync.Mutex
	sessions map[string]*Session
	inflight singleflight.Group
}

func NewRegistry(handshake HandshakeFunc) *Registry {
	return &Registry{
		handshake: handshake,
		sessions:  make(map[string]*Session),
	}
}

// Get returns the cached session for address, or joins/starts the in-flight
// handshake. A caller whose ctx ends stops waiting; the shared handshake
// keeps running for the others.
func (r *Registry) Get(ctx context.Context, address, credential string) (*Session, error) {
	key := normalizeAddress(address)
	if key == "" {
		return nil, ErrAddressRequired
	}
	if s := r.cached(key); s != nil {
		return s, nil
	}

	ch := r.inflight.DoChan(key, func() (any, error) {
		if s := r.cached(key); s != nil {
			return s, nil
		}
		s, err := r.handshake(context.Background(), key, credential, r.evict)
		if err != nil {
			return nil, err
		}
		r.store(key, s)
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops and closes the cached session for address. It is a no-op
// when nothing is cached.
func (r *Registry) Invalidate(address string) {
	key := normalizeAddress(address)
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if ok {
		_ = s.Close()
	}
}

// retireSession stops handing s out and closes it once the calls already
// running on it have settled. s is dropped only if it is still the cached
// session, so a newer session negotiated by a concurrent caller survives.
func (r *Registry) retireSession(s *Session) {
	r.evict(s)
	s.closeWhenIdle()
}

func (r *Registry) evict(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.address]; ok && cur == s {
		delete(r.sessions, s.address)
	}
}

func (r *Registry) cached(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil
	}
	if s.Closed() {
		delete(r.sessions, key)
		return nil
	}
	return s
}

func (r *Registry) store(key string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Closed() {
		return
	}
	r.sessions[key] = s
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

// Close tears down every cached session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for key, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
}

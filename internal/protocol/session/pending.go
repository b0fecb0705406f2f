package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
)

var (
	ErrCallTimeout     = errors.New("session: call timeout")
	ErrDuplicateCallID = errors.New("session: duplicate call id")
	ErrCallIDRequired  = errors.New("session: call id required")
)

// Outcome is what a pending call resolves to: a response envelope or an error.
type Outcome struct {
	Response jsonrpc.Response
	Err      error
}

// PendingCall tracks one in-flight request awaiting correlation.
type PendingCall struct {
	ID       string
	Method   string
	QueuedAt time.Time
	Deadline time.Time

	done  chan Outcome
	timer *time.Timer
}

// Done yields exactly one Outcome.
func (p *PendingCall) Done() <-chan Outcome {
	return p.done
}

// PendingInfo is a copy of a pending call's bookkeeping fields.
type PendingInfo struct {
	ID       string
	Method   string
	QueuedAt time.Time
	Deadline time.Time
}

// PendingTable stores pending calls by call id. Removal and delivery happen
// under one lock so each call resolves at most once.
type PendingTable struct {
	mu     sync.Mutex
	items  map[string]*PendingCall
	closed error
	idle   chan struct{}
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[string]*PendingCall),
	}
}

// Register adds a call and arms its deadline timer. On expiry the call
// resolves with ErrCallTimeout. Once FailAll has run, Register returns the
// error the table was closed with.
func (t *PendingTable) Register(id, method string, timeout time.Duration) (*PendingCall, error) {
	key := strings.TrimSpace(id)
	if key == "" {
		return nil, ErrCallIDRequired
	}
	now := time.Now()
	pc := &PendingCall{
		ID:       key,
		Method:   method,
		QueuedAt: now,
		Deadline: now.Add(timeout),
		done:     make(chan Outcome, 1),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return nil, t.closed
	}
	if _, exists := t.items[key]; exists {
		return nil, ErrDuplicateCallID
	}
	t.items[key] = pc
	pc.timer = time.AfterFunc(timeout, func() {
		t.resolve(pc, Outcome{Err: ErrCallTimeout})
	})
	return pc, nil
}

// Fulfill resolves the call registered under id. It reports false when the
// id is unknown, already resolved, or abandoned.
func (t *PendingTable) Fulfill(id string, out Outcome) bool {
	t.mu.Lock()
	pc, ok := t.items[strings.TrimSpace(id)]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return t.resolve(pc, out)
}

func (t *PendingTable) resolve(pc *PendingCall, out Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.items[pc.ID]; !ok || cur != pc {
		return false
	}
	delete(t.items, pc.ID)
	pc.timer.Stop()
	pc.done <- out
	t.signalIdle()
	return true
}

// Remove abandons a call without resolving it. A late response for the id
// is then dropped by Fulfill.
func (t *PendingTable) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := strings.TrimSpace(id)
	pc, ok := t.items[key]
	if !ok {
		return false
	}
	delete(t.items, key)
	pc.timer.Stop()
	t.signalIdle()
	return true
}

// FailAll resolves every pending call with err and closes the table to new
// registrations. It returns the number of calls released.
func (t *PendingTable) FailAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed == nil {
		t.closed = err
	}
	n := 0
	for key, pc := range t.items {
		delete(t.items, key)
		pc.timer.Stop()
		pc.done <- Outcome{Err: err}
		n++
	}
	t.signalIdle()
	return n
}

// Idle returns a channel closed once the table holds no pending calls. It is
// already closed when the table is empty at the time of the call.
func (t *PendingTable) Idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idle == nil {
		t.idle = make(chan struct{})
	}
	ch := t.idle
	t.signalIdle()
	return ch
}

// signalIdle must be called with mu held.
func (t *PendingTable) signalIdle() {
	if t.idle != nil && len(t.items) == 0 {
		close(t.idle)
		t.idle = nil
	}
}

func (t *PendingTable) Get(id string) (PendingInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.items[strings.TrimSpace(id)]
	if !ok {
		return PendingInfo{}, false
	}
	return pc.info(), true
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *PendingTable) List() []PendingInfo {
	t.mu.Lock()
	out := make([]PendingInfo, 0, len(t.items))
	for _, pc := range t.items {
		out = append(out, pc.info())
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (p *PendingCall) info() PendingInfo {
	return PendingInfo{ID: p.ID, Method: p.Method, QueuedAt: p.QueuedAt, Deadline: p.Deadline}
}

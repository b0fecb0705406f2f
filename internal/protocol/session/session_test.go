package session

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/danmuck/mcpbridge/internal/testutil/testlog"
)

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := cfg.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestBackoffDelayJitterBoundsAndDisabled(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		got := cfg.Delay(1, rng)
		if got < 50*time.Millisecond || got >= 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
	if got := (BackoffConfig{}).Delay(3, rng); got != 0 {
		t.Fatalf("zero initial delay should disable backoff, got %v", got)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{CallTimeout: time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.CallTimeout != time.Second {
		t.Fatalf("explicit call timeout overwritten: %v", cfg.CallTimeout)
	}
	if cfg.HandshakeTimeout != def.HandshakeTimeout || cfg.ConnectTimeout != def.ConnectTimeout {
		t.Fatalf("missing defaults: %+v", cfg)
	}
	if cfg.Frames.MaxLineBytes != def.Frames.MaxLineBytes || cfg.MaxResponseBytes != def.MaxResponseBytes {
		t.Fatalf("missing limit defaults: %+v", cfg)
	}
	if cfg.Backoff.InitialDelay != 0 {
		t.Fatalf("backoff should stay disabled when unset: %+v", cfg.Backoff)
	}
}

func TestPendingTableFulfillOnce(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	pc, err := table.Register("call.1", jsonrpc.MethodToolsCall, time.Minute)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := table.Get("call.1"); !ok {
		t.Fatalf("expected pending call")
	}

	resp := jsonrpc.Response{ID: json.RawMessage(`"call.1"`), Result: json.RawMessage(`"ok"`)}
	if !table.Fulfill("call.1", Outcome{Response: resp}) {
		t.Fatalf("first fulfill should succeed")
	}
	if table.Fulfill("call.1", Outcome{Err: errors.New("late")}) {
		t.Fatalf("second fulfill should be dropped")
	}
	out := <-pc.Done()
	if out.Err != nil || string(out.Response.Result) != `"ok"` {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	select {
	case extra := <-pc.Done():
		t.Fatalf("unexpected second outcome: %+v", extra)
	default:
	}
	if table.Len() != 0 {
		t.Fatalf("table should be empty, len=%d", table.Len())
	}
}

func TestPendingTableTimeout(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	pc, err := table.Register("call.timeout", jsonrpc.MethodToolsList, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	select {
	case out := <-pc.Done():
		if !errors.Is(out.Err, ErrCallTimeout) {
			t.Fatalf("expected ErrCallTimeout, got %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timer never fired")
	}
	if table.Fulfill("call.timeout", Outcome{}) {
		t.Fatalf("late response after timeout must be dropped")
	}
}

func TestPendingTableRemoveDropsLateResponse(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	pc, err := table.Register("call.gone", jsonrpc.MethodToolsCall, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !table.Remove("call.gone") {
		t.Fatalf("remove should report true")
	}
	if table.Remove("call.gone") {
		t.Fatalf("second remove should report false")
	}
	if table.Fulfill("call.gone", Outcome{}) {
		t.Fatalf("fulfill after remove must be dropped")
	}
	select {
	case out := <-pc.Done():
		t.Fatalf("abandoned call resolved: %+v", out)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestPendingTableIdle(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	select {
	case <-table.Idle():
	default:
		t.Fatalf("empty table should report idle")
	}

	if _, err := table.Register("a", jsonrpc.MethodToolsCall, time.Minute); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if _, err := table.Register("b", jsonrpc.MethodToolsCall, 20*time.Millisecond); err != nil {
		t.Fatalf("register b: %v", err)
	}
	idle := table.Idle()

	table.Fulfill("a", Outcome{})
	select {
	case <-idle:
		t.Fatalf("idle fired with a call still pending")
	default:
	}

	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatalf("idle not signaled after the last call timed out")
	}
}

func TestPendingTableDuplicateAndEmptyID(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	if _, err := table.Register(" ", jsonrpc.MethodToolsCall, time.Second); !errors.Is(err, ErrCallIDRequired) {
		t.Fatalf("expected ErrCallIDRequired, got %v", err)
	}
	if _, err := table.Register("dup", jsonrpc.MethodToolsCall, time.Second); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := table.Register("dup", jsonrpc.MethodToolsCall, time.Second); !errors.Is(err, ErrDuplicateCallID) {
		t.Fatalf("expected ErrDuplicateCallID, got %v", err)
	}
	table.FailAll(errors.New("cleanup"))
}

func TestPendingTableFailAllClosesTable(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	closedErr := errors.New("stream closed")
	calls := make([]*PendingCall, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		pc, err := table.Register(id, jsonrpc.MethodToolsCall, time.Minute)
		if err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		calls = append(calls, pc)
	}
	if got := table.List(); len(got) != 3 || got[0].ID != "a" || got[2].ID != "c" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if n := table.FailAll(closedErr); n != 3 {
		t.Fatalf("released=%d want 3", n)
	}
	for _, pc := range calls {
		out := <-pc.Done()
		if !errors.Is(out.Err, closedErr) {
			t.Fatalf("call %s: expected closed error, got %+v", pc.ID, out)
		}
	}
	if _, err := table.Register("d", jsonrpc.MethodToolsCall, time.Minute); !errors.Is(err, closedErr) {
		t.Fatalf("register after close: expected closed error, got %v", err)
	}
}

func TestPendingTableConcurrentFulfillAndTimeout(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	pc, err := table.Register("race", jsonrpc.MethodToolsCall, time.Millisecond)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if table.Fulfill("race", Outcome{}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	<-pc.Done()
	if wins > 1 {
		t.Fatalf("call fulfilled %d times", wins)
	}
}

func TestTLSConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := (TLSConfig{CertFile: "c.pem"}).Validate(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}
	if err := (TLSConfig{KeyFile: "k.pem"}).Validate(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg, err := TLSConfig{}.ClientConfig()
	if err != nil || cfg != nil {
		t.Fatalf("zero tls config should yield nil, got cfg=%v err=%v", cfg, err)
	}
	cfg, err = TLSConfig{InsecureSkipVerify: true, ServerName: "burp.local"}.ClientConfig()
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	if !cfg.InsecureSkipVerify || cfg.ServerName != "burp.local" {
		t.Fatalf("unexpected tls config: %+v", cfg)
	}
	if _, err := (TLSConfig{CAFile: "/nonexistent/ca.pem"}).ClientConfig(); err == nil {
		t.Fatalf("expected error for missing ca file")
	}
}

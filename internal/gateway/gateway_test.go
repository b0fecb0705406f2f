package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/mcpbridge/internal/config"
	"github.com/danmuck/mcpbridge/internal/mcp"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/danmuck/mcpbridge/internal/protocol/session"
	"github.com/danmuck/mcpbridge/internal/testutil/mcptest"
	"github.com/danmuck/mcpbridge/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type stubClient struct {
	mu          sync.Mutex
	invoked     []string
	invalidated []string
	probed      []string
	invokeErr   error
	listErr     error
	tools       []jsonrpc.ToolDescriptor
	sessions    []mcp.SessionInfo
}

func (s *stubClient) Invoke(_ context.Context, address, credential, tool string, args map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	s.invoked = append(s.invoked, fmt.Sprintf("%s|%s|%s|%v", address, credential, tool, args["q"]))
	s.mu.Unlock()
	if s.invokeErr != nil {
		return nil, s.invokeErr
	}
	return json.RawMessage(`{"content":[{"type":"text","text":"hi"}],"isError":false}`), nil
}

func (s *stubClient) ListTools(context.Context, string, string) ([]jsonrpc.ToolDescriptor, error) {
	return s.tools, s.listErr
}

func (s *stubClient) Probe(_ context.Context, address, credential string) ([]jsonrpc.ToolDescriptor, error) {
	s.mu.Lock()
	s.probed = append(s.probed, address+"|"+credential)
	s.mu.Unlock()
	return s.tools, s.listErr
}

func (s *stubClient) Invalidate(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, address)
}

func (s *stubClient) Sessions() []mcp.SessionInfo {
	return s.sessions
}

func boolPtr(v bool) *bool { return &v }

func testCatalog() config.Catalog {
	return config.Catalog{Servers: []config.ServerConfig{
		{Name: "burp", URL: "http://burp:9876", APIKey: "k", Default: true},
		{Name: "off", URL: "http://off:1", Enabled: boolPtr(false)},
	}}
}

func doJSON(t *testing.T, g *Gateway, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	g.HTTPRouter().ServeHTTP(rr, req)
	var out map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body %q: %v", rr.Body.String(), err)
		}
	}
	return rr.Code, out
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func TestInvokeRoute(t *testing.T) {
	testlog.Start(t)
	client := &stubClient{}
	g := New("gw", ":0", nil, client, testCatalog())

	code, body := doJSON(t, g, http.MethodPost, "/servers/burp/tools/search", map[string]any{"arguments": map[string]any{"q": "x"}})
	if code != http.StatusOK {
		t.Fatalf("status=%d body=%v", code, body)
	}
	if body["text"] != "hi" || body["server"] != "burp" || body["tool"] != "search" {
		t.Fatalf("body=%v", body)
	}
	if got := client.invoked[0]; got != "http://burp:9876|k|search|x" {
		t.Fatalf("invoked=%q", got)
	}

	code, _ = doJSON(t, g, http.MethodPost, "/servers/default/tools/search", nil)
	if code != http.StatusOK {
		t.Fatalf("default route status=%d", code)
	}
}

func TestServerResolutionErrors(t *testing.T) {
	testlog.Start(t)
	g := New("gw", ":0", nil, &stubClient{}, testCatalog())

	if code, _ := doJSON(t, g, http.MethodGet, "/servers/missing/tools", nil); code != http.StatusNotFound {
		t.Fatalf("missing server status=%d", code)
	}
	if code, _ := doJSON(t, g, http.MethodGet, "/servers/off/tools", nil); code != http.StatusConflict {
		t.Fatalf("disabled server status=%d", code)
	}

	g.SetCatalog(config.Catalog{})
	if code, _ := doJSON(t, g, http.MethodGet, "/servers/default/tools", nil); code != http.StatusNotFound {
		t.Fatalf("no default status=%d", code)
	}
	if code, _ := doJSON(t, g, http.MethodGet, "/ready", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("ready with empty catalog status=%d", code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want int
	}{
		{&jsonrpc.Error{Code: -32000, Message: "boom"}, http.StatusBadGateway},
		{fmt.Errorf("mcp: tools/call failed after retry: %w", mcp.ErrCallTimeout), http.StatusGatewayTimeout},
		{mcp.ErrHandshakeTimeout, http.StatusGatewayTimeout},
		{mcp.ErrHandshakeTransport, http.StatusBadGateway},
		{mcp.ErrStaleSession, http.StatusBadGateway},
		{mcp.ErrToolNameRequired, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		client := &stubClient{invokeErr: tc.err}
		g := New("gw", ":0", nil, client, testCatalog())
		code, body := doJSON(t, g, http.MethodPost, "/servers/burp/tools/x", nil)
		if code != tc.want {
			t.Fatalf("err=%v status=%d want %d", tc.err, code, tc.want)
		}
		if body["error"] == nil {
			t.Fatalf("err=%v missing error body", tc.err)
		}
	}
}

func TestRemoteErrorCodeIsExposed(t *testing.T) {
	testlog.Start(t)
	client := &stubClient{invokeErr: &jsonrpc.Error{Code: -32601, Message: "no such tool"}}
	g := New("gw", ":0", nil, client, testCatalog())
	_, body := doJSON(t, g, http.MethodPost, "/servers/burp/tools/x", nil)
	if body["code"] != float64(-32601) {
		t.Fatalf("body=%v", body)
	}
}

func TestServersListingAndSessionDrop(t *testing.T) {
	testlog.Start(t)
	client := &stubClient{sessions: []mcp.SessionInfo{{Address: "http://burp:9876"}}}
	g := New("gw", ":0", nil, client, testCatalog())

	code, body := doJSON(t, g, http.MethodGet, "/servers", nil)
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	servers := body["servers"].([]any)
	first := servers[0].(map[string]any)
	if first["connected"] != true || first["has_api_key"] != true || first["default"] != true {
		t.Fatalf("first=%v", first)
	}
	if _, leaked := first["api_key"]; leaked {
		t.Fatalf("api key exposed")
	}

	code, _ = doJSON(t, g, http.MethodDelete, "/servers/burp/session", nil)
	if code != http.StatusOK || len(client.invalidated) != 1 || client.invalidated[0] != "http://burp:9876" {
		t.Fatalf("status=%d invalidated=%v", code, client.invalidated)
	}
}

func TestProbeRoute(t *testing.T) {
	testlog.Start(t)
	client := &stubClient{tools: []jsonrpc.ToolDescriptor{{Name: "a"}, {Name: "b"}}}
	g := New("gw", ":0", nil, client, testCatalog())

	code, body := doJSON(t, g, http.MethodPost, "/servers/test", map[string]any{"url": "http://adhoc:1/", "api_key": "z"})
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("status=%d body=%v", code, body)
	}
	if len(client.probed) != 1 || client.probed[0] != "http://adhoc:1|z" {
		t.Fatalf("probed=%v", client.probed)
	}
	if len(client.invalidated) != 0 {
		t.Fatalf("probe should not touch cached sessions, invalidated=%v", client.invalidated)
	}

	if code, _ := doJSON(t, g, http.MethodPost, "/servers/test", map[string]any{"url": "ftp://x"}); code != http.StatusBadRequest {
		t.Fatalf("bad url status=%d", code)
	}
}

func TestGatewayAgainstLiveService(t *testing.T) {
	testlog.Start(t)
	srv := mcptest.New(t, mcptest.Options{RequireToken: "tok"}, func(call mcptest.Call) mcptest.Reply {
		if call.Method == jsonrpc.MethodToolsList {
			return mcptest.Reply{Result: map[string]any{"tools": []any{map[string]any{"name": "get_proxy_history"}}}}
		}
		return mcptest.Reply{Result: mcptest.TextResult("42 requests")}
	})
	cfg := mcp.DefaultClientConfig()
	cfg.Session.CallTimeout = 2 * time.Second
	cfg.Session.Backoff = session.BackoffConfig{}
	client, err := mcp.NewClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	cat := config.Catalog{Servers: []config.ServerConfig{{Name: "live", URL: srv.URL(), APIKey: "tok"}}}
	g := New("gw", ":0", nil, client, cat)

	code, body := doJSON(t, g, http.MethodGet, "/servers/live/tools", nil)
	if code != http.StatusOK {
		t.Fatalf("tools status=%d body=%v", code, body)
	}
	tools := body["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["name"] != "get_proxy_history" {
		t.Fatalf("tools=%v", tools)
	}

	code, body = doJSON(t, g, http.MethodPost, "/servers/live/tools/get_proxy_history", map[string]any{"arguments": map[string]any{"count": 5}})
	if code != http.StatusOK || body["text"] != "42 requests" {
		t.Fatalf("invoke status=%d body=%v", code, body)
	}
	if n := srv.Handshakes(); n != 1 {
		t.Fatalf("handshakes=%d", n)
	}

	code, body = doJSON(t, g, http.MethodGet, "/sessions", nil)
	if code != http.StatusOK || len(body["sessions"].([]any)) != 1 {
		t.Fatalf("sessions status=%d body=%v", code, body)
	}
}

func TestProbeIgnoresCachedSession(t *testing.T) {
	testlog.Start(t)
	srv := mcptest.New(t, mcptest.Options{RequireToken: "tok"}, func(call mcptest.Call) mcptest.Reply {
		return mcptest.Reply{Result: map[string]any{"tools": []any{map[string]any{"name": "x"}}}}
	})
	cfg := mcp.DefaultClientConfig()
	cfg.Session.CallTimeout = 2 * time.Second
	cfg.Session.Backoff = session.BackoffConfig{}
	client, err := mcp.NewClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	cat := config.Catalog{Servers: []config.ServerConfig{{Name: "live", URL: srv.URL(), APIKey: "tok"}}}
	g := New("gw", ":0", nil, client, cat)

	if code, body := doJSON(t, g, http.MethodGet, "/servers/live/tools", nil); code != http.StatusOK {
		t.Fatalf("warm status=%d body=%v", code, body)
	}
	if n := client.Registry().Len(); n != 1 {
		t.Fatalf("cached sessions=%d want 1", n)
	}

	code, body := doJSON(t, g, http.MethodPost, "/servers/test", map[string]any{"url": srv.URL(), "api_key": "wrong"})
	if code != http.StatusBadGateway || body["ok"] == true {
		t.Fatalf("wrong key status=%d body=%v", code, body)
	}

	code, body = doJSON(t, g, http.MethodPost, "/servers/test", map[string]any{"url": srv.URL(), "api_key": "tok"})
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("right key status=%d body=%v", code, body)
	}
	if n := srv.Handshakes(); n != 2 {
		t.Fatalf("accepted probe should open its own stream, handshakes=%d", n)
	}
	if n := client.Registry().Len(); n != 1 {
		t.Fatalf("probe disturbed the cache, sessions=%d", n)
	}
}

// Package mcptest runs an in-process tool service speaking the split-channel
// SSE transport, for exercising clients in tests.
package mcptest

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/mcpbridge/internal/auth"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/danmuck/mcpbridge/internal/protocol/sse"
)

// Call is one POST received on a session's call address.
type Call struct {
	SessionID string
	ID        string          `json:"id"`
	JSONRPC   string          `json:"jsonrpc"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Header    http.Header     `json:"-"`
}

// Reply tells the server how to answer a call.
type Reply struct {
	Result any
	Error  *jsonrpc.Error
	// Status, when non-zero, is written as the POST status with no envelope.
	Status int
	// Drop accepts the call and never answers it.
	Drop bool
	// Delay postpones the stream message.
	Delay time.Duration
}

type Handler func(call Call) Reply

type Options struct {
	// EndpointPath is formatted with the session id.
	EndpointPath string
	// Inline answers in the POST body instead of on the stream.
	Inline bool
	// SkipEndpoint never sends the endpoint frame.
	SkipEndpoint   bool
	HandshakeDelay time.Duration
	// RequireToken rejects streams without a matching bearer token.
	RequireToken string
	// TLS serves HTTPS with this config instead of plain HTTP.
	TLS *tls.Config
}

type stream struct {
	out  chan sse.Frame
	done chan struct{}
	once sync.Once
}

func (s *stream) close() {
	s.once.Do(func() { close(s.done) })
}

type Server struct {
	srv     *httptest.Server
	opts    Options
	handler Handler

	mu            sync.Mutex
	handshakes    int
	streams       map[string]*stream
	calls         []Call
	streamHeaders []http.Header
}

func New(t testing.TB, opts Options, handler Handler) *Server {
	t.Helper()
	if opts.EndpointPath == "" {
		opts.EndpointPath = "/message?sessionId=%s"
	}
	if handler == nil {
		handler = func(Call) Reply { return Reply{Result: map[string]any{}} }
	}
	s := &Server{
		opts:    opts,
		handler: handler,
		streams: make(map[string]*stream),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleStream)
	mux.HandleFunc("/", s.handleCall)
	if opts.TLS != nil {
		s.srv = httptest.NewUnstartedServer(mux)
		s.srv.TLS = opts.TLS
		s.srv.StartTLS()
	} else {
		s.srv = httptest.NewServer(mux)
	}
	t.Cleanup(s.Close)
	return s
}

func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) HTTPServer() *httptest.Server {
	return s.srv
}

func (s *Server) Close() {
	s.CloseStreams()
	s.srv.CloseClientConnections()
	s.srv.Close()
}

func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) StreamHeaders() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]http.Header, len(s.streamHeaders))
	copy(out, s.streamHeaders)
	return out
}

// SessionIDs lists sessions whose stream is still open.
func (s *Server) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.streams))
	for id := range s.streams {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CloseStreams ends every open event stream, as a server restart would.
func (s *Server) CloseStreams() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]*stream)
	s.mu.Unlock()
	for _, st := range streams {
		st.close()
	}
}

// Send pushes a raw frame onto a session's stream. It reports false when the
// session is unknown or its stream is closed.
func (s *Server) Send(sessionID string, f sse.Frame) bool {
	s.mu.Lock()
	st, ok := s.streams[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case st.out <- f:
		return true
	case <-st.done:
		return false
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.RequireToken != "" {
		token, _ := auth.ParseBearer(r.Header.Get("Authorization"))
		if err := (auth.StaticToken{Token: s.opts.RequireToken}).Validate(token); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	st := &stream{out: make(chan sse.Frame, 64), done: make(chan struct{})}
	s.mu.Lock()
	s.handshakes++
	id := fmt.Sprintf("session-%d", s.handshakes)
	s.streams[id] = st
	s.streamHeaders = append(s.streamHeaders, r.Header.Clone())
	s.mu.Unlock()
	defer s.dropStream(id, st)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if s.opts.HandshakeDelay > 0 {
		select {
		case <-time.After(s.opts.HandshakeDelay):
		case <-st.done:
			return
		case <-r.Context().Done():
			return
		}
	}
	if !s.opts.SkipEndpoint {
		if err := sse.WriteFrame(w, sse.Frame{Event: sse.EventEndpoint, Data: fmt.Sprintf(s.opts.EndpointPath, id)}); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case f := <-st.out:
			if err := sse.WriteFrame(w, f); err != nil {
				return
			}
			flusher.Flush()
		case <-st.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) dropStream(id string, st *stream) {
	st.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.streams[id]; ok && cur == st {
		delete(s.streams, id)
	}
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	s.mu.Lock()
	st, ok := s.streams[sessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var call Call
	if err := json.Unmarshal(raw, &call); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	call.SessionID = sessionID
	call.Header = r.Header.Clone()
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	reply := s.handler(call)
	if reply.Status != 0 {
		http.Error(w, http.StatusText(reply.Status), reply.Status)
		return
	}
	if reply.Drop {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	payload, err := encodeReply(call.ID, reply)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.opts.Inline {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
	frame := sse.Frame{Event: sse.EventMessage, Data: string(payload)}
	go func() {
		if reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-st.done:
				return
			}
		}
		select {
		case st.out <- frame:
		case <-st.done:
		}
	}()
}

func encodeReply(id string, reply Reply) ([]byte, error) {
	env := map[string]any{
		"jsonrpc": jsonrpc.Version,
		"id":      id,
	}
	if reply.Error != nil {
		env["error"] = reply.Error
	} else {
		env["result"] = reply.Result
	}
	return json.Marshal(env)
}

// TextResult builds a tools/call result with one text block.
func TextResult(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": strings.TrimSpace(text)}},
		"isError": false,
	}
}

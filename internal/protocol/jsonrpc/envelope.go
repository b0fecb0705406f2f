package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const Version = "2.0"

const (
	MethodToolsCall = "tools/call"
	MethodToolsList = "tools/list"
)

// Standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var (
	ErrMalformedResponse = errors.New("jsonrpc: malformed response")
	ErrMissingID         = errors.New("jsonrpc: response has no id")
)

// Request is one outbound call envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

func NewRequest(id, method string, params any) Request {
	if params == nil {
		params = struct{}{}
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// Error is a method-level failure reported by the remote service.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: remote error code=%d message=%q", e.Code, e.Message)
}

// Response is an inbound result/error envelope, either inline in the POST
// acknowledgment or carried by a message frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IDString normalizes the echoed id; servers may echo string or numeric ids.
func (r Response) IDString() string {
	raw := bytes.TrimSpace(r.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		s, err := strconv.Unquote(string(raw))
		if err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}

// DecodeResponse parses payload as a response envelope. Notifications and
// envelopes carrying neither result nor error are rejected.
func DecodeResponse(payload []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.IDString() == "" {
		return Response{}, ErrMissingID
	}
	if resp.Error == nil && len(resp.Result) == 0 {
		return Response{}, fmt.Errorf("%w: id=%s has neither result nor error", ErrMalformedResponse, resp.IDString())
	}
	return resp, nil
}

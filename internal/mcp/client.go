package mcp

import (
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/mcpbridge/internal/observability"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/danmuck/mcpbridge/internal/protocol/session"
	"github.com/rs/zerolog"
)

type ClientConfig struct {
	Session session.Config
	// HTTPClient overrides the transport for both the stream and the call
	// POSTs. It must not set a Timeout, which would cut the stream.
	HTTPClient *http.Client
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Session: session.DefaultConfig(),
	}
}

// Client is the facade collaborators use. It owns a Registry and is safe
// for concurrent use.
type Client struct {
	cfg      session.Config
	stream   *http.Client
	calls    *http.Client
	registry *Registry
	log      zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewClient(cfg ClientConfig) (*Client, error) {
	sessCfg := cfg.Session.WithDefaults()
	c := &Client{
		cfg: sessCfg,
		log: observability.Component("mcp"),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if cfg.HTTPClient != nil {
		c.stream = cfg.HTTPClient
		c.calls = cfg.HTTPClient
	} else {
		tlsCfg, err := sessCfg.TLS.ClientConfig()
		if err != nil {
			return nil, err
		}
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   sessCfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:     tlsCfg,
			TLSHandshakeTimeout: sessCfg.ConnectTimeout,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		}
		c.stream = &http.Client{Transport: transport}
		c.calls = &http.Client{Transport: transport, Timeout: sessCfg.CallTimeout}
	}

	c.registry = NewRegistry(c.handshake)
	return c, nil
}

// Invoke calls a named tool with arguments and returns the raw result.
func (c *Client) Invoke(ctx context.Context, address, credential, tool string, args map[string]any) (json.RawMessage, error) {
	name := strings.TrimSpace(tool)
	if name == "" {
		return nil, ErrToolNameRequired
	}
	if args == nil {
		args = map[string]any{}
	}
	return c.Call(ctx, address, credential, jsonrpc.MethodToolsCall, jsonrpc.CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

// ListTools returns the tools the service reports. Absent or malformed
// result shapes yield an empty slice.
func (c *Client) ListTools(ctx context.Context, address, credential string) ([]jsonrpc.ToolDescriptor, error) {
	raw, err := c.Call(ctx, address, credential, jsonrpc.MethodToolsList, struct{}{})
	if err != nil {
		return nil, err
	}
	return jsonrpc.DecodeToolList(raw), nil
}

// Probe checks address and credential on a dedicated session that never
// enters the cache, then closes it. A cached session for address is neither
// used nor disturbed, so the credential is always presented on a fresh
// handshake.
func (c *Client) Probe(ctx context.Context, address, credential string) ([]jsonrpc.ToolDescriptor, error) {
	server := normalizeAddress(address)
	if server == "" {
		return nil, ErrAddressRequired
	}
	s, err := c.handshake(ctx, server, credential, nil)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	raw, err := c.exchange(ctx, s, jsonrpc.MethodToolsList, struct{}{})
	if err != nil {
		return nil, err
	}
	return jsonrpc.DecodeToolList(raw), nil
}

// Invalidate forces the next call to address to negotiate a new session.
func (c *Client) Invalidate(address string) {
	c.registry.Invalidate(address)
}

func (c *Client) Sessions() []SessionInfo {
	return c.registry.Sessions()
}

func (c *Client) Registry() *Registry {
	return c.registry
}

func (c *Client) Close() error {
	c.registry.Close()
	return nil
}

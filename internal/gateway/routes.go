package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/mcpbridge/internal/config"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// defaultServer addresses the catalog's default entry in server routes.
const defaultServer = "default"

type invokeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

type probeRequest struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

func (g *Gateway) registerRoutes() {
	r := g.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(g.Appeared).String(),
			"component": g.ID,
			"version":   "0.1.0",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		enabled := len(g.Catalog().Enabled())
		status := http.StatusOK
		if enabled == 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":     enabled > 0,
			"servers":   enabled,
			"uptime":    time.Since(g.Appeared).String(),
			"component": g.ID,
		})
	})

	r.GET("/servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"servers": config.Summaries(g.Catalog(), g.connected()),
		})
	})

	r.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": g.client.Sessions(),
		})
	})

	r.POST("/servers/test", g.handleProbe)

	r.GET("/servers/:server/tools", func(c *gin.Context) {
		srv, err := g.resolve(c.Param("server"))
		if err != nil {
			respondError(c, err)
			return
		}
		tools, err := g.client.ListTools(c.Request.Context(), srv.URL, srv.APIKey)
		if err != nil {
			g.logFailure(srv.Name, jsonrpc.MethodToolsList, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"server": srv.Name,
			"tools":  tools,
		})
	})

	r.POST("/servers/:server/tools/:tool", func(c *gin.Context) {
		srv, err := g.resolve(c.Param("server"))
		if err != nil {
			respondError(c, err)
			return
		}
		var body invokeRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				respondError(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
				return
			}
		}
		tool := c.Param("tool")
		raw, err := g.client.Invoke(c.Request.Context(), srv.URL, srv.APIKey, tool, body.Arguments)
		if err != nil {
			g.logFailure(srv.Name, tool, err)
			respondError(c, err)
			return
		}
		resp := gin.H{
			"server": srv.Name,
			"tool":   tool,
			"result": rawOrNull(raw),
		}
		if res, err := jsonrpc.DecodeToolResult(raw); err == nil {
			resp["text"] = res.Text()
			resp["is_error"] = res.IsError
		}
		c.JSON(http.StatusOK, resp)
	})

	r.DELETE("/servers/:server/session", func(c *gin.Context) {
		srv, ok := g.Catalog().Lookup(c.Param("server"))
		if !ok {
			respondError(c, ErrServerNotFound)
			return
		}
		g.client.Invalidate(srv.URL)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "server": srv.Name})
	})
}

// handleProbe checks a url and api key pair by listing tools over a fresh
// handshake, so a cached session never vouches for the key.
func (g *Gateway) handleProbe(c *gin.Context) {
	var body probeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	candidate := config.ServerConfig{Name: "probe", URL: strings.TrimRight(strings.TrimSpace(body.URL), "/")}
	if err := config.ValidateServer(candidate); err != nil {
		respondError(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	start := time.Now()
	tools, err := g.client.Probe(c.Request.Context(), candidate.URL, body.APIKey)
	if err != nil {
		respondError(c, err)
		return
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"url":     candidate.URL,
		"tools":   names,
		"latency": time.Since(start).String(),
	})
}

func (g *Gateway) resolve(name string) (config.ServerConfig, error) {
	cat := g.Catalog()
	var (
		srv config.ServerConfig
		ok  bool
	)
	if strings.EqualFold(strings.TrimSpace(name), defaultServer) {
		srv, ok = cat.Default()
		if !ok {
			return config.ServerConfig{}, fmt.Errorf("%w: no enabled default", ErrServerNotFound)
		}
		return srv, nil
	}
	srv, ok = cat.Lookup(name)
	if !ok {
		return config.ServerConfig{}, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	if !srv.IsEnabled() {
		return config.ServerConfig{}, fmt.Errorf("%w: %s", ErrServerDisabled, name)
	}
	return srv, nil
}

func (g *Gateway) connected() func(string) bool {
	live := make(map[string]struct{})
	for _, s := range g.client.Sessions() {
		live[s.Address] = struct{}{}
	}
	return func(url string) bool {
		_, ok := live[url]
		return ok
	}
}

func (g *Gateway) logFailure(server, op string, err error) {
	log.Warn().
		Str("gateway", g.ID).
		Str("server", server).
		Str("op", op).
		Int("status", statusFor(err)).
		Err(err).
		Msg("tool request failed")
}

// rawOrNull keeps an absent result from encoding as an empty string.
func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

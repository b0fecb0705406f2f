// Package gateway exposes the tool client over HTTP for collaborators that
// cannot link the Go package directly.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danmuck/mcpbridge/internal/config"
	"github.com/danmuck/mcpbridge/internal/mcp"
	"github.com/danmuck/mcpbridge/internal/node"
	"github.com/danmuck/mcpbridge/internal/observability"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ToolClient is the subset of *mcp.Client the gateway drives.
type ToolClient interface {
	Invoke(ctx context.Context, address, credential, tool string, args map[string]any) (json.RawMessage, error)
	ListTools(ctx context.Context, address, credential string) ([]jsonrpc.ToolDescriptor, error)
	Probe(ctx context.Context, address, credential string) ([]jsonrpc.ToolDescriptor, error)
	Invalidate(address string)
	Sessions() []mcp.SessionInfo
}

type Gateway struct {
	ID       string
	Addr     string
	Appeared time.Time

	client  ToolClient
	catalog atomic.Pointer[config.Catalog]
	router  *gin.Engine
}

var _ node.Node = (*Gateway)(nil)

func New(id, addr string, corsOrigins []string, client ToolClient, catalog config.Catalog) *Gateway {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	g := &Gateway{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		client:   client,
		router:   r,
	}
	g.SetCatalog(catalog)
	g.registerRoutes()
	return g
}

func (g *Gateway) NodeID() string {
	return g.ID
}

func (g *Gateway) Kind() string {
	return "gateway"
}

func (g *Gateway) HTTPRouter() *gin.Engine {
	return g.router
}

// SetCatalog swaps the server catalog. In-flight requests keep the catalog
// they started with.
func (g *Gateway) SetCatalog(c config.Catalog) {
	g.catalog.Store(&c)
}

func (g *Gateway) Catalog() config.Catalog {
	if c := g.catalog.Load(); c != nil {
		return *c
	}
	return config.Catalog{}
}

// Serve listens on Addr until ctx ends, then drains for up to five seconds.
func (g *Gateway) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.Addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("gateway", g.ID).Str("addr", g.Addr).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

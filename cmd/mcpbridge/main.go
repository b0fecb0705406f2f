package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/mcpbridge/internal/config"
	"github.com/danmuck/mcpbridge/internal/gateway"
	"github.com/danmuck/mcpbridge/internal/logging"
	"github.com/danmuck/mcpbridge/internal/mcp"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "cmd/mcpbridge/config.toml", "bridge config path")
	addr := flag.String("addr", "", "listen address override")
	flag.Parse()

	logging.ConfigureRuntime()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, *configPath, *addr)
	stop()
	if err != nil {
		log.Fatal().Err(err).Msg("mcpbridge stopped")
	}
	log.Info().Msg("mcpbridge stopped")
}

// run serves the gateway until ctx ends or a component fails. Sessions are
// closed before it returns.
func run(ctx context.Context, configPath, addrOverride string) error {
	cfg, err := loadBridgeConfig(configPath)
	if err != nil {
		return fmt.Errorf("load bridge config: %w", err)
	}
	if addrOverride != "" {
		cfg.Addr = addrOverride
	}
	log.Info().Str("path", configPath).Str("catalog", cfg.CatalogPath).Msg("loaded bridge config")

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load server catalog: %w", err)
	}

	client, err := mcp.NewClient(cfg.Client)
	if err != nil {
		return fmt.Errorf("build tool client: %w", err)
	}
	defer client.Close()

	gw := gateway.New(cfg.Name, cfg.Addr, cfg.CorsOrigins, client, catalog)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.WatchCatalog {
		g.Go(func() error {
			return config.Watch(ctx, cfg.CatalogPath, func(next config.Catalog) {
				dropRemovedSessions(client, gw.Catalog(), next)
				gw.SetCatalog(next)
			})
		})
	}
	g.Go(func() error {
		return gw.Serve(ctx)
	})

	log.Info().
		Str("id", cfg.Name).
		Str("addr", cfg.Addr).
		Int("servers", len(catalog.Servers)).
		Msg("mcpbridge started")
	return g.Wait()
}

// dropRemovedSessions closes sessions for addresses that left the catalog or
// whose credentials changed.
func dropRemovedSessions(client *mcp.Client, prev, next config.Catalog) {
	keep := make(map[string]string, len(next.Servers))
	for _, srv := range next.Servers {
		if srv.IsEnabled() {
			keep[srv.URL] = srv.APIKey
		}
	}
	for _, srv := range prev.Servers {
		if key, ok := keep[srv.URL]; !ok || key != srv.APIKey {
			client.Invalidate(srv.URL)
		}
	}
}

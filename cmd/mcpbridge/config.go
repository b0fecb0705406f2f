package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/mcpbridge/internal/mcp"
)

type bridgeConfig struct {
	Name         string
	Addr         string
	CatalogPath  string
	WatchCatalog bool
	CorsOrigins  []string
	Client       mcp.ClientConfig
}

type sessionSection struct {
	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	CallTimeout      string `toml:"call_timeout"`
	MaxResponseBytes int64  `toml:"max_response_bytes"`
	RetryDelay       string `toml:"retry_delay"`
}

type tlsSection struct {
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileConfig struct {
	Name        string         `toml:"name"`
	Addr        string         `toml:"addr"`
	Catalog     string         `toml:"catalog"`
	Watch       bool           `toml:"watch"`
	CorsOrigins []string       `toml:"cors_origins"`
	Session     sessionSection `toml:"session"`
	TLS         tlsSection     `toml:"tls"`
}

func defaultBridgeConfig() bridgeConfig {
	return bridgeConfig{
		Name:         "mcpbridge",
		Addr:         ":9200",
		CatalogPath:  "cmd/mcpbridge/servers.toml",
		WatchCatalog: true,
		Client:       mcp.DefaultClientConfig(),
	}
}

// loadBridgeConfig overlays keys present in path onto the defaults. A
// relative catalog path is resolved against the config file's directory.
func loadBridgeConfig(path string) (bridgeConfig, error) {
	cfg := defaultBridgeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return bridgeConfig{}, fmt.Errorf("load bridge config: %w", err)
	}

	if meta.IsDefined("name") {
		if v := strings.TrimSpace(raw.Name); v != "" {
			cfg.Name = v
		}
	}
	if meta.IsDefined("addr") {
		if v := strings.TrimSpace(raw.Addr); v != "" {
			cfg.Addr = v
		}
	}
	if meta.IsDefined("catalog") {
		v := strings.TrimSpace(raw.Catalog)
		if v != "" && !filepath.IsAbs(v) {
			v = filepath.Join(filepath.Dir(path), v)
		}
		cfg.CatalogPath = v
	}
	if meta.IsDefined("watch") {
		cfg.WatchCatalog = raw.Watch
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	sess := &cfg.Client.Session
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.Session.ConnectTimeout, &sess.ConnectTimeout},
		{"handshake_timeout", raw.Session.HandshakeTimeout, &sess.HandshakeTimeout},
		{"call_timeout", raw.Session.CallTimeout, &sess.CallTimeout},
		{"retry_delay", raw.Session.RetryDelay, &sess.Backoff.InitialDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return bridgeConfig{}, fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		if v < 0 {
			return bridgeConfig{}, fmt.Errorf("session.%s must not be negative", d.key)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "max_response_bytes") {
		sess.MaxResponseBytes = raw.Session.MaxResponseBytes
	}

	if meta.IsDefined("tls") {
		sess.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
		sess.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
		sess.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
		sess.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
		sess.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
		if err := sess.TLS.Validate(); err != nil {
			return bridgeConfig{}, fmt.Errorf("tls: %w", err)
		}
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ServerConfig is one tool service the bridge can reach.
type ServerConfig struct {
	Name    string `toml:"name" yaml:"name"`
	URL     string `toml:"url" yaml:"url"`
	APIKey  string `toml:"api_key" yaml:"api_key"`
	Enabled *bool  `toml:"enabled" yaml:"enabled"`
	Default bool   `toml:"default" yaml:"default"`
}

// IsEnabled treats an absent flag as enabled.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Catalog is the set of configured tool services.
type Catalog struct {
	Servers []ServerConfig `toml:"servers" yaml:"servers"`
}

// LoadCatalog reads a catalog file. YAML is chosen by .yaml/.yml extension;
// anything else is parsed as TOML.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cat, err := ParseCatalog(data, filepath.Ext(path))
	if err != nil {
		return Catalog{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes and validates catalog bytes. ext selects the format.
func ParseCatalog(data []byte, ext string) (Catalog, error) {
	var cat Catalog
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return Catalog{}, err
		}
	default:
		if err := toml.Unmarshal(data, &cat); err != nil {
			return Catalog{}, err
		}
	}
	cat.normalize()
	if err := ValidateCatalog(cat); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

func (c *Catalog) normalize() {
	for i := range c.Servers {
		c.Servers[i].Name = strings.TrimSpace(c.Servers[i].Name)
		c.Servers[i].URL = strings.TrimRight(strings.TrimSpace(c.Servers[i].URL), "/")
		c.Servers[i].APIKey = strings.TrimSpace(c.Servers[i].APIKey)
	}
}

func ValidateCatalog(c Catalog) error {
	seen := make(map[string]struct{}, len(c.Servers))
	defaults := 0
	for i, srv := range c.Servers {
		if err := ValidateServer(srv); err != nil {
			return fmt.Errorf("server[%d] invalid: %w", i, err)
		}
		key := strings.ToLower(srv.Name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("server[%d] invalid: duplicate name %q", i, srv.Name)
		}
		seen[key] = struct{}{}
		if srv.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("catalog has %d default servers; at most one allowed", defaults)
	}
	return nil
}

func ValidateServer(s ServerConfig) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	raw := strings.TrimSpace(s.URL)
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

// Lookup finds a server by case-insensitive name.
func (c Catalog) Lookup(name string) (ServerConfig, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, srv := range c.Servers {
		if strings.ToLower(srv.Name) == key {
			return srv, true
		}
	}
	return ServerConfig{}, false
}

// Default returns the flagged default when enabled, else the first enabled
// server.
func (c Catalog) Default() (ServerConfig, bool) {
	for _, srv := range c.Servers {
		if srv.Default && srv.IsEnabled() {
			return srv, true
		}
	}
	for _, srv := range c.Servers {
		if srv.IsEnabled() {
			return srv, true
		}
	}
	return ServerConfig{}, false
}

func (c Catalog) Enabled() []ServerConfig {
	out := make([]ServerConfig, 0, len(c.Servers))
	for _, srv := range c.Servers {
		if srv.IsEnabled() {
			out = append(out, srv)
		}
	}
	return out
}

package config

// ServerSummary is the catalog entry exposed over the gateway. The API key
// is never included.
type ServerSummary struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Enabled   bool   `json:"enabled"`
	Default   bool   `json:"default"`
	HasAPIKey bool   `json:"has_api_key"`
	Connected bool   `json:"connected"`
}

// Summaries converts the catalog for display. connected reports whether a
// live session exists for a base URL.
func Summaries(c Catalog, connected func(url string) bool) []ServerSummary {
	def, hasDefault := c.Default()
	out := make([]ServerSummary, 0, len(c.Servers))
	for _, srv := range c.Servers {
		sum := ServerSummary{
			Name:      srv.Name,
			URL:       srv.URL,
			Enabled:   srv.IsEnabled(),
			Default:   hasDefault && srv.Name == def.Name,
			HasAPIKey: srv.APIKey != "",
		}
		if connected != nil {
			sum.Connected = connected(srv.URL)
		}
		out = append(out, sum)
	}
	return out
}

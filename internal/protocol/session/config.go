package session

import (
	"time"

	"github.com/danmuck/mcpbridge/internal/protocol/sse"
)

// BackoffConfig defines the delay applied before a retried call.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	// MaxResponseBytes bounds the inline POST acknowledgment body.
	MaxResponseBytes int64
	Frames           sse.Limits
	Backoff          BackoffConfig
	TLS              TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 15 * time.Second,
		CallTimeout:      30 * time.Second,
		MaxResponseBytes: 8 * 1024 * 1024,
		Frames:           sse.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero durations and limits. Backoff is left alone so a
// zero InitialDelay can disable the retry delay.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = def.MaxResponseBytes
	}
	if c.Frames.MaxLineBytes <= 0 {
		c.Frames.MaxLineBytes = def.Frames.MaxLineBytes
	}
	if c.Frames.MaxFrameBytes <= 0 {
		c.Frames.MaxFrameBytes = def.Frames.MaxFrameBytes
	}
	return c
}

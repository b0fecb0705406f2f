// Package session holds the client-side session primitives shared by the
// MCP transport: tunables and defaults, retry backoff, TLS settings for the
// HTTP transport, and the pending-call table that correlates out-of-band
// responses to in-flight calls.
//
// Ownership boundary:
// - pending call registration, fulfillment and expiry
// - session timeouts and retry delay
// - transport security settings
//
// The table never performs I/O; the mcp package owns the event stream and
// feeds fulfillments in.
package session

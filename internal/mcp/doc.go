// Package mcp is a client for tool-invocation services that speak the
// split-channel SSE transport: calls are POSTed to a per-session address
// while responses, and the address itself, arrive on a long-lived event
// stream.
//
// Ownership boundary:
// - session registry (one live session per base address)
// - handshake and the per-session stream read loop
// - call correlation, timeouts and the single stale-session retry
//
// Lifecycle order:
// - Registry.Get -> handshake -> read loop
// - Call -> register pending -> POST -> inline ack or message frame
// - stream close or Invalidate -> evict -> pending calls fail with ErrSessionClosed
// - timeout or stale session -> retire -> close once in-flight calls settle
//
// Collaborators use Client.Invoke and Client.ListTools. Client.Probe checks
// a credential on a throwaway session.
package mcp

// Package session owns establishment of the single peer stream.
//
// Ownership boundary:
// - transport timeouts and frame limits
// - client dial with bounded retry/backoff
// - server accept of exactly one peer
//
// Once a stream is handed out, its failures are final: the session layer
// never reconnects.
package session

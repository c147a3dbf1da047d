// Package bridge wires a host's variables to one framed peer connection.
//
// Startup is an explicit phase: every binding names a wire variant and the
// host variable it maps to; Claim takes each variable out of the host
// registry with its expected kind and direction, binds it to the dispatcher,
// and (in strict mode) fails when the host still has unclaimed variables.
package bridge

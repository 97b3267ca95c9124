// Package relayerr names the error taxonomy shared across the relay's
// core: which failures are scoped to a single peer or connection, and
// which are fatal to the listener.
package relayerr

import "errors"

// ErrProtocol marks a malformed inbound introduction message (bad JSON or
// a document of the wrong shape). The introduction connection that produced it
// is closed; no other peer is affected.
var ErrProtocol = errors.New("relay: malformed introduction message")

// ErrPeerGone marks a send attempt to a peer that is no longer registered,
// the race between a match being discovered and that peer disconnecting.
// Callers log and continue; it never escalates.
var ErrPeerGone = errors.New("relay: peer no longer registered")

// ErrBind marks a failure to acquire the listener's port. The process
// logs it and exits with a non-zero status; it is not retried.
var ErrBind = errors.New("relay: listener bind failed")

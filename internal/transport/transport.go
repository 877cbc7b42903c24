// Package transport carries opaque registration requests to the registrar.
// The registrar is typically reachable only as a hidden service through a
// local anonymizing proxy daemon, so delivery is at-most-once per attempt and
// the channel may be down for long stretches.
package transport

import "context"

// Transport sends one opaque request and returns the opaque response. An
// error means the attempt failed (unreachable, timeout); the caller decides
// whether to retry. No delivery guarantee survives a returned error: the
// request may or may not have reached the registrar, which is why the
// registrar treats duplicates idempotently.
type Transport interface {
	Send(ctx context.Context, requestBytes []byte) ([]byte, error)
}

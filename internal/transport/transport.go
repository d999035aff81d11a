// Package transport defines the message transport contract shared by the
// gossip subsystems. Delivery is fire-and-forget: every Send writes one
// message to the target over its own connection, and inbound messages
// arrive through the registered handler. Replies travel as new sends in
// the opposite direction, never on the same connection.
package transport

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/strombase/strom/internal/address"
)

// ErrNetwork marks transient connect, write, or timeout failures. A
// marked send aborts only the current message; the caller retries on its
// next scheduled round, never immediately.
var ErrNetwork = errors.New("transport: network failure")

// ErrChannelClosed marks delivery into a subsystem that has shut down.
// The dispatcher logs and drops the message; the accept loop survives.
var ErrChannelClosed = errors.New("transport: subsystem channel closed")

// Transport moves messages of one kind between nodes.
type Transport[M any] interface {
	// Send writes msg to the node at target, returning the number of
	// bytes written. Connect and write are bounded by the transport's
	// timeout; failures are marked ErrNetwork.
	Send(ctx context.Context, target address.Address, msg M) (int, error)
	// Handle registers the handler invoked for every inbound message.
	// The handler must not block; an ErrChannelClosed return signals the
	// owning subsystem is gone.
	Handle(handler func(ctx context.Context, sender address.Address, msg M) error)
}

package strom

import (
	"context"

	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/transport"
	"github.com/strombase/strom/internal/wire"
)

// Transport bundles the per-subsystem message transports the gossip
// layer exchanges. Implemented over TCP by transport/tcp and in memory
// by the mock package.
type Transport interface {
	// Sampling carries membership exchanges.
	Sampling() transport.Transport[wire.Sampling]
	// Headers carries change-diff negotiation.
	Headers() transport.Transport[wire.Header]
	// Contents carries change payloads.
	Contents() transport.Transport[wire.Content]
	// Configure binds the transport to the host address and starts
	// serving inbound messages until ctx is cancelled. It must be called
	// before any of the accessors above are wired to a subsystem.
	Configure(ctx context.Context, host address.Address) error
}

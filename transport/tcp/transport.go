// Package tcp implements the gossip transport over raw TCP: every Send
// serializes one envelope and writes it over a freshly established
// connection, bounded by a fixed connect+write timeout. No connections
// are pooled or reused; the cost of a handshake per message is an
// explicit trade for simple failure reasoning. Inbound connections carry
// exactly one length-prefixed envelope each, decoded under an admission
// semaphore and routed to the owning subsystem by the dispatcher.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/transport"
	"github.com/strombase/strom/internal/wire"
	"go.uber.org/zap"
)

type Config struct {
	// Timeout bounds connect plus write on the client side and the
	// frame read on the server side.
	Timeout time.Duration
	// MaxInflight bounds concurrently serviced inbound connections,
	// providing backpressure under peer churn or hostile flooding.
	MaxInflight int64
	Logger      *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxInflight == 0 {
		cfg.MaxInflight = def.MaxInflight
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{
		Timeout:     5 * time.Second,
		MaxInflight: 64,
		Logger:      zap.NewNop(),
	}
}

// Transport bundles the per-subsystem transports over one listener and
// one client configuration.
type Transport struct {
	cfg      Config
	host     address.Address
	sampling *unary[wire.Sampling]
	headers  *unary[wire.Header]
	contents *unary[wire.Content]
}

func New(cfg Config) *Transport {
	t := &Transport{cfg: cfg.Merge(DefaultConfig())}
	t.sampling = &unary[wire.Sampling]{
		core: t,
		wrap: func(from address.Address, m wire.Sampling) wire.Envelope {
			return wire.Envelope{From: from, Sampling: &m}
		},
	}
	t.headers = &unary[wire.Header]{
		core: t,
		wrap: func(from address.Address, m wire.Header) wire.Envelope {
			return wire.Envelope{From: from, Header: &m}
		},
	}
	t.contents = &unary[wire.Content]{
		core: t,
		wrap: func(from address.Address, m wire.Content) wire.Envelope {
			return wire.Envelope{From: from, Content: &m}
		},
	}
	return t
}

func (t *Transport) Sampling() transport.Transport[wire.Sampling] { return t.sampling }

func (t *Transport) Headers() transport.Transport[wire.Header] { return t.headers }

func (t *Transport) Contents() transport.Transport[wire.Content] { return t.contents }

// Configure binds the listener for host and starts the accept loop. The
// listener closes when ctx is cancelled.
func (t *Transport) Configure(ctx context.Context, host address.Address) error {
	t.host = host
	lis, err := net.Listen("tcp", host.PortString())
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "tcp: listen on %s", host), transport.ErrNetwork)
	}
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()
	go t.serve(ctx, lis)
	return nil
}

// send writes a single encoded envelope over a fresh connection.
func (t *Transport) send(ctx context.Context, target address.Address, env wire.Envelope) (int, error) {
	frame, err := wire.Encode(env)
	if err != nil {
		return 0, err
	}
	dialer := net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "tcp: connect %s", target), transport.ErrNetwork)
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
		return 0, errors.Mark(err, transport.ErrNetwork)
	}
	written, err := conn.Write(frame)
	if err != nil {
		return written, errors.Mark(errors.Wrapf(err, "tcp: write to %s", target), transport.ErrNetwork)
	}
	return written, nil
}

// unary adapts the shared core to one message type.
type unary[M any] struct {
	core    *Transport
	wrap    func(from address.Address, m M) wire.Envelope
	mu      sync.RWMutex
	handler func(ctx context.Context, sender address.Address, msg M) error
}

func (u *unary[M]) Send(ctx context.Context, target address.Address, msg M) (int, error) {
	return u.core.send(ctx, target, u.wrap(u.core.host, msg))
}

func (u *unary[M]) Handle(handler func(ctx context.Context, sender address.Address, msg M) error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = handler
}

// deliver hands an inbound message to the registered handler.
func (u *unary[M]) deliver(ctx context.Context, sender address.Address, msg M) error {
	u.mu.RLock()
	handler := u.handler
	u.mu.RUnlock()
	if handler == nil {
		return transport.ErrChannelClosed
	}
	return handler(ctx, sender, msg)
}
